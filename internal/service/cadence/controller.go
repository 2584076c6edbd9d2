// Package cadence decides when a session re-transcribes its window and when
// it commits confirmed words as a final, and adapts the re-transcription
// interval to the observed recognizer latency.
package cadence

import (
	"time"

	"realtime-stt-gateway/internal/service/window"
)

// Config holds the tunables of a Controller.
type Config struct {
	InitialPartialBytes int     // partial threshold before any adaptation
	MarginSeconds       float64 // audio added on top of the measured run time
	FinalMultiplier     float64 // final staleness = partial interval x multiplier
	FinalWordThreshold  int     // publish once more confirmed words than this
}

// DefaultConfig returns the standard cadence settings.
func DefaultConfig() Config {
	return Config{
		InitialPartialBytes: window.BytesPerSecond,
		MarginSeconds:       0.25,
		FinalMultiplier:     5,
		FinalWordThreshold:  6,
	}
}

// Controller is owned by one session and is not safe for concurrent use.
type Controller struct {
	cfg Config

	partialThresholdBytes int
	finalThresholdSeconds float64
	bytesSinceLastPartial int
	lastPartialAt         time.Time
	lastFinalAt           time.Time
}

// New returns a controller whose clocks start at now.
func New(cfg Config, now time.Time) *Controller {
	def := DefaultConfig()
	if cfg.InitialPartialBytes <= 0 {
		cfg.InitialPartialBytes = def.InitialPartialBytes
	}
	if cfg.MarginSeconds < 0 {
		cfg.MarginSeconds = def.MarginSeconds
	}
	if cfg.FinalMultiplier <= 0 {
		cfg.FinalMultiplier = def.FinalMultiplier
	}
	if cfg.FinalWordThreshold <= 0 {
		cfg.FinalWordThreshold = def.FinalWordThreshold
	}
	c := &Controller{
		cfg:           cfg,
		lastPartialAt: now,
		lastFinalAt:   now,
	}
	c.setPartialThreshold(cfg.InitialPartialBytes)
	return c
}

func (c *Controller) setPartialThreshold(n int) {
	c.partialThresholdBytes = n
	c.finalThresholdSeconds = window.Duration(n) * c.cfg.FinalMultiplier
}

// PartialThresholdBytes returns the current byte threshold for a partial run.
func (c *Controller) PartialThresholdBytes() int {
	return c.partialThresholdBytes
}

// PartialInterval returns the partial threshold expressed as audio time.
func (c *Controller) PartialInterval() time.Duration {
	return seconds(window.Duration(c.partialThresholdBytes))
}

// FinalThreshold returns how long a session may go without a final.
func (c *Controller) FinalThreshold() time.Duration {
	return seconds(c.finalThresholdSeconds)
}

// BytesSinceLastPartial returns the audio received since the last partial started.
func (c *Controller) BytesSinceLastPartial() int {
	return c.bytesSinceLastPartial
}

// AddBytes accounts for n newly received audio bytes.
func (c *Controller) AddBytes(n int) {
	c.bytesSinceLastPartial += n
}

// ShouldRunPartial reports whether enough audio, or enough wall-clock time,
// has accumulated since the last partial.
func (c *Controller) ShouldRunPartial(now time.Time) bool {
	if c.bytesSinceLastPartial >= c.partialThresholdBytes {
		return true
	}
	return now.Sub(c.lastPartialAt) >= c.PartialInterval()
}

// ShouldPublishFinal reports whether confirmed words should be committed.
func (c *Controller) ShouldPublishFinal(confirmedWords int, hasSentenceEnd bool, now time.Time) bool {
	if confirmedWords > c.cfg.FinalWordThreshold || hasSentenceEnd {
		return true
	}
	return now.Sub(c.lastFinalAt) >= c.FinalThreshold()
}

// MarkPartial resets the partial counters; called when a partial run starts.
func (c *Controller) MarkPartial(now time.Time) {
	c.bytesSinceLastPartial = 0
	c.lastPartialAt = now
}

// MarkFinal records that a final was published.
func (c *Controller) MarkFinal(now time.Time) {
	c.lastFinalAt = now
}

// RecordPartialRun adapts the partial threshold to the duration of a run.
// Runs on small windows that finished quickly are ignored, they say little
// about the cost of a full window.
func (c *Controller) RecordPartialRun(duration time.Duration, windowBytes, maxWindowBytes int) bool {
	took := duration.Seconds()
	if float64(windowBytes) < 0.75*float64(maxWindowBytes) && took < window.Duration(c.partialThresholdBytes) {
		return false
	}
	n := int((took + c.cfg.MarginSeconds) * window.BytesPerSecond)
	if rem := n % window.BytesPerSample; rem != 0 {
		n += window.BytesPerSample - rem
	}
	if n <= 0 {
		return false
	}
	c.setPartialThreshold(n)
	return true
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
