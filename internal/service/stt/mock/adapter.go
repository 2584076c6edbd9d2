// Package mock provides a deterministic Transcriber for local runs and tests
// without recognizer credentials.
//
// The mock reads a scripted transcript at a fixed speaking rate: every
// WordDuration of audio in the buffer yields the next script word, placed at
// its slot relative to the buffer start. A trailing slot that is at least
// half full yields a truncated guess, so consecutive calls disagree on the
// tail exactly as a real recognizer does while a word is still being spoken.
package mock

import (
	"context"
	"strings"
	"time"

	"realtime-stt-gateway/internal/models"
	"realtime-stt-gateway/internal/service/stt"
	"realtime-stt-gateway/internal/service/window"
)

// SimulatedUtterance is one scripted sentence.
type SimulatedUtterance struct {
	Text       string
	Confidence float64
}

// DefaultUtterances provides sample sentences for simulation.
var DefaultUtterances = []SimulatedUtterance{
	{Text: "I want to cancel my subscription.", Confidence: 0.94},
	{Text: "Yes please go ahead.", Confidence: 0.97},
	{Text: "Can you help me with my account?", Confidence: 0.91},
	{Text: "I've been waiting for over an hour.", Confidence: 0.89},
	{Text: "Thank you very much!", Confidence: 0.98},
}

// Config controls the simulated recognizer.
type Config struct {
	WordDuration float64       `mapstructure:"word_duration"` // seconds of audio per word
	Latency      time.Duration `mapstructure:"latency"`       // simulated processing time
	Utterances   []string      `mapstructure:"utterances"`    // overrides DefaultUtterances
}

// DefaultConfig returns a 0.4s-per-word mock with no latency.
func DefaultConfig() Config {
	return Config{WordDuration: 0.4}
}

type scriptWord struct {
	text       string
	confidence float64
}

// Adapter implements stt.Transcriber with scripted output. It holds no
// mutable state and is safe for concurrent use.
type Adapter struct {
	cfg    Config
	script []scriptWord
}

// New creates a mock transcriber.
func New(cfg Config) *Adapter {
	if cfg.WordDuration <= 0 {
		cfg.WordDuration = DefaultConfig().WordDuration
	}
	utterances := DefaultUtterances
	if len(cfg.Utterances) > 0 {
		utterances = make([]SimulatedUtterance, 0, len(cfg.Utterances))
		for _, u := range cfg.Utterances {
			utterances = append(utterances, SimulatedUtterance{Text: u, Confidence: 0.9})
		}
	}

	var script []scriptWord
	for _, u := range utterances {
		for _, f := range strings.Fields(u.Text) {
			script = append(script, scriptWord{text: f, confidence: u.Confidence})
		}
	}
	return &Adapter{cfg: cfg, script: script}
}

// Name implements stt.Transcriber.
func (a *Adapter) Name() string { return stt.ProviderMock }

// Close implements stt.Transcriber.
func (a *Adapter) Close() error { return nil }

// Transcribe implements stt.Transcriber.
func (a *Adapter) Transcribe(ctx context.Context, audio []byte, prompt string) (models.Hypothesis, error) {
	if a.cfg.Latency > 0 {
		timer := time.NewTimer(a.cfg.Latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if len(a.script) == 0 || len(audio) == 0 {
		return nil, nil
	}

	d := a.cfg.WordDuration
	total := window.Duration(len(audio))
	slots := int(total / d)

	hyp := make(models.Hypothesis, 0, slots+1)
	for i := 0; i < slots; i++ {
		sw := a.script[i%len(a.script)]
		hyp = append(hyp, models.Word{
			Text:       sw.text,
			Start:      float64(i) * d,
			End:        float64(i+1) * d,
			Confidence: sw.confidence,
		})
	}

	if rest := total - float64(slots)*d; rest >= d/2 {
		sw := a.script[slots%len(a.script)]
		hyp = append(hyp, models.Word{
			Text:       guess(sw.text),
			Start:      float64(slots) * d,
			End:        total,
			Confidence: sw.confidence / 2,
		})
	}
	return hyp, nil
}

func guess(text string) string {
	r := []rune(strings.TrimRight(text, ".,?!"))
	if len(r) <= 2 {
		return string(r) + "-"
	}
	return string(r[:len(r)/2+1]) + "-"
}
