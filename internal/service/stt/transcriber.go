// Package stt defines the recognizer contract used by stream sessions.
package stt

import (
	"context"
	"fmt"

	"realtime-stt-gateway/internal/models"
)

// Transcriber turns a buffer of 16 kHz mono 16-bit PCM into word hypotheses.
// Word timestamps are relative to the start of the buffer.
//
// Implementations are shared by every seat of a pool and must be safe for
// concurrent use.
type Transcriber interface {
	// Transcribe blocks until the buffer is recognized. prompt carries
	// previously committed text and may be empty or ignored.
	Transcribe(ctx context.Context, audio []byte, prompt string) (models.Hypothesis, error)

	// Name identifies the provider in logs and metrics.
	Name() string

	// Close releases provider resources.
	Close() error
}

// Provider names accepted in pool configuration.
const (
	ProviderMock     = "mock"
	ProviderGoogle   = "google"
	ProviderDeepgram = "deepgram"
)

// Error wraps a provider failure with the provider name.
type Error struct {
	Provider string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("stt %s: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap returns err annotated with the provider, or nil.
func Wrap(provider string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Provider: provider, Err: err}
}
