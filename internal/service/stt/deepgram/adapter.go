// Package deepgram provides a Deepgram pre-recorded transcriber. Each call
// uploads the session window as raw linear16 audio and maps the returned
// word timings onto a hypothesis.
package deepgram

import (
	"bytes"
	"context"
	"strings"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"realtime-stt-gateway/internal/models"
	"realtime-stt-gateway/internal/service/stt"
	"realtime-stt-gateway/internal/service/window"
)

// Config holds Deepgram settings.
type Config struct {
	APIKey      string `mapstructure:"api_key"`
	Model       string `mapstructure:"model"`
	Language    string `mapstructure:"language"`
	Punctuation bool   `mapstructure:"punctuation"`
}

// DefaultConfig returns nova-2 English with punctuation.
func DefaultConfig() Config {
	return Config{
		Model:       "nova-2",
		Language:    "en",
		Punctuation: true,
	}
}

// Adapter implements stt.Transcriber on the Deepgram REST API.
type Adapter struct {
	dg  *api.Client
	cfg Config
}

// New creates a Deepgram transcriber. An empty API key makes the SDK fall
// back to DEEPGRAM_API_KEY.
func New(cfg Config) *Adapter {
	def := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Language == "" {
		cfg.Language = def.Language
	}
	c := client.NewREST(cfg.APIKey, &interfaces.ClientOptions{})
	return &Adapter{dg: api.New(c), cfg: cfg}
}

// Name implements stt.Transcriber.
func (a *Adapter) Name() string { return stt.ProviderDeepgram }

// Close implements stt.Transcriber.
func (a *Adapter) Close() error { return nil }

// Transcribe implements stt.Transcriber.
func (a *Adapter) Transcribe(ctx context.Context, audio []byte, prompt string) (models.Hypothesis, error) {
	if len(audio) == 0 {
		return nil, nil
	}
	res, err := a.dg.FromStream(ctx, bytes.NewReader(audio), transcriptionOptions(a.cfg))
	if err != nil {
		return nil, stt.Wrap(stt.ProviderDeepgram, err)
	}
	if res == nil || res.Results == nil || len(res.Results.Channels) == 0 {
		return nil, nil
	}
	alts := res.Results.Channels[0].Alternatives
	if len(alts) == 0 {
		return nil, nil
	}

	hyp := make(models.Hypothesis, 0, len(alts[0].Words))
	for _, w := range alts[0].Words {
		hyp = append(hyp, models.Word{
			Text:       pickText(w.PunctuatedWord, w.Word),
			Start:      w.Start,
			End:        w.End,
			Confidence: w.Confidence,
		})
	}
	return hyp, nil
}

func transcriptionOptions(cfg Config) *interfaces.PreRecordedTranscriptionOptions {
	return &interfaces.PreRecordedTranscriptionOptions{
		Model:      cfg.Model,
		Language:   cfg.Language,
		Punctuate:  cfg.Punctuation,
		Encoding:   "linear16",
		SampleRate: window.SampleRate,
		Channels:   window.Channels,
	}
}

func pickText(punctuated, raw string) string {
	if p := strings.TrimSpace(punctuated); p != "" {
		return p
	}
	return strings.TrimSpace(raw)
}
