// Package google provides a Google Cloud Speech-to-Text transcriber.
package google

import (
	"context"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/protobuf/types/known/durationpb"

	"realtime-stt-gateway/internal/models"
	"realtime-stt-gateway/internal/service/stt"
	"realtime-stt-gateway/internal/service/window"
)

// maxHintWords bounds how much of the prompt is forwarded as phrase hints.
const maxHintWords = 10

// Config holds Google STT settings.
type Config struct {
	LanguageCode  string `mapstructure:"language_code"`
	SampleRateHz  int32  `mapstructure:"sample_rate_hz"`
	AudioEncoding string `mapstructure:"audio_encoding"`
	Model         string `mapstructure:"model"`
	Punctuation   bool   `mapstructure:"punctuation"`
}

// DefaultConfig returns the default configuration for the gateway audio contract.
func DefaultConfig() Config {
	return Config{
		LanguageCode:  "en-US",
		SampleRateHz:  window.SampleRate,
		AudioEncoding: "LINEAR16",
		Punctuation:   true,
	}
}

// Adapter implements stt.Transcriber using synchronous Recognize calls on
// the session window. The underlying client is safe for concurrent use.
type Adapter struct {
	client *speech.Client
	cfg    Config
}

// New creates a new Google STT transcriber.
// Requires GOOGLE_APPLICATION_CREDENTIALS environment variable to be set.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, stt.Wrap(stt.ProviderGoogle, err)
	}
	return &Adapter{client: c, cfg: withDefaults(cfg)}, nil
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.LanguageCode == "" {
		cfg.LanguageCode = def.LanguageCode
	}
	if cfg.SampleRateHz == 0 {
		cfg.SampleRateHz = def.SampleRateHz
	}
	if cfg.AudioEncoding == "" {
		cfg.AudioEncoding = def.AudioEncoding
	}
	return cfg
}

// Name implements stt.Transcriber.
func (a *Adapter) Name() string { return stt.ProviderGoogle }

// Transcribe implements stt.Transcriber.
func (a *Adapter) Transcribe(ctx context.Context, audio []byte, prompt string) (models.Hypothesis, error) {
	if len(audio) == 0 {
		return nil, nil
	}
	resp, err := a.client.Recognize(ctx, buildRequest(a.cfg, audio, prompt))
	if err != nil {
		return nil, stt.Wrap(stt.ProviderGoogle, err)
	}
	return wordsFromResponse(resp), nil
}

// Close implements stt.Transcriber.
func (a *Adapter) Close() error {
	if a.client != nil {
		return a.client.Close()
	}
	return nil
}

func buildRequest(cfg Config, audio []byte, prompt string) *speechpb.RecognizeRequest {
	rc := &speechpb.RecognitionConfig{
		Encoding:                   parseAudioEncoding(cfg.AudioEncoding),
		SampleRateHertz:            cfg.SampleRateHz,
		AudioChannelCount:          window.Channels,
		LanguageCode:               cfg.LanguageCode,
		Model:                      cfg.Model,
		EnableWordTimeOffsets:      true,
		EnableWordConfidence:       true,
		EnableAutomaticPunctuation: cfg.Punctuation,
	}
	if hints := promptHints(prompt); len(hints) > 0 {
		rc.SpeechContexts = []*speechpb.SpeechContext{{Phrases: hints}}
	}
	return &speechpb.RecognizeRequest{
		Config: rc,
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	}
}

func promptHints(prompt string) []string {
	fields := strings.Fields(prompt)
	if len(fields) == 0 {
		return nil
	}
	if len(fields) > maxHintWords {
		fields = fields[len(fields)-maxHintWords:]
	}
	return []string{strings.Join(fields, " ")}
}

func wordsFromResponse(resp *speechpb.RecognizeResponse) models.Hypothesis {
	var hyp models.Hypothesis
	for _, r := range resp.GetResults() {
		alts := r.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		alt := alts[0]
		for _, wi := range alt.GetWords() {
			conf := float64(wi.GetConfidence())
			if conf == 0 {
				conf = float64(alt.GetConfidence())
			}
			hyp = append(hyp, models.Word{
				Text:       wi.GetWord(),
				Start:      seconds(wi.GetStartTime()),
				End:        seconds(wi.GetEndTime()),
				Confidence: conf,
			})
		}
	}
	return hyp
}

func seconds(d *durationpb.Duration) float64 {
	if d == nil {
		return 0
	}
	return d.AsDuration().Seconds()
}

// parseAudioEncoding maps an encoding name to the API enum, defaulting to LINEAR16.
func parseAudioEncoding(encoding string) speechpb.RecognitionConfig_AudioEncoding {
	if v, ok := speechpb.RecognitionConfig_AudioEncoding_value[encoding]; ok && v != 0 {
		return speechpb.RecognitionConfig_AudioEncoding(v)
	}
	return speechpb.RecognitionConfig_LINEAR16
}
