package app

import (
	"context"
	"fmt"

	"realtime-stt-gateway/internal/config"
	"realtime-stt-gateway/internal/observability/logging"
	"realtime-stt-gateway/internal/service/pool"
	"realtime-stt-gateway/internal/service/stt"
	"realtime-stt-gateway/internal/service/stt/deepgram"
	"realtime-stt-gateway/internal/service/stt/google"
	"realtime-stt-gateway/internal/service/stt/mock"
)

// buildPools creates one allocator per configured pool, in priority order.
// Transcribers already created are closed when a later pool fails.
func buildPools(ctx context.Context, cfg *config.Configuration) (*pool.Set, error) {
	var (
		allocators []*pool.Allocator
		created    []stt.Transcriber
	)
	cleanup := func() {
		for _, t := range created {
			_ = t.Close()
		}
	}

	for _, pc := range cfg.Pools {
		t, err := newTranscriber(ctx, cfg.STT, pc)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("pool %s: %w", pc.Name, err)
		}
		created = append(created, t)
		allocators = append(allocators, pool.NewAllocator(pc.Name, t, pc.Seats))

		poolLogger := logging.WithPool(pc.Name, t.Name())
		poolLogger.Info().
			Int("seats", pc.Seats).
			Msg("Transcription pool configured")
	}

	set, err := pool.NewSet(allocators...)
	if err != nil {
		cleanup()
		return nil, err
	}
	return set, nil
}

// newTranscriber builds the provider adapter for one pool. Service-wide
// STT settings are applied first, then the pool's own settings.
func newTranscriber(ctx context.Context, defaults config.STTConfig, pc config.PoolConfig) (stt.Transcriber, error) {
	switch pc.Provider {
	case stt.ProviderMock:
		mc := mock.DefaultConfig()
		if err := config.DecodeSettings(pc.Settings, &mc); err != nil {
			return nil, fmt.Errorf("mock settings: %w", err)
		}
		return mock.New(mc), nil

	case stt.ProviderGoogle:
		gc := google.DefaultConfig()
		if defaults.LanguageCode != "" {
			gc.LanguageCode = defaults.LanguageCode
		}
		if defaults.GoogleModel != "" {
			gc.Model = defaults.GoogleModel
		}
		if err := config.DecodeSettings(pc.Settings, &gc); err != nil {
			return nil, fmt.Errorf("google settings: %w", err)
		}
		return google.New(ctx, gc)

	case stt.ProviderDeepgram:
		dc := deepgram.DefaultConfig()
		dc.APIKey = defaults.DeepgramAPIKey
		if defaults.DeepgramModel != "" {
			dc.Model = defaults.DeepgramModel
		}
		if err := config.DecodeSettings(pc.Settings, &dc); err != nil {
			return nil, fmt.Errorf("deepgram settings: %w", err)
		}
		return deepgram.New(dc), nil

	default:
		return nil, fmt.Errorf("unknown stt provider %q", pc.Provider)
	}
}
