// Package app wires the gateway together: pools, export storage, event
// sinks and the HTTP, gRPC and metrics listeners.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	grpcapi "realtime-stt-gateway/internal/api/grpc"
	"realtime-stt-gateway/internal/api/ws"
	"realtime-stt-gateway/internal/config"
	"realtime-stt-gateway/internal/events"
	httpapi "realtime-stt-gateway/internal/http"
	"realtime-stt-gateway/internal/observability"
	"realtime-stt-gateway/internal/observability/logging"
	"realtime-stt-gateway/internal/observability/metrics"
	"realtime-stt-gateway/internal/service/cadence"
	"realtime-stt-gateway/internal/service/export"
	"realtime-stt-gateway/internal/service/pool"
	"realtime-stt-gateway/internal/service/session"
)

const shutdownTimeout = 30 * time.Second

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Configuration

	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool

	pools      *pool.Set
	store      export.Store
	closeStore func()
	sink       events.Sink
	stream     *ws.Handler
	httpServer *http.Server
	grpc       *grpcapi.Server
	metrics    *observability.Server
}

// New constructs a new Application from the provided configuration.
func New(cfg *config.Configuration) *Application {
	logging.Init(logging.Config{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
	})

	a := &Application{
		Cfg:        cfg,
		Logger:     logging.WithComponent("application"),
		closeStore: func() {},
	}
	a.Logger.Info().Msg("STT gateway application created")
	return a
}

// Ready reports whether the gateway accepts new streams.
func (a *Application) Ready() bool {
	return a.ready.Load()
}

// Start builds every component and starts the listeners. Components built
// before a failure are released again.
func (a *Application) Start(ctx context.Context) (err error) {
	startLogger := a.Logger.With().Str("method", "Start").Logger()
	a.StartupTime = time.Now().UTC()
	a.ctx, a.cancel = context.WithCancel(context.WithoutCancel(ctx))

	defer func() {
		if err != nil {
			a.release()
		}
	}()

	a.pools, err = buildPools(ctx, a.Cfg)
	if err != nil {
		return fmt.Errorf("build pools: %w", err)
	}
	a.pools.Observe(metrics.DefaultMetrics.RecordSeats)

	a.store, a.closeStore, err = buildStore(ctx, a.Cfg.Export)
	if err != nil {
		return fmt.Errorf("build export store: %w", err)
	}

	a.sink, err = buildSink(a.Cfg)
	if err != nil {
		return fmt.Errorf("build event sinks: %w", err)
	}

	a.stream = ws.NewHandler(a.ctx, a.pools, a.store, a.sink, sessionConfig(a.Cfg.Stream))
	a.httpServer = &http.Server{
		Addr:              net.JoinHostPort("", a.Cfg.Service.HTTPPort),
		Handler:           httpapi.NewRouter(a.stream, a.pools, a.Ready),
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.grpc = grpcapi.New(net.JoinHostPort("", a.Cfg.Service.GRPCPort), a.pools)
	if err := a.grpc.Start(); err != nil {
		return fmt.Errorf("start grpc health: %w", err)
	}

	a.metrics = observability.NewServer(net.JoinHostPort("", a.Cfg.Observability.MetricsPort), a.Ready)
	a.metrics.Start()

	listener, err := net.Listen("tcp", a.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.httpServer.Addr, err)
	}
	go func() {
		if err := a.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error().Err(err).Msg("HTTP server stopped")
		}
	}()

	a.ready.Store(true)
	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Str("httpAddr", a.httpServer.Addr).
		Str("grpcPort", a.Cfg.Service.GRPCPort).
		Str("metricsPort", a.Cfg.Observability.MetricsPort).
		Int("pools", len(a.Cfg.Pools)).
		Msg("STT gateway started")
	return nil
}

// Shutdown stops accepting streams, lets running sessions finish until ctx
// expires, then cancels the rest and closes every component.
func (a *Application) Shutdown(ctx context.Context) {
	shutdownLogger := a.Logger.With().Str("method", "Shutdown").Logger()
	shutdownLogger.Info().Msg("STT gateway shutting down")
	a.ready.Store(false)

	if a.stream != nil {
		if err := a.stream.Drain(ctx); err != nil {
			shutdownLogger.Warn().Err(err).
				Int64("activeSessions", a.stream.Active()).
				Msg("Sessions still running at drain deadline, canceling")
		}
	}
	if a.httpServer != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.httpServer.Shutdown(stopCtx); err != nil {
			shutdownLogger.Warn().Err(err).Msg("HTTP server shutdown")
		}
		cancel()
	}
	a.release()
	shutdownLogger.Info().Dur("uptime", time.Since(a.StartupTime)).Msg("STT gateway stopped")
}

// release cancels remaining sessions and closes components in reverse
// build order.
func (a *Application) release() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.stream != nil {
		waitCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		_ = a.stream.Drain(waitCtx)
		cancel()
	}
	if a.grpc != nil {
		a.grpc.Stop()
	}
	if a.metrics != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.metrics.Shutdown(stopCtx); err != nil {
			a.Logger.Warn().Err(err).Msg("Metrics server shutdown")
		}
		cancel()
	}
	if a.sink != nil {
		if err := a.sink.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Closing event sinks")
		}
	}
	a.closeStore()
	if a.pools != nil {
		if err := a.pools.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Closing transcribers")
		}
	}
}

func sessionConfig(sc config.StreamConfig) session.Config {
	cfg := session.DefaultConfig()
	cfg.MaxWindowBytes = sc.MaxWindowBytes
	cfg.RetryDelay = sc.RetryDelay
	cfg.TickInterval = sc.TickInterval
	cfg.PromptChars = sc.PromptChars
	cfg.Cadence = cadence.Config{
		InitialPartialBytes: sc.PartialThresholdBytes,
		MarginSeconds:       sc.PartialMarginSeconds,
		FinalMultiplier:     sc.FinalMultiplier,
		FinalWordThreshold:  sc.FinalWordThreshold,
	}
	return cfg
}

func buildStore(ctx context.Context, ec config.ExportConfig) (export.Store, func(), error) {
	noop := func() {}
	switch ec.Backend {
	case export.BackendFile:
		store, err := export.NewFileStore(ec.Dir)
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil
	case export.BackendPostgres:
		store, err := export.NewPostgresStore(ctx, ec.PostgresDSN)
		if err != nil {
			return nil, noop, err
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, noop, err
		}
		return store, store.Close, nil
	case export.BackendNone:
		return export.Discard{}, noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown export backend %q", ec.Backend)
	}
}

// buildSink fans out to Kafka (log-only when disabled) and, when enabled,
// MQTT.
func buildSink(cfg *config.Configuration) (events.Sink, error) {
	sinks := events.Multi{
		events.New(&events.Config{
			Enabled:      cfg.Kafka.Enabled,
			Brokers:      cfg.Kafka.Brokers,
			TopicPartial: cfg.Kafka.TopicPartial,
			TopicFinal:   cfg.Kafka.TopicFinal,
			TopicExport:  cfg.Kafka.TopicExport,
			Principal:    cfg.Kafka.Principal,
		}),
	}
	if cfg.MQTT.Enabled {
		mq, err := events.NewMQTTPublisher(events.MQTTConfig{
			BrokerURL:   cfg.MQTT.BrokerURL,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         byte(cfg.MQTT.QoS),
		})
		if err != nil {
			_ = sinks.Close()
			return nil, err
		}
		sinks = append(sinks, mq)
	}
	return sinks, nil
}
