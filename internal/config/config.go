// Package config loads service configuration from the environment, with an
// optional YAML file describing the transcription pools.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

var ErrInvalidPools = errors.New("invalid pool configuration")

// Configuration holds all service configuration.
type Configuration struct {
	Service       ServiceConfig
	Stream        StreamConfig
	STT           STTConfig
	Pools         []PoolConfig
	Kafka         KafkaConfig
	MQTT          MQTTConfig
	Export        ExportConfig
	Observability ObservabilityConfig
}

// ServiceConfig holds service identity and listen ports.
type ServiceConfig struct {
	Principal string
	GRPCPort  string
	HTTPPort  string
}

// StreamConfig holds per-session window, cadence and admission settings.
type StreamConfig struct {
	MaxWindowBytes        int
	PartialThresholdBytes int
	PartialMarginSeconds  float64
	FinalMultiplier       float64
	FinalWordThreshold    int
	RetryDelay            time.Duration
	TickInterval          time.Duration
	PromptChars           int
}

// STTConfig holds provider defaults shared by every pool of a provider.
// Per-pool settings override them.
type STTConfig struct {
	LanguageCode   string
	GoogleModel    string
	DeepgramAPIKey string
	DeepgramModel  string
}

// PoolConfig describes one transcription pool. Pools are tried in the order
// they are configured.
type PoolConfig struct {
	Name     string         `yaml:"name"`
	Provider string         `yaml:"provider"`
	Seats    int            `yaml:"seats"`
	Settings map[string]any `yaml:"settings"`
}

// KafkaConfig holds Kafka publisher configuration.
type KafkaConfig struct {
	Enabled      bool
	Brokers      []string
	TopicPartial string
	TopicFinal   string
	TopicExport  string
	Principal    string
}

// MQTTConfig holds MQTT publisher configuration.
type MQTTConfig struct {
	Enabled     bool
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         int
}

// ExportConfig selects where end-of-stream artifacts are stored.
type ExportConfig struct {
	Backend     string // file | postgres | none
	Dir         string
	PostgresDSN string
}

// ObservabilityConfig holds logging and metrics configuration.
type ObservabilityConfig struct {
	LogLevel    string
	LogFormat   string
	MetricsPort string
}

type poolsFile struct {
	Pools []PoolConfig `yaml:"pools"`
}

// Load reads configuration from environment variables. Invalid values fall
// back to defaults; only a broken pool description is an error.
func Load() (*Configuration, error) {
	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-stt-gateway")

	cfg := &Configuration{
		Service: ServiceConfig{
			Principal: principal,
			GRPCPort:  envOrDefault("GRPC_PORT", "50051"),
			HTTPPort:  envOrDefault("HTTP_PORT", "8080"),
		},
		Stream: StreamConfig{
			MaxWindowBytes:        envOrDefaultInt("STREAM_MAX_WINDOW_BYTES", 960000),
			PartialThresholdBytes: envOrDefaultInt("STREAM_PARTIAL_THRESHOLD_BYTES", 32000),
			PartialMarginSeconds:  envOrDefaultFloat("STREAM_PARTIAL_MARGIN_SECONDS", 0.25),
			FinalMultiplier:       envOrDefaultFloat("STREAM_FINAL_MULTIPLIER", 5),
			FinalWordThreshold:    envOrDefaultInt("STREAM_FINAL_WORD_THRESHOLD", 6),
			RetryDelay:            envOrDefaultDuration("STREAM_RETRY_DELAY", 10*time.Second),
			TickInterval:          envOrDefaultDuration("STREAM_TICK_INTERVAL", 250*time.Millisecond),
			PromptChars:           envOrDefaultInt("STREAM_PROMPT_CHARS", 200),
		},
		STT: STTConfig{
			LanguageCode:   envOrDefault("STT_LANGUAGE_CODE", "en-US"),
			GoogleModel:    envOrDefault("STT_GOOGLE_MODEL", ""),
			DeepgramAPIKey: envOrDefault("DEEPGRAM_API_KEY", ""),
			DeepgramModel:  envOrDefault("STT_DEEPGRAM_MODEL", "nova-2"),
		},
		Kafka: KafkaConfig{
			Enabled:      envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:      splitList(envOrDefault("KAFKA_BROKERS", "localhost:9092")),
			TopicPartial: envOrDefault("KAFKA_TOPIC_PARTIAL", "stream.transcript.partial"),
			TopicFinal:   envOrDefault("KAFKA_TOPIC_FINAL", "stream.transcript.final"),
			TopicExport:  envOrDefault("KAFKA_TOPIC_EXPORT", "stream.export.ready"),
			Principal:    envOrDefault("KAFKA_PRINCIPAL", principal),
		},
		MQTT: MQTTConfig{
			Enabled:     envOrDefaultBool("MQTT_ENABLED", false),
			BrokerURL:   envOrDefault("MQTT_BROKER_URL", "tcp://localhost:1883"),
			ClientID:    envOrDefault("MQTT_CLIENT_ID", principal),
			Username:    envOrDefault("MQTT_USERNAME", ""),
			Password:    envOrDefault("MQTT_PASSWORD", ""),
			TopicPrefix: envOrDefault("MQTT_TOPIC_PREFIX", "stt"),
			QoS:         envOrDefaultInt("MQTT_QOS", 1),
		},
		Export: ExportConfig{
			Backend:     strings.ToLower(envOrDefault("EXPORT_BACKEND", "file")),
			Dir:         envOrDefault("EXPORT_DIR", "exports"),
			PostgresDSN: envOrDefault("EXPORT_POSTGRES_DSN", ""),
		},
		Observability: ObservabilityConfig{
			LogLevel:    envOrDefault("LOG_LEVEL", "info"),
			LogFormat:   envOrDefault("LOG_FORMAT", "json"),
			MetricsPort: envOrDefault("METRICS_PORT", "9090"),
		},
	}

	if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
		cfg.MQTT.QoS = 1
	}

	pools, err := loadPools()
	if err != nil {
		return nil, err
	}
	cfg.Pools = pools
	return cfg, nil
}

// loadPools prefers STT_POOLS_FILE over STT_POOLS.
func loadPools() ([]PoolConfig, error) {
	if path := os.Getenv("STT_POOLS_FILE"); path != "" {
		return LoadPoolsFile(path)
	}
	return ParsePools(envOrDefault("STT_POOLS", "cpu:mock:2"))
}

// ParsePools parses "name:provider:seats[,name:provider:seats...]".
func ParsePools(value string) ([]PoolConfig, error) {
	var pools []PoolConfig
	for _, item := range splitList(value) {
		parts := strings.Split(item, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("%w: %q is not name:provider:seats", ErrInvalidPools, item)
		}
		seats, err := strconv.Atoi(strings.TrimSpace(parts[2]))
		if err != nil {
			return nil, fmt.Errorf("%w: seats of %q: %v", ErrInvalidPools, item, err)
		}
		pools = append(pools, PoolConfig{
			Name:     strings.TrimSpace(parts[0]),
			Provider: strings.ToLower(strings.TrimSpace(parts[1])),
			Seats:    seats,
		})
	}
	return pools, validatePools(pools)
}

// LoadPoolsFile reads pools from a YAML file of the form
//
//	pools:
//	  - name: gpu
//	    provider: google
//	    seats: 2
//	    settings:
//	      model: latest_short
func LoadPoolsFile(path string) ([]PoolConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pools file: %w", err)
	}
	var f poolsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidPools, path, err)
	}
	for i := range f.Pools {
		f.Pools[i].Provider = strings.ToLower(f.Pools[i].Provider)
	}
	return f.Pools, validatePools(f.Pools)
}

func validatePools(pools []PoolConfig) error {
	if len(pools) == 0 {
		return fmt.Errorf("%w: no pools defined", ErrInvalidPools)
	}
	seen := make(map[string]bool, len(pools))
	for _, p := range pools {
		if p.Name == "" {
			return fmt.Errorf("%w: pool without a name", ErrInvalidPools)
		}
		if seen[p.Name] {
			return fmt.Errorf("%w: duplicate pool %q", ErrInvalidPools, p.Name)
		}
		seen[p.Name] = true
		if p.Seats <= 0 {
			return fmt.Errorf("%w: pool %q needs at least one seat", ErrInvalidPools, p.Name)
		}
		if p.Provider == "" {
			return fmt.Errorf("%w: pool %q has no provider", ErrInvalidPools, p.Name)
		}
	}
	return nil
}

// DecodeSettings decodes a free-form settings map into a typed provider
// config. Keys match field tags ignoring case, '_' and '-'; durations may
// be given as strings such as "250ms".
func DecodeSettings(input map[string]any, out any) error {
	if len(input) == 0 {
		return nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		MatchName: func(mapKey, fieldName string) bool {
			return normalizeKey(mapKey) == normalizeKey(fieldName)
		},
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}

func normalizeKey(value string) string {
	value = strings.ToLower(value)
	value = strings.ReplaceAll(value, "_", "")
	value = strings.ReplaceAll(value, "-", "")
	return value
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envOrDefaultFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
