// Package config loads service configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ServiceConfig holds process-level settings.
type ServiceConfig struct {
	Principal         string
	HTTPPort          string
	ObservabilityPort string
}

// ProviderConfig holds speech-recognition provider settings.
type ProviderConfig struct {
	// Order is the static fallback preference order.
	Order          []string
	Timeout        time.Duration
	LanguageCode   string
	SampleRateHz   int
	Channels       int
	AudioEncoding  string
	InterimResults bool
	DeepgramAPIKey string
	DeepgramModel  string
	OpenAIAPIKey   string
	WhisperModel   string
}

// BreakerConfig holds circuit-breaker thresholds.
type BreakerConfig struct {
	FailureThreshold int
	Cooldown         time.Duration
	MaxCooldown      time.Duration
}

// CacheConfig holds result cache settings.
type CacheConfig struct {
	TTL           time.Duration
	Retention     time.Duration
	MinHits       int64
	SweepInterval time.Duration
}

// RoomConfig holds session room settings.
type RoomConfig struct {
	IdleAfter     time.Duration
	SweepInterval time.Duration
}

// DiarizationConfig holds speaker diarization settings.
type DiarizationConfig struct {
	Enabled             bool
	SimilarityThreshold float64
}

// KafkaConfig holds event publishing settings.
type KafkaConfig struct {
	Enabled      bool
	Brokers      []string
	TopicPartial string
	TopicFinal   string
	Principal    string
}

// PostgresConfig holds the connection settings for the durable cache tier
// and the result repository.
type PostgresConfig struct {
	Enabled bool
	DSN     string
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string
}

// Configuration is the root configuration for the service.
type Configuration struct {
	Service       ServiceConfig
	Providers     ProviderConfig
	Breaker       BreakerConfig
	Cache         CacheConfig
	Rooms         RoomConfig
	Diarization   DiarizationConfig
	Kafka         KafkaConfig
	Postgres      PostgresConfig
	Observability ObservabilityConfig
}

// Load reads configuration from environment variables, falling back to
// defaults for anything unset or unparsable.
func Load() *Configuration {
	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-interview-transcription")

	return &Configuration{
		Service: ServiceConfig{
			Principal:         principal,
			HTTPPort:          envOrDefault("HTTP_PORT", "8080"),
			ObservabilityPort: envOrDefault("OBSERVABILITY_PORT", "9090"),
		},
		Providers: ProviderConfig{
			Order:          envOrDefaultList("STT_PROVIDER_ORDER", []string{"google", "deepgram", "whisper"}),
			Timeout:        envOrDefaultDuration("STT_PROVIDER_TIMEOUT", 10*time.Second),
			LanguageCode:   envOrDefault("STT_LANGUAGE_CODE", "en-US"),
			SampleRateHz:   envOrDefaultInt("STT_SAMPLE_RATE_HZ", 16000),
			Channels:       envOrDefaultInt("STT_CHANNELS", 1),
			AudioEncoding:  envOrDefault("STT_AUDIO_ENCODING", "LINEAR16"),
			InterimResults: envOrDefaultBool("STT_INTERIM_RESULTS", true),
			DeepgramAPIKey: os.Getenv("DEEPGRAM_API_KEY"),
			DeepgramModel:  envOrDefault("DEEPGRAM_MODEL", "nova-2"),
			OpenAIAPIKey:   os.Getenv("OPENAI_API_KEY"),
			WhisperModel:   envOrDefault("WHISPER_MODEL", "whisper-1"),
		},
		Breaker: BreakerConfig{
			FailureThreshold: envOrDefaultInt("BREAKER_FAILURE_THRESHOLD", 5),
			Cooldown:         envOrDefaultDuration("BREAKER_COOLDOWN", 15*time.Second),
			MaxCooldown:      envOrDefaultDuration("BREAKER_MAX_COOLDOWN", 2*time.Minute),
		},
		Cache: CacheConfig{
			TTL:           envOrDefaultDuration("CACHE_TTL", 24*time.Hour),
			Retention:     envOrDefaultDuration("CACHE_RETENTION", 7*24*time.Hour),
			MinHits:       int64(envOrDefaultInt("CACHE_MIN_HITS", 3)),
			SweepInterval: envOrDefaultDuration("CACHE_SWEEP_INTERVAL", time.Hour),
		},
		Rooms: RoomConfig{
			IdleAfter:     envOrDefaultDuration("ROOM_IDLE_AFTER", 5*time.Minute),
			SweepInterval: envOrDefaultDuration("ROOM_SWEEP_INTERVAL", time.Minute),
		},
		Diarization: DiarizationConfig{
			Enabled:             envOrDefaultBool("DIARIZATION_ENABLED", false),
			SimilarityThreshold: envOrDefaultFloat("DIARIZATION_SIMILARITY_THRESHOLD", 0.75),
		},
		Kafka: KafkaConfig{
			Enabled:      envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:      envOrDefaultList("KAFKA_BROKERS", nil),
			TopicPartial: envOrDefault("KAFKA_TOPIC_PARTIAL", "interview.transcript.partial"),
			TopicFinal:   envOrDefault("KAFKA_TOPIC_FINAL", "interview.transcript.final"),
			Principal:    envOrDefault("KAFKA_PRINCIPAL", principal),
		},
		Postgres: PostgresConfig{
			Enabled: envOrDefaultBool("POSTGRES_ENABLED", false),
			DSN:     os.Getenv("POSTGRES_DSN"),
		},
		Observability: ObservabilityConfig{
			LogLevel:  envOrDefault("LOG_LEVEL", "info"),
			LogFormat: envOrDefault("LOG_FORMAT", "json"),
		},
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
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
		if b, err := strconv.ParseBool(strings.ToLower(v)); err == nil {
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

func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
