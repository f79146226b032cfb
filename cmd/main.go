package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"interview-transcription-service/internal/audio"
	"interview-transcription-service/internal/cache"
	"interview-transcription-service/internal/config"
	"interview-transcription-service/internal/diarize"
	"interview-transcription-service/internal/events"
	"interview-transcription-service/internal/gateway"
	"interview-transcription-service/internal/observability"
	"interview-transcription-service/internal/observability/logging"
	"interview-transcription-service/internal/orchestrator"
	"interview-transcription-service/internal/session"
	"interview-transcription-service/internal/storage"
	"interview-transcription-service/internal/stt"
	"interview-transcription-service/internal/stt/deepgram"
	"interview-transcription-service/internal/stt/fallback"
	"interview-transcription-service/internal/stt/google"
	"interview-transcription-service/internal/stt/mock"
	"interview-transcription-service/internal/stt/whisper"
)

func main() {
	cfg := config.Load()

	logging.Init(logging.Config{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
	})
	logger := logging.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	publisher := events.New(&events.Config{
		Enabled:      cfg.Kafka.Enabled,
		Brokers:      cfg.Kafka.Brokers,
		TopicPartial: cfg.Kafka.TopicPartial,
		TopicFinal:   cfg.Kafka.TopicFinal,
		Principal:    cfg.Kafka.Principal,
	})
	defer publisher.Close()

	var (
		repo    storage.Repository = storage.NewInMemory()
		durable cache.Tier
	)
	if cfg.Postgres.Enabled {
		pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		defer pool.Close()

		pgCache := cache.NewPostgres(pool)
		if err := pgCache.Bootstrap(ctx); err != nil {
			logger.Fatal().Err(err).Msg("cache bootstrap failed")
		}
		durable = pgCache

		pgRepo := storage.NewPostgres(pool)
		if err := pgRepo.Bootstrap(ctx); err != nil {
			logger.Fatal().Err(err).Msg("repository bootstrap failed")
		}
		repo = pgRepo
	} else {
		logger.Warn().Msg("postgres disabled, results and cache will not survive restarts")
	}

	resultCache := cache.New(cache.NewMemory(), durable, cfg.Cache.TTL)
	go resultCache.RunSweeper(ctx, cfg.Cache.SweepInterval, cfg.Cache.Retention, cfg.Cache.MinHits)

	providers := buildProviders(ctx, cfg, logger)
	coordinator := fallback.New(providers, fallback.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Cooldown:         cfg.Breaker.Cooldown,
		MaxCooldown:      cfg.Breaker.MaxCooldown,
		CallTimeout:      cfg.Providers.Timeout,
	})

	diarizer := diarize.New(diarize.Config{
		Enabled:             cfg.Diarization.Enabled,
		SimilarityThreshold: cfg.Diarization.SimilarityThreshold,
	})

	orch := orchestrator.New(
		audio.NewProcessor(),
		coordinator,
		resultCache,
		diarizer,
		repo,
		publisher,
		orchestrator.Config{STT: stt.Config{
			Language:       cfg.Providers.LanguageCode,
			SampleRateHz:   cfg.Providers.SampleRateHz,
			Channels:       cfg.Providers.Channels,
			Encoding:       cfg.Providers.AudioEncoding,
			InterimResults: cfg.Providers.InterimResults,
		}},
	)

	registry := session.NewRegistry()
	go registry.RunSweeper(ctx, cfg.Rooms.SweepInterval, cfg.Rooms.IdleAfter)

	gw := gateway.New(registry, orch, nil)

	// Ready as long as at least one provider circuit is not open.
	obs := observability.NewServer(":"+cfg.Service.ObservabilityPort, func() error {
		for _, h := range orch.Health() {
			if h.State != fallback.StateOpen.String() {
				return nil
			}
		}
		return errors.New("all transcription provider circuits are open")
	})
	obs.Start()

	srv := &http.Server{
		Addr:    ":" + cfg.Service.HTTPPort,
		Handler: gw.Router(),
	}
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("interview transcription service listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http serve failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown failed")
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("observability shutdown failed")
	}
}

// buildProviders instantiates the configured adapters in preference order,
// skipping any backend missing credentials. With nothing usable the mock
// provider keeps local development alive.
func buildProviders(ctx context.Context, cfg *config.Configuration, logger zerolog.Logger) []stt.Provider {
	var providers []stt.Provider

	for _, name := range cfg.Providers.Order {
		switch name {
		case "google":
			adapter, err := google.New(ctx)
			if err != nil {
				logger.Warn().Err(err).Msg("google speech unavailable, skipping")
				continue
			}
			providers = append(providers, adapter)
		case "deepgram":
			if cfg.Providers.DeepgramAPIKey == "" {
				logger.Warn().Msg("deepgram api key unset, skipping")
				continue
			}
			providers = append(providers, deepgram.New(cfg.Providers.DeepgramAPIKey, cfg.Providers.DeepgramModel))
		case "whisper":
			if cfg.Providers.OpenAIAPIKey == "" {
				logger.Warn().Msg("openai api key unset, skipping")
				continue
			}
			providers = append(providers, whisper.New(cfg.Providers.OpenAIAPIKey, cfg.Providers.WhisperModel))
		case "mock":
			providers = append(providers, mock.New())
		default:
			logger.Warn().Str("provider", name).Msg("unknown provider in preference order, skipping")
		}
	}

	if len(providers) == 0 {
		logger.Warn().Msg("no providers configured, falling back to the mock provider")
		providers = append(providers, mock.New())
	}
	return providers
}
