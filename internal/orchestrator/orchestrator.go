// Package orchestrator runs the transcription pipeline: validate audio,
// consult the result cache, invoke the provider fallback chain, attach
// speaker labels, persist and publish. One Orchestrator serves every
// session; per-chunk flows are independent.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"interview-transcription-service/internal/audio"
	"interview-transcription-service/internal/cache"
	"interview-transcription-service/internal/diarize"
	"interview-transcription-service/internal/events"
	"interview-transcription-service/internal/models"
	"interview-transcription-service/internal/observability/logging"
	"interview-transcription-service/internal/observability/metrics"
	"interview-transcription-service/internal/storage"
	"interview-transcription-service/internal/stt"
	"interview-transcription-service/internal/stt/fallback"
)

// Config holds pipeline settings.
type Config struct {
	// STT carries the default per-request provider settings.
	STT stt.Config

	// QueueDepth bounds the per-stream audio queue. On overflow the oldest
	// queued chunk is dropped.
	QueueDepth int

	// StreamCacheLimit caps the bytes accumulated per utterance for
	// fingerprinting stream finals. Utterances beyond it skip the cache.
	StreamCacheLimit int
}

// Orchestrator is the transcription pipeline.
type Orchestrator struct {
	processor   *audio.Processor
	coordinator *fallback.Coordinator
	cache       *cache.TwoTier
	diarizer    *diarize.Diarizer
	repo        storage.Repository
	publisher   *events.Publisher
	cfg         Config
	logger      zerolog.Logger
	metrics     *metrics.Metrics
}

// New wires the pipeline together.
func New(
	processor *audio.Processor,
	coordinator *fallback.Coordinator,
	resultCache *cache.TwoTier,
	diarizer *diarize.Diarizer,
	repo storage.Repository,
	publisher *events.Publisher,
	cfg Config,
) *Orchestrator {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 32
	}
	if cfg.StreamCacheLimit <= 0 {
		cfg.StreamCacheLimit = 5 << 20
	}
	return &Orchestrator{
		processor:   processor,
		coordinator: coordinator,
		cache:       resultCache,
		diarizer:    diarizer,
		repo:        repo,
		publisher:   publisher,
		cfg:         cfg,
		logger:      logging.WithComponent("orchestrator"),
		metrics:     metrics.DefaultMetrics,
	}
}

// Submit transcribes one independent audio chunk. Malformed audio is
// rejected with ErrInvalidAudio; cache trouble silently degrades to the
// provider path; provider exhaustion and persistence failures surface to
// the caller.
func (o *Orchestrator) Submit(ctx context.Context, chunk *models.AudioChunk) (*models.TranscriptionResult, error) {
	processed, err := o.processor.Process(chunk.Data, chunk.Format)
	if err != nil {
		return nil, err
	}

	features := o.processor.EstimateFeatures(processed)
	o.fillChunk(chunk, processed, features)
	o.metrics.RecordChunk(len(processed))

	logger := o.logger.With().
		Str("sessionId", chunk.SessionID).
		Str("chunkId", chunk.ID).
		Logger()

	if payload, ok := o.cache.Get(ctx, chunk.Fingerprint); ok {
		logger.Debug().Str("provider", payload.Provider).Msg("cache hit")
		result := resultFromCache(chunk, payload)
		o.persistBestEffort(ctx, chunk, result, logger)
		o.metrics.RecordResult(true)
		return result, nil
	}

	sttResult, provider, err := o.coordinator.Transcribe(ctx, processed, o.sttConfig(features))
	if err != nil {
		return nil, err
	}

	result := models.NewTranscriptionResult(chunk.SessionID, chunk.ID)
	result.Text = sttResult.Text
	result.Confidence = sttResult.Confidence
	result.Final = true
	result.Provider = provider
	result.Language = sttResult.Language
	result.Alternatives = sttResult.Alternatives

	o.attachSpeaker(result, processed, features, sttResult)

	if err := o.repo.SaveChunk(ctx, chunk); err != nil {
		return nil, fmt.Errorf("persist chunk: %w", err)
	}
	if err := o.repo.SaveResult(ctx, result); err != nil {
		return nil, fmt.Errorf("persist result: %w", err)
	}

	o.cache.Set(ctx, chunk.Fingerprint, models.CachedTranscription{
		Text:         result.Text,
		Confidence:   result.Confidence,
		Provider:     result.Provider,
		Language:     result.Language,
		Alternatives: result.Alternatives,
	})

	o.publishBestEffort(ctx, result, logger)
	o.metrics.RecordResult(true)
	return result, nil
}

// ResultsBySession returns the session's persisted results in creation
// order.
func (o *Orchestrator) ResultsBySession(ctx context.Context, sessionID string) ([]*models.TranscriptionResult, error) {
	return o.repo.ResultsBySession(ctx, sessionID)
}

// Health reports per-provider circuit state.
func (o *Orchestrator) Health() []fallback.Health {
	return o.coordinator.Health()
}

func (o *Orchestrator) fillChunk(chunk *models.AudioChunk, processed []byte, features models.AudioFeatures) {
	chunk.Fingerprint = audio.Fingerprint(processed)
	if chunk.SampleRateHz == 0 {
		chunk.SampleRateHz = features.SampleRateHz
	}
	if chunk.Channels == 0 {
		chunk.Channels = features.Channels
	}
	if chunk.DurationSec == 0 {
		chunk.DurationSec = features.DurationSec
	}
}

// sttConfig derives per-request provider settings, preferring what the
// audio header actually says over the configured defaults.
func (o *Orchestrator) sttConfig(features models.AudioFeatures) stt.Config {
	cfg := o.cfg.STT
	if features.SampleRateHz > 0 {
		cfg.SampleRateHz = features.SampleRateHz
	}
	if features.Channels > 0 {
		cfg.Channels = features.Channels
	}
	if enc := providerEncoding(features.Format); enc != "" {
		cfg.Encoding = enc
	}
	return cfg
}

// providerEncoding translates a sniffed container name into the encoding
// token the provider adapters accept. Raw PCM carries no container, so it
// returns "" and the configured default encoding stays in force.
func providerEncoding(format string) string {
	switch format {
	case "wav":
		return "LINEAR16"
	case "ogg":
		return "OGG_OPUS"
	case "webm":
		return "WEBM_OPUS"
	case "flac":
		return "FLAC"
	case "mp3":
		return "MP3"
	default:
		return ""
	}
}

func (o *Orchestrator) attachSpeaker(result *models.TranscriptionResult, processed []byte, features models.AudioFeatures, sttResult *stt.Result) {
	if o.diarizer == nil || !o.diarizer.Enabled() {
		return
	}
	spans := o.diarizer.IdentifySpeakers(processed, features)

	start, end := sttResult.StartSec, sttResult.EndSec
	if end <= start {
		start, end = 0, features.DurationSec
	}
	o.diarizer.AssignSpeaker(result, start, end, spans)
}

// persistBestEffort stores a cache-hit result without failing the request;
// the transcription was already paid for once.
func (o *Orchestrator) persistBestEffort(ctx context.Context, chunk *models.AudioChunk, result *models.TranscriptionResult, logger zerolog.Logger) {
	if err := o.repo.SaveChunk(ctx, chunk); err != nil {
		logger.Warn().Err(err).Msg("chunk persistence failed on cache hit")
		return
	}
	if err := o.repo.SaveResult(ctx, result); err != nil {
		logger.Warn().Err(err).Msg("result persistence failed on cache hit")
	}
}

func (o *Orchestrator) publishBestEffort(ctx context.Context, result *models.TranscriptionResult, logger zerolog.Logger) {
	if o.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := o.publisher.PublishResult(ctx, result); err != nil {
		logger.Warn().Err(err).Msg("event publish failed")
	}
}

// resultFromCache clones a cached payload under fresh identity: new result
// id, the submitting chunk and session, a fresh timestamp.
func resultFromCache(chunk *models.AudioChunk, payload *models.CachedTranscription) *models.TranscriptionResult {
	result := models.NewTranscriptionResult(chunk.SessionID, chunk.ID)
	result.Text = payload.Text
	result.Confidence = payload.Confidence
	result.Final = true
	result.Provider = payload.Provider
	result.Language = payload.Language
	result.Alternatives = payload.Alternatives
	result.Metadata = map[string]string{"source": "cache"}
	return result
}
