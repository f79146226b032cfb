package orchestrator

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"interview-transcription-service/internal/audio"
	"interview-transcription-service/internal/models"
	"interview-transcription-service/internal/stt"
)

// StreamSession is one continuous transcription stream for a session. Audio
// enters through a bounded queue; interim and final results leave through
// Results in arrival order. A provider failure mid-stream triggers a fresh
// stream on the next provider in preference order; audio in flight between
// failure and re-establishment may be lost.
type StreamSession struct {
	o         *Orchestrator
	sessionID string
	cfg       stt.Config

	queue   chan []byte
	results chan *models.TranscriptionResult

	cancel  context.CancelFunc
	done    chan struct{}
	closing chan struct{}

	mu     sync.Mutex
	closed bool
	once   sync.Once

	// utterance holds the audio bytes since the last final result, for
	// fingerprinting finals into the cache.
	utterance []byte
	overflow  bool

	logger zerolog.Logger
}

// OpenStream starts a continuous transcription session. The stream runs
// until Close is called or every provider is exhausted.
func (o *Orchestrator) OpenStream(ctx context.Context, sessionID string) (*StreamSession, error) {
	cfg := o.cfg.STT
	cfg.InterimResults = true

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	s := &StreamSession{
		o:         o,
		sessionID: sessionID,
		cfg:       cfg,
		queue:     make(chan []byte, o.cfg.QueueDepth),
		results:   make(chan *models.TranscriptionResult, 16),
		cancel:    cancel,
		done:      make(chan struct{}),
		closing:   make(chan struct{}),
		logger: o.logger.With().
			Str("sessionId", sessionID).
			Str("mode", "stream").
			Logger(),
	}

	// Fail fast when no provider can open a stream right now.
	providerStream, provider, err := o.coordinator.OpenStream(streamCtx, cfg)
	if err != nil {
		cancel()
		return nil, err
	}

	o.metrics.StreamsActive.Inc()
	go s.run(streamCtx, providerStream, provider)
	return s, nil
}

// Enqueue pushes audio into the stream's bounded queue. On overflow the
// oldest queued chunk is dropped so live audio stays near real time.
func (s *StreamSession) Enqueue(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	for {
		select {
		case s.queue <- data:
			return
		default:
		}
		select {
		case <-s.queue:
			s.o.metrics.QueueDropped.Inc()
			s.logger.Warn().Msg("stream queue full, dropped oldest chunk")
		default:
		}
	}
}

// Results returns the channel of interim and final results, closed when the
// stream ends.
func (s *StreamSession) Results() <-chan *models.TranscriptionResult {
	return s.results
}

// Close ends the stream, flushes pending finals and waits for the worker to
// finish. Safe to call more than once.
func (s *StreamSession) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.queue)
		s.mu.Unlock()
		close(s.closing)
		<-s.done
		s.cancel()
	})
}

// run supervises the provider stream, failing over to the next provider
// when the current one dies mid-stream.
func (s *StreamSession) run(ctx context.Context, providerStream stt.Stream, provider string) {
	defer close(s.results)
	defer close(s.done)
	defer s.o.metrics.StreamsActive.Dec()

	for {
		err := s.pump(ctx, providerStream, provider)
		if err == nil {
			return
		}

		s.o.coordinator.RecordStreamFailure(provider)
		s.logger.Warn().Err(err).
			Str("provider", provider).
			Msg("provider stream failed, failing over; in-flight audio may be lost")

		// Audio accumulated for the current utterance no longer matches
		// what the next provider will hear.
		s.resetUtterance()

		providerStream, provider, err = s.reopen(ctx)
		if err != nil {
			if !errors.Is(err, errStreamClosing) {
				s.logger.Error().Err(err).Msg("stream failover exhausted all providers")
			}
			return
		}
	}
}

var errStreamClosing = errors.New("stream closing")

// reopen asks the coordinator for the next provider stream, giving up as
// soon as Close is called so shutdown never waits out a slow dial.
func (s *StreamSession) reopen(ctx context.Context) (stt.Stream, string, error) {
	type opened struct {
		stream   stt.Stream
		provider string
		err      error
	}
	ch := make(chan opened, 1)
	go func() {
		ps, provider, err := s.o.coordinator.OpenStream(ctx, s.cfg)
		ch <- opened{stream: ps, provider: provider, err: err}
	}()

	select {
	case o := <-ch:
		return o.stream, o.provider, o.err
	case <-s.closing:
		// The dial is cancelled through ctx right after run returns; if it
		// lands first anyway, release its stream.
		go func() {
			if o := <-ch; o.err == nil {
				o.stream.CloseSend()
			}
		}()
		return nil, "", errStreamClosing
	}
}

// pump moves audio from the queue into the provider stream and provider
// results out, one goroutine so per-session ordering holds. Returns nil on
// clean shutdown, the stream error on provider failure.
func (s *StreamSession) pump(ctx context.Context, providerStream stt.Stream, provider string) error {
	results := providerStream.Results()

	for {
		select {
		case <-ctx.Done():
			providerStream.CloseSend()
			return nil

		case data, ok := <-s.queue:
			if !ok {
				// Close was called: stop sending and drain the finals the
				// provider still owes us.
				providerStream.CloseSend()
				for r := range results {
					s.emit(ctx, r, provider)
				}
				return nil
			}
			if err := providerStream.SendAudio(ctx, data); err != nil {
				return err
			}
			s.accumulate(data)

		case r, ok := <-results:
			if !ok {
				if err := providerStream.Err(); err != nil {
					return err
				}
				return nil
			}
			s.emit(ctx, r, provider)
		}
	}
}

func (s *StreamSession) emit(ctx context.Context, r stt.Result, provider string) {
	result := models.NewTranscriptionResult(s.sessionID, "")
	result.Text = r.Text
	result.Confidence = r.Confidence
	result.Final = r.Final
	result.Provider = provider
	result.Language = r.Language
	result.Alternatives = r.Alternatives

	if r.Final {
		s.o.coordinator.RecordStreamSuccess(provider)
		s.cacheFinal(ctx, result)
		if err := s.o.repo.SaveResult(ctx, result); err != nil {
			s.logger.Warn().Err(err).Msg("stream result persistence failed")
		}
	}
	s.o.publishBestEffort(ctx, result, s.logger)
	s.o.metrics.RecordResult(r.Final)

	select {
	case s.results <- result:
	case <-ctx.Done():
	}
}

// cacheFinal fingerprints the utterance's accumulated audio and caches the
// final text under it, so a replay of the same audio skips the provider.
// Interim results never touch the cache.
func (s *StreamSession) cacheFinal(ctx context.Context, result *models.TranscriptionResult) {
	defer s.resetUtterance()

	if s.overflow || len(s.utterance) == 0 {
		return
	}
	fingerprint := audio.Fingerprint(s.utterance)
	s.o.cache.Set(ctx, fingerprint, models.CachedTranscription{
		Text:         result.Text,
		Confidence:   result.Confidence,
		Provider:     result.Provider,
		Language:     result.Language,
		Alternatives: result.Alternatives,
	})
}

func (s *StreamSession) accumulate(data []byte) {
	if s.overflow {
		return
	}
	if len(s.utterance)+len(data) > s.o.cfg.StreamCacheLimit {
		s.overflow = true
		s.utterance = nil
		return
	}
	s.utterance = append(s.utterance, data...)
}

func (s *StreamSession) resetUtterance() {
	s.utterance = nil
	s.overflow = false
}
