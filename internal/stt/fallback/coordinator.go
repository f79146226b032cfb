package fallback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"interview-transcription-service/internal/observability/logging"
	"interview-transcription-service/internal/observability/metrics"
	"interview-transcription-service/internal/stt"
)

// ErrAllProvidersUnavailable is terminal for a request: every provider in the
// chain failed or had an open circuit. The session itself continues.
var ErrAllProvidersUnavailable = errors.New("all providers unavailable")

// Config holds coordinator settings.
type Config struct {
	// FailureThreshold is the consecutive-failure count that opens a circuit.
	FailureThreshold int
	// Cooldown is the open interval before a half-open probe is allowed.
	Cooldown time.Duration
	// MaxCooldown caps the exponential cooldown growth on repeated probe failures.
	MaxCooldown time.Duration
	// CallTimeout is the hard per-provider call timeout.
	CallTimeout time.Duration
}

// Coordinator tries providers in a fixed preference order, skipping any whose
// circuit is open. Preference order is static: a success through a fallback
// provider never promotes it; the primary becomes reachable again as soon as
// its circuit closes.
type Coordinator struct {
	providers []stt.Provider
	breakers  map[string]*Breaker
	cfg       Config
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

// New creates a coordinator over the given providers, in preference order.
func New(providers []stt.Provider, cfg Config) *Coordinator {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	breakers := make(map[string]*Breaker, len(providers))
	for _, p := range providers {
		breakers[p.Name()] = NewBreaker(cfg.FailureThreshold, cfg.Cooldown, cfg.MaxCooldown)
	}
	return &Coordinator{
		providers: providers,
		breakers:  breakers,
		cfg:       cfg,
		logger:    logging.WithComponent("fallback"),
		metrics:   metrics.DefaultMetrics,
	}
}

// Transcribe performs a buffered transcription through the first healthy
// provider, falling back in order. The returned result carries the name of
// the provider that produced it.
func (c *Coordinator) Transcribe(ctx context.Context, audio []byte, cfg stt.Config) (*stt.Result, string, error) {
	var lastErr error

	for _, p := range c.providers {
		breaker := c.breakers[p.Name()]

		allowed, probing := breaker.Allow()
		if !allowed {
			c.logger.Debug().Str("provider", p.Name()).Msg("circuit open, skipping provider")
			continue
		}

		if !p.IsAvailable(ctx) {
			// Not a network failure; skip without touching circuit state
			// unless this was the half-open probe slot.
			if probing {
				breaker.RecordFailure()
				c.metrics.RecordBreakerProbe(p.Name(), false)
			}
			c.logger.Debug().Str("provider", p.Name()).Msg("provider unavailable, skipping")
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
		start := time.Now()
		result, err := p.TranscribeBuffer(callCtx, audio, cfg)
		cancel()
		elapsed := time.Since(start)

		if err != nil {
			lastErr = err
			opened := breaker.RecordFailure()
			c.metrics.RecordProviderCall(p.Name(), "failure", elapsed.Seconds())
			if probing {
				c.metrics.RecordBreakerProbe(p.Name(), false)
			}
			if opened {
				c.metrics.RecordBreakerOpen(p.Name())
				c.logger.Warn().Str("provider", p.Name()).Err(err).Msg("circuit opened")
			} else {
				c.logger.Warn().Str("provider", p.Name()).Err(err).Msg("provider call failed, trying next")
			}
			continue
		}

		breaker.RecordSuccess()
		c.metrics.RecordProviderCall(p.Name(), "success", elapsed.Seconds())
		if probing {
			c.metrics.RecordBreakerProbe(p.Name(), true)
		}
		return result, p.Name(), nil
	}

	if lastErr != nil {
		return nil, "", fmt.Errorf("%w: last error: %w", ErrAllProvidersUnavailable, lastErr)
	}
	return nil, "", ErrAllProvidersUnavailable
}

// OpenStream opens a continuous transcription stream on the first healthy
// provider. Mid-stream fallback is the caller's concern: on a stream error
// the caller asks for a fresh stream and accepts that audio between failure
// and re-establishment may be lost.
func (c *Coordinator) OpenStream(ctx context.Context, cfg stt.Config) (stt.Stream, string, error) {
	var lastErr error

	for _, p := range c.providers {
		breaker := c.breakers[p.Name()]

		allowed, probing := breaker.Allow()
		if !allowed {
			c.logger.Debug().Str("provider", p.Name()).Msg("circuit open, skipping provider")
			continue
		}

		if !p.IsAvailable(ctx) {
			if probing {
				breaker.RecordFailure()
				c.metrics.RecordBreakerProbe(p.Name(), false)
			}
			c.logger.Debug().Str("provider", p.Name()).Msg("provider unavailable, skipping")
			continue
		}

		stream, err := p.TranscribeStream(ctx, cfg)
		if err != nil {
			lastErr = err
			if opened := breaker.RecordFailure(); opened {
				c.metrics.RecordBreakerOpen(p.Name())
				c.logger.Warn().Str("provider", p.Name()).Err(err).Msg("circuit opened")
			}
			if probing {
				c.metrics.RecordBreakerProbe(p.Name(), false)
			}
			continue
		}

		// Opening a stream is not yet proof of health; only a half-open
		// probe closes the circuit here. Callers report stream outcomes via
		// RecordStreamSuccess and RecordStreamFailure.
		if probing {
			breaker.RecordSuccess()
			c.metrics.RecordBreakerProbe(p.Name(), true)
		}
		return stream, p.Name(), nil
	}

	if lastErr != nil {
		return nil, "", fmt.Errorf("%w: last error: %w", ErrAllProvidersUnavailable, lastErr)
	}
	return nil, "", ErrAllProvidersUnavailable
}

// RecordStreamSuccess resets the provider's circuit after a stream
// delivered a healthy result.
func (c *Coordinator) RecordStreamSuccess(provider string) {
	if breaker, ok := c.breakers[provider]; ok {
		breaker.RecordSuccess()
	}
}

// RecordStreamFailure counts a mid-stream provider failure toward that
// provider's circuit.
func (c *Coordinator) RecordStreamFailure(provider string) {
	if breaker, ok := c.breakers[provider]; ok {
		if breaker.RecordFailure() {
			c.metrics.RecordBreakerOpen(provider)
			c.logger.Warn().Str("provider", provider).Msg("circuit opened after stream failure")
		}
	}
}

// Health returns a snapshot of every provider's circuit, in preference order.
func (c *Coordinator) Health() []Health {
	out := make([]Health, 0, len(c.providers))
	for _, p := range c.providers {
		out = append(out, c.breakers[p.Name()].snapshot(p.Name()))
	}
	return out
}
