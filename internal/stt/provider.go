// Package stt defines the uniform contract for speech-recognition providers.
package stt

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Provider failure classification. Timeouts and provider errors both count
// toward circuit state; the distinction matters for logging and metrics.
var (
	ErrProviderTimeout = errors.New("provider timeout")
	ErrProviderError   = errors.New("provider error")
)

// Config carries per-request transcription settings.
type Config struct {
	Language       string
	SampleRateHz   int
	Channels       int
	Encoding       string
	InterimResults bool
}

// Result is one normalized transcription produced by a provider. Interim
// results may precede the final result for the same utterance; a provider
// must never emit an interim after its final.
type Result struct {
	Text         string
	Confidence   float64
	Final        bool
	Language     string
	StartSec     float64
	EndSec       float64
	Alternatives []string
}

// Stream is one continuous transcription session against a provider.
// Results are pushed on the channel in monotonic order per utterance and the
// channel is closed when the stream ends. A stream error is delivered via
// Err after the channel closes.
type Stream interface {
	// SendAudio pushes audio bytes into the stream.
	SendAudio(ctx context.Context, audio []byte) error

	// Results returns the channel of interim and final results.
	Results() <-chan Result

	// CloseSend signals end of audio and releases resources.
	CloseSend() error

	// Err reports the terminal stream error, if any, after Results closes.
	Err() error
}

// Provider is a speech-recognition backend.
type Provider interface {
	// Name identifies the provider in results, logs and metrics.
	Name() string

	// IsAvailable is a cheap liveness probe. It must fail safely to false.
	IsAvailable(ctx context.Context) bool

	// TranscribeBuffer performs a single request/response transcription.
	TranscribeBuffer(ctx context.Context, audio []byte, cfg Config) (*Result, error)

	// TranscribeStream opens a continuous transcription session.
	TranscribeStream(ctx context.Context, cfg Config) (Stream, error)
}

// Timeoutf wraps ErrProviderTimeout with context, keeping the cause in the
// error chain.
func Timeoutf(provider string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrProviderTimeout, provider, err)
}

// Errorf wraps ErrProviderError with context, keeping the cause in the
// error chain.
func Errorf(provider string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrProviderError, provider, err)
}

// EstimateConfidence synthesizes a confidence score from observable text
// properties for backends that report none. An undefined confidence is a
// bug, not an edge case, so every adapter must fill the field.
func EstimateConfidence(text string) float64 {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}

	score := 0.9

	// Very short transcripts are often fragments.
	words := strings.Fields(trimmed)
	if len(words) < 3 {
		score -= 0.15
	}

	// Bracketed artifacts like [inaudible] or (noise) signal trouble.
	if strings.ContainsAny(trimmed, "[]") || strings.ContainsAny(trimmed, "()") {
		score -= 0.2
	}

	// Immediate token repetition is a decoding artifact.
	for i := 1; i < len(words); i++ {
		if strings.EqualFold(words[i], words[i-1]) {
			score -= 0.1
			break
		}
	}

	if score < 0.1 {
		score = 0.1
	}
	return score
}
