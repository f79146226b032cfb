// Package mock provides a scripted speech-recognition provider for local
// development and tests. It simulates realistic behavior: progressive interim
// results while audio arrives, exactly one final per utterance, and never an
// interim after the final.
package mock

import (
	"context"
	"sync"

	"interview-transcription-service/internal/stt"
)

// Utterance is one scripted exchange with progressive transcripts.
type Utterance struct {
	Partials   []string
	Final      string
	Confidence float64
}

// DefaultUtterances provides sample interview utterances.
var DefaultUtterances = []Utterance{
	{
		Partials:   []string{"Tell me", "Tell me about your"},
		Final:      "Tell me about your previous role",
		Confidence: 0.95,
	},
	{
		Partials:   []string{"I led", "I led a team of"},
		Final:      "I led a team of four engineers",
		Confidence: 0.92,
	},
	{
		Partials:   []string{"What would", "What would you say is"},
		Final:      "What would you say is your biggest strength",
		Confidence: 0.9,
	},
	{
		Partials:   []string{"Thank you"},
		Final:      "Thank you for your time today",
		Confidence: 0.97,
	},
}

// Adapter implements stt.Provider with scripted responses.
type Adapter struct {
	mu         sync.Mutex
	utterances []Utterance
	next       int
	available  bool
}

// New creates a mock provider cycling through DefaultUtterances.
func New() *Adapter {
	return NewWithUtterances(DefaultUtterances)
}

// NewWithUtterances creates a mock provider with a custom script.
func NewWithUtterances(utterances []Utterance) *Adapter {
	return &Adapter{utterances: utterances, available: true}
}

// Name identifies this provider.
func (a *Adapter) Name() string { return "mock" }

// SetAvailable toggles the liveness probe result.
func (a *Adapter) SetAvailable(v bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.available = v
}

// IsAvailable reports the configured liveness.
func (a *Adapter) IsAvailable(ctx context.Context) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.available
}

func (a *Adapter) take() Utterance {
	a.mu.Lock()
	defer a.mu.Unlock()
	u := a.utterances[a.next%len(a.utterances)]
	a.next++
	return u
}

// TranscribeBuffer returns the next scripted final.
func (a *Adapter) TranscribeBuffer(ctx context.Context, audio []byte, cfg stt.Config) (*stt.Result, error) {
	u := a.take()
	return &stt.Result{
		Text:       u.Final,
		Confidence: u.Confidence,
		Final:      true,
		Language:   cfg.Language,
	}, nil
}

// TranscribeStream opens a scripted stream. Each audio frame advances one
// partial; once the script runs out the final is emitted, mimicking silence
// detection ending the utterance.
func (a *Adapter) TranscribeStream(ctx context.Context, cfg stt.Config) (stt.Stream, error) {
	return &stream{
		adapter:  a,
		language: cfg.Language,
		current:  a.take(),
		results:  make(chan stt.Result, 16),
	}, nil
}

type stream struct {
	adapter  *Adapter
	language string

	mu        sync.Mutex
	current   Utterance
	partialAt int
	finalSent bool
	closed    bool
	results   chan stt.Result
}

func (s *stream) SendAudio(ctx context.Context, audio []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	if s.partialAt < len(s.current.Partials) {
		s.results <- stt.Result{
			Text:       s.current.Partials[s.partialAt],
			Confidence: s.current.Confidence * 0.6,
			Final:      false,
			Language:   s.language,
		}
		s.partialAt++
		return nil
	}

	if !s.finalSent {
		s.finalSent = true
		s.results <- stt.Result{
			Text:       s.current.Final,
			Confidence: s.current.Confidence,
			Final:      true,
			Language:   s.language,
		}
		// Next utterance begins on the following frame.
		s.current = s.adapter.take()
		s.partialAt = 0
		s.finalSent = false
	}

	return nil
}

func (s *stream) Results() <-chan stt.Result { return s.results }

// CloseSend flushes a final for any utterance still mid-script, then closes
// the results channel.
func (s *stream) CloseSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.partialAt > 0 && !s.finalSent {
		s.results <- stt.Result{
			Text:       s.current.Final,
			Confidence: s.current.Confidence,
			Final:      true,
			Language:   s.language,
		}
	}
	close(s.results)
	return nil
}

func (s *stream) Err() error { return nil }
