// Package models defines the data structures shared across the transcription pipeline.
package models

import (
	"time"

	"github.com/google/uuid"
)

// AudioChunk is one ingested fragment of conversation audio. Immutable after
// creation; the fingerprint is the cache key for its transcription.
type AudioChunk struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"sessionId"`
	Seq          int       `json:"seq"`
	Data         []byte    `json:"-"`
	Format       string    `json:"format"`
	SampleRateHz int       `json:"sampleRateHz"`
	Channels     int       `json:"channels"`
	DurationSec  float64   `json:"durationSec"`
	Fingerprint  string    `json:"fingerprint"`
	CreatedAt    time.Time `json:"createdAt"`
}

// NewAudioChunk creates a chunk with a fresh ID and creation time.
func NewAudioChunk(sessionID string, seq int, data []byte, format string) *AudioChunk {
	return &AudioChunk{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Seq:       seq,
		Data:      data,
		Format:    format,
		CreatedAt: time.Now().UTC(),
	}
}

// TranscriptionResult is the text produced for one audio chunk or one
// utterance of a continuous stream. Results are never mutated after creation;
// a refinement is a new result linked to the same chunk.
type TranscriptionResult struct {
	ID           string            `json:"id"`
	SessionID    string            `json:"sessionId"`
	TurnID       string            `json:"turnId,omitempty"`
	ChunkID      string            `json:"chunkId,omitempty"`
	Text         string            `json:"text"`
	Confidence   float64           `json:"confidence"`
	Final        bool              `json:"final"`
	Provider     string            `json:"provider"`
	Language     string            `json:"language,omitempty"`
	SpeakerID    string            `json:"speakerId,omitempty"`
	Alternatives []string          `json:"alternatives,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
}

// NewTranscriptionResult creates a result with a fresh ID and creation time.
func NewTranscriptionResult(sessionID, chunkID string) *TranscriptionResult {
	return &TranscriptionResult{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		ChunkID:   chunkID,
		CreatedAt: time.Now().UTC(),
	}
}

// Refine creates a new result for the same chunk, keeping the original as
// history so accuracy trends stay auditable.
func (r *TranscriptionResult) Refine(text string, confidence float64, provider string) *TranscriptionResult {
	next := NewTranscriptionResult(r.SessionID, r.ChunkID)
	next.TurnID = r.TurnID
	next.Text = text
	next.Confidence = confidence
	next.Final = true
	next.Provider = provider
	next.Language = r.Language
	next.SpeakerID = r.SpeakerID
	next.Metadata = map[string]string{"refines": r.ID}
	return next
}

// CachedTranscription is the provider-independent payload stored in the
// result cache. Identity fields (result/chunk/session IDs, timestamps) are
// never cached; a hit always gets fresh ones.
type CachedTranscription struct {
	Text         string   `json:"text"`
	Confidence   float64  `json:"confidence"`
	Provider     string   `json:"provider"`
	Language     string   `json:"language,omitempty"`
	Alternatives []string `json:"alternatives,omitempty"`
}

// SpeakerSpan is one speaker-homogeneous portion of a chunk, as produced by
// the diarizer.
type SpeakerSpan struct {
	SpeakerID  string  `json:"speakerId"`
	Confidence float64 `json:"confidence"`
	StartSec   float64 `json:"startSec"`
	EndSec     float64 `json:"endSec"`
}

// AudioFeatures holds the best-effort properties sniffed from raw audio bytes.
type AudioFeatures struct {
	Format       string  `json:"format"`
	SampleRateHz int     `json:"sampleRateHz"`
	Channels     int     `json:"channels"`
	DurationSec  float64 `json:"durationSec"`
	SizeBytes    int     `json:"sizeBytes"`
}

// TranscriptEvent is the shape published to Kafka for downstream consumers.
type TranscriptEvent struct {
	EventType  string  `json:"eventType"`
	SessionID  string  `json:"sessionId"`
	ResultID   string  `json:"resultId"`
	ChunkID    string  `json:"chunkId,omitempty"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Final      bool    `json:"final"`
	Provider   string  `json:"provider"`
	SpeakerID  string  `json:"speakerId,omitempty"`
	Timestamp  int64   `json:"timestamp"`
}

// EventFromResult converts a pipeline result into its published form.
func EventFromResult(r *TranscriptionResult) TranscriptEvent {
	eventType := "interview.transcript.partial"
	if r.Final {
		eventType = "interview.transcript.final"
	}
	return TranscriptEvent{
		EventType:  eventType,
		SessionID:  r.SessionID,
		ResultID:   r.ID,
		ChunkID:    r.ChunkID,
		Text:       r.Text,
		Confidence: r.Confidence,
		Final:      r.Final,
		Provider:   r.Provider,
		SpeakerID:  r.SpeakerID,
		Timestamp:  r.CreatedAt.UnixMilli(),
	}
}
