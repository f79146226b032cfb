// Package storage persists audio chunks and transcription results. The rest
// of the service depends only on the Repository contract, never on a
// concrete engine.
package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"interview-transcription-service/internal/models"
)

// ErrChunkNotFound indicates a lookup for an unknown chunk id.
var ErrChunkNotFound = errors.New("audio chunk not found")

// Repository is the narrow persistence contract the pipeline depends on.
type Repository interface {
	SaveResult(ctx context.Context, result *models.TranscriptionResult) error
	SaveChunk(ctx context.Context, chunk *models.AudioChunk) error
	GetChunk(ctx context.Context, id string) (*models.AudioChunk, error)
	ResultsBySession(ctx context.Context, sessionID string) ([]*models.TranscriptionResult, error)
}

// InMemory keeps chunks and results in process memory. Used when Postgres is
// disabled and as the repository in tests.
type InMemory struct {
	mu      sync.Mutex
	chunks  map[string]*models.AudioChunk
	results map[string][]*models.TranscriptionResult
}

// NewInMemory creates an empty in-memory repository.
func NewInMemory() *InMemory {
	return &InMemory{
		chunks:  make(map[string]*models.AudioChunk),
		results: make(map[string][]*models.TranscriptionResult),
	}
}

func (r *InMemory) SaveResult(ctx context.Context, result *models.TranscriptionResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *result
	r.results[result.SessionID] = append(r.results[result.SessionID], &copied)
	return nil
}

func (r *InMemory) SaveChunk(ctx context.Context, chunk *models.AudioChunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *chunk
	r.chunks[chunk.ID] = &copied
	return nil
}

func (r *InMemory) GetChunk(ctx context.Context, id string) (*models.AudioChunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	chunk, ok := r.chunks[id]
	if !ok {
		return nil, ErrChunkNotFound
	}
	copied := *chunk
	return &copied, nil
}

// ResultsBySession returns results ordered by creation time.
func (r *InMemory) ResultsBySession(ctx context.Context, sessionID string) ([]*models.TranscriptionResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := r.results[sessionID]
	out := make([]*models.TranscriptionResult, 0, len(stored))
	for _, res := range stored {
		copied := *res
		out = append(out, &copied)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
