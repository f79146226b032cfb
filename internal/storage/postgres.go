package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"interview-transcription-service/internal/models"
)

// Postgres persists chunks and results through a pgx pool. Raw audio bytes
// are stored alongside the chunk metadata so replays and audits can fetch
// the original payload.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a repository on an existing pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Bootstrap creates the persistence tables if they do not exist.
func (p *Postgres) Bootstrap(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS audio_chunks (
			id             TEXT PRIMARY KEY,
			session_id     TEXT NOT NULL,
			seq            INT NOT NULL,
			data           BYTEA NOT NULL,
			format         TEXT NOT NULL,
			sample_rate_hz INT NOT NULL,
			channels       INT NOT NULL,
			duration_sec   DOUBLE PRECISION NOT NULL,
			fingerprint    TEXT NOT NULL,
			created_at     TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("bootstrap audio_chunks: %w", err)
	}

	_, err = p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS transcription_results (
			id           TEXT PRIMARY KEY,
			session_id   TEXT NOT NULL,
			chunk_id     TEXT,
			turn_id      TEXT,
			text         TEXT NOT NULL,
			confidence   DOUBLE PRECISION NOT NULL,
			final        BOOLEAN NOT NULL,
			provider     TEXT NOT NULL,
			language     TEXT,
			speaker_id   TEXT,
			alternatives JSONB,
			metadata     JSONB,
			created_at   TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("bootstrap transcription_results: %w", err)
	}

	_, err = p.pool.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS transcription_results_session_idx
		ON transcription_results (session_id, created_at)`)
	if err != nil {
		return fmt.Errorf("bootstrap result index: %w", err)
	}
	return nil
}

func (p *Postgres) SaveResult(ctx context.Context, result *models.TranscriptionResult) error {
	alternatives, err := json.Marshal(result.Alternatives)
	if err != nil {
		return fmt.Errorf("encode alternatives: %w", err)
	}
	metadata, err := json.Marshal(result.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO transcription_results
			(id, session_id, chunk_id, turn_id, text, confidence, final,
			 provider, language, speaker_id, alternatives, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		result.ID, result.SessionID, result.ChunkID, result.TurnID,
		result.Text, result.Confidence, result.Final, result.Provider,
		result.Language, result.SpeakerID, alternatives, metadata, result.CreatedAt)
	if err != nil {
		return fmt.Errorf("save result %s: %w", result.ID, err)
	}
	return nil
}

func (p *Postgres) SaveChunk(ctx context.Context, chunk *models.AudioChunk) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO audio_chunks
			(id, session_id, seq, data, format, sample_rate_hz, channels,
			 duration_sec, fingerprint, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`,
		chunk.ID, chunk.SessionID, chunk.Seq, chunk.Data, chunk.Format,
		chunk.SampleRateHz, chunk.Channels, chunk.DurationSec,
		chunk.Fingerprint, chunk.CreatedAt)
	if err != nil {
		return fmt.Errorf("save chunk %s: %w", chunk.ID, err)
	}
	return nil
}

func (p *Postgres) GetChunk(ctx context.Context, id string) (*models.AudioChunk, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, session_id, seq, data, format, sample_rate_hz, channels,
		       duration_sec, fingerprint, created_at
		FROM audio_chunks WHERE id = $1`, id)

	var chunk models.AudioChunk
	err := row.Scan(&chunk.ID, &chunk.SessionID, &chunk.Seq, &chunk.Data,
		&chunk.Format, &chunk.SampleRateHz, &chunk.Channels,
		&chunk.DurationSec, &chunk.Fingerprint, &chunk.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrChunkNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get chunk %s: %w", id, err)
	}
	return &chunk, nil
}

func (p *Postgres) ResultsBySession(ctx context.Context, sessionID string) ([]*models.TranscriptionResult, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, session_id, chunk_id, turn_id, text, confidence, final,
		       provider, language, speaker_id, alternatives, metadata, created_at
		FROM transcription_results
		WHERE session_id = $1
		ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("results for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []*models.TranscriptionResult
	for rows.Next() {
		var (
			result       models.TranscriptionResult
			alternatives []byte
			metadata     []byte
		)
		if err := rows.Scan(&result.ID, &result.SessionID, &result.ChunkID,
			&result.TurnID, &result.Text, &result.Confidence, &result.Final,
			&result.Provider, &result.Language, &result.SpeakerID,
			&alternatives, &metadata, &result.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if len(alternatives) > 0 {
			if err := json.Unmarshal(alternatives, &result.Alternatives); err != nil {
				return nil, fmt.Errorf("decode alternatives: %w", err)
			}
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &result.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		out = append(out, &result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return out, nil
}
