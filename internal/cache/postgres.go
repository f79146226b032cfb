package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"interview-transcription-service/internal/models"
)

// Postgres is the durable cache tier. Entries survive process restarts; the
// retention sweep keeps the table bounded.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates the durable tier on an existing pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Bootstrap creates the cache table if it does not exist.
func (p *Postgres) Bootstrap(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS transcription_cache (
			fingerprint TEXT PRIMARY KEY,
			payload     JSONB NOT NULL,
			hit_count   BIGINT NOT NULL DEFAULT 0,
			last_used   TIMESTAMPTZ NOT NULL DEFAULT now(),
			expires_at  TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("%w: bootstrap: %w", ErrCacheUnavailable, err)
	}
	return nil
}

// Get returns the live entry, counting the hit and refreshing last-used in
// the same statement.
func (p *Postgres) Get(ctx context.Context, fingerprint string) (*Entry, error) {
	row := p.pool.QueryRow(ctx, `
		UPDATE transcription_cache
		SET hit_count = hit_count + 1, last_used = now()
		WHERE fingerprint = $1 AND expires_at > now()
		RETURNING payload, hit_count, last_used, expires_at`,
		fingerprint)

	var (
		payload []byte
		entry   Entry
	)
	err := row.Scan(&payload, &entry.HitCount, &entry.LastUsed, &entry.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get: %w", ErrCacheUnavailable, err)
	}

	if err := json.Unmarshal(payload, &entry.Payload); err != nil {
		return nil, fmt.Errorf("%w: decode payload: %w", ErrCacheUnavailable, err)
	}
	return &entry, nil
}

// Set upserts the payload. A rewrite resets the hit count and TTL.
func (p *Postgres) Set(ctx context.Context, fingerprint string, payload models.CachedTranscription, ttl time.Duration) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: encode payload: %w", ErrCacheUnavailable, err)
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO transcription_cache (fingerprint, payload, hit_count, last_used, expires_at)
		VALUES ($1, $2, 0, now(), now() + $3)
		ON CONFLICT (fingerprint) DO UPDATE
		SET payload = EXCLUDED.payload, hit_count = 0, last_used = now(), expires_at = EXCLUDED.expires_at`,
		fingerprint, body, ttl)
	if err != nil {
		return fmt.Errorf("%w: set: %w", ErrCacheUnavailable, err)
	}
	return nil
}

// Invalidate removes entries whose fingerprint matches the glob pattern,
// translated to a SQL LIKE pattern.
func (p *Postgres) Invalidate(ctx context.Context, pattern string) (int, error) {
	like := strings.NewReplacer("*", "%", "?", "_").Replace(pattern)

	tag, err := p.pool.Exec(ctx,
		`DELETE FROM transcription_cache WHERE fingerprint LIKE $1`, like)
	if err != nil {
		return 0, fmt.Errorf("%w: invalidate: %w", ErrCacheUnavailable, err)
	}
	return int(tag.RowsAffected()), nil
}

// Sweep removes expired entries plus stale low-use entries.
func (p *Postgres) Sweep(ctx context.Context, cutoff time.Time, minHits int64) (int, error) {
	tag, err := p.pool.Exec(ctx, `
		DELETE FROM transcription_cache
		WHERE expires_at < now()
		   OR (last_used < $1 AND hit_count < $2)`,
		cutoff, minHits)
	if err != nil {
		return 0, fmt.Errorf("%w: sweep: %w", ErrCacheUnavailable, err)
	}
	return int(tag.RowsAffected()), nil
}
