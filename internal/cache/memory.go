package cache

import (
	"context"
	"path"
	"sync"
	"time"

	"interview-transcription-service/internal/models"
)

// Memory is the fast in-process tier: a mutex-guarded map with lazy TTL
// expiration.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*Entry
	now     func() time.Time
}

// NewMemory creates an empty in-memory tier.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]*Entry),
		now:     time.Now,
	}
}

// Get returns the live entry for the fingerprint, counting the hit. Expired
// entries are removed on access.
func (m *Memory) Get(ctx context.Context, fingerprint string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[fingerprint]
	if !ok {
		return nil, nil
	}
	if m.now().After(entry.ExpiresAt) {
		delete(m.entries, fingerprint)
		return nil, nil
	}

	entry.HitCount++
	entry.LastUsed = m.now()

	// Copy so callers never share the mutable bookkeeping.
	out := *entry
	return &out, nil
}

// Set stores the payload under the fingerprint with the given TTL.
func (m *Memory) Set(ctx context.Context, fingerprint string, payload models.CachedTranscription, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[fingerprint] = &Entry{
		Payload:   payload,
		LastUsed:  m.now(),
		ExpiresAt: m.now().Add(ttl),
	}
	return nil
}

// Invalidate removes entries whose fingerprint matches the glob pattern.
func (m *Memory) Invalidate(ctx context.Context, pattern string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for fp := range m.entries {
		ok, err := path.Match(pattern, fp)
		if err != nil {
			return removed, err
		}
		if ok {
			delete(m.entries, fp)
			removed++
		}
	}
	return removed, nil
}

// Sweep removes expired entries plus entries last used before the cutoff
// with fewer than minHits hits.
func (m *Memory) Sweep(ctx context.Context, cutoff time.Time, minHits int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for fp, entry := range m.entries {
		expired := m.now().After(entry.ExpiresAt)
		stale := entry.LastUsed.Before(cutoff) && entry.HitCount < minHits
		if expired || stale {
			delete(m.entries, fp)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of live entries, for tests and stats.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
