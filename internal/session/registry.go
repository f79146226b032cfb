// Package session tracks rooms: the set of connections participating in one
// interview session, plus the at-most-one continuous audio stream attached
// to it. The Registry is the only component that mutates room state; the
// gateway reads and forwards through registry calls.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"interview-transcription-service/internal/observability/logging"
	"interview-transcription-service/internal/observability/metrics"
)

var (
	// ErrRoomNotFound indicates an operation against a session with no room.
	ErrRoomNotFound = errors.New("session room not found")

	// ErrDuplicateStreamAttach indicates a second continuous stream was
	// attached to a session that already has one.
	ErrDuplicateStreamAttach = errors.New("session already has an active stream")
)

// Stream is the continuous-audio handle attached to a room. The registry
// never calls Close itself; detach returns the handle so the caller can
// close it outside any lock.
type Stream interface {
	Close()
}

// Member is one connection in a room.
type Member struct {
	ConnID        string
	ParticipantID string
}

// Stats is a point-in-time snapshot of one room.
type Stats struct {
	SessionID    string    `json:"sessionId"`
	Participants int       `json:"participants"`
	StreamActive bool      `json:"streamActive"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
}

type room struct {
	sessionID    string
	members      map[string]string // connID -> participantID
	stream       Stream
	createdAt    time.Time
	lastActivity time.Time
}

// Registry owns all room state. Locks guard only the in-memory maps; no
// lock is ever held across I/O.
type Registry struct {
	mu      sync.Mutex
	rooms   map[string]*room  // sessionID -> room
	conns   map[string]string // connID -> sessionID
	now     func() time.Time
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:   make(map[string]*room),
		conns:   make(map[string]string),
		now:     time.Now,
		logger:  logging.WithComponent("session"),
		metrics: metrics.DefaultMetrics,
	}
}

// Join adds the connection to the session's room, creating the room on
// first join. A connection already in another room is moved.
func (r *Registry) Join(connID, participantID, sessionID string) Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.conns[connID]; ok && prev != sessionID {
		r.removeLocked(connID, prev)
	}

	rm, ok := r.rooms[sessionID]
	if !ok {
		rm = &room{
			sessionID: sessionID,
			members:   make(map[string]string),
			createdAt: r.now(),
		}
		r.rooms[sessionID] = rm
		r.metrics.RoomsActive.Inc()
	}

	if _, present := rm.members[connID]; !present {
		r.metrics.ConnectionsActive.Inc()
	}
	rm.members[connID] = participantID
	rm.lastActivity = r.now()
	r.conns[connID] = sessionID

	return r.statsLocked(rm)
}

// Leave removes the connection from its room. Idempotent: leaving twice or
// leaving a never-joined connection is a no-op. When the room empties and
// holds a stream, the stream is detached and returned for the caller to
// close.
func (r *Registry) Leave(connID string) (sessionID string, detached Stream) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessionID, ok := r.conns[connID]
	if !ok {
		return "", nil
	}
	r.removeLocked(connID, sessionID)

	if rm, ok := r.rooms[sessionID]; ok && len(rm.members) == 0 && rm.stream != nil {
		detached = rm.stream
		rm.stream = nil
	}
	return sessionID, detached
}

func (r *Registry) removeLocked(connID, sessionID string) {
	delete(r.conns, connID)
	if rm, ok := r.rooms[sessionID]; ok {
		if _, present := rm.members[connID]; present {
			delete(rm.members, connID)
			r.metrics.ConnectionsActive.Dec()
		}
		rm.lastActivity = r.now()
	}
}

// RoomOf returns the session the connection belongs to.
func (r *Registry) RoomOf(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sessionID, ok := r.conns[connID]
	return sessionID, ok
}

// ConnectionsIn lists the members of a session's room in no particular
// order. Unknown sessions yield an empty list.
func (r *Registry) ConnectionsIn(sessionID string) []Member {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[sessionID]
	if !ok {
		return nil
	}
	out := make([]Member, 0, len(rm.members))
	for connID, participantID := range rm.members {
		out = append(out, Member{ConnID: connID, ParticipantID: participantID})
	}
	return out
}

// Stats returns a snapshot of the room.
func (r *Registry) Stats(sessionID string) (Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[sessionID]
	if !ok {
		return Stats{}, ErrRoomNotFound
	}
	return r.statsLocked(rm), nil
}

func (r *Registry) statsLocked(rm *room) Stats {
	return Stats{
		SessionID:    rm.sessionID,
		Participants: len(rm.members),
		StreamActive: rm.stream != nil,
		CreatedAt:    rm.createdAt,
		LastActivity: rm.lastActivity,
	}
}

// AttachStream binds the continuous-audio handle to the session. At most
// one stream may exist per session; a second attach is rejected.
func (r *Registry) AttachStream(sessionID string, s Stream) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[sessionID]
	if !ok {
		return ErrRoomNotFound
	}
	if rm.stream != nil {
		return ErrDuplicateStreamAttach
	}
	rm.stream = s
	rm.lastActivity = r.now()
	return nil
}

// DetachStream releases the session's stream slot synchronously and returns
// the handle, nil when no stream was attached. A reconnect can re-attach
// immediately after this returns.
func (r *Registry) DetachStream(sessionID string) Stream {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[sessionID]
	if !ok || rm.stream == nil {
		return nil
	}
	s := rm.stream
	rm.stream = nil
	rm.lastActivity = r.now()
	return s
}

// StreamFor returns the session's active stream, if any.
func (r *Registry) StreamFor(sessionID string) (Stream, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[sessionID]
	if !ok || rm.stream == nil {
		return nil, false
	}
	return rm.stream, true
}

// Touch refreshes the room's last-activity time, keeping rooms with audio
// flowing clear of the idle sweep.
func (r *Registry) Touch(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rm, ok := r.rooms[sessionID]; ok {
		rm.lastActivity = r.now()
	}
}

// Sweep removes rooms that have been empty for at least idleAfter and
// returns how many were reaped.
func (r *Registry) Sweep(idleAfter time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-idleAfter)
	reaped := 0
	for sessionID, rm := range r.rooms {
		if len(rm.members) == 0 && rm.lastActivity.Before(cutoff) {
			delete(r.rooms, sessionID)
			reaped++
			r.metrics.RoomsActive.Dec()
			r.metrics.RoomsReaped.Inc()
		}
	}
	if reaped > 0 {
		r.logger.Info().Int("reaped", reaped).Msg("idle rooms reaped")
	}
	return reaped
}

// RunSweeper reaps idle rooms on the interval until ctx is done.
func (r *Registry) RunSweeper(ctx context.Context, interval, idleAfter time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(idleAfter)
		}
	}
}
