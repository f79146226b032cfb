package session

import (
	"errors"
	"testing"
	"time"
)

type fakeStream struct {
	closed bool
}

func (f *fakeStream) Close() { f.closed = true }

func TestRegistry_JoinThenLeave(t *testing.T) {
	r := NewRegistry()

	stats := r.Join("conn-1", "alice", "session-x")
	if stats.Participants != 1 {
		t.Errorf("expected 1 participant, got %d", stats.Participants)
	}

	if got, ok := r.RoomOf("conn-1"); !ok || got != "session-x" {
		t.Errorf("RoomOf = %q, %v", got, ok)
	}

	sessionID, _ := r.Leave("conn-1")
	if sessionID != "session-x" {
		t.Errorf("expected leave from session-x, got %q", sessionID)
	}
	if members := r.ConnectionsIn("session-x"); len(members) != 0 {
		t.Errorf("expected empty room after leave, got %v", members)
	}
}

func TestRegistry_LeaveIsIdempotent(t *testing.T) {
	r := NewRegistry()
	r.Join("conn-1", "alice", "session-x")

	r.Leave("conn-1")
	if sessionID, detached := r.Leave("conn-1"); sessionID != "" || detached != nil {
		t.Errorf("second leave must be a no-op, got %q, %v", sessionID, detached)
	}
	if sessionID, _ := r.Leave("never-joined"); sessionID != "" {
		t.Errorf("leave of unknown connection must be a no-op, got %q", sessionID)
	}
}

func TestRegistry_ConnectionsIn(t *testing.T) {
	r := NewRegistry()
	r.Join("conn-1", "alice", "session-x")
	r.Join("conn-2", "bob", "session-x")
	r.Join("conn-3", "carol", "session-y")

	members := r.ConnectionsIn("session-x")
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(members))
	}
	seen := map[string]string{}
	for _, m := range members {
		seen[m.ConnID] = m.ParticipantID
	}
	if seen["conn-1"] != "alice" || seen["conn-2"] != "bob" {
		t.Errorf("unexpected members %v", seen)
	}

	if members := r.ConnectionsIn("unknown"); members != nil {
		t.Errorf("unknown session must yield no members, got %v", members)
	}
}

func TestRegistry_JoinMovesConnectionBetweenRooms(t *testing.T) {
	r := NewRegistry()
	r.Join("conn-1", "alice", "session-x")
	r.Join("conn-1", "alice", "session-y")

	if len(r.ConnectionsIn("session-x")) != 0 {
		t.Error("connection must be removed from its previous room")
	}
	if got, _ := r.RoomOf("conn-1"); got != "session-y" {
		t.Errorf("expected session-y, got %q", got)
	}
}

func TestRegistry_DuplicateStreamAttach(t *testing.T) {
	r := NewRegistry()
	r.Join("conn-1", "alice", "session-x")

	if err := r.AttachStream("session-x", &fakeStream{}); err != nil {
		t.Fatalf("first attach failed: %v", err)
	}
	if err := r.AttachStream("session-x", &fakeStream{}); !errors.Is(err, ErrDuplicateStreamAttach) {
		t.Errorf("expected ErrDuplicateStreamAttach, got %v", err)
	}
}

func TestRegistry_AttachStreamRoomNotFound(t *testing.T) {
	r := NewRegistry()
	if err := r.AttachStream("ghost", &fakeStream{}); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestRegistry_DetachReleasesSlotSynchronously(t *testing.T) {
	r := NewRegistry()
	r.Join("conn-1", "alice", "session-x")

	first := &fakeStream{}
	r.AttachStream("session-x", first)

	if got := r.DetachStream("session-x"); got != first {
		t.Errorf("expected the attached stream back, got %v", got)
	}

	// The slot is free immediately; a re-attach must succeed.
	if err := r.AttachStream("session-x", &fakeStream{}); err != nil {
		t.Errorf("re-attach after detach failed: %v", err)
	}
}

func TestRegistry_LastLeaveDetachesStream(t *testing.T) {
	r := NewRegistry()
	r.Join("conn-1", "alice", "session-x")
	r.Join("conn-2", "bob", "session-x")

	s := &fakeStream{}
	r.AttachStream("session-x", s)

	if _, detached := r.Leave("conn-1"); detached != nil {
		t.Error("stream must stay attached while the room has members")
	}
	if _, detached := r.Leave("conn-2"); detached != s {
		t.Error("emptying the room must hand the stream back for closing")
	}
	if _, ok := r.StreamFor("session-x"); ok {
		t.Error("stream slot must be free after the room emptied")
	}
}

func TestRegistry_StatsUnknownSession(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Stats("ghost"); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestRegistry_SweepReapsIdleEmptyRooms(t *testing.T) {
	r := NewRegistry()
	now := time.Unix(1700000000, 0)
	r.now = func() time.Time { return now }

	r.Join("conn-1", "alice", "session-idle")
	r.Join("conn-2", "bob", "session-live")
	r.Leave("conn-1")

	// Not yet idle long enough.
	now = now.Add(time.Minute)
	if reaped := r.Sweep(5 * time.Minute); reaped != 0 {
		t.Errorf("expected no rooms reaped yet, got %d", reaped)
	}

	now = now.Add(10 * time.Minute)
	if reaped := r.Sweep(5 * time.Minute); reaped != 1 {
		t.Errorf("expected 1 room reaped, got %d", reaped)
	}

	// The occupied room survives regardless of age.
	if _, err := r.Stats("session-live"); err != nil {
		t.Errorf("occupied room must survive the sweep: %v", err)
	}
	if _, err := r.Stats("session-idle"); !errors.Is(err, ErrRoomNotFound) {
		t.Error("idle empty room must be reaped")
	}

	// A rejoin after reaping recreates the room cleanly.
	stats := r.Join("conn-3", "carol", "session-idle")
	if stats.Participants != 1 {
		t.Errorf("expected fresh room with 1 participant, got %d", stats.Participants)
	}
}
