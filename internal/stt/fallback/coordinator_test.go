package fallback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"interview-transcription-service/internal/stt"
)

// fakeProvider implements stt.Provider with controllable behavior and call
// counting.
type fakeProvider struct {
	mu          sync.Mutex
	name        string
	fail        bool
	unavailable bool
	calls       int
	streamCalls int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) IsAvailable(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.unavailable
}

func (f *fakeProvider) TranscribeBuffer(ctx context.Context, audio []byte, cfg stt.Config) (*stt.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return nil, stt.Errorf(f.name, errors.New("backend down"))
	}
	return &stt.Result{Text: "ok from " + f.name, Confidence: 0.9, Final: true}, nil
}

func (f *fakeProvider) TranscribeStream(ctx context.Context, cfg stt.Config) (stt.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streamCalls++
	if f.fail {
		return nil, stt.Errorf(f.name, errors.New("backend down"))
	}
	return &fakeStream{results: make(chan stt.Result)}, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeProvider) setFail(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = v
}

type fakeStream struct {
	results chan stt.Result
	once    sync.Once
}

func (s *fakeStream) SendAudio(ctx context.Context, audio []byte) error { return nil }
func (s *fakeStream) Results() <-chan stt.Result                        { return s.results }
func (s *fakeStream) CloseSend() error {
	s.once.Do(func() { close(s.results) })
	return nil
}
func (s *fakeStream) Err() error { return nil }

func testConfig() Config {
	return Config{
		FailureThreshold: 5,
		Cooldown:         time.Minute,
		MaxCooldown:      time.Hour,
		CallTimeout:      time.Second,
	}
}

func TestTranscribe_FallsBackInOrder(t *testing.T) {
	a := &fakeProvider{name: "a", fail: true}
	b := &fakeProvider{name: "b"}
	c := New([]stt.Provider{a, b}, testConfig())

	result, provider, err := c.Transcribe(context.Background(), []byte("audio"), stt.Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider != "b" {
		t.Errorf("expected result from provider b, got %s", provider)
	}
	if result.Text != "ok from b" {
		t.Errorf("unexpected text: %q", result.Text)
	}
	if a.callCount() != 1 {
		t.Errorf("expected provider a tried once, got %d", a.callCount())
	}
}

func TestTranscribe_CircuitSkipsProviderEntirely(t *testing.T) {
	a := &fakeProvider{name: "a", fail: true}
	b := &fakeProvider{name: "b"}
	c := New([]stt.Provider{a, b}, testConfig())

	ctx := context.Background()

	// Five consecutive failures open a's circuit.
	for i := 0; i < 5; i++ {
		if _, provider, err := c.Transcribe(ctx, []byte("audio"), stt.Config{}); err != nil || provider != "b" {
			t.Fatalf("call %d: provider=%s err=%v", i, provider, err)
		}
	}
	if a.callCount() != 5 {
		t.Fatalf("expected 5 attempts against a, got %d", a.callCount())
	}

	// With the circuit open, a receives zero further invocation attempts.
	for i := 0; i < 3; i++ {
		c.Transcribe(ctx, []byte("audio"), stt.Config{})
	}
	if a.callCount() != 5 {
		t.Errorf("open circuit leaked %d calls to provider a", a.callCount()-5)
	}
}

func TestTranscribe_HalfOpenProbeRestoresPrimary(t *testing.T) {
	a := &fakeProvider{name: "a", fail: true}
	b := &fakeProvider{name: "b"}
	c := New([]stt.Provider{a, b}, testConfig())

	now := time.Unix(1700000000, 0)
	c.breakers["a"].now = func() time.Time { return now }

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		c.Transcribe(ctx, []byte("audio"), stt.Config{})
	}
	if c.breakers["a"].State() != StateOpen {
		t.Fatal("expected a's circuit open")
	}

	// Provider recovers; after the cooldown one probe goes through and the
	// static preference order makes a primary again.
	a.setFail(false)
	now = now.Add(2 * time.Minute)

	_, provider, err := c.Transcribe(ctx, []byte("audio"), stt.Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider != "a" {
		t.Errorf("expected probe to restore provider a, got %s", provider)
	}
	if c.breakers["a"].State() != StateClosed {
		t.Errorf("expected a's circuit closed after successful probe, got %s", c.breakers["a"].State())
	}
}

func TestTranscribe_AllProvidersUnavailable(t *testing.T) {
	a := &fakeProvider{name: "a", fail: true}
	b := &fakeProvider{name: "b", fail: true}
	c := New([]stt.Provider{a, b}, testConfig())

	_, _, err := c.Transcribe(context.Background(), []byte("audio"), stt.Config{})
	if !errors.Is(err, ErrAllProvidersUnavailable) {
		t.Errorf("expected ErrAllProvidersUnavailable, got %v", err)
	}
}

func TestTranscribe_SkipsUnavailableWithoutCircuitPenalty(t *testing.T) {
	a := &fakeProvider{name: "a", unavailable: true}
	b := &fakeProvider{name: "b"}
	c := New([]stt.Provider{a, b}, testConfig())

	_, provider, err := c.Transcribe(context.Background(), []byte("audio"), stt.Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider != "b" {
		t.Errorf("expected provider b, got %s", provider)
	}
	if a.callCount() != 0 {
		t.Errorf("unavailable provider was still called %d times", a.callCount())
	}
	if c.breakers["a"].State() != StateClosed {
		t.Errorf("liveness skip must not open the circuit, got %s", c.breakers["a"].State())
	}
}

func TestOpenStream_FallsBack(t *testing.T) {
	a := &fakeProvider{name: "a", fail: true}
	b := &fakeProvider{name: "b"}
	c := New([]stt.Provider{a, b}, testConfig())

	stream, provider, err := c.OpenStream(context.Background(), stt.Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer stream.CloseSend()

	if provider != "b" {
		t.Errorf("expected stream on provider b, got %s", provider)
	}
}

func TestRecordStreamFailure_CountsTowardCircuit(t *testing.T) {
	a := &fakeProvider{name: "a"}
	c := New([]stt.Provider{a}, testConfig())

	for i := 0; i < 5; i++ {
		c.RecordStreamFailure("a")
	}

	if c.breakers["a"].State() != StateOpen {
		t.Errorf("expected circuit open after 5 stream failures, got %s", c.breakers["a"].State())
	}
}

func TestRecordStreamSuccess_ResetsCircuit(t *testing.T) {
	a := &fakeProvider{name: "a"}
	c := New([]stt.Provider{a}, testConfig())

	for i := 0; i < 4; i++ {
		c.RecordStreamFailure("a")
	}
	c.RecordStreamSuccess("a")
	c.RecordStreamFailure("a")

	if c.breakers["a"].State() != StateClosed {
		t.Errorf("a healthy result must reset the consecutive-failure count, got %s", c.breakers["a"].State())
	}
}

func TestHealth_SnapshotOrder(t *testing.T) {
	a := &fakeProvider{name: "a"}
	b := &fakeProvider{name: "b"}
	c := New([]stt.Provider{a, b}, testConfig())

	health := c.Health()
	if len(health) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(health))
	}
	if health[0].Provider != "a" || health[1].Provider != "b" {
		t.Errorf("health not in preference order: %+v", health)
	}
}
