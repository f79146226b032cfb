package orchestrator

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"interview-transcription-service/internal/audio"
	"interview-transcription-service/internal/cache"
	"interview-transcription-service/internal/diarize"
	"interview-transcription-service/internal/events"
	"interview-transcription-service/internal/models"
	"interview-transcription-service/internal/storage"
	"interview-transcription-service/internal/stt"
	"interview-transcription-service/internal/stt/fallback"
)

// countingProvider counts buffer calls so tests can assert the cache
// short-circuits the provider path.
type countingProvider struct {
	name string
	text string

	mu    sync.Mutex
	calls int
	fail  bool
}

func (p *countingProvider) Name() string                        { return p.name }
func (p *countingProvider) IsAvailable(ctx context.Context) bool { return true }

func (p *countingProvider) TranscribeBuffer(ctx context.Context, audioBytes []byte, cfg stt.Config) (*stt.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.fail {
		return nil, stt.Errorf(p.name, errors.New("backend down"))
	}
	return &stt.Result{Text: p.text, Confidence: 0.93, Final: true, Language: cfg.Language}, nil
}

func (p *countingProvider) TranscribeStream(ctx context.Context, cfg stt.Config) (stt.Stream, error) {
	return nil, stt.Errorf(p.name, errors.New("streaming not scripted"))
}

func (p *countingProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func breakerConfig() fallback.Config {
	return fallback.Config{
		FailureThreshold: 5,
		Cooldown:         time.Minute,
		MaxCooldown:      time.Hour,
		CallTimeout:      time.Second,
	}
}

func newTestOrchestrator(providers []stt.Provider, diarizer *diarize.Diarizer) (*Orchestrator, *storage.InMemory) {
	repo := storage.NewInMemory()
	o := New(
		audio.NewProcessor(),
		fallback.New(providers, breakerConfig()),
		cache.New(cache.NewMemory(), nil, time.Hour),
		diarizer,
		repo,
		events.New(&events.Config{Enabled: false}),
		Config{STT: stt.Config{Language: "en-US", SampleRateHz: 16000, Channels: 1}},
	)
	return o, repo
}

func TestSubmit_CacheHitBypassesProviders(t *testing.T) {
	provider := &countingProvider{name: "primary", text: "tell me about yourself"}
	o, _ := newTestOrchestrator([]stt.Provider{provider}, nil)
	ctx := context.Background()

	data := []byte("the same audio payload three times over")

	var results []*models.TranscriptionResult
	for seq := 0; seq < 3; seq++ {
		chunk := models.NewAudioChunk("session-1", seq, data, "pcm")
		result, err := o.Submit(ctx, chunk)
		if err != nil {
			t.Fatalf("submit %d failed: %v", seq, err)
		}
		results = append(results, result)
	}

	if provider.callCount() != 1 {
		t.Errorf("expected exactly 1 provider call for identical audio, got %d", provider.callCount())
	}
	for i, r := range results {
		if r.Text != "tell me about yourself" {
			t.Errorf("result %d text mismatch: %q", i, r.Text)
		}
	}

	// Replays carry fresh identity, never the original result's id.
	if results[0].ID == results[1].ID || results[1].ID == results[2].ID {
		t.Error("cache replays must get fresh result ids")
	}
	if results[1].Metadata["source"] != "cache" || results[2].Metadata["source"] != "cache" {
		t.Error("replayed results must be marked as cache sourced")
	}
	if results[0].Metadata["source"] == "cache" {
		t.Error("first result came from the provider, not the cache")
	}
}

func TestSubmit_InvalidAudioRejected(t *testing.T) {
	provider := &countingProvider{name: "primary", text: "unused"}
	o, _ := newTestOrchestrator([]stt.Provider{provider}, nil)

	chunk := models.NewAudioChunk("session-1", 0, nil, "wav")
	_, err := o.Submit(context.Background(), chunk)
	if !errors.Is(err, audio.ErrInvalidAudio) {
		t.Errorf("expected ErrInvalidAudio, got %v", err)
	}
	if provider.callCount() != 0 {
		t.Error("invalid audio must never reach a provider")
	}
}

func TestSubmit_AllProvidersUnavailable(t *testing.T) {
	a := &countingProvider{name: "a", fail: true}
	b := &countingProvider{name: "b", fail: true}
	o, _ := newTestOrchestrator([]stt.Provider{a, b}, nil)

	chunk := models.NewAudioChunk("session-1", 0, []byte("audio"), "pcm")
	_, err := o.Submit(context.Background(), chunk)
	if !errors.Is(err, fallback.ErrAllProvidersUnavailable) {
		t.Errorf("expected ErrAllProvidersUnavailable, got %v", err)
	}
}

func TestSubmit_FallsBackToSecondProvider(t *testing.T) {
	a := &countingProvider{name: "a", fail: true}
	b := &countingProvider{name: "b", text: "recovered text"}
	o, _ := newTestOrchestrator([]stt.Provider{a, b}, nil)

	chunk := models.NewAudioChunk("session-1", 0, []byte("audio"), "pcm")
	result, err := o.Submit(context.Background(), chunk)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Provider != "b" {
		t.Errorf("expected provider b, got %s", result.Provider)
	}
}

func TestSubmit_PersistsChunkAndResult(t *testing.T) {
	provider := &countingProvider{name: "primary", text: "persisted text"}
	o, repo := newTestOrchestrator([]stt.Provider{provider}, nil)
	ctx := context.Background()

	chunk := models.NewAudioChunk("session-1", 0, []byte("audio bytes"), "pcm")
	result, err := o.Submit(ctx, chunk)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stored, err := repo.GetChunk(ctx, chunk.ID)
	if err != nil {
		t.Fatalf("chunk was not persisted: %v", err)
	}
	if stored.Fingerprint == "" {
		t.Error("persisted chunk must carry its fingerprint")
	}

	sessionResults, err := o.ResultsBySession(ctx, "session-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sessionResults) != 1 || sessionResults[0].ID != result.ID {
		t.Errorf("expected the submitted result persisted, got %v", sessionResults)
	}
}

func TestSubmit_DiarizationAttachesSpeaker(t *testing.T) {
	provider := &countingProvider{name: "primary", text: "I led the migration"}
	diarizer := diarize.New(diarize.Config{Enabled: true, SimilarityThreshold: 0.75})
	o, _ := newTestOrchestrator([]stt.Provider{provider}, diarizer)

	// Uniform full-scale PCM reads as a single speaker span covering the
	// whole chunk, so assignment has a clear winner.
	pcm := make([]byte, 32000)
	for i := 0; i < len(pcm); i += 2 {
		v := int16(30000)
		if (i/2)%2 == 1 {
			v = -30000
		}
		binary.LittleEndian.PutUint16(pcm[i:], uint16(v))
	}

	chunk := models.NewAudioChunk("session-1", 0, pcm, "pcm")
	result, err := o.Submit(context.Background(), chunk)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SpeakerID == "" {
		t.Error("expected a speaker label on a single-speaker chunk")
	}
}

func TestSubmit_DiarizationDisabledLeavesUnattributed(t *testing.T) {
	provider := &countingProvider{name: "primary", text: "some answer"}
	o, _ := newTestOrchestrator([]stt.Provider{provider}, diarize.New(diarize.Config{Enabled: false}))

	chunk := models.NewAudioChunk("session-1", 0, []byte("audio"), "pcm")
	result, err := o.Submit(context.Background(), chunk)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SpeakerID != "" {
		t.Errorf("expected no speaker label, got %q", result.SpeakerID)
	}
}

func TestSTTConfig_MapsSniffedContainersToProviderEncodings(t *testing.T) {
	provider := &countingProvider{name: "primary", text: "unused"}
	o, _ := newTestOrchestrator([]stt.Provider{provider}, nil)
	o.cfg.STT.Encoding = "MULAW"

	tests := []struct {
		format   string
		expected string
	}{
		{"wav", "LINEAR16"},
		{"ogg", "OGG_OPUS"},
		{"webm", "WEBM_OPUS"},
		{"flac", "FLAC"},
		{"mp3", "MP3"},
		{"pcm", "MULAW"}, // no container, the configured default holds
	}
	for _, tt := range tests {
		cfg := o.sttConfig(models.AudioFeatures{Format: tt.format, SampleRateHz: 16000, Channels: 1})
		if cfg.Encoding != tt.expected {
			t.Errorf("format %q: encoding %q, want %q", tt.format, cfg.Encoding, tt.expected)
		}
	}

	// End to end: sniffed Ogg bytes must reach the provider as OGG_OPUS.
	features := audio.NewProcessor().EstimateFeatures(append([]byte("OggS"), make([]byte, 64)...))
	if cfg := o.sttConfig(features); cfg.Encoding != "OGG_OPUS" {
		t.Errorf("sniffed ogg payload mapped to %q, want OGG_OPUS", cfg.Encoding)
	}
}
