package deepgram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"interview-transcription-service/internal/stt"
)

func TestTranscribeBuffer(t *testing.T) {
	var gotAuth, gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotModel = r.URL.Query().Get("model")
		w.Write([]byte(`{
			"metadata": {"duration": 2.5},
			"results": {"channels": [{"alternatives": [
				{"transcript": "tell me about yourself", "confidence": 0.93},
				{"transcript": "tell me about your self", "confidence": 0.81}
			]}]}
		}`))
	}))
	defer srv.Close()

	a := New("test-key", "nova-2", WithBaseURL(srv.URL))

	result, err := a.TranscribeBuffer(context.Background(), []byte("audio"), stt.Config{Language: "en-US"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotAuth != "Token test-key" {
		t.Errorf("expected token auth header, got %q", gotAuth)
	}
	if gotModel != "nova-2" {
		t.Errorf("expected model nova-2, got %q", gotModel)
	}
	if result.Text != "tell me about yourself" {
		t.Errorf("unexpected text: %q", result.Text)
	}
	if result.Confidence != 0.93 {
		t.Errorf("expected confidence 0.93, got %f", result.Confidence)
	}
	if !result.Final {
		t.Error("buffered result must be final")
	}
	if len(result.Alternatives) != 1 {
		t.Errorf("expected 1 alternative, got %d", len(result.Alternatives))
	}
	if result.EndSec != 2.5 {
		t.Errorf("expected duration 2.5, got %f", result.EndSec)
	}
}

func TestTranscribeBuffer_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	a := New("test-key", "nova-2", WithBaseURL(srv.URL))

	_, err := a.TranscribeBuffer(context.Background(), []byte("audio"), stt.Config{})
	if !errors.Is(err, stt.ErrProviderError) {
		t.Errorf("expected ErrProviderError, got %v", err)
	}
}

func TestTranscribeBuffer_MissingConfidence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results": {"channels": [{"alternatives": [{"transcript": "short"}]}]}}`))
	}))
	defer srv.Close()

	a := New("test-key", "nova-2", WithBaseURL(srv.URL))

	result, err := a.TranscribeBuffer(context.Background(), []byte("audio"), stt.Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Confidence <= 0 {
		t.Errorf("expected synthesized confidence, got %f", result.Confidence)
	}
}

func TestIsAvailable(t *testing.T) {
	if New("", "nova-2").IsAvailable(context.Background()) {
		t.Error("expected unavailable without an API key")
	}
	if !New("key", "nova-2").IsAvailable(context.Background()) {
		t.Error("expected available with an API key")
	}
}

var upgrader = websocket.Upgrader{}

func TestTranscribeStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Wait for one audio frame, then reply with interim and final.
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{
			"type": "Results",
			"channel": {"alternatives": [{"transcript": "I studied", "confidence": 0.5}]},
			"is_final": false, "start": 0, "duration": 1.0
		}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{
			"type": "Results",
			"channel": {"alternatives": [{"transcript": "I studied physics", "confidence": 0.92}]},
			"is_final": true, "start": 0, "duration": 2.0
		}`))

		// Keep the socket open until the client closes it.
		conn.ReadMessage()
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	a := New("test-key", "nova-2", WithWSURL(wsURL))

	stream, err := a.TranscribeStream(context.Background(), stt.Config{
		Language: "en-US", SampleRateHz: 16000, InterimResults: true,
	})
	if err != nil {
		t.Fatalf("unexpected error opening stream: %v", err)
	}
	defer stream.CloseSend()

	if err := stream.SendAudio(context.Background(), []byte("frame")); err != nil {
		t.Fatalf("unexpected send error: %v", err)
	}

	var results []stt.Result
	timeout := time.After(5 * time.Second)
	for len(results) < 2 {
		select {
		case r, ok := <-stream.Results():
			if !ok {
				t.Fatalf("stream closed early with %d results, err=%v", len(results), stream.Err())
			}
			results = append(results, r)
		case <-timeout:
			t.Fatalf("timed out with %d results", len(results))
		}
	}

	if results[0].Final || results[0].Text != "I studied" {
		t.Errorf("unexpected interim result: %+v", results[0])
	}
	if !results[1].Final || results[1].Text != "I studied physics" {
		t.Errorf("unexpected final result: %+v", results[1])
	}
	if results[1].EndSec != 2.0 {
		t.Errorf("expected end 2.0, got %f", results[1].EndSec)
	}
}
