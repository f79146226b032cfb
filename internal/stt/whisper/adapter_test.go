package whisper

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"interview-transcription-service/internal/stt"
)

func TestTranscribeBuffer(t *testing.T) {
	var gotAuth, gotModel, gotLang string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("bad multipart body: %v", err)
		}
		gotModel = r.FormValue("model")
		gotLang = r.FormValue("language")
		w.Write([]byte(`{"text": "walk me through your resume", "language": "english"}`))
	}))
	defer srv.Close()

	a := NewWithBaseURL("sk-test", "whisper-1", srv.URL)

	result, err := a.TranscribeBuffer(context.Background(), []byte("audio"), stt.Config{Language: "en-US"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotAuth != "Bearer sk-test" {
		t.Errorf("expected bearer auth, got %q", gotAuth)
	}
	if gotModel != "whisper-1" {
		t.Errorf("expected model whisper-1, got %q", gotModel)
	}
	if gotLang != "en" {
		t.Errorf("expected ISO 639-1 language 'en', got %q", gotLang)
	}
	if result.Text != "walk me through your resume" {
		t.Errorf("unexpected text: %q", result.Text)
	}
	if !result.Final {
		t.Error("buffered result must be final")
	}
	if result.Confidence <= 0 {
		t.Errorf("expected synthesized confidence, got %f", result.Confidence)
	}
}

func TestTranscribeBuffer_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	a := NewWithBaseURL("sk-bad", "whisper-1", srv.URL)

	_, err := a.TranscribeBuffer(context.Background(), []byte("audio"), stt.Config{})
	if !errors.Is(err, stt.ErrProviderError) {
		t.Errorf("expected ErrProviderError, got %v", err)
	}
}

func TestTranscribeStream_Unsupported(t *testing.T) {
	a := New("sk-test", "whisper-1")

	_, err := a.TranscribeStream(context.Background(), stt.Config{})
	if !errors.Is(err, stt.ErrProviderError) {
		t.Errorf("expected ErrProviderError, got %v", err)
	}
	if !errors.Is(err, ErrStreamingUnsupported) {
		t.Errorf("expected ErrStreamingUnsupported, got %v", err)
	}
}

func TestIsAvailable(t *testing.T) {
	if New("", "whisper-1").IsAvailable(context.Background()) {
		t.Error("expected unavailable without an API key")
	}
}
