// Package whisper provides an OpenAI Whisper adapter. Whisper is a
// request/response API only; it does not support continuous streams, so the
// fallback coordinator skips it when opening a stream.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"

	"interview-transcription-service/internal/stt"
)

const defaultBaseURL = "https://api.openai.com/v1"

// ErrStreamingUnsupported is returned from TranscribeStream; whisper only
// transcribes complete buffers.
var ErrStreamingUnsupported = errors.New("whisper does not support streaming transcription")

// Adapter implements stt.Provider against the OpenAI audio transcription API.
type Adapter struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// New creates a new whisper adapter.
func New(apiKey, model string) *Adapter {
	return &Adapter{
		apiKey:     apiKey,
		model:      model,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{},
	}
}

// NewWithBaseURL creates an adapter against a custom endpoint, used in tests
// and for self-hosted whisper deployments exposing the same API.
func NewWithBaseURL(apiKey, model, baseURL string) *Adapter {
	a := New(apiKey, model)
	a.baseURL = baseURL
	return a
}

// Name identifies this provider.
func (a *Adapter) Name() string { return "whisper" }

// IsAvailable reports whether the adapter is configured with a key.
func (a *Adapter) IsAvailable(ctx context.Context) bool {
	return a.apiKey != ""
}

type transcriptionResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// TranscribeBuffer posts the audio as a multipart upload. The API reports no
// confidence score, so one is synthesized from the text.
func (a *Adapter) TranscribeBuffer(ctx context.Context, audio []byte, cfg stt.Config) (*stt.Result, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if err := mw.WriteField("model", a.model); err != nil {
		return nil, stt.Errorf(a.Name(), err)
	}
	if cfg.Language != "" {
		// The API takes a bare ISO 639-1 code, not a BCP-47 tag.
		lang := cfg.Language
		if len(lang) > 2 {
			lang = lang[:2]
		}
		if err := mw.WriteField("language", lang); err != nil {
			return nil, stt.Errorf(a.Name(), err)
		}
	}

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, stt.Errorf(a.Name(), err)
	}
	if _, err := fw.Write(audio); err != nil {
		return nil, stt.Errorf(a.Name(), err)
	}
	if err := mw.Close(); err != nil {
		return nil, stt.Errorf(a.Name(), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return nil, stt.Errorf(a.Name(), err)
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, classify(a.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, stt.Errorf(a.Name(), fmt.Errorf("http %d: %s", resp.StatusCode, b))
	}

	var tr transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, stt.Errorf(a.Name(), err)
	}

	return &stt.Result{
		Text:       tr.Text,
		Confidence: stt.EstimateConfidence(tr.Text),
		Final:      true,
		Language:   firstNonEmpty(tr.Language, cfg.Language),
	}, nil
}

// TranscribeStream always fails; callers fall through to the next provider.
func (a *Adapter) TranscribeStream(ctx context.Context, cfg stt.Config) (stt.Stream, error) {
	return nil, stt.Errorf(a.Name(), ErrStreamingUnsupported)
}

func classify(provider string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return stt.Timeoutf(provider, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return stt.Timeoutf(provider, err)
	}
	return stt.Errorf(provider, err)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
