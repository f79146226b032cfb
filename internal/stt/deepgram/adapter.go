// Package deepgram provides a Deepgram speech-to-text adapter. Buffered
// transcription goes through the prerecorded HTTP API; continuous streams use
// the realtime websocket API.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"

	"interview-transcription-service/internal/stt"
)

const (
	defaultBaseURL = "https://api.deepgram.com/v1"
	defaultWSURL   = "wss://api.deepgram.com/v1/listen"
)

// Adapter implements stt.Provider against the Deepgram API.
type Adapter struct {
	apiKey     string
	model      string
	baseURL    string
	wsURL      string
	httpClient *http.Client
	dialer     *websocket.Dialer
}

// Option customizes the adapter, mainly for tests.
type Option func(*Adapter)

// WithBaseURL overrides the prerecorded API endpoint.
func WithBaseURL(u string) Option { return func(a *Adapter) { a.baseURL = u } }

// WithWSURL overrides the realtime websocket endpoint.
func WithWSURL(u string) Option { return func(a *Adapter) { a.wsURL = u } }

// New creates a new Deepgram adapter.
func New(apiKey, model string, opts ...Option) *Adapter {
	a := &Adapter{
		apiKey:     apiKey,
		model:      model,
		baseURL:    defaultBaseURL,
		wsURL:      defaultWSURL,
		httpClient: &http.Client{},
		dialer:     websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name identifies this provider.
func (a *Adapter) Name() string { return "deepgram" }

// IsAvailable reports whether the adapter is configured with a key. Network
// liveness is the circuit breaker's concern.
func (a *Adapter) IsAvailable(ctx context.Context) bool {
	return a.apiKey != ""
}

type prerecordedResponse struct {
	Metadata struct {
		Duration float64 `json:"duration"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// TranscribeBuffer sends the audio to the prerecorded endpoint.
func (a *Adapter) TranscribeBuffer(ctx context.Context, audio []byte, cfg stt.Config) (*stt.Result, error) {
	endpoint := a.baseURL + "/listen?" + a.query(cfg, false).Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(audio))
	if err != nil {
		return nil, stt.Errorf(a.Name(), err)
	}
	req.Header.Set("Authorization", "Token "+a.apiKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, classify(a.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, stt.Errorf(a.Name(), fmt.Errorf("http %d: %s", resp.StatusCode, body))
	}

	var pr prerecordedResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, stt.Errorf(a.Name(), err)
	}

	result := &stt.Result{
		Final:    true,
		Language: cfg.Language,
		EndSec:   pr.Metadata.Duration,
	}
	if len(pr.Results.Channels) > 0 {
		alts := pr.Results.Channels[0].Alternatives
		if len(alts) > 0 {
			result.Text = alts[0].Transcript
			result.Confidence = alts[0].Confidence
			for _, alt := range alts[1:] {
				result.Alternatives = append(result.Alternatives, alt.Transcript)
			}
		}
	}
	if result.Confidence == 0 {
		result.Confidence = stt.EstimateConfidence(result.Text)
	}
	return result, nil
}

// realtimeMessage is one websocket result frame from the live API.
type realtimeMessage struct {
	Type    string `json:"type"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
	IsFinal  bool    `json:"is_final"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
}

// TranscribeStream opens a realtime websocket session.
func (a *Adapter) TranscribeStream(ctx context.Context, cfg stt.Config) (stt.Stream, error) {
	endpoint := a.wsURL + "?" + a.query(cfg, true).Encode()

	header := http.Header{}
	header.Set("Authorization", "Token "+a.apiKey)

	conn, resp, err := a.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, classify(a.Name(), err)
	}

	s := &liveStream{
		provider: a.Name(),
		conn:     conn,
		results:  make(chan stt.Result, 16),
		language: cfg.Language,
	}
	go s.listen()
	return s, nil
}

func (a *Adapter) query(cfg stt.Config, live bool) url.Values {
	q := url.Values{}
	q.Set("model", a.model)
	if cfg.Language != "" {
		q.Set("language", cfg.Language)
	}
	q.Set("punctuate", "true")
	if live {
		q.Set("encoding", liveEncoding(cfg.Encoding))
		q.Set("sample_rate", strconv.Itoa(cfg.SampleRateHz))
		q.Set("channels", strconv.Itoa(max(cfg.Channels, 1)))
		q.Set("interim_results", strconv.FormatBool(cfg.InterimResults))
	}
	return q
}

func liveEncoding(name string) string {
	switch name {
	case "MULAW":
		return "mulaw"
	case "OGG_OPUS", "WEBM_OPUS":
		return "opus"
	case "FLAC":
		return "flac"
	default:
		return "linear16"
	}
}

type liveStream struct {
	provider string
	conn     *websocket.Conn
	results  chan stt.Result
	language string

	writeMu sync.Mutex
	mu      sync.Mutex
	err     error
	closed  bool
}

func (s *liveStream) SendAudio(ctx context.Context, audio []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return classify(s.provider, err)
	}
	return nil
}

func (s *liveStream) Results() <-chan stt.Result { return s.results }

// CloseSend tells Deepgram to flush any pending final and closes the socket.
func (s *liveStream) CloseSend() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
	return s.conn.Close()
}

func (s *liveStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *liveStream) listen() {
	defer close(s.results)
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			alreadyClosed := s.closed
			s.mu.Unlock()
			if !alreadyClosed && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.mu.Lock()
				s.err = classify(s.provider, err)
				s.mu.Unlock()
			}
			return
		}

		var msg realtimeMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			continue
		}
		if msg.Type != "Results" || len(msg.Channel.Alternatives) == 0 {
			continue
		}

		alt := msg.Channel.Alternatives[0]
		if alt.Transcript == "" {
			continue
		}

		result := stt.Result{
			Text:       alt.Transcript,
			Confidence: alt.Confidence,
			Final:      msg.IsFinal,
			Language:   s.language,
			StartSec:   msg.Start,
			EndSec:     msg.Start + msg.Duration,
		}
		for _, extra := range msg.Channel.Alternatives[1:] {
			result.Alternatives = append(result.Alternatives, extra.Transcript)
		}
		if result.Confidence == 0 {
			result.Confidence = stt.EstimateConfidence(result.Text)
		}
		s.results <- result
	}
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
