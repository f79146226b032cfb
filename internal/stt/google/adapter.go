// Package google provides a Google Cloud Speech-to-Text adapter.
package google

import (
	"context"
	"errors"
	"io"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"interview-transcription-service/internal/stt"
)

// errMP3Unsupported: the v1 recognize API has no MP3 encoding, so the call
// fails here and the fallback chain moves to a provider that decodes MP3.
var errMP3Unsupported = errors.New("mp3 audio is not supported by the v1 recognize api")

// Adapter implements stt.Provider using Google Cloud Speech-to-Text.
// Requires GOOGLE_APPLICATION_CREDENTIALS to be set.
type Adapter struct {
	client *speech.Client
}

// New creates a new Google STT adapter.
func New(ctx context.Context) (*Adapter, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &Adapter{client: c}, nil
}

// Name identifies this provider.
func (a *Adapter) Name() string { return "google" }

// IsAvailable reports whether the client was constructed. A deeper probe
// would cost a billable request, so liveness is left to the circuit breaker.
func (a *Adapter) IsAvailable(ctx context.Context) bool {
	return a.client != nil
}

// TranscribeBuffer performs a single synchronous recognition request.
func (a *Adapter) TranscribeBuffer(ctx context.Context, audio []byte, cfg stt.Config) (*stt.Result, error) {
	if cfg.Encoding == "MP3" {
		return nil, stt.Errorf(a.Name(), errMP3Unsupported)
	}
	resp, err := a.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: recognitionConfig(cfg),
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	})
	if err != nil {
		return nil, classify(a.Name(), err)
	}

	result := &stt.Result{Final: true, Language: cfg.Language}
	for _, r := range resp.Results {
		for i, alt := range r.Alternatives {
			if i == 0 {
				if result.Text != "" {
					result.Text += " "
				}
				result.Text += alt.Transcript
				result.Confidence = float64(alt.Confidence)
			} else {
				result.Alternatives = append(result.Alternatives, alt.Transcript)
			}
		}
	}
	if result.Confidence == 0 {
		result.Confidence = stt.EstimateConfidence(result.Text)
	}
	return result, nil
}

// TranscribeStream opens a streaming recognition session. The config message
// is sent first, then audio via SendAudio.
func (a *Adapter) TranscribeStream(ctx context.Context, cfg stt.Config) (stt.Stream, error) {
	if cfg.Encoding == "MP3" {
		return nil, stt.Errorf(a.Name(), errMP3Unsupported)
	}
	grpcStream, err := a.client.StreamingRecognize(ctx)
	if err != nil {
		return nil, classify(a.Name(), err)
	}

	err = grpcStream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config:         recognitionConfig(cfg),
				InterimResults: cfg.InterimResults,
			},
		},
	})
	if err != nil {
		return nil, classify(a.Name(), err)
	}

	s := &stream{
		provider: a.Name(),
		grpc:     grpcStream,
		results:  make(chan stt.Result, 16),
		language: cfg.Language,
	}
	go s.listen()
	return s, nil
}

type stream struct {
	provider string
	grpc     speechpb.Speech_StreamingRecognizeClient
	results  chan stt.Result
	language string

	mu  sync.Mutex
	err error
}

func (s *stream) SendAudio(ctx context.Context, audio []byte) error {
	err := s.grpc.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	})
	if err != nil {
		return classify(s.provider, err)
	}
	return nil
}

func (s *stream) Results() <-chan stt.Result { return s.results }

func (s *stream) CloseSend() error {
	return s.grpc.CloseSend()
}

func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// listen pumps provider responses into the results channel until the stream
// ends, then closes it.
func (s *stream) listen() {
	defer close(s.results)
	for {
		resp, err := s.grpc.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.mu.Lock()
				s.err = classify(s.provider, err)
				s.mu.Unlock()
			}
			return
		}

		for _, r := range resp.Results {
			if len(r.Alternatives) == 0 {
				continue
			}
			alt := r.Alternatives[0]
			result := stt.Result{
				Text:       alt.Transcript,
				Confidence: float64(alt.Confidence),
				Final:      r.IsFinal,
				Language:   s.language,
				EndSec:     float64(r.ResultEndTime.GetSeconds()) + float64(r.ResultEndTime.GetNanos())/1e9,
			}
			for _, extra := range r.Alternatives[1:] {
				result.Alternatives = append(result.Alternatives, extra.Transcript)
			}
			if result.Confidence == 0 {
				result.Confidence = stt.EstimateConfidence(result.Text)
			}
			s.results <- result
		}
	}
}

func recognitionConfig(cfg stt.Config) *speechpb.RecognitionConfig {
	return &speechpb.RecognitionConfig{
		Encoding:        encoding(cfg.Encoding),
		SampleRateHertz: int32(cfg.SampleRateHz),
		LanguageCode:    cfg.Language,
		AudioChannelCount: func() int32 {
			if cfg.Channels > 0 {
				return int32(cfg.Channels)
			}
			return 1
		}(),
	}
}

func encoding(name string) speechpb.RecognitionConfig_AudioEncoding {
	switch name {
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}

// classify maps a gRPC error to the provider error taxonomy.
func classify(provider string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return stt.Timeoutf(provider, err)
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.DeadlineExceeded:
			return stt.Timeoutf(provider, err)
		}
	}
	return stt.Errorf(provider, err)
}
