package google

import (
	"errors"
	"testing"

	speechpb "cloud.google.com/go/speech/apiv1/speechpb"

	"interview-transcription-service/internal/stt"
)

func TestEncoding(t *testing.T) {
	tests := []struct {
		input    string
		expected speechpb.RecognitionConfig_AudioEncoding
	}{
		{"LINEAR16", speechpb.RecognitionConfig_LINEAR16},
		{"MULAW", speechpb.RecognitionConfig_MULAW},
		{"FLAC", speechpb.RecognitionConfig_FLAC},
		{"OGG_OPUS", speechpb.RecognitionConfig_OGG_OPUS},
		{"WEBM_OPUS", speechpb.RecognitionConfig_WEBM_OPUS},
		{"UNKNOWN", speechpb.RecognitionConfig_LINEAR16}, // fallback
		{"", speechpb.RecognitionConfig_LINEAR16},        // fallback
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := encoding(tt.input)
			if got != tt.expected {
				t.Errorf("encoding(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestRecognitionConfig(t *testing.T) {
	cfg := stt.Config{
		Language:     "es-ES",
		SampleRateHz: 16000,
		Channels:     2,
		Encoding:     "MULAW",
	}

	rc := recognitionConfig(cfg)

	if rc.LanguageCode != "es-ES" {
		t.Errorf("expected language 'es-ES', got %s", rc.LanguageCode)
	}
	if rc.SampleRateHertz != 16000 {
		t.Errorf("expected sample rate 16000, got %d", rc.SampleRateHertz)
	}
	if rc.AudioChannelCount != 2 {
		t.Errorf("expected 2 channels, got %d", rc.AudioChannelCount)
	}
	if rc.Encoding != speechpb.RecognitionConfig_MULAW {
		t.Errorf("expected MULAW encoding, got %v", rc.Encoding)
	}
}

func TestRecognitionConfig_DefaultChannels(t *testing.T) {
	rc := recognitionConfig(stt.Config{Language: "en-US", SampleRateHz: 8000})

	if rc.AudioChannelCount != 1 {
		t.Errorf("expected channel count to default to 1, got %d", rc.AudioChannelCount)
	}
}

func TestIsAvailable_NilClient(t *testing.T) {
	a := &Adapter{}
	if a.IsAvailable(t.Context()) {
		t.Error("expected unavailable with nil client")
	}
}

func TestTranscribeBuffer_MP3Rejected(t *testing.T) {
	a := &Adapter{}
	_, err := a.TranscribeBuffer(t.Context(), []byte("ID3 tagged audio"), stt.Config{Encoding: "MP3"})
	if !errors.Is(err, stt.ErrProviderError) {
		t.Errorf("expected a provider error for mp3 input, got %v", err)
	}
}

func TestTranscribeStream_MP3Rejected(t *testing.T) {
	a := &Adapter{}
	_, err := a.TranscribeStream(t.Context(), stt.Config{Encoding: "MP3"})
	if !errors.Is(err, stt.ErrProviderError) {
		t.Errorf("expected a provider error for mp3 input, got %v", err)
	}
}
