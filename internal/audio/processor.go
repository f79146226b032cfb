// Package audio validates raw audio bytes, computes content fingerprints and
// estimates audio properties by header sniffing.
package audio

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"interview-transcription-service/internal/models"
)

// ErrInvalidAudio indicates malformed or empty input. Not retryable.
var ErrInvalidAudio = errors.New("invalid audio")

// Processor validates and classifies raw audio bytes.
type Processor struct{}

// NewProcessor creates a new audio processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// Process validates the bytes against the declared format and returns them
// ready for transcription. It fails with ErrInvalidAudio when the bytes are
// empty or the detected container disagrees irreconcilably with the declared
// format. Raw PCM declares no container, so any byte content is accepted
// for it.
func (p *Processor) Process(data []byte, declaredFormat string) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidAudio)
	}

	detected := DetectFormat(data)
	declared := normalizeFormat(declaredFormat)

	// An unknown detection is treated as raw PCM and accepted; only a
	// positively identified container that contradicts the declaration is
	// rejected.
	if detected != "pcm" && declared != "" && declared != "pcm" && detected != declared {
		return nil, fmt.Errorf("%w: declared format %q but detected %q", ErrInvalidAudio, declaredFormat, detected)
	}

	return data, nil
}

// Fingerprint returns the deterministic content hash of the audio bytes.
// Identical audio, regardless of session, hashes identically; this is the
// cache key for the whole pipeline.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Format signatures.
var (
	sigRIFF = []byte("RIFF")
	sigWAVE = []byte("WAVE")
	sigOgg  = []byte("OggS")
	sigFLAC = []byte("fLaC")
	sigEBML = []byte{0x1A, 0x45, 0xDF, 0xA3}
	sigID3  = []byte("ID3")
)

// DetectFormat classifies the container by signature. Unknown byte content
// is reported as "pcm".
func DetectFormat(data []byte) string {
	switch {
	case len(data) >= 12 && bytes.HasPrefix(data, sigRIFF) && bytes.Equal(data[8:12], sigWAVE):
		return "wav"
	case bytes.HasPrefix(data, sigOgg):
		return "ogg"
	case bytes.HasPrefix(data, sigFLAC):
		return "flac"
	case bytes.HasPrefix(data, sigEBML):
		return "webm"
	case bytes.HasPrefix(data, sigID3):
		return "mp3"
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return "mp3"
	default:
		return "pcm"
	}
}

// EstimateFeatures sniffs duration, sample rate and channel count from the
// audio header. Accuracy is deliberately approximate: WAV headers are parsed
// exactly, compressed formats fall back to a bitrate heuristic, and unknown
// formats are treated as 16 kHz mono PCM. It never fails; best-effort values
// are always returned.
func (p *Processor) EstimateFeatures(data []byte) models.AudioFeatures {
	f := models.AudioFeatures{
		Format:       DetectFormat(data),
		SampleRateHz: 16000,
		Channels:     1,
		SizeBytes:    len(data),
	}

	switch f.Format {
	case "wav":
		if rate, channels, bitsPerSample, dataLen, ok := parseWAVHeader(data); ok {
			f.SampleRateHz = rate
			f.Channels = channels
			byteRate := rate * channels * bitsPerSample / 8
			if byteRate > 0 {
				f.DurationSec = float64(dataLen) / float64(byteRate)
			}
			return f
		}
		// Malformed header: estimate from payload size as 16-bit PCM.
		f.DurationSec = float64(len(data)) / float64(f.SampleRateHz*2)
	case "ogg", "webm":
		// Opus-family containers hover around 32 kbit/s for speech.
		f.SampleRateHz = 48000
		f.Channels = 1
		f.DurationSec = float64(len(data)*8) / 32000
	case "mp3":
		// Assume 128 kbit/s CBR.
		f.SampleRateHz = 44100
		f.Channels = 2
		f.DurationSec = float64(len(data)*8) / 128000
	case "flac":
		// Roughly half the raw PCM rate at 16-bit 44.1 kHz stereo.
		f.SampleRateHz = 44100
		f.Channels = 2
		f.DurationSec = float64(len(data)) / (44100 * 2)
	default:
		// Raw PCM, 16-bit mono at the default rate.
		f.DurationSec = float64(len(data)) / float64(f.SampleRateHz*2)
	}

	return f
}

// parseWAVHeader walks RIFF chunks looking for fmt and data. Returns ok=false
// on any truncation or inconsistency.
func parseWAVHeader(data []byte) (sampleRate, channels, bitsPerSample int, dataLen int, ok bool) {
	if len(data) < 44 {
		return 0, 0, 0, 0, false
	}

	pos := 12
	haveFmt := false
	for pos+8 <= len(data) {
		chunkID := string(data[pos : pos+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8

		switch chunkID {
		case "fmt ":
			if body+16 > len(data) {
				return 0, 0, 0, 0, false
			}
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bitsPerSample = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			if channels == 0 || sampleRate == 0 || bitsPerSample == 0 {
				return 0, 0, 0, 0, false
			}
			haveFmt = true
		case "data":
			dataLen = chunkSize
			if body+dataLen > len(data) {
				dataLen = len(data) - body
			}
			if haveFmt {
				return sampleRate, channels, bitsPerSample, dataLen, true
			}
		}

		if chunkSize%2 == 1 {
			chunkSize++ // RIFF chunks are word-aligned
		}
		pos = body + chunkSize
	}

	return 0, 0, 0, 0, false
}

func normalizeFormat(format string) string {
	f := strings.ToLower(strings.TrimSpace(format))
	switch f {
	case "wave":
		return "wav"
	case "linear16", "raw", "l16":
		return "pcm"
	case "opus":
		return "ogg"
	default:
		return f
	}
}
