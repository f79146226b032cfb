// Package diarize partitions audio chunks into speaker-homogeneous spans and
// attributes transcription results to speakers by temporal overlap. It is a
// best-effort heuristic, disabled unless explicitly requested; its failures
// never affect transcription correctness.
package diarize

import (
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog"

	"interview-transcription-service/internal/models"
	"interview-transcription-service/internal/observability/logging"
	"interview-transcription-service/internal/observability/metrics"
)

// FeatureFunc extracts an acoustic feature vector from one window of raw
// audio bytes. The default computes windowed energy and zero-crossing
// statistics; a real extractor can be swapped in without touching the
// assignment algorithm.
type FeatureFunc func(window []byte) []float64

// Config controls diarization behavior.
type Config struct {
	Enabled bool

	// SimilarityThreshold is the minimum similarity (0-1) for matching a
	// segment to a known speaker profile. Below it, the segment starts a
	// new speaker.
	SimilarityThreshold float64
}

// windows whose feature distance from the running segment average exceeds
// this start a new span
const changeThreshold = 0.2

const targetWindowSec = 0.5

// Diarizer identifies speaker spans and maintains per-speaker running
// feature profiles for re-identification across chunks. Profiles live for
// the lifetime of the process.
type Diarizer struct {
	enabled   bool
	threshold float64
	extract   FeatureFunc

	mu       sync.Mutex
	profiles map[string]*profile
	nextID   int

	logger  zerolog.Logger
	metrics *metrics.Metrics
}

type profile struct {
	features []float64
	samples  int
}

// New creates a diarizer. With cfg.Enabled false, IdentifySpeakers returns
// no spans and results stay unattributed.
func New(cfg Config) *Diarizer {
	threshold := cfg.SimilarityThreshold
	if threshold <= 0 || threshold > 1 {
		threshold = 0.75
	}
	return &Diarizer{
		enabled:   cfg.Enabled,
		threshold: threshold,
		extract:   defaultFeatures,
		profiles:  make(map[string]*profile),
		logger:    logging.WithComponent("diarize"),
		metrics:   metrics.DefaultMetrics,
	}
}

// Enabled reports whether diarization was requested.
func (d *Diarizer) Enabled() bool {
	return d.enabled
}

// IdentifySpeakers partitions the chunk into speaker-homogeneous spans in
// temporal order. Returns nil when disabled or when the chunk is too small
// to analyze.
func (d *Diarizer) IdentifySpeakers(data []byte, features models.AudioFeatures) []models.SpeakerSpan {
	if !d.enabled || len(data) == 0 {
		return nil
	}

	duration := features.DurationSec
	if duration <= 0 {
		// Rough PCM16 mono 16 kHz assumption when the header gave nothing.
		duration = float64(len(data)) / 32000
	}

	windows := int(duration/targetWindowSec) + 1
	if windows > 64 {
		windows = 64
	}
	windowBytes := len(data) / windows
	if windowBytes < 4 {
		windows = 1
		windowBytes = len(data)
	}
	windowSec := duration / float64(windows)

	var (
		spans      []models.SpeakerSpan
		segStart   int
		segFeature []float64
		segWindows int
	)

	flush := func(endWindow int) {
		if segWindows == 0 {
			return
		}
		speakerID, confidence := d.resolveSpeaker(segFeature)
		spans = append(spans, models.SpeakerSpan{
			SpeakerID:  speakerID,
			Confidence: confidence,
			StartSec:   float64(segStart) * windowSec,
			EndSec:     float64(endWindow) * windowSec,
		})
	}

	for w := 0; w < windows; w++ {
		lo := w * windowBytes
		hi := lo + windowBytes
		if w == windows-1 {
			hi = len(data)
		}
		feat := d.extract(data[lo:hi])

		if segWindows == 0 {
			segStart, segFeature, segWindows = w, feat, 1
			continue
		}
		if distance(feat, segFeature) > changeThreshold {
			flush(w)
			segStart, segFeature, segWindows = w, feat, 1
			continue
		}
		// Fold the window into the running segment average.
		for i := range segFeature {
			segFeature[i] = (segFeature[i]*float64(segWindows) + feat[i]) / float64(segWindows+1)
		}
		segWindows++
	}
	flush(windows)

	return spans
}

// resolveSpeaker matches a segment feature vector against known profiles,
// reusing the nearest speaker above the similarity threshold or minting a
// new one.
func (d *Diarizer) resolveSpeaker(feat []float64) (string, float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	bestID := ""
	bestSim := 0.0
	for id, p := range d.profiles {
		if sim := similarity(feat, p.features); sim > bestSim {
			bestID, bestSim = id, sim
		}
	}

	if bestID != "" && bestSim >= d.threshold {
		p := d.profiles[bestID]
		for i := range p.features {
			p.features[i] = p.features[i]*0.8 + feat[i]*0.2
		}
		p.samples++
		return bestID, bestSim
	}

	d.nextID++
	id := fmt.Sprintf("speaker-%d", d.nextID)
	d.profiles[id] = &profile{
		features: append([]float64(nil), feat...),
		samples:  1,
	}
	return id, 0.6
}

// KnownSpeakers returns the number of speaker profiles accumulated so far.
func (d *Diarizer) KnownSpeakers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.profiles)
}

// AssignSpeaker attributes the result to the span with the greatest temporal
// overlap with [startSec, endSec]. A tie or zero overlap leaves the result
// unattributed rather than guessing.
func (d *Diarizer) AssignSpeaker(result *models.TranscriptionResult, startSec, endSec float64, spans []models.SpeakerSpan) {
	span, ok := bestOverlap(startSec, endSec, spans)
	if !ok {
		return
	}
	result.SpeakerID = span.SpeakerID
	d.metrics.DiarizedResults.Inc()
}

func bestOverlap(startSec, endSec float64, spans []models.SpeakerSpan) (models.SpeakerSpan, bool) {
	var (
		best models.SpeakerSpan
		top  float64
		tied bool
	)
	for _, s := range spans {
		overlap := math.Min(endSec, s.EndSec) - math.Max(startSec, s.StartSec)
		if overlap <= 0 {
			continue
		}
		switch {
		case overlap > top:
			best, top, tied = s, overlap, false
		case overlap == top:
			tied = true
		}
	}
	if top == 0 || tied {
		return models.SpeakerSpan{}, false
	}
	return best, true
}

// defaultFeatures computes mean energy and zero-crossing rate over the
// window, interpreting the bytes as little-endian 16-bit PCM samples.
func defaultFeatures(window []byte) []float64 {
	samples := len(window) / 2
	if samples == 0 {
		return []float64{0, 0}
	}

	var (
		energy    float64
		crossings int
		prev      int16
	)
	for i := 0; i < samples; i++ {
		s := int16(window[2*i]) | int16(window[2*i+1])<<8
		energy += math.Abs(float64(s)) / 32768
		if i > 0 && (s < 0) != (prev < 0) {
			crossings++
		}
		prev = s
	}
	return []float64{
		energy / float64(samples),
		float64(crossings) / float64(samples),
	}
}

func distance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

func similarity(a, b []float64) float64 {
	return 1 / (1 + distance(a, b))
}
