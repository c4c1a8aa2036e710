package config

import (
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Detection defaults. Sensitivity and thresholds are on the classifier's
// normalised [0, 1] energy scale.
const (
	DefaultSensitivity          = 0.5
	DefaultSilenceThreshold     = 0.01
	DefaultSilenceDuration      = 1500 * time.Millisecond
	DefaultMaxRecordingDuration = 60 * time.Second
	DefaultMinRecordingDuration = 500 * time.Millisecond
	DefaultNoSpeechTimeout      = 5 * time.Second
	DefaultWakeBaseThreshold    = 0.1

	DefaultMinSilenceDuration = 500 * time.Millisecond
	DefaultMaxSilenceDuration = 5 * time.Second

	minMaxRecording = time.Second
	maxMaxRecording = 10 * time.Minute
)

// DetectionConfig holds the tunable detection parameters. It is an immutable
// value: the recording pipeline captures one copy per session, so updates made
// through a [DetectionStore] never affect a recording in progress.
type DetectionConfig struct {
	// Sensitivity scales the wake threshold. Clamped to [0, 1].
	Sensitivity float64 `yaml:"sensitivity"`

	// SilenceThreshold is the energy at or below which a frame is silence.
	// Clamped to [0, 1].
	SilenceThreshold float64 `yaml:"silence_threshold"`

	// SilenceDuration is the continuous silence that ends an utterance.
	// Clamped to [Bounds.MinSilence, Bounds.MaxSilence].
	SilenceDuration time.Duration `yaml:"silence_duration"`

	// MaxRecordingDuration is the hard ceiling on a recording session.
	MaxRecordingDuration time.Duration `yaml:"max_recording_duration"`

	// MinRecordingDuration is the shortest retained speech that is dispatched.
	// Shorter recordings are discarded as false triggers.
	MinRecordingDuration time.Duration `yaml:"min_recording_duration"`

	// NoSpeechTimeout discards a session in which no speech started within
	// this time. Zero disables the check.
	NoSpeechTimeout time.Duration `yaml:"no_speech_timeout"`

	// TrailingSilence is how much of the silence after the last voiced frame
	// is kept in the dispatched utterance.
	TrailingSilence time.Duration `yaml:"trailing_silence"`

	// ContinuousListening returns the pipeline to wake listening after each
	// utterance instead of going idle.
	ContinuousListening bool `yaml:"continuous_listening"`

	// WakeBaseThreshold is the wake energy threshold at sensitivity 1.0.
	WakeBaseThreshold float64 `yaml:"wake_base_threshold"`

	// Bounds limits SilenceDuration.
	Bounds SilenceBounds `yaml:"bounds"`
}

// SilenceBounds is the permitted range for DetectionConfig.SilenceDuration.
type SilenceBounds struct {
	MinSilence time.Duration `yaml:"min_silence"`
	MaxSilence time.Duration `yaml:"max_silence"`
}

// DefaultDetection returns the built-in detection parameters.
func DefaultDetection() DetectionConfig {
	return DetectionConfig{
		Sensitivity:          DefaultSensitivity,
		SilenceThreshold:     DefaultSilenceThreshold,
		SilenceDuration:      DefaultSilenceDuration,
		MaxRecordingDuration: DefaultMaxRecordingDuration,
		MinRecordingDuration: DefaultMinRecordingDuration,
		NoSpeechTimeout:      DefaultNoSpeechTimeout,
		ContinuousListening:  true,
		WakeBaseThreshold:    DefaultWakeBaseThreshold,
		Bounds: SilenceBounds{
			MinSilence: DefaultMinSilenceDuration,
			MaxSilence: DefaultMaxSilenceDuration,
		},
	}
}

// Clamp returns a copy of d with every field forced into its permitted
// range, and the YAML names of the fields that had to be adjusted.
func (d DetectionConfig) Clamp() (DetectionConfig, []string) {
	var adjusted []string
	note := func(name string, changed bool) {
		if changed {
			adjusted = append(adjusted, name)
		}
	}

	if d.Bounds.MinSilence <= 0 {
		d.Bounds.MinSilence = DefaultMinSilenceDuration
	}
	if d.Bounds.MaxSilence < d.Bounds.MinSilence {
		note("bounds.max_silence", true)
		d.Bounds.MaxSilence = d.Bounds.MinSilence
	}

	c := clampFloat(d.Sensitivity, 0, 1)
	note("sensitivity", c != d.Sensitivity)
	d.Sensitivity = c

	c = clampFloat(d.SilenceThreshold, 0, 1)
	note("silence_threshold", c != d.SilenceThreshold)
	d.SilenceThreshold = c

	switch {
	case d.WakeBaseThreshold <= 0 || math.IsNaN(d.WakeBaseThreshold):
		note("wake_base_threshold", true)
		d.WakeBaseThreshold = DefaultWakeBaseThreshold
	case d.WakeBaseThreshold > 1:
		note("wake_base_threshold", true)
		d.WakeBaseThreshold = 1
	}

	dur := clampDuration(d.SilenceDuration, d.Bounds.MinSilence, d.Bounds.MaxSilence)
	note("silence_duration", dur != d.SilenceDuration)
	d.SilenceDuration = dur

	dur = clampDuration(d.MaxRecordingDuration, minMaxRecording, maxMaxRecording)
	note("max_recording_duration", dur != d.MaxRecordingDuration)
	d.MaxRecordingDuration = dur

	dur = clampDuration(d.MinRecordingDuration, 0, d.MaxRecordingDuration)
	note("min_recording_duration", dur != d.MinRecordingDuration)
	d.MinRecordingDuration = dur

	dur = clampDuration(d.NoSpeechTimeout, 0, d.MaxRecordingDuration)
	note("no_speech_timeout", dur != d.NoSpeechTimeout)
	d.NoSpeechTimeout = dur

	dur = clampDuration(d.TrailingSilence, 0, d.SilenceDuration)
	note("trailing_silence", dur != d.TrailingSilence)
	d.TrailingSilence = dur

	return d, adjusted
}

func clampFloat(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return max(lo, min(v, hi))
}

func clampDuration(v, lo, hi time.Duration) time.Duration {
	return max(lo, min(v, hi))
}

// DetectionStore is the live source of detection parameters. Readers take
// cheap snapshots; writers replace the whole value, clamping out-of-range
// input instead of rejecting it. It is safe for concurrent use.
type DetectionStore struct {
	cur atomic.Pointer[DetectionConfig]

	mu        sync.Mutex // serialises writers and subscriber list
	listeners []func(DetectionConfig)
}

// NewDetectionStore returns a store holding the clamped form of initial.
func NewDetectionStore(initial DetectionConfig) *DetectionStore {
	s := &DetectionStore{}
	clamped, adjusted := initial.Clamp()
	logAdjusted(adjusted)
	s.cur.Store(&clamped)
	return s
}

// Snapshot returns the current parameters.
func (s *DetectionStore) Snapshot() DetectionConfig {
	return *s.cur.Load()
}

// Set replaces the parameters with the clamped form of d and returns the
// stored value.
func (s *DetectionStore) Set(d DetectionConfig) DetectionConfig {
	return s.Update(func(cur *DetectionConfig) { *cur = d })
}

// Update applies fn to a copy of the current parameters, clamps the result,
// stores it, and notifies subscribers. Writers are serialised through
// notification, so subscribers see values in the order they were stored.
func (s *DetectionStore) Update(fn func(*DetectionConfig)) DetectionConfig {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.Snapshot()
	fn(&next)
	clamped, adjusted := next.Clamp()
	logAdjusted(adjusted)
	s.cur.Store(&clamped)
	for _, l := range s.listeners {
		l(clamped)
	}
	return clamped
}

// SetSensitivity updates only the wake sensitivity.
func (s *DetectionStore) SetSensitivity(v float64) DetectionConfig {
	return s.Update(func(d *DetectionConfig) { d.Sensitivity = v })
}

// SetSilenceThreshold updates only the VAD silence threshold.
func (s *DetectionStore) SetSilenceThreshold(v float64) DetectionConfig {
	return s.Update(func(d *DetectionConfig) { d.SilenceThreshold = v })
}

// SetSilenceDuration updates only the end-of-speech silence duration.
func (s *DetectionStore) SetSilenceDuration(v time.Duration) DetectionConfig {
	return s.Update(func(d *DetectionConfig) { d.SilenceDuration = v })
}

// Subscribe registers fn to be called with the new value after every update.
// fn runs on the updating goroutine while the store is locked; it must not
// block or write to the store.
func (s *DetectionStore) Subscribe(fn func(DetectionConfig)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func logAdjusted(fields []string) {
	if len(fields) > 0 {
		slog.Debug("detection config: clamped out-of-range values", "fields", fields)
	}
}
