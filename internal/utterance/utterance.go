// Package utterance holds the per-recording state of the capture pipeline:
// the accumulated audio of one recording session and the rules that decide
// whether it is dispatched or discarded.
//
// A [Session] is owned by exactly one goroutine, the coordinator's control
// loop. It reads the voice activity state through a [SpeechTracker] (normally
// the session's VAD handle) but never drives the VAD itself.
package utterance

import (
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/hark/internal/config"
	"github.com/MrWong99/hark/pkg/audio"
	"github.com/MrWong99/hark/pkg/provider/vad"
)

// EndReason records why a recording session was finalized.
type EndReason int

const (
	// EndSpeech means the VAD reported the end of speech.
	EndSpeech EndReason = iota

	// EndTimeout means the MaxRecordingDuration ceiling was reached.
	EndTimeout

	// EndNoSpeech means no speech started before the no-speech timeout or
	// the hard ceiling.
	EndNoSpeech

	// EndManual means the user ended the recording explicitly, e.g. by
	// releasing a push-to-talk key.
	EndManual
)

// String returns the human-readable name of the reason.
func (r EndReason) String() string {
	switch r {
	case EndSpeech:
		return "speech_ended"
	case EndTimeout:
		return "max_duration"
	case EndNoSpeech:
		return "no_speech"
	case EndManual:
		return "manual"
	default:
		return "unknown"
	}
}

// Outcome is the verdict of [Session.Finalize].
type Outcome int

const (
	// OutcomeReady means the utterance should be dispatched.
	OutcomeReady Outcome = iota

	// OutcomeFalseTrigger means the session was too short, or held no
	// speech, and is discarded without dispatch.
	OutcomeFalseTrigger
)

// String returns the human-readable name of the outcome.
func (o Outcome) String() string {
	if o == OutcomeReady {
		return "ready"
	}
	return "false_trigger"
}

// Utterance is the finalized audio of one recording session.
type Utterance struct {
	// ID is the recording session identifier.
	ID string

	// Audio is mono 16-bit little-endian PCM.
	Audio []byte

	// SampleRate is the sample rate of Audio in Hz.
	SampleRate int

	// Duration is the playback length of Audio.
	Duration time.Duration

	// StartedAt is the pipeline clock reading when recording began.
	StartedAt time.Time

	// EndedAt is the pipeline clock reading of the last processed frame.
	EndedAt time.Time

	// Reason records what ended the recording.
	Reason EndReason
}

// SpeechTracker exposes the voice activity state a session depends on.
// [vad.SessionHandle] satisfies it.
type SpeechTracker interface {
	State() vad.State
	LastSpeech() time.Time
}

// frameMark records where a frame ends in the buffer and when it arrived.
type frameMark struct {
	at  time.Time
	end int
}

// Session accumulates the frames of one recording. It is not safe for
// concurrent use.
type Session struct {
	id         string
	cfg        config.DetectionConfig
	start      time.Time
	last       time.Time
	sampleRate int
	speech     SpeechTracker

	buf   []byte
	marks []frameMark

	finalized bool
	result    Utterance
	outcome   Outcome
}

// New starts a recording session at start with a snapshot of the detection
// parameters. speech reports the VAD state used by Append and Finalize.
func New(cfg config.DetectionConfig, speech SpeechTracker, start time.Time) *Session {
	return &Session{
		id:         uuid.NewString(),
		cfg:        cfg,
		start:      start,
		last:       start,
		sampleRate: audio.DefaultSampleRate,
		speech:     speech,
	}
}

// ID returns the unique session identifier.
func (s *Session) ID() string { return s.id }

// StartedAt returns the clock reading at which the session began.
func (s *Session) StartedAt() time.Time { return s.start }

// Config returns the detection parameters captured for this session.
func (s *Session) Config() config.DetectionConfig { return s.cfg }

// Elapsed returns how long the session has been running at now.
func (s *Session) Elapsed(now time.Time) time.Duration { return now.Sub(s.start) }

// Len returns the number of buffered audio bytes.
func (s *Session) Len() int { return len(s.buf) }

// Finalized reports whether Finalize has been called.
func (s *Session) Finalized() bool { return s.finalized }

// Append adds frame, which arrived at now, to the buffer. The frame is
// rejected, and false returned, once the session is finalized, once the VAD
// has reached SpeechEnded, or once now is MaxRecordingDuration or more past
// the session start.
func (s *Session) Append(frame audio.AudioFrame, now time.Time) bool {
	if s.finalized {
		return false
	}
	if s.speech.State() == vad.StateSpeechEnded {
		return false
	}
	if s.Elapsed(now) >= s.cfg.MaxRecordingDuration {
		return false
	}
	if len(s.buf) == 0 && frame.SampleRate > 0 {
		s.sampleRate = frame.SampleRate
	}
	s.buf = append(s.buf, frame.Data...)
	s.marks = append(s.marks, frameMark{at: now, end: len(s.buf)})
	s.last = now
	return true
}

// Finalize closes the session and decides whether its audio is dispatched.
// The first call computes the result; every later call returns the same
// snapshot regardless of reason.
//
// EndSpeech and EndManual keep audio up to the end of the last voiced frame
// plus TrailingSilence and discard the result as a false trigger when that is
// shorter than MinRecordingDuration. EndTimeout keeps everything and skips
// the minimum check. A session that never saw speech is always a false
// trigger.
func (s *Session) Finalize(reason EndReason) (Utterance, Outcome) {
	if s.finalized {
		return s.result, s.outcome
	}
	s.finalized = true

	lastSpeech := s.speech.LastSpeech()
	if lastSpeech.IsZero() {
		reason = EndNoSpeech
	}

	var pcm []byte
	switch reason {
	case EndTimeout:
		pcm = s.buf
	case EndSpeech, EndManual:
		pcm = s.buf[:s.trimEnd(lastSpeech)]
	}

	s.result = Utterance{
		ID:         s.id,
		Audio:      append([]byte(nil), pcm...),
		SampleRate: s.sampleRate,
		Duration:   audio.PCMDuration(len(pcm), s.sampleRate),
		StartedAt:  s.start,
		EndedAt:    s.last,
		Reason:     reason,
	}

	s.outcome = OutcomeReady
	switch {
	case reason == EndNoSpeech:
		s.outcome = OutcomeFalseTrigger
	case reason != EndTimeout && s.result.Duration < s.cfg.MinRecordingDuration:
		s.outcome = OutcomeFalseTrigger
	}
	if s.outcome == OutcomeFalseTrigger {
		s.result.Audio = nil
	}

	// The buffer is no longer needed; the result holds its own copy.
	s.buf, s.marks = nil, nil
	return s.result, s.outcome
}

// trimEnd returns the buffer offset just past the last frame that arrived at
// or before lastSpeech, extended by TrailingSilence.
func (s *Session) trimEnd(lastSpeech time.Time) int {
	end := 0
	for i := len(s.marks) - 1; i >= 0; i-- {
		if !s.marks[i].at.After(lastSpeech) {
			end = s.marks[i].end
			break
		}
	}
	end += audio.PCMBytes(s.cfg.TrailingSilence, s.sampleRate)
	return min(end, len(s.buf))
}
