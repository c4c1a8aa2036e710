// Package coordinator implements the voice input state machine: it owns the
// capture source, runs the wake detector while waiting for activation, drives
// the VAD and the utterance buffer while recording, and hands finished
// utterances to a [command.Submitter].
//
//	Idle ──StartListening──► WakeListening ──wake / manual──► Recording
//	  ▲                           ▲                              │
//	  │                           └──── continuous ────┐         │ speech ended,
//	  │                                                ▼         │ max duration,
//	  └────────────── not continuous ──────────── Finalizing ◄───┘ no speech
//
// StopListening moves any state to Idle. A capture device failure moves any
// listening state to Idle and emits [ErrCaptureInterruptedKind].
//
// All state and session mutation happens on one goroutine, the control loop
// started by [Coordinator.Run]. The capture source only pushes frames into
// its channel; public methods post commands to the loop and wait for the
// reply. Events are delivered on a buffered channel that the loop never
// blocks on.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/hark/internal/command"
	"github.com/MrWong99/hark/internal/config"
	"github.com/MrWong99/hark/internal/observe"
	"github.com/MrWong99/hark/internal/utterance"
	"github.com/MrWong99/hark/pkg/audio"
	"github.com/MrWong99/hark/pkg/provider/vad"
	"github.com/MrWong99/hark/pkg/provider/wake"
)

const (
	defaultEventBuffer   = 64
	defaultSubmitTimeout = 30 * time.Second
)

var (
	// ErrNotRunning is returned by the public methods once Run has returned.
	ErrNotRunning = errors.New("coordinator: not running")

	// ErrAlreadyRunning is returned by a second concurrent call to Run.
	ErrAlreadyRunning = errors.New("coordinator: already running")
)

// Config wires a [Coordinator] to its collaborators.
type Config struct {
	// Source is the capture device. Required.
	Source audio.Source

	// Wake decides when recording starts. Required.
	Wake wake.Detector

	// VAD creates the per-session voice activity detector. Required.
	VAD vad.Engine

	// Detection supplies the detection parameters. Each recording session
	// captures one snapshot. Required.
	Detection *config.DetectionStore

	// Submitter receives every dispatched utterance. When nil, utterances are
	// only reported as events.
	Submitter command.Submitter

	// Clock supplies pipeline time. Defaults to [SystemClock].
	Clock Clock

	// Metrics records pipeline metrics. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// EventBuffer is the capacity of the event channel. Default 64.
	EventBuffer int

	// SubmitTimeout bounds a single submission. Default 30s.
	SubmitTimeout time.Duration
}

// Status is a consistent snapshot of the control loop.
type Status struct {
	State State `json:"state"`

	// SessionID is the active recording session, or empty.
	SessionID string `json:"session_id,omitempty"`

	// Recording is how long the active session has been recording, measured
	// at its most recent frame.
	Recording time.Duration `json:"recording_ns,omitempty"`

	// Detection is the current detection configuration.
	Detection config.DetectionConfig `json:"detection"`

	// DroppedEvents counts events discarded because the buffer was full.
	DroppedEvents uint64 `json:"dropped_events"`
}

type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdStop
	cmdTrigger
	cmdFinish
	cmdStatus
)

type request struct {
	kind  cmdKind
	reply chan response
}

type response struct {
	status Status
	err    error
}

// Coordinator is the voice input state machine. Create one with [New] and
// start its control loop with [Coordinator.Run].
type Coordinator struct {
	src       audio.Source
	wake      wake.Detector
	vadEngine vad.Engine
	detection *config.DetectionStore
	submitter command.Submitter
	clock     Clock
	metrics   *observe.Metrics
	submitTO  time.Duration

	state   atomic.Int32
	events  chan Event
	dropped atomic.Uint64

	requests chan request
	done     chan struct{}
	running  atomic.Bool
	inflight sync.WaitGroup

	// Owned by the control loop.
	runCtx   context.Context
	frames   <-chan audio.AudioFrame
	session  *utterance.Session
	vadSess  vad.SessionHandle
	lastSeen time.Time
}

// New validates cfg and returns an idle coordinator.
func New(cfg Config) (*Coordinator, error) {
	switch {
	case cfg.Source == nil:
		return nil, errors.New("coordinator: Source is required")
	case cfg.Wake == nil:
		return nil, errors.New("coordinator: Wake is required")
	case cfg.VAD == nil:
		return nil, errors.New("coordinator: VAD is required")
	case cfg.Detection == nil:
		return nil, errors.New("coordinator: Detection is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = defaultSubmitTimeout
	}

	c := &Coordinator{
		src:       cfg.Source,
		wake:      cfg.Wake,
		vadEngine: cfg.VAD,
		detection: cfg.Detection,
		submitter: cfg.Submitter,
		clock:     cfg.Clock,
		metrics:   cfg.Metrics,
		submitTO:  cfg.SubmitTimeout,
		events:    make(chan Event, cfg.EventBuffer),
		requests:  make(chan request),
		done:      make(chan struct{}),
	}
	c.wake.UpdateSensitivity(cfg.Detection.Snapshot().Sensitivity)
	cfg.Detection.Subscribe(func(d config.DetectionConfig) {
		c.wake.UpdateSensitivity(d.Sensitivity)
	})
	return c, nil
}

// State returns the current pipeline state. It is safe to call from any
// goroutine.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Events returns the event stream. The channel is closed after Run returns
// and every in-flight submission has finished.
func (c *Coordinator) Events() <-chan Event {
	return c.events
}

// DroppedEvents returns how many events were discarded because the event
// buffer was full.
func (c *Coordinator) DroppedEvents() uint64 {
	return c.dropped.Load()
}

// StartListening acquires the capture device and enters WakeListening. It is
// a no-op when already listening. Acquisition failures wrap
// [audio.ErrDeviceUnavailable] and leave the pipeline Idle.
func (c *Coordinator) StartListening(ctx context.Context) error {
	_, err := c.call(ctx, cmdStart)
	return err
}

// StopListening discards any recording in progress, releases the capture
// device and enters Idle. When it returns no further frame is processed.
func (c *Coordinator) StopListening(ctx context.Context) error {
	_, err := c.call(ctx, cmdStop)
	return err
}

// TriggerManualRecording starts a recording session without waiting for the
// wake detector. From Idle it acquires the capture device first. While a
// session is already recording it is a no-op.
func (c *Coordinator) TriggerManualRecording(ctx context.Context) error {
	_, err := c.call(ctx, cmdTrigger)
	return err
}

// FinishRecording ends the active recording session as if speech had ended,
// e.g. on release of a push-to-talk key. Without an active session it is a
// no-op.
func (c *Coordinator) FinishRecording(ctx context.Context) error {
	_, err := c.call(ctx, cmdFinish)
	return err
}

// Status returns a snapshot taken on the control loop. Every frame received
// before the call has been fully processed when it returns.
func (c *Coordinator) Status(ctx context.Context) (Status, error) {
	resp, err := c.call(ctx, cmdStatus)
	return resp.status, err
}

func (c *Coordinator) call(ctx context.Context, kind cmdKind) (response, error) {
	req := request{kind: kind, reply: make(chan response, 1)}
	select {
	case c.requests <- req:
	case <-c.done:
		return response{}, ErrNotRunning
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
	select {
	case resp := <-req.reply:
		return resp, resp.err
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
}

// Run executes the control loop until ctx is cancelled. On return the capture
// device is released, in-flight submissions have finished and the event
// channel is closed. Run may be called only once.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	c.runCtx = ctx
	defer func() {
		close(c.done)
		c.inflight.Wait()
		close(c.events)
	}()

	slog.Info("voice input coordinator started")
	for {
		select {
		case <-ctx.Done():
			c.release(nil)
			slog.Info("voice input coordinator stopped")
			return nil

		case req := <-c.requests:
			req.reply <- c.handle(req.kind)

		case frame, ok := <-c.frames:
			if !ok {
				c.captureLost()
				continue
			}
			c.processFrame(frame)
		}
	}
}

func (c *Coordinator) handle(kind cmdKind) response {
	switch kind {
	case cmdStart:
		return response{err: c.startListening()}
	case cmdStop:
		return response{err: c.stopListening()}
	case cmdTrigger:
		return response{err: c.triggerManual()}
	case cmdFinish:
		if c.session != nil {
			c.finalize(utterance.EndManual, c.clock.Now())
		}
		return response{}
	case cmdStatus:
		st := Status{
			State:         c.State(),
			Detection:     c.detection.Snapshot(),
			DroppedEvents: c.dropped.Load(),
		}
		if c.session != nil {
			st.SessionID = c.session.ID()
			st.Recording = c.session.Elapsed(c.lastSeen)
		}
		return response{status: st}
	}
	return response{err: fmt.Errorf("coordinator: unknown command %d", kind)}
}

// ─── control loop operations ──────────────────────────────────────────────────

func (c *Coordinator) startListening() error {
	if c.State().Listening() {
		return nil
	}
	frames, err := c.src.Start(c.runCtx)
	if err != nil {
		if !errors.Is(err, audio.ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %w", audio.ErrDeviceUnavailable, err)
		}
		slog.Warn("capture device unavailable", "error", err)
		c.metrics.RecordPipelineError(c.runCtx, ErrDeviceUnavailableKind.String())
		c.emit(Event{Kind: EventError, Time: c.lastSeen, ErrorKind: ErrDeviceUnavailableKind, Err: err})
		return err
	}
	c.frames = frames
	c.wake.Reset()
	c.metrics.Listening.Add(c.runCtx, 1)
	c.setState(StateWakeListening)
	return nil
}

func (c *Coordinator) stopListening() error {
	if !c.State().Listening() {
		return nil
	}
	if c.session != nil {
		slog.Info("recording discarded by stop", "session_id", c.session.ID())
	}
	return c.release(nil)
}

func (c *Coordinator) triggerManual() error {
	switch c.State() {
	case StateIdle:
		if err := c.startListening(); err != nil {
			return err
		}
	case StateRecording, StateFinalizing:
		return nil
	}
	return c.beginRecording(c.clock.Now(), ActivationManual, nil)
}

// release discards the session, stops the source and enters Idle. cause is
// the capture error when the device was lost, nil for a requested stop.
func (c *Coordinator) release(cause error) error {
	c.session = nil
	wasListening := c.State().Listening()

	var err error
	if c.frames != nil {
		if stopErr := c.src.Stop(); stopErr != nil && cause == nil {
			err = fmt.Errorf("coordinator: stop source: %w", stopErr)
		}
		c.frames = nil
	}
	if c.vadSess != nil {
		_ = c.vadSess.Close()
		c.vadSess = nil
	}
	if wasListening {
		c.metrics.Listening.Add(context.WithoutCancel(c.runCtx), -1)
	}
	c.setState(StateIdle)
	return err
}

func (c *Coordinator) captureLost() {
	cause := c.src.Err()
	if cause == nil {
		cause = audio.ErrCaptureInterrupted
	}
	slog.Warn("capture interrupted", "state", c.State(), "error", cause)
	c.release(cause)
	c.metrics.RecordPipelineError(context.WithoutCancel(c.runCtx), ErrCaptureInterruptedKind.String())
	c.emit(Event{Kind: EventError, Time: c.lastSeen, ErrorKind: ErrCaptureInterruptedKind, Err: cause})
}

func (c *Coordinator) processFrame(frame audio.AudioFrame) {
	if fo, ok := c.clock.(frameObserver); ok {
		fo.ObserveFrame(frame)
	}
	now := c.clock.Now()
	c.lastSeen = now

	switch c.State() {
	case StateWakeListening:
		if !c.wake.Process(frame) {
			return
		}
		slog.Debug("wake detected", "threshold", c.wake.Threshold())
		c.emit(Event{Kind: EventWakeDetected, Time: now})
		if err := c.beginRecording(now, ActivationWake, &frame); err != nil {
			c.wake.Reset()
		}
	case StateRecording:
		c.recordFrame(frame, now)
	}
}

// beginRecording opens a session at now. first, when non-nil, is the frame
// that caused activation and becomes the session's first frame.
func (c *Coordinator) beginRecording(now time.Time, source Activation, first *audio.AudioFrame) error {
	snap := c.detection.Snapshot()
	if err := c.prepareVAD(snap); err != nil {
		slog.Error("failed to prepare voice activity detection", "error", err)
		return err
	}
	c.session = utterance.New(snap, c.vadSess, now)
	c.setState(StateRecording)
	c.metrics.RecordActivation(c.runCtx, string(source))
	slog.Info("recording started", "session_id", c.session.ID(), "activation", source)
	c.emit(Event{Kind: EventRecordingStarted, Time: now, SessionID: c.session.ID(), Activation: source})

	if first != nil {
		c.recordFrame(*first, now)
	}
	return nil
}

// prepareVAD resets the VAD session, replacing it when the detection
// parameters it depends on have changed.
func (c *Coordinator) prepareVAD(d config.DetectionConfig) error {
	want := vad.Config{
		SampleRate:       audio.DefaultSampleRate,
		SilenceThreshold: d.SilenceThreshold,
		SilenceDuration:  d.SilenceDuration,
	}
	if c.vadSess != nil && c.vadSess.Config() == want {
		c.vadSess.Reset()
		return nil
	}
	if c.vadSess != nil {
		_ = c.vadSess.Close()
		c.vadSess = nil
	}
	sess, err := c.vadEngine.NewSession(want)
	if err != nil {
		return fmt.Errorf("coordinator: new vad session: %w", err)
	}
	c.vadSess = sess
	return nil
}

func (c *Coordinator) recordFrame(frame audio.AudioFrame, now time.Time) {
	s := c.session
	cfg := s.Config()

	if s.Elapsed(now) >= cfg.MaxRecordingDuration {
		c.finalize(utterance.EndTimeout, now)
		return
	}

	ev, err := c.vadSess.ProcessFrame(frame, now)
	if err != nil {
		slog.Warn("vad rejected frame", "session_id", s.ID(), "error", err)
		return
	}
	s.Append(frame, now)

	switch ev.Type {
	case vad.VADSpeechStart:
		c.emit(Event{Kind: EventSpeechStarted, Time: now, SessionID: s.ID()})
	case vad.VADSpeechEnd:
		c.emit(Event{Kind: EventSpeechEnded, Time: now, SessionID: s.ID()})
		c.finalize(utterance.EndSpeech, now)
		return
	}

	if cfg.NoSpeechTimeout > 0 && ev.State == vad.StateSilence && s.Elapsed(now) >= cfg.NoSpeechTimeout {
		c.finalize(utterance.EndNoSpeech, now)
	}
}

func (c *Coordinator) finalize(reason utterance.EndReason, now time.Time) {
	s := c.session
	c.setState(StateFinalizing)
	utt, outcome := s.Finalize(reason)
	c.session = nil
	cfg := s.Config()

	ctx := context.WithoutCancel(c.runCtx)
	c.metrics.RecordUtterance(ctx, outcome.String(), utt.Reason.String(), utt.Duration, outcome == utterance.OutcomeReady)

	if outcome == utterance.OutcomeReady {
		slog.Info("utterance ready",
			"session_id", utt.ID,
			"duration", utt.Duration,
			"reason", utt.Reason,
		)
		c.emit(Event{Kind: EventUtteranceReady, Time: now, SessionID: utt.ID, Reason: utt.Reason.String(), Utterance: &utt})
		c.dispatch(utt)
	} else {
		slog.Info("recording discarded as false trigger",
			"session_id", utt.ID,
			"duration", utt.Duration,
			"reason", utt.Reason,
		)
		c.emit(Event{Kind: EventFalseTrigger, Time: now, SessionID: utt.ID, Reason: utt.Reason.String()})
	}

	if cfg.ContinuousListening {
		c.wake.Reset()
		c.setState(StateWakeListening)
		return
	}
	if err := c.release(nil); err != nil {
		slog.Warn("failed to release capture device", "error", err)
	}
}

// dispatch hands utt to the submitter on its own goroutine.
func (c *Coordinator) dispatch(utt utterance.Utterance) {
	if c.submitter == nil {
		return
	}
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		ctx, cancel := context.WithTimeout(c.runCtx, c.submitTO)
		defer cancel()

		res, err := c.submitter.Submit(ctx, utt)
		if err != nil {
			slog.Warn("utterance submission failed", "session_id", utt.ID, "error", err)
			c.metrics.RecordPipelineError(context.WithoutCancel(ctx), ErrSubmitFailedKind.String())
			c.emit(Event{Kind: EventError, Time: utt.EndedAt, SessionID: utt.ID, ErrorKind: ErrSubmitFailedKind, Err: err})
			return
		}
		if res.UtteranceID == "" {
			res.UtteranceID = utt.ID
		}
		c.emit(Event{Kind: EventTranscriptionReady, Time: utt.EndedAt, SessionID: utt.ID, Result: &res})
	}()
}

func (c *Coordinator) setState(to State) {
	from := State(c.state.Swap(int32(to)))
	if from == to {
		return
	}
	slog.Debug("pipeline state changed", "from", from, "to", to)
	c.emit(Event{Kind: EventStateChanged, Time: c.lastSeen, State: to, Previous: from})
}

// emit delivers ev without blocking; when the buffer is full the event is
// dropped and counted.
func (c *Coordinator) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		n := c.dropped.Add(1)
		c.metrics.DroppedEvents.Add(context.Background(), 1)
		if n == 1 || n%100 == 0 {
			slog.Warn("event buffer full, dropping events", "dropped", n, "kind", ev.Kind)
		}
	}
}
