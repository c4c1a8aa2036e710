package app

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/hark/internal/command"
	"github.com/MrWong99/hark/internal/coordinator"
	"github.com/MrWong99/hark/internal/utterance"
)

const (
	defaultSubscriberBuffer = 64

	// pendingLimit caps how many utterances wait for a transcription before
	// the oldest is forgotten.
	pendingLimit = 128
)

// Hub fans pipeline events out to any number of subscribers. A subscriber
// that falls behind loses events instead of stalling the others. It is safe
// for concurrent use.
type Hub struct {
	buffer int

	mu     sync.Mutex
	subs   map[chan coordinator.Event]struct{}
	closed bool

	dropped atomic.Uint64
}

// NewHub returns a Hub whose subscriber channels hold buffer events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Hub{
		buffer: buffer,
		subs:   make(map[chan coordinator.Event]struct{}),
	}
}

// Subscribe registers a new subscriber. The returned cancel function removes
// it and closes its channel; it is safe to call more than once. After the hub
// is closed Subscribe returns a closed channel.
func (h *Hub) Subscribe() (<-chan coordinator.Event, func()) {
	ch := make(chan coordinator.Event, h.buffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
			}
		})
	}
}

// Publish delivers ev to every subscriber without blocking.
func (h *Hub) Publish(ev coordinator.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Close closes every subscriber channel. Later Publish calls are no-ops.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped returns how many deliveries were skipped for slow subscribers.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// ─── Event loop ──────────────────────────────────────────────────────────────

// forwardEvents drains the coordinator's event stream until it is closed,
// applying side effects and publishing each event to the hub.
func (a *App) forwardEvents() {
	defer a.hub.Close()
	for ev := range a.coord.Events() {
		a.handleEvent(ev)
		a.hub.Publish(ev)
	}
}

func (a *App) handleEvent(ev coordinator.Event) {
	switch ev.Kind {
	case coordinator.EventUtteranceReady:
		if a.archive == nil || ev.Utterance == nil {
			return
		}
		u := *ev.Utterance
		if _, err := a.archive.Save(u); err != nil {
			slog.Warn("failed to archive utterance", "session_id", u.ID, "err", err)
			return
		}
		if a.submitter == nil {
			a.annotate(u, command.Result{}, nil)
			return
		}
		u.Audio = nil
		a.pending.put(u)

	case coordinator.EventTranscriptionReady:
		if ev.Result != nil {
			res := *ev.Result
			slog.Info("transcription ready",
				"session_id", ev.SessionID,
				"text", res.Text,
				"intent", intentOf(res.Command),
			)
			if u, ok := a.pending.take(ev.SessionID); ok {
				a.annotate(u, res, nil)
			}
		}

	case coordinator.EventError:
		switch ev.ErrorKind {
		case coordinator.ErrCaptureInterruptedKind:
			if a.resumer != nil {
				a.resumer.NotifyInterrupted()
			}
		case coordinator.ErrSubmitFailedKind:
			if u, ok := a.pending.take(ev.SessionID); ok {
				a.annotate(u, command.Result{UtteranceID: u.ID}, ev.Err)
			}
		}
	}
}

func (a *App) annotate(u utterance.Utterance, res command.Result, submitErr error) {
	if err := a.archive.Annotate(u, res, submitErr); err != nil {
		slog.Warn("failed to annotate archived utterance", "session_id", u.ID, "err", err)
	}
}

func intentOf(cmd *command.Command) string {
	if cmd == nil {
		return ""
	}
	return cmd.Intent
}

// pendingSet is a bounded FIFO of utterances keyed by ID. It is only used
// from the event loop.
type pendingSet struct {
	byID  map[string]utterance.Utterance
	order []string
}

func newPendingSet() *pendingSet {
	return &pendingSet{byID: make(map[string]utterance.Utterance)}
}

func (p *pendingSet) put(u utterance.Utterance) {
	if len(p.order) >= pendingLimit {
		oldest := p.order[0]
		p.order = p.order[1:]
		delete(p.byID, oldest)
	}
	p.byID[u.ID] = u
	p.order = append(p.order, u.ID)
}

func (p *pendingSet) take(id string) (utterance.Utterance, bool) {
	u, ok := p.byID[id]
	if !ok {
		return u, false
	}
	delete(p.byID, id)
	for i, v := range p.order {
		if v == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return u, true
}

func (p *pendingSet) len() int { return len(p.byID) }
