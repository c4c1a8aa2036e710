package app

import (
	"fmt"
	"testing"

	"github.com/MrWong99/hark/internal/coordinator"
	"github.com/MrWong99/hark/internal/utterance"
)

func TestHub_FanOut(t *testing.T) {
	t.Parallel()

	h := NewHub(4)
	a, cancelA := h.Subscribe()
	defer cancelA()
	b, cancelB := h.Subscribe()
	defer cancelB()

	h.Publish(coordinator.Event{Kind: coordinator.EventWakeDetected})

	for name, ch := range map[string]<-chan coordinator.Event{"a": a, "b": b} {
		select {
		case ev := <-ch:
			if ev.Kind != coordinator.EventWakeDetected {
				t.Errorf("subscriber %s got %v, want %v", name, ev.Kind, coordinator.EventWakeDetected)
			}
		default:
			t.Errorf("subscriber %s received nothing", name)
		}
	}
}

func TestHub_SlowSubscriberDrops(t *testing.T) {
	t.Parallel()

	h := NewHub(2)
	ch, cancel := h.Subscribe()
	defer cancel()

	for range 5 {
		h.Publish(coordinator.Event{Kind: coordinator.EventSpeechStarted})
	}
	if got := len(ch); got != 2 {
		t.Errorf("buffered events = %d, want 2", got)
	}
	if got := h.Dropped(); got != 3 {
		t.Errorf("Dropped() = %d, want 3", got)
	}
}

func TestHub_CancelAndClose(t *testing.T) {
	t.Parallel()

	h := NewHub(1)
	ch, cancel := h.Subscribe()
	if h.Subscribers() != 1 {
		t.Fatalf("Subscribers() = %d, want 1", h.Subscribers())
	}
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Error("channel open after cancel")
	}
	if h.Subscribers() != 0 {
		t.Errorf("Subscribers() = %d, want 0", h.Subscribers())
	}

	other, cancelOther := h.Subscribe()
	h.Close()
	h.Close()
	if _, ok := <-other; ok {
		t.Error("channel open after Close")
	}
	cancelOther()

	late, _ := h.Subscribe()
	if _, ok := <-late; ok {
		t.Error("Subscribe after Close returned an open channel")
	}
	h.Publish(coordinator.Event{})
}

func TestPendingSet_Bounded(t *testing.T) {
	t.Parallel()

	p := newPendingSet()
	for i := range pendingLimit + 2 {
		p.put(utterance.Utterance{ID: fmt.Sprintf("u%d", i)})
	}
	if got := p.len(); got != pendingLimit {
		t.Errorf("len() = %d, want %d", got, pendingLimit)
	}
	if _, ok := p.take("u0"); ok {
		t.Error("oldest entry was not evicted")
	}
	u, ok := p.take("u5")
	if !ok || u.ID != "u5" {
		t.Errorf("take(u5) = %+v, %v", u, ok)
	}
	if _, ok := p.take("u5"); ok {
		t.Error("take returned an entry twice")
	}
	if got := p.len(); got != pendingLimit-1 {
		t.Errorf("len() = %d, want %d", got, pendingLimit-1)
	}
}
