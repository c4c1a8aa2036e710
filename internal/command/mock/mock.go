// Package mock provides a test double for [command.Submitter].
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/hark/internal/command"
	"github.com/MrWong99/hark/internal/utterance"
)

// Submitter is a mock implementation of [command.Submitter]. It records every
// utterance it receives.
type Submitter struct {
	mu sync.Mutex

	// Result is returned by Submit.
	Result command.Result

	// Err, when non-nil, is returned by Submit.
	Err error

	// Block, when non-nil, makes Submit wait until it is closed or the
	// context is cancelled.
	Block chan struct{}

	calls []utterance.Utterance
}

// Submit records u and returns Result, Err.
func (s *Submitter) Submit(ctx context.Context, u utterance.Utterance) (command.Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, u)
	block := s.Block
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return command.Result{}, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return command.Result{}, s.Err
	}
	res := s.Result
	res.UtteranceID = u.ID
	return res, nil
}

// Calls returns a copy of the utterances received so far.
func (s *Submitter) Calls() []utterance.Utterance {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]utterance.Utterance, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns how many times Submit was called.
func (s *Submitter) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

var _ command.Submitter = (*Submitter)(nil)
