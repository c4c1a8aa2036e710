// Package command turns finished utterances into recognised commands.
//
// A [Submitter] receives one utterance at a time from the capture pipeline.
// Two implementations are provided: [Service] transcribes locally through an
// STT provider and runs the transcript through a chain of [Interpreter]
// values, and [RemoteSubmitter] posts the audio to a remote navigate service
// that does both steps server-side.
package command

import (
	"context"
	"strings"

	"github.com/MrWong99/hark/internal/utterance"
)

// Command is a recognised user intent.
type Command struct {
	// Intent identifies the action, e.g. "navigate_map".
	Intent string `json:"intent"`

	// Parameters holds named arguments extracted from the transcript, e.g.
	// {"destination": "Berlin"}.
	Parameters map[string]string `json:"parameters,omitempty"`

	// Feedback is the confirmation text to show or speak back to the user.
	Feedback string `json:"feedback,omitempty"`

	// URL is an optional link produced by the command, e.g. a map route.
	URL string `json:"url,omitempty"`
}

// Result is the outcome of submitting one utterance.
type Result struct {
	// UtteranceID is the recording session the result belongs to.
	UtteranceID string `json:"utterance_id"`

	// Text is the recognised transcript. Empty when the backend did not
	// report one.
	Text string `json:"text"`

	// Command is the recognised command, or nil when the transcript matched
	// nothing.
	Command *Command `json:"command,omitempty"`

	// Provider names the backend that produced Text.
	Provider string `json:"provider,omitempty"`

	// Interpreter names the interpreter that produced Command.
	Interpreter string `json:"interpreter,omitempty"`
}

// Submitter hands a finished utterance to a transcription or command backend.
// Implementations must be safe for concurrent use; the capture pipeline calls
// Submit on its own goroutine per utterance.
type Submitter interface {
	Submit(ctx context.Context, u utterance.Utterance) (Result, error)
}

// SubmitterFunc adapts a plain function to [Submitter].
type SubmitterFunc func(ctx context.Context, u utterance.Utterance) (Result, error)

// Submit calls f.
func (f SubmitterFunc) Submit(ctx context.Context, u utterance.Utterance) (Result, error) {
	return f(ctx, u)
}

// Interpreter extracts a [Command] from a transcript. It returns nil, nil
// when the transcript does not contain a command it recognises.
type Interpreter interface {
	Interpret(ctx context.Context, transcript string) (*Command, error)
	Name() string
}

// InterpreterFunc adapts a plain function to [Interpreter] under name.
func InterpreterFunc(name string, fn func(ctx context.Context, transcript string) (*Command, error)) Interpreter {
	return interpreterFunc{name: name, fn: fn}
}

type interpreterFunc struct {
	name string
	fn   func(ctx context.Context, transcript string) (*Command, error)
}

func (f interpreterFunc) Interpret(ctx context.Context, transcript string) (*Command, error) {
	return f.fn(ctx, transcript)
}

func (f interpreterFunc) Name() string { return f.name }

// renderFeedback substitutes "{param}" and "{name}" placeholders in tmpl.
func renderFeedback(tmpl string, params map[string]string) string {
	if tmpl == "" || len(params) == 0 {
		return tmpl
	}
	pairs := make([]string, 0, len(params)*4)
	for k, v := range params {
		pairs = append(pairs, "{"+k+"}", v)
		if len(params) == 1 {
			pairs = append(pairs, "{param}", v)
		}
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
