package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/hark/internal/observe"
	"github.com/MrWong99/hark/pkg/provider/llm"
)

const (
	llmMaxTokens = 256

	// noIntent is the intent the model answers with when the transcript
	// holds no command.
	noIntent = "none"
)

// defaultIntentPrompt instructs the model to answer with a single JSON
// object. The intent list is appended by [NewLLMInterpreter].
const defaultIntentPrompt = `You turn short spoken commands into structured intents.
Answer with exactly one JSON object and nothing else:
{"intent": "<intent>", "parameters": {"<name>": "<value>"}, "feedback": "<short confirmation>"}

Rules:
1. Use "navigate_map" with parameters "start" and "end" for route requests.
   If only a destination is named, set "start" to "current location".
2. Keep place names exactly as spoken.
3. If the text is not a command, answer {"intent": "none"}.`

// ErrMalformedIntent is returned when the model's reply is not a JSON intent.
var ErrMalformedIntent = errors.New("command: malformed intent reply")

// LLMOption is a functional option for [NewLLMInterpreter].
type LLMOption func(*LLMInterpreter)

// WithSystemPrompt replaces the default intent extraction prompt.
func WithSystemPrompt(prompt string) LLMOption {
	return func(l *LLMInterpreter) {
		l.prompt = prompt
	}
}

// WithIntents appends the given intent names to the prompt as the set the
// model may choose from.
func WithIntents(intents ...string) LLMOption {
	return func(l *LLMInterpreter) {
		l.intents = append(l.intents, intents...)
	}
}

// WithLLMMetrics sets the metrics recorder. Default: [observe.DefaultMetrics].
func WithLLMMetrics(m *observe.Metrics) LLMOption {
	return func(l *LLMInterpreter) {
		l.metrics = m
	}
}

// LLMInterpreter asks a language model to extract an intent from a free-form
// transcript. It is usually placed after a [PhraseInterpreter] so the model
// only sees transcripts that matched no configured phrase.
type LLMInterpreter struct {
	llm     llm.Provider
	prompt  string
	intents []string
	metrics *observe.Metrics
}

// NewLLMInterpreter returns an interpreter backed by p.
func NewLLMInterpreter(p llm.Provider, opts ...LLMOption) *LLMInterpreter {
	l := &LLMInterpreter{llm: p, prompt: defaultIntentPrompt}
	for _, o := range opts {
		o(l)
	}
	if l.metrics == nil {
		l.metrics = observe.DefaultMetrics()
	}
	return l
}

// Name returns "llm".
func (l *LLMInterpreter) Name() string { return "llm" }

// Interpret sends transcript to the model and parses its JSON reply. A reply
// with intent "none" or an empty intent yields nil, nil.
func (l *LLMInterpreter) Interpret(ctx context.Context, transcript string) (*Command, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return nil, nil
	}

	start := time.Now()
	deterministic := 0.0
	resp, err := l.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: l.systemPrompt(),
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: transcript}},
		Temperature:  &deterministic,
		MaxTokens:    llmMaxTokens,
	})
	name := l.llm.Name()
	l.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("provider", name)))
	if err != nil {
		l.metrics.RecordProviderRequest(ctx, name, "llm", "error")
		l.metrics.RecordProviderError(ctx, name, "llm")
		return nil, fmt.Errorf("command: llm interpret: %w", err)
	}
	l.metrics.RecordProviderRequest(ctx, name, "llm", "ok")
	if resp == nil {
		return nil, fmt.Errorf("%w: empty response", ErrMalformedIntent)
	}
	return parseIntent(resp.Content)
}

func (l *LLMInterpreter) systemPrompt() string {
	if len(l.intents) == 0 {
		return l.prompt
	}
	return l.prompt + "\n\nKnown intents: " + strings.Join(l.intents, ", ") + "."
}

// intentReply is the JSON shape the model is asked to produce.
type intentReply struct {
	Intent     string            `json:"intent"`
	Parameters map[string]string `json:"parameters"`
	Feedback   string            `json:"feedback"`
}

// parseIntent decodes a model reply. Markdown code fences and text around
// the outermost JSON object are tolerated.
func parseIntent(content string) (*Command, error) {
	raw := extractJSON(content)
	if raw == "" {
		return nil, fmt.Errorf("%w: %q", ErrMalformedIntent, content)
	}
	var reply intentReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedIntent, err)
	}
	intent := strings.TrimSpace(reply.Intent)
	if intent == "" || strings.EqualFold(intent, noIntent) {
		return nil, nil
	}
	cmd := &Command{
		Intent:   intent,
		Feedback: renderFeedback(reply.Feedback, reply.Parameters),
	}
	if len(reply.Parameters) > 0 {
		cmd.Parameters = reply.Parameters
	}
	return cmd, nil
}

// extractJSON returns the substring from the first '{' to the last '}', or
// "" when there is none.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}

var _ Interpreter = (*LLMInterpreter)(nil)
