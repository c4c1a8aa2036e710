// Package llm defines the Provider interface for Large Language Model backends.
//
// The recording pipeline uses an LLM only to turn a free-form transcript into
// a structured command when no configured phrase matches. Providers therefore
// expose a single non-streaming completion call.
//
// Implementations must be safe for concurrent use.
package llm

import "context"

// Usage records token consumption for a single completion call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest holds all inputs for a single completion call.
type CompletionRequest struct {
	// SystemPrompt is prepended as a system message.
	SystemPrompt string

	// Messages is the conversation, oldest first.
	Messages []Message

	// Temperature controls output randomness. Nil uses the provider default.
	Temperature *float64

	// MaxTokens caps the response length. Zero uses the provider default.
	MaxTokens int
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	// Returns an error if the request fails or if ctx is cancelled before
	// the completion arrives.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Name identifies the backend in logs and results.
	Name() string
}
