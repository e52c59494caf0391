// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (e.g., OpenAI, Anthropic,
// or a local Ollama instance) and exposes a uniform non-streaming completion
// interface. Murmur uses the LLM for exactly one thing — rewriting a finished
// transcript into a prose style — so the interface is deliberately small: one
// request, one response, no tool calling, no incremental output.
//
// Implementations must be safe for concurrent use and must propagate context
// cancellation promptly.
package llm

import "context"

// Usage holds token accounting information returned by the LLM backend.
// Counts are in the model's native token unit and may differ between providers
// for the same textual content.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the system prompt and
	// user content.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens.
	TotalTokens int
}

// CompletionRequest carries everything the LLM needs to produce a response.
type CompletionRequest struct {
	// SystemPrompt is the instruction injected before the user content
	// (e.g., a style rewrite instruction). May be empty.
	SystemPrompt string

	// UserContent is the user-role message body. Must be non-empty.
	UserContent string

	// Temperature controls output randomness in the range [0.0, 2.0].
	// Zero means use the provider default.
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the provider default.
	MaxTokens int
}

// CompletionResponse is the full model reply for one CompletionRequest.
type CompletionResponse struct {
	// Content is the text of the model's reply. May be empty when the model
	// produced no usable output; callers decide how to treat that.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
//
// Complete sends req to the model and waits for the full response. Returns an
// error for transport failures, service-level errors, and cancelled contexts;
// an empty Content with a nil error is a valid outcome.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
