package triage

import (
	"context"
	"time"
)

// Completer is the text-completion contract consumed by the orchestrator.
// Implementations map transport failures onto ErrLLMTimeout / ErrLLMUnavailable.
type Completer interface {
	Complete(ctx context.Context, req *CompletionRequest) (string, error)
	// Ping reports whether the model backend is reachable right now.
	Ping(ctx context.Context) error
	// Model returns the configured model identifier for result stamping.
	Model() string
}

// CompletionRequest is a single prompt-in, text-out exchange.
type CompletionRequest struct {
	System      string
	Prompt      string
	Temperature float64
	TopP        float64
	MaxTokens   int
	Timeout     time.Duration
}

// Retriever is the knowledge-base query contract. Implementations are
// stateless and read-only; failures map onto ErrRetrievalTimeout /
// ErrRetrievalUnavailable and are never fatal to an orchestration.
type Retriever interface {
	Search(ctx context.Context, query string, topK int) ([]Snippet, error)
}
