package llm

import (
	"context"
	"time"
)

// Request describes a language model prompt for one exchange.
type Request struct {
	SessionID   string
	Prompt      string
	System      string
	MaxTokens   int
	Temperature float64
}

// Reply is the completed model output.
type Reply struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
}

// Generator defines a pluggable LLM backend. One submission maps to exactly
// one blocking generation call.
type Generator interface {
	Generate(ctx context.Context, req Request) (Reply, error)
}
