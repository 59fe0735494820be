// Package models adapts hosted LLM providers to a minimal chat capability:
// open a conversation bound to one mode configuration, then stream replies.
package models

import (
	"context"
	"iter"

	"github.com/dohr-michael/neorix/internal/modes"
)

// Usage is a token count report for one streamed reply.
type Usage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// Chunk is one piece of a streamed reply. Text may be empty when the chunk only
// carries usage.
type Chunk struct {
	Text  string
	Usage *Usage
}

// Chat is a conversation handle on the hosted service. Each Stream call produces a
// fresh, finite, one-shot sequence; the handle keeps the conversation history.
type Chat interface {
	Stream(ctx context.Context, text string) iter.Seq2[Chunk, error]
}

// Service opens conversations. Open is expected to be local (no network round-trip);
// drivers that need one defer it to the first Stream.
type Service interface {
	Open(ctx context.Context, cfg modes.Config) (Chat, error)
}

// Describer is implemented by services that can name the provider and model used for
// a mode, for logs and usage events.
type Describer interface {
	Describe(cfg modes.Config) (provider, model string)
}
