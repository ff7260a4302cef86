// Package llm defines the generative-model capability used by the pipeline
// stages, a langchaingo-backed implementation of it, and helpers for decoding
// JSON out of model responses.
package llm

import (
	"context"
	"strings"
)

// Request is one generative call.
type Request struct {
	System string
	Prompt string
	// MaxTokens overrides the connector default when positive.
	MaxTokens int
}

// Text is the full rendered prompt, used as the cache identity of the request.
func (r Request) Text() string {
	if r.System == "" {
		return r.Prompt
	}
	return strings.TrimSpace(r.System) + "\n\n" + r.Prompt
}

// Response is the model output.
type Response struct {
	Text       string
	Model      string
	TokensUsed int
	Cached     bool
}

// Handler is the generative-model capability.
type Handler interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req Request) (Response, error)

// Generate calls f.
func (f HandlerFunc) Generate(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}
