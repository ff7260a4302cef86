package llmcache

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/docpilot/internal/llm"
)

// CachedHandler wraps an llm.Handler so every call checks the cache first
// and populates it on a miss.
type CachedHandler struct {
	next    llm.Handler
	cache   *Cache
	purpose Purpose
}

// NewCachedHandler returns a handler caching under purpose.
func NewCachedHandler(next llm.Handler, cache *Cache, purpose Purpose) *CachedHandler {
	return &CachedHandler{next: next, cache: cache, purpose: purpose}
}

// Generate answers from the cache when possible.
func (h *CachedHandler) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	prompt := req.Text()
	entry, err := h.cache.Get(ctx, prompt, h.purpose)
	if err != nil {
		log.Warn().Err(err).Str("purpose", string(h.purpose)).Msg("LLM cache lookup failed, calling model")
	}
	if entry != nil {
		return llm.Response{Text: entry.Response, Model: entry.Model, TokensUsed: entry.TokensUsed, Cached: true}, nil
	}

	resp, err := h.next.Generate(ctx, req)
	if err != nil {
		return llm.Response{}, err
	}
	if err := h.cache.Set(ctx, prompt, resp.Text, h.purpose, Metadata{Model: resp.Model, TokensUsed: resp.TokensUsed}); err != nil {
		log.Warn().Err(err).Str("purpose", string(h.purpose)).Msg("Failed to store LLM response in cache")
	}
	return resp, nil
}
