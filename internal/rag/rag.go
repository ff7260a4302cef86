// Package rag retrieves documentation chunks relevant to a conversation.
package rag

import (
	"context"
	"sort"

	"github.com/docpilot/internal/messages"
)

// Searcher finds documentation chunks semantically close to a query.
// Results are ordered by descending similarity.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]messages.RetrievedDoc, error)
}

// NoopSearcher never returns documents. It backs the "none" backend.
type NoopSearcher struct{}

func (NoopSearcher) Search(context.Context, string, int) ([]messages.RetrievedDoc, error) {
	return nil, nil
}

// KeepRelevant drops documents below minSimilarity and caps the result at
// topK, best first.
func KeepRelevant(docs []messages.RetrievedDoc, minSimilarity float64, topK int) []messages.RetrievedDoc {
	kept := make([]messages.RetrievedDoc, 0, len(docs))
	for _, d := range docs {
		if d.Similarity >= minSimilarity {
			kept = append(kept, d)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Similarity > kept[j].Similarity })
	if topK > 0 && len(kept) > topK {
		kept = kept[:topK]
	}
	return kept
}

// EstimateTokens approximates the prompt cost of the retained document
// contents at four characters per token.
func EstimateTokens(docs []messages.RetrievedDoc) int {
	chars := 0
	for _, d := range docs {
		chars += len(d.Content)
	}
	return (chars + 3) / 4
}
