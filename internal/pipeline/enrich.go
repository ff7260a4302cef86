package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/docpilot/internal/llmcache"
	"github.com/docpilot/internal/messages"
	"github.com/docpilot/internal/rag"
	"github.com/docpilot/internal/taskqueue"
)

// EnrichStage retrieves related documentation for every thread. Raw search
// results are cached under the embeddings purpose so a replayed run issues no
// searches.
type EnrichStage struct {
	Searcher      rag.Searcher
	Cache         *llmcache.Cache
	Store         messages.Store
	TopK          int
	MinSimilarity float64
	Timeout       time.Duration
	Workers       int
}

func (s *EnrichStage) Name() string { return "enrich" }

func (s *EnrichStage) Run(ctx context.Context, pc *Context) error {
	queue := taskqueue.New[*messages.RagContext](s.Workers)
	for _, t := range pc.Threads {
		thread := t
		queue.Add(thread.ID, func(ctx context.Context) (*messages.RagContext, error) {
			return s.enrich(ctx, pc, thread)
		})
	}

	for _, res := range queue.ProcessAll(ctx) {
		thread, _ := pc.Thread(res.TaskID)
		if res.Err != nil {
			pc.Logger.Warn().Err(res.Err).Str("conversation_id", thread.ID).Msg("Enrichment failed, skipping thread")
			pc.MarkFailed("enrichment failed: "+res.Err.Error(), pc.ThreadMessages(thread)...)
			continue
		}
		pc.SetRagResult(thread.ID, res.Result)
	}

	pc.SetCounts(len(pc.Threads), len(pc.RagResults))
	return nil
}

func (s *EnrichStage) enrich(ctx context.Context, pc *Context, t ConversationThread) (*messages.RagContext, error) {
	query := t.RagSearchCriteria.Query()
	if query == "" {
		query = t.Summary
	}

	docs, err := s.search(ctx, pc, query)
	if err != nil {
		return nil, err
	}
	kept := rag.KeepRelevant(docs, s.MinSimilarity, s.TopK)
	rc := &messages.RagContext{
		ConversationID: t.ID,
		RetrievedDocs:  kept,
		TotalTokens:    rag.EstimateTokens(kept),
	}
	if err := s.Store.SaveRagContext(ctx, *rc); err != nil {
		return nil, fmt.Errorf("persist rag context: %w", err)
	}
	pc.Logger.Debug().
		Str("conversation_id", t.ID).
		Int("retrieved", len(docs)).
		Int("kept", len(kept)).
		Msg("Enriched thread")
	return rc, nil
}

func (s *EnrichStage) search(ctx context.Context, pc *Context, query string) ([]messages.RetrievedDoc, error) {
	key := fmt.Sprintf("top_k=%d\n%s", s.TopK, query)
	if s.Cache != nil {
		entry, err := s.Cache.Get(ctx, key, llmcache.PurposeEmbeddings)
		if err != nil {
			pc.Logger.Warn().Err(err).Msg("Search cache lookup failed")
		}
		if entry != nil {
			var docs []messages.RetrievedDoc
			if err := json.Unmarshal([]byte(entry.Response), &docs); err == nil {
				pc.RecordPrompt(key, entry.Response, true)
				return docs, nil
			}
		}
	}

	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	docs, err := s.Searcher.Search(ctx, query, s.TopK)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(docs)
	if err != nil {
		return nil, err
	}
	pc.RecordPrompt(key, string(data), false)
	if s.Cache != nil {
		if err := s.Cache.Set(ctx, key, string(data), llmcache.PurposeEmbeddings, llmcache.Metadata{}); err != nil {
			pc.Logger.Warn().Err(err).Msg("Failed to cache search results")
		}
	}
	return docs, nil
}
