package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/docpilot/internal/llm"
	"github.com/docpilot/internal/messages"
	"github.com/docpilot/internal/prompts"
)

type classificationResponse struct {
	Threads []struct {
		Category          string                  `json:"category"`
		MessageIndices    []int                   `json:"message_indices"`
		Summary           string                  `json:"summary"`
		DocValueReason    string                  `json:"doc_value_reason"`
		RagSearchCriteria messages.SearchCriteria `json:"rag_search_criteria"`
	} `json:"threads"`
}

// ClassifyStage groups filtered messages into conversation threads with one
// batched model call and persists a classification for every message.
type ClassifyStage struct {
	LLM        llm.Handler
	Store      messages.Store
	Categories []string
	Prompts    *prompts.PromptBuilder
}

func (s *ClassifyStage) Name() string { return "classify" }

func (s *ClassifyStage) Run(ctx context.Context, pc *Context) error {
	if len(pc.FilteredMessages) == 0 {
		if err := s.persistDropped(ctx, pc); err != nil {
			return err
		}
		pc.SetCounts(0, 0)
		return nil
	}

	system, prompt := s.Prompts.BuildClassificationPrompt(pc.FilteredMessages, s.Categories)
	req := llm.Request{System: system, Prompt: prompt}
	resp, err := s.LLM.Generate(ctx, req)
	if err != nil {
		return fmt.Errorf("classification call: %w", err)
	}
	pc.RecordPrompt(req.Text(), resp.Text, resp.Cached)

	var parsed classificationResponse
	if _, err := llm.DecodeResponse(resp.Text, &parsed); err != nil {
		return fmt.Errorf("malformed classification response: %w", err)
	}

	pc.Threads = s.buildThreads(pc, parsed)
	claimed := make(map[int]bool)
	for _, t := range pc.Threads {
		for _, i := range t.MessageIndices {
			claimed[i] = true
		}
	}
	pc.NoValue = pc.NoValue[:0]
	for i, m := range pc.FilteredMessages {
		if !claimed[i] {
			pc.NoValue = append(pc.NoValue, m)
		}
	}

	if err := s.persist(ctx, pc); err != nil {
		return err
	}
	pc.SetCounts(len(pc.FilteredMessages), len(pc.Threads))
	pc.Logger.Info().
		Int("threads", len(pc.Threads)).
		Int("no_value", len(pc.NoValue)).
		Bool("cached", resp.Cached).
		Msg("Classified messages")
	return nil
}

// buildThreads validates the model output: unknown categories, out-of-range
// indices and indices already claimed by an earlier thread are dropped.
func (s *ClassifyStage) buildThreads(pc *Context, parsed classificationResponse) []ConversationThread {
	allowed := make(map[string]string, len(s.Categories))
	for _, c := range s.Categories {
		allowed[strings.ToLower(c)] = c
	}

	claimed := make(map[int]bool)
	var threads []ConversationThread
	for n, raw := range parsed.Threads {
		category, ok := allowed[strings.ToLower(strings.TrimSpace(raw.Category))]
		if !ok {
			pc.Logger.Warn().Int("thread", n).Str("category", raw.Category).Msg("Dropping thread with unknown category")
			continue
		}

		var indices []int
		for _, i := range raw.MessageIndices {
			if i < 0 || i >= len(pc.FilteredMessages) || claimed[i] {
				continue
			}
			claimed[i] = true
			indices = append(indices, i)
		}
		if len(indices) == 0 {
			pc.Logger.Warn().Int("thread", n).Msg("Dropping thread without valid message indices")
			continue
		}
		sort.Ints(indices)

		ids := make([]string, len(indices))
		for k, i := range indices {
			ids[k] = pc.FilteredMessages[i].ID
		}
		threads = append(threads, ConversationThread{
			ID:                ThreadID(ids),
			Category:          category,
			MessageIndices:    indices,
			Summary:           strings.TrimSpace(raw.Summary),
			DocValueReason:    strings.TrimSpace(raw.DocValueReason),
			RagSearchCriteria: raw.RagSearchCriteria,
		})
	}
	return threads
}

func (s *ClassifyStage) persist(ctx context.Context, pc *Context) error {
	for _, t := range pc.Threads {
		conversationID := t.ID
		for _, m := range pc.ThreadMessages(t) {
			err := s.Store.UpsertClassification(ctx, messages.Classification{
				MessageID:         m.ID,
				Category:          t.Category,
				ConversationID:    &conversationID,
				DocValueReason:    t.DocValueReason,
				RagSearchCriteria: t.RagSearchCriteria,
			})
			if err != nil {
				return fmt.Errorf("persist classification %s: %w", m.ID, err)
			}
		}
	}
	for _, m := range pc.NoValue {
		err := s.Store.UpsertClassification(ctx, messages.Classification{
			MessageID: m.ID,
			Category:  messages.NoDocValueCategory,
		})
		if err != nil {
			return fmt.Errorf("persist classification %s: %w", m.ID, err)
		}
	}
	return s.persistDropped(ctx, pc)
}

// persistDropped records filtered-out messages as having no documentation
// value so every consumed message ends up with a classification.
func (s *ClassifyStage) persistDropped(ctx context.Context, pc *Context) error {
	for _, m := range pc.Messages {
		reason, ok := pc.Dropped[m.ID]
		if !ok {
			continue
		}
		err := s.Store.UpsertClassification(ctx, messages.Classification{
			MessageID:      m.ID,
			Category:       messages.NoDocValueCategory,
			DocValueReason: "filtered: " + reason,
		})
		if err != nil {
			return fmt.Errorf("persist classification %s: %w", m.ID, err)
		}
	}
	return nil
}
