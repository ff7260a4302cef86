package pipeline

import (
	"context"
	"strings"

	"github.com/docpilot/internal/llm"
	"github.com/docpilot/internal/messages"
	"github.com/docpilot/internal/prompts"
	"github.com/docpilot/internal/proposals"
	"github.com/docpilot/internal/taskqueue"
)

var (
	insertTriggers = []string{"new section", "new page", "add a section"}
	deleteTriggers = []string{"remove section", "delete section", "deprecated", "obsolete"}
)

type generationResponse struct {
	Page          string `json:"page"`
	Section       string `json:"section"`
	UpdateType    string `json:"update_type"`
	SuggestedText string `json:"suggested_text"`
	Reasoning     string `json:"reasoning"`
}

// GenerateStage asks the model for one documentation change per enriched
// thread. Output that does not fit the schema yields no draft.
type GenerateStage struct {
	LLM     llm.Handler
	Prompts *prompts.PromptBuilder
	Workers int
}

func (s *GenerateStage) Name() string { return "generate" }

func (s *GenerateStage) Run(ctx context.Context, pc *Context) error {
	promptContext := pc.Ruleset.PromptContextText()

	queue := taskqueue.New[*ProposalDraft](s.Workers)
	for _, t := range pc.Threads {
		rc, ok := pc.RagResults[t.ID]
		if !ok {
			if pc.threadFailed(t) {
				continue
			}
			rc = &messages.RagContext{ConversationID: t.ID}
		}
		thread := t
		queue.Add(thread.ID, func(ctx context.Context) (*ProposalDraft, error) {
			return s.generate(ctx, pc, thread, rc, promptContext)
		})
	}

	for _, res := range queue.ProcessAll(ctx) {
		thread, _ := pc.Thread(res.TaskID)
		if res.Err != nil {
			pc.Logger.Warn().Err(res.Err).Str("conversation_id", thread.ID).Msg("Generation call failed")
			pc.MarkFailed("generation failed: "+res.Err.Error(), pc.ThreadMessages(thread)...)
			continue
		}
		if res.Result != nil {
			pc.SetProposal(thread.ID, res.Result)
		}
	}

	pc.SetCounts(queue.Len(), len(pc.Proposals))
	return nil
}

func (s *GenerateStage) generate(ctx context.Context, pc *Context, t ConversationThread, rc *messages.RagContext, promptContext string) (*ProposalDraft, error) {
	system, prompt := s.Prompts.BuildGenerationPrompt(prompts.GenerationInput{
		Category:      t.Category,
		Summary:       t.Summary,
		Messages:      pc.ThreadMessages(t),
		Docs:          rc.RetrievedDocs,
		PromptContext: promptContext,
	})
	req := llm.Request{System: system, Prompt: prompt}
	resp, err := s.LLM.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	pc.RecordPrompt(req.Text(), resp.Text, resp.Cached)

	var out generationResponse
	if _, err := llm.DecodeResponse(resp.Text, &out); err != nil {
		pc.Logger.Warn().Err(err).Str("conversation_id", t.ID).Msg("Unparseable generation output, no proposal")
		return nil, nil
	}
	updateType, err := proposals.ParseUpdateType(out.UpdateType)
	if err != nil {
		pc.Logger.Warn().Err(err).Str("conversation_id", t.ID).Msg("Unknown update type, no proposal")
		return nil, nil
	}

	draft := &ProposalDraft{
		ConversationID:   t.ID,
		Page:             strings.TrimSpace(out.Page),
		Section:          strings.TrimSpace(out.Section),
		UpdateType:       downgrade(updateType, t.Summary),
		RawSuggestedText: out.SuggestedText,
		SuggestedText:    out.SuggestedText,
		Reasoning:        strings.TrimSpace(out.Reasoning),
		ModelUsed:        resp.Model,
	}
	if draft.UpdateType != updateType {
		pc.Logger.Info().
			Str("conversation_id", t.ID).
			Str("from", string(updateType)).
			Str("to", string(draft.UpdateType)).
			Msg("Downgraded update type")
	}

	if len(rc.RetrievedDocs) > 0 && !hasDoc(rc.RetrievedDocs, draft.Page) {
		draft.Page = rc.RetrievedDocs[0].FilePath
	}
	if draft.Actionable() && (draft.Page == "" || (strings.TrimSpace(draft.SuggestedText) == "" && draft.UpdateType != proposals.UpdateDelete)) {
		pc.Logger.Warn().Str("conversation_id", t.ID).Msg("Generation output lacks page or text, no proposal")
		return nil, nil
	}
	return draft, nil
}

// downgrade keeps INSERT and DELETE only when the thread summary asks for
// them explicitly.
func downgrade(ut proposals.UpdateType, summary string) proposals.UpdateType {
	lower := strings.ToLower(summary)
	switch ut {
	case proposals.UpdateInsert:
		if !containsAny(lower, insertTriggers) {
			return proposals.UpdateUpdate
		}
	case proposals.UpdateDelete:
		if !containsAny(lower, deleteTriggers) {
			return proposals.UpdateNone
		}
	}
	return ut
}

func hasDoc(docs []messages.RetrievedDoc, path string) bool {
	for _, d := range docs {
		if d.FilePath == path {
			return true
		}
	}
	return false
}
