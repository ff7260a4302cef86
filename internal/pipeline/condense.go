package pipeline

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/docpilot/internal/docformat"
	"github.com/docpilot/internal/llm"
	"github.com/docpilot/internal/prompts"
	"github.com/docpilot/internal/taskqueue"
)

// CondenseStage shortens drafts longer than MaxChars with one model call each.
// A failed call keeps the original text.
type CondenseStage struct {
	LLM      llm.Handler
	Prompts  *prompts.PromptBuilder
	MaxChars int
	Workers  int
}

func (s *CondenseStage) Name() string { return "condense" }

func (s *CondenseStage) Run(ctx context.Context, pc *Context) error {
	queue := taskqueue.New[string](s.Workers)
	for _, id := range pc.ProposalIDs() {
		draft := pc.Proposals[id]
		if !draft.Actionable() || draft.Rejected || s.MaxChars <= 0 || utf8.RuneCountInString(draft.SuggestedText) <= s.MaxChars {
			continue
		}
		text := draft.SuggestedText
		queue.Add(id, func(ctx context.Context) (string, error) {
			system, prompt := s.Prompts.BuildCondensePrompt(text, s.MaxChars)
			req := llm.Request{System: system, Prompt: prompt}
			resp, err := s.LLM.Generate(ctx, req)
			if err != nil {
				return "", err
			}
			pc.RecordPrompt(req.Text(), resp.Text, resp.Cached)
			return docformat.Format(strings.TrimSpace(resp.Text)), nil
		})
	}

	condensed := 0
	for _, res := range queue.ProcessAll(ctx) {
		if res.Err != nil {
			pc.Logger.Warn().Err(res.Err).Str("conversation_id", res.TaskID).Msg("Condense failed, keeping original text")
			continue
		}
		if res.Result == "" {
			pc.Logger.Warn().Str("conversation_id", res.TaskID).Msg("Condense returned nothing, keeping original text")
			continue
		}
		pc.Proposals[res.TaskID].SuggestedText = res.Result
		pc.Proposals[res.TaskID].Condensed = true
		condensed++
	}
	pc.SetCounts(queue.Len(), condensed)
	return nil
}
