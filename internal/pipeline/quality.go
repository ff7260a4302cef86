package pipeline

import (
	"context"

	"github.com/docpilot/internal/messages"
	"github.com/docpilot/internal/ruleset"
)

// RulesetStage applies the tenant's rejection, modification and quality gate
// rules to every actionable draft.
type RulesetStage struct {
	Store messages.Store
}

func (s *RulesetStage) Name() string { return "ruleset" }

func (s *RulesetStage) Run(ctx context.Context, pc *Context) error {
	evaluated, accepted := 0, 0
	for _, id := range pc.ProposalIDs() {
		draft := pc.Proposals[id]
		if !draft.Actionable() {
			continue
		}
		evaluated++
		thread, _ := pc.Thread(id)

		out, err := pc.Ruleset.Evaluate(ruleset.Subject{
			UpdateType: draft.UpdateType,
			Category:   thread.Category,
			Page:       draft.Page,
			Section:    draft.Section,
			Text:       draft.SuggestedText,
		}, pc.RagResults[id])
		if err != nil {
			pc.Logger.Warn().Err(err).Str("conversation_id", id).Msg("Ruleset evaluation failed, keeping proposal unmodified")
			accepted++
			continue
		}

		if out.Rejected {
			draft.Rejected = true
			draft.RejectionReason = out.Reason
			pc.Logger.Info().Str("conversation_id", id).Str("reason", out.Reason).Msg("Proposal rejected by ruleset")
			if rc := pc.RagResults[id]; rc != nil {
				rc.ProposalsRejected = true
				rc.RejectionReason = out.Reason
				if err := s.Store.SaveRagContext(ctx, *rc); err != nil {
					pc.Logger.Warn().Err(err).Str("conversation_id", id).Msg("Failed to record rejection on rag context")
				}
			}
			continue
		}

		accepted++
		draft.SuggestedText = out.Text
		draft.Flags = append(draft.Flags, out.Flags...)
	}
	pc.SetCounts(evaluated, accepted)
	return nil
}
