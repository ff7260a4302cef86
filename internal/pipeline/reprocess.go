package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/docpilot/internal/docformat"
	"github.com/docpilot/internal/messages"
	"github.com/docpilot/internal/proposals"
	"github.com/docpilot/internal/ruleset"
)

// RulesetSource returns a tenant's rules.
type RulesetSource interface {
	Get(tenant string) (*ruleset.Ruleset, error)
}

// Postprocessor rebuilds a stored proposal's suggested text from the raw
// model output with the steps a run applies after generation: the tenant's
// modification rules, then reformat. Condensed proposals cannot be rebuilt
// without a model call and are only reformatted.
type Postprocessor struct {
	Rulesets RulesetSource
	Store    messages.Store
}

// SuggestedText returns the text p would carry if it were generated now.
func (pp *Postprocessor) SuggestedText(ctx context.Context, p *proposals.Proposal) (string, error) {
	if p.Condensed {
		return docformat.Format(p.SuggestedText), nil
	}

	var rs *ruleset.Ruleset
	if p.TenantID != "" && pp.Rulesets != nil {
		var err error
		if rs, err = pp.Rulesets.Get(p.TenantID); err != nil {
			return "", fmt.Errorf("load ruleset for %s: %w", p.TenantID, err)
		}
	}

	var rc *messages.RagContext
	if pp.Store != nil {
		stored, err := pp.Store.GetRagContext(ctx, p.ConversationID)
		switch {
		case err == nil:
			rc = &stored
		case !errors.Is(err, messages.ErrNotFound):
			return "", fmt.Errorf("load rag context %s: %w", p.ConversationID, err)
		}
	}

	text := p.RawSuggestedText
	out, err := rs.Evaluate(ruleset.Subject{
		UpdateType: p.UpdateType,
		Category:   p.Category,
		Page:       p.Page,
		Section:    p.Section,
		Text:       text,
	}, rc)
	if err == nil && !out.Rejected {
		text = out.Text
	}
	return docformat.Format(text), nil
}
