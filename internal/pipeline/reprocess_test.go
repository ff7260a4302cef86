package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docpilot/internal/messages"
	"github.com/docpilot/internal/proposals"
	"github.com/docpilot/internal/ruleset"
)

type tenantRules map[string]*ruleset.Ruleset

func (r tenantRules) Get(tenant string) (*ruleset.Ruleset, error) {
	rs, ok := r[tenant]
	if !ok {
		return nil, errors.New("unknown tenant " + tenant)
	}
	return rs, nil
}

func storedProposal() *proposals.Proposal {
	return &proposals.Proposal{
		TenantID:         "acme",
		ConversationID:   "conv-1",
		Category:         "how_to",
		Page:             "docs/rpc.md",
		Section:          "Port",
		UpdateType:       proposals.UpdateUpdate,
		RawSuggestedText: "Set rpc.port in config.toml.  ",
	}
}

func TestPostprocessorAppliesTenantModifications(t *testing.T) {
	rs, err := ruleset.Parse("# REVIEW_MODIFICATIONS\n" + `- append "\n\n_Sourced from community support._"` + "\n" +
		`- replace "config.toml" with "node.toml" if category is how_to` + "\n")
	require.NoError(t, err)
	pp := &Postprocessor{Rulesets: tenantRules{"acme": rs}, Store: messages.NewInMemoryStore()}

	text, err := pp.SuggestedText(context.Background(), storedProposal())
	require.NoError(t, err)
	assert.Equal(t, "Set rpc.port in node.toml.\n\n_Sourced from community support._", text)
}

func TestPostprocessorUsesStoredRagContext(t *testing.T) {
	ctx := context.Background()
	store := messages.NewInMemoryStore()
	rs, err := ruleset.Parse("# REVIEW_MODIFICATIONS\n- prepend \"Unverified: \" if no docs retrieved\n")
	require.NoError(t, err)
	pp := &Postprocessor{Rulesets: tenantRules{"acme": rs}, Store: store}

	text, err := pp.SuggestedText(ctx, storedProposal())
	require.NoError(t, err)
	assert.Equal(t, "Unverified: Set rpc.port in config.toml.", text)

	require.NoError(t, store.SaveRagContext(ctx, messages.RagContext{
		ConversationID: "conv-1",
		RetrievedDocs:  []messages.RetrievedDoc{{FilePath: "docs/rpc.md", Content: "rpc", Similarity: 0.9}},
	}))
	text, err = pp.SuggestedText(ctx, storedProposal())
	require.NoError(t, err)
	assert.Equal(t, "Set rpc.port in config.toml.", text)
}

func TestPostprocessorKeepsCondensedText(t *testing.T) {
	p := storedProposal()
	p.Condensed = true
	p.SuggestedText = "Set rpc.port.  "

	text, err := (&Postprocessor{}).SuggestedText(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "Set rpc.port.", text)
}

func TestPostprocessorRulesetErrors(t *testing.T) {
	pp := &Postprocessor{Rulesets: tenantRules{}}
	_, err := pp.SuggestedText(context.Background(), storedProposal())
	require.Error(t, err)

	// A modification that would erase the text leaves the raw text in place.
	rs, err := ruleset.Parse("# REVIEW_MODIFICATIONS\n- remove \"(?s).*\"\n")
	require.NoError(t, err)
	pp.Rulesets = tenantRules{"acme": rs}
	text, err := pp.SuggestedText(context.Background(), storedProposal())
	require.NoError(t, err)
	assert.Equal(t, "Set rpc.port in config.toml.", text)
}
