package pipeline

import (
	"context"

	"github.com/docpilot/internal/docformat"
)

// ReformatStage normalizes the markdown of every draft.
type ReformatStage struct{}

func (ReformatStage) Name() string { return "reformat" }

func (ReformatStage) Run(_ context.Context, pc *Context) error {
	changed := 0
	for _, id := range pc.ProposalIDs() {
		draft := pc.Proposals[id]
		formatted := docformat.Format(draft.SuggestedText)
		if formatted != draft.SuggestedText {
			draft.SuggestedText = formatted
			changed++
		}
	}
	pc.SetCounts(len(pc.Proposals), changed)
	return nil
}
