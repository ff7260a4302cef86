package proposals

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docpilot/internal/apperr"
)

func seed(t *testing.T, s Store, conv string, status Status) *Proposal {
	t.Helper()
	p := &Proposal{
		ConversationID:   conv,
		Page:             "docs/validators.md",
		Section:          "Restarting",
		UpdateType:       UpdateUpdate,
		RawSuggestedText: "Restart  the validator.",
		SuggestedText:    "Restart  the validator.",
		Status:           status,
	}
	require.NoError(t, s.Create(context.Background(), p))
	return p
}

func TestDeriveConversationStatus(t *testing.T) {
	tests := []struct {
		statuses []Status
		want     ConversationStatus
	}{
		{nil, ConversationDiscarded},
		{[]Status{StatusIgnored}, ConversationDiscarded},
		{[]Status{StatusIgnored, StatusApproved}, ConversationChangeset},
		{[]Status{StatusApproved, StatusPending}, ConversationPending},
		{[]Status{StatusPending, StatusIgnored, StatusApproved}, ConversationPending},
		{[]Status{StatusApproved, StatusApproved}, ConversationChangeset},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DeriveConversationStatus(tt.statuses), "%v", tt.statuses)
	}
}

func TestDeriveConversationStatusExhaustive(t *testing.T) {
	all := []Status{StatusPending, StatusApproved, StatusIgnored}
	// Every multiset of up to three statuses.
	var walk func(prefix []Status, depth int)
	walk = func(prefix []Status, depth int) {
		got := DeriveConversationStatus(prefix)
		hasPending, hasApproved := false, false
		for _, s := range prefix {
			hasPending = hasPending || s == StatusPending
			hasApproved = hasApproved || s == StatusApproved
		}
		switch {
		case hasPending:
			assert.Equal(t, ConversationPending, got)
		case hasApproved:
			assert.Equal(t, ConversationChangeset, got)
		default:
			assert.Equal(t, ConversationDiscarded, got)
		}
		if depth == 0 {
			return
		}
		for _, s := range all {
			walk(append(append([]Status(nil), prefix...), s), depth-1)
		}
	}
	walk(nil, 3)
}

func TestConversationStatusIgnoresGraduated(t *testing.T) {
	ps := []*Proposal{
		{Status: StatusPending, Graduated: true},
		{Status: StatusIgnored},
	}
	assert.Equal(t, ConversationDiscarded, ConversationStatusOf(ps))
}

func TestTransition(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	svc := NewService(store)
	p := seed(t, store, "conv-1", StatusPending)
	seed(t, store, "conv-1", StatusIgnored)

	updated, cs, err := svc.Transition(ctx, p.ID, StatusApproved, "alice", "")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, updated.Status)
	assert.True(t, updated.AdminApproved)
	require.NotNil(t, updated.ReviewedBy)
	assert.Equal(t, "alice", *updated.ReviewedBy)
	assert.Equal(t, ConversationChangeset, cs)

	_, _, err = svc.Transition(ctx, p.ID, StatusIgnored, "alice", "")
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidTransition), "approved -> ignored must go through pending")

	updated, cs, err = svc.Transition(ctx, p.ID, StatusPending, "bob", "")
	require.NoError(t, err)
	assert.False(t, updated.AdminApproved)
	assert.Equal(t, ConversationPending, cs)

	updated, cs, err = svc.Transition(ctx, p.ID, StatusIgnored, "bob", "duplicate of #12")
	require.NoError(t, err)
	require.NotNil(t, updated.DiscardReason)
	assert.Equal(t, "duplicate of #12", *updated.DiscardReason)
	assert.Equal(t, ConversationDiscarded, cs)
}

func TestTransitionValidation(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	svc := NewService(store)
	p := seed(t, store, "conv-1", StatusPending)

	_, _, err := svc.Transition(ctx, p.ID, Status("merged"), "alice", "")
	assert.Equal(t, apperr.KindInvalidStatus, apperr.KindOf(err))

	_, _, err = svc.Transition(ctx, p.ID, StatusApproved, "  ", "")
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))

	_, _, err = svc.Transition(ctx, 999, StatusApproved, "alice", "")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, _, err = svc.Transition(ctx, p.ID, StatusPending, "alice", "")
	assert.Equal(t, apperr.KindInvalidTransition, apperr.KindOf(err))

	require.NoError(t, store.MarkGraduated(ctx, []int64{p.ID}))
	_, _, err = svc.Transition(ctx, p.ID, StatusApproved, "alice", "")
	assert.Equal(t, apperr.KindGraduated, apperr.KindOf(err))
}

func TestEditTextKeepsStatus(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	svc := NewService(store)
	p := seed(t, store, "conv-1", StatusApproved)

	updated, err := svc.EditText(ctx, p.ID, "Restart with systemctl.", "alice")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, updated.Status)
	assert.Equal(t, "Restart with systemctl.", updated.EffectiveText())

	_, err = svc.EditText(ctx, p.ID, "", "alice")
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
}

func TestReprocessIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	svc := NewService(store)
	seed(t, store, "conv-1", StatusPending)
	seed(t, store, "conv-2", StatusPending)

	collapse := func(_ context.Context, p *Proposal) (string, error) {
		return strings.Join(strings.Fields(p.RawSuggestedText), " "), nil
	}

	res, err := svc.Reprocess(ctx, collapse)
	require.NoError(t, err)
	assert.Equal(t, ReprocessResult{Scanned: 2, Updated: 2}, res)

	res, err = svc.Reprocess(ctx, collapse)
	require.NoError(t, err)
	assert.Equal(t, ReprocessResult{Scanned: 2, Updated: 0}, res)

	got, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Restart the validator.", got.SuggestedText)
	assert.Equal(t, "Restart  the validator.", got.RawSuggestedText)
}

func TestReprocessSkipsProposalsThatCannotBeRebuilt(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	svc := NewService(store)
	seed(t, store, "conv-1", StatusPending)

	res, err := svc.Reprocess(ctx, func(context.Context, *Proposal) (string, error) {
		return "", errors.New("ruleset unreadable")
	})
	require.NoError(t, err)
	assert.Equal(t, ReprocessResult{Scanned: 1, Updated: 0}, res)

	got, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Restart  the validator.", got.SuggestedText)
}

func TestAttachToBatchIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	a := seed(t, store, "conv-1", StatusApproved)
	b := seed(t, store, "conv-1", StatusPending)

	err := store.AttachToBatch(ctx, "batch-1", []int64{a.ID, b.ID, 77})
	var ie *IneligibleError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, map[int64]string{b.ID: "status is pending", 77: "not found"}, ie.Reasons)

	got, err := store.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Nil(t, got.PRBatchID)

	require.NoError(t, store.AttachToBatch(ctx, "batch-1", []int64{a.ID}))
	err = store.AttachToBatch(ctx, "batch-2", []int64{a.ID})
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "already batched", ie.Reasons[a.ID])
}

func TestDeleteUnbatchedByConversations(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	seed(t, store, "conv-1", StatusPending)
	kept := seed(t, store, "conv-1", StatusApproved)
	seed(t, store, "conv-2", StatusPending)
	require.NoError(t, store.AttachToBatch(ctx, "batch-1", []int64{kept.ID}))

	n, err := store.DeleteUnbatchedByConversations(ctx, []string{"conv-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	left, err := store.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, left, 2)
}

func TestParseUpdateType(t *testing.T) {
	ut, err := ParseUpdateType(" update ")
	require.NoError(t, err)
	assert.Equal(t, UpdateUpdate, ut)
	_, err = ParseUpdateType("PATCH")
	require.Error(t, err)
}
