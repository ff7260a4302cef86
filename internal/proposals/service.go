package proposals

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/docpilot/internal/apperr"
)

// allowedTransitions is the review state machine.
var allowedTransitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusIgnored},
	StatusApproved: {StatusPending},
	StatusIgnored:  {StatusPending},
}

// CanTransition reports whether from -> to is a legal review transition.
func CanTransition(from, to Status) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Service applies reviewer actions to proposals.
type Service struct {
	store Store
}

func NewService(store Store) *Service { return &Service{store: store} }

// Store exposes the underlying store.
func (s *Service) Store() Store { return s.store }

func (s *Service) get(ctx context.Context, id int64) (*Proposal, error) {
	p, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "proposal %d not found", id)
	}
	return p, err
}

// Get returns one proposal.
func (s *Service) Get(ctx context.Context, id int64) (*Proposal, error) {
	return s.get(ctx, id)
}

// List returns proposals matching f.
func (s *Service) List(ctx context.Context, f Filter) ([]*Proposal, error) {
	return s.store.List(ctx, f)
}

// Transition moves a proposal to status on behalf of reviewer and returns
// the updated proposal with its conversation's recomputed status.
func (s *Service) Transition(ctx context.Context, id int64, status Status, reviewer, discardReason string) (*Proposal, ConversationStatus, error) {
	if _, err := ParseStatus(string(status)); err != nil {
		return nil, "", apperr.Wrap(apperr.KindInvalidStatus, err, "invalid status")
	}
	reviewer = strings.TrimSpace(reviewer)
	if reviewer == "" {
		return nil, "", apperr.New(apperr.KindInvalidInput, "reviewedBy is required")
	}

	p, err := s.get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if p.Graduated {
		return nil, "", apperr.New(apperr.KindGraduated, "proposal %d belongs to a submitted batch", id)
	}
	if !CanTransition(p.Status, status) {
		return nil, "", apperr.New(apperr.KindInvalidTransition, "cannot move proposal %d from %s to %s", id, p.Status, status)
	}
	if p.Batched() {
		return nil, "", apperr.New(apperr.KindConflict, "proposal %d is part of draft batch %s", id, *p.PRBatchID)
	}

	p.Status = status
	p.ReviewedBy = &reviewer
	switch status {
	case StatusApproved:
		p.AdminApproved = true
		p.DiscardReason = nil
	case StatusIgnored:
		p.AdminApproved = false
		if reason := strings.TrimSpace(discardReason); reason != "" {
			p.DiscardReason = &reason
		}
	case StatusPending:
		p.AdminApproved = false
		p.DiscardReason = nil
	}

	if err := s.store.Update(ctx, p); err != nil {
		return nil, "", err
	}

	log.Info().
		Int64("proposal_id", id).
		Str("status", string(status)).
		Str("reviewer", reviewer).
		Msg("Proposal status changed")

	cs, err := s.ConversationStatus(ctx, p.ConversationID)
	if err != nil {
		return nil, "", err
	}
	return p, cs, nil
}

// EditText records a reviewer edit. Status is unchanged.
func (s *Service) EditText(ctx context.Context, id int64, text, editor string) (*Proposal, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperr.New(apperr.KindInvalidInput, "text must not be empty")
	}
	p, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Graduated {
		return nil, apperr.New(apperr.KindGraduated, "proposal %d belongs to a submitted batch", id)
	}
	p.EditedText = &text
	if err := s.store.Update(ctx, p); err != nil {
		return nil, err
	}
	log.Info().Int64("proposal_id", id).Str("editor", editor).Msg("Proposal text edited")
	return p, nil
}

// ConversationStatus derives the status of one conversation.
func (s *Service) ConversationStatus(ctx context.Context, conversationID string) (ConversationStatus, error) {
	ps, err := s.store.List(ctx, Filter{ConversationID: conversationID})
	if err != nil {
		return "", err
	}
	return ConversationStatusOf(ps), nil
}

// ReprocessResult summarises a reprocess pass.
type ReprocessResult struct {
	Scanned int `json:"scanned"`
	Updated int `json:"updated"`
}

// Reprocess rebuilds the suggested text of every proposal with raw text and
// stores the result where it differs. A proposal whose text cannot be rebuilt
// is left as it is.
func (s *Service) Reprocess(ctx context.Context, rebuild func(context.Context, *Proposal) (string, error)) (ReprocessResult, error) {
	var res ReprocessResult
	ps, err := s.store.ListWithRawText(ctx)
	if err != nil {
		return res, err
	}
	for _, p := range ps {
		res.Scanned++
		if p.Graduated {
			continue
		}
		next, err := rebuild(ctx, p)
		if err != nil {
			log.Warn().Err(err).Int64("proposal_id", p.ID).Msg("Failed to rebuild proposal text, skipping")
			continue
		}
		if next == p.SuggestedText {
			continue
		}
		p.SuggestedText = next
		if err := s.store.Update(ctx, p); err != nil {
			return res, err
		}
		res.Updated++
	}
	log.Info().Int("scanned", res.Scanned).Int("updated", res.Updated).Msg("Reprocessed proposals")
	return res, nil
}
