// Package proposals stores candidate documentation changes and enforces their
// review state machine.
package proposals

import (
	"fmt"
	"strings"
	"time"
)

// UpdateType is the kind of change a proposal makes to a page section.
type UpdateType string

const (
	UpdateInsert UpdateType = "INSERT"
	UpdateUpdate UpdateType = "UPDATE"
	UpdateDelete UpdateType = "DELETE"
	UpdateNone   UpdateType = "NONE"
)

// ParseUpdateType accepts the canonical names case-insensitively.
func ParseUpdateType(s string) (UpdateType, error) {
	switch UpdateType(strings.ToUpper(strings.TrimSpace(s))) {
	case UpdateInsert:
		return UpdateInsert, nil
	case UpdateUpdate:
		return UpdateUpdate, nil
	case UpdateDelete:
		return UpdateDelete, nil
	case UpdateNone:
		return UpdateNone, nil
	}
	return "", fmt.Errorf("unknown update type %q", s)
}

// Status is the review status of a proposal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusIgnored  Status = "ignored"
)

// ParseStatus rejects anything outside the three review states.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusApproved, StatusIgnored:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown proposal status %q", s)
}

// Proposal is one candidate documentation edit tied to a conversation.
type Proposal struct {
	ID               int64      `json:"id"`
	TenantID         string     `json:"tenantId"`
	ConversationID   string     `json:"conversationId"`
	Category         string     `json:"category"`
	Page             string     `json:"page"`
	Section          string     `json:"section"`
	UpdateType       UpdateType `json:"updateType"`
	RawSuggestedText string     `json:"rawSuggestedText"`
	SuggestedText    string     `json:"suggestedText"`
	EditedText       *string    `json:"editedText"`
	Reasoning        string     `json:"reasoning"`
	Status           Status     `json:"status"`
	AdminApproved    bool       `json:"adminApproved"`
	ReviewedBy       *string    `json:"reviewedBy"`
	DiscardReason    *string    `json:"discardReason"`
	ModelUsed        string     `json:"modelUsed"`
	PRBatchID        *string    `json:"prBatchId"`
	// Graduated is set once the proposal's batch has been submitted as a PR.
	Graduated bool `json:"graduated"`
	// Condensed is set when a model shortened the text after formatting, so
	// the raw text no longer reproduces it.
	Condensed bool      `json:"condensed"`
	Flags     []string  `json:"flags,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// EffectiveText is the reviewer's edit when present, else the suggested text.
func (p *Proposal) EffectiveText() string {
	if p.EditedText != nil {
		return *p.EditedText
	}
	return p.SuggestedText
}

// Batched reports whether the proposal is attached to a changeset batch.
func (p *Proposal) Batched() bool {
	return p.PRBatchID != nil
}

// ConversationStatus is the derived review status of a conversation.
type ConversationStatus string

const (
	ConversationPending   ConversationStatus = "pending"
	ConversationChangeset ConversationStatus = "changeset"
	ConversationDiscarded ConversationStatus = "discarded"
)

// DeriveConversationStatus computes a conversation's status from the
// statuses of its non-graduated proposals: pending if any is pending, else
// changeset if any is approved, else discarded.
func DeriveConversationStatus(statuses []Status) ConversationStatus {
	approved := false
	for _, s := range statuses {
		switch s {
		case StatusPending:
			return ConversationPending
		case StatusApproved:
			approved = true
		}
	}
	if approved {
		return ConversationChangeset
	}
	return ConversationDiscarded
}

// ConversationStatusOf derives the status over a conversation's proposals,
// skipping graduated ones.
func ConversationStatusOf(ps []*Proposal) ConversationStatus {
	statuses := make([]Status, 0, len(ps))
	for _, p := range ps {
		if p.Graduated {
			continue
		}
		statuses = append(statuses, p.Status)
	}
	return DeriveConversationStatus(statuses)
}
