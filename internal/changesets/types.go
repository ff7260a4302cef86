// Package changesets groups approved proposals into batches and turns a
// batch into a documentation pull request.
package changesets

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a batch.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusSubmitted Status = "submitted"
	StatusMerged    Status = "merged"
	StatusClosed    Status = "closed"
)

func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusDraft, StatusSubmitted, StatusMerged, StatusClosed:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown batch status %q", s)
}

// Reasons a proposal could not be materialized into the pull request.
const (
	FailureFileNotFound    = "file_not_found"
	FailureSectionNotFound = "section_not_found"
	FailureApplyError      = "apply_error"
	FailureCommitFailed    = "commit_failed"
)

// Failure records one proposal that was left out of the pull request.
type Failure struct {
	ProposalID   int64  `json:"proposalId"`
	FailureType  string `json:"failureType"`
	ErrorMessage string `json:"errorMessage"`
}

// Batch is a changeset of approved proposals destined for one pull request.
type Batch struct {
	ID            int64      `json:"id"`
	BatchID       string     `json:"batchId"`
	Status        Status     `json:"status"`
	ProposalIDs   []int64    `json:"proposalIds"`
	AffectedFiles []string   `json:"affectedFiles"`
	PRTitle       string     `json:"prTitle"`
	PRBody        string     `json:"prBody"`
	PRURL         *string    `json:"prUrl"`
	PRNumber      *int       `json:"prNumber"`
	TargetRepo    string     `json:"targetRepo"`
	SourceRepo    string     `json:"sourceRepo"`
	BaseBranch    string     `json:"baseBranch"`
	SubmittedBy   string     `json:"submittedBy"`
	Failures      []Failure  `json:"failures"`
	CreatedAt     time.Time  `json:"createdAt"`
	SubmittedAt   *time.Time `json:"submittedAt"`
}
