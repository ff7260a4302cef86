package changesets

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/docpilot/internal/apperr"
	"github.com/docpilot/internal/githost"
	"github.com/docpilot/internal/proposals"
)

const branchPrefix = "docpilot/"

// PROptions describe where and how a batch's pull request is opened.
type PROptions struct {
	TargetRepo  string `json:"targetRepo"`
	SourceRepo  string `json:"sourceRepo"`
	BaseBranch  string `json:"baseBranch"`
	PRTitle     string `json:"prTitle"`
	PRBody      string `json:"prBody"`
	SubmittedBy string `json:"submittedBy"`
}

// SubmitRequest batches proposals and opens their pull request in one call.
type SubmitRequest struct {
	ProposalIDs []int64 `json:"proposalIds"`
	PROptions
}

// PRResult is the outcome of pull request generation.
type PRResult struct {
	Batch            *Batch    `json:"batch"`
	AppliedProposals []int64   `json:"appliedProposals"`
	FailedProposals  []Failure `json:"failedProposals"`
}

// Service manages changeset batches.
type Service struct {
	store      Store
	proposals  proposals.Store
	host       githost.Host
	baseBranch string
	now        func() time.Time

	mu         sync.Mutex
	generating map[string]bool
}

func NewService(store Store, props proposals.Store, host githost.Host, baseBranch string) *Service {
	if baseBranch == "" {
		baseBranch = "main"
	}
	return &Service{
		store:      store,
		proposals:  props,
		host:       host,
		baseBranch: baseBranch,
		now:        time.Now,
		generating: make(map[string]bool),
	}
}

// CreateDraftBatch attaches the proposals to a new draft batch. Every id must
// name an approved, un-batched proposal with a change to apply.
func (s *Service) CreateDraftBatch(ctx context.Context, ids []int64) (*Batch, error) {
	if len(ids) == 0 {
		return nil, apperr.New(apperr.KindInvalidInput, "proposalIds must not be empty")
	}
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return nil, apperr.New(apperr.KindInvalidInput, "duplicate proposal id %d", id)
		}
		seen[id] = true
	}

	files := make(map[string]bool)
	for _, id := range ids {
		p, err := s.proposals.Get(ctx, id)
		if errors.Is(err, proposals.ErrNotFound) {
			// Reported by AttachToBatch with the other ineligible ids.
			continue
		}
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, err, "load proposal %d", id)
		}
		files[p.Page] = true
	}

	batch := &Batch{
		BatchID:       "batch-" + uuid.NewString(),
		Status:        StatusDraft,
		ProposalIDs:   append([]int64(nil), ids...),
		AffectedFiles: sortedKeys(files),
	}
	if err := s.store.Create(ctx, batch); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "create batch")
	}
	if err := s.proposals.AttachToBatch(ctx, batch.BatchID, ids); err != nil {
		if derr := s.store.Delete(ctx, batch.BatchID); derr != nil {
			log.Error().Err(derr).Str("batch_id", batch.BatchID).Msg("Failed to remove batch after attach error")
		}
		var inel *proposals.IneligibleError
		if errors.As(err, &inel) {
			return nil, apperr.Wrap(apperr.KindNotEligible, err, "%s", inel.Error())
		}
		return nil, apperr.Wrap(apperr.KindInternal, err, "attach proposals")
	}
	log.Info().Str("batch_id", batch.BatchID).Int("proposals", len(ids)).Strs("files", batch.AffectedFiles).Msg("Created draft batch")
	return batch, nil
}

// Get returns one batch.
func (s *Service) Get(ctx context.Context, batchID string) (*Batch, error) {
	b, err := s.store.Get(ctx, batchID)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "batch %s not found", batchID)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "load batch %s", batchID)
	}
	return b, nil
}

// List returns every batch, oldest first.
func (s *Service) List(ctx context.Context) ([]*Batch, error) {
	return s.store.List(ctx)
}

// DeleteDraftBatch removes a draft batch and returns its proposals to the
// approved pool.
func (s *Service) DeleteDraftBatch(ctx context.Context, batchID string) error {
	b, err := s.Get(ctx, batchID)
	if err != nil {
		return err
	}
	if b.Status != StatusDraft {
		return apperr.New(apperr.KindConflict, "batch %s is %s; only draft batches can be deleted", batchID, b.Status)
	}
	if !s.begin(batchID) {
		return apperr.New(apperr.KindConflict, "batch %s is being submitted", batchID)
	}
	defer s.end(batchID)

	if err := s.proposals.Detach(ctx, b.ProposalIDs); err != nil {
		return apperr.Wrap(apperr.KindInternal, err, "detach proposals")
	}
	if err := s.store.Delete(ctx, batchID); err != nil {
		return apperr.Wrap(apperr.KindInternal, err, "delete batch %s", batchID)
	}
	log.Info().Str("batch_id", batchID).Msg("Deleted draft batch")
	return nil
}

// SubmitProposals creates a draft batch and immediately generates its pull
// request. When generation fails the draft batch is kept.
func (s *Service) SubmitProposals(ctx context.Context, req SubmitRequest) (*PRResult, error) {
	if err := validateOptions(req.PROptions); err != nil {
		return nil, err
	}
	b, err := s.CreateDraftBatch(ctx, req.ProposalIDs)
	if err != nil {
		return nil, err
	}
	return s.GeneratePR(ctx, b.BatchID, req.PROptions)
}

func validateOptions(opts PROptions) error {
	if strings.TrimSpace(opts.TargetRepo) == "" {
		return apperr.New(apperr.KindInvalidInput, "targetRepo is required")
	}
	if strings.TrimSpace(opts.SubmittedBy) == "" {
		return apperr.New(apperr.KindInvalidInput, "submittedBy is required")
	}
	return nil
}

func (s *Service) begin(batchID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generating[batchID] {
		return false
	}
	s.generating[batchID] = true
	return true
}

func (s *Service) end(batchID string) {
	s.mu.Lock()
	delete(s.generating, batchID)
	s.mu.Unlock()
}

// GeneratePR materializes a draft batch: it branches the source repo, applies
// every proposal to its file, commits the changed files and opens the pull
// request against the target repo. Proposals that cannot be applied are
// recorded as failures and returned to the approved pool once the pull
// request is open.
func (s *Service) GeneratePR(ctx context.Context, batchID string, opts PROptions) (*PRResult, error) {
	if err := validateOptions(opts); err != nil {
		return nil, err
	}
	if !s.begin(batchID) {
		return nil, apperr.New(apperr.KindConflict, "batch %s is already being submitted", batchID)
	}
	defer s.end(batchID)

	b, err := s.Get(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if b.Status != StatusDraft {
		return nil, apperr.New(apperr.KindConflict, "batch %s is %s, not draft", batchID, b.Status)
	}

	if opts.SourceRepo == "" {
		opts.SourceRepo = opts.TargetRepo
	}
	if opts.BaseBranch == "" {
		opts.BaseBranch = s.baseBranch
	}
	props, err := s.loadProposals(ctx, b.ProposalIDs)
	if err != nil {
		return nil, err
	}
	if opts.PRTitle == "" {
		opts.PRTitle = fmt.Sprintf("Documentation updates (%s)", batchID)
	}
	if opts.PRBody == "" {
		opts.PRBody = defaultBody(props)
	}
	b.TargetRepo, b.SourceRepo, b.BaseBranch = opts.TargetRepo, opts.SourceRepo, opts.BaseBranch
	b.PRTitle, b.PRBody, b.SubmittedBy = opts.PRTitle, opts.PRBody, opts.SubmittedBy

	logger := log.With().Str("batch_id", batchID).Str("repo", opts.SourceRepo).Logger()
	branch := branchPrefix + batchID
	if err := s.host.CreateBranch(ctx, opts.SourceRepo, branch, opts.BaseBranch); err != nil {
		logger.Error().Err(err).Msg("Failed to create branch")
		b.Failures = nil
		s.saveDraft(ctx, b)
		return &PRResult{Batch: b}, apperr.Wrap(apperr.KindPRFailed, err, "create branch %s", branch)
	}

	applied, failures := s.applyAll(ctx, opts.SourceRepo, branch, props)
	b.Failures = failures
	result := &PRResult{Batch: b, AppliedProposals: applied, FailedProposals: failures}

	if len(applied) == 0 {
		logger.Warn().Int("failures", len(failures)).Msg("No proposal could be applied")
		s.saveDraft(ctx, b)
		return result, apperr.New(apperr.KindNothingApplied, "no proposal of batch %s could be applied", batchID)
	}

	pr, err := s.host.OpenPullRequest(ctx, githost.PullRequestInput{
		TargetRepo: opts.TargetRepo,
		SourceRepo: opts.SourceRepo,
		Head:       branch,
		Base:       opts.BaseBranch,
		Title:      opts.PRTitle,
		Body:       opts.PRBody,
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to open pull request")
		s.saveDraft(ctx, b)
		return result, apperr.Wrap(apperr.KindPRFailed, err, "open pull request for %s", batchID)
	}

	failedIDs := make([]int64, len(failures))
	for i, f := range failures {
		failedIDs[i] = f.ProposalID
	}
	if err := s.proposals.Detach(ctx, failedIDs); err != nil {
		return result, apperr.Wrap(apperr.KindInternal, err, "detach failed proposals")
	}
	if err := s.proposals.MarkGraduated(ctx, applied); err != nil {
		return result, apperr.Wrap(apperr.KindInternal, err, "graduate applied proposals")
	}

	now := s.now()
	files := make(map[string]bool)
	for _, p := range props {
		if containsID(applied, p.ID) {
			files[p.Page] = true
		}
	}
	b.Status = StatusSubmitted
	b.ProposalIDs = applied
	b.AffectedFiles = sortedKeys(files)
	b.PRURL = &pr.URL
	b.PRNumber = &pr.Number
	b.SubmittedAt = &now
	if err := s.store.Update(ctx, b); err != nil {
		return result, apperr.Wrap(apperr.KindInternal, err, "update batch %s", batchID)
	}

	logger.Info().
		Int("pr_number", pr.Number).
		Str("pr_url", pr.URL).
		Int("applied", len(applied)).
		Int("failed", len(failures)).
		Msg("Submitted documentation pull request")
	return result, nil
}

func (s *Service) saveDraft(ctx context.Context, b *Batch) {
	if err := s.store.Update(ctx, b); err != nil {
		log.Error().Err(err).Str("batch_id", b.BatchID).Msg("Failed to record batch failures")
	}
}

func (s *Service) loadProposals(ctx context.Context, ids []int64) ([]*proposals.Proposal, error) {
	out := make([]*proposals.Proposal, 0, len(ids))
	for _, id := range ids {
		p, err := s.proposals.Get(ctx, id)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, err, "load proposal %d", id)
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// applyAll applies the proposals file by file on branch and returns the ids
// that made it into a commit.
func (s *Service) applyAll(ctx context.Context, repo, branch string, props []*proposals.Proposal) ([]int64, []Failure) {
	byFile := make(map[string][]*proposals.Proposal)
	for _, p := range props {
		byFile[p.Page] = append(byFile[p.Page], p)
	}
	files := make(map[string]bool, len(byFile))
	for f := range byFile {
		files[f] = true
	}

	var applied []int64
	var failures []Failure
	fail := func(ps []*proposals.Proposal, kind string, err error) {
		for _, p := range ps {
			failures = append(failures, Failure{ProposalID: p.ID, FailureType: kind, ErrorMessage: err.Error()})
		}
	}

	for _, path := range sortedKeys(files) {
		group := byFile[path]
		file, err := s.host.GetFile(ctx, repo, path, branch)
		if err != nil {
			kind := FailureApplyError
			if errors.Is(err, githost.ErrFileNotFound) {
				kind = FailureFileNotFound
			}
			fail(group, kind, err)
			continue
		}

		content := file.Content
		var done []*proposals.Proposal
		for _, p := range group {
			next, err := applyToSection(content, p.Section, p.UpdateType, p.EffectiveText())
			if err != nil {
				kind := FailureApplyError
				if errors.Is(err, errSectionNotFound) {
					kind = FailureSectionNotFound
				}
				fail([]*proposals.Proposal{p}, kind, err)
				continue
			}
			content = next
			done = append(done, p)
		}
		if len(done) == 0 {
			continue
		}
		if content != file.Content {
			file.Content = content
			msg := fmt.Sprintf("docs: update %s (%d proposal(s))", path, len(done))
			if err := s.host.CommitFile(ctx, repo, branch, file, msg); err != nil {
				fail(done, FailureCommitFailed, err)
				continue
			}
		}
		for _, p := range done {
			applied = append(applied, p.ID)
		}
	}
	sort.Slice(applied, func(i, j int) bool { return applied[i] < applied[j] })
	sort.Slice(failures, func(i, j int) bool { return failures[i].ProposalID < failures[j].ProposalID })
	return applied, failures
}

func defaultBody(props []*proposals.Proposal) string {
	var b strings.Builder
	b.WriteString("Documentation updates proposed from community conversations.\n\n")
	for _, p := range props {
		fmt.Fprintf(&b, "- #%d %s `%s`", p.ID, p.UpdateType, p.Page)
		if p.Section != "" {
			fmt.Fprintf(&b, " (%s)", p.Section)
		}
		if p.Reasoning != "" {
			fmt.Fprintf(&b, ": %s", p.Reasoning)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
