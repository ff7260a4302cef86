package changesets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docpilot/internal/apperr"
	"github.com/docpilot/internal/githost"
	"github.com/docpilot/internal/proposals"
)

type fakeHost struct {
	mu        sync.Mutex
	files     map[string]string
	branches  []string
	commits   map[string]string
	prs       []githost.PullRequestInput
	prErr     error
	commitErr map[string]error
}

func newFakeHost(files map[string]string) *fakeHost {
	return &fakeHost{files: files, commits: map[string]string{}, commitErr: map[string]error{}}
}

func (h *fakeHost) CreateBranch(ctx context.Context, repo, branch, base string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.branches = append(h.branches, repo+"@"+branch+"<-"+base)
	return nil
}

func (h *fakeHost) GetFile(ctx context.Context, repo, path, ref string) (githost.File, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	content, ok := h.files[path]
	if !ok {
		return githost.File{}, fmt.Errorf("%s: %w", path, githost.ErrFileNotFound)
	}
	return githost.File{Path: path, Content: content, SHA: "sha-" + path}, nil
}

func (h *fakeHost) CommitFile(ctx context.Context, repo, branch string, file githost.File, message string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.commitErr[file.Path]; err != nil {
		return err
	}
	h.commits[file.Path] = file.Content
	return nil
}

func (h *fakeHost) OpenPullRequest(ctx context.Context, in githost.PullRequestInput) (githost.PullRequest, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.prErr != nil {
		return githost.PullRequest{}, h.prErr
	}
	h.prs = append(h.prs, in)
	return githost.PullRequest{Number: 7, URL: "https://github.com/acme/docs/pull/7"}, nil
}

type fixture struct {
	props *proposals.InMemoryStore
	host  *fakeHost
	svc   *Service
}

func newFixture(files map[string]string) *fixture {
	f := &fixture{props: proposals.NewInMemoryStore(), host: newFakeHost(files)}
	f.svc = NewService(NewInMemoryStore(), f.props, f.host, "main")
	return f
}

func (f *fixture) approved(t *testing.T, page, section string, ut proposals.UpdateType, text string) int64 {
	t.Helper()
	p := &proposals.Proposal{
		ConversationID: "conv-" + page,
		Page:           page,
		Section:        section,
		UpdateType:     ut,
		SuggestedText:  text,
		Status:         proposals.StatusApproved,
		AdminApproved:  true,
	}
	require.NoError(t, f.props.Create(context.Background(), p))
	return p.ID
}

var prOpts = PROptions{TargetRepo: "acme/docs", PRTitle: "Docs from support", SubmittedBy: "alice"}

func TestCreateDraftBatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(nil)
	a := f.approved(t, "docs/b.md", "Intro", proposals.UpdateUpdate, "x")
	b := f.approved(t, "docs/a.md", "Intro", proposals.UpdateUpdate, "y")
	c := f.approved(t, "docs/b.md", "Usage", proposals.UpdateInsert, "z")

	batch, err := f.svc.CreateDraftBatch(ctx, []int64{a, b, c})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(batch.BatchID, "batch-"))
	assert.Equal(t, StatusDraft, batch.Status)
	assert.Equal(t, []string{"docs/a.md", "docs/b.md"}, batch.AffectedFiles)

	p, err := f.props.Get(ctx, a)
	require.NoError(t, err)
	require.NotNil(t, p.PRBatchID)
	assert.Equal(t, batch.BatchID, *p.PRBatchID)

	got, err := f.svc.Get(ctx, batch.BatchID)
	require.NoError(t, err)
	assert.Equal(t, batch.ProposalIDs, got.ProposalIDs)
}

func TestCreateDraftBatchRejectsIneligible(t *testing.T) {
	ctx := context.Background()
	f := newFixture(nil)
	ok := f.approved(t, "docs/a.md", "Intro", proposals.UpdateUpdate, "x")
	pending := &proposals.Proposal{ConversationID: "c", Page: "docs/a.md", UpdateType: proposals.UpdateUpdate, SuggestedText: "x"}
	require.NoError(t, f.props.Create(ctx, pending))

	_, err := f.svc.CreateDraftBatch(ctx, []int64{ok, pending.ID, 999})
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotEligible, apperr.KindOf(err))
	var inel *proposals.IneligibleError
	require.True(t, errors.As(err, &inel))
	assert.Contains(t, inel.Reasons, pending.ID)
	assert.Contains(t, inel.Reasons, int64(999))
	assert.NotContains(t, inel.Reasons, ok)

	p, err := f.props.Get(ctx, ok)
	require.NoError(t, err)
	assert.Nil(t, p.PRBatchID)

	// Already batched proposals cannot join a second batch.
	_, err = f.svc.CreateDraftBatch(ctx, []int64{ok})
	require.NoError(t, err)
	_, err = f.svc.CreateDraftBatch(ctx, []int64{ok})
	assert.Equal(t, apperr.KindNotEligible, apperr.KindOf(err))
}

func TestCreateDraftBatchValidatesInput(t *testing.T) {
	f := newFixture(nil)
	_, err := f.svc.CreateDraftBatch(context.Background(), nil)
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
	_, err = f.svc.CreateDraftBatch(context.Background(), []int64{1, 1})
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
}

func TestGeneratePRWithOneFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(map[string]string{
		"docs/install.md": "# Install\n\n## Linux\n\nOld.\n",
		"docs/faq.md":     "# FAQ\n\n## Ports\n\nUse 8080.\n",
	})
	a := f.approved(t, "docs/install.md", "Linux", proposals.UpdateUpdate, "Use the installer.")
	b := f.approved(t, "docs/faq.md", "Restarts", proposals.UpdateInsert, "Run systemctl restart.")
	c := f.approved(t, "docs/faq.md", "Missing section", proposals.UpdateUpdate, "nope")

	res, err := f.svc.SubmitProposals(ctx, SubmitRequest{ProposalIDs: []int64{a, b, c}, PROptions: prOpts})
	require.NoError(t, err)

	assert.Equal(t, StatusSubmitted, res.Batch.Status)
	assert.Equal(t, []int64{a, b}, res.AppliedProposals)
	require.Len(t, res.FailedProposals, 1)
	assert.Equal(t, c, res.FailedProposals[0].ProposalID)
	assert.Equal(t, FailureSectionNotFound, res.FailedProposals[0].FailureType)
	assert.NotEmpty(t, res.FailedProposals[0].ErrorMessage)
	require.NotNil(t, res.Batch.PRNumber)
	assert.Equal(t, 7, *res.Batch.PRNumber)
	require.NotNil(t, res.Batch.SubmittedAt)

	batchID := res.Batch.BatchID
	assert.Equal(t, []string{"acme/docs@docpilot/" + batchID + "<-main"}, f.host.branches)
	require.Len(t, f.host.prs, 1)
	assert.Equal(t, "docpilot/"+batchID, f.host.prs[0].Head)
	assert.Equal(t, "Docs from support", f.host.prs[0].Title)
	assert.Equal(t, "# Install\n\n## Linux\n\nUse the installer.\n", f.host.commits["docs/install.md"])
	assert.Equal(t, "# FAQ\n\n## Ports\n\nUse 8080.\n\n## Restarts\n\nRun systemctl restart.\n", f.host.commits["docs/faq.md"])

	for _, id := range []int64{a, b} {
		p, err := f.props.Get(ctx, id)
		require.NoError(t, err)
		assert.True(t, p.Graduated)
	}
	failed, err := f.props.Get(ctx, c)
	require.NoError(t, err)
	assert.Nil(t, failed.PRBatchID)
	assert.Equal(t, proposals.StatusApproved, failed.Status)

	stored, err := f.svc.Get(ctx, batchID)
	require.NoError(t, err)
	prURL, prNumber := "https://github.com/acme/docs/pull/7", 7
	want := &Batch{
		BatchID:       batchID,
		Status:        StatusSubmitted,
		ProposalIDs:   []int64{a, b},
		AffectedFiles: []string{"docs/faq.md", "docs/install.md"},
		PRTitle:       "Docs from support",
		PRURL:         &prURL,
		PRNumber:      &prNumber,
		TargetRepo:    "acme/docs",
		SourceRepo:    "acme/docs",
		BaseBranch:    "main",
		SubmittedBy:   "alice",
		Failures:      []Failure{{ProposalID: c, FailureType: FailureSectionNotFound}},
	}
	ignore := cmp.Options{
		cmpopts.IgnoreFields(Batch{}, "ID", "PRBody", "CreatedAt", "SubmittedAt"),
		cmpopts.IgnoreFields(Failure{}, "ErrorMessage"),
	}
	if diff := cmp.Diff(want, stored, ignore); diff != "" {
		t.Errorf("stored batch mismatch (-want +got):\n%s", diff)
	}

	_, err = f.svc.GeneratePR(ctx, batchID, prOpts)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestGeneratePRNothingApplied(t *testing.T) {
	ctx := context.Background()
	f := newFixture(map[string]string{})
	a := f.approved(t, "docs/gone.md", "Intro", proposals.UpdateUpdate, "x")
	batch, err := f.svc.CreateDraftBatch(ctx, []int64{a})
	require.NoError(t, err)

	res, err := f.svc.GeneratePR(ctx, batch.BatchID, prOpts)
	require.Error(t, err)
	assert.Equal(t, apperr.KindNothingApplied, apperr.KindOf(err))
	require.Len(t, res.FailedProposals, 1)
	assert.Equal(t, FailureFileNotFound, res.FailedProposals[0].FailureType)
	assert.Empty(t, f.host.prs)

	stored, err := f.svc.Get(ctx, batch.BatchID)
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, stored.Status)
	assert.Len(t, stored.Failures, 1)
}

func TestGeneratePRCommitAndOpenFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(map[string]string{"docs/a.md": "# A\n\n## One\n\nx\n"})
	f.host.commitErr["docs/a.md"] = errors.New("409 conflict")
	a := f.approved(t, "docs/a.md", "One", proposals.UpdateUpdate, "y")
	batch, err := f.svc.CreateDraftBatch(ctx, []int64{a})
	require.NoError(t, err)

	res, err := f.svc.GeneratePR(ctx, batch.BatchID, prOpts)
	assert.Equal(t, apperr.KindNothingApplied, apperr.KindOf(err))
	assert.Equal(t, FailureCommitFailed, res.FailedProposals[0].FailureType)

	delete(f.host.commitErr, "docs/a.md")
	f.host.prErr = errors.New("422 validation failed")
	_, err = f.svc.GeneratePR(ctx, batch.BatchID, prOpts)
	assert.Equal(t, apperr.KindPRFailed, apperr.KindOf(err))

	stored, err := f.svc.Get(ctx, batch.BatchID)
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, stored.Status)
	p, err := f.props.Get(ctx, a)
	require.NoError(t, err)
	assert.False(t, p.Graduated)
	require.NotNil(t, p.PRBatchID)
}

func TestGeneratePRRequiresTargetRepo(t *testing.T) {
	f := newFixture(nil)
	_, err := f.svc.GeneratePR(context.Background(), "batch-x", PROptions{SubmittedBy: "alice"})
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))

	_, err = f.svc.GeneratePR(context.Background(), "batch-x", prOpts)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestDeleteDraftBatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(map[string]string{"docs/a.md": "# A\n\n## One\n\nx\n"})
	a := f.approved(t, "docs/a.md", "One", proposals.UpdateUpdate, "y")
	b := f.approved(t, "docs/a.md", "Two", proposals.UpdateInsert, "z")

	draft, err := f.svc.CreateDraftBatch(ctx, []int64{a})
	require.NoError(t, err)
	require.NoError(t, f.svc.DeleteDraftBatch(ctx, draft.BatchID))
	p, err := f.props.Get(ctx, a)
	require.NoError(t, err)
	assert.Nil(t, p.PRBatchID)
	_, err = f.svc.Get(ctx, draft.BatchID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	res, err := f.svc.SubmitProposals(ctx, SubmitRequest{ProposalIDs: []int64{a, b}, PROptions: prOpts})
	require.NoError(t, err)
	err = f.svc.DeleteDraftBatch(ctx, res.Batch.BatchID)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	list, err := f.svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, res.Batch.BatchID, list[0].BatchID)
}
