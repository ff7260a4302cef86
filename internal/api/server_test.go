package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docpilot/internal/apperr"
	"github.com/docpilot/internal/changesets"
	"github.com/docpilot/internal/githost"
	"github.com/docpilot/internal/llmcache"
	"github.com/docpilot/internal/proposals"
	"github.com/docpilot/internal/scheduler"
)

type memoryHost struct {
	mu    sync.Mutex
	files map[string]string
}

func (h *memoryHost) CreateBranch(ctx context.Context, repo, branch, base string) error { return nil }

func (h *memoryHost) GetFile(ctx context.Context, repo, path, ref string) (githost.File, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	content, ok := h.files[path]
	if !ok {
		return githost.File{}, githost.ErrFileNotFound
	}
	return githost.File{Path: path, Content: content, SHA: "sha"}, nil
}

func (h *memoryHost) CommitFile(ctx context.Context, repo, branch string, file githost.File, message string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.files[file.Path] = file.Content
	return nil
}

func (h *memoryHost) OpenPullRequest(ctx context.Context, in githost.PullRequestInput) (githost.PullRequest, error) {
	return githost.PullRequest{Number: 12, URL: "https://github.com/acme/docs/pull/12"}, nil
}

type recordingQueue struct {
	tenants []string
	err     error
}

func (q *recordingQueue) EnqueueBatch(ctx context.Context, tenant string) error {
	if q.err != nil {
		return q.err
	}
	q.tenants = append(q.tenants, tenant)
	return nil
}

type recordingClearer struct {
	tenant, stream string
}

func (r *recordingClearer) ClearProcessed(ctx context.Context, tenant, streamID string) (scheduler.ClearResult, error) {
	r.tenant, r.stream = tenant, streamID
	return scheduler.ClearResult{MessagesReset: 4, ProposalsDeleted: 1}, nil
}

type testServer struct {
	server  *Server
	props   *proposals.InMemoryStore
	cache   *llmcache.Cache
	queue   *recordingQueue
	clearer *recordingClearer
}

func newTestServer(t *testing.T, secret string) *testServer {
	t.Helper()
	props := proposals.NewInMemoryStore()
	host := &memoryHost{files: map[string]string{
		"docs/validators.md": "# Validators\n\n## Restart\n\nOld steps.\n",
	}}
	ts := &testServer{
		props:   props,
		cache:   llmcache.New(llmcache.NewMemoryStorage()),
		queue:   &recordingQueue{},
		clearer: &recordingClearer{},
	}
	ts.server = NewServer(0, Deps{
		Proposals: proposals.NewService(props),
		Batches:   changesets.NewService(changesets.NewInMemoryStore(), props, host, "main"),
		Cache:     ts.cache,
		Clearer:   ts.clearer,
		Queue:     ts.queue,
		JWTSecret: secret,
	})
	return ts
}

func (ts *testServer) seed(t *testing.T, conv, page string, status proposals.Status) *proposals.Proposal {
	t.Helper()
	p := &proposals.Proposal{
		ConversationID:   conv,
		Page:             page,
		Section:          "Restart",
		UpdateType:       proposals.UpdateUpdate,
		RawSuggestedText: "Run `systemctl restart node`.",
		SuggestedText:    "Run `systemctl restart node`.",
		Status:           status,
	}
	require.NoError(t, ts.props.Create(context.Background(), p))
	if status == proposals.StatusApproved {
		p.AdminApproved = true
		require.NoError(t, ts.props.Update(context.Background(), p))
	}
	return p
}

func (ts *testServer) do(t *testing.T, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorDetail {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, "")
	rec := ts.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestUpdateStatusReturnsConversationStatus(t *testing.T) {
	ts := newTestServer(t, "")
	p := ts.seed(t, "conv-1", "docs/validators.md", proposals.StatusPending)

	rec := ts.do(t, http.MethodPatch, fmt.Sprintf("/api/v1/proposals/%d/status", p.ID), `{"status":"approved","reviewedBy":"alice"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, proposals.StatusApproved, resp.Proposal.Status)
	assert.True(t, resp.Proposal.AdminApproved)
	require.NotNil(t, resp.Proposal.ReviewedBy)
	assert.Equal(t, "alice", *resp.Proposal.ReviewedBy)
	assert.Equal(t, proposals.ConversationChangeset, resp.ConversationStatus)
}

func TestUpdateStatusRejectsUnknownStatus(t *testing.T) {
	ts := newTestServer(t, "")
	p := ts.seed(t, "conv-1", "docs/validators.md", proposals.StatusPending)

	rec := ts.do(t, http.MethodPatch, fmt.Sprintf("/api/v1/proposals/%d/status", p.ID), `{"status":"maybe","reviewedBy":"alice"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperr.KindInvalidStatus, decodeError(t, rec).Kind)
}

func TestProposalErrorsMapToStatusCodes(t *testing.T) {
	ts := newTestServer(t, "")

	rec := ts.do(t, http.MethodGet, "/api/v1/proposals/999", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apperr.KindNotFound, decodeError(t, rec).Kind)

	rec = ts.do(t, http.MethodGet, "/api/v1/proposals/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperr.KindInvalidInput, decodeError(t, rec).Kind)

	rec = ts.do(t, http.MethodGet, "/api/v1/proposals?status=nope", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperr.KindInvalidStatus, decodeError(t, rec).Kind)
}

func TestEditTextAndList(t *testing.T) {
	ts := newTestServer(t, "")
	p := ts.seed(t, "conv-1", "docs/validators.md", proposals.StatusPending)
	ts.seed(t, "conv-2", "docs/rpc.md", proposals.StatusIgnored)

	rec := ts.do(t, http.MethodPatch, fmt.Sprintf("/api/v1/proposals/%d/text", p.ID), `{"text":"Restart with care.","editedBy":"bob"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var edited proposals.Proposal
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &edited))
	require.NotNil(t, edited.EditedText)
	assert.Equal(t, "Restart with care.", *edited.EditedText)
	assert.Equal(t, proposals.StatusPending, edited.Status)

	rec = ts.do(t, http.MethodGet, "/api/v1/proposals?conversationId=conv-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []proposals.Proposal
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, p.ID, list[0].ID)

	rec = ts.do(t, http.MethodGet, "/api/v1/proposals?status=approved", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/v1/conversations/conv-2/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"conversationId":"conv-2","status":"discarded"}`, rec.Body.String())
}

func TestReprocess(t *testing.T) {
	ts := newTestServer(t, "")
	p := ts.seed(t, "conv-1", "docs/validators.md", proposals.StatusPending)
	p.RawSuggestedText = "Step one.\n\n\n\nStep two."
	require.NoError(t, ts.props.Update(context.Background(), p))

	rec := ts.do(t, http.MethodPost, "/api/v1/proposals/reprocess", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"scanned":1,"updated":1}`, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/api/v1/proposals/reprocess", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"scanned":1,"updated":0}`, rec.Body.String())
}

func TestBatchLifecycle(t *testing.T) {
	ts := newTestServer(t, "")
	a := ts.seed(t, "conv-1", "docs/validators.md", proposals.StatusApproved)
	pending := ts.seed(t, "conv-2", "docs/validators.md", proposals.StatusPending)

	rec := ts.do(t, http.MethodPost, "/api/v1/batches", fmt.Sprintf(`{"proposalIds":[%d,%d]}`, a.ID, pending.ID))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, apperr.KindNotEligible, decodeError(t, rec).Kind)

	rec = ts.do(t, http.MethodPost, "/api/v1/batches", fmt.Sprintf(`{"proposalIds":[%d]}`, a.ID))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var batch changesets.Batch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &batch))
	assert.Equal(t, changesets.StatusDraft, batch.Status)
	assert.Equal(t, []string{"docs/validators.md"}, batch.AffectedFiles)

	rec = ts.do(t, http.MethodPatch, fmt.Sprintf("/api/v1/proposals/%d/status", a.ID), `{"status":"pending","reviewedBy":"alice"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, apperr.KindConflict, decodeError(t, rec).Kind)

	rec = ts.do(t, http.MethodGet, "/api/v1/batches/"+batch.BatchID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/batches/"+batch.BatchID+"/pr", `{"targetRepo":"acme/docs","submittedBy":"alice"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res changesets.PRResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, changesets.StatusSubmitted, res.Batch.Status)
	assert.Equal(t, []int64{a.ID}, res.AppliedProposals)
	assert.Empty(t, res.FailedProposals)
	require.NotNil(t, res.Batch.PRNumber)
	assert.Equal(t, 12, *res.Batch.PRNumber)

	rec = ts.do(t, http.MethodDelete, "/api/v1/batches/"+batch.BatchID, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPatch, fmt.Sprintf("/api/v1/proposals/%d/text", a.ID), `{"text":"late edit","editedBy":"bob"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, apperr.KindGraduated, decodeError(t, rec).Kind)

	rec = ts.do(t, http.MethodGet, "/api/v1/batches/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteDraftBatch(t *testing.T) {
	ts := newTestServer(t, "")
	a := ts.seed(t, "conv-1", "docs/validators.md", proposals.StatusApproved)

	rec := ts.do(t, http.MethodPost, "/api/v1/batches", fmt.Sprintf(`{"proposalIds":[%d]}`, a.ID))
	require.Equal(t, http.StatusCreated, rec.Code)
	var batch changesets.Batch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &batch))

	rec = ts.do(t, http.MethodDelete, "/api/v1/batches/"+batch.BatchID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	got, err := ts.props.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Nil(t, got.PRBatchID)

	rec = ts.do(t, http.MethodGet, "/api/v1/batches", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestSubmitWithNothingAppliedListsFailures(t *testing.T) {
	ts := newTestServer(t, "")
	missing := ts.seed(t, "conv-1", "docs/missing.md", proposals.StatusApproved)

	rec := ts.do(t, http.MethodPost, "/api/v1/pr", fmt.Sprintf(`{"proposalIds":[%d],"targetRepo":"acme/docs","submittedBy":"alice"}`, missing.ID))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

	var body prFailureResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, apperr.KindNothingApplied, body.Error.Kind)
	require.Len(t, body.FailedProposals, 1)
	assert.Equal(t, missing.ID, body.FailedProposals[0].ProposalID)
	assert.Equal(t, changesets.FailureFileNotFound, body.FailedProposals[0].FailureType)
}

func TestSubmitRequiresTargetRepo(t *testing.T) {
	ts := newTestServer(t, "")
	a := ts.seed(t, "conv-1", "docs/validators.md", proposals.StatusApproved)

	rec := ts.do(t, http.MethodPost, "/api/v1/pr", fmt.Sprintf(`{"proposalIds":[%d],"submittedBy":"alice"}`, a.ID))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperr.KindInvalidInput, decodeError(t, rec).Kind)
}

func TestCachePurgeAndStats(t *testing.T) {
	ts := newTestServer(t, "")
	ctx := context.Background()
	require.NoError(t, ts.cache.Set(ctx, "p1", "r1", llmcache.PurposeClassification, llmcache.Metadata{}))
	require.NoError(t, ts.cache.Set(ctx, "p2", "r2", llmcache.PurposeGeneration, llmcache.Metadata{}))

	rec := ts.do(t, http.MethodGet, "/api/v1/cache/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats["classification"])
	assert.Equal(t, 1, stats["generation"])

	rec = ts.do(t, http.MethodPost, "/api/v1/cache/purge", `{"purpose":"classification"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"removed":1}`, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/api/v1/cache/purge", `{"purpose":"everything"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/cache/purge", `{"purpose":"all","olderThan":"1h"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"removed":0}`, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/api/v1/cache/purge", `{"purpose":"all"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"removed":1}`, rec.Body.String())
}

func TestTenantEndpoints(t *testing.T) {
	ts := newTestServer(t, "")

	rec := ts.do(t, http.MethodPost, "/api/v1/tenants/acme/process", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"acme"}, ts.queue.tenants)

	ts.queue.err = apperr.New(apperr.KindBusy, "a batch run for tenant acme is already in progress")
	rec = ts.do(t, http.MethodPost, "/api/v1/tenants/acme/process", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, apperr.KindBusy, decodeError(t, rec).Kind)

	rec = ts.do(t, http.MethodPost, "/api/v1/tenants/acme/clear-processed", `{"streamId":"discord-general"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "acme", ts.clearer.tenant)
	assert.Equal(t, "discord-general", ts.clearer.stream)
	var res scheduler.ClearResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 4, res.MessagesReset)
}

func signToken(t *testing.T, secret, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestBearerAuth(t *testing.T) {
	ts := newTestServer(t, "s3cret")
	p := ts.seed(t, "conv-1", "docs/validators.md", proposals.StatusPending)

	rec := ts.do(t, http.MethodGet, "/api/v1/proposals", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, apperr.KindUnauthorized, decodeError(t, rec).Kind)

	rec = ts.do(t, http.MethodGet, "/api/v1/proposals", "", "Authorization", "Bearer "+signToken(t, "wrong", "mallory"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPatch, fmt.Sprintf("/api/v1/proposals/%d/status", p.ID), `{"status":"ignored","reviewedBy":"someone-else"}`,
		"Authorization", "Bearer "+signToken(t, "s3cret", "carol"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Proposal.ReviewedBy)
	assert.Equal(t, "carol", *resp.Proposal.ReviewedBy)
}
