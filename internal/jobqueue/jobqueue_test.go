package jobqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docpilot/internal/apperr"
	"github.com/docpilot/internal/scheduler"
)

type fakeRunner struct {
	mu      sync.Mutex
	tenants []string
	err     error
	done    chan struct{}
}

func (f *fakeRunner) RunBatch(ctx context.Context, tenant string) (scheduler.RunSummary, error) {
	f.mu.Lock()
	f.tenants = append(f.tenants, tenant)
	f.mu.Unlock()
	if f.done != nil {
		defer close(f.done)
	}
	return scheduler.RunSummary{Tenant: tenant, BatchID: "b1"}, f.err
}

func (f *fakeRunner) ClearProcessed(ctx context.Context, tenant, streamID string) (scheduler.ClearResult, error) {
	return scheduler.ClearResult{MessagesReset: 3}, f.err
}

func TestProcessBatchWorkerSwallowsBusy(t *testing.T) {
	runner := &fakeRunner{err: apperr.New(apperr.KindBusy, "busy")}
	w := &ProcessBatchWorker{runner: runner}
	err := w.Work(context.Background(), &river.Job[ProcessBatchArgs]{JobRow: &rivertype.JobRow{ID: 1}, Args: ProcessBatchArgs{Tenant: "acme"}})
	assert.NoError(t, err)
	assert.Equal(t, []string{"acme"}, runner.tenants)
}

func TestProcessBatchWorkerReportsFailure(t *testing.T) {
	runner := &fakeRunner{err: errors.New("stage classify: boom")}
	w := &ProcessBatchWorker{runner: runner}
	err := w.Work(context.Background(), &river.Job[ProcessBatchArgs]{JobRow: &rivertype.JobRow{ID: 1}, Args: ProcessBatchArgs{Tenant: "acme"}})
	assert.Error(t, err)
}

func TestJobArgsAreSingleAttempt(t *testing.T) {
	assert.Equal(t, "process_batch", ProcessBatchArgs{}.Kind())
	assert.Equal(t, "clear_processed", ClearProcessedArgs{}.Kind())
	assert.Equal(t, 1, ProcessBatchArgs{}.InsertOpts().MaxAttempts)
	assert.Equal(t, 1, ClearProcessedArgs{}.InsertOpts().MaxAttempts)
}

func TestInlineRejectsBusyTenant(t *testing.T) {
	locks := scheduler.NewLockRegistry()
	runner := &fakeRunner{done: make(chan struct{})}
	in := &Inline{Runner: runner, Locks: locks}

	require.True(t, locks.TryLock("acme"))
	err := in.EnqueueBatch(context.Background(), "acme")
	assert.True(t, apperr.IsKind(err, apperr.KindBusy))
	locks.Unlock("acme")

	require.NoError(t, in.EnqueueBatch(context.Background(), "acme"))
	select {
	case <-runner.done:
	case <-time.After(2 * time.Second):
		t.Fatal("inline run did not start")
	}
	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Equal(t, []string{"acme"}, runner.tenants)
}

func TestRiverQueueConfigFloorsWorkers(t *testing.T) {
	cfg := &QueueConfig{}
	assert.Equal(t, 1, cfg.RiverQueueConfig()[river.QueueDefault].MaxWorkers)
}
