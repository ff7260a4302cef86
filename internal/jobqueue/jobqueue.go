/*
Package jobqueue runs batch processing and clear-processed requests through a
River job queue backed by Postgres, or inline in a goroutine when no database
is configured.

Jobs are inserted with a single attempt: a failed run is recorded on the job
and never retried automatically.
*/
package jobqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/zerolog/log"

	"github.com/docpilot/internal/apperr"
	"github.com/docpilot/internal/scheduler"
)

// Runner is the batch processor the workers call.
type Runner interface {
	RunBatch(ctx context.Context, tenant string) (scheduler.RunSummary, error)
	ClearProcessed(ctx context.Context, tenant, streamID string) (scheduler.ClearResult, error)
}

// Enqueuer starts batch runs asynchronously.
type Enqueuer interface {
	EnqueueBatch(ctx context.Context, tenant string) error
}

// ProcessBatchArgs represents the arguments for a batch run job
type ProcessBatchArgs struct {
	Tenant string `json:"tenant"`
}

// Kind returns the job kind for River
func (ProcessBatchArgs) Kind() string { return "process_batch" }

func (ProcessBatchArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 1}
}

// ClearProcessedArgs represents the arguments for a clear-processed job
type ClearProcessedArgs struct {
	Tenant   string `json:"tenant"`
	StreamID string `json:"stream_id,omitempty"`
}

// Kind returns the job kind for River
func (ClearProcessedArgs) Kind() string { return "clear_processed" }

func (ClearProcessedArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 1}
}

// ProcessBatchWorker handles batch run jobs
type ProcessBatchWorker struct {
	river.WorkerDefaults[ProcessBatchArgs]
	runner  Runner
	timeout time.Duration
}

func (w *ProcessBatchWorker) Timeout(*river.Job[ProcessBatchArgs]) time.Duration {
	return w.timeout
}

func (w *ProcessBatchWorker) Work(ctx context.Context, job *river.Job[ProcessBatchArgs]) error {
	return runBatch(ctx, w.runner, job.Args.Tenant, job.ID)
}

func runBatch(ctx context.Context, runner Runner, tenant string, jobID int64) error {
	summary, err := runner.RunBatch(ctx, tenant)
	if apperr.IsKind(err, apperr.KindBusy) {
		log.Info().Str("tenant", tenant).Int64("job_id", jobID).Msg("Batch run skipped, tenant busy")
		return nil
	}
	if err != nil {
		log.Error().Err(err).Str("tenant", tenant).Int64("job_id", jobID).Msg("Batch run job failed")
		return err
	}
	log.Info().
		Str("tenant", tenant).
		Int64("job_id", jobID).
		Str("batch_id", summary.BatchID).
		Int("messages", summary.MessagesConsumed).
		Int("proposals", summary.ProposalsCreated).
		Msg("Batch run job finished")
	return nil
}

// ClearProcessedWorker handles clear-processed jobs
type ClearProcessedWorker struct {
	river.WorkerDefaults[ClearProcessedArgs]
	runner Runner
}

func (w *ClearProcessedWorker) Work(ctx context.Context, job *river.Job[ClearProcessedArgs]) error {
	res, err := w.runner.ClearProcessed(ctx, job.Args.Tenant, job.Args.StreamID)
	if err != nil {
		log.Error().Err(err).Str("tenant", job.Args.Tenant).Msg("Clear-processed job failed")
		return err
	}
	log.Info().Str("tenant", job.Args.Tenant).Int("messages_reset", res.MessagesReset).Msg("Clear-processed job finished")
	return nil
}

// JobQueue manages the River job queue
type JobQueue struct {
	client *river.Client[pgx.Tx]
	pool   *pgxpool.Pool
	config *QueueConfig
}

// NewJobQueue connects to Postgres, applies River's schema migrations and
// creates the client with both workers registered.
func NewJobQueue(ctx context.Context, databaseURL string, runner Runner, config *QueueConfig) (*JobQueue, error) {
	if config == nil {
		config = DefaultQueueConfig()
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	driver := riverpgxv5.New(pool)
	migrator, err := rivermigrate.New(driver, nil)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create River migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate River schema: %w", err)
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &ProcessBatchWorker{runner: runner, timeout: config.JobTimeout})
	river.AddWorker(workers, &ClearProcessedWorker{runner: runner})

	client, err := river.NewClient(driver, &river.Config{
		Queues:  config.RiverQueueConfig(),
		Workers: workers,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &JobQueue{client: client, pool: pool, config: config}, nil
}

// Start starts the job queue workers
func (jq *JobQueue) Start(ctx context.Context) error {
	return jq.client.Start(ctx)
}

// Stop stops the job queue workers and closes the pool
func (jq *JobQueue) Stop(ctx context.Context) error {
	err := jq.client.Stop(ctx)
	jq.pool.Close()
	return err
}

// Close releases the pool of a queue that was only used to insert jobs and
// never started.
func (jq *JobQueue) Close() {
	jq.pool.Close()
}

// EnqueueBatch queues a batch run for the tenant.
func (jq *JobQueue) EnqueueBatch(ctx context.Context, tenant string) error {
	if _, err := jq.client.Insert(ctx, ProcessBatchArgs{Tenant: tenant}, nil); err != nil {
		return fmt.Errorf("failed to queue batch run: %w", err)
	}
	return nil
}

// EnqueueClear queues a clear-processed reset.
func (jq *JobQueue) EnqueueClear(ctx context.Context, tenant, streamID string) error {
	if _, err := jq.client.Insert(ctx, ClearProcessedArgs{Tenant: tenant, StreamID: streamID}, nil); err != nil {
		return fmt.Errorf("failed to queue clear-processed: %w", err)
	}
	return nil
}

// Inline runs batches in a goroutine of the current process. A trigger for a
// tenant whose run is still active is rejected up front.
type Inline struct {
	Runner  Runner
	Locks   *scheduler.LockRegistry
	Timeout time.Duration
}

func (in *Inline) EnqueueBatch(ctx context.Context, tenant string) error {
	if in.Locks != nil && in.Locks.Held(tenant) {
		return apperr.New(apperr.KindBusy, "a batch run for tenant %s is already in progress", tenant)
	}
	timeout := in.Timeout
	if timeout <= 0 {
		timeout = DefaultQueueConfig().JobTimeout
	}
	go func() {
		runCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_ = runBatch(runCtx, in.Runner, tenant, 0)
	}()
	return nil
}
