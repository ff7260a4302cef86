// Package watermark tracks, per tenant, the newest message time consumed by a
// completed batch run, and selects the next batch of unprocessed messages.
package watermark

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/docpilot/internal/messages"
)

// Watermark is the processing cursor of one tenant.
type Watermark struct {
	TenantID             string    `json:"tenantId"`
	WatermarkTime        time.Time `json:"watermarkTime"`
	LastProcessedBatchID string    `json:"lastProcessedBatchId,omitempty"`
}

// Store persists watermarks. Get returns the zero watermark for a tenant that
// has never run.
type Store interface {
	Get(ctx context.Context, tenant string) (Watermark, error)
	// Advance moves the watermark to at, recording batchID. It never moves the
	// watermark backwards; the returned value is the stored state.
	Advance(ctx context.Context, tenant string, at time.Time, batchID string) (Watermark, error)
	// Reset unconditionally sets the watermark. Only the clear-processed
	// administrative operation uses it.
	Reset(ctx context.Context, tenant string, at time.Time) error
}

// SelectBatch returns the next window of PENDING messages newer than the
// tenant's watermark, oldest first, at most maxSize unless messages sharing
// the last timestamp push it over.
func SelectBatch(ctx context.Context, store Store, msgs messages.Store, tenant string, maxSize int) ([]messages.Message, Watermark, error) {
	wm, err := store.Get(ctx, tenant)
	if err != nil {
		return nil, Watermark{}, err
	}
	batch, err := msgs.SelectPending(ctx, tenant, wm.WatermarkTime, maxSize)
	if err != nil {
		return nil, wm, err
	}
	return batch, wm, nil
}

// MaxTimestamp returns the newest timestamp among msgs.
func MaxTimestamp(msgs []messages.Message) time.Time {
	var max time.Time
	for _, m := range msgs {
		if m.Timestamp.After(max) {
			max = m.Timestamp
		}
	}
	return max
}

// InMemoryStore keeps watermarks in process memory.
type InMemoryStore struct {
	mu   sync.Mutex
	data map[string]Watermark
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{data: make(map[string]Watermark)}
}

func (s *InMemoryStore) Get(ctx context.Context, tenant string) (Watermark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wm, ok := s.data[tenant]
	if !ok {
		return Watermark{TenantID: tenant}, nil
	}
	return wm, nil
}

func (s *InMemoryStore) Advance(ctx context.Context, tenant string, at time.Time, batchID string) (Watermark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wm, ok := s.data[tenant]
	if !ok {
		wm = Watermark{TenantID: tenant}
	}
	if at.After(wm.WatermarkTime) {
		wm.WatermarkTime = at
	}
	wm.LastProcessedBatchID = batchID
	s.data[tenant] = wm
	return wm, nil
}

func (s *InMemoryStore) Reset(ctx context.Context, tenant string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wm := s.data[tenant]
	wm.TenantID = tenant
	wm.WatermarkTime = at
	s.data[tenant] = wm
	return nil
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) Get(ctx context.Context, tenant string) (Watermark, error) {
	wm := Watermark{TenantID: tenant}
	var batchID sql.NullString
	err := s.db.QueryRowContext(ctx, `
        SELECT watermark_time, last_processed_batch_id FROM watermarks WHERE tenant_id=$1
    `, tenant).Scan(&wm.WatermarkTime, &batchID)
	if errors.Is(err, sql.ErrNoRows) {
		return wm, nil
	}
	if err != nil {
		return Watermark{}, err
	}
	wm.LastProcessedBatchID = batchID.String
	return wm, nil
}

func (s *PostgresStore) Advance(ctx context.Context, tenant string, at time.Time, batchID string) (Watermark, error) {
	wm := Watermark{TenantID: tenant}
	var stored sql.NullString
	err := s.db.QueryRowContext(ctx, `
        INSERT INTO watermarks (tenant_id, watermark_time, last_processed_batch_id)
        VALUES ($1,$2,$3)
        ON CONFLICT (tenant_id) DO UPDATE
        SET watermark_time = GREATEST(watermarks.watermark_time, EXCLUDED.watermark_time),
            last_processed_batch_id = EXCLUDED.last_processed_batch_id
        RETURNING watermark_time, last_processed_batch_id
    `, tenant, at, batchID).Scan(&wm.WatermarkTime, &stored)
	if err != nil {
		return Watermark{}, err
	}
	wm.LastProcessedBatchID = stored.String
	return wm, nil
}

func (s *PostgresStore) Reset(ctx context.Context, tenant string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO watermarks (tenant_id, watermark_time) VALUES ($1,$2)
        ON CONFLICT (tenant_id) DO UPDATE SET watermark_time = EXCLUDED.watermark_time
    `, tenant, at)
	return err
}
