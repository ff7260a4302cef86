package changesets

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

const batchColumns = `id, batch_id, status, proposal_ids, affected_files, pr_title, pr_body, pr_url, pr_number,
        target_repo, source_repo, base_branch, submitted_by, failures, created_at, submitted_at`

func (s *PostgresStore) Create(ctx context.Context, b *Batch) error {
	failures, err := json.Marshal(ensureFailures(b.Failures))
	if err != nil {
		return fmt.Errorf("marshal failures: %w", err)
	}
	return s.db.QueryRowContext(ctx, `
        INSERT INTO changeset_batches (batch_id, status, proposal_ids, affected_files, pr_title, pr_body,
            target_repo, source_repo, base_branch, submitted_by, failures)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
        RETURNING id, created_at
    `, b.BatchID, string(b.Status), pq.Array(ensureIDs(b.ProposalIDs)), pq.Array(ensureStrings(b.AffectedFiles)), b.PRTitle, b.PRBody,
		b.TargetRepo, b.SourceRepo, b.BaseBranch, b.SubmittedBy, failures,
	).Scan(&b.ID, &b.CreatedAt)
}

func (s *PostgresStore) Get(ctx context.Context, batchID string) (*Batch, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM changeset_batches WHERE batch_id=$1`, batchID)
	return scanBatch(row)
}

func (s *PostgresStore) Update(ctx context.Context, b *Batch) error {
	failures, err := json.Marshal(ensureFailures(b.Failures))
	if err != nil {
		return fmt.Errorf("marshal failures: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
        UPDATE changeset_batches
        SET status=$1, proposal_ids=$2, affected_files=$3, pr_title=$4, pr_body=$5, pr_url=$6, pr_number=$7,
            target_repo=$8, source_repo=$9, base_branch=$10, submitted_by=$11, failures=$12, submitted_at=$13
        WHERE batch_id=$14
    `, string(b.Status), pq.Array(ensureIDs(b.ProposalIDs)), pq.Array(ensureStrings(b.AffectedFiles)), b.PRTitle, b.PRBody,
		b.PRURL, b.PRNumber, b.TargetRepo, b.SourceRepo, b.BaseBranch, b.SubmittedBy, failures, b.SubmittedAt, b.BatchID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*Batch, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+batchColumns+` FROM changeset_batches ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, batchID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM changeset_batches WHERE batch_id=$1`, batchID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanBatch(scanner interface{ Scan(dest ...any) error }) (*Batch, error) {
	var (
		b           Batch
		status      string
		prURL       sql.NullString
		prNumber    sql.NullInt64
		submittedAt sql.NullTime
		failures    []byte
	)
	err := scanner.Scan(&b.ID, &b.BatchID, &status, pq.Array(&b.ProposalIDs), pq.Array(&b.AffectedFiles),
		&b.PRTitle, &b.PRBody, &prURL, &prNumber, &b.TargetRepo, &b.SourceRepo, &b.BaseBranch, &b.SubmittedBy,
		&failures, &b.CreatedAt, &submittedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if b.Status, err = ParseStatus(status); err != nil {
		return nil, err
	}
	if prURL.Valid {
		b.PRURL = &prURL.String
	}
	if prNumber.Valid {
		n := int(prNumber.Int64)
		b.PRNumber = &n
	}
	if submittedAt.Valid {
		b.SubmittedAt = &submittedAt.Time
	}
	if len(failures) > 0 {
		if err := json.Unmarshal(failures, &b.Failures); err != nil {
			return nil, fmt.Errorf("decode failures of %s: %w", b.BatchID, err)
		}
	}
	return &b, nil
}

func ensureStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func ensureIDs(in []int64) []int64 {
	if in == nil {
		return []int64{}
	}
	return in
}

func ensureFailures(in []Failure) []Failure {
	if in == nil {
		return []Failure{}
	}
	return in
}
