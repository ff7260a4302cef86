package proposals

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

const proposalColumns = `id, tenant_id, conversation_id, category, page, section, update_type, raw_suggested_text,
        suggested_text, edited_text, reasoning, status, admin_approved, reviewed_by, discard_reason, model_used,
        pr_batch_id, graduated, condensed, flags, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, p *Proposal) error {
	if p.Status == "" {
		p.Status = StatusPending
	}
	return s.db.QueryRowContext(ctx, `
        INSERT INTO proposals (tenant_id, conversation_id, category, page, section, update_type, raw_suggested_text,
            suggested_text, edited_text, reasoning, status, admin_approved, reviewed_by, discard_reason, model_used,
            condensed, flags)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
        RETURNING id, created_at, updated_at
    `, p.TenantID, p.ConversationID, p.Category, p.Page, p.Section, string(p.UpdateType), p.RawSuggestedText,
		p.SuggestedText, p.EditedText, p.Reasoning, string(p.Status), p.AdminApproved, p.ReviewedBy, p.DiscardReason,
		p.ModelUsed, p.Condensed, pq.Array(ensureSliceNotNil(p.Flags)),
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

func (s *PostgresStore) Get(ctx context.Context, id int64) (*Proposal, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE id=$1`, id)
	return scanProposal(row)
}

func (s *PostgresStore) Update(ctx context.Context, p *Proposal) error {
	err := s.db.QueryRowContext(ctx, `
        UPDATE proposals
        SET page=$1, section=$2, update_type=$3, suggested_text=$4, edited_text=$5, reasoning=$6,
            status=$7, admin_approved=$8, reviewed_by=$9, discard_reason=$10, flags=$11, updated_at=now()
        WHERE id=$12
        RETURNING updated_at
    `, p.Page, p.Section, string(p.UpdateType), p.SuggestedText, p.EditedText, p.Reasoning,
		string(p.Status), p.AdminApproved, p.ReviewedBy, p.DiscardReason, pq.Array(ensureSliceNotNil(p.Flags)), p.ID,
	).Scan(&p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (s *PostgresStore) List(ctx context.Context, f Filter) ([]*Proposal, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT `+proposalColumns+`
        FROM proposals
        WHERE ($1 = '' OR conversation_id=$1)
          AND ($2 = '' OR status=$2)
          AND ($3 OR NOT graduated)
        ORDER BY id
    `, f.ConversationID, string(f.Status), f.IncludeGraduated)
	if err != nil {
		return nil, err
	}
	return collectProposals(rows)
}

func (s *PostgresStore) ListWithRawText(ctx context.Context) ([]*Proposal, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT `+proposalColumns+` FROM proposals WHERE raw_suggested_text <> '' ORDER BY id
    `)
	if err != nil {
		return nil, err
	}
	return collectProposals(rows)
}

func (s *PostgresStore) AttachToBatch(ctx context.Context, batchID string, ids []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
        SELECT `+proposalColumns+` FROM proposals WHERE id = ANY($1) FOR UPDATE
    `, pq.Array(ids))
	if err != nil {
		return err
	}
	found, err := collectProposals(rows)
	if err != nil {
		return err
	}

	byID := make(map[int64]*Proposal, len(found))
	for _, p := range found {
		byID[p.ID] = p
	}
	reasons := make(map[int64]string)
	for _, id := range ids {
		p, ok := byID[id]
		if !ok {
			reasons[id] = "not found"
			continue
		}
		if r := eligibility(p); r != "" {
			reasons[id] = r
		}
	}
	if len(reasons) > 0 {
		return &IneligibleError{Reasons: reasons}
	}

	if _, err := tx.ExecContext(ctx, `
        UPDATE proposals SET pr_batch_id=$1, updated_at=now() WHERE id = ANY($2)
    `, batchID, pq.Array(ids)); err != nil {
		return fmt.Errorf("attach proposals to %s: %w", batchID, err)
	}
	return tx.Commit()
}

func (s *PostgresStore) Detach(ctx context.Context, ids []int64) error {
	_, err := s.db.ExecContext(ctx, `
        UPDATE proposals SET pr_batch_id=NULL, graduated=false, updated_at=now() WHERE id = ANY($1)
    `, pq.Array(ids))
	return err
}

func (s *PostgresStore) MarkGraduated(ctx context.Context, ids []int64) error {
	_, err := s.db.ExecContext(ctx, `
        UPDATE proposals SET graduated=true, updated_at=now() WHERE id = ANY($1)
    `, pq.Array(ids))
	return err
}

func (s *PostgresStore) DeleteUnbatchedByConversations(ctx context.Context, conversationIDs []string) (int, error) {
	if len(conversationIDs) == 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `
        DELETE FROM proposals WHERE conversation_id = ANY($1) AND pr_batch_id IS NULL
    `, pq.Array(conversationIDs))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func scanProposal(scanner interface{ Scan(dest ...any) error }) (*Proposal, error) {
	var p Proposal
	var updateType, status string
	var edited, reviewedBy, discard, batch sql.NullString
	var flags []string
	err := scanner.Scan(&p.ID, &p.TenantID, &p.ConversationID, &p.Category, &p.Page, &p.Section, &updateType,
		&p.RawSuggestedText, &p.SuggestedText, &edited, &p.Reasoning, &status, &p.AdminApproved, &reviewedBy, &discard,
		&p.ModelUsed, &batch, &p.Graduated, &p.Condensed, pq.Array(&flags), &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.UpdateType = UpdateType(updateType)
	p.Status = Status(status)
	p.EditedText = nullString(edited)
	p.ReviewedBy = nullString(reviewedBy)
	p.DiscardReason = nullString(discard)
	p.PRBatchID = nullString(batch)
	p.Flags = flags
	return &p, nil
}

func collectProposals(rows *sql.Rows) ([]*Proposal, error) {
	defer rows.Close()
	var out []*Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func ensureSliceNotNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
