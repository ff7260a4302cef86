package messages

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/lib/pq"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) Insert(ctx context.Context, msgs ...Message) (int, error) {
	inserted := 0
	for _, m := range msgs {
		status := m.ProcessingStatus
		if status == "" {
			status = StatusPending
		}
		res, err := s.db.ExecContext(ctx, `
        INSERT INTO messages (id, tenant_id, stream_id, author, channel, content, ts, processing_status)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        ON CONFLICT (id) DO NOTHING
    `, m.ID, m.TenantID, m.StreamID, m.Author, m.Channel, m.Content, m.Timestamp, string(status))
		if err != nil {
			return inserted, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	return inserted, nil
}

const messageColumns = `id, tenant_id, stream_id, author, channel, content, ts, processing_status`

func (s *PostgresStore) Get(ctx context.Context, id string) (Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, id)
	return scanMessage(row)
}

func (s *PostgresStore) SelectPending(ctx context.Context, tenant string, after time.Time, limit int) ([]Message, error) {
	// The page only fixes the cutoff timestamp; the outer query keeps every
	// message at that timestamp.
	rows, err := s.db.QueryContext(ctx, `
        WITH page AS (
            SELECT ts
            FROM messages
            WHERE tenant_id=$1 AND processing_status='PENDING' AND ts > $2
            ORDER BY ts ASC, id ASC
            LIMIT $3
        )
        SELECT `+messageColumns+`
        FROM messages
        WHERE tenant_id=$1 AND processing_status='PENDING' AND ts > $2
          AND ts <= (SELECT max(ts) FROM page)
        ORDER BY ts ASC, id ASC
    `, tenant, after, sql.NullInt64{Int64: int64(limit), Valid: limit > 0})
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

func (s *PostgresStore) SetStatus(ctx context.Context, status Status, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `UPDATE messages SET processing_status=$1 WHERE id = ANY($2)`, string(status), pq.Array(ids))
	return err
}

func (s *PostgresStore) List(ctx context.Context, tenant, streamID string, statuses ...Status) ([]Message, error) {
	st := make([]string, 0, len(statuses))
	for _, status := range statuses {
		st = append(st, string(status))
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT `+messageColumns+`
        FROM messages
        WHERE tenant_id=$1
          AND ($2 = '' OR stream_id=$2)
          AND (cardinality($3::text[]) = 0 OR processing_status = ANY($3))
        ORDER BY ts ASC, id ASC
    `, tenant, streamID, pq.Array(st))
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

func (s *PostgresStore) UpsertClassification(ctx context.Context, c Classification) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO classifications (message_id, category, conversation_id, doc_value_reason, keywords, semantic_query)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (message_id) DO UPDATE
        SET category=EXCLUDED.category, conversation_id=EXCLUDED.conversation_id,
            doc_value_reason=EXCLUDED.doc_value_reason, keywords=EXCLUDED.keywords,
            semantic_query=EXCLUDED.semantic_query
    `, c.MessageID, c.Category, c.ConversationID, c.DocValueReason,
		pq.Array(ensureSliceNotNil(c.RagSearchCriteria.Keywords)), c.RagSearchCriteria.SemanticQuery)
	return err
}

func (s *PostgresStore) GetClassification(ctx context.Context, messageID string) (Classification, error) {
	var c Classification
	var conv sql.NullString
	var keywords []string
	err := s.db.QueryRowContext(ctx, `
        SELECT message_id, category, conversation_id, doc_value_reason, keywords, semantic_query
        FROM classifications WHERE message_id=$1
    `, messageID).Scan(&c.MessageID, &c.Category, &conv, &c.DocValueReason, pq.Array(&keywords), &c.RagSearchCriteria.SemanticQuery)
	if errors.Is(err, sql.ErrNoRows) {
		return Classification{}, ErrNotFound
	}
	if err != nil {
		return Classification{}, err
	}
	if conv.Valid {
		c.ConversationID = &conv.String
	}
	c.RagSearchCriteria.Keywords = keywords
	return c, nil
}

func (s *PostgresStore) DeleteClassifications(ctx context.Context, messageIDs ...string) (int, []string, error) {
	if len(messageIDs) == 0 {
		return 0, nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
        DELETE FROM classifications WHERE message_id = ANY($1)
        RETURNING conversation_id
    `, pq.Array(messageIDs))
	if err != nil {
		return 0, nil, err
	}
	defer rows.Close()

	deleted := 0
	seen := make(map[string]bool)
	var conversations []string
	for rows.Next() {
		var conv sql.NullString
		if err := rows.Scan(&conv); err != nil {
			return deleted, nil, err
		}
		deleted++
		if conv.Valid && !seen[conv.String] {
			seen[conv.String] = true
			conversations = append(conversations, conv.String)
		}
	}
	sort.Strings(conversations)
	return deleted, conversations, rows.Err()
}

func (s *PostgresStore) SaveRagContext(ctx context.Context, rc RagContext) error {
	docs, err := json.Marshal(rc.RetrievedDocs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO rag_contexts (conversation_id, retrieved_docs, total_tokens, proposals_rejected, rejection_reason)
        VALUES ($1,$2,$3,$4,$5)
        ON CONFLICT (conversation_id) DO UPDATE
        SET retrieved_docs=EXCLUDED.retrieved_docs, total_tokens=EXCLUDED.total_tokens,
            proposals_rejected=EXCLUDED.proposals_rejected, rejection_reason=EXCLUDED.rejection_reason
    `, rc.ConversationID, docs, rc.TotalTokens, rc.ProposalsRejected, rc.RejectionReason)
	return err
}

func (s *PostgresStore) GetRagContext(ctx context.Context, conversationID string) (RagContext, error) {
	var rc RagContext
	var docs []byte
	err := s.db.QueryRowContext(ctx, `
        SELECT conversation_id, retrieved_docs, total_tokens, proposals_rejected, rejection_reason
        FROM rag_contexts WHERE conversation_id=$1
    `, conversationID).Scan(&rc.ConversationID, &docs, &rc.TotalTokens, &rc.ProposalsRejected, &rc.RejectionReason)
	if errors.Is(err, sql.ErrNoRows) {
		return RagContext{}, ErrNotFound
	}
	if err != nil {
		return RagContext{}, err
	}
	if len(docs) > 0 {
		if err := json.Unmarshal(docs, &rc.RetrievedDocs); err != nil {
			return RagContext{}, err
		}
	}
	return rc, nil
}

func (s *PostgresStore) DeleteRagContexts(ctx context.Context, conversationIDs ...string) (int, error) {
	if len(conversationIDs) == 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM rag_contexts WHERE conversation_id = ANY($1)`, pq.Array(conversationIDs))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func scanMessage(scanner interface{ Scan(dest ...any) error }) (Message, error) {
	var m Message
	var status string
	err := scanner.Scan(&m.ID, &m.TenantID, &m.StreamID, &m.Author, &m.Channel, &m.Content, &m.Timestamp, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, err
	}
	m.ProcessingStatus = Status(status)
	return m, nil
}

func collectMessages(rows *sql.Rows) ([]Message, error) {
	defer rows.Close()
	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func ensureSliceNotNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
