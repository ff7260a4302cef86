package messages

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var ErrNotFound = errors.New("not found")

// Store persists messages, classifications and retrieval contexts.
type Store interface {
	// Insert stores new messages; ids that already exist are skipped.
	Insert(ctx context.Context, msgs ...Message) (int, error)
	Get(ctx context.Context, id string) (Message, error)
	// SelectPending returns PENDING messages of the tenant newer than after,
	// oldest first, at most limit. When the limit cuts through messages sharing
	// the last selected timestamp, all of them are returned so a watermark at
	// that timestamp never strands the rest.
	SelectPending(ctx context.Context, tenant string, after time.Time, limit int) ([]Message, error)
	SetStatus(ctx context.Context, status Status, ids ...string) error
	// List returns the tenant's messages, optionally restricted to one stream
	// (empty streamID) and to the given statuses (none means all).
	List(ctx context.Context, tenant, streamID string, statuses ...Status) ([]Message, error)

	UpsertClassification(ctx context.Context, c Classification) error
	GetClassification(ctx context.Context, messageID string) (Classification, error)
	// DeleteClassifications removes the classifications of the given messages
	// and returns the distinct conversation ids they referenced.
	DeleteClassifications(ctx context.Context, messageIDs ...string) (deleted int, conversations []string, err error)

	SaveRagContext(ctx context.Context, rc RagContext) error
	GetRagContext(ctx context.Context, conversationID string) (RagContext, error)
	DeleteRagContexts(ctx context.Context, conversationIDs ...string) (int, error)
}

// InMemoryStore is a threadsafe in-memory store for tests and single-process
// runs without a database.
type InMemoryStore struct {
	mu              sync.RWMutex
	messages        map[string]Message
	classifications map[string]Classification
	ragContexts     map[string]RagContext
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		messages:        make(map[string]Message),
		classifications: make(map[string]Classification),
		ragContexts:     make(map[string]RagContext),
	}
}

func (s *InMemoryStore) Insert(ctx context.Context, msgs ...Message) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, m := range msgs {
		if _, ok := s.messages[m.ID]; ok {
			continue
		}
		if m.ProcessingStatus == "" {
			m.ProcessingStatus = StatusPending
		}
		s.messages[m.ID] = m
		inserted++
	}
	return inserted, nil
}

func (s *InMemoryStore) Get(ctx context.Context, id string) (Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return Message{}, ErrNotFound
	}
	return m, nil
}

func (s *InMemoryStore) SelectPending(ctx context.Context, tenant string, after time.Time, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Message
	for _, m := range s.messages {
		if m.TenantID == tenant && m.ProcessingStatus == StatusPending && m.Timestamp.After(after) {
			out = append(out, m)
		}
	}
	sortMessages(out)
	if limit > 0 && len(out) > limit {
		last := out[limit-1].Timestamp
		n := limit
		for n < len(out) && out[n].Timestamp.Equal(last) {
			n++
		}
		out = out[:n]
	}
	return out, nil
}

func (s *InMemoryStore) SetStatus(ctx context.Context, status Status, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		m, ok := s.messages[id]
		if !ok {
			return ErrNotFound
		}
		m.ProcessingStatus = status
		s.messages[id] = m
	}
	return nil
}

func (s *InMemoryStore) List(ctx context.Context, tenant, streamID string, statuses ...Status) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Message
	for _, m := range s.messages {
		if m.TenantID != tenant || (streamID != "" && m.StreamID != streamID) {
			continue
		}
		if len(statuses) > 0 && !containsStatus(statuses, m.ProcessingStatus) {
			continue
		}
		out = append(out, m)
	}
	sortMessages(out)
	return out, nil
}

func (s *InMemoryStore) UpsertClassification(ctx context.Context, c Classification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[c.MessageID]; !ok {
		return ErrNotFound
	}
	s.classifications[c.MessageID] = cloneClassification(c)
	return nil
}

func (s *InMemoryStore) GetClassification(ctx context.Context, messageID string) (Classification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.classifications[messageID]
	if !ok {
		return Classification{}, ErrNotFound
	}
	return cloneClassification(c), nil
}

func (s *InMemoryStore) DeleteClassifications(ctx context.Context, messageIDs ...string) (int, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	seen := make(map[string]bool)
	var conversations []string
	for _, id := range messageIDs {
		c, ok := s.classifications[id]
		if !ok {
			continue
		}
		if c.ConversationID != nil && !seen[*c.ConversationID] {
			seen[*c.ConversationID] = true
			conversations = append(conversations, *c.ConversationID)
		}
		delete(s.classifications, id)
		deleted++
	}
	sort.Strings(conversations)
	return deleted, conversations, nil
}

func (s *InMemoryStore) SaveRagContext(ctx context.Context, rc RagContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rc.RetrievedDocs = append([]RetrievedDoc(nil), rc.RetrievedDocs...)
	s.ragContexts[rc.ConversationID] = rc
	return nil
}

func (s *InMemoryStore) GetRagContext(ctx context.Context, conversationID string) (RagContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rc, ok := s.ragContexts[conversationID]
	if !ok {
		return RagContext{}, ErrNotFound
	}
	rc.RetrievedDocs = append([]RetrievedDoc(nil), rc.RetrievedDocs...)
	return rc, nil
}

func (s *InMemoryStore) DeleteRagContexts(ctx context.Context, conversationIDs ...string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for _, id := range conversationIDs {
		if _, ok := s.ragContexts[id]; ok {
			delete(s.ragContexts, id)
			deleted++
		}
	}
	return deleted, nil
}

func sortMessages(msgs []Message) {
	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].Timestamp.Equal(msgs[j].Timestamp) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
}

func containsStatus(statuses []Status, s Status) bool {
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}

func cloneClassification(c Classification) Classification {
	if c.ConversationID != nil {
		id := *c.ConversationID
		c.ConversationID = &id
	}
	c.RagSearchCriteria.Keywords = append([]string(nil), c.RagSearchCriteria.Keywords...)
	return c
}
