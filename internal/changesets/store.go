package changesets

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var ErrNotFound = errors.New("batch not found")

type Store interface {
	Create(ctx context.Context, b *Batch) error
	Get(ctx context.Context, batchID string) (*Batch, error)
	Update(ctx context.Context, b *Batch) error
	List(ctx context.Context) ([]*Batch, error)
	Delete(ctx context.Context, batchID string) error
}

// InMemoryStore is a threadsafe in-memory store for tests and single-process
// runs without a database.
type InMemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]*Batch
	nextID int64
	now    func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byID: make(map[string]*Batch), now: time.Now}
}

func (s *InMemoryStore) Create(ctx context.Context, b *Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	b.ID = s.nextID
	b.CreatedAt = s.now()
	s.byID[b.BatchID] = cloneBatch(b)
	return nil
}

func (s *InMemoryStore) Get(ctx context.Context, batchID string) (*Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.byID[batchID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneBatch(b), nil
}

func (s *InMemoryStore) Update(ctx context.Context, b *Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[b.BatchID]; !ok {
		return ErrNotFound
	}
	s.byID[b.BatchID] = cloneBatch(b)
	return nil
}

func (s *InMemoryStore) List(ctx context.Context) ([]*Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Batch, 0, len(s.byID))
	for _, b := range s.byID {
		out = append(out, cloneBatch(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) Delete(ctx context.Context, batchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[batchID]; !ok {
		return ErrNotFound
	}
	delete(s.byID, batchID)
	return nil
}

func cloneBatch(b *Batch) *Batch {
	c := *b
	c.ProposalIDs = append([]int64(nil), b.ProposalIDs...)
	c.AffectedFiles = append([]string(nil), b.AffectedFiles...)
	c.Failures = append([]Failure(nil), b.Failures...)
	return &c
}
