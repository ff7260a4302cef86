package proposals

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var ErrNotFound = errors.New("not found")

// IneligibleError lists proposals that cannot join a batch, with the reason
// for each.
type IneligibleError struct {
	Reasons map[int64]string
}

func (e *IneligibleError) Error() string {
	ids := make([]int64, 0, len(e.Reasons))
	for id := range e.Reasons {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	msg := "proposals not eligible for batching:"
	for _, id := range ids {
		msg += fmt.Sprintf(" %d (%s)", id, e.Reasons[id])
	}
	return msg
}

// Filter narrows List results. Zero values match everything; graduated
// proposals are only returned when IncludeGraduated is set.
type Filter struct {
	ConversationID   string
	Status           Status
	IncludeGraduated bool
}

type Store interface {
	Create(ctx context.Context, p *Proposal) error
	Get(ctx context.Context, id int64) (*Proposal, error)
	Update(ctx context.Context, p *Proposal) error
	List(ctx context.Context, f Filter) ([]*Proposal, error)
	// ListWithRawText returns every proposal that retains raw generated text.
	ListWithRawText(ctx context.Context) ([]*Proposal, error)
	// AttachToBatch atomically attaches the proposals to batchID. It fails
	// with *IneligibleError, attaching nothing, unless every id exists, is
	// approved and is not already batched.
	AttachToBatch(ctx context.Context, batchID string, ids []int64) error
	// Detach clears the batch reference of the given proposals.
	Detach(ctx context.Context, ids []int64) error
	MarkGraduated(ctx context.Context, ids []int64) error
	// DeleteUnbatchedByConversations removes the conversations' proposals that
	// are not attached to any batch.
	DeleteUnbatchedByConversations(ctx context.Context, conversationIDs []string) (int, error)
}

// eligibility returns why p cannot join a batch, or "" when it can.
func eligibility(p *Proposal) string {
	switch {
	case p.Batched():
		return "already batched"
	case p.Status != StatusApproved:
		return "status is " + string(p.Status)
	case p.UpdateType == UpdateNone:
		return "no change to apply"
	}
	return ""
}

// InMemoryStore is a threadsafe in-memory store for tests
type InMemoryStore struct {
	mu     sync.RWMutex
	byID   map[int64]*Proposal
	nextID int64
	now    func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byID: make(map[int64]*Proposal), now: time.Now}
}

func (s *InMemoryStore) Create(ctx context.Context, p *Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	p.ID = s.nextID
	if p.Status == "" {
		p.Status = StatusPending
	}
	p.CreatedAt = s.now()
	p.UpdatedAt = p.CreatedAt
	s.byID[p.ID] = cloneProposal(p)
	return nil
}

func (s *InMemoryStore) Get(ctx context.Context, id int64) (*Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneProposal(p), nil
}

func (s *InMemoryStore) Update(ctx context.Context, p *Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[p.ID]; !ok {
		return ErrNotFound
	}
	p.UpdatedAt = s.now()
	s.byID[p.ID] = cloneProposal(p)
	return nil
}

func (s *InMemoryStore) List(ctx context.Context, f Filter) ([]*Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Proposal
	for _, p := range s.byID {
		if f.ConversationID != "" && p.ConversationID != f.ConversationID {
			continue
		}
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		if p.Graduated && !f.IncludeGraduated {
			continue
		}
		out = append(out, cloneProposal(p))
	}
	sortByID(out)
	return out, nil
}

func (s *InMemoryStore) ListWithRawText(ctx context.Context) ([]*Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Proposal
	for _, p := range s.byID {
		if p.RawSuggestedText != "" {
			out = append(out, cloneProposal(p))
		}
	}
	sortByID(out)
	return out, nil
}

func (s *InMemoryStore) AttachToBatch(ctx context.Context, batchID string, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	reasons := make(map[int64]string)
	for _, id := range ids {
		p, ok := s.byID[id]
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
	now := s.now()
	for _, id := range ids {
		b := batchID
		s.byID[id].PRBatchID = &b
		s.byID[id].UpdatedAt = now
	}
	return nil
}

func (s *InMemoryStore) Detach(ctx context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if p, ok := s.byID[id]; ok {
			p.PRBatchID = nil
			p.Graduated = false
			p.UpdatedAt = s.now()
		}
	}
	return nil
}

func (s *InMemoryStore) MarkGraduated(ctx context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		p, ok := s.byID[id]
		if !ok {
			return ErrNotFound
		}
		p.Graduated = true
		p.UpdatedAt = s.now()
	}
	return nil
}

func (s *InMemoryStore) DeleteUnbatchedByConversations(ctx context.Context, conversationIDs []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	convs := make(map[string]bool, len(conversationIDs))
	for _, c := range conversationIDs {
		convs[c] = true
	}
	deleted := 0
	for id, p := range s.byID {
		if convs[p.ConversationID] && !p.Batched() {
			delete(s.byID, id)
			deleted++
		}
	}
	return deleted, nil
}

func sortByID(ps []*Proposal) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].ID < ps[j].ID })
}

func cloneProposal(p *Proposal) *Proposal {
	cp := *p
	cp.EditedText = cloneStr(p.EditedText)
	cp.ReviewedBy = cloneStr(p.ReviewedBy)
	cp.DiscardReason = cloneStr(p.DiscardReason)
	cp.PRBatchID = cloneStr(p.PRBatchID)
	cp.Flags = append([]string(nil), p.Flags...)
	return &cp
}

func cloneStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
