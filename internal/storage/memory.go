// Package storage provides an in-memory submission store. It backs tests and
// local development where Postgres is not running, and implements the same
// operations as the SQL repository.
package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/appscale/certhub/internal/model"
)

// ErrNotFound is returned when no submission exists for an id.
var ErrNotFound = errors.New("submission not found")

// MemoryStore keeps submissions in a map guarded by a RWMutex. Insertion
// order is tracked so listings stay deterministic.
type MemoryStore struct {
	mu    sync.RWMutex
	subs  map[string]*model.Submission
	order []string
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[string]*model.Submission)}
}

// Create inserts a new submission.
func (m *MemoryStore) Create(_ context.Context, sub *model.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now
	cp := *sub
	m.subs[sub.ID] = &cp
	m.order = append(m.order, sub.ID)
	return nil
}

// Get returns a copy of the submission so callers cannot mutate shared state.
func (m *MemoryStore) Get(_ context.Context, id string) (*model.Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.subs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

// Update overwrites the stored record, last write wins.
func (m *MemoryStore) Update(_ context.Context, sub *model.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[sub.ID]; !ok {
		return ErrNotFound
	}
	sub.UpdatedAt = time.Now().UTC()
	cp := *sub
	m.subs[sub.ID] = &cp
	return nil
}

// ListByOwner returns the owner's submissions in insertion order.
func (m *MemoryStore) ListByOwner(_ context.Context, owner string) ([]*model.Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Submission
	for _, id := range m.order {
		if sub := m.subs[id]; sub.Owner == owner {
			cp := *sub
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ListUnexamined returns submissions awaiting a decision in insertion order.
func (m *MemoryStore) ListUnexamined(_ context.Context) ([]*model.Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Submission
	for _, id := range m.order {
		if sub := m.subs[id]; !sub.Examined {
			cp := *sub
			out = append(out, &cp)
		}
	}
	return out, nil
}

// CountAll returns the total number of submissions.
func (m *MemoryStore) CountAll(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.subs)), nil
}

// CountExamined counts examined submissions by outcome.
func (m *MemoryStore) CountExamined(_ context.Context, passed bool) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, sub := range m.subs {
		if sub.Examined && sub.Passed == passed {
			n++
		}
	}
	return n, nil
}

// CountUnexamined counts submissions still awaiting review.
func (m *MemoryStore) CountUnexamined(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, sub := range m.subs {
		if !sub.Examined {
			n++
		}
	}
	return n, nil
}
