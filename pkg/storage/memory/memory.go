// Package memory provides an in-memory ExecutionStore for development and
// single-replica deployments. Records are lost on restart; the oldest
// record is evicted once the configured size is reached.
package memory

import (
	"container/list"
	"context"
	"sync"

	"github.com/rhuss/pysandbox/pkg/storage"
)

// Store is an in-memory ExecutionStore.
type Store struct {
	mu      sync.RWMutex
	byID    map[string]*list.Element
	order   *list.List // front = newest
	maxSize int        // 0 = unlimited
}

var _ storage.ExecutionStore = (*Store)(nil)

// New creates a store holding at most maxSize records (0 means unlimited).
func New(maxSize int) *Store {
	return &Store{
		byID:    make(map[string]*list.Element),
		order:   list.New(),
		maxSize: maxSize,
	}
}

// SaveExecution stores a copy of e under the context tenant.
func (s *Store) SaveExecution(ctx context.Context, e *storage.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[e.ID]; exists {
		return storage.ErrConflict
	}

	if s.maxSize > 0 && s.order.Len() >= s.maxSize {
		oldest := s.order.Back()
		s.order.Remove(oldest)
		delete(s.byID, oldest.Value.(*storage.Execution).ID)
	}

	rec := *e
	rec.TenantID = storage.GetTenant(ctx)
	s.byID[rec.ID] = s.order.PushFront(&rec)
	return nil
}

// ListExecutions returns up to limit records for the context tenant,
// newest first. A limit of 0 or less returns all matching records.
func (s *Store) ListExecutions(ctx context.Context, limit int) ([]*storage.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*storage.Execution
	for el := s.order.Front(); el != nil; el = el.Next() {
		rec := el.Value.(*storage.Execution)
		if !storage.Visible(ctx, rec.TenantID) {
			continue
		}
		cp := *rec
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// HealthCheck always returns nil for the in-memory store.
func (s *Store) HealthCheck(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}
