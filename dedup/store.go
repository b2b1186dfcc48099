package dedup

import (
	"context"
	"sync"
	"time"
)

// Store tracks processed message ids to guarantee at-most-once effective
// execution under redelivery. HasProcessed is consulted before every
// dispatch; Commit is called once the side effect is durable. Commit must be
// atomic with respect to concurrent commits of the same id; last-writer-wins
// is acceptable since the recorded value is idempotent.
type Store interface {
	HasProcessed(ctx context.Context, id string) (bool, error)
	Commit(ctx context.Context, id string, resultDigest string) error
}

// Record is one committed dedup entry. Never mutated after creation.
type Record struct {
	MessageID    string
	ProcessedAt  time.Time
	ResultDigest string
}

// MemoryStore is an in-process Store bounded by retention time and capacity.
type MemoryStore struct {
	mu        sync.Mutex
	records   map[string]Record
	retention time.Duration
	capacity  int
	now       func() time.Time
}

// MemoryOption configures the MemoryStore.
type MemoryOption func(*MemoryStore)

// WithRetention sets how long committed records are kept. Zero keeps records
// until the capacity cap evicts them.
func WithRetention(d time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		s.retention = d
	}
}

// WithCapacity caps the number of retained records. When the cap is reached
// the oldest records are evicted first.
func WithCapacity(n int) MemoryOption {
	return func(s *MemoryStore) {
		s.capacity = n
	}
}

// NewMemoryStore creates an in-memory dedup store.
func NewMemoryStore(options ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		records:   make(map[string]Record),
		retention: 24 * time.Hour,
		capacity:  100_000,
		now:       time.Now,
	}

	for _, opt := range options {
		opt(s)
	}

	return s
}

// HasProcessed implements Store. Expired records are evicted lazily.
func (s *MemoryStore) HasProcessed(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return false, nil
	}

	if s.retention > 0 && s.now().Sub(rec.ProcessedAt) > s.retention {
		delete(s.records, id)
		return false, nil
	}

	return true, nil
}

// Commit implements Store.
func (s *MemoryStore) Commit(ctx context.Context, id string, resultDigest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[id] = Record{
		MessageID:    id,
		ProcessedAt:  s.now().UTC(),
		ResultDigest: resultDigest,
	}

	if s.capacity > 0 && len(s.records) > s.capacity {
		s.evictOldestLocked(len(s.records) - s.capacity)
	}

	return nil
}

// Len returns the number of retained records.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// evictOldestLocked removes the n oldest records. Caller holds the lock.
func (s *MemoryStore) evictOldestLocked(n int) {
	for ; n > 0; n-- {
		oldestID := ""
		var oldestAt time.Time
		for id, rec := range s.records {
			if oldestID == "" || rec.ProcessedAt.Before(oldestAt) {
				oldestID = id
				oldestAt = rec.ProcessedAt
			}
		}
		if oldestID == "" {
			return
		}
		delete(s.records, oldestID)
	}
}
