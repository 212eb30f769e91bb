package queue

import (
	"context"
	"slices"
	"sync"
)

// MemStore keeps the waiting pool in process memory. Suitable for tests and
// single-instance deployments without redis.
type MemStore struct {
	mu      sync.Mutex
	entries []Entry
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{}
}

func (s *MemStore) List(ctx context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.entries), nil
}

func (s *MemStore) Add(ctx context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cur := range s.entries {
		if cur.UserID == e.UserID {
			return ErrAlreadyQueued
		}
	}
	s.entries = append(s.entries, e)
	return nil
}

func (s *MemStore) Remove(ctx context.Context, userID string) (bool, error) {
	_, ok, err := s.Take(ctx, userID)
	return ok, err
}

func (s *MemStore) Take(ctx context.Context, userID string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cur := range s.entries {
		if cur.UserID == userID {
			s.entries = slices.Delete(s.entries, i, i+1)
			return cur, true, nil
		}
	}
	return Entry{}, false, nil
}

func (s *MemStore) Len(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), nil
}
