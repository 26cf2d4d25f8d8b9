package authkey

import (
	"context"
	"sync"
	"time"
)

var _ Store = (*InMemory)(nil)

// InMemory implements Store with in-process concurrency safety, mirroring
// the Postgres semantics for tests and local development.
type InMemory struct {
	mu     sync.Mutex
	byKey  map[string]*Authkey
	active map[string]string // user id -> active key
}

// NewInMemory creates an empty authkey store.
func NewInMemory() *InMemory {
	return &InMemory{
		byKey:  make(map[string]*Authkey),
		active: make(map[string]string),
	}
}

func (s *InMemory) GetOrCreate(ctx context.Context, candidate Authkey) (Authkey, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key, ok := s.active[candidate.UserID]; ok {
		return *s.byKey[key], false, nil
	}
	rec := candidate
	s.byKey[rec.Key] = &rec
	s.active[rec.UserID] = rec.Key
	return rec, true, nil
}

func (s *InMemory) Rotate(ctx context.Context, userID string, replacement Authkey, now time.Time) (Authkey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key, ok := s.active[userID]; ok {
		s.retire(s.byKey[key], now)
	}
	rec := replacement
	s.byKey[rec.Key] = &rec
	s.active[userID] = rec.Key
	return rec, nil
}

func (s *InMemory) FindActive(ctx context.Context, key string) (Authkey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byKey[key]
	if !ok || rec.State != StateActive {
		return Authkey{}, ErrNotFound
	}
	return *rec, nil
}

func (s *InMemory) TouchLastAccess(ctx context.Context, key string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byKey[key]
	if !ok || rec.State != StateActive {
		return ErrNotFound
	}
	t := now
	rec.LastAccess = &t
	return nil
}

func (s *InMemory) Deactivate(ctx context.Context, key string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byKey[key]
	if !ok || rec.State != StateActive {
		return ErrNotFound
	}
	s.retire(rec, now)
	return nil
}

func (s *InMemory) DeactivateByUser(ctx context.Context, userID string, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.active[userID]
	if !ok {
		return 0, nil
	}
	s.retire(s.byKey[key], now)
	return 1, nil
}

func (s *InMemory) retire(rec *Authkey, now time.Time) {
	rec.State = StateDeleted
	closed := now
	rec.Closed = &closed
	delete(s.active, rec.UserID)
}
