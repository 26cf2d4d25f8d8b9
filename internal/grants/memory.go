package grants

import (
	"context"
	"sync"
	"time"

	"geogate.org/internal/ids"
)

var _ Store = (*InMemory)(nil)

type pairKey struct {
	kind    SubjectKind
	subject string
	role    string
}

// InMemory implements Store with in-process concurrency safety. Used by
// service-level tests and local development; the Postgres store is the
// durable implementation.
type InMemory struct {
	mu     sync.Mutex
	byPair map[pairKey]*Grant
	byID   map[string]pairKey
}

// NewInMemory creates an empty grant store.
func NewInMemory() *InMemory {
	return &InMemory{
		byPair: make(map[pairKey]*Grant),
		byID:   make(map[string]pairKey),
	}
}

func (s *InMemory) Upsert(ctx context.Context, kind SubjectKind, subjectID, role string, now time.Time) (Grant, Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey{kind: kind, subject: subjectID, role: role}
	if g, ok := s.byPair[key]; ok {
		if g.State == StateActive {
			return *g, OutcomeUnchanged, nil
		}
		g.transition(StateActive, now)
		return *g, OutcomeReactivated, nil
	}

	g := &Grant{
		ID:           ids.New(),
		SubjectID:    subjectID,
		Role:         role,
		State:        StateActive,
		Created:      now,
		LastModified: now,
	}
	s.byPair[key] = g
	s.byID[g.ID] = key
	return *g, OutcomeCreated, nil
}

func (s *InMemory) Deactivate(ctx context.Context, kind SubjectKind, subjectID, role string, now time.Time) (Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey{kind: kind, subject: subjectID, role: role}
	g, ok := s.byPair[key]
	if !ok || g.State != StateActive {
		return Grant{}, ErrNotFound
	}
	g.transition(StateDeleted, now)
	return *g, nil
}

func (s *InMemory) ListActive(ctx context.Context, kind SubjectKind, subjectID string) ([]Grant, error) {
	return s.ListActiveForMany(ctx, kind, []string{subjectID})
}

func (s *InMemory) ListActiveForMany(ctx context.Context, kind SubjectKind, subjectIDs []string) ([]Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[string]struct{}, len(subjectIDs))
	for _, id := range subjectIDs {
		wanted[id] = struct{}{}
	}
	var out []Grant
	for key, g := range s.byPair {
		if key.kind != kind || g.State != StateActive {
			continue
		}
		if _, ok := wanted[key.subject]; !ok {
			continue
		}
		out = append(out, *g)
	}
	return out, nil
}

func (s *InMemory) GetByID(ctx context.Context, kind SubjectKind, id string) (Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.byID[id]
	if !ok || key.kind != kind {
		return Grant{}, ErrNotFound
	}
	return *s.byPair[key], nil
}

func (s *InMemory) PurgeDeleted(ctx context.Context, kind SubjectKind) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for key, g := range s.byPair {
		if key.kind != kind || g.State != StateDeleted {
			continue
		}
		delete(s.byPair, key)
		delete(s.byID, g.ID)
		n++
	}
	return n, nil
}
