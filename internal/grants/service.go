package grants

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"geogate.org/internal/directory"
	"geogate.org/internal/obs"
)

// RoleSource supplies the set of role names that may legally be granted.
// Implementations never fail; on upstream trouble they degrade to a cached
// or empty set, which makes Grant fail validation instead of crashing.
type RoleSource interface {
	AssignableRoles(ctx context.Context) []string
}

// Service provides grant lifecycle operations over one subject kind table
// per call. Role names are validated at creation time only; revoking a role
// that has since left the catalog still works.
type Service struct {
	store Store
	dir   directory.Directory
	roles RoleSource
	now   func() time.Time
}

// Option configures Service behavior.
type Option func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the grant engine.
func NewService(store Store, dir directory.Directory, roles RoleSource, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("grants: store is required")
	}
	if dir == nil {
		return nil, errors.New("grants: directory is required")
	}
	if roles == nil {
		return nil, errors.New("grants: role source is required")
	}
	svc := &Service{store: store, dir: dir, roles: roles, now: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Grant assigns a role to a subject. The subject may be addressed by
// directory id or name; rows are always keyed on the canonical id, so a
// grant made by name and one made by id hit the same record. Granting an
// already-Active pair is a no-op returning the existing record; granting a
// revoked pair reactivates the original row instead of creating a duplicate.
func (s *Service) Grant(ctx context.Context, kind SubjectKind, subjectID, role string) (Grant, error) {
	subjectID = strings.TrimSpace(subjectID)
	role = strings.TrimSpace(role)
	if subjectID == "" || role == "" {
		return Grant{}, fmt.Errorf("%w: subject_id and role are required", ErrInvalidInput)
	}
	canonical, err := s.resolveSubject(ctx, kind, subjectID)
	if err != nil {
		return Grant{}, err
	}
	if !containsRole(s.roles.AssignableRoles(ctx), role) {
		return Grant{}, fmt.Errorf("%w: role %s is not assignable", ErrInvalidInput, role)
	}

	grant, outcome, err := s.store.Upsert(ctx, kind, canonical, role, s.now().UTC())
	if err != nil {
		return Grant{}, err
	}
	obs.GrantTransition(string(kind), string(outcome))
	return grant, nil
}

// Revoke soft-deletes the Active grant for (subject, role). The subject is
// canonicalized the same way Grant does it.
func (s *Service) Revoke(ctx context.Context, kind SubjectKind, subjectID, role string) (Grant, error) {
	subjectID = strings.TrimSpace(subjectID)
	role = strings.TrimSpace(role)
	if subjectID == "" || role == "" {
		return Grant{}, fmt.Errorf("%w: subject_id and role are required", ErrInvalidInput)
	}
	canonical, err := s.resolveSubject(ctx, kind, subjectID)
	if err != nil {
		return Grant{}, err
	}
	grant, err := s.store.Deactivate(ctx, kind, canonical, role, s.now().UTC())
	if errors.Is(err, ErrNotFound) {
		return Grant{}, fmt.Errorf("%w: no active grant of %s for %s", ErrInvalidInput, role, subjectID)
	}
	if err != nil {
		return Grant{}, err
	}
	obs.GrantTransition(string(kind), "revoked")
	return grant, nil
}

// ListActive returns the Active grants for one subject, addressed by id or
// name.
func (s *Service) ListActive(ctx context.Context, kind SubjectKind, subjectID string) ([]Grant, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return nil, fmt.Errorf("%w: subject_id is required", ErrInvalidInput)
	}
	canonical, err := s.resolveSubject(ctx, kind, subjectID)
	if err != nil {
		return nil, err
	}
	return s.store.ListActive(ctx, kind, canonical)
}

// ListActiveForMany is the batched form used to resolve organization
// memberships in one round trip.
func (s *Service) ListActiveForMany(ctx context.Context, kind SubjectKind, subjectIDs []string) ([]Grant, error) {
	ids := make([]string, 0, len(subjectIDs))
	for _, id := range subjectIDs {
		id = strings.TrimSpace(id)
		if id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return s.store.ListActiveForMany(ctx, kind, ids)
}

// GetByID fetches a single grant record regardless of state.
func (s *Service) GetByID(ctx context.Context, kind SubjectKind, id string) (Grant, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Grant{}, fmt.Errorf("%w: id is required", ErrInvalidInput)
	}
	return s.store.GetByID(ctx, kind, id)
}

// PurgeDeleted physically removes Deleted rows. Administrative; callers must
// not run two sweeps of the same kind concurrently.
func (s *Service) PurgeDeleted(ctx context.Context, kind SubjectKind) (int64, error) {
	n, err := s.store.PurgeDeleted(ctx, kind)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		obs.GrantTransition(string(kind), "purged")
	}
	return n, nil
}

// resolveSubject validates the subject against the directory and returns
// its canonical id. The directory accepts id or name; everything stored or
// queried downstream must use the id.
func (s *Service) resolveSubject(ctx context.Context, kind SubjectKind, subjectID string) (string, error) {
	var (
		canonical string
		err       error
	)
	switch kind {
	case SubjectUser:
		var user directory.User
		user, err = s.dir.GetUser(ctx, subjectID)
		canonical = user.ID
	case SubjectOrganization:
		var org directory.Organization
		org, err = s.dir.GetOrganization(ctx, subjectID)
		canonical = org.ID
	default:
		return "", fmt.Errorf("%w: unsupported subject kind %s", ErrInvalidInput, kind)
	}
	if errors.Is(err, directory.ErrNotFound) {
		return "", fmt.Errorf("%w: unknown %s %s", ErrInvalidInput, kind, subjectID)
	}
	if err != nil {
		return "", err
	}
	return canonical, nil
}

func containsRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
