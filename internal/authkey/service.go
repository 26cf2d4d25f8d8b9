package authkey

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"geogate.org/internal/directory"
	"geogate.org/internal/obs"
)

// Service enforces the authkey lifecycle. Provisioning is lazy: the first
// request for a user mints a key, later requests return it.
type Service struct {
	store  Store
	dir    directory.Directory
	now    func() time.Time
	newKey func() string
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

// WithKeyGenerator overrides key minting (useful for tests).
func WithKeyGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newKey = fn
		}
	}
}

// NewService constructs the authkey engine.
func NewService(store Store, dir directory.Directory, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("authkey: store is required")
	}
	if dir == nil {
		return nil, errors.New("authkey: directory is required")
	}
	svc := &Service{store: store, dir: dir, now: time.Now, newKey: uuid.NewString}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// GetOrCreate returns the user's Active authkey, minting one on first use.
func (s *Service) GetOrCreate(ctx context.Context, userID string) (Authkey, error) {
	user, err := s.resolveUser(ctx, userID)
	if err != nil {
		return Authkey{}, err
	}
	candidate := Authkey{
		Key:     s.newKey(),
		UserID:  user.ID,
		State:   StateActive,
		Created: s.now().UTC(),
	}
	key, _, err := s.store.GetOrCreate(ctx, candidate)
	return key, err
}

// Rotate retires the current Active key and mints a replacement. A crash
// between the two steps leaves the user with zero Active keys; the next
// GetOrCreate self-heals.
func (s *Service) Rotate(ctx context.Context, userID string) (Authkey, error) {
	user, err := s.resolveUser(ctx, userID)
	if err != nil {
		return Authkey{}, err
	}
	now := s.now().UTC()
	replacement := Authkey{
		Key:     s.newKey(),
		UserID:  user.ID,
		State:   StateActive,
		Created: now,
	}
	return s.store.Rotate(ctx, user.ID, replacement, now)
}

// Resolve maps an authkey back to its owning user. Deleted keys and keys of
// inactive users resolve to ErrNotFound; in the latter case the key is
// soft-deleted as cleanup.
func (s *Service) Resolve(ctx context.Context, key string) (directory.User, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return directory.User{}, fmt.Errorf("%w: authkey is required", ErrInvalidInput)
	}
	rec, err := s.store.FindActive(ctx, key)
	if errors.Is(err, ErrNotFound) {
		obs.AuthkeyResolution("not_found")
		return directory.User{}, ErrNotFound
	}
	if err != nil {
		return directory.User{}, err
	}

	now := s.now().UTC()
	user, err := s.dir.GetUser(ctx, rec.UserID)
	if errors.Is(err, directory.ErrNotFound) || (err == nil && !user.IsActive()) {
		// Owner is gone; retire the orphaned key.
		if derr := s.store.Deactivate(ctx, key, now); derr != nil {
			obs.Error("failed to retire orphaned authkey", derr, map[string]any{"user_id": rec.UserID})
		}
		obs.AuthkeyResolution("inactive_user")
		return directory.User{}, ErrNotFound
	}
	if err != nil {
		return directory.User{}, err
	}

	// Best effort: a failed touch must not fail the lookup.
	if terr := s.store.TouchLastAccess(ctx, key, now); terr != nil {
		obs.Error("failed to record authkey last_access", terr, map[string]any{"user_id": rec.UserID})
	}
	obs.AuthkeyResolution("ok")
	return user, nil
}

// OnUserDeleted soft-deletes the user's Active authkey. Called by the host
// platform's user-lifecycle hook.
func (s *Service) OnUserDeleted(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	_, err := s.store.DeactivateByUser(ctx, userID, s.now().UTC())
	return err
}

func (s *Service) resolveUser(ctx context.Context, userID string) (directory.User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return directory.User{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	user, err := s.dir.GetUser(ctx, userID)
	if errors.Is(err, directory.ErrNotFound) {
		return directory.User{}, ErrNotFound
	}
	if err != nil {
		return directory.User{}, err
	}
	if !user.IsActive() {
		return directory.User{}, ErrNotFound
	}
	return user, nil
}
