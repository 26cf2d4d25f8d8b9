// Package authkey manages the opaque per-user credentials the GeoServer
// webservice authenticates with. At most one Active key exists per user;
// rotation soft-deletes the old key and mints a fresh one.
package authkey

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("authkey: not found")
	ErrInvalidInput = errors.New("authkey: invalid input")
	ErrConflict     = errors.New("authkey: resource conflict")
)

// State mirrors the grant lifecycle: records are soft-deleted, never
// removed on the request path.
type State string

const (
	StateActive  State = "Active"
	StateDeleted State = "Deleted"
)

// Authkey is an opaque credential owned by one user. Key is the primary
// handle; the value is a UUID so the resolver can recognize the credential
// shape without a store round trip.
type Authkey struct {
	Key        string
	UserID     string
	State      State
	Created    time.Time
	LastAccess *time.Time
	Closed     *time.Time
}

// IsActive reports whether the key may authenticate requests.
func (k Authkey) IsActive() bool { return k.State == StateActive }

// Store describes persistence for authkeys. The one-active-key-per-user
// invariant must be enforced by the store (partial unique index in
// Postgres), not by read-then-write application logic.
type Store interface {
	// GetOrCreate returns the user's Active key, inserting candidate when
	// none exists. The boolean reports whether candidate was persisted.
	// Concurrent calls for one user must converge on a single Active row.
	GetOrCreate(ctx context.Context, candidate Authkey) (Authkey, bool, error)

	// Rotate soft-deletes the user's Active key (if any) and persists
	// replacement, atomically where the backend allows.
	Rotate(ctx context.Context, userID string, replacement Authkey, now time.Time) (Authkey, error)

	// FindActive looks a key up by its primary handle; Deleted keys are
	// invisible here.
	FindActive(ctx context.Context, key string) (Authkey, error)

	// TouchLastAccess records a successful lookup.
	TouchLastAccess(ctx context.Context, key string, now time.Time) error

	// Deactivate soft-deletes one key by handle.
	Deactivate(ctx context.Context, key string, now time.Time) error

	// DeactivateByUser soft-deletes the user's Active key, reporting how
	// many rows changed.
	DeactivateByUser(ctx context.Context, userID string, now time.Time) (int64, error)
}
