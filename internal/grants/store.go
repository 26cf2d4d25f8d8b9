package grants

import (
	"context"
	"time"
)

// Store describes persistence operations required by the grant engine.
//
// Upsert is the idempotence contract: implementations must resolve the
// state-independent natural key (kind, subject, role) atomically so that two
// concurrent calls for the same pair cannot both insert. Read-then-write in
// application code is not enough; the Postgres store leans on a unique index.
type Store interface {
	// Upsert creates an Active grant, reactivates a Deleted one, or returns
	// the existing Active one untouched.
	Upsert(ctx context.Context, kind SubjectKind, subjectID, role string, now time.Time) (Grant, Outcome, error)

	// Deactivate transitions the Active (subject, role) grant to Deleted.
	// Returns ErrNotFound when no Active grant matches.
	Deactivate(ctx context.Context, kind SubjectKind, subjectID, role string, now time.Time) (Grant, error)

	ListActive(ctx context.Context, kind SubjectKind, subjectID string) ([]Grant, error)
	ListActiveForMany(ctx context.Context, kind SubjectKind, subjectIDs []string) ([]Grant, error)
	GetByID(ctx context.Context, kind SubjectKind, id string) (Grant, error)

	// PurgeDeleted physically removes Deleted rows and reports how many went.
	// The state predicate must be evaluated inside the delete itself so a row
	// reactivated mid-sweep survives.
	PurgeDeleted(ctx context.Context, kind SubjectKind) (int64, error)
}
