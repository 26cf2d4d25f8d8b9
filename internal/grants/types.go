package grants

import "time"

// State is the lifecycle state of a grant record. Records are never removed
// on the request path; revocation soft-deletes and a later grant of the same
// pair reactivates the same row.
type State string

const (
	StateActive  State = "Active"
	StateDeleted State = "Deleted"
)

// SubjectKind selects which subject table a grant lives in.
type SubjectKind string

const (
	SubjectUser         SubjectKind = "user"
	SubjectOrganization SubjectKind = "organization"
)

// Grant asserts that a role is assigned to a user or organization.
type Grant struct {
	ID           string
	SubjectID    string
	Role         string
	State        State
	Created      time.Time
	LastModified time.Time
	Closed       *time.Time
}

// IsActive reports whether the grant currently applies.
func (g Grant) IsActive() bool { return g.State == StateActive }

// transition is the single place grant state changes. Keeping it in one
// routine stops the LastModified/Closed invariants from drifting between
// store implementations.
func (g *Grant) transition(to State, now time.Time) {
	g.State = to
	g.LastModified = now
	switch to {
	case StateDeleted:
		closed := now
		g.Closed = &closed
	case StateActive:
		g.Closed = nil
	}
}

// Outcome describes what an upsert did to the underlying row.
type Outcome string

const (
	OutcomeCreated     Outcome = "created"
	OutcomeReactivated Outcome = "reactivated"
	OutcomeUnchanged   Outcome = "noop"
)
