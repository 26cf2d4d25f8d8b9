package grants

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"geogate.org/internal/ids"
)

const pgErrUniqueViolation = "23505"

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL. Each subject kind maps to its
// own table carrying a state-independent unique index on (subject, role);
// the upsert statements below rely on it to close the concurrent-grant race.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

type tableSpec struct {
	name       string
	subjectCol string
}

func tableFor(kind SubjectKind) (tableSpec, error) {
	switch kind {
	case SubjectUser:
		return tableSpec{name: "geoserver_user_role", subjectCol: "user_id"}, nil
	case SubjectOrganization:
		return tableSpec{name: "geoserver_org_role", subjectCol: "org_id"}, nil
	default:
		return tableSpec{}, fmt.Errorf("%w: unsupported subject kind %s", ErrInvalidInput, kind)
	}
}

func (s *PGStore) Upsert(ctx context.Context, kind SubjectKind, subjectID, role string, now time.Time) (Grant, Outcome, error) {
	spec, err := tableFor(kind)
	if err != nil {
		return Grant{}, "", err
	}

	// The where clause keeps the update from firing when the existing row is
	// already Active, so RETURNING distinguishes all three outcomes:
	// inserted, reactivated, or nothing (no-op, fetch existing below).
	query := fmt.Sprintf(`
		insert into %[1]s (id, %[2]s, role, state, created, last_modified)
		values ($1, $2, $3, 'Active', $4, $4)
		on conflict (%[2]s, role) do update
			set state = 'Active', last_modified = excluded.last_modified, closed = null
			where %[1]s.state = 'Deleted'
		returning id, %[2]s, role, state, created, last_modified, closed, (xmax = 0) as inserted
	`, spec.name, spec.subjectCol)

	for attempt := 0; attempt < 3; attempt++ {
		var (
			g        Grant
			state    string
			closed   sql.NullTime
			inserted bool
		)
		err = s.db.QueryRowContext(ctx, query, ids.New(), subjectID, role, now).
			Scan(&g.ID, &g.SubjectID, &g.Role, &state, &g.Created, &g.LastModified, &closed, &inserted)
		if errors.Is(err, sql.ErrNoRows) {
			// Pair already Active; the upsert was a no-op. The fetch filters
			// on Active: if a concurrent revoke landed between the two
			// statements the row is Deleted now, and the retried upsert
			// reactivates it instead of handing back a Deleted record.
			existing, ferr := s.findActivePair(ctx, spec, subjectID, role)
			if errors.Is(ferr, ErrNotFound) {
				continue
			}
			if ferr != nil {
				return Grant{}, "", ferr
			}
			return existing, OutcomeUnchanged, nil
		}
		if err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
				return Grant{}, "", ErrConflict
			}
			return Grant{}, "", err
		}
		g.State = State(state)
		if closed.Valid {
			t := closed.Time
			g.Closed = &t
		}
		if inserted {
			return g, OutcomeCreated, nil
		}
		return g, OutcomeReactivated, nil
	}
	return Grant{}, "", ErrConflict
}

func (s *PGStore) Deactivate(ctx context.Context, kind SubjectKind, subjectID, role string, now time.Time) (Grant, error) {
	spec, err := tableFor(kind)
	if err != nil {
		return Grant{}, err
	}
	query := fmt.Sprintf(`
		update %[1]s
		set state = 'Deleted', last_modified = $3, closed = $3
		where %[2]s = $1 and role = $2 and state = 'Active'
		returning id, %[2]s, role, state, created, last_modified, closed
	`, spec.name, spec.subjectCol)

	g, err := scanGrant(s.db.QueryRowContext(ctx, query, subjectID, role, now))
	if errors.Is(err, sql.ErrNoRows) {
		return Grant{}, ErrNotFound
	}
	return g, err
}

func (s *PGStore) ListActive(ctx context.Context, kind SubjectKind, subjectID string) ([]Grant, error) {
	return s.ListActiveForMany(ctx, kind, []string{subjectID})
}

func (s *PGStore) ListActiveForMany(ctx context.Context, kind SubjectKind, subjectIDs []string) ([]Grant, error) {
	spec, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	if len(subjectIDs) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(subjectIDs))
	args := make([]any, len(subjectIDs))
	for i, id := range subjectIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := fmt.Sprintf(`
		select id, %[2]s, role, state, created, last_modified, closed
		from %[1]s
		where %[2]s in (%[3]s) and state = 'Active'
		order by %[2]s, role
	`, spec.name, spec.subjectCol, strings.Join(placeholders, ", "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *PGStore) GetByID(ctx context.Context, kind SubjectKind, id string) (Grant, error) {
	spec, err := tableFor(kind)
	if err != nil {
		return Grant{}, err
	}
	query := fmt.Sprintf(`
		select id, %[2]s, role, state, created, last_modified, closed
		from %[1]s
		where id = $1
	`, spec.name, spec.subjectCol)

	g, err := scanGrant(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Grant{}, ErrNotFound
	}
	return g, err
}

func (s *PGStore) PurgeDeleted(ctx context.Context, kind SubjectKind) (int64, error) {
	spec, err := tableFor(kind)
	if err != nil {
		return 0, err
	}
	// Single statement: the state predicate is re-evaluated at delete time,
	// so a row reactivated after an operator decided to sweep is never lost.
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`delete from %s where state = 'Deleted'`, spec.name))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *PGStore) findActivePair(ctx context.Context, spec tableSpec, subjectID, role string) (Grant, error) {
	query := fmt.Sprintf(`
		select id, %[2]s, role, state, created, last_modified, closed
		from %[1]s
		where %[2]s = $1 and role = $2 and state = 'Active'
	`, spec.name, spec.subjectCol)

	g, err := scanGrant(s.db.QueryRowContext(ctx, query, subjectID, role))
	if errors.Is(err, sql.ErrNoRows) {
		return Grant{}, ErrNotFound
	}
	return g, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGrant(row rowScanner) (Grant, error) {
	var (
		g      Grant
		state  string
		closed sql.NullTime
	)
	if err := row.Scan(&g.ID, &g.SubjectID, &g.Role, &state, &g.Created, &g.LastModified, &closed); err != nil {
		return Grant{}, err
	}
	g.State = State(state)
	if closed.Valid {
		t := closed.Time
		g.Closed = &t
	}
	return g, nil
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
