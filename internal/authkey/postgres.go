package authkey

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const pgErrUniqueViolation = "23505"

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL. The one-active-key-per-user
// invariant rides on a partial unique index over (user_id) where
// state = 'Active'; the insert below names it as its conflict target so two
// concurrent GetOrCreate calls cannot both insert.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) GetOrCreate(ctx context.Context, candidate Authkey) (Authkey, bool, error) {
	rec, err := scanAuthkey(s.db.QueryRowContext(ctx, `
		insert into geoserver_user_authkey (authkey, user_id, state, created)
		values ($1, $2, 'Active', $3)
		on conflict (user_id) where state = 'Active' do nothing
		returning authkey, user_id, state, created, last_access, closed
	`, candidate.Key, candidate.UserID, candidate.Created))
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Authkey{}, false, err
	}

	existing, err := s.findActiveByUser(ctx, candidate.UserID)
	if err != nil {
		return Authkey{}, false, err
	}
	return existing, false, nil
}

func (s *PGStore) Rotate(ctx context.Context, userID string, replacement Authkey, now time.Time) (Authkey, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Authkey{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		update geoserver_user_authkey
		set state = 'Deleted', closed = $2
		where user_id = $1 and state = 'Active'
	`, userID, now); err != nil {
		return Authkey{}, err
	}

	rec, err := scanAuthkey(tx.QueryRowContext(ctx, `
		insert into geoserver_user_authkey (authkey, user_id, state, created)
		values ($1, $2, 'Active', $3)
		returning authkey, user_id, state, created, last_access, closed
	`, replacement.Key, replacement.UserID, replacement.Created))
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return Authkey{}, ErrConflict
		}
		return Authkey{}, err
	}

	if err := tx.Commit(); err != nil {
		return Authkey{}, err
	}
	return rec, nil
}

func (s *PGStore) FindActive(ctx context.Context, key string) (Authkey, error) {
	rec, err := scanAuthkey(s.db.QueryRowContext(ctx, `
		select authkey, user_id, state, created, last_access, closed
		from geoserver_user_authkey
		where authkey = $1 and state = 'Active'
	`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return Authkey{}, ErrNotFound
	}
	return rec, err
}

func (s *PGStore) TouchLastAccess(ctx context.Context, key string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update geoserver_user_authkey
		set last_access = $2
		where authkey = $1 and state = 'Active'
	`, key, now)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) Deactivate(ctx context.Context, key string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update geoserver_user_authkey
		set state = 'Deleted', closed = $2
		where authkey = $1 and state = 'Active'
	`, key, now)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) DeactivateByUser(ctx context.Context, userID string, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		update geoserver_user_authkey
		set state = 'Deleted', closed = $2
		where user_id = $1 and state = 'Active'
	`, userID, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *PGStore) findActiveByUser(ctx context.Context, userID string) (Authkey, error) {
	rec, err := scanAuthkey(s.db.QueryRowContext(ctx, `
		select authkey, user_id, state, created, last_access, closed
		from geoserver_user_authkey
		where user_id = $1 and state = 'Active'
	`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return Authkey{}, ErrNotFound
	}
	return rec, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuthkey(row rowScanner) (Authkey, error) {
	var (
		rec        Authkey
		state      string
		lastAccess sql.NullTime
		closed     sql.NullTime
	)
	if err := row.Scan(&rec.Key, &rec.UserID, &state, &rec.Created, &lastAccess, &closed); err != nil {
		return Authkey{}, err
	}
	rec.State = State(state)
	if lastAccess.Valid {
		t := lastAccess.Time
		rec.LastAccess = &t
	}
	if closed.Valid {
		t := closed.Time
		rec.Closed = &t
	}
	return rec, nil
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
