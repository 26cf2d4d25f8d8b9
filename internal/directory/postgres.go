package directory

import (
	"context"
	"database/sql"
	"errors"
)

var _ Directory = (*PGDirectory)(nil)

// PGDirectory reads identities from the host platform's tables. The engine
// has read-only access; account lifecycle stays with the host.
type PGDirectory struct {
	db *sql.DB
}

func NewPGDirectory(db *sql.DB) *PGDirectory {
	return &PGDirectory{db: db}
}

func (d *PGDirectory) GetUser(ctx context.Context, id string) (User, error) {
	var u User
	err := d.db.QueryRowContext(ctx, `
		select id, name, state, sysadmin, created
		from users
		where id = $1 or name = $1
	`, id).Scan(&u.ID, &u.Name, &u.State, &u.Sysadmin, &u.Created)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	return u, nil
}

func (d *PGDirectory) GetOrganization(ctx context.Context, id string) (Organization, error) {
	var org Organization
	err := d.db.QueryRowContext(ctx, `
		select id, name, state, created
		from groups
		where (id = $1 or name = $1) and is_organization
	`, id).Scan(&org.ID, &org.Name, &org.State, &org.Created)
	if errors.Is(err, sql.ErrNoRows) {
		return Organization{}, ErrNotFound
	}
	if err != nil {
		return Organization{}, err
	}
	return org, nil
}

func (d *PGDirectory) OrganizationsForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `
		select g.id
		from groups g
		join member m on m.group_id = g.id
		where m.table_name = 'user'
		  and m.table_id = $1
		  and m.state = 'active'
		  and g.state = 'active'
		  and g.is_organization
		order by g.id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
