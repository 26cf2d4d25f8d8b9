// Package directory exposes the host platform's user and organization
// registry to the role engine. The engine never owns these records; it only
// resolves foreign identifiers against them.
package directory

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("directory: not found")

const (
	StateActive  = "active"
	StateDeleted = "deleted"
)

// User is a host-platform account.
type User struct {
	ID       string
	Name     string
	State    string
	Sysadmin bool
	Created  time.Time
}

// Organization is a host-platform group that users belong to.
type Organization struct {
	ID      string
	Name    string
	State   string
	Created time.Time
}

// IsActive reports whether the user may authenticate and hold grants.
func (u User) IsActive() bool { return u.State == StateActive }

// Directory resolves identities managed by the host platform.
type Directory interface {
	GetUser(ctx context.Context, id string) (User, error)
	GetOrganization(ctx context.Context, id string) (Organization, error)
	OrganizationsForUser(ctx context.Context, userID string) ([]string, error)
}
