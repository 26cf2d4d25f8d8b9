package directory

import (
	"context"
	"sync"
)

var _ Directory = (*InMemory)(nil)

// InMemory implements Directory for tests and local development.
type InMemory struct {
	mu    sync.RWMutex
	users map[string]User
	orgs  map[string]Organization
	// membership: user id -> org ids
	members map[string][]string
}

func NewInMemory() *InMemory {
	return &InMemory{
		users:   make(map[string]User),
		orgs:    make(map[string]Organization),
		members: make(map[string][]string),
	}
}

// PutUser registers or replaces a user record.
func (d *InMemory) PutUser(u User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if u.State == "" {
		u.State = StateActive
	}
	d.users[u.ID] = u
}

// PutOrganization registers or replaces an organization record.
func (d *InMemory) PutOrganization(org Organization) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if org.State == "" {
		org.State = StateActive
	}
	d.orgs[org.ID] = org
}

// SetMembership records the organizations a user belongs to.
func (d *InMemory) SetMembership(userID string, orgIDs ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.members[userID] = append([]string(nil), orgIDs...)
}

func (d *InMemory) GetUser(ctx context.Context, id string) (User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if u, ok := d.users[id]; ok {
		return u, nil
	}
	for _, u := range d.users {
		if u.Name == id {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (d *InMemory) GetOrganization(ctx context.Context, id string) (Organization, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if org, ok := d.orgs[id]; ok {
		return org, nil
	}
	for _, org := range d.orgs {
		if org.Name == id {
			return org, nil
		}
	}
	return Organization{}, ErrNotFound
}

func (d *InMemory) OrganizationsForUser(ctx context.Context, userID string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.members[userID]...), nil
}
