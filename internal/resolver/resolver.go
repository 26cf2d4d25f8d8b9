// Package resolver composes grants, authkeys and the host directory into
// the role set the GeoServer webservice asks about, and maps opaque
// credentials back to users.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"geogate.org/internal/apitoken"
	"geogate.org/internal/authkey"
	"geogate.org/internal/directory"
	"geogate.org/internal/grants"
)

var (
	ErrNotFound      = errors.New("resolver: not found")
	ErrInvalidInput  = errors.New("resolver: invalid input")
	ErrNotAuthorized = errors.New("resolver: not authorized")
)

// AuthkeyResolver maps an authkey to its owning user.
type AuthkeyResolver interface {
	Resolve(ctx context.Context, key string) (directory.User, error)
}

// TokenValidator maps a long-lived API token to a user. Opaque to this
// package; the host platform owns token issuance.
type TokenValidator interface {
	TokenToUser(ctx context.Context, token string) (directory.User, error)
}

// GrantLister is the slice of the grant engine the resolver needs.
type GrantLister interface {
	ListActive(ctx context.Context, kind grants.SubjectKind, subjectID string) ([]grants.Grant, error)
	ListActiveForMany(ctx context.Context, kind grants.SubjectKind, subjectIDs []string) ([]grants.Grant, error)
}

// RoleBundle is the three-way split of a user's effective roles. The groups
// are NOT deduplicated against each other; Flatten is the consumer contract
// for a flat unique set. Callers relying on the split (the management UI)
// see each group exactly as stored.
type RoleBundle struct {
	UserRoles         []string
	OrganizationRoles []string
	DefaultRoles      []string
}

// Flatten returns defaults, then user roles, then organization roles, with
// duplicates across groups removed.
func (b RoleBundle) Flatten() []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(b.DefaultRoles)+len(b.UserRoles)+len(b.OrganizationRoles))
	for _, group := range [][]string{b.DefaultRoles, b.UserRoles, b.OrganizationRoles} {
		for _, role := range group {
			if _, ok := seen[role]; ok {
				continue
			}
			seen[role] = struct{}{}
			out = append(out, role)
		}
	}
	return out
}

// Resolver computes effective roles and resolves credentials. It never
// enforces access policy; see Policy.
type Resolver struct {
	grants       GrantLister
	authkeys     AuthkeyResolver
	tokens       TokenValidator
	dir          directory.Directory
	defaultRoles []string
}

// New constructs a Resolver. defaultRoles are included for every identity.
func New(gr GrantLister, keys AuthkeyResolver, tokens TokenValidator, dir directory.Directory, defaultRoles []string) (*Resolver, error) {
	if gr == nil || keys == nil || dir == nil {
		return nil, errors.New("resolver: grants, authkeys and directory are required")
	}
	defaults := make([]string, 0, len(defaultRoles))
	for _, r := range defaultRoles {
		r = strings.TrimSpace(r)
		if r != "" {
			defaults = append(defaults, r)
		}
	}
	return &Resolver{grants: gr, authkeys: keys, tokens: tokens, dir: dir, defaultRoles: defaults}, nil
}

// ResolveIdentity maps a credential to a user. A UUID-shaped credential is
// treated as an authkey, anything else as a host API token. First match
// wins; a failed authkey lookup does not fall back to token validation.
func (r *Resolver) ResolveIdentity(ctx context.Context, credential string) (directory.User, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return directory.User{}, fmt.Errorf("%w: credential is required", ErrInvalidInput)
	}
	if _, err := uuid.Parse(credential); err == nil {
		user, err := r.authkeys.Resolve(ctx, credential)
		if errors.Is(err, authkey.ErrNotFound) {
			return directory.User{}, ErrNotFound
		}
		return user, err
	}
	if r.tokens == nil {
		return directory.User{}, ErrNotFound
	}
	user, err := r.tokens.TokenToUser(ctx, credential)
	if errors.Is(err, apitoken.ErrInvalidToken) {
		return directory.User{}, ErrNotFound
	}
	return user, err
}

// EffectiveRoles returns the user's role bundle: directly granted roles,
// the deduplicated union of roles granted to the user's organizations, and
// the static defaults.
func (r *Resolver) EffectiveRoles(ctx context.Context, userID string) (RoleBundle, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return RoleBundle{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}

	// The directory accepts id or name; grants and memberships are keyed on
	// the canonical id.
	user, err := r.dir.GetUser(ctx, userID)
	if errors.Is(err, directory.ErrNotFound) {
		return RoleBundle{}, fmt.Errorf("%w: unknown user %s", ErrNotFound, userID)
	}
	if err != nil {
		return RoleBundle{}, err
	}

	userGrants, err := r.grants.ListActive(ctx, grants.SubjectUser, user.ID)
	if err != nil {
		return RoleBundle{}, err
	}
	userRoles := make([]string, 0, len(userGrants))
	for _, g := range userGrants {
		userRoles = append(userRoles, g.Role)
	}

	orgIDs, err := r.dir.OrganizationsForUser(ctx, user.ID)
	if err != nil {
		return RoleBundle{}, err
	}
	var orgRoles []string
	if len(orgIDs) > 0 {
		orgGrants, err := r.grants.ListActiveForMany(ctx, grants.SubjectOrganization, orgIDs)
		if err != nil {
			return RoleBundle{}, err
		}
		seen := make(map[string]struct{}, len(orgGrants))
		for _, g := range orgGrants {
			if _, ok := seen[g.Role]; ok {
				continue
			}
			seen[g.Role] = struct{}{}
			orgRoles = append(orgRoles, g.Role)
		}
	}

	return RoleBundle{
		UserRoles:         userRoles,
		OrganizationRoles: orgRoles,
		DefaultRoles:      append([]string(nil), r.defaultRoles...),
	}, nil
}
