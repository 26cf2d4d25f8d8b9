package resolver

import "geogate.org/internal/directory"

// Policy decides who may view and manage grants and authkeys. Sysadmins may
// do anything; the self-service flag additionally lets a user view their
// own grants. Grant modification is sysadmin-only regardless of the flag.
// Authkeys are the user's own credential: viewing and rotating one's own
// key is always permitted, independent of the self-service flag.
type Policy struct {
	selfService bool
}

// NewPolicy constructs a Policy. selfService mirrors the
// user_view_roles configuration switch of the host plugin.
func NewPolicy(selfService bool) *Policy {
	return &Policy{selfService: selfService}
}

// CanViewGrants reports whether actor may see subject's grants.
func (p *Policy) CanViewGrants(actor directory.User, subjectID string) bool {
	if actor.Sysadmin {
		return true
	}
	return p.selfService && isSelf(actor, subjectID)
}

// CanModifyGrants reports whether actor may add or revoke grants.
func (p *Policy) CanModifyGrants(actor directory.User) bool {
	return actor.Sysadmin
}

// CanViewAuthkey reports whether actor may fetch the authkey of userID.
// An empty userID means "my own key" and is always allowed.
func (p *Policy) CanViewAuthkey(actor directory.User, userID string) bool {
	if actor.Sysadmin {
		return true
	}
	if userID == "" {
		return true
	}
	return isSelf(actor, userID)
}

// CanRotateAuthkey reports whether actor may rotate the authkey of userID.
// Rotation mutates, but only the subject's own credential: a user may
// always rotate their own key, everyone else's only as sysadmin.
func (p *Policy) CanRotateAuthkey(actor directory.User, userID string) bool {
	if actor.Sysadmin {
		return true
	}
	return isSelf(actor, userID)
}

func isSelf(actor directory.User, subjectID string) bool {
	return subjectID == actor.ID || subjectID == actor.Name
}
