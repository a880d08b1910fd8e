package session

import (
	"slices"

	"github.com/marcus-qen/rolegate/internal/events"
	"github.com/marcus-qen/rolegate/internal/identity"
	"github.com/marcus-qen/rolegate/internal/rbac"
)

// Status is the observable session state.
type Status string

const (
	StatusAnonymous     Status = "anonymous"
	StatusAuthenticated Status = "authenticated"
)

// Snapshot is an immutable copy of the session state. Identity is set iff
// Status is authenticated; Permissions is always derived from its role.
type Snapshot struct {
	Status      Status             `json:"status"`
	Identity    *identity.Identity `json:"identity,omitempty"`
	Permissions []rbac.Permission  `json:"permissions"`
	Generation  uint64             `json:"generation"`
}

// Authenticated reports whether the snapshot holds an identity.
func (s Snapshot) Authenticated() bool {
	return s.Status == StatusAuthenticated
}

// Has reports whether the snapshot grants id.
func (s Snapshot) Has(id rbac.PermissionID) bool {
	return slices.ContainsFunc(s.Permissions, func(p rbac.Permission) bool { return p.ID == id })
}

// Role returns the identity's role, or "" while anonymous.
func (s Snapshot) Role() rbac.Role {
	if s.Identity == nil {
		return ""
	}
	return s.Identity.Role
}

func (s Snapshot) clone() Snapshot {
	out := s
	if s.Identity != nil {
		id := *s.Identity
		out.Identity = &id
	}
	out.Permissions = slices.Clone(s.Permissions)
	if out.Permissions == nil {
		out.Permissions = []rbac.Permission{}
	}
	return out
}

// SnapshotFromEvent extracts the snapshot carried by a session.changed event.
func SnapshotFromEvent(evt events.Event) (Snapshot, bool) {
	if evt.Type != events.SessionChanged {
		return Snapshot{}, false
	}
	snap, ok := evt.Detail.(Snapshot)
	return snap, ok
}
