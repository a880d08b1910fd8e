// Package rbac defines the closed role set, the permission catalogue and the
// fixed role to permission policy every authorization decision derives from.
package rbac

import "strings"

// Role classifies an identity's authority tier.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleUser      Role = "user"
)

// Roles returns every supported role in table order.
func Roles() []Role {
	return []Role{RoleAdmin, RoleModerator, RoleUser}
}

// ValidRole returns true when role is one of the supported roles.
func ValidRole(role string) bool {
	switch Role(role) {
	case RoleAdmin, RoleModerator, RoleUser:
		return true
	default:
		return false
	}
}

// PermissionID names an atomic capability grant.
type PermissionID string

const (
	PermRead          PermissionID = "read"
	PermWrite         PermissionID = "write"
	PermDelete        PermissionID = "delete"
	PermManageUsers   PermissionID = "manage_users"
	PermManageRoles   PermissionID = "manage_roles"
	PermManageContent PermissionID = "manage_content"
)

// KnownPermission returns true when id is part of the permission catalogue.
func KnownPermission(id string) bool {
	switch PermissionID(id) {
	case PermRead, PermWrite, PermDelete, PermManageUsers, PermManageRoles, PermManageContent:
		return true
	default:
		return false
	}
}

// Permission is a derived capability value. Two permissions with the same ID
// are interchangeable.
type Permission struct {
	ID          PermissionID `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
}

// Describe expands a permission id into its display value.
func Describe(id PermissionID) Permission {
	return Permission{
		ID:          id,
		Name:        string(id),
		Description: "Permission to " + strings.Replace(string(id), "_", " ", 1),
	}
}
