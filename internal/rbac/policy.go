package rbac

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ErrInvalidPolicy is returned when a role table breaks the policy invariants.
var ErrInvalidPolicy = errors.New("invalid role policy")

var defaultGrants = map[Role][]PermissionID{
	RoleAdmin:     {PermRead, PermWrite, PermDelete, PermManageUsers, PermManageRoles},
	RoleModerator: {PermRead, PermWrite, PermManageContent},
	RoleUser:      {PermRead},
}

// Policy maps each role to an ordered list of permission ids. A Policy is
// immutable once built; every accessor returns a copy.
type Policy struct {
	grants map[Role][]PermissionID
}

// DefaultPolicy returns the built-in role table.
func DefaultPolicy() *Policy {
	p, err := NewPolicy(defaultGrants)
	if err != nil {
		panic(fmt.Sprintf("rbac: default policy: %v", err))
	}
	return p
}

// NewPolicy validates grants and returns a policy holding a private copy.
// Every role must be present and every role must include read.
func NewPolicy(grants map[Role][]PermissionID) (*Policy, error) {
	var errs []error
	for role := range grants {
		if !ValidRole(string(role)) {
			errs = append(errs, fmt.Errorf("%w: unknown role %q", ErrInvalidPolicy, role))
		}
	}

	copied := make(map[Role][]PermissionID, len(grants))
	for _, role := range Roles() {
		ids, ok := grants[role]
		if !ok {
			errs = append(errs, fmt.Errorf("%w: role %q has no entry", ErrInvalidPolicy, role))
			continue
		}
		seen := make(map[PermissionID]struct{}, len(ids))
		for _, id := range ids {
			if !KnownPermission(string(id)) {
				errs = append(errs, fmt.Errorf("%w: role %q grants unknown permission %q", ErrInvalidPolicy, role, id))
			}
			if _, dup := seen[id]; dup {
				errs = append(errs, fmt.Errorf("%w: role %q lists %q twice", ErrInvalidPolicy, role, id))
			}
			seen[id] = struct{}{}
		}
		if !slices.Contains(ids, PermRead) {
			errs = append(errs, fmt.Errorf("%w: role %q must grant %q", ErrInvalidPolicy, role, PermRead))
		}
		copied[role] = slices.Clone(ids)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return &Policy{grants: copied}, nil
}

// Grants returns the permission ids granted to role, in table order.
// Unknown roles get nothing.
func (p *Policy) Grants(role Role) []PermissionID {
	return slices.Clone(p.grants[role])
}

// Permissions returns the permission values granted to role, in table order.
func (p *Policy) Permissions(role Role) []Permission {
	ids := p.grants[role]
	perms := make([]Permission, 0, len(ids))
	for _, id := range ids {
		perms = append(perms, Describe(id))
	}
	return perms
}

// Allows reports whether role is granted id.
func (p *Policy) Allows(role Role, id PermissionID) bool {
	return slices.Contains(p.grants[role], id)
}

// ParsePolicy decodes a YAML role table of the form
//
//	admin: [read, write, delete, manage_users, manage_roles]
//	moderator: [read, write, manage_content]
//	user: [read]
func ParsePolicy(data []byte) (*Policy, error) {
	var raw map[string][]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}

	grants := make(map[Role][]PermissionID, len(raw))
	for role, ids := range raw {
		converted := make([]PermissionID, 0, len(ids))
		for _, id := range ids {
			converted = append(converted, PermissionID(id))
		}
		grants[Role(role)] = converted
	}
	return NewPolicy(grants)
}

// LoadPolicy reads and validates a YAML role table from disk.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	return ParsePolicy(data)
}

// MarshalYAML renders the policy back into its file form.
func (p *Policy) MarshalYAML() (any, error) {
	out := make(map[string][]string, len(p.grants))
	for role, ids := range p.grants {
		list := make([]string, 0, len(ids))
		for _, id := range ids {
			list = append(list, string(id))
		}
		out[string(role)] = list
	}
	return out, nil
}
