// Package identity is the authoritative registry of known identities and the
// place credentials are checked. Store is the contract a real identity
// provider has to satisfy; MemoryStore and SQLStore implement it locally.
package identity

import (
	"context"
	"errors"
	"time"

	"github.com/marcus-qen/rolegate/internal/rbac"
)

var (
	ErrNotFound           = errors.New("identity not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAlreadyExists      = errors.New("identity already exists")
	ErrEmailRequired      = errors.New("email required")
)

// DefaultAvatarURL is assigned to identities created through registration.
const DefaultAvatarURL = "https://images.unsplash.com/photo-1535713875002-d1d0cf377fde?w=400&fit=crop"

// Identity is a verified user record. It never carries the secret.
type Identity struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	Role        rbac.Role `json:"role"`
	AvatarURL   string    `json:"avatar_url"`
}

// Record is an identity together with its stored secret hash.
type Record struct {
	Identity
	SecretHash string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store looks up, verifies and creates identities. Email matching is exact
// and case-sensitive.
type Store interface {
	// FindByEmail returns ErrNotFound when no identity uses email.
	FindByEmail(ctx context.Context, email string) (*Record, error)

	// Verify returns ErrInvalidCredentials both for unknown emails and for
	// secret mismatches.
	Verify(ctx context.Context, email, secret string) (*Identity, error)

	// Create registers a new identity with role user and the default avatar.
	// Returns ErrAlreadyExists when the email is taken and ErrEmailRequired
	// for a blank email. Secrets of any length are accepted.
	Create(ctx context.Context, email, secret, displayName string) (*Identity, error)
}

// Seeder inserts identities with an explicit id, role and avatar.
type Seeder interface {
	CreateWithRole(ctx context.Context, id, email, secret, displayName string, role rbac.Role, avatarURL string) (*Identity, error)
}

type demoAccount struct {
	id, email, secret, name string
	role                    rbac.Role
	avatar                  string
}

var demoAccounts = []demoAccount{
	{
		id:     "1",
		email:  "admin@example.com",
		secret: "admin123",
		name:   "Admin User",
		role:   rbac.RoleAdmin,
		avatar: "https://images.unsplash.com/photo-1472099645785-5658abf4ff4e?w=400&fit=crop",
	},
	{
		id:     "2",
		email:  "mod@example.com",
		secret: "mod123",
		name:   "Moderator User",
		role:   rbac.RoleModerator,
		avatar: "https://images.unsplash.com/photo-1494790108377-be9c29b29330?w=400&fit=crop",
	},
}

// SeedDemo inserts the built-in admin and moderator accounts. Accounts that
// already exist are left untouched, so seeding a persistent store twice is safe.
func SeedDemo(ctx context.Context, s Seeder) error {
	for _, acct := range demoAccounts {
		_, err := s.CreateWithRole(ctx, acct.id, acct.email, acct.secret, acct.name, acct.role, acct.avatar)
		if err != nil && !errors.Is(err, ErrAlreadyExists) {
			return err
		}
	}
	return nil
}
