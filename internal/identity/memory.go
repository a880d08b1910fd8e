package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/marcus-qen/rolegate/internal/rbac"
)

// MemoryStore is an in-process identity registry. It stands in for a remote
// identity provider and is safe for concurrent use.
type MemoryStore struct {
	records map[string]*Record // keyed by email
	ids     map[string]struct{}
	mu      sync.RWMutex
	cost    int
	decoy   *decoy
	logger  *zap.Logger
}

// NewMemoryStore creates an empty store. hashCost <= 0 selects bcrypt's default.
func NewMemoryStore(logger *zap.Logger, hashCost int) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	cost := normalizeCost(hashCost)
	return &MemoryStore{
		records: make(map[string]*Record),
		ids:     make(map[string]struct{}),
		cost:    cost,
		decoy:   &decoy{cost: cost},
		logger:  logger,
	}
}

// NewDemoStore creates a memory store holding the built-in demo accounts.
func NewDemoStore(logger *zap.Logger, hashCost int) (*MemoryStore, error) {
	s := NewMemoryStore(logger, hashCost)
	if err := SeedDemo(context.Background(), s); err != nil {
		return nil, fmt.Errorf("seed demo identities: %w", err)
	}
	return s, nil
}

// FindByEmail returns a copy of the stored record.
func (s *MemoryStore) FindByEmail(_ context.Context, email string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[email]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// Verify checks email/secret and returns the identity without its secret.
func (s *MemoryStore) Verify(ctx context.Context, email, secret string) (*Identity, error) {
	rec, err := s.FindByEmail(ctx, email)
	if err != nil {
		s.decoy.compare(secret)
		return nil, ErrInvalidCredentials
	}
	if !secretMatches(rec.SecretHash, secret) {
		return nil, ErrInvalidCredentials
	}
	id := rec.Identity
	return &id, nil
}

// Create registers a new user-role identity with a generated UUID.
func (s *MemoryStore) Create(ctx context.Context, email, secret, displayName string) (*Identity, error) {
	return s.CreateWithRole(ctx, uuid.NewString(), email, secret, displayName, rbac.RoleUser, DefaultAvatarURL)
}

// CreateWithRole registers an identity with explicit id, role and avatar.
// The uniqueness check and the insert happen under one lock.
func (s *MemoryStore) CreateWithRole(_ context.Context, id, email, secret, displayName string, role rbac.Role, avatarURL string) (*Identity, error) {
	if err := validateNew(email); err != nil {
		return nil, err
	}
	if !rbac.ValidRole(string(role)) {
		return nil, fmt.Errorf("invalid role %q", role)
	}
	if id == "" {
		id = uuid.NewString()
	}

	// Hash outside the lock; bcrypt is slow on purpose.
	hash, err := hashSecret(secret, s.cost)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[email]; exists {
		return nil, ErrAlreadyExists
	}
	if _, exists := s.ids[id]; exists {
		return nil, ErrAlreadyExists
	}

	rec := &Record{
		Identity: Identity{
			ID:          id,
			Email:       email,
			DisplayName: displayName,
			Role:        role,
			AvatarURL:   avatarURL,
		},
		SecretHash: hash,
		CreatedAt:  time.Now().UTC(),
	}
	s.insertLocked(rec)

	s.logger.Info("identity created",
		zap.String("id", id),
		zap.String("email", email),
		zap.String("role", string(role)),
	)

	out := rec.Identity
	return &out, nil
}

func (s *MemoryStore) insertLocked(rec *Record) {
	if _, dup := s.records[rec.Email]; dup {
		panic(fmt.Sprintf("identity: duplicate email %q reached insert", rec.Email))
	}
	s.records[rec.Email] = rec
	s.ids[rec.ID] = struct{}{}
}

// Count returns the number of registered identities.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
