package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/marcus-qen/rolegate/internal/rbac"
)

const (
	redisKeyPrefix = "rolegate:identity:"
	redisIndexKey  = "rolegate:identities"
)

// redisRecord is the stored JSON form. Record hides its hash from JSON, so
// the stored form names it explicitly.
type redisRecord struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	SecretHash  string    `json:"secret_hash"`
	Role        rbac.Role `json:"role"`
	AvatarURL   string    `json:"avatar_url"`
	CreatedAt   time.Time `json:"created_at"`
}

// RedisStore keeps each identity as one JSON value keyed by email.
// Creation uses SETNX, so concurrent creates for one email cannot both win.
type RedisStore struct {
	client *redis.Client
	cost   int
	decoy  *decoy
	logger *zap.Logger
}

// NewRedisStore connects to a redis:// URL and checks the connection.
func NewRedisStore(ctx context.Context, url string, logger *zap.Logger, hashCost int) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisStoreFromClient(client, logger, hashCost), nil
}

// NewRedisStoreFromClient wraps an existing client. Close closes the client.
func NewRedisStoreFromClient(client *redis.Client, logger *zap.Logger, hashCost int) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	cost := normalizeCost(hashCost)
	return &RedisStore{
		client: client,
		cost:   cost,
		decoy:  &decoy{cost: cost},
		logger: logger,
	}
}

// FindByEmail fetches an identity record by exact email.
func (s *RedisStore) FindByEmail(ctx context.Context, email string) (*Record, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+email).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get identity: %w", err)
	}
	var stored redisRecord
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("decode identity: %w", err)
	}
	return &Record{
		Identity: Identity{
			ID:          stored.ID,
			Email:       stored.Email,
			DisplayName: stored.DisplayName,
			Role:        stored.Role,
			AvatarURL:   stored.AvatarURL,
		},
		SecretHash: stored.SecretHash,
		CreatedAt:  stored.CreatedAt,
	}, nil
}

// Verify checks email/secret. Unknown emails and wrong secrets both yield
// ErrInvalidCredentials; connection failures are returned as-is.
func (s *RedisStore) Verify(ctx context.Context, email, secret string) (*Identity, error) {
	rec, err := s.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.decoy.compare(secret)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !secretMatches(rec.SecretHash, secret) {
		return nil, ErrInvalidCredentials
	}
	id := rec.Identity
	return &id, nil
}

// Create registers a new user-role identity with a generated UUID.
func (s *RedisStore) Create(ctx context.Context, email, secret, displayName string) (*Identity, error) {
	return s.CreateWithRole(ctx, uuid.NewString(), email, secret, displayName, rbac.RoleUser, DefaultAvatarURL)
}

// CreateWithRole stores an identity unless the email is already taken.
func (s *RedisStore) CreateWithRole(ctx context.Context, id, email, secret, displayName string, role rbac.Role, avatarURL string) (*Identity, error) {
	if err := validateNew(email); err != nil {
		return nil, err
	}
	if !rbac.ValidRole(string(role)) {
		return nil, fmt.Errorf("invalid role %q", role)
	}
	if id == "" {
		id = uuid.NewString()
	}

	hash, err := hashSecret(secret, s.cost)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(redisRecord{
		ID:          id,
		Email:       email,
		DisplayName: displayName,
		SecretHash:  hash,
		Role:        role,
		AvatarURL:   avatarURL,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode identity: %w", err)
	}

	created, err := s.client.SetNX(ctx, redisKeyPrefix+email, data, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("create identity: %w", err)
	}
	if !created {
		return nil, ErrAlreadyExists
	}
	if err := s.client.SAdd(ctx, redisIndexKey, email).Err(); err != nil {
		s.logger.Warn("identity index update failed", zap.String("email", email), zap.Error(err))
	}

	s.logger.Info("identity created",
		zap.String("id", id),
		zap.String("email", email),
		zap.String("role", string(role)),
		zap.String("backend", "redis"),
	)

	return &Identity{
		ID:          id,
		Email:       email,
		DisplayName: displayName,
		Role:        role,
		AvatarURL:   avatarURL,
	}, nil
}

// Count returns the number of stored identities.
func (s *RedisStore) Count(ctx context.Context) int {
	n, err := s.client.SCard(ctx, redisIndexKey).Result()
	if err != nil {
		return 0
	}
	return int(n)
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
