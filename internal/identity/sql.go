package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/marcus-qen/rolegate/internal/rbac"
)

// Dialect selects the SQL backend behind a SQLStore.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

func (d Dialect) driverName() (string, error) {
	switch d {
	case DialectSQLite:
		return "sqlite", nil
	case DialectPostgres:
		return "pgx", nil
	case DialectMySQL:
		return "mysql", nil
	default:
		return "", fmt.Errorf("unsupported identity dialect %q", d)
	}
}

func (d Dialect) schema() string {
	collate := ""
	if d == DialectMySQL {
		// MySQL compares case-insensitively by default; emails must not.
		collate = " COLLATE utf8mb4_bin"
	}
	return `CREATE TABLE IF NOT EXISTS identities (
		id           VARCHAR(64) PRIMARY KEY,
		email        VARCHAR(255)` + collate + ` NOT NULL UNIQUE,
		display_name VARCHAR(255) NOT NULL,
		secret_hash  VARCHAR(255) NOT NULL,
		role         VARCHAR(32) NOT NULL CHECK (role IN ('admin', 'moderator', 'user')),
		avatar_url   VARCHAR(1024) NOT NULL,
		created_at   VARCHAR(64) NOT NULL
	)`
}

// rebind rewrites ? placeholders into the dialect's form.
func (d Dialect) rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SQLStore keeps identities in a SQL database.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	cost    int
	decoy   *decoy
	logger  *zap.Logger
}

// NewSQLiteStore opens (or creates) a SQLite-backed identity store.
func NewSQLiteStore(dbPath string, logger *zap.Logger, hashCost int) (*SQLStore, error) {
	return OpenSQLStore(DialectSQLite, dbPath, logger, hashCost)
}

// OpenSQLStore connects to dsn with the given dialect and migrates the schema.
func OpenSQLStore(dialect Dialect, dsn string, logger *zap.Logger, hashCost int) (*SQLStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	driver, err := dialect.driverName()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open identity db: %w", err)
	}

	if dialect == DialectSQLite {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("set WAL: %w", err)
		}
		if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set busy_timeout: %w", err)
		}
	}

	if _, err := db.Exec(dialect.schema()); err != nil {
		db.Close()
		return nil, fmt.Errorf("create identities table: %w", err)
	}

	cost := normalizeCost(hashCost)
	return &SQLStore{
		db:      db,
		dialect: dialect,
		cost:    cost,
		decoy:   &decoy{cost: cost},
		logger:  logger,
	}, nil
}

// FindByEmail fetches an identity record by exact email.
func (s *SQLStore) FindByEmail(ctx context.Context, email string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(
		`SELECT id, email, display_name, secret_hash, role, avatar_url, created_at FROM identities WHERE email = ?`), email)
	return scanRecord(row)
}

// Verify checks email/secret. Unknown emails and wrong secrets both yield
// ErrInvalidCredentials; database failures are returned as-is.
func (s *SQLStore) Verify(ctx context.Context, email, secret string) (*Identity, error) {
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
func (s *SQLStore) Create(ctx context.Context, email, secret, displayName string) (*Identity, error) {
	return s.CreateWithRole(ctx, uuid.NewString(), email, secret, displayName, rbac.RoleUser, DefaultAvatarURL)
}

// CreateWithRole inserts an identity. Uniqueness is enforced by the
// email UNIQUE constraint, so concurrent creates for one email cannot both win.
func (s *SQLStore) CreateWithRole(ctx context.Context, id, email, secret, displayName string, role rbac.Role, avatarURL string) (*Identity, error) {
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

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, s.dialect.rebind(`INSERT INTO identities (id, email, display_name, secret_hash, role, avatar_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		id, email, displayName, hash, string(role), avatarURL, now.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("create identity: %w", err)
	}

	s.logger.Info("identity created",
		zap.String("id", id),
		zap.String("email", email),
		zap.String("role", string(role)),
		zap.String("dialect", string(s.dialect)),
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
func (s *SQLStore) Count(ctx context.Context) int {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM identities`).Scan(&count); err != nil {
		return 0
	}
	return count
}

// Close closes the underlying DB.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*Record, error) {
	var (
		rec       Record
		role      string
		createdAt string
	)
	if err := s.Scan(&rec.ID, &rec.Email, &rec.DisplayName, &rec.SecretHash, &role, &rec.AvatarURL, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan identity: %w", err)
	}
	rec.Role = rbac.Role(role)

	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	rec.CreatedAt = t
	return &rec, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
