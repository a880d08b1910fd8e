package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"

	"github.com/marcus-qen/rolegate/internal/config"
	"github.com/marcus-qen/rolegate/internal/rbac"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.SimulatedLatency = 0
	return cfg
}

func TestNewAppSQLiteBackend(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.IdentityBackend = config.BackendSQLite

	a, err := newApp(ctx, cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close(ctx)

	if _, err := os.Stat(filepath.Join(cfg.DataDir, "identities.db")); err != nil {
		t.Fatalf("sqlite database not created: %v", err)
	}
	if err := a.session.Login(ctx, "admin@example.com", "admin123"); err != nil {
		t.Fatalf("seeded admin should log in: %v", err)
	}
	if !a.session.HasPermission(rbac.PermManageRoles) {
		t.Fatal("admin should manage roles")
	}

	families, err := a.registry.Gather()
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() == "rolegate_auth_attempts_total" {
			found = true
		}
	}
	if !found {
		t.Fatal("session metrics should be registered on the app registry")
	}
}

func TestNewAppRedisBackend(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.IdentityBackend = config.BackendRedis
	cfg.IdentityDSN = "redis://" + mr.Addr()

	a, err := newApp(ctx, cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close(ctx)

	if err := a.session.Login(ctx, "mod@example.com", "mod123"); err != nil {
		t.Fatalf("seeded moderator should log in: %v", err)
	}
	if !mr.Exists("rolegate:identity:admin@example.com") {
		t.Fatal("demo admin should be seeded into redis")
	}
}

func TestNewAppWithPolicyFile(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.PolicyFile = filepath.Join(cfg.DataDir, "policy.yaml")
	if err := os.WriteFile(cfg.PolicyFile, []byte("admin: [read]\nmoderator: [read, write]\nuser: [read, write]\n"), 0644); err != nil {
		t.Fatal(err)
	}

	a, err := newApp(ctx, cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close(ctx)

	if err := a.session.Register(ctx, "new@example.com", "pw", "New User"); err != nil {
		t.Fatal(err)
	}
	if !a.session.HasPermission(rbac.PermWrite) {
		t.Fatal("policy file should grant user write")
	}
}

func TestNewAppRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.IdentityBackend = config.BackendPostgres

	_, err := newApp(context.Background(), cfg, zap.NewNop())
	if err == nil || !strings.Contains(err.Error(), "identity_dsn is required") {
		t.Fatalf("expected dsn error, got %v", err)
	}
}

func TestNewLogger(t *testing.T) {
	if _, err := newLogger("debug"); err != nil {
		t.Fatal(err)
	}
	if _, err := newLogger("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
