package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/marcus-qen/rolegate/internal/audit"
	"github.com/marcus-qen/rolegate/internal/config"
	"github.com/marcus-qen/rolegate/internal/events"
	"github.com/marcus-qen/rolegate/internal/identity"
	"github.com/marcus-qen/rolegate/internal/metrics"
	"github.com/marcus-qen/rolegate/internal/rbac"
	"github.com/marcus-qen/rolegate/internal/session"
	"github.com/marcus-qen/rolegate/internal/telemetry"
)

// app wires one session and everything around it.
type app struct {
	cfg      config.Config
	logger   *zap.Logger
	session  *session.Session
	registry *prometheus.Registry

	closers []func(context.Context) error
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	policy := rbac.DefaultPolicy()
	if cfg.PolicyFile != "" {
		p, err := rbac.LoadPolicy(cfg.PolicyFile)
		if err != nil {
			return nil, err
		}
		policy = p
		logger.Info("loaded role policy", zap.String("path", cfg.PolicyFile))
	}

	store, err := a.openStore(ctx)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	store = identity.WithLatency(store, cfg.SimulatedLatency.Std())

	shutdown, err := telemetry.InitTraceProvider(ctx, cfg.OTLPEndpoint, version)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	a.closers = append(a.closers, shutdown)

	a.session, err = session.New(session.Options{
		Store:         store,
		Policy:        policy,
		Bus:           events.NewBus(16),
		Audit:         audit.NewLog(cfg.AuditMaxEvents),
		Metrics:       metrics.New(a.registry),
		Logger:        logger.Named("session"),
		VerifyTimeout: cfg.VerifyTimeout.Std(),
	})
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	return a, nil
}

// openStore connects the configured identity backend and seeds the demo
// accounts into it.
func (a *app) openStore(ctx context.Context) (identity.Store, error) {
	logger := a.logger.Named("identity")

	var (
		store  seedableStore
		err    error
		target string
	)
	switch a.cfg.IdentityBackend {
	case config.BackendMemory:
		mem, err := identity.NewDemoStore(logger, 0)
		if err != nil {
			return nil, err
		}
		logger.Info("identity store ready", zap.String("backend", config.BackendMemory), zap.Int("identities", mem.Count()))
		return mem, nil
	case config.BackendSQLite:
		target = a.cfg.SQLitePath()
		if err := os.MkdirAll(filepath.Dir(target), 0750); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		store, err = identity.NewSQLiteStore(target, logger, 0)
	case config.BackendPostgres:
		target = "postgres"
		store, err = identity.OpenSQLStore(identity.DialectPostgres, a.cfg.IdentityDSN, logger, 0)
	case config.BackendMySQL:
		target = "mysql"
		store, err = identity.OpenSQLStore(identity.DialectMySQL, a.cfg.IdentityDSN, logger, 0)
	case config.BackendRedis:
		target = "redis"
		store, err = identity.NewRedisStore(ctx, a.cfg.IdentityDSN, logger, 0)
	default:
		return nil, fmt.Errorf("unknown identity backend %q", a.cfg.IdentityBackend)
	}
	if err != nil {
		return nil, fmt.Errorf("open identity store: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return store.Close() })

	if err := identity.SeedDemo(ctx, store); err != nil {
		return nil, fmt.Errorf("seed demo identities: %w", err)
	}
	logger.Info("identity store ready",
		zap.String("backend", a.cfg.IdentityBackend),
		zap.String("target", target),
		zap.Int("identities", store.Count(ctx)),
	)
	return store, nil
}

// seedableStore is a persistent backend: it takes demo seeds, counts its
// rows and holds a connection.
type seedableStore interface {
	identity.Store
	identity.Seeder
	Count(ctx context.Context) int
	Close() error
}

// serveMetrics exposes the registry on cfg.MetricsAddr until ctx ends.
func (a *app) serveMetrics(ctx context.Context) {
	if !a.cfg.HasMetrics() {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              a.cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("metrics endpoint listening", zap.String("addr", a.cfg.MetricsAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	a.closers = append(a.closers, srv.Shutdown)
}

// Close releases everything in reverse order of acquisition.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
