// Package config provides configuration loading for rolegate.
// Configuration sources (in priority order): env vars > config file > defaults.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Identity store backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMySQL    = "mysql"
	BackendRedis    = "redis"
)

// Config holds all rolegate configuration.
type Config struct {
	// Data directory for the SQLite identity database (default "/var/lib/rolegate")
	DataDir string `json:"data_dir"`

	// Identity store: memory, sqlite, postgres, mysql or redis (default "memory")
	IdentityBackend string `json:"identity_backend"`
	// DSN for postgres/mysql, redis:// URL for redis. For sqlite it
	// overrides the path under DataDir.
	IdentityDSN string `json:"identity_dsn,omitempty"`

	// Optional YAML role table; the built-in policy is used when empty.
	PolicyFile string `json:"policy_file,omitempty"`

	// Upper bound on a single login or register (default 10s)
	VerifyTimeout Duration `json:"verify_timeout"`
	// Artificial identity store delay (default 1s, 0 disables)
	SimulatedLatency Duration `json:"simulated_latency"`

	// Log level (debug, info, warn, error)
	LogLevel string `json:"log_level"`

	// Audit ring buffer size, 0 = unbounded
	AuditMaxEvents int `json:"audit_max_events"`

	// Listen address for /metrics; disabled when empty
	MetricsAddr string `json:"metrics_addr,omitempty"`

	// OTLP gRPC collector endpoint; tracing disabled when empty
	OTLPEndpoint string `json:"otlp_endpoint,omitempty"`
}

// Duration is a time.Duration that reads and writes as a Go duration
// string ("10s"). Plain JSON numbers are taken as nanoseconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid duration %s", data)
	}
	*d = Duration(n)
	return nil
}

// Default returns configuration with sensible defaults.
func Default() Config {
	return Config{
		DataDir:          "/var/lib/rolegate",
		IdentityBackend:  BackendMemory,
		VerifyTimeout:    Duration(10 * time.Second),
		SimulatedLatency: Duration(time.Second),
		LogLevel:         "info",
		AuditMaxEvents:   1000,
	}
}

// Load reads configuration from a file, then overlays environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("ROLEGATE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("ROLEGATE_IDENTITY_BACKEND"); v != "" {
		cfg.IdentityBackend = v
	}
	if v := os.Getenv("ROLEGATE_IDENTITY_DSN"); v != "" {
		cfg.IdentityDSN = v
	}
	if v := os.Getenv("ROLEGATE_POLICY_FILE"); v != "" {
		cfg.PolicyFile = v
	}
	if v := os.Getenv("ROLEGATE_VERIFY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.VerifyTimeout = Duration(d)
		}
	}
	if v := os.Getenv("ROLEGATE_SIMULATED_LATENCY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SimulatedLatency = Duration(d)
		}
	}
	if v := os.Getenv("ROLEGATE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("ROLEGATE_AUDIT_MAX_EVENTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.AuditMaxEvents = n
		}
	}
	if v := os.Getenv("ROLEGATE_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("ROLEGATE_OTLP_ENDPOINT"); v != "" {
		cfg.OTLPEndpoint = v
	}

	return cfg, nil
}

// Save writes configuration to a file.
func (c Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0640)
}

// Validate reports settings that cannot produce a working session.
func (c Config) Validate() error {
	var errs []error
	switch c.IdentityBackend {
	case BackendMemory, BackendSQLite:
	case BackendPostgres, BackendMySQL, BackendRedis:
		if c.IdentityDSN == "" {
			errs = append(errs, fmt.Errorf("identity_dsn is required for backend %q", c.IdentityBackend))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown identity_backend %q", c.IdentityBackend))
	}
	if c.VerifyTimeout <= 0 {
		errs = append(errs, errors.New("verify_timeout must be positive"))
	}
	if c.SimulatedLatency < 0 {
		errs = append(errs, errors.New("simulated_latency must not be negative"))
	}
	if c.VerifyTimeout > 0 && c.SimulatedLatency >= c.VerifyTimeout {
		errs = append(errs, fmt.Errorf("simulated_latency %s must be below verify_timeout %s",
			c.SimulatedLatency.Std(), c.VerifyTimeout.Std()))
	}
	if c.AuditMaxEvents < 0 {
		errs = append(errs, errors.New("audit_max_events must not be negative"))
	}
	return errors.Join(errs...)
}

// SQLitePath returns the identity database path for the sqlite backend.
func (c Config) SQLitePath() string {
	if c.IdentityDSN != "" {
		return c.IdentityDSN
	}
	return filepath.Join(c.DataDir, "identities.db")
}

// HasMetrics returns true if the metrics endpoint is configured.
func (c Config) HasMetrics() bool {
	return c.MetricsAddr != ""
}
