// Package session owns the authentication state of one client: who is signed
// in, under which role, and which permissions that role grants.
//
// A Session moves between anonymous and authenticated through Login,
// Register and Logout. Permissions are never stored independently of the
// role; they are derived from the rbac.Policy at the moment an identity is
// committed. Readers get immutable snapshots, either by calling Snapshot or
// by subscribing to session.changed events.
//
// Only one Login or Register may be in flight at a time. Logout cancels it
// and the pending call returns ErrCanceled without touching state.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/marcus-qen/rolegate/internal/audit"
	"github.com/marcus-qen/rolegate/internal/events"
	"github.com/marcus-qen/rolegate/internal/identity"
	"github.com/marcus-qen/rolegate/internal/metrics"
	"github.com/marcus-qen/rolegate/internal/rbac"
	"github.com/marcus-qen/rolegate/internal/telemetry"
)

// DefaultVerifyTimeout bounds a single login or register.
const DefaultVerifyTimeout = 10 * time.Second

const (
	opLogin    = "login"
	opRegister = "register"
)

var (
	// ErrInvalidCredentials is returned for an unknown email or a wrong
	// secret alike.
	ErrInvalidCredentials = identity.ErrInvalidCredentials
	// ErrAccountExists is returned when registering an email already in use.
	ErrAccountExists = identity.ErrAlreadyExists
	// ErrEmailRequired is returned by Register for a blank email.
	ErrEmailRequired = identity.ErrEmailRequired

	ErrSessionBusy = errors.New("session: login or register already in progress")
	ErrCanceled    = errors.New("session: attempt superseded by logout")
	ErrTimeout     = errors.New("session: identity verification timed out")
)

// Options configures a Session. Store is required; every other field has a
// usable zero value.
type Options struct {
	Store         identity.Store
	Policy        *rbac.Policy     // nil = rbac.DefaultPolicy()
	Bus           *events.Bus      // nil = private bus
	Audit         *audit.Log       // nil = private log of 1000 events
	Metrics       *metrics.Metrics // nil = no metrics
	Logger        *zap.Logger      // nil = no logging
	VerifyTimeout time.Duration    // <= 0 = DefaultVerifyTimeout
}

// Session is the authorization state machine. Safe for concurrent use.
type Session struct {
	store   identity.Store
	policy  *rbac.Policy
	bus     *events.Bus
	audit   *audit.Log
	metrics *metrics.Metrics
	logger  *zap.Logger
	timeout time.Duration

	mu         sync.Mutex
	current    Snapshot
	generation uint64
	pending    *attempt
}

// attempt is the single in-flight login or register.
type attempt struct {
	generation uint64
	operation  string
	email      string
	cancel     context.CancelCauseFunc
}

// New creates an anonymous session.
func New(opts Options) (*Session, error) {
	if opts.Store == nil {
		return nil, errors.New("session: identity store is required")
	}
	s := &Session{
		store:   opts.Store,
		policy:  opts.Policy,
		bus:     opts.Bus,
		audit:   opts.Audit,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		timeout: opts.VerifyTimeout,
	}
	if s.policy == nil {
		s.policy = rbac.DefaultPolicy()
	}
	if s.bus == nil {
		s.bus = events.NewBus(16)
	}
	if s.audit == nil {
		s.audit = audit.NewLog(1000)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.timeout <= 0 {
		s.timeout = DefaultVerifyTimeout
	}
	s.current = anonymous(0)
	s.metrics.SetAuthenticated(false)
	return s, nil
}

func anonymous(generation uint64) Snapshot {
	return Snapshot{
		Status:      StatusAnonymous,
		Permissions: []rbac.Permission{},
		Generation:  generation,
	}
}

// Login verifies email/secret against the identity store and, on success,
// replaces the current state with the verified identity. On any error the
// state is left as it was.
func (s *Session) Login(ctx context.Context, email, secret string) error {
	return s.run(ctx, opLogin, email, func(ctx context.Context) (*identity.Identity, error) {
		return s.store.Verify(ctx, email, secret)
	})
}

// Register creates a user-role identity and signs it in.
func (s *Session) Register(ctx context.Context, email, secret, displayName string) error {
	return s.run(ctx, opRegister, email, func(ctx context.Context) (*identity.Identity, error) {
		return s.store.Create(ctx, email, secret, displayName)
	})
}

// Logout returns the session to anonymous. It is idempotent and cancels any
// in-flight login or register.
func (s *Session) Logout() {
	s.mu.Lock()
	p := s.pending
	s.pending = nil
	s.generation++
	prev := s.current
	if prev.Authenticated() {
		s.current = anonymous(s.generation)
		s.metrics.SetAuthenticated(false)
		s.publishLocked("signed out")
	}
	s.mu.Unlock()

	if p != nil {
		p.cancel(ErrCanceled)
	}
	if !prev.Authenticated() {
		return
	}

	s.audit.Record(audit.Event{
		Type:    audit.EventLogout,
		Actor:   prev.Identity.Email,
		Summary: "signed out",
		Detail:  map[string]string{"role": string(prev.Identity.Role)},
	})
	s.logger.Info("signed out", zap.String("email", prev.Identity.Email))
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.clone()
}

// Identity returns the signed-in identity, if any.
func (s *Session) Identity() (identity.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current.Identity == nil {
		return identity.Identity{}, false
	}
	return *s.current.Identity, true
}

// CurrentPermissions returns the permissions of the current role in table
// order, or an empty list while anonymous.
func (s *Session) CurrentPermissions() []rbac.Permission {
	s.mu.Lock()
	defer s.mu.Unlock()
	perms := slices.Clone(s.current.Permissions)
	if perms == nil {
		perms = []rbac.Permission{}
	}
	return perms
}

// HasPermission is the authorization check every gated feature goes through.
func (s *Session) HasPermission(id rbac.PermissionID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Has(id)
}

// Busy reports whether a login or register is in flight.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

// Policy returns the role table the session derives permissions from.
func (s *Session) Policy() *rbac.Policy {
	return s.policy
}

// AuditLog returns the log the session records attempts to.
func (s *Session) AuditLog() *audit.Log {
	return s.audit
}

// Subscribe returns a channel of session.changed events.
func (s *Session) Subscribe(id string) <-chan events.Event {
	return s.bus.Subscribe(id)
}

// Unsubscribe stops delivery to id and closes its channel.
func (s *Session) Unsubscribe(id string) {
	s.bus.Unsubscribe(id)
}

type outcome struct {
	identity *identity.Identity
	err      error
}

func (s *Session) run(ctx context.Context, op, email string, call func(context.Context) (*identity.Identity, error)) error {
	s.mu.Lock()
	if s.pending != nil {
		s.mu.Unlock()
		s.metrics.RecordAttempt(op, metrics.ResultBusy, 0)
		s.logger.Debug("attempt rejected, session busy", zap.String("operation", op), zap.String("email", email))
		return ErrSessionBusy
	}
	gen := s.generation
	attemptCtx, cancel := context.WithCancelCause(ctx)
	p := &attempt{generation: gen, operation: op, email: email, cancel: cancel}
	s.pending = p
	s.mu.Unlock()
	defer cancel(nil)

	attemptCtx, stop := context.WithTimeoutCause(attemptCtx, s.timeout, ErrTimeout)
	defer stop()

	spanCtx, span := telemetry.StartSessionSpan(attemptCtx, op, gen)
	verifyCtx, verifySpan := telemetry.StartVerifySpan(spanCtx, op)

	// The store may ignore ctx; the attempt still ends on cancel or timeout
	// and a late result is dropped.
	start := time.Now()
	done := make(chan outcome, 1)
	go func() {
		id, err := call(verifyCtx)
		done <- outcome{identity: id, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-verifyCtx.Done():
		out.err = context.Cause(verifyCtx)
	}
	elapsed := time.Since(start)
	if out.err != nil && verifyCtx.Err() != nil {
		out.err = context.Cause(verifyCtx)
	}

	s.mu.Lock()
	if s.pending == p {
		s.pending = nil
	}
	if s.generation != gen {
		out.err = ErrCanceled
	}
	if out.err == nil && out.identity == nil {
		out.err = errors.New("identity store returned no identity")
	}
	if out.err == nil && !rbac.ValidRole(string(out.identity.Role)) {
		out.err = fmt.Errorf("identity %s has unknown role %q", out.identity.ID, out.identity.Role)
	}
	if out.err == nil {
		s.generation++
		id := *out.identity
		s.current = Snapshot{
			Status:      StatusAuthenticated,
			Identity:    &id,
			Permissions: s.policy.Permissions(id.Role),
			Generation:  s.generation,
		}
		s.metrics.SetAuthenticated(true)
		s.publishLocked("signed in as " + string(id.Role))
	}
	s.mu.Unlock()

	result, err := classify(op, out.err)
	var role string
	if err == nil {
		role = string(out.identity.Role)
	}
	s.metrics.RecordAttempt(op, result, elapsed)
	telemetry.EndVerifySpan(verifySpan, result)
	telemetry.EndSessionSpan(span, result, role)
	s.record(op, email, result, out.identity, err)
	return err
}

// classify maps a raw store or context error onto the session's error kinds
// and the metrics result label.
func classify(op string, err error) (string, error) {
	switch {
	case err == nil:
		return metrics.ResultSuccess, nil
	case errors.Is(err, ErrCanceled):
		return metrics.ResultCanceled, ErrCanceled
	case errors.Is(err, ErrTimeout):
		return metrics.ResultTimeout, ErrTimeout
	case errors.Is(err, identity.ErrInvalidCredentials):
		return metrics.ResultInvalidCredentials, ErrInvalidCredentials
	case errors.Is(err, identity.ErrAlreadyExists):
		return metrics.ResultAccountExists, ErrAccountExists
	case errors.Is(err, identity.ErrEmailRequired):
		return metrics.ResultInvalidInput, ErrEmailRequired
	default:
		return metrics.ResultError, fmt.Errorf("%s: %w", op, err)
	}
}

func (s *Session) record(op, email, result string, id *identity.Identity, err error) {
	evt := audit.Event{Actor: email, Detail: map[string]string{"result": result}}
	switch {
	case result == metrics.ResultCanceled:
		evt.Type = audit.EventCanceled
		evt.Summary = op + " canceled by logout"
	case err == nil && op == opLogin:
		evt.Type = audit.EventLoginSuccess
		evt.Summary = "signed in"
	case err == nil:
		evt.Type = audit.EventRegisterSuccess
		evt.Summary = "registered and signed in"
	case op == opLogin:
		evt.Type = audit.EventLoginFailed
		evt.Summary = "login failed"
	default:
		evt.Type = audit.EventRegisterFailed
		evt.Summary = "registration failed"
	}
	if err == nil {
		evt.Detail["role"] = string(id.Role)
		evt.Detail["identity_id"] = id.ID
	}
	s.audit.Record(evt)

	switch {
	case err == nil:
		s.logger.Info(evt.Summary,
			zap.String("operation", op),
			zap.String("email", email),
			zap.String("role", string(id.Role)),
		)
	case result == metrics.ResultError:
		s.logger.Error(evt.Summary, zap.String("operation", op), zap.String("email", email), zap.Error(err))
	default:
		s.logger.Warn(evt.Summary, zap.String("operation", op), zap.String("email", email), zap.String("result", result))
	}
}

func (s *Session) publishLocked(summary string) {
	var actor string
	if s.current.Identity != nil {
		actor = s.current.Identity.Email
	}
	s.bus.Publish(events.Event{
		Type:    events.SessionChanged,
		Actor:   actor,
		Summary: summary,
		Detail:  s.current.clone(),
	})
}
