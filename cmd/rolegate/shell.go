package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"go.uber.org/zap"

	"github.com/marcus-qen/rolegate/internal/audit"
	"github.com/marcus-qen/rolegate/internal/config"
	"github.com/marcus-qen/rolegate/internal/rbac"
	"github.com/marcus-qen/rolegate/internal/session"
)

func handleShell(args []string) {
	configPath := ""
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config", "-c":
			if i+1 >= len(args) {
				fatal(fmt.Errorf("missing value for %s", args[i]))
			}
			configPath = args[i+1]
			i++
		default:
			fatal(fmt.Errorf("unknown flag: %s", args[i]))
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fatal(err)
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to start", zap.Error(err))
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	}()
	a.serveMetrics(ctx)

	go watchSession(ctx, a.session, logger.Named("events"))

	if err := runShell(ctx, a.session, os.Stdin, os.Stdout); err != nil {
		logger.Error("shell exited", zap.Error(err))
	}
}

// watchSession logs every committed transition until ctx ends.
func watchSession(ctx context.Context, sess *session.Session, logger *zap.Logger) {
	ch := sess.Subscribe("shell")
	defer sess.Unsubscribe("shell")
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			snap, ok := session.SnapshotFromEvent(evt)
			if !ok {
				continue
			}
			logger.Debug("session changed",
				zap.String("status", string(snap.Status)),
				zap.String("role", string(snap.Role())),
				zap.Uint64("generation", snap.Generation),
			)
		}
	}
}

// shell reads one command per line and applies it to the session.
type shell struct {
	sess *session.Session
	out  io.Writer
}

func runShell(ctx context.Context, sess *session.Session, in io.Reader, out io.Writer) error {
	sh := &shell{sess: sess, out: out}
	scanner := bufio.NewScanner(in)

	fmt.Fprintln(out, "rolegate shell. Type 'help' for commands.")
	sh.prompt()
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			sh.prompt()
			continue
		}
		if fields[0] == "quit" || fields[0] == "exit" {
			return nil
		}
		if err := sh.exec(ctx, fields[0], fields[1:]); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
		sh.prompt()
	}
	return scanner.Err()
}

func (sh *shell) prompt() {
	who := "anonymous"
	if id, ok := sh.sess.Identity(); ok {
		who = id.Email
	}
	fmt.Fprintf(sh.out, "%s> ", who)
}

func (sh *shell) exec(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "login":
		if len(args) != 2 {
			return errors.New("usage: login <email> <password>")
		}
		if err := sh.sess.Login(ctx, args[0], args[1]); err != nil {
			return describeError(err)
		}
		return sh.greet()
	case "register":
		if len(args) < 3 {
			return errors.New("usage: register <email> <password> <name...>")
		}
		if err := sh.sess.Register(ctx, args[0], args[1], strings.Join(args[2:], " ")); err != nil {
			return describeError(err)
		}
		return sh.greet()
	case "logout":
		sh.sess.Logout()
		fmt.Fprintln(sh.out, "Signed out.")
		return nil
	case "whoami", "me":
		return sh.whoami(len(args) > 0 && args[0] == "--json")
	case "perms", "permissions":
		return sh.perms()
	case "can":
		if len(args) != 1 {
			return errors.New("usage: can <permission>")
		}
		if !rbac.KnownPermission(args[0]) {
			return fmt.Errorf("unknown permission %q", args[0])
		}
		if sh.sess.HasPermission(rbac.PermissionID(args[0])) {
			fmt.Fprintln(sh.out, "yes")
		} else {
			fmt.Fprintln(sh.out, "no")
		}
		return nil
	case "audit":
		if len(args) == 1 && args[0] == "export" {
			return sh.exportAudit()
		}
		f := audit.Filter{Limit: 10}
		for _, arg := range args {
			if v, err := strconv.Atoi(arg); err == nil && v > 0 {
				f.Limit = v
				continue
			}
			if !slices.Contains(auditTypes, audit.EventType(arg)) {
				return fmt.Errorf("invalid audit argument %q", arg)
			}
			f.Type = audit.EventType(arg)
		}
		return sh.audit(f)
	case "help":
		sh.help()
		return nil
	default:
		return fmt.Errorf("unknown command %q (try 'help')", cmd)
	}
}

// describeError turns session errors into short user-facing messages.
func describeError(err error) error {
	switch {
	case errors.Is(err, session.ErrInvalidCredentials):
		return errors.New("invalid email or password")
	case errors.Is(err, session.ErrAccountExists):
		return errors.New("an account with this email already exists")
	case errors.Is(err, session.ErrEmailRequired):
		return errors.New("email must not be blank")
	case errors.Is(err, session.ErrSessionBusy):
		return errors.New("another sign-in is in progress")
	case errors.Is(err, session.ErrTimeout):
		return errors.New("identity service did not answer in time")
	case errors.Is(err, session.ErrCanceled):
		return errors.New("sign-in canceled")
	default:
		return err
	}
}

func (sh *shell) greet() error {
	id, ok := sh.sess.Identity()
	if !ok {
		return errors.New("not signed in")
	}
	fmt.Fprintf(sh.out, "Welcome, %s (%s).\n", id.DisplayName, id.Role)
	return nil
}

func (sh *shell) whoami(asJSON bool) error {
	snap := sh.sess.Snapshot()
	if asJSON {
		enc := json.NewEncoder(sh.out)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	if !snap.Authenticated() {
		fmt.Fprintln(sh.out, "Not signed in.")
		return nil
	}
	id := snap.Identity
	fmt.Fprintf(sh.out, "Name:   %s\n", fallback(id.DisplayName, "(none)"))
	fmt.Fprintf(sh.out, "Email:  %s\n", id.Email)
	fmt.Fprintf(sh.out, "ID:     %s\n", id.ID)
	fmt.Fprintf(sh.out, "Role:   %s\n", id.Role)
	fmt.Fprintf(sh.out, "Avatar: %s\n", fallback(id.AvatarURL, "(none)"))
	return nil
}

func (sh *shell) perms() error {
	perms := sh.sess.CurrentPermissions()
	if len(perms) == 0 {
		fmt.Fprintln(sh.out, "No permissions.")
		return nil
	}
	w := tabwriter.NewWriter(sh.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tDESCRIPTION")
	for _, p := range perms {
		_, _ = fmt.Fprintf(w, "%s\t%s\n", p.ID, p.Description)
	}
	return w.Flush()
}

func (sh *shell) audit(f audit.Filter) error {
	log := sh.sess.AuditLog()
	evts := log.Query(f)
	if len(evts) == 0 {
		fmt.Fprintln(sh.out, "No audit events.")
		return nil
	}
	w := tabwriter.NewWriter(sh.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TIME\tTYPE\tACTOR\tSUMMARY")
	for _, evt := range evts {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			evt.Timestamp.Format("15:04:05"), evt.Type, fallback(evt.Actor, "-"), evt.Summary)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "(%d of %d events)\n", len(evts), log.Count())
	return nil
}

// exportAudit writes the whole audit log, oldest first, as JSON.
func (sh *shell) exportAudit() error {
	data, err := json.MarshalIndent(sh.sess.AuditLog(), "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(sh.out, "%s\n", data)
	return err
}

func (sh *shell) help() {
	fmt.Fprintln(sh.out, `Commands:
  login <email> <password>             Sign in
  register <email> <password> <name>   Create an account and sign in
  logout                               Sign out
  whoami [--json]                      Show the current identity
  perms                                List current permissions
  can <permission>                     Check a single permission
  audit [n] [type]                     Show recent audit events, optionally of one type
  audit export                         Dump the whole audit log as JSON
  help                                 Show this help
  quit                                 Leave the shell`)
}

func fallback(v, d string) string {
	if v == "" {
		return d
	}
	return v
}

// auditTypes lists the event types the audit command filters on.
var auditTypes = []audit.EventType{
	audit.EventLoginSuccess,
	audit.EventLoginFailed,
	audit.EventRegisterSuccess,
	audit.EventRegisterFailed,
	audit.EventLogout,
	audit.EventCanceled,
}
