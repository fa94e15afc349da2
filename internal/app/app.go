// Package app is the application facade: each exported method is one
// user-visible action and reports its outcome as a Result instead of an error.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"sort"
	"sync"

	"github.com/steveyegge/gitswitch/internal/apperr"
	"github.com/steveyegge/gitswitch/internal/deviceflow"
	"github.com/steveyegge/gitswitch/internal/gitcfg"
	"github.com/steveyegge/gitswitch/internal/profile"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// Result is the uniform outcome of a facade call.
type Result[T any] struct {
	OK      bool        `json:"ok"`
	Kind    apperr.Kind `json:"kind,omitempty"`
	Message string      `json:"message,omitempty"`
	Value   T           `json:"value"`
}

// Err returns the failure as an error, or nil when OK.
func (r Result[T]) Err() error {
	if r.OK {
		return nil
	}
	return fmt.Errorf("%s: %s", r.Kind, r.Message)
}

func succeed[T any](v T, msg string) Result[T] {
	return Result[T]{OK: true, Value: v, Message: msg}
}

func failure[T any](v T, err error) Result[T] {
	return Result[T]{Kind: apperr.KindOf(err), Message: err.Error(), Value: v}
}

// Authenticator runs the device flow.
type Authenticator interface {
	Begin(ctx context.Context, clientID string) (*deviceflow.Session, error)
	Await(ctx context.Context, s *deviceflow.Session) (*oauth2.Token, error)
	Identify(ctx context.Context, token *oauth2.Token) (*deviceflow.Identity, error)
}

// Registry is the profile catalogue.
type Registry interface {
	List() ([]profile.Profile, error)
	Get(id string) (*profile.Profile, error)
	Add(c profile.Candidate, secret string) (*profile.Profile, error)
	Edit(id string, f profile.Fields) (*profile.Profile, error)
	Reauthenticate(id, secret string, c profile.Candidate) (*profile.Profile, error)
	Delete(id string) (*profile.Profile, error)
	Reconcile(entries []gitcfg.Credential, identity gitcfg.Identity) (*profile.ReconcileReport, error)
}

// Switcher applies profiles to git.
type Switcher interface {
	Current(ctx context.Context) (*profile.Profile, error)
	Switch(ctx context.Context, id string) (*profile.Profile, error)
	Clear(ctx context.Context) error
	Forget(ctx context.Context, username string) error
}

// Deps are the collaborators an App orchestrates.
type Deps struct {
	ClientID    string
	Endpoint    gitcfg.Endpoint
	Auth        Authenticator
	Registry    Registry
	Switcher    Switcher
	Config      gitcfg.Config
	Credentials gitcfg.Credentials
	Logger      *zap.Logger
}

// App is the facade consumed by front ends.
type App struct {
	clientID string
	endpoint gitcfg.Endpoint
	auth     Authenticator
	registry Registry
	switcher Switcher
	config   gitcfg.Config
	creds    gitcfg.Credentials
	logger   *zap.Logger

	mu      sync.Mutex
	pending *pendingAdd
}

// New creates an App.
func New(d Deps) *App {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		clientID: d.ClientID,
		endpoint: d.Endpoint,
		auth:     d.Auth,
		registry: d.Registry,
		switcher: d.Switcher,
		config:   d.Config,
		creds:    d.Credentials,
		logger:   logger,
	}
}

// ReconcileSummary reports a reconciliation pass.
type ReconcileSummary struct {
	Imported []profile.Profile `json:"imported"`
	Repaired []string          `json:"repaired,omitempty"`
	Merged   []string          `json:"merged,omitempty"`
}

// Startup reconciles the registry with the credential manager. Front ends
// call it once before anything else.
func (a *App) Startup(ctx context.Context) Result[ReconcileSummary] {
	return a.Reconcile(ctx)
}

// Reconcile imports untracked credential-manager entries and repairs
// interrupted deletions.
func (a *App) Reconcile(ctx context.Context) Result[ReconcileSummary] {
	entries, err := a.creds.List(ctx, a.endpoint)
	if err != nil {
		return failure(ReconcileSummary{}, err)
	}
	identity, err := gitcfg.ReadIdentity(ctx, a.config)
	if err != nil {
		return failure(ReconcileSummary{}, err)
	}

	report, err := a.registry.Reconcile(entries, identity)
	summary := ReconcileSummary{}
	if report != nil {
		summary = ReconcileSummary{Imported: report.Imported, Repaired: report.Repaired, Merged: report.Merged}
		errs := []error{err}
		for _, p := range report.Removed {
			errs = append(errs, a.switcher.Forget(ctx, p.Username))
		}
		err = errors.Join(errs...)
	}
	if err != nil {
		return failure(summary, err)
	}
	a.logger.Debug("reconciled",
		zap.Int("imported", len(summary.Imported)),
		zap.Strings("repaired", summary.Repaired),
		zap.Strings("merged", summary.Merged))
	return succeed(summary, fmt.Sprintf("%d profile(s) imported", len(summary.Imported)))
}

// ListProfiles returns the tracked profiles in insertion order.
func (a *App) ListProfiles() Result[[]profile.Profile] {
	profiles, err := a.registry.List()
	if err != nil {
		return failure[[]profile.Profile](nil, err)
	}
	return succeed(profiles, "")
}

// CurrentProfile returns the active profile. Value is nil when none is.
func (a *App) CurrentProfile(ctx context.Context) Result[*profile.Profile] {
	p, err := a.switcher.Current(ctx)
	if err != nil {
		return failure[*profile.Profile](nil, err)
	}
	if p == nil {
		return succeed[*profile.Profile](nil, "no active profile")
	}
	return succeed(p, "")
}

// SwitchProfile makes the profile with the given id active.
func (a *App) SwitchProfile(ctx context.Context, id string) Result[*profile.Profile] {
	p, err := a.switcher.Switch(ctx, id)
	if err != nil {
		return failure[*profile.Profile](nil, err)
	}
	return succeed(p, fmt.Sprintf("switched to %s", p.ID))
}

// EditProfile changes a profile's display name, email or tag. Editing the
// active profile re-applies it so git reflects the new values.
func (a *App) EditProfile(ctx context.Context, id string, f profile.Fields) Result[*profile.Profile] {
	if f.Email != nil && *f.Email != "" {
		if _, err := mail.ParseAddress(*f.Email); err != nil {
			return failure[*profile.Profile](nil, fmt.Errorf("%w: email %q: %v", apperr.ErrInvalidInput, *f.Email, err))
		}
	}

	wasActive := a.isActive(ctx, id)
	p, err := a.registry.Edit(id, f)
	if err != nil {
		return failure[*profile.Profile](nil, err)
	}
	if wasActive {
		if _, err := a.switcher.Switch(ctx, id); err != nil {
			return failure(p, fmt.Errorf("profile updated but git identity not re-applied: %w", err))
		}
	}
	return succeed(p, fmt.Sprintf("updated %s", p.ID))
}

// DeleteProfile removes a profile, its secret and its credential entry.
// Deleting the active profile activates the first remaining profile by id,
// or clears the git identity when none remain.
func (a *App) DeleteProfile(ctx context.Context, id string) Result[*profile.Profile] {
	p, err := a.registry.Get(id)
	if err != nil {
		return failure[*profile.Profile](nil, err)
	}
	wasActive := a.isActive(ctx, id)

	// The credential entry goes before the record so a later Reconcile
	// cannot import the profile back.
	saved, err := a.entriesFor(ctx, p.Username)
	if err != nil {
		return failure[*profile.Profile](nil, err)
	}
	if err := a.switcher.Forget(ctx, p.Username); err != nil {
		return failure[*profile.Profile](nil, err)
	}
	removed, err := a.registry.Delete(id)
	if err != nil {
		return failure[*profile.Profile](nil, errors.Join(err, a.restoreEntries(ctx, saved)))
	}
	if !wasActive {
		return succeed(removed, fmt.Sprintf("deleted %s", removed.ID))
	}

	remaining, err := a.registry.List()
	if err != nil {
		return failure(removed, fmt.Errorf("profile deleted: %w", err))
	}
	if len(remaining) == 0 {
		if err := a.switcher.Clear(ctx); err != nil {
			return failure(removed, fmt.Errorf("profile deleted but git identity not cleared: %w", err))
		}
		return succeed(removed, fmt.Sprintf("deleted %s; no profiles remain, git identity cleared", removed.ID))
	}

	sort.Slice(remaining, func(i, j int) bool { return remaining[i].ID < remaining[j].ID })
	next := remaining[0].ID
	if _, err := a.switcher.Switch(ctx, next); err != nil {
		return failure(removed, fmt.Errorf("profile deleted but switching to %s failed: %w", next, err))
	}
	return succeed(removed, fmt.Sprintf("deleted %s; switched to %s", removed.ID, next))
}

// entriesFor returns the credential entries stored for username.
func (a *App) entriesFor(ctx context.Context, username string) ([]gitcfg.Credential, error) {
	entries, err := a.creds.List(ctx, a.endpoint)
	if err != nil {
		return nil, err
	}
	var out []gitcfg.Credential
	for _, c := range entries {
		if c.Username == username {
			out = append(out, c)
		}
	}
	return out, nil
}

func (a *App) restoreEntries(ctx context.Context, entries []gitcfg.Credential) error {
	var errs []error
	for _, c := range entries {
		if err := a.creds.Approve(ctx, c); err != nil {
			errs = append(errs, fmt.Errorf("restoring credential entry for %s: %w", c.Username, err))
		}
	}
	return errors.Join(errs...)
}

func (a *App) isActive(ctx context.Context, id string) bool {
	cur, err := a.switcher.Current(ctx)
	if err != nil {
		a.logger.Debug("reading active profile failed", zap.Error(err))
		return false
	}
	return cur != nil && cur.ID == id
}
