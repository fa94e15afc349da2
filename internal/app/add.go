package app

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/steveyegge/gitswitch/internal/apperr"
	"github.com/steveyegge/gitswitch/internal/deviceflow"
	"github.com/steveyegge/gitswitch/internal/logging"
	"github.com/steveyegge/gitswitch/internal/profile"
	"go.uber.org/zap"
)

// AddOptions tune BeginAdd.
type AddOptions struct {
	// Tag labels the new profile.
	Tag string

	// Email is used when the provider does not disclose one.
	Email string

	// Reauth replaces the token of an existing profile instead of failing
	// as a duplicate.
	Reauth bool
}

// AddSession is what the user needs to authorize a pending add.
type AddSession struct {
	ID                      string        `json:"id"`
	UserCode                string        `json:"user_code"`
	VerificationURI         string        `json:"verification_uri"`
	VerificationURIComplete string        `json:"verification_uri_complete,omitempty"`
	ExpiresAt               time.Time     `json:"expires_at"`
	Interval                time.Duration `json:"interval"`
}

// AddState is the progress of a pending add.
type AddState string

const (
	AddPending   AddState = "pending"
	AddCompleted AddState = "completed"
	AddFailed    AddState = "failed"
	AddCanceled  AddState = "canceled"
)

// AddStatus is returned by PollAdd, WaitAdd and CancelAdd.
type AddStatus struct {
	ID      string           `json:"id"`
	State   AddState         `json:"state"`
	Profile *profile.Profile `json:"profile,omitempty"`
	Warning string           `json:"warning,omitempty"`
}

type pendingAdd struct {
	id     string
	opts   AddOptions
	cancel context.CancelFunc
	done   chan struct{}

	// Guarded by App.mu; set once before done is closed.
	profile *profile.Profile
	warning string
	err     error
}

// BeginAdd starts a device-flow authorization in the background. Only one
// add may be outstanding; a second call fails until the first finishes.
func (a *App) BeginAdd(ctx context.Context, opts AddOptions) Result[*AddSession] {
	if opts.Email != "" {
		if _, err := mail.ParseAddress(opts.Email); err != nil {
			return failure[*AddSession](nil, fmt.Errorf("%w: email %q: %v", apperr.ErrInvalidInput, opts.Email, err))
		}
	}

	a.mu.Lock()
	if p := a.pending; p != nil && !closed(p.done) {
		a.mu.Unlock()
		return failure[*AddSession](nil, fmt.Errorf("%w: session %s is still waiting for authorization", apperr.ErrAuthenticationInProgress, p.id))
	}
	// Reserve the slot while the device code is requested. CancelAdd may
	// arrive before Begin returns, so the cancel func exists from the start.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	reserved := &pendingAdd{id: uuid.NewString(), opts: opts, cancel: cancel, done: make(chan struct{})}
	a.pending = reserved
	a.mu.Unlock()

	beginCtx, stopBegin := context.WithCancel(ctx)
	stop := context.AfterFunc(runCtx, stopBegin)
	session, err := a.auth.Begin(beginCtx, a.clientID)
	stop()
	stopBegin()
	if err == nil && runCtx.Err() != nil {
		err = fmt.Errorf("%w: canceled while requesting the device code", apperr.ErrCanceled)
	}
	if err != nil {
		cancel()
		a.mu.Lock()
		reserved.err = err
		close(reserved.done)
		a.pending = nil
		a.mu.Unlock()
		return failure[*AddSession](nil, err)
	}

	view := &AddSession{
		ID:                      reserved.id,
		UserCode:                session.UserCode,
		VerificationURI:         session.VerificationURI,
		VerificationURIComplete: session.VerificationURIComplete,
		ExpiresAt:               session.ExpiresAt,
		Interval:                session.Interval,
	}

	a.logger.Info("device authorization started", zap.String("session", reserved.id), zap.Time("expires_at", session.ExpiresAt))
	go a.runAdd(runCtx, reserved, session)

	return succeed(view, fmt.Sprintf("enter code %s at %s", session.UserCode, session.VerificationURI))
}

func closed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func (a *App) runAdd(ctx context.Context, p *pendingAdd, s *deviceflow.Session) {
	prof, warning, err := a.completeAdd(ctx, s, p.opts)

	a.mu.Lock()
	p.profile, p.warning, p.err = prof, warning, err
	p.cancel()
	close(p.done)
	a.mu.Unlock()

	if err != nil {
		a.logger.Info("device authorization ended", zap.String("session", p.id), zap.Error(err))
	}
}

// completeAdd waits for the token and commits the profile. Nothing is
// written before the token and identity are known, and once writing starts
// it is not interrupted by cancellation.
func (a *App) completeAdd(ctx context.Context, s *deviceflow.Session, opts AddOptions) (*profile.Profile, string, error) {
	token, err := a.auth.Await(ctx, s)
	if err != nil {
		return nil, "", err
	}
	a.logger.Debug("access token received", zap.String("token", logging.MaskToken(token.AccessToken)))
	identity, err := a.auth.Identify(ctx, token)
	if err != nil {
		return nil, "", err
	}
	if ctx.Err() != nil {
		return nil, "", fmt.Errorf("%w: canceled before saving", apperr.ErrCanceled)
	}
	commitCtx := context.WithoutCancel(ctx)

	candidate := profile.Candidate{
		Login:       identity.Login,
		DisplayName: identity.Name,
		Email:       identity.Email,
		Tag:         opts.Tag,
		AvatarURL:   identity.AvatarURL,
		Origin:      profile.OriginOAuth,
	}
	if opts.Email != "" {
		candidate.Email = opts.Email
	}

	var warnings []string
	var prof *profile.Profile
	id := profile.DeriveID(identity.Login, identity.Login, candidate.Email)
	if opts.Reauth {
		prof, err = a.registry.Reauthenticate(id, token.AccessToken, candidate)
		if errors.Is(err, apperr.ErrNotFound) {
			prof, err = a.registry.Add(candidate, token.AccessToken)
		} else if err == nil && a.isActive(commitCtx, prof.ID) {
			// Push the new token to the credential manager.
			if _, err := a.switcher.Switch(commitCtx, prof.ID); err != nil {
				warnings = append(warnings, fmt.Sprintf("new token saved but not applied: %v", err))
			}
		}
	} else {
		prof, err = a.registry.Add(candidate, token.AccessToken)
	}
	if err != nil {
		return nil, "", err
	}

	if prof.Email == "" {
		warnings = append(warnings, "the provider did not disclose an email address; set one with edit --email")
	}

	cur, err := a.switcher.Current(commitCtx)
	if err == nil && cur == nil {
		if _, err := a.switcher.Switch(commitCtx, prof.ID); err != nil {
			warnings = append(warnings, fmt.Sprintf("profile saved but not activated: %v", err))
		}
	}
	return prof, strings.Join(warnings, "; "), nil
}

// lookup returns the pending add with the given session id.
func (a *App) lookup(id string) (*pendingAdd, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pending == nil || a.pending.id != id {
		return nil, fmt.Errorf("%w: no pending add %s", apperr.ErrNotFound, id)
	}
	return a.pending, nil
}

func (a *App) status(p *pendingAdd) Result[AddStatus] {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := AddStatus{ID: p.id, State: AddPending}
	if !closed(p.done) {
		return succeed(st, "waiting for authorization")
	}
	switch {
	case p.err == nil:
		st.State = AddCompleted
		st.Profile = p.profile
		st.Warning = p.warning
		return succeed(st, fmt.Sprintf("added %s", p.profile.ID))
	case errors.Is(p.err, apperr.ErrCanceled):
		st.State = AddCanceled
	default:
		st.State = AddFailed
	}
	return failure(st, p.err)
}

// PollAdd reports the state of a pending add without blocking.
func (a *App) PollAdd(id string) Result[AddStatus] {
	p, err := a.lookup(id)
	if err != nil {
		return failure(AddStatus{ID: id}, err)
	}
	return a.status(p)
}

// WaitAdd blocks until the pending add finishes or ctx is done. A done ctx
// does not cancel the add; use CancelAdd for that.
func (a *App) WaitAdd(ctx context.Context, id string) Result[AddStatus] {
	p, err := a.lookup(id)
	if err != nil {
		return failure(AddStatus{ID: id}, err)
	}
	select {
	case <-p.done:
		return a.status(p)
	case <-ctx.Done():
		return failure(AddStatus{ID: id, State: AddPending}, fmt.Errorf("%w: stopped waiting: %v", apperr.ErrCanceled, ctx.Err()))
	}
}

// CancelAdd stops a pending add and waits for the background poll to exit.
// An add that already finished is reported as is.
func (a *App) CancelAdd(id string) Result[AddStatus] {
	p, err := a.lookup(id)
	if err != nil {
		return failure(AddStatus{ID: id}, err)
	}
	a.mu.Lock()
	cancel := p.cancel
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	<-p.done
	return a.status(p)
}
