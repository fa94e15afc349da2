// Package switcher applies a profile to the machine-global git identity and
// credential manager, and reports which profile is currently active.
package switcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/steveyegge/gitswitch/internal/apperr"
	"github.com/steveyegge/gitswitch/internal/gitcfg"
	"github.com/steveyegge/gitswitch/internal/profile"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
)

// Profiles is the part of the registry the switcher reads.
type Profiles interface {
	List() ([]profile.Profile, error)
	Get(id string) (*profile.Profile, error)
	Secret(id string) (string, error)
}

// Switcher rewrites git's global identity to match one profile.
type Switcher struct {
	profiles Profiles
	config   gitcfg.Config
	creds    gitcfg.Credentials
	endpoint gitcfg.Endpoint
	helper   string
	logger   *zap.Logger
}

// Option configures a Switcher.
type Option func(*Switcher)

// WithCredentialHelper makes Switch also set credential.helper to helper.
func WithCredentialHelper(helper string) Option {
	return func(s *Switcher) { s.helper = helper }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Switcher) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Switcher managing credentials for endpoint.
func New(profiles Profiles, config gitcfg.Config, creds gitcfg.Credentials, endpoint gitcfg.Endpoint, opts ...Option) *Switcher {
	s := &Switcher{
		profiles: profiles,
		config:   config,
		creds:    creds,
		endpoint: endpoint,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Current returns the profile matching the global git identity, or nil when
// none does. When several profiles match, the first in list order wins.
func (s *Switcher) Current(ctx context.Context) (*profile.Profile, error) {
	id, err := gitcfg.ReadIdentity(ctx, s.config)
	if err != nil {
		return nil, err
	}
	if id.Name == "" && id.Email == "" {
		return nil, nil
	}

	profiles, err := s.profiles.List()
	if err != nil {
		return nil, err
	}
	for i := range profiles {
		if s.matches(profiles[i], id) {
			return &profiles[i], nil
		}
	}
	return nil, nil
}

func (s *Switcher) matches(p profile.Profile, id gitcfg.Identity) bool {
	fold := cases.Fold()
	if fold.String(p.Email) != fold.String(id.Email) {
		return false
	}
	return id.Name == p.GitName() || id.Name == p.Username
}

// snapshot is the git state a switch may need to restore.
type snapshot struct {
	name, email, helper          string
	hasName, hasEmail, hasHelper bool
	cred                         *gitcfg.Credential
}

func (s *Switcher) capture(ctx context.Context) (*snapshot, error) {
	var snap snapshot
	var err error
	if snap.name, snap.hasName, err = s.config.GetGlobal(ctx, gitcfg.KeyUserName); err != nil {
		return nil, err
	}
	if snap.email, snap.hasEmail, err = s.config.GetGlobal(ctx, gitcfg.KeyUserEmail); err != nil {
		return nil, err
	}
	if s.helper != "" {
		if snap.helper, snap.hasHelper, err = s.config.GetGlobal(ctx, gitcfg.KeyCredentialHelper); err != nil {
			return nil, err
		}
	}
	cred, err := s.creds.Fill(ctx, s.endpoint)
	switch {
	case err == nil:
		snap.cred = cred
	case errors.Is(err, apperr.ErrNotFound):
	default:
		return nil, fmt.Errorf("%w: reading current credential for %s: %v", apperr.ErrConfigWrite, s.endpoint, err)
	}
	return &snap, nil
}

// applied reports whether snap already reflects p with token.
func (s *Switcher) applied(snap *snapshot, p *profile.Profile, token string) bool {
	if !snap.hasName || snap.name != p.GitName() {
		return false
	}
	if p.Email == "" {
		if snap.hasEmail {
			return false
		}
	} else if !snap.hasEmail || snap.email != p.Email {
		return false
	}
	if s.helper != "" && (!snap.hasHelper || snap.helper != s.helper) {
		return false
	}
	return snap.cred != nil && snap.cred.Username == p.Username && snap.cred.Password == token
}

// Switch makes the profile with the given id the active git identity. The
// identity and credential writes succeed or fail together: if the credential
// step fails the previous identity is restored. Switching to the profile
// that is already fully applied writes nothing.
func (s *Switcher) Switch(ctx context.Context, id string) (*profile.Profile, error) {
	p, err := s.profiles.Get(id)
	if err != nil {
		return nil, err
	}
	token, err := s.profiles.Secret(id)
	if err != nil {
		return nil, fmt.Errorf("reading secret for %s: %w", id, err)
	}

	snap, err := s.capture(ctx)
	if err != nil {
		return nil, err
	}
	if s.applied(snap, p, token) {
		s.logger.Debug("profile already active", zap.String("id", id))
		return p, nil
	}

	if err := s.writeIdentity(ctx, p); err != nil {
		return nil, s.rollback(ctx, snap, false, err)
	}
	if err := s.writeCredential(ctx, p, token); err != nil {
		return nil, s.rollback(ctx, snap, true, err)
	}

	s.logger.Info("switched profile", zap.String("id", id), zap.String("username", p.Username))
	return p, nil
}

func (s *Switcher) writeIdentity(ctx context.Context, p *profile.Profile) error {
	if err := s.config.SetGlobal(ctx, gitcfg.KeyUserName, p.GitName()); err != nil {
		return err
	}
	if p.Email == "" {
		return s.config.UnsetGlobal(ctx, gitcfg.KeyUserEmail)
	}
	return s.config.SetGlobal(ctx, gitcfg.KeyUserEmail, p.Email)
}

func (s *Switcher) writeCredential(ctx context.Context, p *profile.Profile, token string) error {
	if s.helper != "" {
		if err := s.config.SetGlobal(ctx, gitcfg.KeyCredentialHelper, s.helper); err != nil {
			return err
		}
	}
	if err := s.creds.Reject(ctx, gitcfg.Credential{Protocol: s.endpoint.Protocol, Host: s.endpoint.Host}); err != nil {
		return fmt.Errorf("%w: clearing credential for %s: %v", apperr.ErrConfigWrite, s.endpoint, err)
	}
	err := s.creds.Approve(ctx, gitcfg.Credential{
		Protocol: s.endpoint.Protocol,
		Host:     s.endpoint.Host,
		Username: p.Username,
		Password: token,
	})
	if err != nil && !errors.Is(err, apperr.ErrConfigWrite) {
		err = fmt.Errorf("%w: %v", apperr.ErrConfigWrite, err)
	}
	return err
}

// rollback restores snap after a failed switch and returns cause joined with
// any restore failures.
func (s *Switcher) rollback(ctx context.Context, snap *snapshot, credentials bool, cause error) error {
	errs := []error{cause}
	restore := func(key, value string, had bool) {
		var err error
		if had {
			err = s.config.SetGlobal(ctx, key, value)
		} else {
			err = s.config.UnsetGlobal(ctx, key)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("restoring %s: %w", key, err))
		}
	}

	restore(gitcfg.KeyUserName, snap.name, snap.hasName)
	restore(gitcfg.KeyUserEmail, snap.email, snap.hasEmail)
	if credentials {
		if s.helper != "" {
			restore(gitcfg.KeyCredentialHelper, snap.helper, snap.hasHelper)
		}
		if snap.cred != nil {
			if err := s.creds.Approve(ctx, *snap.cred); err != nil {
				errs = append(errs, fmt.Errorf("restoring credential for %s: %w", snap.cred.Username, err))
			}
		}
	}

	s.logger.Warn("switch failed, previous identity restored", zap.Error(cause), zap.Int("restore_failures", len(errs)-1))
	return errors.Join(errs...)
}

// Clear removes the global identity and the credential entry for the
// managed endpoint.
func (s *Switcher) Clear(ctx context.Context) error {
	keys := []string{gitcfg.KeyUserName, gitcfg.KeyUserEmail}
	if s.helper != "" {
		keys = append(keys, gitcfg.KeyCredentialHelper)
	}
	var errs []error
	for _, key := range keys {
		if err := s.config.UnsetGlobal(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.creds.Reject(ctx, gitcfg.Credential{Protocol: s.endpoint.Protocol, Host: s.endpoint.Host}); err != nil {
		errs = append(errs, fmt.Errorf("%w: clearing credential for %s: %v", apperr.ErrConfigWrite, s.endpoint, err))
	}
	if len(errs) == 0 {
		s.logger.Info("cleared git identity")
	}
	return errors.Join(errs...)
}

// Forget erases the credential entry for username without touching the
// identity.
func (s *Switcher) Forget(ctx context.Context, username string) error {
	if username == "" {
		return nil
	}
	err := s.creds.Reject(ctx, gitcfg.Credential{Protocol: s.endpoint.Protocol, Host: s.endpoint.Host, Username: username})
	if err != nil {
		return fmt.Errorf("%w: removing credential for %s: %v", apperr.ErrConfigWrite, username, err)
	}
	return nil
}
