package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/steveyegge/gitswitch/internal/apperr"
	"github.com/steveyegge/gitswitch/internal/secret"
	"go.uber.org/zap"
)

// DefaultService is the secret-store service name profiles are filed under.
const DefaultService = "gitswitch"

// RegistryManager provides serialized profile registry operations. Metadata
// lives in a JSON file at path; secrets live only in the secret store.
type RegistryManager struct {
	mu      sync.Mutex
	path    string
	service string
	secrets secret.Store
	logger  *zap.Logger
	now     func() time.Time
}

// Option configures a RegistryManager.
type Option func(*RegistryManager)

// WithService sets the secret-store service name.
func WithService(service string) Option {
	return func(rm *RegistryManager) {
		if service != "" {
			rm.service = service
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(rm *RegistryManager) {
		if l != nil {
			rm.logger = l
		}
	}
}

// WithClock replaces time.Now for Added timestamps.
func WithClock(now func() time.Time) Option {
	return func(rm *RegistryManager) { rm.now = now }
}

// NewRegistryManager creates a RegistryManager for the registry file at path.
func NewRegistryManager(path string, secrets secret.Store, opts ...Option) *RegistryManager {
	rm := &RegistryManager{
		path:    path,
		service: DefaultService,
		secrets: secrets,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(rm)
	}
	return rm
}

// Path returns the registry file location.
func (rm *RegistryManager) Path() string {
	return rm.path
}

// Service returns the secret-store service name.
func (rm *RegistryManager) Service() string {
	return rm.service
}

// update runs fn with the registry loaded under both the process mutex and
// the file lock. The registry is saved when fn reports a change, even if fn
// also returns an error.
func (rm *RegistryManager) update(fn func(reg *Registry) (bool, error)) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(rm.path), 0o700); err != nil {
		return fmt.Errorf("%w: creating registry directory: %v", apperr.ErrConfigWrite, err)
	}
	lock := flock.New(rm.path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("%w: locking registry: %v", apperr.ErrConfigWrite, err)
	}
	defer func() { _ = lock.Unlock() }()

	reg, err := rm.loadLocked()
	if err != nil {
		return err
	}
	changed, fnErr := fn(reg)
	if changed {
		if err := rm.saveLocked(reg); err != nil {
			return errors.Join(fnErr, err)
		}
	}
	return fnErr
}

// Load reads the registry. A missing file yields an empty registry.
func (rm *RegistryManager) Load() (*Registry, error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	return rm.loadLocked()
}

// loadLocked reads the registry without acquiring the lock (caller must hold it).
func (rm *RegistryManager) loadLocked() (*Registry, error) {
	data, err := os.ReadFile(rm.path) //nolint:gosec // G304: path from trusted config
	if err != nil {
		if os.IsNotExist(err) {
			return &Registry{Version: CurrentRegistryVersion, Profiles: []Profile{}}, nil
		}
		return nil, fmt.Errorf("reading profile registry: %w", err)
	}

	var reg Registry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("parsing profile registry %s: %w", rm.path, err)
	}
	if reg.Version > CurrentRegistryVersion {
		return nil, fmt.Errorf("profile registry %s has version %d, newest supported is %d", rm.path, reg.Version, CurrentRegistryVersion)
	}
	if reg.Version == 0 {
		reg.Version = CurrentRegistryVersion
	}
	if reg.Profiles == nil {
		reg.Profiles = []Profile{}
	}
	return &reg, nil
}

// saveLocked writes the registry atomically without acquiring the lock
// (caller must hold it).
func (rm *RegistryManager) saveLocked(reg *Registry) error {
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding profile registry: %w", err)
	}

	dir := filepath.Dir(rm.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(rm.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: writing profile registry: %v", apperr.ErrConfigWrite, err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: writing profile registry: %v", apperr.ErrConfigWrite, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: writing profile registry: %v", apperr.ErrConfigWrite, err)
	}
	if err := os.Rename(tmpName, rm.path); err != nil {
		return fmt.Errorf("%w: replacing profile registry: %v", apperr.ErrConfigWrite, err)
	}
	return nil
}

// find returns the index of the live profile with id, or -1.
func find(reg *Registry, id string) int {
	for i := range reg.Profiles {
		if reg.Profiles[i].ID == id && !reg.Profiles[i].Deleting {
			return i
		}
	}
	return -1
}

// List returns all live profiles in insertion order.
func (rm *RegistryManager) List() ([]Profile, error) {
	reg, err := rm.Load()
	if err != nil {
		return nil, err
	}
	out := make([]Profile, 0, len(reg.Profiles))
	for _, p := range reg.Profiles {
		if !p.Deleting {
			out = append(out, p)
		}
	}
	return out, nil
}

// Get returns the profile with the given id.
func (rm *RegistryManager) Get(id string) (*Profile, error) {
	reg, err := rm.Load()
	if err != nil {
		return nil, err
	}
	i := find(reg, id)
	if i < 0 {
		return nil, fmt.Errorf("%w: profile %s", apperr.ErrNotFound, id)
	}
	p := reg.Profiles[i]
	return &p, nil
}

// Secret returns the stored token for the profile with the given id.
func (rm *RegistryManager) Secret(id string) (string, error) {
	p, err := rm.Get(id)
	if err != nil {
		return "", err
	}
	return rm.secrets.Get(p.CredentialRef.Service, p.CredentialRef.Account)
}

// Add registers a new profile holding secretValue. The id is derived from
// the candidate's login and must not already exist. The secret is stored
// before the metadata; if the metadata cannot be saved the secret is removed.
func (rm *RegistryManager) Add(c Candidate, secretValue string) (*Profile, error) {
	id := DeriveID(c.Login, c.Login, c.Email)
	if id == "" {
		return nil, fmt.Errorf("%w: profile has no login or email", apperr.ErrInvalidInput)
	}
	if secretValue == "" {
		return nil, fmt.Errorf("%w: profile %s has no secret", apperr.ErrInvalidInput, id)
	}

	var added Profile
	err := rm.update(func(reg *Registry) (bool, error) {
		if find(reg, id) >= 0 {
			return false, fmt.Errorf("%w: %s", apperr.ErrDuplicateProfile, id)
		}
		// A leftover tombstone shares the secret slot; the new secret replaces it.
		dropTombstone(reg, id)

		origin := c.Origin
		if origin == "" {
			origin = OriginOAuth
		}
		tag := c.Tag
		if tag == "" && origin == OriginImported {
			tag = DefaultTag
		}
		displayName := c.DisplayName
		if displayName == "" {
			displayName = c.Login
		}
		added = Profile{
			ID:            id,
			DisplayName:   displayName,
			Username:      c.Login,
			Email:         c.Email,
			Tag:           tag,
			AvatarURL:     c.AvatarURL,
			CredentialRef: CredentialRef{Service: rm.service, Account: id},
			Origin:        origin,
			Added:         rm.now().UTC(),
		}

		if err := rm.secrets.Set(added.CredentialRef.Service, added.CredentialRef.Account, secretValue); err != nil {
			return false, err
		}
		reg.Profiles = append(reg.Profiles, added)
		return true, nil
	})
	if err != nil {
		if added.ID != "" && !errors.Is(err, apperr.ErrSecretStore) {
			if delErr := rm.secrets.Delete(added.CredentialRef.Service, added.CredentialRef.Account); delErr != nil && !errors.Is(delErr, secret.ErrNotFound) {
				err = errors.Join(err, fmt.Errorf("removing secret for %s: %w", id, delErr))
			}
		}
		return nil, err
	}

	rm.logger.Info("profile added", zap.String("id", id), zap.String("origin", string(added.Origin)))
	return &added, nil
}

func dropTombstone(reg *Registry, id string) {
	kept := reg.Profiles[:0]
	for _, p := range reg.Profiles {
		if p.ID == id && p.Deleting {
			continue
		}
		kept = append(kept, p)
	}
	reg.Profiles = kept
}

// Edit changes the selected fields of the profile with the given id.
func (rm *RegistryManager) Edit(id string, f Fields) (*Profile, error) {
	var edited Profile
	err := rm.update(func(reg *Registry) (bool, error) {
		i := find(reg, id)
		if i < 0 {
			return false, fmt.Errorf("%w: profile %s", apperr.ErrNotFound, id)
		}
		p := &reg.Profiles[i]
		if f.DisplayName != nil {
			p.DisplayName = *f.DisplayName
		}
		if f.Email != nil {
			p.Email = *f.Email
		}
		if f.Tag != nil {
			p.Tag = *f.Tag
		}
		edited = *p
		return !f.Empty(), nil
	})
	if err != nil {
		return nil, err
	}
	return &edited, nil
}

// Reauthenticate replaces the stored secret of an existing profile and marks
// it as OAuth-backed. Empty metadata is filled from c; the id never changes.
func (rm *RegistryManager) Reauthenticate(id, secretValue string, c Candidate) (*Profile, error) {
	if secretValue == "" {
		return nil, fmt.Errorf("%w: profile %s has no secret", apperr.ErrInvalidInput, id)
	}
	var updated Profile
	err := rm.update(func(reg *Registry) (bool, error) {
		i := find(reg, id)
		if i < 0 {
			return false, fmt.Errorf("%w: profile %s", apperr.ErrNotFound, id)
		}
		p := &reg.Profiles[i]
		if err := rm.secrets.Set(p.CredentialRef.Service, p.CredentialRef.Account, secretValue); err != nil {
			return false, err
		}
		p.Origin = OriginOAuth
		if p.DisplayName == "" || p.DisplayName == p.Username {
			if c.DisplayName != "" {
				p.DisplayName = c.DisplayName
			}
		}
		if p.Email == "" {
			p.Email = c.Email
		}
		if p.Tag == DefaultTag && c.Tag != "" {
			p.Tag = c.Tag
		}
		if c.AvatarURL != "" {
			p.AvatarURL = c.AvatarURL
		}
		updated = *p
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	rm.logger.Info("profile reauthenticated", zap.String("id", id))
	return &updated, nil
}

// Delete removes the profile with the given id and its secret. The secret
// goes first: if the secret store refuses, the registry is left as it was
// and the profile stays listed.
func (rm *RegistryManager) Delete(id string) (*Profile, error) {
	var removed Profile
	err := rm.update(func(reg *Registry) (bool, error) {
		i := find(reg, id)
		if i < 0 {
			return false, fmt.Errorf("%w: profile %s", apperr.ErrNotFound, id)
		}
		removed = reg.Profiles[i]
		if err := rm.deleteSecret(removed); err != nil {
			return false, err
		}
		reg.Profiles = append(reg.Profiles[:i], reg.Profiles[i+1:]...)
		return true, nil
	})
	if err != nil {
		rm.logger.Warn("profile not deleted", zap.String("id", id), zap.Error(err))
		return nil, err
	}

	removed.Deleting = false
	rm.logger.Info("profile deleted", zap.String("id", id))
	return &removed, nil
}

func (rm *RegistryManager) deleteSecret(p Profile) error {
	err := rm.secrets.Delete(p.CredentialRef.Service, p.CredentialRef.Account)
	if err != nil && !errors.Is(err, secret.ErrNotFound) {
		return err
	}
	return nil
}
