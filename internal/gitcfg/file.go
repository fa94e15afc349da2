package gitcfg

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-git/go-git/v5/config"
	format "github.com/go-git/go-git/v5/plumbing/format/config"
	"github.com/steveyegge/gitswitch/internal/apperr"
)

// File edits a gitconfig file directly with go-git's config codec. It covers
// config keys only: credential entries still go through git credential, so
// switching still needs the git binary. Comments in the file are not
// preserved on write.
type File struct {
	mu   sync.Mutex
	path string
}

// NewFile returns a Config backed by the gitconfig file at path.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the file being edited.
func (f *File) Path() string {
	return f.path
}

// GlobalConfigPath resolves the file git treats as the global config:
// $GIT_CONFIG_GLOBAL, else the first existing global candidate, else
// ~/.gitconfig.
func GlobalConfigPath() (string, error) {
	if p := os.Getenv("GIT_CONFIG_GLOBAL"); p != "" {
		return p, nil
	}
	paths, err := config.Paths(config.GlobalScope)
	if err != nil {
		return "", fmt.Errorf("resolving global git config: %w", err)
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".gitconfig"), nil
}

func (f *File) load() (*format.Config, error) {
	cfg := format.New()
	data, err := os.ReadFile(f.path) //nolint:gosec // G304: path is the user's own gitconfig
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading %s: %w", f.path, err)
	}
	if err := format.NewDecoder(bytes.NewReader(data)).Decode(cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", f.path, err)
	}
	return cfg, nil
}

func (f *File) save(cfg *format.Config) error {
	var buf bytes.Buffer
	if err := format.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("%w: encoding %s: %v", apperr.ErrConfigWrite, f.path, err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("%w: creating directory: %v", apperr.ErrConfigWrite, err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil { //nolint:gosec // G306: gitconfig is not secret
		return fmt.Errorf("%w: writing %s: %v", apperr.ErrConfigWrite, tmp, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: replacing %s: %v", apperr.ErrConfigWrite, f.path, err)
	}
	return nil
}

// GetGlobal implements Config.
func (f *File) GetGlobal(_ context.Context, key string) (string, bool, error) {
	section, subsection, name, err := splitKey(key)
	if err != nil {
		return "", false, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	cfg, err := f.load()
	if err != nil {
		return "", false, err
	}
	if !cfg.HasSection(section) {
		return "", false, nil
	}
	s := cfg.Section(section)
	if subsection == "" {
		if !s.HasOption(name) {
			return "", false, nil
		}
		return s.Option(name), true, nil
	}
	if !s.HasSubsection(subsection) {
		return "", false, nil
	}
	ss := s.Subsection(subsection)
	if !ss.HasOption(name) {
		return "", false, nil
	}
	return ss.Option(name), true, nil
}

// SetGlobal implements Config.
func (f *File) SetGlobal(_ context.Context, key, value string) error {
	section, subsection, name, err := splitKey(key)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrConfigWrite, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	cfg, err := f.load()
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrConfigWrite, err)
	}
	cfg.SetOption(section, subsection, name, value)
	return f.save(cfg)
}

// UnsetGlobal implements Config.
func (f *File) UnsetGlobal(_ context.Context, key string) error {
	section, subsection, name, err := splitKey(key)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrConfigWrite, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	cfg, err := f.load()
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrConfigWrite, err)
	}
	if !cfg.HasSection(section) {
		return nil
	}
	s := cfg.Section(section)
	if subsection == "" {
		if !s.HasOption(name) {
			return nil
		}
		s.RemoveOption(name)
	} else {
		if !s.HasSubsection(subsection) {
			return nil
		}
		s.Subsection(subsection).RemoveOption(name)
	}
	return f.save(cfg)
}
