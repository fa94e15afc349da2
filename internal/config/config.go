// Package config loads gitswitch settings from a TOML file with environment
// overrides.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/steveyegge/gitswitch/internal/deviceflow"
	"github.com/steveyegge/gitswitch/internal/gitcfg"
	"github.com/steveyegge/gitswitch/internal/profile"
)

// Environment variables consulted by Load.
const (
	EnvClientID = "GITSWITCH_CLIENT_ID"
	EnvConfig   = "GITSWITCH_CONFIG"
)

// Git backends.
const (
	BackendExec = "exec"
	BackendFile = "file"
)

// FileBackendWarning describes what the file backend does to the user's
// global gitconfig.
const FileBackendWarning = `git_backend = "file" rewrites the global gitconfig on every switch and drops its comments`

// Duration is a time.Duration written as a string such as "5s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config holds gitswitch settings.
type Config struct {
	// ClientID is the OAuth application used for the device flow.
	ClientID string `toml:"client_id"`

	// Host and Protocol select the credential-manager entries to manage.
	Host     string `toml:"host"`
	Protocol string `toml:"protocol"`

	// Scopes requested during the device flow.
	Scopes []string `toml:"scopes"`

	DeviceCodeURL string `toml:"device_code_url"`
	TokenURL      string `toml:"token_url"`
	UserAPIURL    string `toml:"user_api_url"`
	EmailsAPIURL  string `toml:"emails_api_url"`

	// RegistryPath is where profile metadata is kept.
	RegistryPath string `toml:"registry_path"`

	// KeyringService is the OS keychain service tokens are filed under.
	KeyringService string `toml:"keyring_service"`

	// CredentialHelper, when set, is written to credential.helper on switch.
	CredentialHelper string `toml:"credential_helper"`

	// GitBackend is "exec" (run git) or "file" (edit ~/.gitconfig directly).
	// Credential entries always go through git.
	GitBackend string `toml:"git_backend"`

	// MinPollInterval is the floor for the device-flow poll interval.
	MinPollInterval Duration `toml:"min_poll_interval"`
}

// Dir returns the gitswitch configuration directory.
func Dir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "gitswitch"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locating home directory: %w", err)
	}
	return filepath.Join(home, ".config", "gitswitch"), nil
}

// Path returns the configuration file location, honoring GITSWITCH_CONFIG.
func Path() (string, error) {
	if p := os.Getenv(EnvConfig); p != "" {
		return p, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// DefaultConfig returns a config with github.com defaults. The registry
// lives next to the config file at path.
func DefaultConfig(path string) *Config {
	ep := deviceflow.GitHubEndpoints()
	return &Config{
		Host:            "github.com",
		Protocol:        "https",
		Scopes:          []string{"repo", "read:user", "user:email"},
		DeviceCodeURL:   ep.DeviceAuthURL,
		TokenURL:        ep.TokenURL,
		UserAPIURL:      ep.UserURL,
		EmailsAPIURL:    ep.EmailsURL,
		RegistryPath:    filepath.Join(filepath.Dir(path), "profiles.json"),
		KeyringService:  profile.DefaultService,
		GitBackend:      BackendExec,
		MinPollInterval: Duration{deviceflow.DefaultMinInterval},
	}
}

// Load reads the config at path. A missing file is not an error: defaults
// are returned. GITSWITCH_CLIENT_ID overrides client_id.
func Load(path string) (*Config, error) {
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	if id := os.Getenv(EnvClientID); id != "" {
		cfg.ClientID = id
	}
	return cfg, nil
}

// LoadFile is Load without environment overrides, for rewriting the file.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig(path)

	data, err := os.ReadFile(path) //nolint:gosec // G304: user-selected config path
	switch {
	case err == nil:
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("parsing %s: unknown key %q", path, undecoded[0].String())
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks settings that would otherwise fail later and obscurely.
func (c *Config) Validate() error {
	switch c.GitBackend {
	case BackendExec, BackendFile:
	default:
		return fmt.Errorf("git_backend must be %q or %q, got %q", BackendExec, BackendFile, c.GitBackend)
	}
	switch c.Protocol {
	case "https", "http":
	default:
		return fmt.Errorf("protocol must be https or http, got %q", c.Protocol)
	}
	if c.Host == "" {
		return fmt.Errorf("host is empty")
	}
	if c.RegistryPath == "" {
		return fmt.Errorf("registry_path is empty")
	}
	if c.MinPollInterval.Duration < 0 {
		return fmt.Errorf("min_poll_interval is negative")
	}
	return nil
}

// Save writes cfg to path.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// Endpoints returns the device-flow endpoints.
func (c *Config) Endpoints() deviceflow.Endpoints {
	return deviceflow.Endpoints{
		DeviceAuthURL: c.DeviceCodeURL,
		TokenURL:      c.TokenURL,
		UserURL:       c.UserAPIURL,
		EmailsURL:     c.EmailsAPIURL,
	}
}

// GitEndpoint returns the credential-manager scope to manage.
func (c *Config) GitEndpoint() gitcfg.Endpoint {
	return gitcfg.Endpoint{Protocol: c.Protocol, Host: c.Host}
}
