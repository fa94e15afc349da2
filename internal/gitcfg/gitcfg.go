// Package gitcfg reads and writes the machine-global git identity and the
// credential-manager entries git uses for network operations.
package gitcfg

import (
	"context"
	"fmt"
	"strings"
)

// Well-known global keys.
const (
	KeyUserName         = "user.name"
	KeyUserEmail        = "user.email"
	KeyCredentialHelper = "credential.helper"
)

// Config is global (per-user) git configuration access.
type Config interface {
	// GetGlobal returns the value of key and whether it is set.
	GetGlobal(ctx context.Context, key string) (string, bool, error)

	// SetGlobal writes key=value, replacing any existing value.
	SetGlobal(ctx context.Context, key, value string) error

	// UnsetGlobal removes key. Removing an absent key is not an error.
	UnsetGlobal(ctx context.Context, key string) error
}

// Endpoint identifies a credential-manager scope.
type Endpoint struct {
	Protocol string
	Host     string
}

// String renders the endpoint as a URL prefix, e.g. https://github.com.
func (e Endpoint) String() string {
	return e.Protocol + "://" + e.Host
}

// Credential is one credential-manager entry.
type Credential struct {
	Protocol string
	Host     string
	Username string
	Password string
}

// Endpoint returns the scope the credential belongs to.
func (c Credential) Endpoint() Endpoint {
	return Endpoint{Protocol: c.Protocol, Host: c.Host}
}

// Credentials is access to git's credential manager.
type Credentials interface {
	// List enumerates the entries the credential manager reports for
	// endpoint. Helpers that cannot enumerate return at most one entry.
	List(ctx context.Context, endpoint Endpoint) ([]Credential, error)

	// Fill returns the entry git would use for endpoint, or an error
	// matching apperr.ErrNotFound.
	Fill(ctx context.Context, endpoint Endpoint) (*Credential, error)

	// Approve stores cred, replacing an existing entry for the same user.
	Approve(ctx context.Context, cred Credential) error

	// Reject erases entries for cred's endpoint. When cred.Username is set
	// only that user's entry is erased.
	Reject(ctx context.Context, cred Credential) error
}

// Identity is the global user.name/user.email pair.
type Identity struct {
	Name  string
	Email string
}

// ReadIdentity reads user.name and user.email from cfg.
func ReadIdentity(ctx context.Context, cfg Config) (Identity, error) {
	name, _, err := cfg.GetGlobal(ctx, KeyUserName)
	if err != nil {
		return Identity{}, err
	}
	email, _, err := cfg.GetGlobal(ctx, KeyUserEmail)
	if err != nil {
		return Identity{}, err
	}
	return Identity{Name: name, Email: email}, nil
}

// encodeCredential renders the git-credential wire format.
func encodeCredential(c Credential) string {
	var b strings.Builder
	if c.Protocol != "" {
		fmt.Fprintf(&b, "protocol=%s\n", c.Protocol)
	}
	if c.Host != "" {
		fmt.Fprintf(&b, "host=%s\n", c.Host)
	}
	if c.Username != "" {
		fmt.Fprintf(&b, "username=%s\n", c.Username)
	}
	if c.Password != "" {
		fmt.Fprintf(&b, "password=%s\n", c.Password)
	}
	b.WriteString("\n")
	return b.String()
}

// decodeCredential parses git-credential output, ignoring unknown attributes.
func decodeCredential(out string) Credential {
	var c Credential
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(strings.TrimRight(line, "\r"), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "protocol":
			c.Protocol = value
		case "host":
			c.Host = value
		case "username":
			c.Username = value
		case "password":
			c.Password = value
		}
	}
	return c
}

// splitKey breaks "section.sub.section.key" into its three parts.
func splitKey(key string) (section, subsection, name string, err error) {
	first := strings.Index(key, ".")
	last := strings.LastIndex(key, ".")
	if first <= 0 || last == len(key)-1 {
		return "", "", "", fmt.Errorf("invalid git config key %q", key)
	}
	section = key[:first]
	name = key[last+1:]
	if first != last {
		subsection = key[first+1 : last]
	}
	return section, subsection, name, nil
}
