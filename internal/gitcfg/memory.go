package gitcfg

import (
	"context"
	"fmt"
	"sync"

	"github.com/steveyegge/gitswitch/internal/apperr"
)

// MemoryConfig is an in-process Config used by tests and dry runs.
type MemoryConfig struct {
	mu     sync.Mutex
	values map[string]string

	// Writes counts successful SetGlobal/UnsetGlobal calls that changed state.
	Writes int

	// FailSet makes SetGlobal for the named key fail with the given error.
	FailSet map[string]error
}

// NewMemoryConfig returns a MemoryConfig seeded with values.
func NewMemoryConfig(values map[string]string) *MemoryConfig {
	m := &MemoryConfig{values: make(map[string]string), FailSet: make(map[string]error)}
	for k, v := range values {
		m.values[k] = v
	}
	return m
}

// GetGlobal implements Config.
func (m *MemoryConfig) GetGlobal(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

// SetGlobal implements Config.
func (m *MemoryConfig) SetGlobal(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailSet[key]; err != nil {
		return fmt.Errorf("%w: setting %s: %v", apperr.ErrConfigWrite, key, err)
	}
	if old, ok := m.values[key]; !ok || old != value {
		m.Writes++
	}
	m.values[key] = value
	return nil
}

// UnsetGlobal implements Config.
func (m *MemoryConfig) UnsetGlobal(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.values[key]; ok {
		m.Writes++
	}
	delete(m.values, key)
	return nil
}

// Snapshot returns a copy of all values.
func (m *MemoryConfig) Snapshot() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}

// MemoryCredentials is an in-process credential manager.
type MemoryCredentials struct {
	mu      sync.Mutex
	entries []Credential

	// Writes counts Approve/Reject calls that changed state.
	Writes int

	// FailApprove makes Approve fail with the given error.
	FailApprove error

	// FailRead makes List and Fill fail with the given error.
	FailRead error
}

// NewMemoryCredentials returns a credential manager holding entries.
func NewMemoryCredentials(entries ...Credential) *MemoryCredentials {
	return &MemoryCredentials{entries: append([]Credential(nil), entries...)}
}

// List implements Credentials.
func (m *MemoryCredentials) List(_ context.Context, endpoint Endpoint) ([]Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailRead != nil {
		return nil, fmt.Errorf("listing credentials for %s: %w", endpoint, m.FailRead)
	}
	var out []Credential
	for _, c := range m.entries {
		if c.Endpoint() == endpoint {
			out = append(out, c)
		}
	}
	return out, nil
}

// Fill implements Credentials.
func (m *MemoryCredentials) Fill(ctx context.Context, endpoint Endpoint) (*Credential, error) {
	list, err := m.List(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("credential for %s: %w", endpoint, apperr.ErrNotFound)
	}
	c := list[0]
	return &c, nil
}

// Approve implements Credentials.
func (m *MemoryCredentials) Approve(_ context.Context, cred Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailApprove != nil {
		return fmt.Errorf("%w: storing credential: %v", apperr.ErrConfigWrite, m.FailApprove)
	}
	for i, c := range m.entries {
		if c.Endpoint() == cred.Endpoint() && c.Username == cred.Username {
			if c.Password != cred.Password {
				m.entries[i] = cred
				m.Writes++
			}
			return nil
		}
	}
	m.entries = append(m.entries, cred)
	m.Writes++
	return nil
}

// Reject implements Credentials.
func (m *MemoryCredentials) Reject(_ context.Context, cred Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.entries[:0]
	for _, c := range m.entries {
		if c.Endpoint() == cred.Endpoint() && (cred.Username == "" || c.Username == cred.Username) {
			m.Writes++
			continue
		}
		kept = append(kept, c)
	}
	m.entries = kept
	return nil
}
