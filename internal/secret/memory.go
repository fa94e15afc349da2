package secret

import (
	"fmt"
	"sync"

	"github.com/steveyegge/gitswitch/internal/apperr"
)

// Memory is an in-process Store used by tests.
type Memory struct {
	mu      sync.Mutex
	secrets map[string]string

	// FailSet and FailDelete make the matching operation fail.
	FailSet    error
	FailDelete error
}

// NewMemory returns an empty in-process store.
func NewMemory() *Memory {
	return &Memory{secrets: make(map[string]string)}
}

func memoryKey(service, account string) string {
	return service + "\x00" + account
}

// Get implements Store.
func (m *Memory) Get(service, account string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.secrets[memoryKey(service, account)]
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", ErrNotFound, service, account)
	}
	return v, nil
}

// Set implements Store.
func (m *Memory) Set(service, account, secret string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSet != nil {
		return fmt.Errorf("%w: writing %s/%s: %v", apperr.ErrSecretStore, service, account, m.FailSet)
	}
	m.secrets[memoryKey(service, account)] = secret
	return nil
}

// Delete implements Store.
func (m *Memory) Delete(service, account string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailDelete != nil {
		return fmt.Errorf("%w: deleting %s/%s: %v", apperr.ErrSecretStore, service, account, m.FailDelete)
	}
	key := memoryKey(service, account)
	if _, ok := m.secrets[key]; !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, service, account)
	}
	delete(m.secrets, key)
	return nil
}

// Len returns the number of stored secrets.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.secrets)
}
