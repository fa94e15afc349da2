// Package secret stores access tokens in the host OS secret manager.
package secret

import (
	"errors"
	"fmt"

	"github.com/steveyegge/gitswitch/internal/apperr"
	"github.com/zalando/go-keyring"
)

// ErrNotFound is returned when no secret exists for a (service, account) key.
// It matches apperr.ErrNotFound under errors.Is.
var ErrNotFound = fmt.Errorf("secret %w", apperr.ErrNotFound)

// Store is the capability the registry needs from secret storage.
type Store interface {
	Get(service, account string) (string, error)
	Set(service, account, secret string) error
	Delete(service, account string) error
}

// Keyring is a Store backed by the OS keychain (macOS Keychain, Secret
// Service on Linux, Windows Credential Manager).
type Keyring struct{}

// NewKeyring returns the OS-backed store.
func NewKeyring() *Keyring {
	return &Keyring{}
}

// Get returns the secret for service/account.
func (Keyring) Get(service, account string) (string, error) {
	v, err := keyring.Get(service, account)
	if err != nil {
		return "", classify("reading", service, account, err)
	}
	return v, nil
}

// Set stores secret under service/account, replacing any existing value.
func (Keyring) Set(service, account, secret string) error {
	if err := keyring.Set(service, account, secret); err != nil {
		return classify("writing", service, account, err)
	}
	return nil
}

// Delete removes the secret under service/account.
func (Keyring) Delete(service, account string) error {
	if err := keyring.Delete(service, account); err != nil {
		return classify("deleting", service, account, err)
	}
	return nil
}

func classify(op, service, account string, err error) error {
	if errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, service, account)
	}
	return fmt.Errorf("%w: %s %s/%s: %v", apperr.ErrSecretStore, op, service, account, err)
}
