// Package apperr defines the error taxonomy shared by the profile manager.
//
// Components wrap these sentinels with fmt.Errorf("%w: ...") and callers
// classify failures with errors.Is or KindOf.
package apperr

import (
	"context"
	"errors"
)

var (
	// ErrDuplicateProfile indicates a profile with the derived id is already tracked.
	ErrDuplicateProfile = errors.New("profile already exists")

	// ErrNotFound indicates the requested profile, secret or entry does not exist.
	ErrNotFound = errors.New("not found")

	// ErrProviderUnreachable indicates the OAuth provider could not be contacted.
	ErrProviderUnreachable = errors.New("provider unreachable")

	// ErrInvalidClient indicates the provider rejected the client identifier.
	ErrInvalidClient = errors.New("invalid client")

	// ErrIdentityLookupFailed indicates the authenticated user could not be resolved.
	ErrIdentityLookupFailed = errors.New("identity lookup failed")

	// ErrAuthenticationInProgress indicates a device flow is already pending.
	ErrAuthenticationInProgress = errors.New("authentication already in progress")

	// ErrDenied indicates the user declined the authorization request.
	ErrDenied = errors.New("authorization denied")

	// ErrExpired indicates the device code expired before authorization.
	ErrExpired = errors.New("device code expired")

	// ErrSecretStore indicates the OS secret store failed.
	ErrSecretStore = errors.New("secret store error")

	// ErrConfigWrite indicates the git configuration could not be written.
	ErrConfigWrite = errors.New("git config write failed")

	// ErrCanceled indicates the caller abandoned the operation.
	ErrCanceled = errors.New("canceled")

	// ErrInvalidInput indicates a malformed request (empty id, bad field).
	ErrInvalidInput = errors.New("invalid input")
)

// Kind is the stable, presentation-friendly name of an error class.
type Kind string

const (
	KindNone                     Kind = ""
	KindDuplicateProfile         Kind = "DuplicateProfile"
	KindNotFound                 Kind = "NotFound"
	KindProviderUnreachable      Kind = "ProviderUnreachable"
	KindInvalidClient            Kind = "InvalidClient"
	KindIdentityLookupFailed     Kind = "IdentityLookupFailed"
	KindAuthenticationInProgress Kind = "AuthenticationInProgress"
	KindDenied                   Kind = "Denied"
	KindExpired                  Kind = "Expired"
	KindSecretStoreError         Kind = "SecretStoreError"
	KindConfigWriteError         Kind = "ConfigWriteError"
	KindCanceled                 Kind = "Canceled"
	KindInvalidInput             Kind = "InvalidInput"
	KindInternal                 Kind = "Internal"
)

// kinds is ordered: the first matching sentinel wins when an error wraps
// several (a failed compensation joined with the original failure).
var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrDuplicateProfile, KindDuplicateProfile},
	{ErrAuthenticationInProgress, KindAuthenticationInProgress},
	{ErrInvalidInput, KindInvalidInput},
	{ErrInvalidClient, KindInvalidClient},
	{ErrProviderUnreachable, KindProviderUnreachable},
	{ErrIdentityLookupFailed, KindIdentityLookupFailed},
	{ErrDenied, KindDenied},
	{ErrExpired, KindExpired},
	{ErrConfigWrite, KindConfigWriteError},
	{ErrSecretStore, KindSecretStoreError},
	{ErrNotFound, KindNotFound},
	{ErrCanceled, KindCanceled},
}

// KindOf classifies err. A nil error yields KindNone and anything outside
// the taxonomy yields KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	return KindInternal
}
