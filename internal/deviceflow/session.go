// Package deviceflow implements the OAuth 2.0 device authorization grant
// (RFC 8628) against a GitHub-compatible provider, plus the follow-up
// lookup of the authenticated user's identity.
package deviceflow

import (
	"time"

	"golang.org/x/oauth2"
)

// State is the lifecycle position of a Session.
type State string

const (
	StateIdle       State = "idle"
	StateAwaiting   State = "awaiting_user_authorization"
	StateAuthorized State = "authorized"
	StateDenied     State = "denied"
	StateExpired    State = "expired"
	StateCanceled   State = "canceled"
)

// Terminal reports whether no further polling can change the state.
func (s State) Terminal() bool {
	switch s {
	case StateAuthorized, StateDenied, StateExpired, StateCanceled:
		return true
	}
	return false
}

// Session is one device-code grant in progress.
type Session struct {
	// ClientID is the OAuth application the code was issued to.
	ClientID string

	// UserCode is the short code the user types at VerificationURI.
	UserCode string

	// VerificationURI is where the user authorizes the device.
	VerificationURI string

	// VerificationURIComplete embeds the user code, when the provider offers it.
	VerificationURIComplete string

	// DeviceCode is the secret code exchanged at the token endpoint.
	DeviceCode string

	// Interval is the current minimum wait between token requests.
	// A slow_down response increases it.
	Interval time.Duration

	// ExpiresAt is when the device code stops being valid.
	ExpiresAt time.Time

	// State is the current lifecycle state.
	State State

	token *oauth2.Token
}

// Token returns the access token once the session is authorized.
func (s *Session) Token() *oauth2.Token {
	return s.token
}

// Status is the outcome of a single token-endpoint poll.
type Status int

const (
	Pending Status = iota
	Success
	Denied
	Expired
	SlowDown
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Success:
		return "success"
	case Denied:
		return "denied"
	case Expired:
		return "expired"
	case SlowDown:
		return "slow_down"
	}
	return "unknown"
}

// PollResult is returned by Authenticator.Poll. Token is set only for Success.
type PollResult struct {
	Status Status
	Token  *oauth2.Token
}

// Identity is the authenticated user as reported by the provider.
type Identity struct {
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}
