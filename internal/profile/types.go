// Package profile provides the catalogue of git identities managed by gitswitch.
package profile

import (
	"strings"
	"time"
)

// CurrentRegistryVersion is the current schema version for the profile registry.
const CurrentRegistryVersion = 1

// DefaultTag labels profiles that were imported rather than added by the user.
const DefaultTag = "N/A"

// Origin records how a profile entered the registry.
type Origin string

const (
	// OriginOAuth indicates the profile was added through the device flow.
	OriginOAuth Origin = "oauth"

	// OriginImported indicates the profile was found in the credential manager.
	OriginImported Origin = "imported"
)

// CredentialRef locates a profile's secret in the secret store.
type CredentialRef struct {
	Service string `json:"service"`
	Account string `json:"account"`
}

// Profile is one managed identity. It never carries the secret itself.
type Profile struct {
	// ID is the unique identifier, derived from the provider login.
	ID string `json:"id"`

	// DisplayName is written to user.name on switch.
	DisplayName string `json:"display_name"`

	// Username is the provider login used for credential entries.
	Username string `json:"username"`

	// Email is written to user.email on switch. May be empty.
	Email string `json:"email,omitempty"`

	// Tag is a free-form label.
	Tag string `json:"tag,omitempty"`

	// AvatarURL is the provider avatar, when known.
	AvatarURL string `json:"avatar_url,omitempty"`

	CredentialRef CredentialRef `json:"credential_ref"`

	Origin Origin `json:"origin"`

	// Added is when this profile was registered.
	Added time.Time `json:"added"`

	// Deleting marks a profile whose removal started but did not finish.
	Deleting bool `json:"deleting,omitempty"`
}

// GitName is the value written to user.name for p.
func (p Profile) GitName() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Username
}

// Registry holds all profiles, in insertion order.
type Registry struct {
	// Version is the schema version.
	Version int `json:"version"`

	// Profiles is the list of registered profiles.
	Profiles []Profile `json:"profiles"`
}

// Candidate is a profile about to be added.
type Candidate struct {
	Login       string
	DisplayName string
	Email       string
	Tag         string
	AvatarURL   string
	Origin      Origin
}

// Fields selects the attributes an edit changes. Nil leaves a value as is.
type Fields struct {
	DisplayName *string
	Email       *string
	Tag         *string
}

// Empty reports whether f changes nothing.
func (f Fields) Empty() bool {
	return f.DisplayName == nil && f.Email == nil && f.Tag == nil
}

// DeriveID returns the registry id for an identity: the lowercased login,
// or username and email joined when no login is known.
func DeriveID(login, username, email string) string {
	if login = strings.TrimSpace(login); login != "" {
		return strings.ToLower(login)
	}
	username = strings.ToLower(strings.TrimSpace(username))
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return username
	}
	if username == "" {
		return email
	}
	return username + "+" + email
}
