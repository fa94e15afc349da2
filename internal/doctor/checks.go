package doctor

import (
	"fmt"

	"github.com/steveyegge/gitswitch/internal/config"
	"github.com/steveyegge/gitswitch/internal/gitcfg"
)

// canaryAccount is the keychain account the keyring check writes to.
const canaryAccount = "gitswitch-doctor-canary"

// ConfigCheck verifies that an OAuth client id is configured and warns
// when the file git backend is selected.
type ConfigCheck struct {
	BaseCheck
}

// NewConfigCheck creates a new config check.
func NewConfigCheck() *ConfigCheck {
	return &ConfigCheck{BaseCheck{
		CheckName:        "config",
		CheckDescription: "Verify the OAuth client id and git backend settings",
	}}
}

// Run implements Check.
func (c *ConfigCheck) Run(ctx *CheckContext) *CheckResult {
	res := &CheckResult{
		Name:    c.Name(),
		Status:  StatusOK,
		Message: fmt.Sprintf("Client id set for %s", ctx.Config.Host),
	}
	if ctx.Config.ClientID == "" {
		res.Status = StatusWarning
		res.Message = "No OAuth client id; profiles cannot be added"
		res.FixHint = fmt.Sprintf("Run 'gitswitch config set-client-id <id>' or set %s", config.EnvClientID)
	}
	if ctx.Config.GitBackend == config.BackendFile {
		res.Status = StatusWarning
		res.Details = append(res.Details, config.FileBackendWarning)
		if res.FixHint == "" {
			res.FixHint = `Set git_backend = "exec" to let git edit its own config`
		}
	}
	return res
}

// GitBinaryCheck verifies that git is on PATH when the exec backend is used.
type GitBinaryCheck struct {
	BaseCheck
}

// NewGitBinaryCheck creates a new git binary check.
func NewGitBinaryCheck() *GitBinaryCheck {
	return &GitBinaryCheck{BaseCheck{
		CheckName:        "git",
		CheckDescription: "Verify git is installed",
	}}
}

// Run implements Check.
func (c *GitBinaryCheck) Run(ctx *CheckContext) *CheckResult {
	path, err := ctx.lookPath("git")
	if err != nil {
		status := StatusError
		msg := "git not found on PATH"
		if ctx.Config.GitBackend == config.BackendFile {
			// Identity still works; the credential manager does not.
			status = StatusWarning
			msg = "git not found on PATH; credentials cannot be switched"
		}
		return &CheckResult{
			Name:    c.Name(),
			Status:  status,
			Message: msg,
			FixHint: "Install git and make sure it is on PATH",
		}
	}
	return &CheckResult{
		Name:    c.Name(),
		Status:  StatusOK,
		Message: path,
	}
}

// KeyringCheck verifies that the OS keychain accepts writes.
type KeyringCheck struct {
	BaseCheck
}

// NewKeyringCheck creates a new keyring check.
func NewKeyringCheck() *KeyringCheck {
	return &KeyringCheck{BaseCheck{
		CheckName:        "keyring",
		CheckDescription: "Verify the OS keychain is usable",
	}}
}

// Run writes, reads back and removes a canary secret.
func (c *KeyringCheck) Run(ctx *CheckContext) *CheckResult {
	service := ctx.Config.KeyringService
	fail := func(err error) *CheckResult {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusError,
			Message: "OS keychain is not usable",
			Details: []string{err.Error()},
			FixHint: "Unlock the keychain or start a Secret Service provider such as gnome-keyring",
		}
	}

	if err := ctx.Secrets.Set(service, canaryAccount, "canary"); err != nil {
		return fail(err)
	}
	got, err := ctx.Secrets.Get(service, canaryAccount)
	if err != nil {
		return fail(err)
	}
	if err := ctx.Secrets.Delete(service, canaryAccount); err != nil {
		return fail(err)
	}
	if got != "canary" {
		return fail(fmt.Errorf("read back %q", got))
	}
	return &CheckResult{
		Name:    c.Name(),
		Status:  StatusOK,
		Message: fmt.Sprintf("Keychain service %q is writable", service),
	}
}

// IdentityCheck verifies that the active git identity is a known profile.
type IdentityCheck struct {
	BaseCheck
}

// NewIdentityCheck creates a new identity check.
func NewIdentityCheck() *IdentityCheck {
	return &IdentityCheck{BaseCheck{
		CheckName:        "identity",
		CheckDescription: "Verify the active git identity belongs to a profile",
	}}
}

// Run implements Check.
func (c *IdentityCheck) Run(ctx *CheckContext) *CheckResult {
	id, err := gitcfg.ReadIdentity(ctx.context(), ctx.Git)
	if err != nil {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusError,
			Message: "Cannot read git identity",
			Details: []string{err.Error()},
		}
	}
	if id.Name == "" && id.Email == "" {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusWarning,
			Message: "No global git identity is set",
			FixHint: "Run 'gitswitch switch <profile>'",
		}
	}

	cur, err := ctx.Identities.Current(ctx.context())
	if err != nil {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusError,
			Message: "Cannot resolve the active profile",
			Details: []string{err.Error()},
		}
	}
	if cur == nil {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusWarning,
			Message: fmt.Sprintf("Git identity %s <%s> is not a gitswitch profile", id.Name, id.Email),
			FixHint: "Run 'gitswitch switch <profile>' or 'gitswitch reconcile' to import it",
		}
	}
	return &CheckResult{
		Name:    c.Name(),
		Status:  StatusOK,
		Message: fmt.Sprintf("Active profile %s", cur.ID),
	}
}
