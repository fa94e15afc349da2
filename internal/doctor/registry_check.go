package doctor

import (
	"errors"
	"fmt"

	"github.com/steveyegge/gitswitch/internal/apperr"
)

// RegistryCheck verifies that the profile registry is readable and
// consistent with the keychain. It detects deletions interrupted between
// removing the token and the record, and profiles whose token is gone, and
// can fix both by reconciling with the credential manager.
type RegistryCheck struct {
	FixableCheck
}

// NewRegistryCheck creates a new registry check.
func NewRegistryCheck() *RegistryCheck {
	return &RegistryCheck{
		FixableCheck: FixableCheck{
			BaseCheck: BaseCheck{
				CheckName:        "registry",
				CheckDescription: "Verify the profile registry matches the keychain",
			},
		},
	}
}

// Run checks registry consistency.
func (c *RegistryCheck) Run(ctx *CheckContext) *CheckResult {
	reg, err := ctx.Registry.Load()
	if err != nil {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusError,
			Message: "Registry cannot be read",
			Details: []string{err.Error()},
			FixHint: "Move the registry file aside and run 'gitswitch reconcile' to re-import entries",
		}
	}
	if len(reg.Profiles) == 0 {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusOK,
			Message: "No profiles yet",
		}
	}

	var details []string
	for _, p := range reg.Profiles {
		if p.Deleting {
			details = append(details, fmt.Sprintf("%s: deletion was interrupted", p.ID))
			continue
		}
		if _, err := ctx.Registry.Secret(p.ID); err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				details = append(details, fmt.Sprintf("%s: token missing from keychain", p.ID))
			} else {
				details = append(details, fmt.Sprintf("%s: %v", p.ID, err))
			}
		}
	}

	if len(details) > 0 {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusError,
			Message: fmt.Sprintf("%d of %d profiles need repair", len(details), len(reg.Profiles)),
			Details: details,
			FixHint: "Run 'gitswitch doctor --fix' or re-add affected profiles with 'gitswitch add --reauth'",
		}
	}

	return &CheckResult{
		Name:    c.Name(),
		Status:  StatusOK,
		Message: fmt.Sprintf("%d profiles, all tokens present", len(reg.Profiles)),
	}
}

// Fix reconciles the registry with the credential manager, which completes
// interrupted deletions and restores tokens git still holds.
func (c *RegistryCheck) Fix(ctx *CheckContext) error {
	if ctx.Reconcile == nil {
		return ErrCannotFix
	}
	return ctx.Reconcile(ctx.context())
}
