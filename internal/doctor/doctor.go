// Package doctor diagnoses a gitswitch installation: configuration, git,
// the OS keychain and the profile registry.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/steveyegge/gitswitch/internal/config"
	"github.com/steveyegge/gitswitch/internal/gitcfg"
	"github.com/steveyegge/gitswitch/internal/profile"
	"github.com/steveyegge/gitswitch/internal/secret"
	"github.com/steveyegge/gitswitch/internal/style"
)

// CheckStatus is the outcome of a single check.
type CheckStatus int

const (
	StatusOK CheckStatus = iota
	StatusWarning
	StatusError
)

func (s CheckStatus) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusWarning:
		return "warning"
	default:
		return "error"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s CheckStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrCannotFix is returned by Fix on checks that have no automatic repair.
var ErrCannotFix = errors.New("check cannot be fixed automatically")

// CheckResult is what a check reports.
type CheckResult struct {
	Name    string      `json:"name"`
	Status  CheckStatus `json:"status"`
	Message string      `json:"message"`
	Details []string    `json:"details,omitempty"`
	FixHint string      `json:"fix_hint,omitempty"`
	Fixed   bool        `json:"fixed,omitempty"`
}

// RegistryReader is the registry access checks need.
type RegistryReader interface {
	Load() (*profile.Registry, error)
	Secret(id string) (string, error)
}

// IdentityResolver maps the active git identity to a profile.
type IdentityResolver interface {
	Current(ctx context.Context) (*profile.Profile, error)
}

// CheckContext carries everything a check may inspect.
type CheckContext struct {
	Ctx        context.Context
	Config     *config.Config
	Registry   RegistryReader
	Secrets    secret.Store
	Git        gitcfg.Config
	Identities IdentityResolver

	// Reconcile repairs the registry; used by fixes.
	Reconcile func(ctx context.Context) error

	// LookPath defaults to exec.LookPath.
	LookPath func(file string) (string, error)
}

func (c *CheckContext) context() context.Context {
	if c.Ctx == nil {
		return context.Background()
	}
	return c.Ctx
}

func (c *CheckContext) lookPath(file string) (string, error) {
	if c.LookPath != nil {
		return c.LookPath(file)
	}
	return exec.LookPath(file)
}

// Check is a single diagnostic.
type Check interface {
	Name() string
	Description() string
	Run(ctx *CheckContext) *CheckResult
	CanFix() bool
	Fix(ctx *CheckContext) error
}

// BaseCheck provides the name and description of a check that cannot fix.
type BaseCheck struct {
	CheckName        string
	CheckDescription string
}

func (b *BaseCheck) Name() string        { return b.CheckName }
func (b *BaseCheck) Description() string { return b.CheckDescription }
func (b *BaseCheck) CanFix() bool        { return false }

// Fix implements Check.
func (b *BaseCheck) Fix(*CheckContext) error { return ErrCannotFix }

// FixableCheck is embedded by checks that implement Fix.
type FixableCheck struct {
	BaseCheck
}

func (f *FixableCheck) CanFix() bool { return true }

// Doctor runs a set of checks.
type Doctor struct {
	checks []Check
}

// New returns a Doctor with the given checks.
func New(checks ...Check) *Doctor {
	return &Doctor{checks: checks}
}

// Default returns a Doctor with every built-in check.
func Default() *Doctor {
	return New(
		NewConfigCheck(),
		NewGitBinaryCheck(),
		NewKeyringCheck(),
		NewRegistryCheck(),
		NewIdentityCheck(),
	)
}

// Register adds a check.
func (d *Doctor) Register(c Check) {
	d.checks = append(d.checks, c)
}

// Report is the result of a run.
type Report struct {
	Results []*CheckResult `json:"results"`
}

// Count returns how many results have status s.
func (r *Report) Count(s CheckStatus) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == s {
			n++
		}
	}
	return n
}

// Healthy reports whether no check failed.
func (r *Report) Healthy() bool {
	return r.Count(StatusError) == 0
}

// Run executes every check. With fix, failing fixable checks are repaired and
// re-run.
func (d *Doctor) Run(ctx *CheckContext, fix bool) *Report {
	report := &Report{}
	for _, c := range d.checks {
		res := c.Run(ctx)
		if fix && res.Status != StatusOK && c.CanFix() {
			if err := c.Fix(ctx); err != nil {
				res.Details = append(res.Details, fmt.Sprintf("fix failed: %v", err))
			} else {
				res = c.Run(ctx)
				res.Fixed = res.Status == StatusOK
			}
		}
		report.Results = append(report.Results, res)
	}
	return report
}

// Print writes a human-readable report.
func (r *Report) Print(w io.Writer) {
	for _, res := range r.Results {
		prefix := style.SuccessPrefix
		switch res.Status {
		case StatusWarning:
			prefix = style.WarningPrefix
		case StatusError:
			prefix = style.ErrorPrefix
		}
		msg := res.Message
		if res.Fixed {
			msg += " " + style.Dim.Render("(fixed)")
		}
		fmt.Fprintf(w, "%s %s: %s\n", prefix, style.Bold.Render(res.Name), msg)
		for _, d := range res.Details {
			fmt.Fprintf(w, "    %s\n", style.Dim.Render(d))
		}
		if res.FixHint != "" && res.Status != StatusOK {
			fmt.Fprintf(w, "    %s %s\n", style.ArrowPrefix, res.FixHint)
		}
	}

	var parts []string
	parts = append(parts, fmt.Sprintf("%d passed", r.Count(StatusOK)))
	if n := r.Count(StatusWarning); n > 0 {
		parts = append(parts, fmt.Sprintf("%d warnings", n))
	}
	if n := r.Count(StatusError); n > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", n))
	}
	fmt.Fprintf(w, "\n%s\n", strings.Join(parts, ", "))
}
