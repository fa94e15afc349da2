package gitcfg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/steveyegge/gitswitch/internal/apperr"
)

// Exec drives the git binary. It implements both Config and Credentials.
type Exec struct {
	// Git is the git executable; empty means "git" from PATH.
	Git string

	// Env is appended to the process environment of every invocation.
	Env []string
}

// NewExec returns an Exec using git from PATH.
func NewExec() *Exec {
	return &Exec{}
}

// Available reports whether the git binary can be found.
func (e *Exec) Available() bool {
	_, err := exec.LookPath(e.binary())
	return err == nil
}

func (e *Exec) binary() string {
	if e.Git != "" {
		return e.Git
	}
	return "git"
}

// run executes git with args and optional stdin, returning trimmed stdout.
func (e *Exec) run(ctx context.Context, stdin string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, e.binary(), args...) //nolint:gosec // G204: fixed binary, args built internally
	cmd.Env = append(os.Environ(),
		// Never let git block on an interactive prompt.
		"GIT_TERMINAL_PROMPT=0",
		"GIT_ASKPASS=",
		"SSH_ASKPASS=",
		"GCM_INTERACTIVE=never",
	)
	cmd.Env = append(cmd.Env, e.Env...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.String(), &execError{args: args, stderr: strings.TrimSpace(stderr.String()), err: err}
	}
	return strings.TrimSpace(stdout.String()), nil
}

type execError struct {
	args   []string
	stderr string
	err    error
}

func (e *execError) Error() string {
	msg := fmt.Sprintf("git %s: %v", strings.Join(redact(e.args), " "), e.err)
	if e.stderr != "" {
		msg += ": " + e.stderr
	}
	return msg
}

func (e *execError) Unwrap() error { return e.err }

func (e *execError) exitCode() int {
	var exitErr *exec.ExitError
	if errors.As(e.err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// redact keeps config values out of error messages.
func redact(args []string) []string {
	if len(args) >= 4 && args[0] == "config" && args[1] == "--global" && !strings.HasPrefix(args[2], "--") {
		out := append([]string(nil), args[:3]...)
		return append(out, "<value>")
	}
	return args
}

// GetGlobal implements Config.
func (e *Exec) GetGlobal(ctx context.Context, key string) (string, bool, error) {
	out, err := e.run(ctx, "", "config", "--global", "--get", key)
	if err != nil {
		var xe *execError
		// Exit status 1 means the key is not set.
		if errors.As(err, &xe) && xe.exitCode() == 1 {
			return "", false, nil
		}
		return "", false, fmt.Errorf("reading %s: %w", key, err)
	}
	return out, true, nil
}

// SetGlobal implements Config.
func (e *Exec) SetGlobal(ctx context.Context, key, value string) error {
	if _, err := e.run(ctx, "", "config", "--global", key, value); err != nil {
		return fmt.Errorf("%w: setting %s: %v", apperr.ErrConfigWrite, key, err)
	}
	return nil
}

// UnsetGlobal implements Config.
func (e *Exec) UnsetGlobal(ctx context.Context, key string) error {
	if _, err := e.run(ctx, "", "config", "--global", "--unset-all", key); err != nil {
		var xe *execError
		// Exit status 5 means the key was not set.
		if errors.As(err, &xe) && xe.exitCode() == 5 {
			return nil
		}
		return fmt.Errorf("%w: unsetting %s: %v", apperr.ErrConfigWrite, key, err)
	}
	return nil
}

// List implements Credentials. git cannot enumerate helper contents, so
// this reports the single entry fill resolves, if any.
func (e *Exec) List(ctx context.Context, endpoint Endpoint) ([]Credential, error) {
	cred, err := e.Fill(ctx, endpoint)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return []Credential{*cred}, nil
}

// Fill implements Credentials.
func (e *Exec) Fill(ctx context.Context, endpoint Endpoint) (*Credential, error) {
	in := encodeCredential(Credential{Protocol: endpoint.Protocol, Host: endpoint.Host})
	out, err := e.run(ctx, in, "credential", "fill")
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// With prompts disabled git fails when no helper has an entry.
		return nil, fmt.Errorf("credential for %s: %w", endpoint, apperr.ErrNotFound)
	}
	cred := decodeCredential(out)
	if cred.Username == "" || cred.Password == "" {
		return nil, fmt.Errorf("credential for %s: %w", endpoint, apperr.ErrNotFound)
	}
	if cred.Protocol == "" {
		cred.Protocol = endpoint.Protocol
	}
	if cred.Host == "" {
		cred.Host = endpoint.Host
	}
	return &cred, nil
}

// Approve implements Credentials.
func (e *Exec) Approve(ctx context.Context, cred Credential) error {
	if _, err := e.run(ctx, encodeCredential(cred), "credential", "approve"); err != nil {
		return fmt.Errorf("%w: storing credential for %s: %v", apperr.ErrConfigWrite, cred.Endpoint(), err)
	}
	return nil
}

// Reject implements Credentials.
func (e *Exec) Reject(ctx context.Context, cred Credential) error {
	cred.Password = ""
	if _, err := e.run(ctx, encodeCredential(cred), "credential", "reject"); err != nil {
		return fmt.Errorf("%w: erasing credential for %s: %v", apperr.ErrConfigWrite, cred.Endpoint(), err)
	}
	return nil
}
