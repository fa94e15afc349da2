package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/steveyegge/gitswitch/internal/config"
	"github.com/steveyegge/gitswitch/internal/gitcfg"
	"github.com/steveyegge/gitswitch/internal/secret"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// fakeGitHub authorizes whichever user is set when the token is requested.
type fakeGitHub struct {
	mu    sync.Mutex
	login string
	name  string
	email string
	deny  bool
}

func (g *fakeGitHub) setUser(login, name, email string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.login, g.name, g.email = login, name, email
}

func (g *fakeGitHub) setDeny(v bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deny = v
}

func (g *fakeGitHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	switch r.URL.Path {
	case "/login/device/code":
		_ = json.NewEncoder(w).Encode(map[string]any{
			"device_code":               "dev-1",
			"user_code":                 "ABCD-1234",
			"verification_uri":          "https://github.com/login/device",
			"verification_uri_complete": "https://github.com/login/device?user_code=ABCD-1234",
			"expires_in":                900,
		})
	case "/login/oauth/access_token":
		if g.deny {
			_ = json.NewEncoder(w).Encode(map[string]any{"error": "access_denied"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "gho_" + g.login, "token_type": "bearer"})
	case "/user":
		_ = json.NewEncoder(w).Encode(map[string]any{"login": g.login, "name": g.name, "email": g.email})
	default:
		http.NotFound(w, r)
	}
}

type testEnv struct {
	gh    *fakeGitHub
	rt    *runtime
	git   *gitcfg.MemoryConfig
	creds *gitcfg.MemoryCredentials
}

// newTestEnv points every command at in-memory stores and a fake provider.
func newTestEnv(t *testing.T, seed ...gitcfg.Credential) *testEnv {
	t.Helper()
	gh := &fakeGitHub{}
	srv := httptest.NewServer(gh)
	t.Cleanup(srv.Close)

	path := filepath.Join(t.TempDir(), "config.toml")
	cfg := config.DefaultConfig(path)
	cfg.ClientID = "Iv1.test"
	cfg.DeviceCodeURL = srv.URL + "/login/device/code"
	cfg.TokenURL = srv.URL + "/login/oauth/access_token"
	cfg.UserAPIURL = srv.URL + "/user"
	cfg.EmailsAPIURL = srv.URL + "/user/emails"
	cfg.MinPollInterval = config.Duration{Duration: time.Millisecond}

	env := &testEnv{
		gh:    gh,
		git:   gitcfg.NewMemoryConfig(nil),
		creds: gitcfg.NewMemoryCredentials(seed...),
	}
	env.rt = assemble(path, cfg, zap.NewNop(), secret.NewMemory(), env.git, env.creds)

	old := newRuntime
	newRuntime = func(*cobra.Command) (*runtime, error) { return env.rt, nil }
	t.Cleanup(func() { newRuntime = old })
	return env
}

func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// executeCommand runs the root command with args and returns its stdout.
// Stderr goes to the test log.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	if stderr.Len() > 0 {
		t.Logf("stderr of %v:\n%s", args, stderr.String())
	}
	return stdout.String(), err
}

func (e *testEnv) add(t *testing.T, login, name, email string, args ...string) string {
	t.Helper()
	e.gh.setUser(login, name, email)
	out, err := executeCommand(t, append([]string{"add", "--no-tui"}, args...)...)
	require.NoError(t, err, out)
	return out
}

func listViews(t *testing.T) []profileView {
	t.Helper()
	out, err := executeCommand(t, "list", "--format", "json")
	require.NoError(t, err, out)
	var views []profileView
	require.NoError(t, json.Unmarshal([]byte(out), &views), out)
	return views
}

func TestVersion(t *testing.T) {
	out, err := executeCommand(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "gitswitch dev\n", out)
}

func TestAddListSwitch(t *testing.T) {
	env := newTestEnv(t)

	out := env.add(t, "alice", "Alice", "alice@example.com", "--tag", "work")
	assert.Contains(t, out, "ABCD-1234")
	assert.Contains(t, out, "Added profile alice (Alice)")
	assert.Contains(t, out, "alice is the active git identity")

	out = env.add(t, "bob", "Bob", "bob@example.com")
	assert.Contains(t, out, "Added profile bob")
	assert.NotContains(t, out, "bob is the active git identity")

	views := listViews(t)
	require.Len(t, views, 2)
	assert.Equal(t, "alice", views[0].ID)
	assert.True(t, views[0].Active)
	assert.Equal(t, "work", views[0].Tag)
	assert.False(t, views[1].Active)

	out, err := executeCommand(t, "switch", "bob")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Switched to Bob <bob@example.com>")
	assert.Equal(t, "bob@example.com", env.git.Snapshot()[gitcfg.KeyUserEmail])

	out, err = executeCommand(t, "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "Active profile:")
	assert.Contains(t, out, "bob")

	out, err = executeCommand(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, "bob")
	assert.Contains(t, out, "*")
}

func TestList_Empty(t *testing.T) {
	newTestEnv(t)

	out, err := executeCommand(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No profiles yet")
}

func TestList_YAML(t *testing.T) {
	env := newTestEnv(t)
	env.add(t, "alice", "Alice", "alice@example.com")

	out, err := executeCommand(t, "list", "-o", "yaml")
	require.NoError(t, err)

	var views []profileView
	require.NoError(t, yaml.Unmarshal([]byte(out), &views), out)
	require.Len(t, views, 1)
	assert.Equal(t, "alice", views[0].ID)
	assert.True(t, views[0].Active)
}

func TestList_UnknownFormat(t *testing.T) {
	newTestEnv(t)

	_, err := executeCommand(t, "list", "--format", "xml")
	assert.ErrorContains(t, err, "unknown format")
}

func TestWhoami_NoneActive(t *testing.T) {
	newTestEnv(t)

	out, err := executeCommand(t, "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "No active profile")
}

func TestSwitch_Unknown(t *testing.T) {
	newTestEnv(t)

	_, err := executeCommand(t, "switch", "ghost")
	assert.ErrorContains(t, err, "ghost")
}

func TestAdd_OpensBrowser(t *testing.T) {
	env := newTestEnv(t)
	var opened string
	old := openBrowser
	openBrowser = func(url string) { opened = url }
	t.Cleanup(func() { openBrowser = old })

	env.add(t, "alice", "Alice", "alice@example.com", "--open")
	assert.Equal(t, "https://github.com/login/device?user_code=ABCD-1234", opened)
}

func TestAdd_PrivateEmailWarns(t *testing.T) {
	env := newTestEnv(t)

	out := env.add(t, "carol", "Carol", "")
	assert.Contains(t, out, "did not disclose an email")
}

func TestAdd_Duplicate(t *testing.T) {
	env := newTestEnv(t)
	env.add(t, "alice", "Alice", "alice@example.com")

	_, err := executeCommand(t, "add", "--no-tui")
	require.Error(t, err)
	assert.Len(t, listViews(t), 1)
}

func TestAdd_Denied(t *testing.T) {
	env := newTestEnv(t)
	env.gh.setUser("alice", "Alice", "alice@example.com")
	env.gh.setDeny(true)

	_, err := executeCommand(t, "add", "--no-tui")
	require.Error(t, err)
	assert.Empty(t, listViews(t))
}

func TestAdd_MissingClientID(t *testing.T) {
	env := newTestEnv(t)
	env.rt = assemble(env.rt.cfgPath, withoutClientID(env.rt.cfg), zap.NewNop(), secret.NewMemory(), env.git, env.creds)

	_, err := executeCommand(t, "add", "--no-tui")
	assert.ErrorContains(t, err, "set-client-id")
}

func withoutClientID(cfg *config.Config) *config.Config {
	c := *cfg
	c.ClientID = ""
	return &c
}

func TestEdit(t *testing.T) {
	env := newTestEnv(t)
	env.add(t, "alice", "Alice", "alice@example.com")

	_, err := executeCommand(t, "edit", "alice")
	assert.ErrorContains(t, err, "nothing to change")

	out, err := executeCommand(t, "edit", "alice", "--email", "alice@work.example", "--name", "Alice Smith")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Updated alice")

	snap := env.git.Snapshot()
	assert.Equal(t, "alice@work.example", snap[gitcfg.KeyUserEmail])
	assert.Equal(t, "Alice Smith", snap[gitcfg.KeyUserName])

	_, err = executeCommand(t, "edit", "alice", "--email", "not an email")
	assert.Error(t, err)
}

func TestDelete_ActiveSwitchesToNext(t *testing.T) {
	env := newTestEnv(t)
	env.add(t, "alice", "Alice", "alice@example.com")
	env.add(t, "bob", "Bob", "bob@example.com")

	out, err := executeCommand(t, "delete", "alice")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Deleted alice; switched to bob")

	views := listViews(t)
	require.Len(t, views, 1)
	assert.Equal(t, "bob", views[0].ID)
	assert.True(t, views[0].Active)
}

func TestReconcile(t *testing.T) {
	newTestEnv(t, gitcfg.Credential{Protocol: "https", Host: "github.com", Username: "carol", Password: "gho_carol"})

	out, err := executeCommand(t, "reconcile")
	require.NoError(t, err)
	assert.Contains(t, out, "Imported carol")

	out, err = executeCommand(t, "reconcile")
	require.NoError(t, err)
	assert.Contains(t, out, "already matches")
}

func TestList_ImportsOnStartup(t *testing.T) {
	newTestEnv(t, gitcfg.Credential{Protocol: "https", Host: "github.com", Username: "carol", Password: "gho_carol"})

	views := listViews(t)
	require.Len(t, views, 1)
	assert.Equal(t, "carol", views[0].ID)
	assert.Equal(t, "imported", views[0].Origin)
}

func TestDoctor_JSON(t *testing.T) {
	env := newTestEnv(t)
	env.add(t, "alice", "Alice", "alice@example.com")

	// git may be absent where tests run, so only the report is checked.
	out, _ := executeCommand(t, "doctor", "--json")

	var report struct {
		Results []struct {
			Name   string `json:"name"`
			Status string `json:"status"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report), out)
	require.Len(t, report.Results, 5)

	statuses := map[string]string{}
	for _, r := range report.Results {
		statuses[r.Name] = r.Status
	}
	assert.Equal(t, "ok", statuses["config"])
	assert.Equal(t, "ok", statuses["keyring"])
	assert.Equal(t, "ok", statuses["registry"])
	assert.Equal(t, "ok", statuses["identity"])
}

func TestConfigCommands(t *testing.T) {
	t.Setenv(config.EnvClientID, "")
	path := filepath.Join(t.TempDir(), "gitswitch", "config.toml")

	out, err := executeCommand(t, "--config", path, "config", "init")
	require.NoError(t, err, out)
	_, err = os.Stat(path)
	require.NoError(t, err)

	_, err = executeCommand(t, "--config", path, "config", "init")
	assert.ErrorContains(t, err, "already exists")

	out, err = executeCommand(t, "--config", path, "config", "set-client-id", "Iv1.saved")
	require.NoError(t, err, out)

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Iv1.saved", cfg.ClientID)

	out, err = executeCommand(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, `client_id = "Iv1.saved"`)
}

func TestConfigSetClientID_DoesNotPersistEnv(t *testing.T) {
	t.Setenv(config.EnvClientID, "Iv1.env")
	path := filepath.Join(t.TempDir(), "config.toml")

	out, err := executeCommand(t, "--config", path, "config", "set-client-id", "Iv1.file")
	require.NoError(t, err)
	assert.Contains(t, out, "takes precedence")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Iv1.file")
	assert.NotContains(t, string(data), "Iv1.env")
}

func TestConfig_RequiresSubcommand(t *testing.T) {
	_, err := executeCommand(t, "config", "bogus")
	assert.Error(t, err)
}

func TestConfigCommands_FileBackendWarns(t *testing.T) {
	t.Setenv(config.EnvClientID, "")
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`git_backend = "file"`+"\n"), 0o600))

	out, err := executeCommand(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "drops its comments")

	out, err = executeCommand(t, "--config", path, "config", "set-client-id", "Iv1.saved")
	require.NoError(t, err)
	assert.Contains(t, out, "drops its comments")

	path = filepath.Join(t.TempDir(), "exec.toml")
	out, err = executeCommand(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.NotContains(t, out, "drops its comments")
}
