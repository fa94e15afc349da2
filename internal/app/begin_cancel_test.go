package app

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/steveyegge/gitswitch/internal/apperr"
	"github.com/steveyegge/gitswitch/internal/deviceflow"
	"github.com/steveyegge/gitswitch/internal/gitcfg"
	"github.com/steveyegge/gitswitch/internal/profile"
	"github.com/steveyegge/gitswitch/internal/secret"
	"github.com/steveyegge/gitswitch/internal/switcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// slowBegin is an Authenticator whose Begin blocks until released. With
// honorCtx it also returns when its context is done.
type slowBegin struct {
	honorCtx bool
	started  chan struct{}
	release  chan struct{}
	ctx      context.Context
	awaited  atomic.Int32
}

func newSlowBegin(honorCtx bool) *slowBegin {
	return &slowBegin{honorCtx: honorCtx, started: make(chan struct{}), release: make(chan struct{})}
}

func (s *slowBegin) Begin(ctx context.Context, _ string) (*deviceflow.Session, error) {
	s.ctx = ctx
	close(s.started)
	done := ctx.Done()
	if !s.honorCtx {
		done = nil
	}
	select {
	case <-s.release:
	case <-done:
		return nil, fmt.Errorf("%w: requesting device code: %v", apperr.ErrCanceled, ctx.Err())
	}
	return &deviceflow.Session{
		UserCode:        "ABCD-1234",
		VerificationURI: "https://github.com/login/device",
		DeviceCode:      "dev-1",
		Interval:        time.Millisecond,
		ExpiresAt:       time.Now().Add(time.Minute),
		State:           deviceflow.StateAwaiting,
	}, nil
}

func (s *slowBegin) Await(context.Context, *deviceflow.Session) (*oauth2.Token, error) {
	s.awaited.Add(1)
	return &oauth2.Token{AccessToken: "gho_alice", TokenType: "bearer"}, nil
}

func (s *slowBegin) Identify(context.Context, *oauth2.Token) (*deviceflow.Identity, error) {
	return &deviceflow.Identity{Login: "alice", Name: "Alice", Email: "a@x.com"}, nil
}

func newSlowBeginApp(t *testing.T, auth Authenticator) (*App, *profile.RegistryManager) {
	t.Helper()
	config := gitcfg.NewMemoryConfig(nil)
	creds := gitcfg.NewMemoryCredentials()
	registry := profile.NewRegistryManager(filepath.Join(t.TempDir(), "profiles.json"), secret.NewMemory())
	return New(Deps{
		ClientID:    "test-client",
		Endpoint:    githubEndpoint,
		Auth:        auth,
		Registry:    registry,
		Switcher:    switcher.New(registry, config, creds, githubEndpoint),
		Config:      config,
		Credentials: creds,
	}), registry
}

func pendingID(t *testing.T, a *App) string {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	require.NotNil(t, a.pending)
	return a.pending.id
}

func TestCancelAdd_WhileRequestingDeviceCode(t *testing.T) {
	tests := []struct {
		name     string
		honorCtx bool
	}{
		{name: "begin observes cancellation", honorCtx: true},
		{name: "begin finishes anyway", honorCtx: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth := newSlowBegin(tt.honorCtx)
			a, registry := newSlowBeginApp(t, auth)

			begun := make(chan Result[*AddSession], 1)
			go func() { begun <- a.BeginAdd(context.Background(), AddOptions{}) }()
			<-auth.started
			id := pendingID(t, a)

			canceled := make(chan Result[AddStatus], 1)
			go func() { canceled <- a.CancelAdd(id) }()
			if !tt.honorCtx {
				// Begin returns only after the cancellation reached it.
				select {
				case <-auth.ctx.Done():
				case <-time.After(2 * time.Second):
					t.Fatal("cancellation never reached the device code request")
				}
				close(auth.release)
			}

			select {
			case res := <-canceled:
				assert.False(t, res.OK)
				assert.Equal(t, AddCanceled, res.Value.State)
				assert.Equal(t, apperr.KindCanceled, res.Kind)
			case <-time.After(2 * time.Second):
				t.Fatal("CancelAdd did not return while the device code was requested")
			}

			begin := <-begun
			assert.False(t, begin.OK)
			assert.Equal(t, apperr.KindCanceled, begin.Kind)

			assert.Zero(t, auth.awaited.Load(), "token polling started after cancellation")
			profiles, err := registry.List()
			require.NoError(t, err)
			assert.Empty(t, profiles)

			// The slot is free for the next add.
			a.mu.Lock()
			assert.Nil(t, a.pending)
			a.mu.Unlock()
		})
	}
}
