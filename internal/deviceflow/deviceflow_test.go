package deviceflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/steveyegge/gitswitch/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// fakeProvider is a scripted GitHub-like OAuth server.
type fakeProvider struct {
	t *testing.T

	mu           sync.Mutex
	deviceCode   int
	tokenReplies []map[string]any
	tokenCalls   []time.Time
	user         map[string]any
	emails       []map[string]any
	userStatus   int
}

func newFakeProvider(t *testing.T) (*fakeProvider, *httptest.Server) {
	p := &fakeProvider{t: t, deviceCode: http.StatusOK, userStatus: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc("/login/device/code", p.handleDeviceCode)
	mux.HandleFunc("/login/oauth/access_token", p.handleToken)
	mux.HandleFunc("/user", p.handleUser)
	mux.HandleFunc("/user/emails", p.handleEmails)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return p, srv
}

func endpointsFor(srv *httptest.Server) Endpoints {
	return Endpoints{
		DeviceAuthURL: srv.URL + "/login/device/code",
		TokenURL:      srv.URL + "/login/oauth/access_token",
		UserURL:       srv.URL + "/user",
		EmailsURL:     srv.URL + "/user/emails",
	}
}

func (p *fakeProvider) handleDeviceCode(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		p.t.Errorf("parse form: %v", err)
	}
	if r.Form.Get("client_id") != "test-client" {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"incorrect_client_credentials"}`))
		return
	}
	if p.deviceCode != http.StatusOK {
		w.WriteHeader(p.deviceCode)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"device_code":      "dev-123",
		"user_code":        "WDJB-MJHT",
		"verification_uri": "https://github.com/login/device",
		"expires_in":       900,
		"interval":         0,
	})
}

func (p *fakeProvider) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		p.t.Errorf("parse form: %v", err)
	}
	if got := r.Form.Get("grant_type"); got != grantTypeDeviceCode {
		p.t.Errorf("grant_type = %q", got)
	}
	if got := r.Form.Get("device_code"); got != "dev-123" {
		p.t.Errorf("device_code = %q", got)
	}

	p.mu.Lock()
	p.tokenCalls = append(p.tokenCalls, time.Now())
	reply := map[string]any{"error": "authorization_pending"}
	if len(p.tokenReplies) > 0 {
		reply = p.tokenReplies[0]
		if len(p.tokenReplies) > 1 {
			p.tokenReplies = p.tokenReplies[1:]
		}
	}
	p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(reply)
}

func (p *fakeProvider) handleUser(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer gho_token" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if p.userStatus != http.StatusOK {
		w.WriteHeader(p.userStatus)
		return
	}
	_ = json.NewEncoder(w).Encode(p.user)
}

func (p *fakeProvider) handleEmails(w http.ResponseWriter, r *http.Request) {
	if p.emails == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	_ = json.NewEncoder(w).Encode(p.emails)
}

func (p *fakeProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tokenCalls)
}

func (p *fakeProvider) script(replies ...map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenReplies = replies
}

func newTestAuthenticator(srv *httptest.Server, opts ...Option) *Authenticator {
	base := []Option{
		WithHTTPClient(srv.Client()),
		WithMinInterval(5 * time.Millisecond),
		WithSlowDownStep(5 * time.Millisecond),
	}
	return New(endpointsFor(srv), []string{"repo", "read:user"}, append(base, opts...)...)
}

func awaitingSession(expiresIn time.Duration) *Session {
	return &Session{
		ClientID:   "test-client",
		DeviceCode: "dev-123",
		Interval:   5 * time.Millisecond,
		ExpiresAt:  time.Now().Add(expiresIn),
		State:      StateAwaiting,
	}
}

func TestBegin(t *testing.T) {
	_, srv := newFakeProvider(t)
	a := newTestAuthenticator(srv)

	s, err := a.Begin(context.Background(), "test-client")
	require.NoError(t, err)

	assert.Equal(t, "WDJB-MJHT", s.UserCode)
	assert.Equal(t, "dev-123", s.DeviceCode)
	assert.Equal(t, "https://github.com/login/device", s.VerificationURI)
	assert.Equal(t, StateAwaiting, s.State)
	assert.Equal(t, 5*time.Millisecond, s.Interval, "minimum interval should be enforced")
	assert.WithinDuration(t, time.Now().Add(900*time.Second), s.ExpiresAt, 5*time.Second)
}

func TestBegin_Errors(t *testing.T) {
	t.Run("rejected client", func(t *testing.T) {
		_, srv := newFakeProvider(t)
		_, err := newTestAuthenticator(srv).Begin(context.Background(), "unknown-client")
		assert.ErrorIs(t, err, apperr.ErrInvalidClient)
	})

	t.Run("empty client id", func(t *testing.T) {
		_, srv := newFakeProvider(t)
		_, err := newTestAuthenticator(srv).Begin(context.Background(), "")
		assert.ErrorIs(t, err, apperr.ErrInvalidClient)
	})

	t.Run("server error", func(t *testing.T) {
		p, srv := newFakeProvider(t)
		p.deviceCode = http.StatusBadGateway
		_, err := newTestAuthenticator(srv).Begin(context.Background(), "test-client")
		assert.ErrorIs(t, err, apperr.ErrProviderUnreachable)
	})

	t.Run("unreachable", func(t *testing.T) {
		_, srv := newFakeProvider(t)
		a := newTestAuthenticator(srv)
		srv.Close()
		_, err := a.Begin(context.Background(), "test-client")
		assert.ErrorIs(t, err, apperr.ErrProviderUnreachable)
	})
}

func TestAwait_PendingThenSuccess(t *testing.T) {
	p, srv := newFakeProvider(t)
	p.script(
		map[string]any{"error": "authorization_pending"},
		map[string]any{"error": "authorization_pending"},
		map[string]any{"access_token": "gho_token", "token_type": "bearer", "scope": "repo"},
	)
	a := newTestAuthenticator(srv)
	s := awaitingSession(time.Minute)

	tok, err := a.Await(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, "gho_token", tok.AccessToken)
	assert.Equal(t, StateAuthorized, s.State)
	assert.Equal(t, 3, p.calls())

	// A terminal session answers without touching the network.
	res, err := a.Poll(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, Success, res.Status)
	assert.Equal(t, 3, p.calls())
}

func TestPoll_PendingNeverTerminates(t *testing.T) {
	_, srv := newFakeProvider(t)
	a := newTestAuthenticator(srv)
	s := awaitingSession(time.Minute)

	for i := 0; i < 5; i++ {
		res, err := a.Poll(context.Background(), s)
		require.NoError(t, err)
		assert.Equal(t, Pending, res.Status)
		assert.Equal(t, StateAwaiting, s.State)
	}
}

func TestPoll_SlowDown(t *testing.T) {
	p, srv := newFakeProvider(t)
	a := newTestAuthenticator(srv)
	s := awaitingSession(time.Minute)

	p.script(map[string]any{"error": "slow_down"})
	res, err := a.Poll(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, SlowDown, res.Status)
	assert.Equal(t, 10*time.Millisecond, s.Interval)

	// A provider-supplied interval wins when it is larger than the step.
	p.script(map[string]any{"error": "slow_down", "interval": 10})
	_, err = a.Poll(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, s.Interval)
}

func TestPoll_AfterExpiryMakesNoRequest(t *testing.T) {
	p, srv := newFakeProvider(t)
	future := time.Now().Add(time.Hour)
	a := newTestAuthenticator(srv, WithClock(func() time.Time { return future }))
	s := awaitingSession(time.Minute)

	res, err := a.Poll(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, Expired, res.Status)
	assert.Equal(t, StateExpired, s.State)
	assert.Zero(t, p.calls())
}

func TestAwait_ExpiresWithoutPollingPastExpiry(t *testing.T) {
	p, srv := newFakeProvider(t)
	a := newTestAuthenticator(srv)
	s := awaitingSession(60 * time.Millisecond)

	_, err := a.Await(context.Background(), s)
	assert.ErrorIs(t, err, apperr.ErrExpired)
	assert.Equal(t, StateExpired, s.State)

	// Allow for request transit; the check happens client side before sending.
	p.mu.Lock()
	for _, at := range p.tokenCalls {
		assert.True(t, at.Before(s.ExpiresAt.Add(25*time.Millisecond)), "token request at %v after expiry %v", at, s.ExpiresAt)
	}
	p.mu.Unlock()

	before := p.calls()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, before, p.calls(), "no requests after Await returned")
}

func TestAwait_Denied(t *testing.T) {
	p, srv := newFakeProvider(t)
	p.script(map[string]any{"error": "access_denied"})
	s := awaitingSession(time.Minute)

	_, err := newTestAuthenticator(srv).Await(context.Background(), s)
	assert.ErrorIs(t, err, apperr.ErrDenied)
	assert.Equal(t, StateDenied, s.State)
}

func TestAwait_ExpiredToken(t *testing.T) {
	p, srv := newFakeProvider(t)
	p.script(map[string]any{"error": "expired_token"})
	s := awaitingSession(time.Minute)

	_, err := newTestAuthenticator(srv).Await(context.Background(), s)
	assert.ErrorIs(t, err, apperr.ErrExpired)
}

func TestAwait_UnknownErrorSurfaces(t *testing.T) {
	p, srv := newFakeProvider(t)
	p.script(map[string]any{"error": "incorrect_device_code", "error_description": "bad code"})
	s := awaitingSession(time.Minute)

	_, err := newTestAuthenticator(srv).Await(context.Background(), s)
	assert.ErrorIs(t, err, apperr.ErrInvalidClient)
	assert.Contains(t, err.Error(), "bad code")
}

func TestAwait_Cancel(t *testing.T) {
	p, srv := newFakeProvider(t)
	a := newTestAuthenticator(srv)
	s := awaitingSession(time.Minute)
	s.Interval = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := a.Await(ctx, s)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, apperr.ErrCanceled)
	case <-time.After(time.Second):
		t.Fatal("Await did not observe cancellation within one interval")
	}
	assert.Equal(t, StateCanceled, s.State)

	before := p.calls()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, p.calls())
}

func TestIdentify(t *testing.T) {
	tok := &oauth2.Token{AccessToken: "gho_token", TokenType: "bearer"}

	t.Run("public email", func(t *testing.T) {
		p, srv := newFakeProvider(t)
		p.user = map[string]any{"login": "alice", "name": "Alice Smith", "email": "a@x.com", "avatar_url": "https://avatars/alice"}

		id, err := newTestAuthenticator(srv).Identify(context.Background(), tok)
		require.NoError(t, err)
		assert.Equal(t, &Identity{Login: "alice", Name: "Alice Smith", Email: "a@x.com", AvatarURL: "https://avatars/alice"}, id)
	})

	t.Run("private email resolved from emails endpoint", func(t *testing.T) {
		p, srv := newFakeProvider(t)
		p.user = map[string]any{"login": "bob", "name": nil, "email": nil}
		p.emails = []map[string]any{
			{"email": "old@x.com", "primary": false, "verified": true},
			{"email": "bob@x.com", "primary": true, "verified": true},
		}

		id, err := newTestAuthenticator(srv).Identify(context.Background(), tok)
		require.NoError(t, err)
		assert.Equal(t, "bob", id.Login)
		assert.Equal(t, "bob@x.com", id.Email)
	})

	t.Run("private email unavailable", func(t *testing.T) {
		p, srv := newFakeProvider(t)
		p.user = map[string]any{"login": "carol"}

		id, err := newTestAuthenticator(srv).Identify(context.Background(), tok)
		require.NoError(t, err)
		assert.Empty(t, id.Email)
	})

	t.Run("lookup failure", func(t *testing.T) {
		p, srv := newFakeProvider(t)
		p.userStatus = http.StatusInternalServerError

		_, err := newTestAuthenticator(srv).Identify(context.Background(), tok)
		assert.ErrorIs(t, err, apperr.ErrIdentityLookupFailed)
	})

	t.Run("missing login", func(t *testing.T) {
		p, srv := newFakeProvider(t)
		p.user = map[string]any{"name": "Nobody"}

		_, err := newTestAuthenticator(srv).Identify(context.Background(), tok)
		assert.ErrorIs(t, err, apperr.ErrIdentityLookupFailed)
	})
}
