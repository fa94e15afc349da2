package deviceflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/steveyegge/gitswitch/internal/apperr"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

const (
	// DefaultMinInterval is the floor applied to the provider's poll interval.
	DefaultMinInterval = 5 * time.Second

	// DefaultSlowDownStep is added to the interval on every slow_down response.
	DefaultSlowDownStep = 5 * time.Second

	// defaultExpiry applies when the provider omits expires_in.
	defaultExpiry = 15 * time.Minute

	grantTypeDeviceCode = "urn:ietf:params:oauth:grant-type:device_code"
)

// Endpoints are the provider URLs used by the flow.
type Endpoints struct {
	DeviceAuthURL string
	TokenURL      string
	UserURL       string
	EmailsURL     string
}

// GitHubEndpoints returns the public github.com endpoints.
func GitHubEndpoints() Endpoints {
	return Endpoints{
		DeviceAuthURL: github.Endpoint.DeviceAuthURL,
		TokenURL:      github.Endpoint.TokenURL,
		UserURL:       "https://api.github.com/user",
		EmailsURL:     "https://api.github.com/user/emails",
	}
}

// Authenticator drives device authorization against one provider.
type Authenticator struct {
	endpoints    Endpoints
	scopes       []string
	httpClient   *http.Client
	now          func() time.Time
	minInterval  time.Duration
	slowDownStep time.Duration
	logger       *zap.Logger
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithHTTPClient sets the client used for every provider call.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Authenticator) { a.httpClient = c }
}

// WithClock replaces time.Now for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) { a.now = now }
}

// WithMinInterval overrides DefaultMinInterval.
func WithMinInterval(d time.Duration) Option {
	return func(a *Authenticator) { a.minInterval = d }
}

// WithSlowDownStep overrides DefaultSlowDownStep.
func WithSlowDownStep(d time.Duration) Option {
	return func(a *Authenticator) { a.slowDownStep = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Authenticator) { a.logger = l }
}

// New creates an Authenticator requesting scopes.
func New(endpoints Endpoints, scopes []string, opts ...Option) *Authenticator {
	a := &Authenticator{
		endpoints:    endpoints,
		scopes:       scopes,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		now:          time.Now,
		minInterval:  DefaultMinInterval,
		slowDownStep: DefaultSlowDownStep,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	return a
}

// clientContext makes oauth2 use our HTTP client.
func (a *Authenticator) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
}

func (a *Authenticator) oauthConfig(clientID string) *oauth2.Config {
	return &oauth2.Config{
		ClientID: clientID,
		Scopes:   a.scopes,
		Endpoint: oauth2.Endpoint{
			DeviceAuthURL: a.endpoints.DeviceAuthURL,
			TokenURL:      a.endpoints.TokenURL,
		},
	}
}

// Begin requests a device and user code. The returned session is awaiting
// user authorization.
func (a *Authenticator) Begin(ctx context.Context, clientID string) (*Session, error) {
	if strings.TrimSpace(clientID) == "" {
		return nil, fmt.Errorf("%w: client id is empty", apperr.ErrInvalidClient)
	}

	resp, err := a.oauthConfig(clientID).DeviceAuth(a.clientContext(ctx))
	if err != nil {
		return nil, a.classifyBeginError(ctx, err)
	}
	if resp.DeviceCode == "" || resp.UserCode == "" {
		return nil, fmt.Errorf("%w: provider returned no device code", apperr.ErrInvalidClient)
	}

	interval := time.Duration(resp.Interval) * time.Second
	if interval < a.minInterval {
		interval = a.minInterval
	}
	expiresAt := resp.Expiry
	if expiresAt.IsZero() {
		expiresAt = a.now().Add(defaultExpiry)
	}

	a.logger.Debug("device code issued",
		zap.String("verification_uri", resp.VerificationURI),
		zap.Duration("interval", interval),
		zap.Time("expires_at", expiresAt))

	return &Session{
		ClientID:                clientID,
		UserCode:                resp.UserCode,
		VerificationURI:         resp.VerificationURI,
		VerificationURIComplete: resp.VerificationURIComplete,
		DeviceCode:              resp.DeviceCode,
		Interval:                interval,
		ExpiresAt:               expiresAt,
		State:                   StateAwaiting,
	}, nil
}

func (a *Authenticator) classifyBeginError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: requesting device code: %v", apperr.ErrCanceled, ctx.Err())
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.Response != nil && re.Response.StatusCode >= 500 {
			return fmt.Errorf("%w: device code endpoint returned %d", apperr.ErrProviderUnreachable, re.Response.StatusCode)
		}
		return fmt.Errorf("%w: %s", apperr.ErrInvalidClient, providerMessage(re))
	}
	return fmt.Errorf("%w: %v", apperr.ErrProviderUnreachable, err)
}

func providerMessage(re *oauth2.RetrieveError) string {
	if re.ErrorCode != "" {
		return re.ErrorCode
	}
	var body struct {
		Error       string `json:"error"`
		Description string `json:"error_description"`
		Message     string `json:"message"`
	}
	if json.Unmarshal(re.Body, &body) == nil {
		switch {
		case body.Error != "":
			return body.Error
		case body.Message != "":
			return body.Message
		}
	}
	if re.Response != nil {
		return fmt.Sprintf("device code endpoint returned %d", re.Response.StatusCode)
	}
	return "device code request rejected"
}

// tokenResponse covers both success and error payloads of the token endpoint.
type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	Scope            string `json:"scope"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int64  `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Interval         int64  `json:"interval"`
}

// Poll makes at most one token-endpoint request for s. A session past its
// expiry, or already terminal, is answered without any network call.
func (a *Authenticator) Poll(ctx context.Context, s *Session) (PollResult, error) {
	switch s.State {
	case StateAuthorized:
		return PollResult{Status: Success, Token: s.token}, nil
	case StateDenied:
		return PollResult{Status: Denied}, nil
	case StateExpired:
		return PollResult{Status: Expired}, nil
	case StateCanceled:
		return PollResult{}, fmt.Errorf("%w: session was canceled", apperr.ErrCanceled)
	case StateIdle:
		s.State = StateAwaiting
	}

	if !a.now().Before(s.ExpiresAt) {
		s.State = StateExpired
		return PollResult{Status: Expired}, nil
	}

	tr, err := a.requestToken(ctx, s)
	if err != nil {
		return PollResult{}, err
	}

	switch tr.Error {
	case "":
		if tr.AccessToken == "" {
			return PollResult{}, fmt.Errorf("%w: token endpoint returned no access token", apperr.ErrProviderUnreachable)
		}
		tok := &oauth2.Token{
			AccessToken:  tr.AccessToken,
			TokenType:    tr.TokenType,
			RefreshToken: tr.RefreshToken,
		}
		if tr.ExpiresIn > 0 {
			tok.Expiry = a.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
		}
		s.token = tok
		s.State = StateAuthorized
		return PollResult{Status: Success, Token: tok}, nil
	case "authorization_pending":
		return PollResult{Status: Pending}, nil
	case "slow_down":
		next := s.Interval + a.slowDownStep
		if provided := time.Duration(tr.Interval) * time.Second; provided > next {
			next = provided
		}
		a.logger.Debug("provider asked to slow down", zap.Duration("interval", next))
		s.Interval = next
		return PollResult{Status: SlowDown}, nil
	case "expired_token":
		s.State = StateExpired
		return PollResult{Status: Expired}, nil
	case "access_denied":
		s.State = StateDenied
		return PollResult{Status: Denied}, nil
	default:
		msg := tr.Error
		if tr.ErrorDescription != "" {
			msg += ": " + tr.ErrorDescription
		}
		return PollResult{}, fmt.Errorf("%w: %s", apperr.ErrInvalidClient, msg)
	}
}

func (a *Authenticator) requestToken(ctx context.Context, s *Session) (*tokenResponse, error) {
	form := url.Values{
		"client_id":   {s.ClientID},
		"device_code": {s.DeviceCode},
		"grant_type":  {grantTypeDeviceCode},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoints.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", apperr.ErrCanceled, ctx.Err())
		}
		return nil, fmt.Errorf("%w: polling token endpoint: %v", apperr.ErrProviderUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading token response: %v", apperr.ErrProviderUnreachable, err)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: token endpoint returned %d", apperr.ErrProviderUnreachable, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: decoding token response (status %d): %v", apperr.ErrProviderUnreachable, resp.StatusCode, err)
	}
	if tr.Error == "" && tr.AccessToken == "" && resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: token endpoint returned %d", apperr.ErrProviderUnreachable, resp.StatusCode)
	}
	return &tr, nil
}

// Await polls s until it leaves the awaiting state, honoring the interval,
// slow_down responses and the expiry. Cancelling ctx stops the loop before
// the next request and marks the session canceled.
func (a *Authenticator) Await(ctx context.Context, s *Session) (*oauth2.Token, error) {
	for {
		if s.State.Terminal() {
			return a.terminalResult(s)
		}

		wait := s.Interval
		if remaining := s.ExpiresAt.Sub(a.now()); remaining < wait {
			wait = remaining
		}
		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.State = StateCanceled
			return nil, fmt.Errorf("%w: %v", apperr.ErrCanceled, ctx.Err())
		case <-timer.C:
		}

		res, err := a.Poll(ctx, s)
		if err != nil {
			if errors.Is(err, apperr.ErrCanceled) {
				s.State = StateCanceled
			}
			return nil, err
		}
		a.logger.Debug("device flow poll", zap.Stringer("status", res.Status))
	}
}

func (a *Authenticator) terminalResult(s *Session) (*oauth2.Token, error) {
	switch s.State {
	case StateAuthorized:
		return s.token, nil
	case StateDenied:
		return nil, fmt.Errorf("%w: the user declined the request", apperr.ErrDenied)
	case StateExpired:
		return nil, fmt.Errorf("%w: request a new code", apperr.ErrExpired)
	default:
		return nil, fmt.Errorf("%w: session was canceled", apperr.ErrCanceled)
	}
}
