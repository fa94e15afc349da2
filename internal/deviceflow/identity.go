package deviceflow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/steveyegge/gitswitch/internal/apperr"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// userEmail is one entry of the GitHub /user/emails response.
type userEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// Identify resolves the user behind token. The login is mandatory. The
// email may come back empty when the user hides it and the emails endpoint
// is not reachable with the granted scopes; callers must tolerate that.
func (a *Authenticator) Identify(ctx context.Context, token *oauth2.Token) (*Identity, error) {
	client := oauth2.NewClient(a.clientContext(ctx), oauth2.StaticTokenSource(token))

	var id Identity
	if err := getJSON(ctx, client, a.endpoints.UserURL, &id); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrIdentityLookupFailed, err)
	}
	if id.Login == "" {
		return nil, fmt.Errorf("%w: provider returned no login", apperr.ErrIdentityLookupFailed)
	}

	if id.Email == "" && a.endpoints.EmailsURL != "" {
		email, err := a.primaryEmail(ctx, client)
		if err != nil {
			a.logger.Debug("email lookup failed", zap.String("login", id.Login), zap.Error(err))
		}
		id.Email = email
	}
	return &id, nil
}

func (a *Authenticator) primaryEmail(ctx context.Context, client *http.Client) (string, error) {
	var emails []userEmail
	if err := getJSON(ctx, client, a.endpoints.EmailsURL, &emails); err != nil {
		return "", err
	}
	var fallback string
	for _, e := range emails {
		if !e.Verified {
			continue
		}
		if e.Primary {
			return e.Email, nil
		}
		if fallback == "" {
			fallback = e.Email
		}
	}
	return fallback, nil
}

func getJSON(ctx context.Context, client *http.Client, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s returned status %d: %s", url, resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding %s: %w", url, err)
	}
	return nil
}
