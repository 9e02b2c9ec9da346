package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Refresher exchanges the current credential for a new one.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must honor cancellation/deadlines.
// - Errors: should return *RefreshError; a missing response is status 0.
type Refresher interface {
	Refresh(ctx context.Context, current Credential) (Credential, error)
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func(ctx context.Context, current Credential) (Credential, error)

// Refresh calls f.
func (f RefresherFunc) Refresh(ctx context.Context, current Credential) (Credential, error) {
	return f(ctx, current)
}

// Client authentication methods for the token endpoint.
const (
	ClientSecretBasic = "client_secret_basic"
	ClientSecretPost  = "client_secret_post"
)

// maxTokenResponseBytes bounds the token endpoint response body.
const maxTokenResponseBytes = 1 << 20

// OAuth2Config configures the OAuth2 token endpoint client.
type OAuth2Config struct {
	// TokenURL is the token endpoint.
	TokenURL string

	// ClientID is the client identifier.
	ClientID string

	// ClientSecret is the client secret. Empty for public clients.
	ClientSecret string

	// ClientAuthMethod is how the client authenticates to the endpoint.
	// Options: "client_secret_basic" (default), "client_secret_post"
	ClientAuthMethod string

	// Scopes are requested with the password grant.
	Scopes []string

	// Timeout is the HTTP request timeout for token calls.
	// Default: 10 seconds.
	Timeout time.Duration

	// HTTPClient is the HTTP client to use. If nil, a default client is used.
	HTTPClient *http.Client

	// Now returns the current time.
	// Default: time.Now
	Now func() time.Time
}

// OAuth2Refresher obtains credentials from an OAuth2 token endpoint.
type OAuth2Refresher struct {
	config     OAuth2Config
	httpClient *http.Client
}

// NewOAuth2Refresher creates a token endpoint client.
func NewOAuth2Refresher(config OAuth2Config) *OAuth2Refresher {
	if config.ClientAuthMethod == "" {
		config.ClientAuthMethod = ClientSecretBasic
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}

	return &OAuth2Refresher{config: config, httpClient: httpClient}
}

// Refresh performs the refresh_token grant. When the response omits a
// refresh token the current one is kept.
func (r *OAuth2Refresher) Refresh(ctx context.Context, current Credential) (Credential, error) {
	if current.RefreshToken == "" {
		return Credential{}, ErrNoRefreshToken
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", current.RefreshToken)

	next, err := r.exchange(ctx, form)
	if err != nil {
		return Credential{}, err
	}
	if next.RefreshToken == "" {
		next.RefreshToken = current.RefreshToken
	}
	return next, nil
}

// PasswordGrant performs the resource owner password grant.
func (r *OAuth2Refresher) PasswordGrant(ctx context.Context, username, password string) (Credential, error) {
	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("username", username)
	form.Set("password", password)
	if len(r.config.Scopes) > 0 {
		form.Set("scope", strings.Join(r.config.Scopes, " "))
	}
	return r.exchange(ctx, form)
}

// tokenError is an OAuth2 error response body.
type tokenError struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

func (r *OAuth2Refresher) exchange(ctx context.Context, form url.Values) (Credential, error) {
	useBasic := r.config.ClientAuthMethod == ClientSecretBasic && r.config.ClientSecret != ""
	if !useBasic {
		form.Set("client_id", r.config.ClientID)
		if r.config.ClientSecret != "" {
			form.Set("client_secret", r.config.ClientSecret)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.config.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Credential{}, &RefreshError{Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if useBasic {
		req.SetBasicAuth(url.QueryEscape(r.config.ClientID), url.QueryEscape(r.config.ClientSecret))
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return Credential{}, &RefreshError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseBytes))
	if err != nil {
		return Credential{}, &RefreshError{Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		var te tokenError
		msg := http.StatusText(resp.StatusCode)
		if json.Unmarshal(body, &te) == nil && te.Error != "" {
			msg = te.Error
			if te.Description != "" {
				msg += ": " + te.Description
			}
		}
		return Credential{}, &RefreshError{Status: resp.StatusCode, Err: fmt.Errorf("%w: %s", ErrGrantRejected, msg)}
	}

	var tr TokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return Credential{}, &RefreshError{Status: resp.StatusCode, Err: fmt.Errorf("%w: %v", ErrTokenMalformed, err)}
	}
	c, err := FromTokenResponse(tr, r.config.Now())
	if err != nil {
		return Credential{}, &RefreshError{Status: resp.StatusCode, Err: err}
	}
	return c, nil
}

// Ensure OAuth2Refresher implements Refresher
var _ Refresher = (*OAuth2Refresher)(nil)
