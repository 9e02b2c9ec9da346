package credential

import (
	"encoding/json"
	"fmt"
	"time"
)

// Credential is an access/refresh token pair and its expiry.
type Credential struct {
	AccessToken  string
	RefreshToken string    // empty when absent
	ExpiresAt    time.Time // zero when absent
}

// Valid reports whether the access token is present and unexpired at now.
// A credential without expiry never expires.
func (c Credential) Valid(now time.Time) bool {
	if c.AccessToken == "" {
		return false
	}
	return c.ExpiresAt.IsZero() || now.Before(c.ExpiresAt)
}

// HasExpiry reports whether an expiry is set.
func (c Credential) HasExpiry() bool { return !c.ExpiresAt.IsZero() }

// record is the persisted form of a Credential.
type record struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresAtMs  int64  `json:"expires_at_ms,omitempty"`
}

func encode(c Credential) (string, error) {
	r := record{AccessToken: c.AccessToken, RefreshToken: c.RefreshToken}
	if !c.ExpiresAt.IsZero() {
		r.ExpiresAtMs = c.ExpiresAt.UnixMilli()
	}
	data, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decode(s string) (Credential, error) {
	var r record
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	if r.AccessToken == "" {
		return Credential{}, ErrMissingAccessToken
	}
	c := Credential{AccessToken: r.AccessToken, RefreshToken: r.RefreshToken}
	if r.ExpiresAtMs > 0 {
		c.ExpiresAt = time.UnixMilli(r.ExpiresAtMs)
	}
	return c, nil
}

// TokenResponse is an OAuth2 token endpoint response.
type TokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token,omitempty"`
	ExpiresIn        int64  `json:"expires_in,omitempty"`
	RefreshExpiresIn int64  `json:"refresh_expires_in,omitempty"`
	TokenType        string `json:"token_type,omitempty"`
	Scope            string `json:"scope,omitempty"`
	IDToken          string `json:"id_token,omitempty"`
}

// FromTokenResponse builds a Credential from a token response received at
// now. Expiry comes from expires_in, falling back to the exp claim of a
// JWT access token. Otherwise the credential has no expiry.
func FromTokenResponse(resp TokenResponse, now time.Time) (Credential, error) {
	if resp.AccessToken == "" {
		return Credential{}, ErrMissingAccessToken
	}

	c := Credential{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
	}
	switch {
	case resp.ExpiresIn > 0:
		c.ExpiresAt = now.Add(time.Duration(resp.ExpiresIn) * time.Second)
	default:
		if claims, err := InspectToken(resp.AccessToken); err == nil && !claims.ExpiresAt.IsZero() {
			c.ExpiresAt = claims.ExpiresAt
		}
	}
	return c, nil
}
