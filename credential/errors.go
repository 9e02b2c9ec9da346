package credential

import (
	"errors"
	"fmt"
)

// Sentinel errors for credential operations.
var (
	ErrNoCredential       = errors.New("credential: no credential")
	ErrNoRefreshToken     = errors.New("credential: no refresh token")
	ErrNoRefresher        = errors.New("credential: no refresher configured")
	ErrRefreshTimeout     = errors.New("credential: refresh wait timed out")
	ErrMissingAccessToken = errors.New("credential: token response has no access token")
	ErrTokenMalformed     = errors.New("credential: token malformed")
	ErrGrantRejected      = errors.New("credential: grant rejected")
	ErrPersist            = errors.New("credential: persist failed")
)

// RefreshError reports a failed refresh. Status is the HTTP status of
// the token endpoint response, or 0 when no response was received.
type RefreshError struct {
	Status int
	Err    error
}

func (e *RefreshError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("credential: refresh failed: %v", e.Err)
	}
	return fmt.Sprintf("credential: refresh failed with status %d: %v", e.Status, e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }

// asRefreshError wraps err in a RefreshError unless it already is one.
// Errors without a response status are reported with status 0.
func asRefreshError(err error) *RefreshError {
	var re *RefreshError
	if errors.As(err, &re) {
		return re
	}
	return &RefreshError{Err: err}
}
