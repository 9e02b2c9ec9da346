package health

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jonwraymond/apikit/credential"
	"github.com/jonwraymond/apikit/resilience"
	"github.com/jonwraymond/apikit/storage"
)

// probeName is the storage name written by StorageCheck.
const probeName = "health:probe"

// StorageCheck writes, reads back and removes a probe value.
func StorageCheck(st storage.Storage) Checker {
	return NewCheckerFunc("storage", func(ctx context.Context) Result {
		want := strconv.FormatInt(time.Now().UnixNano(), 10)
		if err := st.Write(ctx, probeName, want); err != nil {
			return Unhealthy("storage write failed", err)
		}
		got, ok, err := st.Read(ctx, probeName)
		if err != nil {
			return Unhealthy("storage read failed", err)
		}
		if !ok || got != want {
			return Unhealthy("storage probe mismatch", ErrProbeMismatch)
		}
		if err := st.Remove(ctx, probeName); err != nil {
			return Degraded(fmt.Sprintf("storage remove failed: %v", err))
		}
		return Healthy("storage round trip ok")
	})
}

// CredentialSource is the part of *credential.Store a credential check
// needs.
type CredentialSource interface {
	Get(ctx context.Context) (credential.Credential, bool)
	IsValid(ctx context.Context) bool
}

// CredentialCheck reports unhealthy without a credential and degraded
// when the access token has expired and awaits a refresh.
func CredentialCheck(src CredentialSource) Checker {
	return NewCheckerFunc("credential", func(ctx context.Context) Result {
		c, ok := src.Get(ctx)
		if !ok {
			return Unhealthy("no credential", credential.ErrNoCredential)
		}
		details := map[string]any{"refreshable": c.RefreshToken != ""}
		if c.HasExpiry() {
			details["expires_at"] = c.ExpiresAt.UTC().Format(time.RFC3339)
		}
		if !src.IsValid(ctx) {
			return Degraded("access token expired").WithDetails(details)
		}
		return Healthy("credential valid").WithDetails(details)
	})
}

// CircuitCheck maps the breaker state: closed is healthy, half-open is
// degraded and open is unhealthy.
func CircuitCheck(cb *resilience.CircuitBreaker) Checker {
	return NewCheckerFunc("circuit", func(context.Context) Result {
		counts := cb.Counts()
		details := map[string]any{
			"state":    counts.State.String(),
			"failures": counts.Failures,
			"rejected": counts.Rejected,
		}
		switch counts.State {
		case resilience.StateOpen:
			return Unhealthy("circuit open", resilience.ErrCircuitOpen).WithDetails(details)
		case resilience.StateHalfOpen:
			return Degraded("circuit half-open").WithDetails(details)
		default:
			return Healthy("circuit closed").WithDetails(details)
		}
	})
}
