package credential

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the claims of a JWT access token, decoded without
// verification.
type Claims struct {
	// Subject is the sub claim.
	Subject string

	// Roles come from the roles claim or realm_access.roles.
	Roles []string

	// Permissions come from the permissions claim or the space-separated
	// scope claim.
	Permissions []string

	// ExpiresAt is the exp claim. Zero when absent.
	ExpiresAt time.Time

	// IssuedAt is the iat claim. Zero when absent.
	IssuedAt time.Time

	// Raw holds every claim as decoded.
	Raw map[string]any
}

// HasRole reports whether the token carries role.
func (c *Claims) HasRole(role string) bool {
	return slices.Contains(c.Roles, role)
}

// HasPermission reports whether the token carries perm.
func (c *Claims) HasPermission(perm string) bool {
	return slices.Contains(c.Permissions, perm)
}

// InspectToken decodes the claims of a JWT without verifying its
// signature. Opaque tokens return ErrTokenMalformed.
func InspectToken(token string) (*Claims, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if strings.Count(token, ".") != 2 {
		return nil, ErrTokenMalformed
	}

	mc := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, mc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	return buildClaims(mc), nil
}

func buildClaims(mc jwt.MapClaims) *Claims {
	c := &Claims{Raw: make(map[string]any, len(mc))}
	for k, v := range mc {
		c.Raw[k] = v
	}

	if sub, err := mc.GetSubject(); err == nil {
		c.Subject = sub
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		c.IssuedAt = iat.Time
	}

	c.Roles = stringList(mc["roles"])
	if len(c.Roles) == 0 {
		if realm, ok := mc["realm_access"].(map[string]any); ok {
			c.Roles = stringList(realm["roles"])
		}
	}

	c.Permissions = stringList(mc["permissions"])
	if len(c.Permissions) == 0 {
		if scope, ok := mc["scope"].(string); ok {
			c.Permissions = strings.Fields(scope)
		}
	}
	return c
}

func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
