// Package credential owns the bearer credential: its in-memory copy, its
// durable copy in the local database, and the get/set/clear contract every
// other client package goes through.
package credential

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credential is an opaque bearer token issued by the backend.
// The zero value means "no credential".
type Credential string

func (c Credential) IsZero() bool { return c == "" }

// ExpiresAt returns the "exp" claim when the token happens to be a JWT.
// The signature is NOT verified; the value is a hint for display and logs,
// never a validity check. Only the backend decides whether a token is valid.
func (c Credential) ExpiresAt() (time.Time, bool) {
	if c.IsZero() {
		return time.Time{}, false
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(string(c), &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// Redacted returns a log-safe form of the token.
func (c Credential) Redacted() string {
	if len(c) <= 8 {
		return "***"
	}
	return string(c[:4]) + "***"
}
