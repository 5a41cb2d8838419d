// Package common contains constants and small helpers shared by the
// campuskeeper client packages.
package common

const (
	// AuthorizationHeaderName carries the bearer credential on outbound calls.
	AuthorizationHeaderName = "Authorization"

	// RequestIDHeaderName carries a per-call correlation id.
	RequestIDHeaderName = "X-Request-ID"

	// BearerScheme prefixes the credential in the authorization header.
	BearerScheme = "Bearer"

	// TwoFactorCodeLength is the number of digits in a TOTP code.
	TwoFactorCodeLength = 6
)
