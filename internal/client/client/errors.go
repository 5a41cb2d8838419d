package client

import "errors"

var (
	// ErrMissingToken is returned when a successful login response carries
	// no access token.
	ErrMissingToken = errors.New("login response has no access token")
	// ErrMissingSecret is returned when the enable endpoint answers without
	// a secret.
	ErrMissingSecret = errors.New("two-factor response has no secret")
)
