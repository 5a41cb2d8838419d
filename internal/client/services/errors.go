package services

import "errors"

var (
	// ErrInProgress is returned when a login or bootstrap is requested
	// while another one has not finished.
	ErrInProgress = errors.New("session: authentication already in progress")
	// ErrSuperseded is returned by an operation whose result was dropped
	// because the session moved on (logout, forced sign-out, newer login)
	// while it was waiting for the backend.
	ErrSuperseded = errors.New("session: result discarded, session changed meanwhile")
	// ErrNotAuthenticated is returned by operations that need a signed-in
	// session.
	ErrNotAuthenticated = errors.New("session: not authenticated")
	// ErrNoIdentity is returned when the backend accepted the credential
	// but did not describe the user.
	ErrNoIdentity = errors.New("session: backend returned no identity")
	// ErrSessionExpired is recorded as the last error after a forced
	// sign-out.
	ErrSessionExpired = errors.New("session expired, please sign in again")

	// ErrInvalidTransition is returned by the two-factor machine when an
	// operation is not allowed in its current state.
	ErrInvalidTransition = errors.New("two-factor: invalid transition")
)
