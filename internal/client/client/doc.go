// Package client contains the client-side building blocks that talk to the
// campus portal backend and prepare local persistence.
//
// # Overview
//
// The package provides:
//  1. The Client interface: the auth API contract the session core depends
//     on (Login, Register, Me, the two-factor calls and Ping).
//  2. HTTPClient, the JSON-over-HTTP implementation. It issues every call
//     through gateway.Gateway, which attaches the bearer credential and turns
//     failures into *gateway.Error values.
//  3. Local persistence bootstrap (InitDatabase, RunMigrations) wiring an
//     SQLite database and applying embedded goose migrations.
//
// # Error Handling
//
// Transport and backend failures are *gateway.Error values; match them with
// errors.Is against gateway.ErrNetwork, gateway.ErrUnauthorized and
// gateway.ErrApplication. Responses that succeed but lack a required field
// yield ErrMissingToken or ErrMissingSecret.
//
// # Concurrency & Contexts
//
// HTTPClient is safe for concurrent use. All operations accept
// context.Context and honour cancellation.
package client
