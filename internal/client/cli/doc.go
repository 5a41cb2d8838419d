// Package cli provides the interactive campus portal command-line client.
//
// It wires configuration, the credential store, the gateway, the session
// and two-factor machine, and the capability gate behind a small REPL. The
// CLI never touches the credential store itself: it goes through the
// session, and it learns about forced sign-outs and backend outages by
// subscribing to session changes.
//
// A background recovery watcher retries start-up while the backend is
// unreachable. See App, StartRecoveryWatcher and runREPL for details.
package cli
