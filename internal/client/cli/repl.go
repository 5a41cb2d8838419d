package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	isLoggedIn() bool
	Register(ctx context.Context) error
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	WhoAmI(ctx context.Context) error
	Refresh(ctx context.Context) error
	Retry(ctx context.Context) error
	Can(ctx context.Context, action string) error
	Caps(ctx context.Context) error
	EnableTwoFactor(ctx context.Context) error
	DisableTwoFactor(ctx context.Context) error
}

// runREPL reads commands from reader and dispatches them to a until EOF,
// "exit" or "quit", or until ctx is done. The prompt shows statusFn().
//
//	Always:
//	  - help           show available commands
//	  - whoami         show the signed-in user
//	  - can <action>   check a single action
//	  - caps           list permitted actions
//	  - retry          retry a failed start-up
//	  - exit | quit    leave the program
//
//	Not logged in:
//	  - register       create an account
//	  - login          authenticate
//
//	Logged in:
//	  - refresh        reload the profile
//	  - 2fa-enable     enroll an authenticator
//	  - 2fa-disable    turn the second factor off
//	  - logout         sign out
//
// Handlers report their own errors, so the returned values are dropped here.
func runREPL(ctx context.Context, a execIface, statusFn func() string, reader *bufio.Reader) {
	for {
		if ctx.Err() != nil {
			return
		}
		printlnFn(fmt.Sprintf("ck> %s > ", statusFn()))

		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd := parts[0]

		switch cmd {
		case "help":
			if a.isLoggedIn() {
				printlnFn("Available commands: whoami, refresh, can <action>, caps, 2fa-enable, 2fa-disable, logout, exit")
			} else {
				printlnFn("Available commands: register, login, whoami, retry, can <action>, caps, exit")
			}

		case "register":
			_ = a.Register(ctx)

		case "login":
			if a.isLoggedIn() {
				printlnFn("Already signed in. Use 'logout' first.")
				continue
			}
			_ = a.Login(ctx)

		case "logout":
			_ = a.Logout(ctx)

		case "whoami":
			_ = a.WhoAmI(ctx)

		case "refresh":
			_ = a.Refresh(ctx)

		case "retry":
			_ = a.Retry(ctx)

		case "can":
			if len(parts) != 2 {
				printlnFn("Usage: can <action>")
				continue
			}
			_ = a.Can(ctx, parts[1])

		case "caps":
			_ = a.Caps(ctx)

		case "2fa-enable":
			_ = a.EnableTwoFactor(ctx)

		case "2fa-disable":
			_ = a.DisableTwoFactor(ctx)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}

		if err != nil {
			return
		}
	}
}
