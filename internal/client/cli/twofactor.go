package cli

import (
	"context"
	"errors"
	"os"

	"github.com/dmitrijs2005/campuskeeper/internal/client/gateway"
	"github.com/dmitrijs2005/campuskeeper/internal/client/services"
)

// maxCodeAttempts bounds how many codes one 2fa command asks for before it
// gives up. The enrollment itself stays open until cancelled.
const maxCodeAttempts = 3

// EnableTwoFactor runs the enrollment dialog: show the secret, then ask for
// codes until one is accepted, the user enters an empty line, or the
// attempts run out. The secret is dropped when the dialog ends.
func (a *App) EnableTwoFactor(ctx context.Context) error {
	enr, err := a.twoFactor.Begin(ctx)
	if err != nil {
		printlnFn("Could not start two-factor setup:", describe(err))
		return err
	}
	defer a.abandonPending(ctx)

	printlnFn("Add this account to your authenticator app.")
	printlnFn("Secret:          ", enr.Secret)
	printlnFn("Provisioning URI:", enr.ProvisioningURI)

	return a.askCode(ctx, "Enter the 6-digit code (empty line to cancel)", a.twoFactor.Verify,
		"Two-factor authentication enabled.")
}

// DisableTwoFactor asks for a current code and turns the second factor off.
func (a *App) DisableTwoFactor(ctx context.Context) error {
	if err := a.twoFactor.RequestDisable(ctx); err != nil {
		printlnFn("Could not start disabling two-factor:", describe(err))
		return err
	}
	defer a.abandonPending(ctx)

	return a.askCode(ctx, "Enter a current 6-digit code (empty line to cancel)", a.twoFactor.Disable,
		"Two-factor authentication disabled.")
}

func (a *App) askCode(ctx context.Context, prompt string, submit func(context.Context, string) error, okMsg string) error {
	var lastErr error
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		line, err := getSimpleText(a.reader, prompt, os.Stdout)
		if err != nil {
			return err
		}
		if line == "" {
			printlnFn("Cancelled.")
			return nil
		}

		code, err := services.ParseCode(line)
		if err != nil {
			printlnFn(gateway.Message(err))
			lastErr = err
			continue
		}

		err = submit(ctx, code)
		if err == nil {
			printlnFn(okMsg)
			return nil
		}
		lastErr = err
		if errors.Is(err, gateway.ErrUnauthorized) || errors.Is(err, services.ErrSuperseded) {
			return err
		}
		printlnFn("Code rejected:", describe(err))
	}
	printlnFn("Too many attempts.")
	return lastErr
}

// abandonPending drops an enrollment or disable request the dialog left
// open. A finished operation is left alone.
func (a *App) abandonPending(ctx context.Context) {
	switch a.twoFactor.State() {
	case services.TwoFactorSecretIssued, services.TwoFactorDisableRequested:
		_ = a.twoFactor.Cancel(ctx)
	}
}

func describe(err error) string {
	switch {
	case errors.Is(err, services.ErrNotAuthenticated):
		return "not signed in"
	case errors.Is(err, services.ErrInvalidTransition):
		return "another two-factor operation is open"
	default:
		return gateway.Message(err)
	}
}
