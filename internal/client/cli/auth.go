package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dmitrijs2005/campuskeeper/internal/client/gateway"
	"github.com/dmitrijs2005/campuskeeper/internal/client/models"
	"github.com/dmitrijs2005/campuskeeper/internal/client/services"
	"github.com/dmitrijs2005/campuskeeper/internal/common"
)

// getSimpleText and getPassword are indirections used to facilitate testing.
// They point to interactive input helpers and can be swapped in tests.
var getSimpleText = GetSimpleText
var getPassword = GetPassword

// Register prompts for the account details and creates the account. It does
// not sign in.
func (a *App) Register(ctx context.Context) error {
	email, err := getSimpleText(a.reader, "Enter email", os.Stdout)
	if err != nil {
		return err
	}

	password, err := getPassword(os.Stdout)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	fullName, err := getSimpleText(a.reader, "Enter full name (optional)", os.Stdout)
	if err != nil {
		return err
	}
	role, err := getSimpleText(a.reader, "Enter role: student, teacher or admin (optional)", os.Stdout)
	if err != nil {
		return err
	}

	parsed, err := parseRoleInput(role)
	if err != nil {
		printlnFn("Registration failed:", gateway.Message(err))
		return err
	}

	id, err := a.session.Register(ctx, models.RegisterRequest{
		Email:       email,
		Password:    string(password),
		DisplayName: fullName,
		Role:        parsed,
	})
	if err != nil {
		printlnFn("Registration failed:", gateway.Message(err))
		return err
	}

	if id != nil && id.Email != "" {
		printlnFn("Account created for", id.Email+". Use 'login' to sign in.")
	} else {
		printlnFn("Account created. Use 'login' to sign in.")
	}
	return nil
}

// parseRoleInput normalises a typed role. Empty input leaves the choice to
// the backend; anything else must name a known role.
func parseRoleInput(s string) (models.Role, error) {
	if strings.TrimSpace(s) == "" {
		return models.RoleUnknown, nil
	}
	r := models.ParseRole(s)
	if r == models.RoleUnknown {
		return "", gateway.NewValidationError(fmt.Sprintf("unknown role %q", strings.TrimSpace(s)))
	}
	return r, nil
}

// Login prompts for credentials and signs in.
func (a *App) Login(ctx context.Context) error {
	email, err := getSimpleText(a.reader, "Enter email", os.Stdout)
	if err != nil {
		return err
	}

	password, err := getPassword(os.Stdout)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	if _, err := a.session.Login(ctx, email, string(password)); err != nil {
		if errors.Is(err, services.ErrInProgress) {
			printlnFn("A sign-in is already in progress.")
		} else {
			printlnFn("Login unsuccessful:", gateway.Message(err))
		}
		return err
	}
	return nil
}

// Logout signs out. Running it twice is harmless.
func (a *App) Logout(ctx context.Context) error {
	wasIn := a.isLoggedIn()
	err := a.session.Logout(ctx)
	if err != nil {
		printlnFn("Signed out, but the saved credential could not be removed:", err)
		return err
	}
	if wasIn {
		printlnFn("Signed out.")
	} else {
		printlnFn("Not signed in.")
	}
	return nil
}

// WhoAmI prints the current identity.
func (a *App) WhoAmI(ctx context.Context) error {
	snap := a.session.Snapshot()
	if snap.Identity == nil {
		if snap.LastError != nil {
			printlnFn("Not signed in:", gateway.Message(snap.LastError))
		} else {
			printlnFn("Not signed in.")
		}
		return nil
	}

	id := snap.Identity
	printlnFn("Email:     ", id.Email)
	if id.DisplayName != "" {
		printlnFn("Name:      ", id.DisplayName)
	}
	printlnFn("Role:      ", id.Role.String())
	printlnFn("Active:    ", id.Active)
	printlnFn("Two-factor:", id.TwoFactorEnabled)
	return nil
}

// Refresh re-reads the identity from the backend.
func (a *App) Refresh(ctx context.Context) error {
	if _, err := a.session.Refresh(ctx); err != nil {
		if errors.Is(err, services.ErrNotAuthenticated) {
			printlnFn("Not signed in.")
		} else if !errors.Is(err, gateway.ErrUnauthorized) {
			printlnFn("Refresh failed:", gateway.Message(err))
		}
		return err
	}
	return a.WhoAmI(ctx)
}

// Retry re-runs bootstrap with the stored credential.
func (a *App) Retry(ctx context.Context) error {
	if a.isLoggedIn() {
		printlnFn("Already signed in.")
		return nil
	}
	err := a.session.Bootstrap(ctx)
	switch {
	case err == nil && !a.isLoggedIn():
		printlnFn("No saved session. Use 'login' to sign in.")
	case errors.Is(err, gateway.ErrUnauthorized):
		printlnFn("Saved session is no longer valid. Use 'login' to sign in.")
	case err != nil && !errors.Is(err, gateway.ErrNetwork):
		printlnFn("Retry failed:", gateway.Message(err))
	}
	return err
}
