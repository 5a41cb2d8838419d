package services

import (
	"context"
	"errors"
	"sync"

	"github.com/dmitrijs2005/campuskeeper/internal/client/client"
	"github.com/dmitrijs2005/campuskeeper/internal/client/gateway"
	"github.com/dmitrijs2005/campuskeeper/internal/client/models"
	"github.com/dmitrijs2005/campuskeeper/internal/common"
	"github.com/dmitrijs2005/campuskeeper/internal/logging"
)

type TwoFactorState int

const (
	TwoFactorIdle TwoFactorState = iota
	TwoFactorSecretIssued
	TwoFactorVerifying
	TwoFactorEnabled
	TwoFactorDisableRequested
	TwoFactorDisabled
)

func (s TwoFactorState) String() string {
	switch s {
	case TwoFactorIdle:
		return "idle"
	case TwoFactorSecretIssued:
		return "secret-issued"
	case TwoFactorVerifying:
		return "verifying"
	case TwoFactorEnabled:
		return "enabled"
	case TwoFactorDisableRequested:
		return "disable-requested"
	case TwoFactorDisabled:
		return "disabled"
	default:
		return "invalid"
	}
}

// atRest reports whether a new enrollment or disable may start from s.
func (s TwoFactorState) atRest() bool {
	return s == TwoFactorIdle || s == TwoFactorEnabled || s == TwoFactorDisabled
}

// TwoFactorMachine drives enabling and disabling the second factor.
//
// The shared secret is held only while the machine is in SecretIssued or
// Verifying. Leaving those states overwrites the buffer with zeros. A wrong
// code keeps the same secret so the user can try again with the same
// authenticator entry.
type TwoFactorMachine struct {
	client  client.Client
	session *SessionService
	logger  logging.Logger

	mu     sync.Mutex
	state  TwoFactorState
	busy   bool
	epoch  uint64
	secret []byte
	uri    string

	unsubscribe func()
}

// NewTwoFactorMachine binds a machine to session. Whenever the session stops
// being Authenticated the machine drops any pending secret and returns to
// Idle.
func NewTwoFactorMachine(c client.Client, session *SessionService, logger logging.Logger) *TwoFactorMachine {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	m := &TwoFactorMachine{client: c, session: session, logger: logger}
	m.unsubscribe = session.Subscribe(m.onSession)
	return m
}

// Close detaches the machine from the session and wipes any pending secret.
func (m *TwoFactorMachine) Close() {
	m.unsubscribe()
	m.mu.Lock()
	m.wipeLocked()
	m.state = TwoFactorIdle
	m.epoch++
	m.mu.Unlock()
}

func (m *TwoFactorMachine) onSession(snap Snapshot) {
	if snap.Phase == models.PhaseAuthenticated {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == TwoFactorIdle && m.secret == nil {
		return
	}
	m.wipeLocked()
	m.epoch++
	m.setLocked(context.Background(), TwoFactorIdle)
}

func (m *TwoFactorMachine) State() TwoFactorState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Enrollment returns a copy of the pending secret and provisioning URI.
func (m *TwoFactorMachine) Enrollment() (models.TwoFactorEnrollment, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != TwoFactorSecretIssued && m.state != TwoFactorVerifying {
		return models.TwoFactorEnrollment{}, false
	}
	return models.TwoFactorEnrollment{Secret: string(m.secret), ProvisioningURI: m.uri}, true
}

// Begin asks the backend for a new secret.
func (m *TwoFactorMachine) Begin(ctx context.Context) (models.TwoFactorEnrollment, error) {
	if m.session.Phase() != models.PhaseAuthenticated {
		return models.TwoFactorEnrollment{}, ErrNotAuthenticated
	}
	epoch, err := m.acquire(func(s TwoFactorState) bool { return s.atRest() })
	if err != nil {
		return models.TwoFactorEnrollment{}, err
	}

	res, err := m.client.EnableTwoFactor(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.busy = false
	if err != nil {
		return models.TwoFactorEnrollment{}, err
	}
	if m.epoch != epoch {
		return models.TwoFactorEnrollment{}, ErrSuperseded
	}

	m.wipeLocked()
	m.secret = []byte(res.Secret)
	m.uri = res.QRURL
	m.setLocked(ctx, TwoFactorSecretIssued)
	return models.TwoFactorEnrollment{Secret: string(m.secret), ProvisioningURI: m.uri}, nil
}

// Verify submits the first code from the authenticator. The code is checked
// locally first; a malformed code never reaches the backend.
func (m *TwoFactorMachine) Verify(ctx context.Context, code string) error {
	if err := ValidateCode(code); err != nil {
		return err
	}

	m.mu.Lock()
	if m.state != TwoFactorSecretIssued || m.busy {
		m.mu.Unlock()
		return ErrInvalidTransition
	}
	m.setLocked(ctx, TwoFactorVerifying)
	epoch := m.epoch
	m.mu.Unlock()

	err := m.client.VerifyTwoFactorSetup(ctx, code)

	m.mu.Lock()
	switch {
	case m.epoch != epoch:
		// Reset by a sign-out while the call was in flight.
		m.mu.Unlock()
		if err != nil {
			return err
		}
		return ErrSuperseded
	case err == nil:
		m.wipeLocked()
		m.setLocked(ctx, TwoFactorEnabled)
	case errors.Is(err, gateway.ErrUnauthorized):
		m.wipeLocked()
		m.setLocked(ctx, TwoFactorIdle)
	default:
		m.setLocked(ctx, TwoFactorSecretIssued)
	}
	m.mu.Unlock()

	if err == nil {
		m.session.setTwoFactor(ctx, true)
	}
	return err
}

// Cancel abandons a pending enrollment or disable request.
func (m *TwoFactorMachine) Cancel(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy || m.state == TwoFactorVerifying {
		return ErrInvalidTransition
	}
	m.wipeLocked()
	m.epoch++
	m.setLocked(ctx, TwoFactorIdle)
	return nil
}

// RequestDisable starts turning the second factor off. The backend is not
// contacted until Disable supplies a code.
func (m *TwoFactorMachine) RequestDisable(ctx context.Context) error {
	if m.session.Phase() != models.PhaseAuthenticated {
		return ErrNotAuthenticated
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy || !m.state.atRest() {
		return ErrInvalidTransition
	}
	m.setLocked(ctx, TwoFactorDisableRequested)
	return nil
}

// Disable confirms a disable request with a current code. On failure the
// request stays open.
func (m *TwoFactorMachine) Disable(ctx context.Context, code string) error {
	if err := ValidateCode(code); err != nil {
		return err
	}
	epoch, err := m.acquire(func(s TwoFactorState) bool { return s == TwoFactorDisableRequested })
	if err != nil {
		return err
	}

	err = m.client.DisableTwoFactor(ctx, code)

	m.mu.Lock()
	m.busy = false
	switch {
	case m.epoch != epoch:
		m.mu.Unlock()
		if err != nil {
			return err
		}
		return ErrSuperseded
	case err == nil:
		m.setLocked(ctx, TwoFactorDisabled)
	case errors.Is(err, gateway.ErrUnauthorized):
		m.setLocked(ctx, TwoFactorIdle)
	}
	m.mu.Unlock()

	if err == nil {
		m.session.setTwoFactor(ctx, false)
	}
	return err
}

// acquire marks the machine busy for one backend call and returns the
// epoch the call belongs to.
func (m *TwoFactorMachine) acquire(allowed func(TwoFactorState) bool) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy {
		return 0, ErrInProgress
	}
	if !allowed(m.state) {
		return 0, ErrInvalidTransition
	}
	m.busy = true
	return m.epoch, nil
}

func (m *TwoFactorMachine) setLocked(ctx context.Context, to TwoFactorState) {
	if m.state != to {
		m.logger.Debug(ctx, "two-factor state changed", "from", m.state.String(), "to", to.String())
	}
	m.state = to
}

func (m *TwoFactorMachine) wipeLocked() {
	common.WipeByteArray(m.secret)
	m.secret = nil
	m.uri = ""
}

// ValidateCode checks that code is exactly six ASCII digits.
func ValidateCode(code string) error {
	if len(code) != common.TwoFactorCodeLength || !common.IsDigits(code) {
		return gateway.NewValidationError("code must be exactly 6 digits")
	}
	return nil
}

// CodeInput collects a second-factor code keystroke by keystroke. Anything
// other than a digit, and any digit past the sixth, is refused as typed.
type CodeInput struct {
	digits []byte
}

var (
	errNotDigit = gateway.NewValidationError("only digits are allowed")
	errCodeFull = gateway.NewValidationError("code is already 6 digits long")
)

func (c *CodeInput) Append(r rune) error {
	if r < '0' || r > '9' {
		return errNotDigit
	}
	if len(c.digits) >= common.TwoFactorCodeLength {
		return errCodeFull
	}
	c.digits = append(c.digits, byte(r))
	return nil
}

func (c *CodeInput) Backspace() {
	if len(c.digits) > 0 {
		c.digits = c.digits[:len(c.digits)-1]
	}
}

func (c *CodeInput) Reset() {
	c.digits = c.digits[:0]
}

func (c *CodeInput) String() string { return string(c.digits) }

// Complete reports whether exactly six digits have been entered.
func (c *CodeInput) Complete() bool { return len(c.digits) == common.TwoFactorCodeLength }

// ParseCode feeds every rune of s through a CodeInput, ignoring spaces, so
// "123 456" is accepted and "12a456" is not.
func ParseCode(s string) (string, error) {
	var in CodeInput
	for _, r := range s {
		if r == ' ' {
			continue
		}
		if err := in.Append(r); err != nil {
			return "", err
		}
	}
	if !in.Complete() {
		return "", gateway.NewValidationError("code must be exactly 6 digits")
	}
	return in.String(), nil
}
