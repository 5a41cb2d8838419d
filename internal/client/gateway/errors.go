package gateway

import (
	"errors"
	"fmt"
)

// Kind classifies every failure a caller of the gateway can observe.
type Kind int

const (
	// KindNetwork: no response was obtained. Retryable by user action.
	KindNetwork Kind = iota + 1
	// KindUnauthorized: the backend answered 401. The credential is already cleared.
	KindUnauthorized
	// KindApplication: any other non-2xx answer.
	KindApplication
	// KindValidation: rejected on the client before any network call.
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindUnauthorized:
		return "unauthorized"
	case KindApplication:
		return "application"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Sentinels matching each Kind, for errors.Is.
var (
	ErrNetwork      = errors.New("network error")
	ErrUnauthorized = errors.New("unauthorized")
	ErrApplication  = errors.New("application error")
	ErrValidation   = errors.New("validation error")
)

func (k Kind) sentinel() error {
	switch k {
	case KindNetwork:
		return ErrNetwork
	case KindUnauthorized:
		return ErrUnauthorized
	case KindApplication:
		return ErrApplication
	case KindValidation:
		return ErrValidation
	default:
		return nil
	}
}

// Error is the single failure shape returned by the gateway.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindApplication:
		return fmt.Sprintf("%s (status %d): %s", e.Kind.sentinel(), e.Status, e.Message)
	default:
		if s := e.Kind.sentinel(); s != nil {
			return fmt.Sprintf("%s: %s", s, e.Message)
		}
		return e.Message
	}
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.Kind.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// NewValidationError reports bad client-side input.
func NewValidationError(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

// KindOf returns the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// Message returns the user-facing text of err: the server's message for
// gateway errors, err.Error() otherwise.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return err.Error()
}
