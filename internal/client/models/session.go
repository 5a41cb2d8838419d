package models

// SessionPhase is where the client session currently stands.
type SessionPhase int

const (
	PhaseUnauthenticated SessionPhase = iota
	PhaseAuthenticating
	PhaseAuthenticated
	PhaseError
)

func (p SessionPhase) String() string {
	switch p {
	case PhaseUnauthenticated:
		return "unauthenticated"
	case PhaseAuthenticating:
		return "authenticating"
	case PhaseAuthenticated:
		return "authenticated"
	case PhaseError:
		return "error"
	default:
		return "invalid"
	}
}
