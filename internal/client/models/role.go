package models

import "strings"

// Role is the closed set of portal roles. Anything the backend sends that
// is not one of the known values maps to RoleUnknown.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
	RoleUnknown Role = ""
)

// ParseRole maps a raw role string onto Role. Matching is case-insensitive
// and ignores surrounding whitespace; unrecognised values give RoleUnknown.
func ParseRole(s string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleStudent:
		return RoleStudent
	case RoleTeacher:
		return RoleTeacher
	case RoleAdmin:
		return RoleAdmin
	default:
		return RoleUnknown
	}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r != RoleUnknown && ParseRole(string(r)) == r
}

func (r Role) String() string {
	if r == RoleUnknown {
		return "unknown"
	}
	return string(r)
}
