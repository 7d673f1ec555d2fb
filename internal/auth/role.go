package auth

import (
	"fmt"
	"strings"
)

// Role is the closed set of campus roles. Anything outside the three
// constants is rejected at parse time so downstream code can match
// exhaustively instead of comparing strings.
type Role string

const (
	RoleStudent Role = "student"
	RoleClub    Role = "club"
	RoleMentor  Role = "mentor"
)

// ParseRole validates a raw role string.
func ParseRole(raw string) (Role, error) {
	switch Role(strings.TrimSpace(strings.ToLower(raw))) {
	case RoleStudent:
		return RoleStudent, nil
	case RoleClub:
		return RoleClub, nil
	case RoleMentor:
		return RoleMentor, nil
	}
	return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, raw)
}

func (r Role) String() string { return string(r) }

// Valid reports whether the role is one of the three known constants.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleClub, RoleMentor:
		return true
	}
	return false
}
