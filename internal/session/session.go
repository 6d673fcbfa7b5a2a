// Package session carries the identity of the acting party. Every core
// operation receives a Session explicitly; nothing reads caller identity
// from ambient state.
package session

import (
	"context"
	"fmt"
	"strings"
)

// Role identifies which of the four parties a session acts as.
type Role string

const (
	RoleDoctor    Role = "DOCTOR"
	RolePharmacy  Role = "PHARMACY"
	RoleLogistics Role = "LOGISTICS"
	RolePatient   Role = "PATIENT"
)

func (r Role) String() string { return string(r) }

func (r Role) IsValid() bool {
	switch r {
	case RoleDoctor, RolePharmacy, RoleLogistics, RolePatient:
		return true
	}
	return false
}

// ParseRole parses a role name, case-insensitively.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !r.IsValid() {
		return "", fmt.Errorf("invalid role %q", s)
	}
	return r, nil
}

// Session identifies the acting party for one authenticated client session.
type Session struct {
	// Role is the party the caller acts as.
	Role Role
	// ActorID is the caller's external identifier within its role
	// collection (license number, provider code, patient display id).
	ActorID string
	// Wallet is the signing wallet address, set for parties that
	// submit ledger transactions.
	Wallet string
}

// Validate checks the session carries enough identity to act.
func (s Session) Validate() error {
	if !s.Role.IsValid() {
		return fmt.Errorf("invalid role %q", s.Role)
	}
	if s.ActorID == "" {
		return fmt.Errorf("actor id is required")
	}
	return nil
}

type sessionKey struct{}

// WithSession stores the session in the request context.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// FromContext extracts the session placed by the auth middleware.
func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(Session)
	return s, ok
}
