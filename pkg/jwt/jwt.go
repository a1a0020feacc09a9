package jwt

import (
	"errors"
	"slices"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Role is the campus role attached to a session token
type Role string

const (
	RoleStudent    Role = "student"
	RoleHOD        Role = "hod"
	RoleClubAdmin  Role = "club_admin"
	RoleSuperAdmin Role = "super_admin"
)

// Roles lists every role the identity provider may issue
var Roles = []Role{RoleStudent, RoleHOD, RoleClubAdmin, RoleSuperAdmin}

// Valid reports whether r is a known campus role
func (r Role) Valid() bool {
	return slices.Contains(Roles, r)
}

// Claims represents the claims in a session token. The subject is the
// identity provider's user id.
type Claims struct {
	Role Role `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the authenticated user id
func (c *Claims) UserID() string {
	return c.Subject
}

// HasRole reports whether the claims carry any of roles
func (c *Claims) HasRole(roles ...Role) bool {
	return slices.Contains(roles, c.Role)
}
