package model

import "time"

// Role is the caller's privilege level.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleStaff    Role = "staff"
	RoleOwner    Role = "owner"
)

// IsValid checks whether the role is a known value.
func (r Role) IsValid() bool {
	switch r {
	case RoleCustomer, RoleStaff, RoleOwner:
		return true
	}
	return false
}

// Identity is the resolved caller of a request.
type Identity struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

// Privileged reports whether the identity may see every customer's orders.
func (id *Identity) Privileged() bool {
	return id != nil && (id.Role == RoleStaff || id.Role == RoleOwner)
}

// Session binds an opaque bearer token to an identity. Only the SHA-256 hash
// of the token is stored.
type Session struct {
	TokenHash string    `json:"-"`
	UserID    string    `json:"user_id"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the session is no longer valid at now.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Identity returns the identity the session authenticates.
func (s *Session) Identity() *Identity {
	return &Identity{UserID: s.UserID, Role: s.Role}
}
