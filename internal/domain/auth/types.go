// Package auth contains the domain types and logic for authenticating
// dashboard callers. It produces an Identity; role and tenant data live on
// the separately resolved profile.
package auth

import (
	"time"
)

// Identity represents an authenticated user. Presence of an Identity
// implies a session exists.
type Identity struct {
	// ID is the unique identifier for this identity.
	ID string `json:"id"`
	// Name is the display name for this identity.
	Name string `json:"name,omitempty"`
	// Email is the login identifier.
	Email string `json:"email,omitempty"`
}

// APIKey represents an API key for authentication.
type APIKey struct {
	// Key is the hashed key value (SHA-256 hex or Argon2id PHC format).
	Key string
	// IdentityID maps this key to an Identity.
	IdentityID string
	// Name is a human-readable label for this key.
	Name string
	// CreatedAt is when the key was created (UTC).
	CreatedAt time.Time
	// ExpiresAt is when the key expires (nil = never expires).
	ExpiresAt *time.Time
	// Revoked indicates if the key has been revoked.
	Revoked bool
}

// IsExpired returns true if the API key has expired.
// A key with nil ExpiresAt never expires.
func (k *APIKey) IsExpired() bool {
	if k.ExpiresAt == nil {
		return false
	}
	return time.Now().UTC().After(*k.ExpiresAt)
}
