package auth

import (
	"context"
	"errors"
)

// Sentinel errors for auth store lookups.
var (
	// ErrKeyNotFound is returned when no API key matches a hash.
	ErrKeyNotFound = errors.New("api key not found")
	// ErrIdentityNotFound is returned when an identity does not exist.
	ErrIdentityNotFound = errors.New("identity not found")
)

// AuthStore provides credential lookup for authentication.
// Implementations: in-memory, seeded from config.
type AuthStore interface {
	// GetAPIKey retrieves an API key by its hash.
	// Returns ErrKeyNotFound if the key doesn't exist.
	GetAPIKey(ctx context.Context, keyHash string) (*APIKey, error)

	// GetIdentity retrieves an identity by ID.
	// Returns ErrIdentityNotFound if the identity doesn't exist.
	GetIdentity(ctx context.Context, id string) (*Identity, error)

	// ListAPIKeys returns all stored API keys for iteration-based verification.
	ListAPIKeys(ctx context.Context) ([]*APIKey, error)
}
