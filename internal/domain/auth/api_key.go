package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/alexedwards/argon2id"
)

// ErrInvalidKey is returned when an API key is unknown, expired or revoked.
var ErrInvalidKey = errors.New("invalid api key")

// ErrUnknownHashType is returned when a stored hash has an unrecognized format.
var ErrUnknownHashType = errors.New("unknown hash type")

// Hash type names returned by DetectHashType.
const (
	HashTypeArgon2id = "argon2id"
	HashTypeSHA256   = "sha256"
	HashTypeUnknown  = "unknown"
)

// APIKeyService validates API keys and returns identities.
type APIKeyService struct {
	store AuthStore
}

// NewAPIKeyService creates a new APIKeyService with the given store.
func NewAPIKeyService(store AuthStore) *APIKeyService {
	return &APIKeyService{store: store}
}

// Authenticate checks a raw API key and returns the associated identity.
// Returns ErrInvalidKey if the key is unknown, expired, or revoked.
//
// SHA-256 hashes are looked up directly; Argon2id hashes require
// iterating the stored keys.
func (s *APIKeyService) Authenticate(ctx context.Context, rawKey string) (*Identity, error) {
	if rawKey == "" {
		return nil, ErrInvalidKey
	}

	apiKey, err := s.store.GetAPIKey(ctx, HashKey(rawKey))
	if err == nil {
		return s.resolve(ctx, apiKey)
	}

	allKeys, err := s.store.ListAPIKeys(ctx)
	if err != nil {
		return nil, ErrInvalidKey
	}
	for _, candidate := range allKeys {
		if DetectHashType(candidate.Key) != HashTypeArgon2id {
			continue
		}
		match, verifyErr := VerifyKey(rawKey, candidate.Key)
		if verifyErr != nil {
			continue
		}
		if match {
			return s.resolve(ctx, candidate)
		}
	}

	return nil, ErrInvalidKey
}

func (s *APIKeyService) resolve(ctx context.Context, apiKey *APIKey) (*Identity, error) {
	if apiKey.Revoked || apiKey.IsExpired() {
		return nil, ErrInvalidKey
	}
	identity, err := s.store.GetIdentity(ctx, apiKey.IdentityID)
	if err != nil {
		return nil, fmt.Errorf("resolve identity %s: %w", apiKey.IdentityID, err)
	}
	return identity, nil
}

// BearerToken extracts the token from an Authorization header value.
// Returns "" when the header is not a bearer credential.
func BearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// HashKey returns the SHA-256 hex hash of the raw key.
func HashKey(rawKey string) string {
	hash := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(hash[:])
}

// NormalizeStoredHash strips the "sha256:" prefix used in config files so
// SHA-256 hashes can be looked up directly. Argon2id hashes are unchanged.
func NormalizeStoredHash(storedHash string) string {
	return strings.TrimPrefix(storedHash, "sha256:")
}

// argon2idParams follows the OWASP minimum for Argon2id.
var argon2idParams = &argon2id.Params{
	Memory:      47 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashKeyArgon2id returns an Argon2id hash of the raw key in PHC format:
// $argon2id$v=19$m=48128,t=1,p=1$<salt>$<hash>
func HashKeyArgon2id(rawKey string) (string, error) {
	return argon2id.CreateHash(rawKey, argon2idParams)
}

// DetectHashType identifies the hash algorithm used for a stored hash.
func DetectHashType(storedHash string) string {
	if strings.HasPrefix(storedHash, "$argon2id$") {
		return HashTypeArgon2id
	}
	if strings.HasPrefix(storedHash, "sha256:") {
		return HashTypeSHA256
	}
	if len(storedHash) == 64 && isHexString(storedHash) {
		return HashTypeSHA256
	}
	return HashTypeUnknown
}

func isHexString(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// VerifyKey verifies a raw key against a stored Argon2id or SHA-256 hash.
// SHA-256 comparison is constant time.
func VerifyKey(rawKey, storedHash string) (bool, error) {
	switch DetectHashType(storedHash) {
	case HashTypeArgon2id:
		return safeArgon2idCompare(rawKey, storedHash)
	case HashTypeSHA256:
		expected := NormalizeStoredHash(storedHash)
		computed := HashKey(rawKey)
		return subtle.ConstantTimeCompare([]byte(computed), []byte(strings.ToLower(expected))) == 1, nil
	default:
		return false, ErrUnknownHashType
	}
}

// safeArgon2idCompare converts panics from malformed Argon2id parameters
// (t=0, p=0) into errors.
func safeArgon2idCompare(rawKey, storedHash string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(rawKey, storedHash)
}
