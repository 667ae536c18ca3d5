package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/repclub/gymgate/internal/domain/auth"
	"github.com/repclub/gymgate/internal/domain/ratelimit"
)

// ErrLoginTaken is returned when two identities claim the same login email.
var ErrLoginTaken = errors.New("login email already belongs to another identity")

// AuthStore holds the staff identities and API keys seeded from config at
// start. Each login email names at most one identity.
type AuthStore struct {
	mu         sync.RWMutex
	keys       map[string]*auth.APIKey   // normalized hash -> key
	identities map[string]*auth.Identity // identity ID -> identity
	logins     map[string]string         // normalized email -> identity ID
}

// NewAuthStore creates an empty store.
func NewAuthStore() *AuthStore {
	return &AuthStore{
		keys:       make(map[string]*auth.APIKey),
		identities: make(map[string]*auth.Identity),
		logins:     make(map[string]string),
	}
}

// GetAPIKey returns a copy of the key stored under keyHash, or
// auth.ErrKeyNotFound.
func (s *AuthStore) GetAPIKey(ctx context.Context, keyHash string) (*auth.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.keys[keyHash]
	if !ok {
		return nil, auth.ErrKeyNotFound
	}
	k := *key
	return &k, nil
}

// GetIdentity returns a copy of the identity, or auth.ErrIdentityNotFound.
func (s *AuthStore) GetIdentity(ctx context.Context, id string) (*auth.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	identity, ok := s.identities[id]
	if !ok {
		return nil, auth.ErrIdentityNotFound
	}
	i := *identity
	return &i, nil
}

// AddIdentity stores identity, replacing any previous identity with the same
// ID. Its email is indexed as a login identifier in lockout form.
func (s *AuthStore) AddIdentity(identity *auth.Identity) error {
	login := ratelimit.NormalizeIdentifier(identity.Email)

	s.mu.Lock()
	defer s.mu.Unlock()

	if login != "" {
		if owner, ok := s.logins[login]; ok && owner != identity.ID {
			return fmt.Errorf("%w: %s", ErrLoginTaken, login)
		}
	}
	if prev, ok := s.identities[identity.ID]; ok {
		delete(s.logins, ratelimit.NormalizeIdentifier(prev.Email))
	}

	i := *identity
	s.identities[identity.ID] = &i
	if login != "" {
		s.logins[login] = identity.ID
	}
	return nil
}

// AddKey stores key. "sha256:<hex>" hashes are kept under the bare hex so
// direct lookups find them.
func (s *AuthStore) AddKey(key *auth.APIKey) {
	k := *key
	k.Key = auth.NormalizeStoredHash(key.Key)

	s.mu.Lock()
	s.keys[k.Key] = &k
	s.mu.Unlock()
}

// RemoveKey drops the key stored under keyHash.
func (s *AuthStore) RemoveKey(keyHash string) {
	s.mu.Lock()
	delete(s.keys, auth.NormalizeStoredHash(keyHash))
	s.mu.Unlock()
}

// ListAPIKeys returns copies of every key, for argon2id hashes that can only
// be verified one by one.
func (s *AuthStore) ListAPIKeys(ctx context.Context) ([]*auth.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*auth.APIKey, 0, len(s.keys))
	for _, key := range s.keys {
		k := *key
		out = append(out, &k)
	}
	return out, nil
}

var _ auth.AuthStore = (*AuthStore)(nil)
