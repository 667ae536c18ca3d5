package memory

import (
	"context"
	"sync"

	"github.com/repclub/gymgate/internal/domain/access"
)

// ProfileDirectory implements access.ProfileSource with an in-memory map
// seeded from config. Thread-safe for concurrent access.
type ProfileDirectory struct {
	profiles map[string]*access.Profile // identityID -> Profile
	mu       sync.RWMutex
}

// NewProfileDirectory creates an empty directory.
func NewProfileDirectory() *ProfileDirectory {
	return &ProfileDirectory{profiles: make(map[string]*access.Profile)}
}

// FetchProfile returns a copy of the profile for identityID.
// Returns access.ErrProfileNotFound if there is none.
func (d *ProfileDirectory) FetchProfile(ctx context.Context, identityID string) (*access.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	p, ok := d.profiles[identityID]
	if !ok {
		return nil, access.ErrProfileNotFound
	}
	profileCopy := *p
	return &profileCopy, nil
}

// Put adds or replaces a profile.
func (d *ProfileDirectory) Put(p *access.Profile) {
	d.mu.Lock()
	defer d.mu.Unlock()

	profileCopy := *p
	d.profiles[p.IdentityID] = &profileCopy
}

// Delete removes the profile for identityID.
func (d *ProfileDirectory) Delete(identityID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.profiles, identityID)
}

// Size returns the number of profiles.
func (d *ProfileDirectory) Size() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.profiles)
}

var _ access.ProfileSource = (*ProfileDirectory)(nil)
