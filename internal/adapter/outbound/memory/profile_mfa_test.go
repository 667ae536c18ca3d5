package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/repclub/gymgate/internal/domain/access"
	"github.com/repclub/gymgate/internal/domain/policy"
)

func TestProfileDirectory(t *testing.T) {
	t.Parallel()

	d := NewProfileDirectory()
	d.Put(&access.Profile{IdentityID: "u-1", Role: policy.RoleTrainer, OrganizationID: "gym-1"})

	p, err := d.FetchProfile(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("FetchProfile() error: %v", err)
	}
	if p.Role != policy.RoleTrainer {
		t.Errorf("Role = %v", p.Role)
	}
	p.Role = policy.RoleOwner
	again, _ := d.FetchProfile(context.Background(), "u-1")
	if again.Role != policy.RoleTrainer {
		t.Error("FetchProfile should return a copy")
	}

	if _, err := d.FetchProfile(context.Background(), "ghost"); !errors.Is(err, access.ErrProfileNotFound) {
		t.Errorf("FetchProfile(ghost) error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.FetchProfile(ctx, "u-1"); !errors.Is(err, context.Canceled) {
		t.Errorf("FetchProfile(cancelled) error = %v", err)
	}

	d.Delete("u-1")
	if d.Size() != 0 {
		t.Errorf("Size() = %d, want 0", d.Size())
	}
}

func TestMFAStore_VerifyAndExpire(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	s := NewMFAStore(time.Hour, testLogger())
	s.now = clock.Now

	if s.Verified("u-1") {
		t.Fatal("unknown identity should not be verified")
	}
	until := s.MarkVerified("u-1")
	if !until.Equal(clock.Now().Add(time.Hour)) {
		t.Errorf("MarkVerified() = %v", until)
	}
	if !s.Verified("u-1") {
		t.Fatal("should be verified after MarkVerified")
	}

	clock.Advance(time.Hour)
	if s.Verified("u-1") {
		t.Error("verification should expire after ttl")
	}
	if cleaned := s.cleanup(); cleaned != 1 {
		t.Errorf("cleanup() = %d, want 1", cleaned)
	}
}

func TestMFAStore_Revoke(t *testing.T) {
	t.Parallel()

	s := NewMFAStore(0, testLogger())
	s.MarkVerified("u-1")
	s.Revoke("u-1")
	if s.Verified("u-1") || s.Size() != 0 {
		t.Error("Revoke should drop the verification")
	}
}

func TestMFAStore_CleanupLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := NewMFAStore(time.Minute, testLogger())
	s.cleanupInterval = 5 * time.Millisecond
	s.StartCleanup(context.Background())
	time.Sleep(20 * time.Millisecond)
	s.Stop()
	s.Stop()
}
