package audit

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRedactMetadata(t *testing.T) {
	in := map[string]any{
		"reasons":        []string{"Missing permission: x"},
		"Password":       "hunter2",
		"reset_token":    "abc",
		"otp_code":       "123456",
		"identifier":     "ana@gym.io",
		"client_API_KEY": "k",
	}
	out := RedactMetadata(in)

	for _, k := range []string{"Password", "reset_token", "otp_code", "client_API_KEY"} {
		if out[k] != Redacted {
			t.Errorf("%s = %v, want redacted", k, out[k])
		}
	}
	if out["identifier"] != "ana@gym.io" {
		t.Errorf("identifier should pass through, got %v", out["identifier"])
	}
	if in["Password"] != "hunter2" {
		t.Error("input map must not be modified")
	}
	if RedactMetadata(nil) != nil {
		t.Error("nil metadata should stay nil")
	}
}

func TestFilter_Normalize(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	f, err := Filter{StartTime: start, EndTime: start.Add(time.Hour)}.Normalize()
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if f.Limit != DefaultQueryLimit {
		t.Errorf("Limit = %d, want %d", f.Limit, DefaultQueryLimit)
	}

	f, _ = Filter{Limit: 5000}.Normalize()
	if f.Limit != MaxQueryLimit {
		t.Errorf("Limit = %d, want %d", f.Limit, MaxQueryLimit)
	}

	_, err = Filter{StartTime: start, EndTime: start.Add(MaxQueryRange + time.Second)}.Normalize()
	if !errors.Is(err, ErrDateRangeExceeded) {
		t.Errorf("Normalize() error = %v, want ErrDateRangeExceeded", err)
	}
}

func TestFilter_Matches(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := Event{Kind: KindAccessDecision, ActorID: "u-1", OrganizationID: "gym-1", Outcome: OutcomeDenied, Timestamp: ts}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty filter", Filter{}, true},
		{"actor match", Filter{ActorID: "u-1"}, true},
		{"actor mismatch", Filter{ActorID: "u-2"}, false},
		{"org mismatch", Filter{OrganizationID: "gym-2"}, false},
		{"kind match", Filter{Kind: KindAccessDecision}, true},
		{"kind mismatch", Filter{Kind: KindLoginFailed}, false},
		{"outcome mismatch", Filter{Outcome: OutcomeAllowed}, false},
		{"before range", Filter{StartTime: ts.Add(time.Minute)}, false},
		{"after range", Filter{EndTime: ts.Add(-time.Minute)}, false},
		{"in range", Filter{StartTime: ts.Add(-time.Minute), EndTime: ts.Add(time.Minute)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(e); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEmissionGuard_OncePerRoute(t *testing.T) {
	g := NewEmissionGuard()

	if !g.ShouldEmit("u-1", "/members") {
		t.Fatal("first evaluation should emit")
	}
	for i := 0; i < 3; i++ {
		if g.ShouldEmit("u-1", "/members") {
			t.Fatal("re-evaluation of the same route should not emit")
		}
	}

	// Another viewer on the same route is a distinct pair.
	if !g.ShouldEmit("u-2", "/members") {
		t.Error("different viewer should emit")
	}

	// Navigating away and back emits again.
	if !g.ShouldEmit("u-1", "/schedule") {
		t.Error("route change should emit")
	}
	if !g.ShouldEmit("u-1", "/members") {
		t.Error("returning to a route should emit")
	}
}

func TestEmissionGuard_Forget(t *testing.T) {
	g := NewEmissionGuard()
	g.ShouldEmit("u-1", "/members")
	g.Forget("u-1")
	if g.Len() != 0 {
		t.Errorf("Len() = %d, want 0", g.Len())
	}
	if !g.ShouldEmit("u-1", "/members") {
		t.Error("forgotten viewer should emit again")
	}
}

func TestEmissionGuard_Sweep(t *testing.T) {
	g := NewEmissionGuard()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	g.ShouldEmit("idle", "/a")
	now = now.Add(time.Hour)
	g.ShouldEmit("active", "/b")

	if removed := g.Sweep(30 * time.Minute); removed != 1 {
		t.Errorf("Sweep() removed %d, want 1", removed)
	}
	if g.Len() != 1 {
		t.Errorf("Len() = %d, want 1", g.Len())
	}
}

func TestEmissionGuard_ConcurrentSameRoute(t *testing.T) {
	g := NewEmissionGuard()
	const n = 50

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		emitted int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.ShouldEmit("u-1", "/reports") {
				mu.Lock()
				emitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if emitted != 1 {
		t.Errorf("emitted = %d, want 1", emitted)
	}
}
