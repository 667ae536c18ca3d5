package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/repclub/gymgate/internal/domain/audit"
)

func openTestStore(t *testing.T) *AuditStore {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func event(i int, actor, outcome string) audit.Event {
	return audit.Event{
		ID:             fmt.Sprintf("evt-%d", i),
		Kind:           audit.KindAccessDecision,
		ActorID:        actor,
		OrganizationID: "gym-1",
		Subject:        "/members",
		Outcome:        outcome,
		Timestamp:      time.Date(2026, 3, 1, 9, 0, i, 0, time.UTC),
	}
}

func TestAuditStore_AppendAndQuery(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	withMeta := event(2, "u-1", audit.OutcomeDenied)
	withMeta.Metadata = map[string]any{"role": "Member"}
	if err := store.Append(ctx, event(1, "u-1", audit.OutcomeAllowed), withMeta, event(3, "u-2", audit.OutcomeAllowed)); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	all, err := store.Query(ctx, audit.Filter{})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Query() returned %d, want 3", len(all))
	}
	if all[0].ID != "evt-3" || all[2].ID != "evt-1" {
		t.Errorf("Query() should be newest first, got %s..%s", all[0].ID, all[2].ID)
	}
	if !all[2].Timestamp.Equal(time.Date(2026, 3, 1, 9, 0, 1, 0, time.UTC)) {
		t.Errorf("Timestamp = %v", all[2].Timestamp)
	}

	denied, _ := store.Query(ctx, audit.Filter{Outcome: audit.OutcomeDenied})
	if len(denied) != 1 || denied[0].Metadata["role"] != "Member" {
		t.Errorf("Query(denied) = %+v", denied)
	}

	byActor, _ := store.Query(ctx, audit.Filter{ActorID: "u-1", Limit: 1})
	if len(byActor) != 1 || byActor[0].ID != "evt-2" {
		t.Errorf("Query(u-1, limit 1) = %+v", byActor)
	}

	ranged, _ := store.Query(ctx, audit.Filter{
		StartTime: time.Date(2026, 3, 1, 9, 0, 2, 0, time.UTC),
		EndTime:   time.Date(2026, 3, 1, 9, 0, 2, 0, time.UTC),
	})
	if len(ranged) != 1 || ranged[0].ID != "evt-2" {
		t.Errorf("Query(range) = %+v", ranged)
	}

	n, err := store.Count(ctx)
	if err != nil || n != 3 {
		t.Errorf("Count() = %d, %v", n, err)
	}
}

func TestAuditStore_AppendOnly(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	store.Append(ctx, event(1, "u-1", audit.OutcomeAllowed))

	if _, err := store.db.ExecContext(ctx, `update audit_events set outcome = 'denied'`); err == nil {
		t.Error("update should be rejected")
	}
	if _, err := store.db.ExecContext(ctx, `delete from audit_events`); err == nil {
		t.Error("delete should be rejected")
	}
	if n, _ := store.Count(ctx); n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
}

func TestAuditStore_DuplicateIDRejected(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	if err := store.Append(ctx, event(1, "u-1", audit.OutcomeAllowed)); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	if err := store.Append(ctx, event(2, "u-1", audit.OutcomeAllowed), event(1, "u-1", audit.OutcomeAllowed)); err == nil {
		t.Fatal("duplicate id should fail")
	}
	// The failed batch is rolled back as a whole.
	if n, _ := store.Count(ctx); n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
}

func TestAuditStore_ReopenKeepsEvents(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "audit.db")

	store, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	store.Append(ctx, event(1, "u-1", audit.OutcomeAllowed))
	store.Close()

	reopened, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer reopened.Close()
	if n, _ := reopened.Count(ctx); n != 1 {
		t.Errorf("Count() after reopen = %d, want 1", n)
	}
}

func TestAuditStore_Closed(t *testing.T) {
	store, err := Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
	if err := store.Append(context.Background(), event(1, "", audit.OutcomeAllowed)); !errors.Is(err, audit.ErrStoreClosed) {
		t.Errorf("Append() after close error = %v", err)
	}
}
