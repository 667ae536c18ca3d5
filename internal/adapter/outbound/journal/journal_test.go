package journal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/repclub/gymgate/internal/domain/audit"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTest(t *testing.T, cfg Config) *Journal {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	j, err := open(cfg, testLogger(), func() time.Time { return testNow }, time.Hour)
	if err != nil {
		t.Fatalf("open() error: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func eventAt(i int, ts time.Time) audit.Event {
	return audit.Event{
		ID:             fmt.Sprintf("evt-%d", i),
		Kind:           audit.KindAccessDecision,
		ActorID:        "u-1",
		OrganizationID: "gym-1",
		Subject:        "/members",
		Outcome:        audit.OutcomeAllowed,
		Timestamp:      ts,
	}
}

func TestParseDayFile(t *testing.T) {
	tests := []struct {
		name      string
		wantOK    bool
		wantDay   string
		wantChunk int
	}{
		{"journal-2026-03-10.jsonl", true, "2026-03-10", 0},
		{"journal-2026-03-10.4.jsonl", true, "2026-03-10", 4},
		{"journal-2026-03-10.log", false, "", 0},
		{"audit-2026-03-10.jsonl", false, "", 0},
		{"journal-2026-3-10.jsonl", false, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, ok := parseDayFile(tt.name)
			if ok != tt.wantOK {
				t.Fatalf("parseDayFile(%q) ok = %v", tt.name, ok)
			}
			if ok && (f.day != tt.wantDay || f.chunk != tt.wantChunk) {
				t.Errorf("parseDayFile(%q) = %+v", tt.name, f)
			}
			if ok && dayFileName(f.day, f.chunk) != tt.name {
				t.Errorf("dayFileName round trip = %q", dayFileName(f.day, f.chunk))
			}
		})
	}
}

func TestJournal_AppendRotatesByDay(t *testing.T) {
	j := openTest(t, Config{})
	ctx := context.Background()

	yesterday := testNow.Add(-24 * time.Hour)
	if err := j.Append(ctx, eventAt(1, yesterday), eventAt(2, testNow), eventAt(3, testNow.Add(time.Minute))); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	for _, name := range []string{"journal-2026-03-09.jsonl", "journal-2026-03-10.jsonl"} {
		if _, err := os.Stat(filepath.Join(j.dir, name)); err != nil {
			t.Errorf("expected %s: %v", name, err)
		}
	}

	recent := j.Recent(10)
	if len(recent) != 3 || recent[0].ID != "evt-3" {
		t.Errorf("Recent() = %+v", recent)
	}
}

func TestJournal_AppendRotatesBySize(t *testing.T) {
	j := openTest(t, Config{})
	j.maxFileSize = 200
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := j.Append(ctx, eventAt(i, testNow)); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
	}

	files := j.listFiles()
	if len(files) < 2 {
		t.Fatalf("expected size rotation, got files %+v", files)
	}
	if files[len(files)-1].chunk == 0 {
		t.Error("newest file should be a numbered chunk")
	}

	got, err := j.Query(ctx, audit.Filter{})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(got) != 5 || got[0].ID != "evt-4" || got[4].ID != "evt-0" {
		t.Errorf("Query() across chunks = %d events, first %v", len(got), got)
	}
}

func TestJournal_Query(t *testing.T) {
	j := openTest(t, Config{})
	ctx := context.Background()

	denied := eventAt(2, testNow.Add(-48*time.Hour))
	denied.Outcome = audit.OutcomeDenied
	other := eventAt(3, testNow)
	other.ActorID = "u-2"
	if err := j.Append(ctx, eventAt(1, testNow.Add(-72*time.Hour)), denied, other); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	tests := []struct {
		name    string
		filter  audit.Filter
		wantIDs []string
	}{
		{"everything newest first", audit.Filter{}, []string{"evt-3", "evt-2", "evt-1"}},
		{"by outcome", audit.Filter{Outcome: audit.OutcomeDenied}, []string{"evt-2"}},
		{"by actor", audit.Filter{ActorID: "u-2"}, []string{"evt-3"}},
		{"limit", audit.Filter{Limit: 2}, []string{"evt-3", "evt-2"}},
		{
			"time range skips other days",
			audit.Filter{StartTime: testNow.Add(-50 * time.Hour), EndTime: testNow.Add(-time.Hour)},
			[]string{"evt-2"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := j.Query(ctx, tt.filter)
			if err != nil {
				t.Fatalf("Query() error: %v", err)
			}
			var ids []string
			for _, e := range got {
				ids = append(ids, e.ID)
			}
			if strings.Join(ids, ",") != strings.Join(tt.wantIDs, ",") {
				t.Errorf("Query() = %v, want %v", ids, tt.wantIDs)
			}
		})
	}

	_, err := j.Query(ctx, audit.Filter{StartTime: testNow.Add(-40 * 24 * time.Hour), EndTime: testNow})
	if !errors.Is(err, audit.ErrDateRangeExceeded) {
		t.Errorf("Query(40 days) error = %v", err)
	}
}

func TestJournal_PruneExpiredFiles(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "journal-2026-01-01.jsonl")
	keep := filepath.Join(dir, "journal-2026-03-05.jsonl")
	unrelated := filepath.Join(dir, "notes.txt")
	for _, p := range []string{old, keep, unrelated} {
		if err := os.WriteFile(p, nil, 0o600); err != nil {
			t.Fatal(err)
		}
	}

	openTest(t, Config{Dir: dir, RetentionDays: 7})

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("file past retention should be removed on open")
	}
	for _, p := range []string{keep, unrelated} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("%s should survive pruning: %v", filepath.Base(p), err)
		}
	}
}

func TestJournal_ReopenWarmsCache(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	j, err := open(Config{Dir: dir}, testLogger(), func() time.Time { return testNow }, time.Hour)
	if err != nil {
		t.Fatalf("open() error: %v", err)
	}
	_ = j.Append(ctx, eventAt(1, testNow), eventAt(2, testNow))
	if err := j.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	// A torn line at the tail is skipped.
	f, _ := os.OpenFile(filepath.Join(dir, "journal-2026-03-10.jsonl"), os.O_APPEND|os.O_WRONLY, 0o600)
	_, _ = f.WriteString("{\"id\":\n")
	_ = f.Close()

	reopened := openTest(t, Config{Dir: dir, CacheSize: 1})
	recent := reopened.Recent(10)
	if len(recent) != 1 || recent[0].ID != "evt-2" {
		t.Errorf("Recent() after reopen = %+v", recent)
	}
}

func TestJournal_Closed(t *testing.T) {
	defer goleak.VerifyNone(t)

	j, err := open(Config{Dir: t.TempDir()}, testLogger(), time.Now, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("open() error: %v", err)
	}
	time.Sleep(15 * time.Millisecond)

	if err := j.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
	if err := j.Append(context.Background(), eventAt(1, time.Now())); !errors.Is(err, audit.ErrStoreClosed) {
		t.Errorf("Append() after close error = %v", err)
	}
}

func TestOpen_RequiresDir(t *testing.T) {
	if _, err := Open(Config{}, testLogger()); err == nil {
		t.Error("Open() without a directory should fail")
	}
}
