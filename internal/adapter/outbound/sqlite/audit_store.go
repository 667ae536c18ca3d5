// Package sqlite provides a durable audit store on an embedded SQLite
// database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	// Registers the "sqlite" database/sql driver.
	_ "modernc.org/sqlite"

	"github.com/repclub/gymgate/internal/domain/audit"
)

// schema creates the event table and triggers that reject any UPDATE or
// DELETE, so the table can only grow.
const schema = `
create table if not exists audit_events (
	seq             integer primary key autoincrement,
	id              text not null unique,
	kind            text not null,
	actor_id        text not null default '',
	organization_id text not null default '',
	subject         text not null,
	outcome         text not null,
	metadata        text,
	occurred_at     integer not null
);
create index if not exists audit_events_occurred_at on audit_events(occurred_at);
create index if not exists audit_events_actor on audit_events(actor_id, occurred_at);
create trigger if not exists audit_events_no_update before update on audit_events
begin
	select raise(abort, 'audit events are append-only');
end;
create trigger if not exists audit_events_no_delete before delete on audit_events
begin
	select raise(abort, 'audit events are append-only');
end;
`

// AuditStore implements audit.Store and audit.QueryStore on SQLite.
type AuditStore struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
}

// Open opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for a private in-memory database.
func Open(ctx context.Context, path string) (*AuditStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	// A single connection serializes writers and keeps ":memory:" shared.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply audit schema: %w", err)
	}
	return &AuditStore{db: db}, nil
}

// Append inserts events in one transaction.
func (s *AuditStore) Append(ctx context.Context, events ...audit.Event) error {
	if len(events) == 0 {
		return nil
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return audit.ErrStoreClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`insert into audit_events(id, kind, actor_id, organization_id, subject, outcome, metadata, occurred_at)
		 values(?,?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("prepare audit append: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		var meta []byte
		if len(e.Metadata) > 0 {
			if meta, err = json.Marshal(e.Metadata); err != nil {
				return fmt.Errorf("encode metadata for event %s: %w", e.ID, err)
			}
		}
		if _, err := stmt.ExecContext(ctx,
			e.ID, string(e.Kind), e.ActorID, e.OrganizationID, e.Subject, e.Outcome,
			nullableText(meta), e.Timestamp.UTC().UnixNano(),
		); err != nil {
			return fmt.Errorf("insert audit event %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

func nullableText(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

// Query returns events matching filter, newest first.
func (s *AuditStore) Query(ctx context.Context, filter audit.Filter) ([]audit.Event, error) {
	filter, err := filter.Normalize()
	if err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	if !filter.StartTime.IsZero() {
		where = append(where, "occurred_at >= ?")
		args = append(args, filter.StartTime.UTC().UnixNano())
	}
	if !filter.EndTime.IsZero() {
		where = append(where, "occurred_at <= ?")
		args = append(args, filter.EndTime.UTC().UnixNano())
	}
	if filter.ActorID != "" {
		where = append(where, "actor_id = ?")
		args = append(args, filter.ActorID)
	}
	if filter.OrganizationID != "" {
		where = append(where, "organization_id = ?")
		args = append(args, filter.OrganizationID)
	}
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if filter.Outcome != "" {
		where = append(where, "outcome = ?")
		args = append(args, filter.Outcome)
	}

	query := `select id, kind, actor_id, organization_id, subject, outcome, metadata, occurred_at from audit_events`
	if len(where) > 0 {
		query += " where " + strings.Join(where, " and ")
	}
	query += " order by occurred_at desc, seq desc limit ?"
	args = append(args, filter.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var res []audit.Event
	for rows.Next() {
		var (
			e        audit.Event
			kind     string
			metadata sql.NullString
			nanos    int64
		)
		if err := rows.Scan(&e.ID, &kind, &e.ActorID, &e.OrganizationID, &e.Subject, &e.Outcome, &metadata, &nanos); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Kind = audit.Kind(kind)
		e.Timestamp = time.Unix(0, nanos).UTC()
		if metadata.Valid {
			_ = json.Unmarshal([]byte(metadata.String), &e.Metadata)
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// Count returns the number of stored events.
func (s *AuditStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `select count(*) from audit_events`).Scan(&n)
	return n, err
}

// Flush is a no-op: every Append commits.
func (s *AuditStore) Flush(ctx context.Context) error {
	return nil
}

// Close closes the database. Safe to call multiple times.
func (s *AuditStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Compile-time interface verification.
var (
	_ audit.Store      = (*AuditStore)(nil)
	_ audit.QueryStore = (*AuditStore)(nil)
)
