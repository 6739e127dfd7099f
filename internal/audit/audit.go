package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"orgdir.io/internal/ids"
	"orgdir.io/internal/obs"
)

// Retention is how long entries are kept before the cleanup sweep removes them.
const Retention = 365 * 24 * time.Hour

// DefaultPageLimit bounds Query when the caller does not ask for a page size.
const (
	DefaultPageLimit = 50
	MaxPageLimit     = 200
)

// SystemActor names entries written without an authenticated actor.
const SystemActor = "System"

// Entry is one append-only audit record. OrganizationID is empty for
// system-wide events; ActorID is empty when no authenticated actor was present.
type Entry struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organization_id,omitempty"`
	ActorID        string         `json:"actor_id,omitempty"`
	ActorName      string         `json:"actor_name,omitempty"`
	ActionType     string         `json:"action_type"`
	EntityType     string         `json:"entity_type"`
	EntityID       string         `json:"entity_id,omitempty"`
	EntityData     map[string]any `json:"entity_data,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Record is the caller-supplied portion of an entry.
type Record struct {
	OrganizationID string
	ActorID        string
	ActorName      string
	ActionType     string
	EntityType     string
	EntityID       string
	EntityData     map[string]any
}

// Filter narrows queries. Zero fields are ignored; the remaining predicates
// are conjunctive.
type Filter struct {
	OrganizationID string
	ActionType     string
	EntityType     string
	From           time.Time
	To             time.Time
}

// Page is one keyset-paginated slice of the log, newest first.
type Page struct {
	Entries    []Entry `json:"entries"`
	HasMore    bool    `json:"has_more"`
	NextCursor string  `json:"next_cursor,omitempty"`
}

// Log appends and queries the security audit trail.
//
// Append never fails its caller: the audit subsystem is diagnostic, and a
// broken sink must not take login or permission checks down with it. The cost
// is losing that one record, which is logged locally and counted.
type Log struct {
	db  *sql.DB
	now func() time.Time
}

// Option configures a Log.
type Option func(*Log)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(l *Log) {
		if fn != nil {
			l.now = fn
		}
	}
}

// NewLog constructs a Log over the shared relational store.
func NewLog(db *sql.DB, opts ...Option) *Log {
	l := &Log{db: db, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append writes one entry synchronously and returns it, or nil when the write
// failed or no sink is configured. It never returns an error.
func (l *Log) Append(ctx context.Context, rec Record) *Entry {
	if l == nil || l.db == nil {
		return nil
	}
	if strings.TrimSpace(rec.ActionType) == "" || strings.TrimSpace(rec.EntityType) == "" {
		return nil
	}
	entry := &Entry{
		ID:             ids.New(),
		OrganizationID: strings.TrimSpace(rec.OrganizationID),
		ActorID:        strings.TrimSpace(rec.ActorID),
		ActorName:      strings.TrimSpace(rec.ActorName),
		ActionType:     rec.ActionType,
		EntityType:     rec.EntityType,
		EntityID:       strings.TrimSpace(rec.EntityID),
		EntityData:     rec.EntityData,
		CreatedAt:      l.now().UTC(),
	}
	if err := l.insert(ctx, entry); err != nil {
		obs.Logger().Error("audit append failed",
			zap.Error(err),
			zap.String("action_type", entry.ActionType),
			zap.String("entity_type", entry.EntityType),
		)
		obs.IncAuditAppendFailure()
		return nil
	}
	return entry
}

func (l *Log) insert(ctx context.Context, entry *Entry) error {
	var data any
	if len(entry.EntityData) > 0 {
		raw, err := json.Marshal(entry.EntityData)
		if err != nil {
			return fmt.Errorf("marshal entity data: %w", err)
		}
		data = raw
	}
	_, err := l.db.ExecContext(ctx,
		`insert into audit_logs(id, organization_id, actor_id, actor_name, action_type, entity_type, entity_id, entity_data, created_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		entry.ID, nullable(entry.OrganizationID), nullable(entry.ActorID), nullable(entry.ActorName),
		entry.ActionType, entry.EntityType, nullable(entry.EntityID), data, entry.CreatedAt,
	)
	return err
}

// Query returns one page of an organization's audit trail.
func (l *Log) Query(ctx context.Context, orgID string, f Filter, cursor string, limit int) (*Page, error) {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return nil, fmt.Errorf("organization id is required")
	}
	f.OrganizationID = orgID
	return l.query(ctx, f, cursor, limit)
}

// QueryAll is the cross-tenant variant for privileged callers. The filter's
// OrganizationID is optional here.
func (l *Log) QueryAll(ctx context.Context, f Filter, cursor string, limit int) (*Page, error) {
	return l.query(ctx, f, cursor, limit)
}

func (l *Log) query(ctx context.Context, f Filter, cursor string, limit int) (*Page, error) {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}

	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.OrganizationID != "" {
		where = append(where, "organization_id = "+arg(f.OrganizationID))
	}
	if f.ActionType != "" {
		where = append(where, "action_type = "+arg(f.ActionType))
	}
	if f.EntityType != "" {
		where = append(where, "entity_type = "+arg(f.EntityType))
	}
	if !f.From.IsZero() {
		where = append(where, "created_at >= "+arg(f.From.UTC()))
	}
	if !f.To.IsZero() {
		where = append(where, "created_at <= "+arg(f.To.UTC()))
	}
	if cursor != "" {
		cur, err := decodeCursor(cursor)
		if err != nil {
			return nil, err
		}
		// Keyset predicate over the composite sort key (created_at, id).
		ts := arg(cur.CreatedAt)
		id := arg(cur.ID)
		where = append(where, fmt.Sprintf("(created_at < %s or (created_at = %s and id < %s))", ts, ts, id))
	}

	q := `select id, organization_id, actor_id, actor_name, action_type, entity_type, entity_id, entity_data, created_at from audit_logs`
	if len(where) > 0 {
		q += " where " + strings.Join(where, " and ")
	}
	// One extra row answers has_more without a count query.
	q += " order by created_at desc, id desc limit " + arg(limit+1)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e       Entry
			orgID   sql.NullString
			actorID sql.NullString
			actor   sql.NullString
			entID   sql.NullString
			data    []byte
		)
		if err := rows.Scan(&e.ID, &orgID, &actorID, &actor, &e.ActionType, &e.EntityType, &entID, &data, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.OrganizationID = orgID.String
		e.ActorID = actorID.String
		e.ActorName = actor.String
		e.EntityID = entID.String
		if len(data) > 0 {
			_ = json.Unmarshal(data, &e.EntityData)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	page := &Page{Entries: entries}
	if len(entries) > limit {
		page.Entries = entries[:limit]
		page.HasMore = true
		page.NextCursor = encodeCursor(page.Entries[limit-1])
	}
	return page, nil
}

// Cleanup deletes entries past the retention window. Safe to run concurrently
// with Append and Query: it only removes rows outside any live cursor window.
func (l *Log) Cleanup(ctx context.Context) (int64, error) {
	if l == nil || l.db == nil {
		return 0, nil
	}
	res, err := l.db.ExecContext(ctx,
		`delete from audit_logs where created_at < $1`,
		l.now().UTC().Add(-Retention),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
