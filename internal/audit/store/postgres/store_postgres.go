// Package postgres persists the audit trail in PostgreSQL.
//
// Expected schema:
//
//	CREATE TABLE audit_entries (
//	    id          UUID PRIMARY KEY,
//	    ts          TIMESTAMPTZ NOT NULL,
//	    action_type TEXT NOT NULL,
//	    user_id     TEXT NOT NULL,
//	    user_role   TEXT NOT NULL DEFAULT '',
//	    target_id   TEXT NOT NULL DEFAULT '',
//	    target_type TEXT NOT NULL DEFAULT '',
//	    description TEXT NOT NULL,
//	    severity    TEXT NOT NULL,
//	    metadata    JSONB,
//	    ip_address  TEXT NOT NULL DEFAULT '',
//	    user_agent  TEXT NOT NULL DEFAULT ''
//	);
//	CREATE INDEX audit_entries_ts_idx ON audit_entries (ts);
//	CREATE INDEX audit_entries_user_idx ON audit_entries (user_id);
//	CREATE INDEX audit_entries_target_idx ON audit_entries (target_id);
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"mathilda/internal/audit"
)

// PostgresStore implements audit.Store on PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

var _ audit.Store = (*PostgresStore)(nil)

// NewPostgres constructs a PostgreSQL-backed audit store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, entry audit.Entry) error {
	var metadata []byte
	if entry.Metadata != nil {
		var err error
		metadata, err = json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("marshal audit metadata: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_entries
			(id, ts, action_type, user_id, user_role, target_id, target_type,
			 description, severity, metadata, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		entry.ID, entry.Timestamp, string(entry.ActionType), entry.UserID,
		entry.UserRole, entry.TargetID, entry.TargetType, entry.Description,
		string(entry.Severity), metadata, entry.IPAddress, entry.UserAgent,
	)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (*audit.Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, ts, action_type, user_id, user_role, target_id, target_type,
		       description, severity, metadata, ip_address, user_agent
		FROM audit_entries WHERE id = $1`, id)

	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get audit entry: %w", err)
	}
	return entry, nil
}

func (s *PostgresStore) Search(ctx context.Context, opts audit.SearchOptions) (audit.PaginatedResult, error) {
	where, args := buildFilters(opts)

	var total int
	countQuery := "SELECT COUNT(*) FROM audit_entries" + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return audit.PaginatedResult{}, fmt.Errorf("count audit entries: %w", err)
	}

	order := "DESC"
	if opts.SortOrder == audit.SortAsc {
		order = "ASC"
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = total
	}

	query := fmt.Sprintf(`
		SELECT id, ts, action_type, user_id, user_role, target_id, target_type,
		       description, severity, metadata, ip_address, user_agent
		FROM audit_entries%s
		ORDER BY ts %s
		LIMIT $%d OFFSET $%d`, where, order, len(args)+1, len(args)+2)
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return audit.PaginatedResult{}, fmt.Errorf("search audit entries: %w", err)
	}
	defer rows.Close()

	entries := []audit.Entry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return audit.PaginatedResult{}, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return audit.PaginatedResult{}, fmt.Errorf("iterate audit entries: %w", err)
	}

	result := audit.PaginatedResult{
		Entries:    entries,
		TotalCount: total,
		HasMore:    opts.Offset+len(entries) < total,
	}
	if result.HasMore {
		result.NextOffset = opts.Offset + len(entries)
	}
	return result, nil
}

func buildFilters(opts audit.SearchOptions) (string, []any) {
	clauses := []string{}
	args := []any{}

	next := func() int { return len(args) + 1 }

	if !opts.StartDate.IsZero() {
		clauses = append(clauses, fmt.Sprintf("ts >= $%d", next()))
		args = append(args, opts.StartDate)
	}
	if !opts.EndDate.IsZero() {
		clauses = append(clauses, fmt.Sprintf("ts <= $%d", next()))
		args = append(args, opts.EndDate)
	}
	if len(opts.ActionTypes) > 0 {
		clauses = append(clauses, fmt.Sprintf("action_type = ANY($%d)", next()))
		args = append(args, pq.Array(actionStrings(opts.ActionTypes)))
	}
	if len(opts.UserIDs) > 0 {
		clauses = append(clauses, fmt.Sprintf("user_id = ANY($%d)", next()))
		args = append(args, pq.Array(opts.UserIDs))
	}
	if len(opts.TargetIDs) > 0 {
		clauses = append(clauses, fmt.Sprintf("target_id = ANY($%d)", next()))
		args = append(args, pq.Array(opts.TargetIDs))
	}
	if len(opts.Severities) > 0 {
		clauses = append(clauses, fmt.Sprintf("severity = ANY($%d)", next()))
		args = append(args, pq.Array(severityStrings(opts.Severities)))
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*audit.Entry, error) {
	var entry audit.Entry
	var actionType, severity string
	var metadata []byte

	err := row.Scan(&entry.ID, &entry.Timestamp, &actionType, &entry.UserID,
		&entry.UserRole, &entry.TargetID, &entry.TargetType, &entry.Description,
		&severity, &metadata, &entry.IPAddress, &entry.UserAgent)
	if err != nil {
		return nil, err
	}

	entry.ActionType = audit.ActionType(actionType)
	entry.Severity = audit.Severity(severity)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal audit metadata: %w", err)
		}
	}
	return &entry, nil
}

func actionStrings(actions []audit.ActionType) []string {
	out := make([]string, len(actions))
	for i, action := range actions {
		out[i] = string(action)
	}
	return out
}

func severityStrings(severities []audit.Severity) []string {
	out := make([]string, len(severities))
	for i, severity := range severities {
		out[i] = string(severity)
	}
	return out
}
