// Package postgres persists custom permission overrides in PostgreSQL.
//
// Expected schema:
//
//	CREATE TABLE custom_permissions (
//	    user_id TEXT PRIMARY KEY,
//	    granted TEXT[] NOT NULL DEFAULT '{}',
//	    denied  TEXT[] NOT NULL DEFAULT '{}'
//	);
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"mathilda/internal/permission"
)

// PostgresStore implements permission.Store on PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

var _ permission.Store = (*PostgresStore)(nil)

// NewPostgres constructs a PostgreSQL-backed custom-permissions store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Load(ctx context.Context) ([]permission.CustomPermissions, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, granted, denied FROM custom_permissions`)
	if err != nil {
		return nil, fmt.Errorf("load custom permissions: %w", err)
	}
	defer rows.Close()

	var all []permission.CustomPermissions
	for rows.Next() {
		var perms permission.CustomPermissions
		var granted, denied []string
		if err := rows.Scan(&perms.UserID, pq.Array(&granted), pq.Array(&denied)); err != nil {
			return nil, fmt.Errorf("scan custom permissions: %w", err)
		}
		perms.Granted = toPermissions(granted)
		perms.Denied = toPermissions(denied)
		all = append(all, perms)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate custom permissions: %w", err)
	}
	return all, nil
}

func (s *PostgresStore) Save(ctx context.Context, perms permission.CustomPermissions) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO custom_permissions (user_id, granted, denied)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET granted = $2, denied = $3`,
		perms.UserID, pq.Array(toStrings(perms.Granted)), pq.Array(toStrings(perms.Denied)))
	if err != nil {
		return fmt.Errorf("save custom permissions: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM custom_permissions WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete custom permissions: %w", err)
	}
	return nil
}

func toStrings(perms []permission.Permission) []string {
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return out
}

func toPermissions(raw []string) []permission.Permission {
	out := make([]permission.Permission, len(raw))
	for i, s := range raw {
		out[i] = permission.Permission(s)
	}
	return out
}
