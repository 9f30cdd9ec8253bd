package postgres

import (
	"context"
	"database/sql"
	"fmt"

	audit "tradegate/pkg/platform/audit"
)

// Schema is the audit event table definition.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id         TEXT        PRIMARY KEY,
	category   TEXT        NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL,
	action     TEXT        NOT NULL,
	subject_id TEXT        NOT NULL DEFAULT '',
	identifier TEXT        NOT NULL DEFAULT '',
	path       TEXT        NOT NULL DEFAULT '',
	reason     TEXT        NOT NULL DEFAULT '',
	request_id TEXT        NOT NULL DEFAULT '',
	client_ip  TEXT        NOT NULL DEFAULT ''
)`

// PostgresStore persists audit events in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed audit store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, event audit.Event) error {
	const query = `
		INSERT INTO audit_events (id, category, occurred_at, action, subject_id, identifier, path, reason, request_id, client_ip)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		event.ID, string(event.Category), event.Timestamp, event.Action,
		event.SubjectID, event.Identifier, event.Path, event.Reason,
		event.RequestID, event.ClientIP,
	)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// ListRecent returns the most recent N events, newest first.
func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	const query = `
		SELECT id, category, occurred_at, action, subject_id, identifier, path, reason, request_id, client_ip
		FROM audit_events
		ORDER BY occurred_at DESC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var e audit.Event
		var category string
		if err := rows.Scan(&e.ID, &category, &e.Timestamp, &e.Action, &e.SubjectID,
			&e.Identifier, &e.Path, &e.Reason, &e.RequestID, &e.ClientIP); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Category = audit.EventCategory(category)
		events = append(events, e)
	}
	return events, rows.Err()
}
