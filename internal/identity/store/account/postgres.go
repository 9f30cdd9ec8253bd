package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tradegate/internal/identity/models"
	"tradegate/internal/identity/ports"
)

// Schema is the account projection table definition.
const Schema = `
CREATE TABLE IF NOT EXISTS account_projections (
	subject_id   TEXT        PRIMARY KEY,
	role         TEXT        NOT NULL DEFAULT 'user',
	status       TEXT        NOT NULL DEFAULT 'active',
	locked_until TIMESTAMPTZ
)`

// PostgresStore reads and upserts account projections in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, subjectID string) (*models.AccountProjection, error) {
	const query = `
		SELECT subject_id, role, status, locked_until
		FROM account_projections
		WHERE subject_id = $1
	`
	var (
		p           models.AccountProjection
		role        string
		status      string
		lockedUntil sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, subjectID).Scan(&p.SubjectID, &role, &status, &lockedUntil)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account projection: %w", err)
	}
	p.Role = models.Role(role)
	p.Status = models.Status(status)
	if lockedUntil.Valid {
		t := lockedUntil.Time.UTC()
		p.LockedUntil = &t
	}
	return &p, nil
}

// EnsureRole upserts the role for a subject, leaving status and lock state
// untouched for existing rows.
func (s *PostgresStore) EnsureRole(ctx context.Context, subjectID string, role models.Role) error {
	const query = `
		INSERT INTO account_projections (subject_id, role)
		VALUES ($1, $2)
		ON CONFLICT (subject_id) DO UPDATE SET role = EXCLUDED.role
	`
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, query, subjectID, string(role)); err != nil {
		return fmt.Errorf("ensure role: %w", err)
	}
	return nil
}
