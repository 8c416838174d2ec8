package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// PostgresSink writes entries to the audit_log table.
type PostgresSink struct {
	db *sqlx.DB
}

func NewPostgresSink(db *sqlx.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

const insertEntry = `INSERT INTO audit_log
	(id, created_at, user_id, roles, method, path, status, trace_id, remote_addr, user_agent)
	VALUES (:id, :created_at, :user_id, :roles, :method, :path, :status, :trace_id, :remote_addr, :user_agent)`

func (s *PostgresSink) Write(ctx context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if _, err := s.db.NamedExecContext(ctx, insertEntry, entry); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// Recent reads the newest limit entries from the table.
func (s *PostgresSink) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []Entry
	err := s.db.SelectContext(ctx, &entries, `SELECT id, created_at, user_id, roles, method, path, status, trace_id, remote_addr, user_agent
		FROM audit_log ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("select audit entries: %w", err)
	}
	return entries, nil
}
