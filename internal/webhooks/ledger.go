// Package webhooks records processed provider events so that redelivered
// webhooks are acknowledged without being applied twice.
package webhooks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/aethex/platform/infra/supabase"
)

// Ledger records provider events. Record reports duplicate=true when the
// event was seen before. Forget removes an event whose processing failed so a
// redelivery is applied.
type Ledger interface {
	Record(ctx context.Context, provider, eventID, eventType string) (duplicate bool, err error)
	Forget(ctx context.Context, provider, eventID string) error
}

// =============================================================================
// Postgres
// =============================================================================

// PostgresLedger stores events in the webhook_events table over a direct
// connection.
type PostgresLedger struct {
	db *sqlx.DB
}

func NewPostgresLedger(db *sqlx.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

func (l *PostgresLedger) Record(ctx context.Context, provider, eventID, eventType string) (bool, error) {
	res, err := l.db.ExecContext(ctx,
		`INSERT INTO webhook_events (provider, event_id, event_type, received_at)
		 VALUES ($1, $2, $3, $4) ON CONFLICT (provider, event_id) DO NOTHING`,
		provider, eventID, eventType, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("record webhook event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record webhook event: %w", err)
	}
	return n == 0, nil
}

func (l *PostgresLedger) Forget(ctx context.Context, provider, eventID string) error {
	if _, err := l.db.ExecContext(ctx,
		`DELETE FROM webhook_events WHERE provider = $1 AND event_id = $2`, provider, eventID); err != nil {
		return fmt.Errorf("forget webhook event: %w", err)
	}
	return nil
}

// =============================================================================
// Supabase
// =============================================================================

// SupabaseLedger stores events in the webhook_events table through PostgREST.
type SupabaseLedger struct {
	db *supabase.Client
}

func NewSupabaseLedger(db *supabase.Client) *SupabaseLedger {
	return &SupabaseLedger{db: db}
}

type eventRow struct {
	Provider   string    `json:"provider"`
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	ReceivedAt time.Time `json:"received_at"`
}

func (l *SupabaseLedger) Record(ctx context.Context, provider, eventID, eventType string) (bool, error) {
	_, err := l.db.From("webhook_events").Insert(eventRow{
		Provider:   provider,
		EventID:    eventID,
		EventType:  eventType,
		ReceivedAt: time.Now().UTC(),
	}).Execute(ctx)
	if err != nil {
		if supabase.IsUniqueViolation(err) {
			return true, nil
		}
		return false, fmt.Errorf("record webhook event: %w", err)
	}
	return false, nil
}

func (l *SupabaseLedger) Forget(ctx context.Context, provider, eventID string) error {
	if _, err := l.db.From("webhook_events").Delete().Eq("provider", provider).Eq("event_id", eventID).Execute(ctx); err != nil {
		return fmt.Errorf("forget webhook event: %w", err)
	}
	return nil
}

// =============================================================================
// Memory
// =============================================================================

// MemoryLedger is a process-local Ledger for tests and single-instance use.
type MemoryLedger struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{seen: make(map[string]struct{})}
}

func (l *MemoryLedger) Record(_ context.Context, provider, eventID, _ string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := provider + ":" + eventID
	if _, ok := l.seen[key]; ok {
		return true, nil
	}
	l.seen[key] = struct{}{}
	return false, nil
}

func (l *MemoryLedger) Forget(_ context.Context, provider, eventID string) error {
	l.mu.Lock()
	delete(l.seen, provider+":"+eventID)
	l.mu.Unlock()
	return nil
}
