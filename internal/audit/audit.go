// Package audit keeps a bounded in-memory log of mutating API requests with
// optional durable persistence.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/aethex/platform/internal/logging"
)

// Entry is one audited request.
type Entry struct {
	ID         string    `json:"id,omitempty" db:"id"`
	Time       time.Time `json:"time" db:"created_at"`
	UserID     string    `json:"user_id,omitempty" db:"user_id"`
	Roles      string    `json:"roles,omitempty" db:"roles"`
	Method     string    `json:"method" db:"method"`
	Path       string    `json:"path" db:"path"`
	Status     int       `json:"status" db:"status"`
	TraceID    string    `json:"trace_id,omitempty" db:"trace_id"`
	RemoteAddr string    `json:"remote_addr,omitempty" db:"remote_addr"`
	UserAgent  string    `json:"user_agent,omitempty" db:"user_agent"`
}

// Sink persists entries.
type Sink interface {
	Write(ctx context.Context, entry Entry) error
}

// Log is a ring buffer of recent entries.
type Log struct {
	mu      sync.Mutex
	entries []Entry
	max     int
	sink    Sink
	logger  *logging.Logger
}

// NewLog creates a Log holding at most max entries. sink may be nil.
func NewLog(max int, sink Sink, logger *logging.Logger) *Log {
	if max <= 0 {
		max = 200
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Log{max: max, sink: sink, logger: logger}
}

// Add records entry. Sink failures are logged and never surface to callers.
func (l *Log) Add(ctx context.Context, entry Entry) {
	if entry.Time.IsZero() {
		entry.Time = time.Now().UTC()
	}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
	l.mu.Unlock()

	if l.sink != nil {
		if err := l.sink.Write(ctx, entry); err != nil {
			l.logger.WithContext(ctx).WithError(err).Warn("audit sink write failed")
		}
	}
}

// List returns all buffered entries, oldest first.
func (l *Log) List() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Recent returns up to limit entries, newest first.
func (l *Log) Recent(limit int) []Entry {
	if limit <= 0 || limit > l.max {
		limit = l.max
	}
	all := l.List()
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	return all
}
