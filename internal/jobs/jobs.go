// Package jobs runs periodic maintenance on a cron schedule.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/aethex/platform/infra/supabase"
	"github.com/aethex/platform/internal/logging"
	"github.com/aethex/platform/internal/metrics"
)

// Func is a job body. Errors are logged and counted; the schedule continues.
type Func func(ctx context.Context) error

// Scheduler is a cron scheduler with per-job logging, metrics and a timeout.
type Scheduler struct {
	cron    *cron.Cron
	logger  *logging.Logger
	metrics *metrics.Metrics
	timeout time.Duration

	mu   sync.Mutex
	jobs map[string]cron.EntryID
	ctx  context.Context
	stop context.CancelFunc
}

// NewScheduler creates a scheduler. m may be nil.
func NewScheduler(logger *logging.Logger, m *metrics.Metrics) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(),
		logger:  logger,
		metrics: m,
		timeout: time.Minute,
		jobs:    make(map[string]cron.EntryID),
		ctx:     ctx,
		stop:    cancel,
	}
}

// Add registers fn under name with a cron spec such as "@every 15m".
func (s *Scheduler) Add(name, spec string, fn Func) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %q already registered", name)
	}
	id, err := s.cron.AddFunc(spec, func() { s.Run(name, fn) })
	if err != nil {
		return fmt.Errorf("schedule %q: %w", name, err)
	}
	s.jobs[name] = id
	return nil
}

// Run executes fn once with the scheduler's logging and metrics.
func (s *Scheduler) Run(name string, fn Func) {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()
	ctx = logging.WithTraceID(ctx, logging.NewTraceID())

	start := time.Now()
	err := fn(ctx)
	if s.metrics != nil {
		s.metrics.RecordJobRun(name, err == nil)
	}

	entry := s.logger.WithContext(ctx).WithField("job", name).WithField("duration_ms", time.Since(start).Milliseconds())
	if err != nil {
		entry.WithError(err).Warn("job failed")
		return
	}
	entry.Debug("job finished")
}

// Jobs returns the registered job names.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		out = append(out, name)
	}
	return out
}

// Next returns the next run time of a job.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling, cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	done := s.cron.Stop()
	s.stop()
	<-done.Done()
}

// =============================================================================
// Jobs
// =============================================================================

// PurgeExpired deletes rows of table whose column is in the past.
func PurgeExpired(db *supabase.Client, table, column string, now func() time.Time) Func {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context) error {
		cutoff := now().UTC().Format(time.RFC3339)
		if _, err := db.From(table).Delete().Lt(column, cutoff).Execute(ctx); err != nil {
			return fmt.Errorf("purge %s: %w", table, err)
		}
		return nil
	}
}

// Sweeper is anything that can drop its expired entries.
type Sweeper interface {
	Sweep() int
}

// Sweep wraps a Sweeper as a job.
func Sweep(s Sweeper) Func {
	return func(context.Context) error {
		s.Sweep()
		return nil
	}
}
