// Package service provides the lifecycle and standard endpoints shared by the
// gateway and its route groups.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aethex/platform/internal/logging"
)

const healthCheckTimeout = 5 * time.Second

// Dependency is something the service needs to be healthy.
type Dependency interface {
	HealthCheck(ctx context.Context) error
}

// BaseConfig contains shared configuration for a service.
type BaseConfig struct {
	ID      string
	Name    string
	Version string
	Logger  *logging.Logger
	// Required dependencies make the service unhealthy when they fail.
	Required map[string]Dependency
	// Optional dependencies only degrade it.
	Optional map[string]Dependency
}

// BaseService owns background workers, stop handling and health state.
type BaseService struct {
	id      string
	name    string
	version string
	logger  *logging.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	statsFn func() map[string]any
	workers []func(context.Context)

	required map[string]Dependency
	optional map[string]Dependency

	healthMu        sync.RWMutex
	depStatus       map[string]string
	lastHealthCheck time.Time
	startTime       time.Time
}

// NewBase constructs a BaseService from shared config.
func NewBase(cfg BaseConfig) *BaseService {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &BaseService{
		id:        cfg.ID,
		name:      cfg.Name,
		version:   cfg.Version,
		logger:    logger,
		stopCh:    make(chan struct{}),
		required:  cfg.Required,
		optional:  cfg.Optional,
		depStatus: make(map[string]string),
	}
}

func (b *BaseService) ID() string      { return b.id }
func (b *BaseService) Name() string    { return b.name }
func (b *BaseService) Version() string { return b.version }

func (b *BaseService) Logger() *logging.Logger { return b.logger }

// WithStats sets a statistics provider function for the /info endpoint.
func (b *BaseService) WithStats(fn func() map[string]any) *BaseService {
	b.statsFn = fn
	return b
}

// AddWorker registers a background worker started by Start. Workers must
// return when ctx is done or StopChan is closed.
func (b *BaseService) AddWorker(fn func(context.Context)) *BaseService {
	b.workers = append(b.workers, fn)
	return b
}

// AddTickerWorker registers a periodic background worker.
func (b *BaseService) AddTickerWorker(interval time.Duration, fn func(context.Context) error) *BaseService {
	worker := func(ctx context.Context) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-b.stopCh:
				return
			case <-ticker.C:
				if err := fn(ctx); err != nil {
					b.logger.WithContext(ctx).WithError(err).Warn("worker error")
				}
			}
		}
	}
	b.workers = append(b.workers, worker)
	return b
}

// StopChan exposes the stop channel for worker goroutines.
func (b *BaseService) StopChan() <-chan struct{} {
	return b.stopCh
}

// Start records the start time and launches workers.
func (b *BaseService) Start(ctx context.Context) error {
	b.healthMu.Lock()
	if !b.startTime.IsZero() {
		b.healthMu.Unlock()
		return fmt.Errorf("service %s already started", b.name)
	}
	b.startTime = time.Now()
	b.healthMu.Unlock()

	for _, w := range b.workers {
		worker := w
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			worker(ctx)
		}()
	}
	b.logger.WithContext(ctx).WithField("workers", len(b.workers)).Info("service started")
	return nil
}

// Stop signals workers and waits for them. Safe to call more than once.
func (b *BaseService) Stop() error {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
	b.wg.Wait()
	return nil
}

// WorkerCount returns the number of registered workers.
func (b *BaseService) WorkerCount() int {
	return len(b.workers)
}

// Uptime is the time since Start.
func (b *BaseService) Uptime() time.Duration {
	b.healthMu.RLock()
	defer b.healthMu.RUnlock()
	if b.startTime.IsZero() {
		return 0
	}
	return time.Since(b.startTime)
}

// CheckHealth refreshes the cached health state by probing dependencies.
func (b *BaseService) CheckHealth(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	status := make(map[string]string, len(b.required)+len(b.optional))
	probe := func(deps map[string]Dependency) {
		for name, dep := range deps {
			if dep == nil {
				continue
			}
			if err := dep.HealthCheck(ctx); err != nil {
				status[name] = "down"
				b.logger.WithContext(ctx).WithError(err).WithField("dependency", name).Warn("health check failed")
				continue
			}
			status[name] = "up"
		}
	}
	probe(b.required)
	probe(b.optional)

	b.healthMu.Lock()
	b.depStatus = status
	b.lastHealthCheck = time.Now()
	b.healthMu.Unlock()
}

// HealthStatus returns "healthy", "degraded" or "unhealthy".
func (b *BaseService) HealthStatus(ctx context.Context) string {
	b.CheckHealth(ctx)
	b.healthMu.RLock()
	defer b.healthMu.RUnlock()
	return b.healthStatusLocked()
}

// HealthDetails returns a map describing the most recent health state.
func (b *BaseService) HealthDetails() map[string]any {
	b.healthMu.RLock()
	defer b.healthMu.RUnlock()

	deps := make(map[string]string, len(b.depStatus))
	for k, v := range b.depStatus {
		deps[k] = v
	}
	details := map[string]any{"dependencies": deps}

	if !b.lastHealthCheck.IsZero() {
		details["last_check"] = b.lastHealthCheck.Format(time.RFC3339)
	} else {
		details["last_check"] = ""
	}

	uptime := time.Duration(0)
	if !b.startTime.IsZero() {
		uptime = time.Since(b.startTime)
	}
	details["uptime"] = uptime.String()

	return details
}

func (b *BaseService) healthStatusLocked() string {
	for name := range b.required {
		if b.depStatus[name] == "down" {
			return "unhealthy"
		}
	}
	for name := range b.optional {
		if b.depStatus[name] == "down" {
			return "degraded"
		}
	}
	return "healthy"
}
