// Package foundation serves the Foundation learning catalogue: courses,
// lessons, enrollments and lesson progress.
package foundation

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/aethex/platform/internal/events"
	"github.com/aethex/platform/internal/logging"
	"github.com/aethex/platform/internal/metrics"
	"github.com/aethex/platform/internal/middleware"
	"github.com/aethex/platform/internal/roles"
	"github.com/aethex/platform/services/foundation/supabase"
)

const ServiceName = "foundation"

// Config configures the foundation service.
type Config struct {
	Repository supabase.Repository
	Auth       *middleware.Authenticator
	Events     events.Publisher
	Logger     *logging.Logger
	Metrics    *metrics.Metrics
}

// Service implements the foundation endpoints.
type Service struct {
	repo    supabase.Repository
	auth    *middleware.Authenticator
	events  events.Publisher
	logger  *logging.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates the foundation service.
func New(cfg Config) (*Service, error) {
	if cfg.Repository == nil {
		return nil, fmt.Errorf("foundation: repository is required")
	}
	if cfg.Auth == nil {
		return nil, fmt.Errorf("foundation: authenticator is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	pub := cfg.Events
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{
		repo:    cfg.Repository,
		auth:    cfg.Auth,
		events:  pub,
		logger:  logger,
		metrics: cfg.Metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// RegisterRoutes mounts the foundation endpoints.
func (s *Service) RegisterRoutes(r *mux.Router) {
	authors := s.auth.RequireRole(roles.Admin, roles.Staff, roles.Instructor)

	r.HandleFunc("/api/foundation/courses", s.handleListCourses).Methods(http.MethodGet)
	r.Handle("/api/foundation/courses", authors(http.HandlerFunc(s.handleCreateCourse))).Methods(http.MethodPost)
	r.Handle("/api/foundation/courses/{slug}", s.auth.Optional(http.HandlerFunc(s.handleGetCourse))).Methods(http.MethodGet)
	r.Handle("/api/foundation/courses/{id}/lessons", authors(http.HandlerFunc(s.handleCreateLesson))).Methods(http.MethodPost)
	r.Handle("/api/foundation/courses/{id}/enroll", s.auth.Require(http.HandlerFunc(s.handleEnroll))).Methods(http.MethodPost)
	r.Handle("/api/foundation/enrollments", s.auth.Require(http.HandlerFunc(s.handleListEnrollments))).Methods(http.MethodGet)
	r.Handle("/api/foundation/lessons/{id}/complete", s.auth.Require(http.HandlerFunc(s.handleCompleteLesson))).Methods(http.MethodPost)
}

func (s *Service) publish(ctx context.Context, ev events.Event) {
	s.metrics.RecordDomainEvent(ev.Type)
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("event", ev.Type).Warn("publish event failed")
	}
}

// canManage reports whether the caller may edit course c.
func canManage(ctx context.Context, c *supabase.Course) bool {
	return middleware.GetUserID(ctx) == c.InstructorID || middleware.HasRole(ctx, roles.Admin, roles.Staff)
}
