// Package community serves the community feed: posts, likes and comments.
package community

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/aethex/platform/internal/events"
	"github.com/aethex/platform/internal/logging"
	"github.com/aethex/platform/internal/metrics"
	"github.com/aethex/platform/internal/middleware"
	"github.com/aethex/platform/services/community/supabase"
)

const ServiceName = "community"

// Announcer posts a short notice to an external channel.
type Announcer interface {
	Announce(ctx context.Context, title, body, link string) error
}

// Config configures the community service.
type Config struct {
	Repository supabase.Repository
	Auth       *middleware.Authenticator
	Events     events.Publisher
	Announcer  Announcer
	// SiteURL prefixes post links in announcements.
	SiteURL string
	Logger  *logging.Logger
	Metrics *metrics.Metrics
}

// Service implements the community endpoints.
type Service struct {
	repo      supabase.Repository
	auth      *middleware.Authenticator
	events    events.Publisher
	announcer Announcer
	siteURL   string
	logger    *logging.Logger
	metrics   *metrics.Metrics
}

// New creates the community service.
func New(cfg Config) (*Service, error) {
	if cfg.Repository == nil {
		return nil, fmt.Errorf("community: repository is required")
	}
	if cfg.Auth == nil {
		return nil, fmt.Errorf("community: authenticator is required")
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
		repo:      cfg.Repository,
		auth:      cfg.Auth,
		events:    pub,
		announcer: cfg.Announcer,
		siteURL:   strings.TrimRight(cfg.SiteURL, "/"),
		logger:    logger,
		metrics:   cfg.Metrics,
	}, nil
}

// RegisterRoutes mounts the community endpoints.
func (s *Service) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/community/posts", s.handleListPosts).Methods(http.MethodGet)
	r.Handle("/api/community/posts", s.auth.Require(http.HandlerFunc(s.handleCreatePost))).Methods(http.MethodPost)
	r.Handle("/api/community/posts/{id}", s.auth.Optional(http.HandlerFunc(s.handleGetPost))).Methods(http.MethodGet)
	r.Handle("/api/community/posts/{id}", s.auth.Require(http.HandlerFunc(s.handleUpdatePost))).Methods(http.MethodPatch)
	r.Handle("/api/community/posts/{id}", s.auth.Require(http.HandlerFunc(s.handleDeletePost))).Methods(http.MethodDelete)
	r.Handle("/api/community/posts/{id}/like", s.auth.Require(http.HandlerFunc(s.handleLike))).Methods(http.MethodPost)
	r.Handle("/api/community/posts/{id}/like", s.auth.Require(http.HandlerFunc(s.handleUnlike))).Methods(http.MethodDelete)
	r.HandleFunc("/api/community/posts/{id}/comments", s.handleListComments).Methods(http.MethodGet)
	r.Handle("/api/community/posts/{id}/comments", s.auth.Require(http.HandlerFunc(s.handleAddComment))).Methods(http.MethodPost)
}

// publish emits an event; delivery failures are logged, never surfaced.
func (s *Service) publish(ctx context.Context, ev events.Event) {
	s.metrics.RecordDomainEvent(ev.Type)
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("event", ev.Type).Warn("publish event failed")
	}
}

func (s *Service) announce(ctx context.Context, p *supabase.Post) {
	if s.announcer == nil || !p.IsPublished {
		return
	}
	link := ""
	if s.siteURL != "" {
		link = s.siteURL + "/community/posts/" + p.ID
	}
	if err := s.announcer.Announce(ctx, p.Title, truncate(p.Content, 280), link); err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("announce post failed")
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

var nowUTC = func() time.Time { return time.Now().UTC() }
