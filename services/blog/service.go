// Package blog serves the AeThex blog from Ghost, caching Content API reads.
package blog

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/aethex/platform/internal/cache"
	"github.com/aethex/platform/internal/events"
	"github.com/aethex/platform/internal/logging"
	"github.com/aethex/platform/internal/metrics"
	"github.com/aethex/platform/internal/middleware"
	"github.com/aethex/platform/internal/roles"
)

const (
	ServiceName = "blog"

	DefaultCacheTTL = 5 * time.Minute
	defaultLimit    = 10
	maxLimit        = 50

	generationKey = "blog:generation"
)

// Source is the Ghost API surface the service uses. *GhostClient satisfies it.
type Source interface {
	ListPosts(ctx context.Context, limit, page int) (*PostList, error)
	GetPost(ctx context.Context, slug string) (*Post, error)
	CreatePost(ctx context.Context, p NewPost) (*Post, error)
}

// Config configures the blog service.
type Config struct {
	Ghost    Source
	Auth     *middleware.Authenticator
	Cache    cache.Cache
	CacheTTL time.Duration
	Events   events.Publisher
	Logger   *logging.Logger
	Metrics  *metrics.Metrics
}

// Service implements the blog endpoints.
type Service struct {
	ghost   Source
	auth    *middleware.Authenticator
	cache   cache.Cache
	ttl     time.Duration
	events  events.Publisher
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// New creates the blog service. Without a cache an in-memory one is used.
func New(cfg Config) (*Service, error) {
	if cfg.Ghost == nil {
		return nil, fmt.Errorf("blog: ghost source is required")
	}
	if cfg.Auth == nil {
		return nil, fmt.Errorf("blog: authenticator is required")
	}
	c := cfg.Cache
	if c == nil {
		c = cache.NewMemory()
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
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
		ghost:   cfg.Ghost,
		auth:    cfg.Auth,
		cache:   c,
		ttl:     ttl,
		events:  pub,
		logger:  logger,
		metrics: cfg.Metrics,
	}, nil
}

// RegisterRoutes mounts the blog endpoints.
func (s *Service) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/blog", s.handleList).Methods(http.MethodGet)
	r.Handle("/api/blog", s.auth.RequireRole(roles.Admin, roles.Staff)(http.HandlerFunc(s.handleCreate))).Methods(http.MethodPost)
	r.HandleFunc("/api/blog/{slug}", s.handleGet).Methods(http.MethodGet)
}

// Warm loads the first page into the cache. Used by the scheduler.
func (s *Service) Warm(ctx context.Context) error {
	_, err := s.listPosts(ctx, defaultLimit, 1)
	return err
}

// =============================================================================
// Cache
// =============================================================================

// generation returns the current cache generation. Invalidation bumps it so
// every previously cached page becomes unreachable at once.
func (s *Service) generation(ctx context.Context) string {
	gen, ok, err := s.cache.Get(ctx, generationKey)
	if err == nil && ok && len(gen) > 0 {
		return string(gen)
	}
	return s.bumpGeneration(ctx)
}

func (s *Service) bumpGeneration(ctx context.Context) string {
	gen := uuid.NewString()[:8]
	if err := s.cache.Set(ctx, generationKey, []byte(gen), 0); err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("blog cache generation write failed")
	}
	return gen
}

// Invalidate drops every cached blog read.
func (s *Service) Invalidate(ctx context.Context) {
	s.bumpGeneration(ctx)
}

func (s *Service) listPosts(ctx context.Context, limit, page int) (*PostList, error) {
	key := "blog:" + s.generation(ctx) + ":list:" + strconv.Itoa(limit) + ":" + strconv.Itoa(page)
	var cached PostList
	if ok, err := cache.GetJSON(ctx, s.cache, key, &cached); err == nil && ok {
		s.metrics.RecordCacheLookup(ServiceName, true)
		return &cached, nil
	}
	s.metrics.RecordCacheLookup(ServiceName, false)

	list, err := s.ghost.ListPosts(ctx, limit, page)
	if err != nil {
		return nil, err
	}
	if err := cache.SetJSON(ctx, s.cache, key, list, s.ttl); err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("blog cache write failed")
	}
	return list, nil
}

func (s *Service) getPost(ctx context.Context, slug string) (*Post, error) {
	key := "blog:" + s.generation(ctx) + ":post:" + slug
	var cached Post
	if ok, err := cache.GetJSON(ctx, s.cache, key, &cached); err == nil && ok {
		s.metrics.RecordCacheLookup(ServiceName, true)
		return &cached, nil
	}
	s.metrics.RecordCacheLookup(ServiceName, false)

	post, err := s.ghost.GetPost(ctx, slug)
	if err != nil {
		return nil, err
	}
	if err := cache.SetJSON(ctx, s.cache, key, post, s.ttl); err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("blog cache write failed")
	}
	return post, nil
}
