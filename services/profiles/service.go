// Package profiles serves user profiles: the caller's own profile, public
// lookups by username and a searchable directory.
package profiles

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/aethex/platform/internal/logging"
	"github.com/aethex/platform/internal/metrics"
	"github.com/aethex/platform/internal/middleware"
	"github.com/aethex/platform/services/profiles/supabase"
)

const ServiceName = "profiles"

// Config configures the profiles service.
type Config struct {
	Repository supabase.Repository
	Auth       *middleware.Authenticator
	Logger     *logging.Logger
	Metrics    *metrics.Metrics
}

// Service implements the profile endpoints.
type Service struct {
	repo    supabase.Repository
	auth    *middleware.Authenticator
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// New creates the profiles service.
func New(cfg Config) (*Service, error) {
	if cfg.Repository == nil {
		return nil, fmt.Errorf("profiles: repository is required")
	}
	if cfg.Auth == nil {
		return nil, fmt.Errorf("profiles: authenticator is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{repo: cfg.Repository, auth: cfg.Auth, logger: logger, metrics: cfg.Metrics}, nil
}

// RegisterRoutes mounts the profile endpoints.
func (s *Service) RegisterRoutes(r *mux.Router) {
	r.Handle("/api/profile", s.auth.Require(http.HandlerFunc(s.handleGetOwn))).Methods(http.MethodGet)
	r.Handle("/api/profile", s.auth.Require(http.HandlerFunc(s.handleUpsertOwn))).Methods(http.MethodPut)
	r.HandleFunc("/api/profiles", s.handleList).Methods(http.MethodGet)
	r.HandleFunc("/api/profiles/{username}", s.handleGetByUsername).Methods(http.MethodGet)
}
