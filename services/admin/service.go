// Package admin serves the staff dashboard: platform counts, role
// management, the audit trail and host statistics.
package admin

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/aethex/platform/internal/audit"
	"github.com/aethex/platform/internal/logging"
	"github.com/aethex/platform/internal/middleware"
	"github.com/aethex/platform/internal/roles"
	"github.com/aethex/platform/services/admin/supabase"
)

const ServiceName = "admin"

// RoleStore reads and replaces stored roles. *roles.Store implements it.
type RoleStore interface {
	Roles(ctx context.Context, userID string) ([]string, error)
	SetRoles(ctx context.Context, userID string, roles []string) ([]string, error)
}

// AuditTrail returns recent audit entries, newest first. *audit.Log
// implements it.
type AuditTrail interface {
	Recent(limit int) []audit.Entry
}

// Config configures the admin service.
type Config struct {
	Repository supabase.Repository
	Auth       *middleware.Authenticator
	Roles      RoleStore
	Audit      AuditTrail
	// Uptime reports how long the gateway has been running.
	Uptime func() time.Duration
	Logger *logging.Logger
}

// Service implements the admin endpoints.
type Service struct {
	repo   supabase.Repository
	auth   *middleware.Authenticator
	roles  RoleStore
	audit  AuditTrail
	uptime func() time.Duration
	logger *logging.Logger
}

// New creates the admin service.
func New(cfg Config) (*Service, error) {
	if cfg.Repository == nil {
		return nil, fmt.Errorf("admin: repository is required")
	}
	if cfg.Auth == nil {
		return nil, fmt.Errorf("admin: authenticator is required")
	}
	if cfg.Roles == nil {
		return nil, fmt.Errorf("admin: role store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	uptime := cfg.Uptime
	if uptime == nil {
		started := time.Now()
		uptime = func() time.Duration { return time.Since(started) }
	}
	return &Service{
		repo:   cfg.Repository,
		auth:   cfg.Auth,
		roles:  cfg.Roles,
		audit:  cfg.Audit,
		uptime: uptime,
		logger: logger,
	}, nil
}

// RegisterRoutes mounts the admin endpoints.
func (s *Service) RegisterRoutes(r *mux.Router) {
	staff := s.auth.RequireRole(roles.Admin, roles.Staff)
	admin := s.auth.RequireRole(roles.Admin)

	r.Handle("/api/admin/stats", staff(http.HandlerFunc(s.handleStats))).Methods(http.MethodGet)
	r.Handle("/api/admin/roles/{userID}", admin(http.HandlerFunc(s.handleGetRoles))).Methods(http.MethodGet)
	r.Handle("/api/admin/roles/{userID}", admin(http.HandlerFunc(s.handleSetRoles))).Methods(http.MethodPut)
	r.Handle("/api/admin/audit", admin(http.HandlerFunc(s.handleAudit))).Methods(http.MethodGet)
	r.Handle("/api/admin/system", admin(http.HandlerFunc(s.handleSystem))).Methods(http.MethodGet)
}
