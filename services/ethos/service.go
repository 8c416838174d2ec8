// Package ethos serves the Ethos music library: track metadata and signed
// audio uploads to Supabase Storage.
package ethos

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	supa "github.com/aethex/platform/infra/supabase"
	"github.com/aethex/platform/internal/events"
	"github.com/aethex/platform/internal/logging"
	"github.com/aethex/platform/internal/metrics"
	"github.com/aethex/platform/internal/middleware"
	"github.com/aethex/platform/services/ethos/supabase"
)

const (
	ServiceName = "ethos"

	// TracksBucket is the storage bucket audio files are uploaded to.
	TracksBucket = "ethos-tracks"
)

// Storage issues upload URLs for track audio. *supa.StorageClient satisfies it.
type Storage interface {
	CreateSignedUploadURL(ctx context.Context, bucketID, filePath string) (*supa.SignedUpload, error)
	GetPublicURL(bucketID, filePath string) string
}

// Config configures the ethos service.
type Config struct {
	Repository supabase.Repository
	Auth       *middleware.Authenticator
	Storage    Storage
	Events     events.Publisher
	Logger     *logging.Logger
	Metrics    *metrics.Metrics
}

// Service implements the ethos endpoints.
type Service struct {
	repo    supabase.Repository
	auth    *middleware.Authenticator
	storage Storage
	events  events.Publisher
	logger  *logging.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates the ethos service. Storage is optional; without it the upload
// URL endpoint answers 503.
func New(cfg Config) (*Service, error) {
	if cfg.Repository == nil {
		return nil, fmt.Errorf("ethos: repository is required")
	}
	if cfg.Auth == nil {
		return nil, fmt.Errorf("ethos: authenticator is required")
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
		storage: cfg.Storage,
		events:  pub,
		logger:  logger,
		metrics: cfg.Metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// RegisterRoutes mounts the ethos endpoints.
func (s *Service) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/ethos/tracks", s.handleListTracks).Methods(http.MethodGet)
	r.Handle("/api/ethos/tracks", s.auth.Require(http.HandlerFunc(s.handleCreateTrack))).Methods(http.MethodPost)
	r.Handle("/api/ethos/tracks/upload-url", s.auth.Require(http.HandlerFunc(s.handleUploadURL))).Methods(http.MethodPost)
	r.Handle("/api/ethos/tracks/{id}", s.auth.Optional(http.HandlerFunc(s.handleGetTrack))).Methods(http.MethodGet)
	r.Handle("/api/ethos/tracks/{id}", s.auth.Require(http.HandlerFunc(s.handleUpdateTrack))).Methods(http.MethodPatch)
	r.Handle("/api/ethos/tracks/{id}", s.auth.Require(http.HandlerFunc(s.handleDeleteTrack))).Methods(http.MethodDelete)
}

func (s *Service) publish(ctx context.Context, ev events.Event) {
	s.metrics.RecordDomainEvent(ev.Type)
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("event", ev.Type).Warn("publish event failed")
	}
}
