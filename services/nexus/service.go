// Package nexus serves the freelance marketplace: opportunities,
// applications, contracts and Stripe payments and payouts.
package nexus

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
	"github.com/aethex/platform/internal/payments"
	"github.com/aethex/platform/internal/webhooks"
	"github.com/aethex/platform/services/nexus/supabase"
)

const ServiceName = "nexus"

// Config configures the nexus service.
type Config struct {
	Repository supabase.Repository
	Auth       *middleware.Authenticator
	// Payments is optional; payment and Connect endpoints answer 503 without it.
	Payments       payments.Gateway
	Ledger         webhooks.Ledger
	Events         events.Publisher
	CommissionRate float64
	Currency       string
	// AppURL is the frontend origin used for Stripe onboarding redirects.
	AppURL  string
	Logger  *logging.Logger
	Metrics *metrics.Metrics
}

// Service implements the marketplace endpoints.
type Service struct {
	repo     supabase.Repository
	auth     *middleware.Authenticator
	payments payments.Gateway
	ledger   webhooks.Ledger
	events   events.Publisher
	rate     float64
	currency string
	appURL   string
	logger   *logging.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// New creates the nexus service.
func New(cfg Config) (*Service, error) {
	if cfg.Repository == nil {
		return nil, fmt.Errorf("nexus: repository is required")
	}
	if cfg.Auth == nil {
		return nil, fmt.Errorf("nexus: authenticator is required")
	}
	if cfg.CommissionRate < 0 || cfg.CommissionRate >= 1 {
		return nil, fmt.Errorf("nexus: commission rate must be in [0, 1)")
	}
	rate := cfg.CommissionRate
	if rate == 0 {
		rate = DefaultCommissionRate
	}
	currency := strings.ToLower(cfg.Currency)
	if currency == "" {
		currency = "usd"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	ledger := cfg.Ledger
	if ledger == nil {
		ledger = webhooks.NewMemoryLedger()
	}
	pub := cfg.Events
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{
		repo:     cfg.Repository,
		auth:     cfg.Auth,
		payments: cfg.Payments,
		ledger:   ledger,
		events:   pub,
		rate:     rate,
		currency: currency,
		appURL:   strings.TrimRight(cfg.AppURL, "/"),
		logger:   logger,
		metrics:  cfg.Metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// RegisterRoutes mounts the marketplace endpoints.
func (s *Service) RegisterRoutes(r *mux.Router) {
	authed := func(h http.HandlerFunc) http.Handler { return s.auth.Require(h) }

	r.HandleFunc("/api/nexus/opportunities", s.handleListOpportunities).Methods(http.MethodGet)
	r.Handle("/api/nexus/opportunities", authed(s.handleCreateOpportunity)).Methods(http.MethodPost)
	r.HandleFunc("/api/nexus/opportunities/{id}", s.handleGetOpportunity).Methods(http.MethodGet)
	r.Handle("/api/nexus/opportunities/{id}", authed(s.handleUpdateOpportunity)).Methods(http.MethodPatch)

	r.Handle("/api/nexus/opportunities/{id}/applications", authed(s.handleApply)).Methods(http.MethodPost)
	r.Handle("/api/nexus/opportunities/{id}/applications", authed(s.handleListApplications)).Methods(http.MethodGet)
	r.Handle("/api/nexus/applications/mine", authed(s.handleListMyApplications)).Methods(http.MethodGet)
	r.Handle("/api/nexus/applications/{id}", authed(s.handleUpdateApplication)).Methods(http.MethodPatch)

	r.Handle("/api/nexus/contracts", authed(s.handleCreateContract)).Methods(http.MethodPost)
	r.Handle("/api/nexus/contracts", authed(s.handleListContracts)).Methods(http.MethodGet)
	r.Handle("/api/nexus/contracts/{id}", authed(s.handleGetContract)).Methods(http.MethodGet)
	r.Handle("/api/nexus/contracts/{id}", authed(s.handleUpdateContract)).Methods(http.MethodPatch)
	r.Handle("/api/nexus/contracts/{id}/payment-intent", authed(s.handleCreatePaymentIntent)).Methods(http.MethodPost)

	r.Handle("/api/nexus/stripe/connect", authed(s.handleStripeConnect)).Methods(http.MethodPost)
	r.Handle("/api/nexus/stripe/connect/status", authed(s.handleStripeConnectStatus)).Methods(http.MethodGet)

	r.HandleFunc("/api/webhooks/stripe", s.handleStripeWebhook).Methods(http.MethodPost)
}

func (s *Service) publish(ctx context.Context, ev events.Event) {
	s.metrics.RecordDomainEvent(ev.Type)
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("event", ev.Type).Warn("publish event failed")
	}
}
