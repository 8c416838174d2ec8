// Package discord links AeThex accounts to Discord: the OAuth flow, bot
// verification codes, the interactions endpoint and a webhook notifier for
// announcements.
package discord

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/oauth2"

	"github.com/aethex/platform/internal/authtoken"
	"github.com/aethex/platform/internal/events"
	"github.com/aethex/platform/internal/httputil"
	"github.com/aethex/platform/internal/logging"
	"github.com/aethex/platform/internal/metrics"
	"github.com/aethex/platform/internal/middleware"
	"github.com/aethex/platform/services/discord/supabase"
)

const (
	ServiceName = "discord"

	// DefaultAPIBaseURL is the Discord REST API root.
	DefaultAPIBaseURL = "https://discord.com/api/v10"

	statePurpose = "discord"

	// VerificationTTL is how long a bot-issued code stays valid.
	VerificationTTL = 15 * time.Minute
)

// Endpoint is Discord's OAuth2 endpoint.
var Endpoint = oauth2.Endpoint{
	AuthURL:  "https://discord.com/oauth2/authorize",
	TokenURL: "https://discord.com/api/oauth2/token",
}

// Config configures the discord service.
type Config struct {
	Repository supabase.Repository
	Auth       *middleware.Authenticator
	State      *authtoken.StateSigner

	ClientID     string
	ClientSecret string
	RedirectURL  string
	// PublicKey is the hex-encoded Ed25519 key of the Discord application.
	PublicKey string
	// Endpoint overrides the OAuth2 endpoint; zero means Discord's.
	Endpoint   oauth2.Endpoint
	APIBaseURL string
	// AppURL is where the browser lands after the OAuth callback.
	AppURL     string
	HTTPClient *http.Client

	Events  events.Publisher
	Logger  *logging.Logger
	Metrics *metrics.Metrics
}

// Service implements the discord endpoints.
type Service struct {
	repo       supabase.Repository
	auth       *middleware.Authenticator
	state      *authtoken.StateSigner
	oauth      *oauth2.Config
	publicKey  ed25519.PublicKey
	api        *httputil.Client
	appURL     string
	httpClient *http.Client
	events     events.Publisher
	logger     *logging.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// New creates the discord service. OAuth needs ClientID and State; the
// interactions endpoint needs PublicKey. Missing pieces answer 503.
func New(cfg Config) (*Service, error) {
	if cfg.Repository == nil {
		return nil, fmt.Errorf("discord: repository is required")
	}
	if cfg.Auth == nil {
		return nil, fmt.Errorf("discord: authenticator is required")
	}

	var publicKey ed25519.PublicKey
	if cfg.PublicKey != "" {
		raw, err := hex.DecodeString(strings.TrimSpace(cfg.PublicKey))
		if err != nil || len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("discord: public key must be %d hex-encoded bytes", ed25519.PublicKeySize)
		}
		publicKey = raw
	}

	var oauthCfg *oauth2.Config
	if cfg.ClientID != "" && cfg.State != nil {
		endpoint := cfg.Endpoint
		if endpoint.AuthURL == "" {
			endpoint = Endpoint
		}
		oauthCfg = &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"identify"},
			Endpoint:     endpoint,
		}
	}

	apiBase := cfg.APIBaseURL
	if apiBase == "" {
		apiBase = DefaultAPIBaseURL
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
		repo:       cfg.Repository,
		auth:       cfg.Auth,
		state:      cfg.State,
		oauth:      oauthCfg,
		publicKey:  publicKey,
		api:        httputil.NewClient(httputil.ClientConfig{BaseURL: apiBase, HTTPClient: cfg.HTTPClient, MaxRetries: 1}),
		appURL:     strings.TrimRight(cfg.AppURL, "/"),
		httpClient: cfg.HTTPClient,
		events:     pub,
		logger:     logger,
		metrics:    cfg.Metrics,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// RegisterRoutes mounts the discord endpoints.
func (s *Service) RegisterRoutes(r *mux.Router) {
	r.Handle("/api/discord/oauth/start", s.auth.Require(http.HandlerFunc(s.handleOAuthStart))).Methods(http.MethodGet)
	r.HandleFunc("/api/discord/oauth/callback", s.handleOAuthCallback).Methods(http.MethodGet)
	r.Handle("/api/discord/verify", s.auth.Require(http.HandlerFunc(s.handleVerify))).Methods(http.MethodPost)
	r.Handle("/api/discord/link", s.auth.Require(http.HandlerFunc(s.handleGetLink))).Methods(http.MethodGet)
	r.Handle("/api/discord/link", s.auth.Require(http.HandlerFunc(s.handleUnlink))).Methods(http.MethodDelete)
	r.HandleFunc("/api/discord/interactions", s.handleInteraction).Methods(http.MethodPost)
}

func (s *Service) publish(ctx context.Context, ev events.Event) {
	s.metrics.RecordDomainEvent(ev.Type)
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("event", ev.Type).Warn("publish event failed")
	}
}

// oauthContext makes the oauth2 package use the configured HTTP client.
func (s *Service) oauthContext(ctx context.Context) context.Context {
	if s.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
}
