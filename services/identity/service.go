// Package identity signs users in with an Ethereum wallet and links Roblox
// accounts through Roblox's OpenID Connect provider.
package identity

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gorilla/mux"
	"golang.org/x/oauth2"

	"github.com/aethex/platform/internal/authtoken"
	"github.com/aethex/platform/internal/events"
	"github.com/aethex/platform/internal/logging"
	"github.com/aethex/platform/internal/metrics"
	"github.com/aethex/platform/internal/middleware"
	"github.com/aethex/platform/services/identity/supabase"
)

const (
	ServiceName = "identity"

	// RobloxIssuer is the OpenID issuer of Roblox OAuth.
	RobloxIssuer = "https://apis.roblox.com/oauth/"

	// DefaultNonceTTL bounds how long a sign-in nonce may be used.
	DefaultNonceTTL = 10 * time.Minute

	statePurpose = "roblox"
)

// RobloxConfig configures the Roblox OAuth flow. Endpoint and Verifier are
// usually obtained from DiscoverRoblox.
type RobloxConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Endpoint     oauth2.Endpoint
	Verifier     *oidc.IDTokenVerifier
}

// DiscoverRoblox fetches Roblox's OpenID configuration and returns its
// OAuth2 endpoint together with an id_token verifier for clientID.
func DiscoverRoblox(ctx context.Context, clientID string, httpClient *http.Client) (oauth2.Endpoint, *oidc.IDTokenVerifier, error) {
	if httpClient != nil {
		ctx = oidc.ClientContext(ctx, httpClient)
	}
	provider, err := oidc.NewProvider(ctx, RobloxIssuer)
	if err != nil {
		return oauth2.Endpoint{}, nil, fmt.Errorf("discover roblox: %w", err)
	}
	return provider.Endpoint(), provider.Verifier(&oidc.Config{ClientID: clientID}), nil
}

// Config configures the identity service.
type Config struct {
	Repository supabase.Repository
	Auth       *middleware.Authenticator
	// Issuer mints access tokens for wallet sign-in. Without it anonymous
	// verification answers 503.
	Issuer   *authtoken.Issuer
	State    *authtoken.StateSigner
	NonceTTL time.Duration

	Roblox     RobloxConfig
	AppURL     string
	HTTPClient *http.Client

	Events  events.Publisher
	Logger  *logging.Logger
	Metrics *metrics.Metrics
}

// Service implements the identity endpoints.
type Service struct {
	repo       supabase.Repository
	auth       *middleware.Authenticator
	issuer     *authtoken.Issuer
	state      *authtoken.StateSigner
	nonceTTL   time.Duration
	roblox     *oauth2.Config
	verifier   *oidc.IDTokenVerifier
	appURL     string
	httpClient *http.Client
	events     events.Publisher
	logger     *logging.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// New creates the identity service.
func New(cfg Config) (*Service, error) {
	if cfg.Repository == nil {
		return nil, fmt.Errorf("identity: repository is required")
	}
	if cfg.Auth == nil {
		return nil, fmt.Errorf("identity: authenticator is required")
	}

	var robloxCfg *oauth2.Config
	if cfg.Roblox.ClientID != "" && cfg.Roblox.Verifier != nil && cfg.State != nil {
		robloxCfg = &oauth2.Config{
			ClientID:     cfg.Roblox.ClientID,
			ClientSecret: cfg.Roblox.ClientSecret,
			RedirectURL:  cfg.Roblox.RedirectURL,
			Scopes:       []string{oidc.ScopeOpenID, "profile"},
			Endpoint:     cfg.Roblox.Endpoint,
		}
	}

	ttl := cfg.NonceTTL
	if ttl <= 0 {
		ttl = DefaultNonceTTL
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
		issuer:     cfg.Issuer,
		state:      cfg.State,
		nonceTTL:   ttl,
		roblox:     robloxCfg,
		verifier:   cfg.Roblox.Verifier,
		appURL:     strings.TrimRight(cfg.AppURL, "/"),
		httpClient: cfg.HTTPClient,
		events:     pub,
		logger:     logger,
		metrics:    cfg.Metrics,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// RegisterRoutes mounts the identity endpoints.
func (s *Service) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/web3/nonce", s.handleNonce).Methods(http.MethodPost)
	r.Handle("/api/web3/verify", s.auth.Optional(http.HandlerFunc(s.handleVerify))).Methods(http.MethodPost)

	r.Handle("/api/roblox/oauth/start", s.auth.Require(http.HandlerFunc(s.handleRobloxStart))).Methods(http.MethodGet)
	r.HandleFunc("/api/roblox/oauth/callback", s.handleRobloxCallback).Methods(http.MethodGet)
	r.Handle("/api/roblox/link", s.auth.Require(http.HandlerFunc(s.handleGetRobloxLink))).Methods(http.MethodGet)
}

func (s *Service) publish(ctx context.Context, ev events.Event) {
	s.metrics.RecordDomainEvent(ev.Type)
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("event", ev.Type).Warn("publish event failed")
	}
}

// oauthContext makes oauth2 and go-oidc use the configured HTTP client.
func (s *Service) oauthContext(ctx context.Context) context.Context {
	if s.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
}
