package main

import (
	"context"
	"fmt"

	"github.com/gorilla/mux"

	supa "github.com/aethex/platform/infra/supabase"
	"github.com/aethex/platform/internal/audit"
	"github.com/aethex/platform/internal/authtoken"
	"github.com/aethex/platform/internal/cache"
	"github.com/aethex/platform/internal/config"
	"github.com/aethex/platform/internal/events"
	"github.com/aethex/platform/internal/logging"
	"github.com/aethex/platform/internal/metrics"
	"github.com/aethex/platform/internal/middleware"
	"github.com/aethex/platform/internal/payments"
	"github.com/aethex/platform/internal/roles"
	"github.com/aethex/platform/internal/webhooks"
	"github.com/aethex/platform/services/admin"
	adminsupabase "github.com/aethex/platform/services/admin/supabase"
	"github.com/aethex/platform/services/blog"
	"github.com/aethex/platform/services/common/service"
	"github.com/aethex/platform/services/community"
	communitysupabase "github.com/aethex/platform/services/community/supabase"
	"github.com/aethex/platform/services/discord"
	discordsupabase "github.com/aethex/platform/services/discord/supabase"
	"github.com/aethex/platform/services/ethos"
	ethossupabase "github.com/aethex/platform/services/ethos/supabase"
	"github.com/aethex/platform/services/foundation"
	foundationsupabase "github.com/aethex/platform/services/foundation/supabase"
	"github.com/aethex/platform/services/identity"
	identitysupabase "github.com/aethex/platform/services/identity/supabase"
	"github.com/aethex/platform/services/nexus"
	nexussupabase "github.com/aethex/platform/services/nexus/supabase"
	"github.com/aethex/platform/services/profiles"
	profilessupabase "github.com/aethex/platform/services/profiles/supabase"
)

// registrar is implemented by every route group.
type registrar interface {
	RegisterRoutes(r *mux.Router)
}

// routeGroup builds one group from config/services.yaml. build returns a
// nil registrar when the group's integration is not configured.
type routeGroup struct {
	name  string
	build func(ctx context.Context) (registrar, error)
}

// mountGroups builds and mounts the enabled groups and returns the names
// that were mounted.
func mountGroups(ctx context.Context, r *mux.Router, enabled *config.ServicesConfig, groups []routeGroup, logger *logging.Logger) ([]string, error) {
	var mounted []string
	for _, g := range groups {
		if !enabled.IsEnabled(g.name) {
			logger.WithContext(ctx).WithField("group", g.name).Info("route group disabled")
			continue
		}
		svc, err := g.build(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", g.name, err)
		}
		if svc == nil {
			logger.WithContext(ctx).WithField("group", g.name).Warn("route group not configured, skipping")
			continue
		}
		svc.RegisterRoutes(r)
		mounted = append(mounted, g.name)
	}
	return mounted, nil
}

// deps are the shared clients every route group is built from.
type deps struct {
	cfg     *config.Config
	logger  *logging.Logger
	metrics *metrics.Metrics
	db      *supa.Client
	auth    *middleware.Authenticator
	roles   *roles.Store
	issuer  *authtoken.Issuer
	state   *authtoken.StateSigner
	cache   cache.Cache
	events  events.Publisher
	ledger  webhooks.Ledger
	audit   *audit.Log
	base    *service.BaseService

	// blog is set once the blog group is built so its cache can be warmed.
	blog *blog.Service
}

func (d *deps) groups() []routeGroup {
	return []routeGroup{
		{"profiles", d.profiles},
		{"community", d.community},
		{"nexus", d.nexus},
		{"foundation", d.foundation},
		{"ethos", d.ethos},
		{"discord", d.discord},
		{"blog", d.blogGroup},
		{"identity", d.identity},
		{"admin", d.admin},
	}
}

func (d *deps) profiles(context.Context) (registrar, error) {
	return profiles.New(profiles.Config{
		Repository: profilessupabase.NewRepository(d.db),
		Auth:       d.auth,
		Logger:     d.logger,
		Metrics:    d.metrics,
	})
}

func (d *deps) community(context.Context) (registrar, error) {
	cfg := community.Config{
		Repository: communitysupabase.NewRepository(d.db),
		Auth:       d.auth,
		Events:     d.events,
		SiteURL:    d.cfg.AppURL,
		Logger:     d.logger,
		Metrics:    d.metrics,
	}
	if d.cfg.DiscordWebhookURL != "" {
		cfg.Announcer = discord.NewNotifier(d.cfg.DiscordWebhookURL, nil)
	}
	return community.New(cfg)
}

func (d *deps) nexus(context.Context) (registrar, error) {
	cfg := nexus.Config{
		Repository:     nexussupabase.NewRepository(d.db),
		Auth:           d.auth,
		Ledger:         d.ledger,
		Events:         d.events,
		CommissionRate: d.cfg.CommissionRate,
		Currency:       d.cfg.StripeCurrency,
		AppURL:         d.cfg.AppURL,
		Logger:         d.logger,
		Metrics:        d.metrics,
	}
	if d.cfg.StripeSecretKey != "" {
		cfg.Payments = payments.NewStripe(d.cfg.StripeSecretKey, d.cfg.StripeWebhookSecret, nil)
	}
	return nexus.New(cfg)
}

func (d *deps) foundation(context.Context) (registrar, error) {
	return foundation.New(foundation.Config{
		Repository: foundationsupabase.NewRepository(d.db),
		Auth:       d.auth,
		Events:     d.events,
		Logger:     d.logger,
		Metrics:    d.metrics,
	})
}

func (d *deps) ethos(context.Context) (registrar, error) {
	return ethos.New(ethos.Config{
		Repository: ethossupabase.NewRepository(d.db),
		Auth:       d.auth,
		Storage:    d.db.Storage(),
		Events:     d.events,
		Logger:     d.logger,
		Metrics:    d.metrics,
	})
}

func (d *deps) discord(context.Context) (registrar, error) {
	return discord.New(discord.Config{
		Repository:   discordsupabase.NewRepository(d.db),
		Auth:         d.auth,
		State:        d.state,
		ClientID:     d.cfg.DiscordClientID,
		ClientSecret: d.cfg.DiscordClientSecret,
		RedirectURL:  d.cfg.DiscordRedirectURI,
		PublicKey:    d.cfg.DiscordPublicKey,
		AppURL:       d.cfg.AppURL,
		Events:       d.events,
		Logger:       d.logger,
		Metrics:      d.metrics,
	})
}

func (d *deps) blogGroup(context.Context) (registrar, error) {
	if d.cfg.GhostURL == "" || d.cfg.GhostContentKey == "" {
		return nil, nil
	}
	ghost, err := blog.NewGhostClient(blog.GhostConfig{
		URL:        d.cfg.GhostURL,
		ContentKey: d.cfg.GhostContentKey,
		AdminKey:   d.cfg.GhostAdminKey,
	})
	if err != nil {
		return nil, err
	}
	svc, err := blog.New(blog.Config{
		Ghost:    ghost,
		Auth:     d.auth,
		Cache:    d.cache,
		CacheTTL: d.cfg.BlogCacheTTL,
		Events:   d.events,
		Logger:   d.logger,
		Metrics:  d.metrics,
	})
	if err != nil {
		return nil, err
	}
	d.blog = svc
	return svc, nil
}

func (d *deps) identity(ctx context.Context) (registrar, error) {
	cfg := identity.Config{
		Repository: identitysupabase.NewRepository(d.db),
		Auth:       d.auth,
		Issuer:     d.issuer,
		State:      d.state,
		NonceTTL:   d.cfg.Web3NonceTTL,
		AppURL:     d.cfg.AppURL,
		Events:     d.events,
		Logger:     d.logger,
		Metrics:    d.metrics,
	}
	if d.cfg.RobloxClientID != "" {
		endpoint, verifier, err := identity.DiscoverRoblox(ctx, d.cfg.RobloxClientID, nil)
		if err != nil {
			d.logger.WithContext(ctx).WithError(err).Warn("roblox discovery failed; roblox sign-in disabled")
		} else {
			cfg.Roblox = identity.RobloxConfig{
				ClientID:     d.cfg.RobloxClientID,
				ClientSecret: d.cfg.RobloxClientSecret,
				RedirectURL:  d.cfg.RobloxRedirectURI,
				Endpoint:     endpoint,
				Verifier:     verifier,
			}
		}
	}
	return identity.New(cfg)
}

func (d *deps) admin(context.Context) (registrar, error) {
	return admin.New(admin.Config{
		Repository: adminsupabase.NewRepository(d.db),
		Auth:       d.auth,
		Roles:      d.roles,
		Audit:      d.audit,
		Uptime:     d.base.Uptime,
		Logger:     d.logger,
	})
}
