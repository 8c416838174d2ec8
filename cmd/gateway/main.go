// Command gateway serves the AeThex platform API: every route group, the
// realtime feed, metrics and scheduled maintenance in one process.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	supa "github.com/aethex/platform/infra/supabase"
	"github.com/aethex/platform/internal/audit"
	"github.com/aethex/platform/internal/authtoken"
	"github.com/aethex/platform/internal/cache"
	"github.com/aethex/platform/internal/config"
	"github.com/aethex/platform/internal/events"
	"github.com/aethex/platform/internal/jobs"
	"github.com/aethex/platform/internal/logging"
	"github.com/aethex/platform/internal/metrics"
	"github.com/aethex/platform/internal/middleware"
	"github.com/aethex/platform/internal/realtime"
	"github.com/aethex/platform/internal/roles"
	"github.com/aethex/platform/internal/webhooks"
	"github.com/aethex/platform/services/common/service"
)

var version = "dev"

const stateTTL = 10 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	logger := logging.New("gateway", cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithContext(ctx).WithError(err).Fatal("gateway stopped")
	}
}

func run(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	if cfg.SupabaseURL == "" || cfg.SupabaseServiceKey == "" {
		return errors.New("SUPABASE_URL and SUPABASE_SERVICE_KEY are required")
	}
	db, err := supa.New(supa.Config{
		ProjectURL: cfg.SupabaseURL,
		AnonKey:    cfg.SupabaseAnonKey,
		ServiceKey: cfg.SupabaseServiceKey,
	})
	if err != nil {
		return fmt.Errorf("supabase client: %w", err)
	}
	m := metrics.New("aethex")

	// Cache: Redis when configured, otherwise process memory.
	var (
		sharedCache cache.Cache
		memCache    *cache.Memory
		optional    = map[string]service.Dependency{}
	)
	if cfg.RedisURL != "" {
		rc, err := cache.NewRedis(ctx, cfg.RedisURL, "aethex:")
		if err != nil {
			return err
		}
		defer rc.Close()
		sharedCache = rc
		optional["redis"] = rc
	} else {
		memCache = cache.NewMemory()
		sharedCache = memCache
	}

	// Direct Postgres for the audit log and the webhook ledger.
	var (
		ledger webhooks.Ledger = webhooks.NewSupabaseLedger(db)
		sink   audit.Sink
	)
	if cfg.DatabaseURL != "" {
		pg, err := sqlx.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer pg.Close()
		if err := pg.PingContext(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		ledger = webhooks.NewPostgresLedger(pg)
		sink = audit.NewPostgresSink(pg)
		optional["postgres"] = pingable{pg}
	}
	auditLog := audit.NewLog(cfg.AuditBufferSize, sink, logger)

	// Events reach browsers through the hub, via NATS when it is configured
	// so that every gateway instance sees every event.
	hub := realtime.NewHub(originAllowed(cfg.CORSOrigins()), logger)
	defer hub.Close()
	var publisher events.Publisher = hub
	if cfg.NatsURL != "" {
		np, err := events.ConnectNATS(cfg.NatsURL, "aethex-gateway", logger)
		if err != nil {
			return err
		}
		defer np.Close()
		if _, err := np.Forward(hub); err != nil {
			logger.WithContext(ctx).WithError(err).Warn("nats forward failed; publishing to the hub directly")
			publisher = events.Multi{np, hub}
		} else {
			publisher = np
		}
	}

	// Authentication: local JWT verification when the secret is known.
	roleStore := roles.NewStore(db, sharedCache, cfg.AdminIDs())
	var (
		verifier middleware.TokenVerifier = middleware.NewSupabaseVerifier(db.Auth())
		issuer   *authtoken.Issuer
		state    *authtoken.StateSigner
	)
	if cfg.SupabaseJWTSecret != "" {
		issuer, err = authtoken.NewIssuer(cfg.SupabaseJWTSecret, cfg.SupabaseURL+"/auth/v1", cfg.AccessTokenTTL)
		if err != nil {
			return err
		}
		verifier = middleware.NewJWTVerifier(issuer)
	}
	if cfg.StateSecret != "" {
		if state, err = authtoken.NewStateSigner(cfg.StateSecret, stateTTL); err != nil {
			return err
		}
	}
	auth := middleware.NewAuthenticator(verifier, roleStore, logger)

	base := service.NewBase(service.BaseConfig{
		ID:       "gateway",
		Name:     "gateway",
		Version:  version,
		Logger:   logger,
		Required: map[string]service.Dependency{"supabase": db},
		Optional: optional,
	})

	d := &deps{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		db:      db,
		auth:    auth,
		roles:   roleStore,
		issuer:  issuer,
		state:   state,
		cache:   sharedCache,
		events:  publisher,
		ledger:  ledger,
		audit:   auditLog,
		base:    base,
	}

	router := newRouter()
	router.HandleFunc("/health", service.HealthHandler(base)).Methods(http.MethodGet)
	router.HandleFunc("/info", service.InfoHandler(base)).Methods(http.MethodGet)
	router.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	router.Handle("/ws/feed", hub).Methods(http.MethodGet)
	(&authHandlers{provider: db.Auth(), auth: auth, logger: logger}).RegisterRoutes(router)

	servicesCfg := config.LoadServicesConfigOrDefault(cfg.ServicesConfigPath)
	mounted, err := mountGroups(ctx, router, servicesCfg, d.groups(), logger)
	if err != nil {
		return err
	}
	logger.WithContext(ctx).WithField("groups", mounted).Info("route groups mounted")

	handler, limiter := wrap(router, chainConfig{
		Logger:         logger,
		Metrics:        m,
		AllowedOrigins: cfg.CORSOrigins(),
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		TrustProxy:     cfg.RateLimitTrustProxy,
		Audit:          auditLog,
	})
	limiter.StartCleanup(ctx, time.Minute)

	scheduler := jobs.NewScheduler(logger, m)
	if err := scheduleMaintenance(scheduler, d, memCache); err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	if err := base.Start(ctx); err != nil {
		return err
	}
	defer base.Stop()

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.WithContext(ctx).WithField("addr", srv.Addr).Info("gateway listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.WithContext(context.Background()).Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// scheduleMaintenance registers the cron jobs.
func scheduleMaintenance(s *jobs.Scheduler, d *deps, mem *cache.Memory) error {
	if err := s.Add("purge-web3-nonces", "@every 5m", jobs.PurgeExpired(d.db, "web3_nonces", "expires_at", nil)); err != nil {
		return err
	}
	if err := s.Add("purge-discord-verifications", "@every 5m", jobs.PurgeExpired(d.db, "discord_verifications", "expires_at", nil)); err != nil {
		return err
	}
	if d.blog != nil {
		if err := s.Add("warm-blog", "@every 4m", d.blog.Warm); err != nil {
			return err
		}
	}
	if mem != nil {
		if err := s.Add("sweep-cache", "@every 1m", jobs.Sweep(mem)); err != nil {
			return err
		}
	}
	return nil
}

// pingable adapts a sqlx pool to service.Dependency.
type pingable struct {
	db *sqlx.DB
}

func (p pingable) HealthCheck(ctx context.Context) error {
	return p.db.PingContext(ctx)
}
