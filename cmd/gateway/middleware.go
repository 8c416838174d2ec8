package main

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/aethex/platform/internal/audit"
	"github.com/aethex/platform/internal/httputil"
	"github.com/aethex/platform/internal/logging"
	"github.com/aethex/platform/internal/metrics"
	"github.com/aethex/platform/internal/middleware"
)

// =============================================================================
// Middleware
// =============================================================================

type chainConfig struct {
	Logger         *logging.Logger
	Metrics        *metrics.Metrics
	AllowedOrigins []string
	RateLimitRPS   int
	RateLimitBurst int
	TrustProxy     bool
	Audit          *audit.Log
}

// newRouter returns a router that answers unknown paths and methods with
// JSON errors.
func newRouter() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(notFoundHandler)
	r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowedHandler)
	return r
}

func notFoundHandler(w http.ResponseWriter, r *http.Request) {
	httputil.WriteErrorResponse(w, r, http.StatusNotFound, "NOT_FOUND", "route not found: "+r.URL.Path, nil)
}

func methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	httputil.WriteErrorResponse(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", r.Method+" not allowed on "+r.URL.Path, nil)
}

// wrap applies the gateway chain around router: tracing and request logging,
// CORS, rate limiting and audit outside the router so preflights and
// unmatched routes are covered, metrics inside so route templates are known.
// It returns the limiter so its idle entries can be cleaned up.
func wrap(router *mux.Router, cfg chainConfig) (http.Handler, *middleware.RateLimiter) {
	router.Use(middleware.MetricsMiddleware("gateway", cfg.Metrics))

	var h http.Handler = router
	if cfg.Audit != nil {
		h = middleware.AuditMiddleware(cfg.Audit)(h)
	}
	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, cfg.Logger)
	if cfg.TrustProxy {
		limiter.TrustForwardedFor()
	}
	h = limiter.Handler(h)
	h = middleware.NewCORSMiddleware(cfg.AllowedOrigins).Handler(h)
	h = middleware.NewTracingMiddleware(cfg.Logger).Handler(h)
	return h, limiter
}

// originAllowed mirrors the CORS allowlist for websocket upgrades.
func originAllowed(allowed []string) func(string) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			return nil
		}
		set[o] = struct{}{}
	}
	return func(origin string) bool {
		_, ok := set[strings.TrimRight(origin, "/")]
		return ok
	}
}
