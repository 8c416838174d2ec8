package middleware

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/aethex/platform/internal/httputil"
	"github.com/aethex/platform/internal/logging"
)

// TracingMiddleware adds trace ID to all requests
type TracingMiddleware struct {
	logger *logging.Logger
}

// NewTracingMiddleware creates a new tracing middleware
func NewTracingMiddleware(logger *logging.Logger) *TracingMiddleware {
	return &TracingMiddleware{
		logger: logger,
	}
}

// Handler assigns a trace ID, recovers panics and logs the request once it
// completes.
func (m *TracingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" || len(traceID) > 128 {
			traceID = logging.NewTraceID()
		}

		ctx := logging.WithTraceID(r.Context(), traceID)
		ctx, st := withState(ctx)

		w.Header().Set("X-Trace-ID", traceID)

		rw := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		start := time.Now()

		func() {
			defer func() {
				if rec := recover(); rec != nil {
					m.logger.WithContext(ctx).WithFields(map[string]interface{}{
						"panic": rec,
						"stack": string(debug.Stack()),
					}).Error("handler panicked")
					if !rw.written {
						httputil.WriteErrorResponse(rw, r.WithContext(ctx), http.StatusInternalServerError, "INTERNAL", "internal server error", nil)
					}
				}
			}()
			next.ServeHTTP(rw, r.WithContext(ctx))
		}()

		if userID, _ := st.user(); userID != "" {
			ctx = logging.WithUserID(ctx, userID)
		}
		m.logger.LogRequest(ctx, r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}
