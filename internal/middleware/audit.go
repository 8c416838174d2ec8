package middleware

import (
	"net/http"

	"github.com/aethex/platform/internal/audit"
	"github.com/aethex/platform/internal/logging"
)

// AuditMiddleware records every mutating request into log.
func AuditMiddleware(log *audit.Log) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			ctx, st := withState(r.Context())
			r = r.WithContext(ctx)
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			userID, roles := st.user()
			log.Add(r.Context(), audit.Entry{
				UserID:     userID,
				Roles:      roles,
				Method:     r.Method,
				Path:       r.URL.Path,
				Status:     rw.statusCode,
				TraceID:    logging.GetTraceID(r.Context()),
				RemoteAddr: r.RemoteAddr,
				UserAgent:  r.UserAgent(),
			})
		})
	}
}
