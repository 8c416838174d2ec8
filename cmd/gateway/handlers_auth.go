package main

import (
	"context"
	"net/http"
	"net/mail"
	"strings"

	"github.com/gorilla/mux"

	supa "github.com/aethex/platform/infra/supabase"
	"github.com/aethex/platform/internal/httputil"
	"github.com/aethex/platform/internal/logging"
	"github.com/aethex/platform/internal/middleware"
)

// authProvider is the subset of the Supabase auth client the gateway
// proxies. *supa.AuthClient implements it.
type authProvider interface {
	SignUp(ctx context.Context, req supa.SignUpRequest) (*supa.Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*supa.Session, error)
	RefreshToken(ctx context.Context, refreshToken string) (*supa.Session, error)
	GetUser(ctx context.Context, accessToken string) (*supa.User, error)
	SignOut(ctx context.Context, accessToken string) error
}

const minPasswordLength = 8

// authHandlers proxies email/password auth to Supabase so the SPA only
// talks to the gateway.
type authHandlers struct {
	provider authProvider
	auth     *middleware.Authenticator
	logger   *logging.Logger
}

// RegisterRoutes mounts the auth endpoints.
func (h *authHandlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/auth/signup", h.signUp).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/login", h.login).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/refresh", h.refresh).Methods(http.MethodPost)
	r.Handle("/api/auth/logout", h.auth.Require(http.HandlerFunc(h.logout))).Methods(http.MethodPost)
	r.Handle("/api/auth/me", h.auth.Require(http.HandlerFunc(h.me))).Methods(http.MethodGet)
}

// =============================================================================
// Auth Handlers
// =============================================================================

type credentials struct {
	Email    string                 `json:"email"`
	Password string                 `json:"password"`
	Data     map[string]interface{} `json:"data,omitempty"`
}

func (c *credentials) validate(signup bool) string {
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	if _, err := mail.ParseAddress(c.Email); err != nil || !strings.Contains(c.Email, "@") {
		return "a valid email is required"
	}
	if c.Password == "" {
		return "password is required"
	}
	if signup && len(c.Password) < minPasswordLength {
		return "password must be at least 8 characters"
	}
	return ""
}

func (h *authHandlers) signUp(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if msg := req.validate(true); msg != "" {
		httputil.BadRequest(w, msg)
		return
	}
	session, err := h.provider.SignUp(r.Context(), supa.SignUpRequest{Email: req.Email, Password: req.Password, Data: req.Data})
	if err != nil {
		h.writeProviderError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, session)
}

func (h *authHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if msg := req.validate(false); msg != "" {
		httputil.BadRequest(w, msg)
		return
	}
	session, err := h.provider.SignInWithPassword(r.Context(), req.Email, req.Password)
	if err != nil {
		h.logger.LogSecurityEvent(r.Context(), "login_failed", map[string]interface{}{"remote": r.RemoteAddr})
		h.writeProviderError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, session)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *authHandlers) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		httputil.BadRequest(w, "refresh_token is required")
		return
	}
	session, err := h.provider.RefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		h.writeProviderError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, session)
}

func (h *authHandlers) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.provider.SignOut(r.Context(), middleware.AccessToken(r.Context())); err != nil {
		h.writeProviderError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *authHandlers) me(w http.ResponseWriter, r *http.Request) {
	user, err := h.provider.GetUser(r.Context(), middleware.AccessToken(r.Context()))
	if err != nil {
		h.writeProviderError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, user)
}

// writeProviderError passes Supabase Auth 4xx answers through and hides
// everything else behind 502.
func (h *authHandlers) writeProviderError(w http.ResponseWriter, r *http.Request, err error) {
	if e, ok := supa.AsError(err); ok && e.StatusCode >= 400 && e.StatusCode < 500 {
		status := e.StatusCode
		if status == http.StatusUnprocessableEntity {
			status = http.StatusBadRequest
		}
		httputil.WriteErrorResponse(w, r, status, "AUTH_ERROR", e.Message, nil)
		return
	}
	h.logger.WithContext(r.Context()).WithError(err).Warn("auth provider request failed")
	httputil.WriteErrorResponse(w, r, http.StatusBadGateway, "AUTH_UNAVAILABLE", "auth provider unavailable", nil)
}
