// Package middleware provides HTTP middleware for the gateway
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/aethex/platform/infra/supabase"
	"github.com/aethex/platform/internal/authtoken"
	svcerrors "github.com/aethex/platform/internal/errors"
	"github.com/aethex/platform/internal/httputil"
	"github.com/aethex/platform/internal/logging"
)

// Principal is the authenticated caller.
type Principal struct {
	UserID string
	Email  string
	Roles  []string
	Token  string
}

// HasRole reports whether p holds any of roles.
func (p *Principal) HasRole(roles ...string) bool {
	if p == nil {
		return false
	}
	for _, have := range p.Roles {
		for _, want := range roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

// TokenVerifier turns a bearer token into a Principal.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Principal, error)
}

// RoleResolver loads the roles of a user.
type RoleResolver interface {
	Roles(ctx context.Context, userID string) ([]string, error)
}

// =============================================================================
// Verifiers
// =============================================================================

// JWTVerifier validates Supabase access tokens locally with the project's
// JWT secret.
type JWTVerifier struct {
	issuer *authtoken.Issuer
}

func NewJWTVerifier(issuer *authtoken.Issuer) *JWTVerifier {
	return &JWTVerifier{issuer: issuer}
}

func (v *JWTVerifier) Verify(_ context.Context, token string) (*Principal, error) {
	claims, err := v.issuer.Parse(token)
	if err != nil {
		return nil, svcerrors.InvalidToken(err)
	}
	return &Principal{UserID: claims.Subject, Email: claims.Email, Token: token}, nil
}

// UserLookup is the subset of the Supabase auth client used for remote
// token validation.
type UserLookup interface {
	GetUser(ctx context.Context, accessToken string) (*supabase.User, error)
}

// SupabaseVerifier validates tokens by asking Supabase Auth who they belong to.
type SupabaseVerifier struct {
	auth UserLookup
}

func NewSupabaseVerifier(auth UserLookup) *SupabaseVerifier {
	return &SupabaseVerifier{auth: auth}
}

func (v *SupabaseVerifier) Verify(ctx context.Context, token string) (*Principal, error) {
	user, err := v.auth.GetUser(ctx, token)
	if err != nil {
		if errors.Is(err, supabase.ErrUnauthorized) {
			return nil, svcerrors.InvalidToken(err)
		}
		return nil, svcerrors.Unavailable("auth provider unavailable")
	}
	return &Principal{UserID: user.ID, Email: user.Email, Token: token}, nil
}

// StaticVerifier maps fixed tokens to principals. Used by tests and local
// development.
type StaticVerifier map[string]*Principal

func (v StaticVerifier) Verify(_ context.Context, token string) (*Principal, error) {
	p, ok := v[token]
	if !ok {
		return nil, svcerrors.InvalidToken(nil)
	}
	cp := *p
	cp.Token = token
	return &cp, nil
}

// =============================================================================
// Authenticator
// =============================================================================

// Authenticator wraps handlers with bearer token authentication.
type Authenticator struct {
	verifier TokenVerifier
	roles    RoleResolver
	logger   *logging.Logger
}

// NewAuthenticator creates an Authenticator. roles may be nil, in which case
// the roles returned by the verifier are used as-is.
func NewAuthenticator(verifier TokenVerifier, roles RoleResolver, logger *logging.Logger) *Authenticator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Authenticator{verifier: verifier, roles: roles, logger: logger}
}

// authenticate returns (nil, nil) when no credentials were sent.
func (a *Authenticator) authenticate(r *http.Request) (*Principal, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, nil
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return nil, svcerrors.Unauthorized("Invalid Authorization header format")
	}

	p, err := a.verifier.Verify(r.Context(), strings.TrimSpace(parts[1]))
	if err != nil {
		return nil, err
	}

	if a.roles != nil {
		roles, err := a.roles.Roles(r.Context(), p.UserID)
		if err != nil {
			a.logger.WithContext(r.Context()).WithError(err).Warn("role lookup failed")
		}
		p.Roles = roles
	}
	return p, nil
}

// Require rejects requests without a valid bearer token.
func (a *Authenticator) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := a.authenticate(r)
		if err == nil && p == nil {
			err = svcerrors.Unauthorized("Missing Authorization header")
		}
		if err != nil {
			a.respondError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// Optional attaches the principal when a valid token is sent. Anonymous
// requests pass through; invalid tokens are still rejected.
func (a *Authenticator) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := a.authenticate(r)
		if err != nil {
			a.respondError(w, r, err)
			return
		}
		if p != nil {
			r = r.WithContext(WithPrincipal(r.Context(), p))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole is Require plus a check that the caller holds one of roles.
func (a *Authenticator) RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return a.Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, _ := PrincipalFrom(r.Context())
			if !p.HasRole(roles...) {
				a.logger.LogSecurityEvent(r.Context(), "role_denied", map[string]interface{}{
					"path":     r.URL.Path,
					"required": roles,
				})
				a.respondError(w, r, svcerrors.Forbidden("insufficient role"))
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}

// respondError sends an error response
func (a *Authenticator) respondError(w http.ResponseWriter, r *http.Request, err error) {
	serviceErr := svcerrors.GetServiceError(err)
	if serviceErr == nil {
		serviceErr = svcerrors.Internal("Authentication failed", err)
	}

	httputil.WriteErrorResponse(w, r, serviceErr.HTTPStatus, string(serviceErr.Code), serviceErr.Message, serviceErr.Details)

	a.logger.WithContext(r.Context()).WithError(err).WithFields(map[string]interface{}{
		"path":   r.URL.Path,
		"method": r.Method,
		"status": serviceErr.HTTPStatus,
	}).Warn("Authentication failed")
}

// =============================================================================
// Context
// =============================================================================

type principalKey struct{}

// WithPrincipal stores p in ctx along with its user ID and primary role.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	ctx = context.WithValue(ctx, principalKey{}, p)
	ctx = logging.WithUserID(ctx, p.UserID)
	if len(p.Roles) > 0 {
		ctx = logging.WithRole(ctx, p.Roles[0])
	}
	if st := stateFrom(ctx); st != nil {
		st.setUser(p.UserID, strings.Join(p.Roles, ","))
	}
	return ctx
}

// PrincipalFrom returns the principal stored by WithPrincipal.
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}

// GetUserID extracts user ID from context
func GetUserID(ctx context.Context) string {
	return logging.GetUserID(ctx)
}

// HasRole reports whether the caller in ctx holds any of roles.
func HasRole(ctx context.Context, roles ...string) bool {
	p, _ := PrincipalFrom(ctx)
	return p.HasRole(roles...)
}

// AccessToken returns the caller's raw bearer token.
func AccessToken(ctx context.Context) string {
	if p, ok := PrincipalFrom(ctx); ok {
		return p.Token
	}
	return ""
}
