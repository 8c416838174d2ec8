package identity

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	supa "github.com/aethex/platform/infra/supabase"
	"github.com/aethex/platform/internal/events"
	"github.com/aethex/platform/internal/httputil"
	"github.com/aethex/platform/internal/middleware"
	"github.com/aethex/platform/services/identity/supabase"
)

// =============================================================================
// HTTP Handlers: Web3
// =============================================================================

type nonceRequest struct {
	Address string `json:"address"`
}

type nonceResponse struct {
	Address   string    `json:"address"`
	Nonce     string    `json:"nonce"`
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Service) handleNonce(w http.ResponseWriter, r *http.Request) {
	var req nonceRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	address, err := normalizeAddress(req.Address)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	n := &supabase.Nonce{
		Address:   address,
		Nonce:     strings.ReplaceAll(uuid.NewString(), "-", ""),
		ExpiresAt: s.now().Add(s.nonceTTL),
	}
	if err := s.repo.SaveNonce(r.Context(), n); err != nil {
		httputil.WriteDBError(w, r, err, "nonce")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, nonceResponse{
		Address:   address,
		Nonce:     n.Nonce,
		Message:   signInMessage(address, n.Nonce),
		ExpiresAt: n.ExpiresAt,
	})
}

type verifyRequest struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
}

type sessionResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	UserID      string    `json:"user_id"`
	Address     string    `json:"address"`
}

// handleVerify checks a personal_sign signature over the issued nonce. A
// nonce is good for one attempt whatever the outcome.
func (s *Service) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	address, err := normalizeAddress(req.Address)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if req.Signature == "" {
		httputil.BadRequest(w, "signature is required")
		return
	}

	n, err := s.repo.GetNonce(r.Context(), address)
	if err != nil {
		if supa.IsNotFound(err) {
			httputil.BadRequest(w, "no sign-in nonce for this address")
			return
		}
		httputil.WriteDBError(w, r, err, "nonce")
		return
	}
	if err := s.repo.DeleteNonce(r.Context(), address); err != nil {
		httputil.WriteDBError(w, r, err, "nonce")
		return
	}
	if !s.now().Before(n.ExpiresAt) {
		httputil.BadRequest(w, "nonce expired")
		return
	}

	signer, err := recoverAddress(signInMessage(address, n.Nonce), req.Signature)
	if err != nil || !strings.EqualFold(signer, address) {
		s.logger.LogSecurityEvent(r.Context(), "web3_signature_invalid", map[string]interface{}{"address": address})
		httputil.Unauthorized(w, "signature does not match address")
		return
	}

	if userID := middleware.GetUserID(r.Context()); userID != "" {
		s.linkWallet(w, r, userID, address)
		return
	}
	s.signIn(w, r, address)
}

func (s *Service) linkWallet(w http.ResponseWriter, r *http.Request, userID, address string) {
	owner, err := s.repo.LinkWallet(r.Context(), userID, address)
	if err != nil {
		if supa.IsUniqueViolation(err) {
			httputil.Conflict(w, "wallet already linked to another account")
			return
		}
		httputil.WriteDBError(w, r, err, "profile")
		return
	}
	s.publish(r.Context(), events.New(events.IdentityWalletLinked, userID, map[string]string{"wallet_address": address}))
	s.logger.WithContext(r.Context()).WithField("wallet", address).Info("wallet linked")
	httputil.WriteJSON(w, http.StatusOK, owner)
}

func (s *Service) signIn(w http.ResponseWriter, r *http.Request, address string) {
	if s.issuer == nil {
		httputil.ServiceUnavailable(w, "wallet sign-in not configured")
		return
	}
	owner, err := s.repo.GetWalletOwner(r.Context(), address)
	if err != nil {
		if supa.IsNotFound(err) {
			httputil.NotFound(w, "no account is linked to this wallet")
			return
		}
		httputil.WriteDBError(w, r, err, "profile")
		return
	}
	token, expiresAt, err := s.issuer.Mint(owner.ID, owner.Email, map[string]interface{}{
		"provider": "web3",
		"wallet":   address,
	})
	if err != nil {
		s.logger.WithContext(r.Context()).WithError(err).Error("mint access token failed")
		httputil.InternalError(w, "")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sessionResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresAt:   expiresAt,
		UserID:      owner.ID,
		Address:     address,
	})
}

// =============================================================================
// HTTP Handlers: Roblox
// =============================================================================

type oauthStartResponse struct {
	URL string `json:"url"`
}

func (s *Service) handleRobloxStart(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	if s.roblox == nil {
		httputil.ServiceUnavailable(w, "roblox oauth not configured")
		return
	}
	state, err := s.state.Sign(statePurpose, userID)
	if err != nil {
		httputil.InternalError(w, "")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, oauthStartResponse{URL: s.roblox.AuthCodeURL(state)})
}

// robloxClaims are the id_token claims Roblox sends for the profile scope.
type robloxClaims struct {
	Subject           string `json:"sub"`
	Name              string `json:"name"`
	Nickname          string `json:"nickname"`
	PreferredUsername string `json:"preferred_username"`
	Picture           string `json:"picture"`
}

func (s *Service) handleRobloxCallback(w http.ResponseWriter, r *http.Request) {
	if s.roblox == nil {
		httputil.ServiceUnavailable(w, "roblox oauth not configured")
		return
	}
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		httputil.BadRequest(w, "authorization denied: "+e)
		return
	}
	userID, err := s.state.Verify(q.Get("state"), statePurpose)
	if err != nil {
		s.logger.LogSecurityEvent(r.Context(), "roblox_state_invalid", map[string]interface{}{"remote": r.RemoteAddr})
		httputil.BadRequest(w, "invalid or expired state")
		return
	}
	code := q.Get("code")
	if code == "" {
		httputil.BadRequest(w, "code is required")
		return
	}

	ctx := s.oauthContext(r.Context())
	token, err := s.roblox.Exchange(ctx, code)
	if err != nil {
		s.logger.WithContext(r.Context()).WithError(err).Warn("roblox code exchange failed")
		httputil.WriteErrorResponse(w, r, http.StatusBadGateway, "OAUTH_EXCHANGE_FAILED", "roblox code exchange failed", nil)
		return
	}
	rawIDToken, _ := token.Extra("id_token").(string)
	if rawIDToken == "" {
		httputil.WriteErrorResponse(w, r, http.StatusBadGateway, "PROVIDER_ERROR", "roblox returned no id_token", nil)
		return
	}
	idToken, err := s.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		s.logger.LogSecurityEvent(r.Context(), "roblox_id_token_invalid", map[string]interface{}{"error": err.Error()})
		httputil.Unauthorized(w, "invalid id_token")
		return
	}
	var claims robloxClaims
	if err := idToken.Claims(&claims); err != nil || claims.Subject == "" {
		httputil.WriteErrorResponse(w, r, http.StatusBadGateway, "PROVIDER_ERROR", "roblox id_token has no subject", nil)
		return
	}

	username := claims.PreferredUsername
	if username == "" {
		username = claims.Nickname
	}
	link, err := s.repo.SaveRobloxLink(r.Context(), &supabase.RobloxLink{
		UserID:         userID,
		RobloxID:       claims.Subject,
		RobloxUsername: username,
		DisplayName:    claims.Name,
		AvatarURL:      claims.Picture,
	})
	if err != nil {
		if supa.IsUniqueViolation(err) {
			httputil.Conflict(w, "roblox account already linked to another user")
			return
		}
		httputil.WriteDBError(w, r, err, "roblox link")
		return
	}
	s.publish(r.Context(), events.New(events.IdentityRobloxLinked, userID, link))
	s.logger.WithContext(r.Context()).WithField("roblox_id", claims.Subject).Info("roblox account linked")

	if s.appURL != "" {
		http.Redirect(w, r, s.appURL+"/settings/connections?roblox=linked", http.StatusFound)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, link)
}

func (s *Service) handleGetRobloxLink(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	link, err := s.repo.GetRobloxLink(r.Context(), userID)
	if err != nil {
		if supa.IsNotFound(err) {
			httputil.NotFound(w, "roblox account not linked")
			return
		}
		httputil.WriteDBError(w, r, err, "roblox link")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, link)
}
