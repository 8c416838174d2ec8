package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	supa "github.com/aethex/platform/infra/supabase"
	"github.com/aethex/platform/internal/events"
	"github.com/aethex/platform/internal/httputil"
	"github.com/aethex/platform/services/discord/supabase"
)

// =============================================================================
// HTTP Handlers
// =============================================================================

type oauthStartResponse struct {
	URL string `json:"url"`
}

// handleOAuthStart returns the Discord authorize URL. The state carries the
// caller so the unauthenticated callback knows whom to link.
func (s *Service) handleOAuthStart(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	if s.oauth == nil {
		httputil.ServiceUnavailable(w, "discord oauth not configured")
		return
	}
	state, err := s.state.Sign(statePurpose, userID)
	if err != nil {
		httputil.InternalError(w, "")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, oauthStartResponse{URL: s.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "consent"))})
}

// discordUser is the subset of GET /users/@me we keep.
type discordUser struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name"`
	Avatar     string `json:"avatar"`
}

func (u discordUser) avatarURL() string {
	if u.Avatar == "" {
		return ""
	}
	return fmt.Sprintf("https://cdn.discordapp.com/avatars/%s/%s.png", u.ID, u.Avatar)
}

func (s *Service) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if s.oauth == nil {
		httputil.ServiceUnavailable(w, "discord oauth not configured")
		return
	}
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		httputil.BadRequest(w, "authorization denied: "+e)
		return
	}
	userID, err := s.state.Verify(q.Get("state"), statePurpose)
	if err != nil {
		s.logger.LogSecurityEvent(r.Context(), "discord_state_invalid", map[string]interface{}{"remote": r.RemoteAddr})
		httputil.BadRequest(w, "invalid or expired state")
		return
	}
	code := q.Get("code")
	if code == "" {
		httputil.BadRequest(w, "code is required")
		return
	}

	token, err := s.oauth.Exchange(s.oauthContext(r.Context()), code)
	if err != nil {
		s.logger.WithContext(r.Context()).WithError(err).Warn("discord code exchange failed")
		httputil.WriteErrorResponse(w, r, http.StatusBadGateway, "OAUTH_EXCHANGE_FAILED", "discord code exchange failed", nil)
		return
	}
	user, err := s.fetchUser(r.Context(), token.AccessToken)
	if err != nil {
		s.logger.WithContext(r.Context()).WithError(err).Warn("discord user lookup failed")
		httputil.WriteErrorResponse(w, r, http.StatusBadGateway, "PROVIDER_ERROR", "discord user lookup failed", nil)
		return
	}

	link, err := s.link(r.Context(), userID, user.ID, displayName(user), user.avatarURL())
	if err != nil {
		s.writeLinkError(w, r, err)
		return
	}
	if s.appURL != "" {
		http.Redirect(w, r, s.appURL+"/settings/connections?discord=linked", http.StatusFound)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, link)
}

func (s *Service) fetchUser(ctx context.Context, accessToken string) (*discordUser, error) {
	var u discordUser
	if err := s.api.GetJSON(ctx, "/users/@me", map[string]string{"Authorization": "Bearer " + accessToken}, &u); err != nil {
		return nil, err
	}
	if u.ID == "" {
		return nil, errors.New("discord user has no id")
	}
	return &u, nil
}

func displayName(u *discordUser) string {
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

// link stores the link and announces it.
func (s *Service) link(ctx context.Context, userID, discordID, username, avatar string) (*supabase.Link, error) {
	link, err := s.repo.SaveLink(ctx, &supabase.Link{
		UserID:          userID,
		DiscordID:       discordID,
		DiscordUsername: username,
		AvatarURL:       avatar,
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.New(events.DiscordLinked, userID, link))
	s.logger.WithContext(ctx).WithField("discord_id", discordID).Info("discord account linked")
	return link, nil
}

func (s *Service) writeLinkError(w http.ResponseWriter, r *http.Request, err error) {
	if supa.IsUniqueViolation(err) {
		httputil.Conflict(w, "discord account already linked to another user")
		return
	}
	httputil.WriteDBError(w, r, err, "discord link")
}

type verifyInput struct {
	Code string `json:"code"`
}

// handleVerify consumes a code issued by the bot's /verify command.
func (s *Service) handleVerify(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	var input verifyInput
	if !httputil.DecodeJSON(w, r, &input) {
		return
	}
	code := strings.ToUpper(strings.TrimSpace(input.Code))
	if code == "" {
		httputil.BadRequest(w, "code is required")
		return
	}

	v, err := s.repo.GetVerification(r.Context(), code)
	if err != nil {
		if supa.IsNotFound(err) {
			httputil.BadRequest(w, "invalid verification code")
			return
		}
		httputil.WriteDBError(w, r, err, "verification")
		return
	}
	if !s.now().Before(v.ExpiresAt) {
		if err := s.repo.DeleteVerification(r.Context(), code); err != nil {
			s.logger.WithContext(r.Context()).WithError(err).Warn("delete expired verification failed")
		}
		httputil.BadRequest(w, "verification code expired")
		return
	}

	link, err := s.link(r.Context(), userID, v.DiscordID, v.DiscordUsername, "")
	if err != nil {
		s.writeLinkError(w, r, err)
		return
	}
	if err := s.repo.DeleteVerification(r.Context(), code); err != nil {
		s.logger.WithContext(r.Context()).WithError(err).Warn("delete verification failed")
	}
	httputil.WriteJSON(w, http.StatusOK, link)
}

func (s *Service) handleGetLink(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	link, err := s.repo.GetLinkByUser(r.Context(), userID)
	if err != nil {
		httputil.WriteDBError(w, r, err, "discord link")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, link)
}

func (s *Service) handleUnlink(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	if err := s.repo.DeleteLink(r.Context(), userID); err != nil {
		httputil.WriteDBError(w, r, err, "discord link")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
