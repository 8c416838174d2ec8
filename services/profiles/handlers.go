package profiles

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	supa "github.com/aethex/platform/infra/supabase"
	"github.com/aethex/platform/internal/arms"
	"github.com/aethex/platform/internal/httputil"
	"github.com/aethex/platform/internal/middleware"
	"github.com/aethex/platform/services/profiles/supabase"
)

// =============================================================================
// HTTP Handlers
// =============================================================================

// handleGetOwn returns the caller's profile.
func (s *Service) handleGetOwn(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}

	profile, err := s.repo.GetProfile(r.Context(), userID)
	if err != nil {
		httputil.WriteDBError(w, r, err, "profile")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, profile)
}

// handleUpsertOwn creates or updates the caller's profile.
func (s *Service) handleUpsertOwn(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}

	var input UpdateProfileInput
	if !httputil.DecodeJSON(w, r, &input) {
		return
	}

	profile, err := s.repo.GetProfile(r.Context(), userID)
	if err != nil && !supa.IsNotFound(err) {
		httputil.WriteDBError(w, r, err, "profile")
		return
	}
	if profile == nil {
		profile = &supabase.Profile{ID: userID}
	}
	p, _ := middleware.PrincipalFrom(r.Context())
	if profile.Email == "" && p != nil {
		profile.Email = p.Email
	}

	if err := input.apply(profile); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	derived := false
	if profile.Username == "" {
		profile.Username = UsernameFromEmail(profile.Email)
		if profile.Username == "" || profile.Username == "user" {
			profile.Username = WithSuffix("user")
		}
		derived = true
	}

	saved, err := s.repo.UpsertProfile(r.Context(), profile)
	if err != nil && supa.IsUniqueViolation(err) && derived {
		profile.Username = WithSuffix(profile.Username)
		saved, err = s.repo.UpsertProfile(r.Context(), profile)
	}
	if err != nil {
		if supa.IsUniqueViolation(err) {
			httputil.Conflict(w, "username already taken")
			return
		}
		httputil.WriteDBError(w, r, err, "profile")
		return
	}

	s.metrics.RecordDomainEvent("profile.updated")
	s.logger.WithContext(r.Context()).WithField("username", saved.Username).Info("profile saved")
	httputil.WriteJSON(w, http.StatusOK, saved)
}

// handleGetByUsername returns a public profile.
func (s *Service) handleGetByUsername(w http.ResponseWriter, r *http.Request) {
	username := NormalizeUsername(mux.Vars(r)["username"])
	if username == "" {
		httputil.BadRequest(w, "username required")
		return
	}

	profile, err := s.repo.GetByUsername(r.Context(), username)
	if err != nil {
		httputil.WriteDBError(w, r, err, "profile")
		return
	}
	profile.Email = ""
	httputil.WriteJSON(w, http.StatusOK, profile)
}

// handleList searches the profile directory.
func (s *Service) handleList(w http.ResponseWriter, r *http.Request) {
	page, ok := httputil.RequirePagination(w, r)
	if !ok {
		return
	}

	arm := arms.Normalize(r.URL.Query().Get("arm"))
	if arm != "" && !arms.Valid(arm) {
		httputil.BadRequest(w, "invalid arm")
		return
	}

	rows, total, err := s.repo.ListProfiles(r.Context(), supabase.ListParams{
		Query:  strings.TrimSpace(r.URL.Query().Get("q")),
		Arm:    arm,
		Limit:  page.Limit,
		Offset: page.Offset,
	})
	if err != nil {
		httputil.WriteDBError(w, r, err, "profile")
		return
	}
	if rows == nil {
		rows = []supabase.Profile{}
	}
	for i := range rows {
		rows[i].Email = ""
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.NewPage(rows, total, page))
}
