package admin

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/aethex/platform/internal/arms"
	"github.com/aethex/platform/internal/audit"
	"github.com/aethex/platform/internal/httputil"
	"github.com/aethex/platform/internal/middleware"
	"github.com/aethex/platform/internal/roles"
	"github.com/aethex/platform/services/admin/supabase"
	"github.com/aethex/platform/services/common/service"
)

// =============================================================================
// HTTP Handlers
// =============================================================================

// Stats is the dashboard summary.
type Stats struct {
	Profiles      int64            `json:"profiles"`
	Posts         int64            `json:"posts"`
	Opportunities int64            `json:"opportunities"`
	Contracts     int64            `json:"contracts"`
	PostsByArm    map[string]int64 `json:"posts_by_arm"`
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats := Stats{PostsByArm: make(map[string]int64, len(arms.All))}

	totals := []struct {
		table string
		dest  *int64
	}{
		{supabase.ProfilesTable, &stats.Profiles},
		{supabase.PostsTable, &stats.Posts},
		{supabase.OpportunitiesTable, &stats.Opportunities},
		{supabase.ContractsTable, &stats.Contracts},
	}
	for _, t := range totals {
		n, err := s.repo.Count(ctx, t.table)
		if err != nil {
			httputil.WriteDBError(w, r, err, t.table)
			return
		}
		*t.dest = n
	}
	for _, arm := range arms.All {
		n, err := s.repo.CountPostsInArm(ctx, arm)
		if err != nil {
			httputil.WriteDBError(w, r, err, "posts")
			return
		}
		stats.PostsByArm[arm] = n
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

type rolesBody struct {
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles"`
}

func (s *Service) handleGetRoles(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	got, err := s.roles.Roles(r.Context(), userID)
	if err != nil {
		httputil.WriteDBError(w, r, err, "roles")
		return
	}
	if got == nil {
		got = []string{}
	}
	httputil.WriteJSON(w, http.StatusOK, rolesBody{UserID: userID, Roles: got})
}

type setRolesInput struct {
	Roles []string `json:"roles"`
}

func (s *Service) handleSetRoles(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	var in setRolesInput
	if !httputil.DecodeJSON(w, r, &in) {
		return
	}
	for _, role := range in.Roles {
		if !roles.IsKnown(role) {
			httputil.BadRequest(w, "unknown role: "+role)
			return
		}
	}

	got, err := s.roles.SetRoles(r.Context(), userID, in.Roles)
	if err != nil {
		httputil.WriteDBError(w, r, err, "roles")
		return
	}
	s.logger.LogSecurityEvent(r.Context(), "roles_changed", map[string]interface{}{
		"target_user": userID,
		"roles":       got,
		"changed_by":  middleware.GetUserID(r.Context()),
	})
	if got == nil {
		got = []string{}
	}
	httputil.WriteJSON(w, http.StatusOK, rolesBody{UserID: userID, Roles: got})
}

type auditResponse struct {
	Data []audit.Entry `json:"data"`
}

func (s *Service) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			httputil.BadRequest(w, "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	entries := []audit.Entry{}
	if s.audit != nil {
		entries = s.audit.Recent(limit)
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	httputil.WriteJSON(w, http.StatusOK, auditResponse{Data: entries})
}

func (s *Service) handleSystem(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, service.CollectSystemStats(r.Context(), s.uptime()))
}
