package nexus

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	supa "github.com/aethex/platform/infra/supabase"
	"github.com/aethex/platform/internal/events"
	"github.com/aethex/platform/internal/httputil"
	"github.com/aethex/platform/services/nexus/supabase"
)

// =============================================================================
// Opportunity Handlers
// =============================================================================

func (s *Service) handleListOpportunities(w http.ResponseWriter, r *http.Request) {
	page, ok := httputil.RequirePagination(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := supabase.OpportunityFilter{
		Status:     strings.ToLower(q.Get("status")),
		Category:   q.Get("category"),
		BudgetType: strings.ToLower(q.Get("budget_type")),
		ClientID:   q.Get("client_id"),
		Limit:      page.Limit,
		Offset:     page.Offset,
	}
	switch {
	case filter.Status == "":
		filter.Status = OpportunityOpen
	case filter.Status == "all":
		filter.Status = ""
	case !opportunityStatuses[filter.Status]:
		httputil.BadRequest(w, "invalid status")
		return
	}
	if filter.BudgetType != "" && !budgetTypes[filter.BudgetType] {
		httputil.BadRequest(w, "invalid budget_type")
		return
	}

	rows, total, err := s.repo.ListOpportunities(r.Context(), filter)
	if err != nil {
		httputil.WriteDBError(w, r, err, "opportunities")
		return
	}
	if rows == nil {
		rows = []supabase.Opportunity{}
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.NewPage(rows, total, page))
}

func (s *Service) handleCreateOpportunity(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	var input CreateOpportunityInput
	if !httputil.DecodeJSON(w, r, &input) {
		return
	}
	if err := input.validate(); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	opp, err := s.repo.CreateOpportunity(r.Context(), input.opportunity(userID))
	if err != nil {
		httputil.WriteDBError(w, r, err, "opportunity")
		return
	}
	ev := events.New(events.NexusOpportunityPosted, userID, opp)
	ev.Arm = "nexus"
	s.publish(r.Context(), ev)
	httputil.WriteJSON(w, http.StatusCreated, opp)
}

func (s *Service) handleGetOpportunity(w http.ResponseWriter, r *http.Request) {
	opp, err := s.repo.GetOpportunity(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteDBError(w, r, err, "opportunity")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, opp)
}

func (s *Service) handleUpdateOpportunity(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]

	var input UpdateOpportunityInput
	if !httputil.DecodeJSON(w, r, &input) {
		return
	}
	if input.empty() {
		httputil.BadRequest(w, "no fields to update")
		return
	}

	opp, err := s.repo.GetOpportunity(r.Context(), id)
	if err != nil {
		httputil.WriteDBError(w, r, err, "opportunity")
		return
	}
	if opp.ClientID != userID {
		httputil.Forbidden(w, "only the owner can edit this opportunity")
		return
	}
	update, err := input.update(opp)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	now := s.now()
	update.UpdatedAt = &now

	updated, err := s.repo.UpdateOpportunity(r.Context(), id, update)
	if err != nil {
		httputil.WriteDBError(w, r, err, "opportunity")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

// =============================================================================
// Application Handlers
// =============================================================================

func (s *Service) handleApply(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	var input ApplyInput
	if !httputil.DecodeJSON(w, r, &input) {
		return
	}
	if err := input.validate(); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	opp, err := s.repo.GetOpportunity(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteDBError(w, r, err, "opportunity")
		return
	}
	if opp.ClientID == userID {
		httputil.BadRequest(w, "cannot apply to your own opportunity")
		return
	}
	if opp.Status != OpportunityOpen {
		httputil.BadRequest(w, "opportunity is not open for applications")
		return
	}

	app, err := s.repo.CreateApplication(r.Context(), &supabase.Application{
		OpportunityID: opp.ID,
		CreatorID:     userID,
		CoverLetter:   input.CoverLetter,
		ProposedRate:  input.ProposedRate,
		Status:        ApplicationSubmitted,
	})
	if err != nil {
		if supa.IsUniqueViolation(err) {
			httputil.Conflict(w, "you have already applied to this opportunity")
			return
		}
		httputil.WriteDBError(w, r, err, "application")
		return
	}
	s.publish(r.Context(), events.New(events.NexusApplicationSent, userID, app))
	httputil.WriteJSON(w, http.StatusCreated, app)
}

func (s *Service) handleListApplications(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	page, ok := httputil.RequirePagination(w, r)
	if !ok {
		return
	}
	opp, err := s.repo.GetOpportunity(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteDBError(w, r, err, "opportunity")
		return
	}
	if opp.ClientID != userID {
		httputil.Forbidden(w, "only the owner can view applications")
		return
	}

	rows, total, err := s.repo.ListApplicationsForOpportunity(r.Context(), opp.ID, page.Limit, page.Offset)
	if err != nil {
		httputil.WriteDBError(w, r, err, "applications")
		return
	}
	if rows == nil {
		rows = []supabase.Application{}
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.NewPage(rows, total, page))
}

func (s *Service) handleListMyApplications(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	page, ok := httputil.RequirePagination(w, r)
	if !ok {
		return
	}
	rows, total, err := s.repo.ListApplicationsByCreator(r.Context(), userID, page.Limit, page.Offset)
	if err != nil {
		httputil.WriteDBError(w, r, err, "applications")
		return
	}
	if rows == nil {
		rows = []supabase.Application{}
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.NewPage(rows, total, page))
}

// handleUpdateApplication lets the opportunity owner review an application
// and the applicant withdraw it. Decided applications are final.
func (s *Service) handleUpdateApplication(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	var input StatusInput
	if !httputil.DecodeJSON(w, r, &input) {
		return
	}
	status := strings.ToLower(strings.TrimSpace(input.Status))

	app, err := s.repo.GetApplication(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteDBError(w, r, err, "application")
		return
	}
	opp, err := s.repo.GetOpportunity(r.Context(), app.OpportunityID)
	if err != nil {
		httputil.WriteDBError(w, r, err, "opportunity")
		return
	}

	switch {
	case userID == opp.ClientID:
		if status != ApplicationAccepted && status != ApplicationRejected && status != ApplicationReviewing {
			httputil.BadRequest(w, "status must be one of accepted, rejected, reviewing")
			return
		}
	case userID == app.CreatorID:
		if status != ApplicationWithdrawn {
			httputil.BadRequest(w, "applicants may only withdraw")
			return
		}
	default:
		httputil.Forbidden(w, "not allowed to update this application")
		return
	}
	if app.Status != ApplicationSubmitted && app.Status != ApplicationReviewing {
		httputil.Conflict(w, "application is already "+app.Status)
		return
	}

	updated, err := s.repo.UpdateApplicationStatus(r.Context(), app.ID, status)
	if err != nil {
		httputil.WriteDBError(w, r, err, "application")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}
