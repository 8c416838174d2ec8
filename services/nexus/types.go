package nexus

import (
	"fmt"
	"strings"
	"time"

	svcerrors "github.com/aethex/platform/internal/errors"
	"github.com/aethex/platform/services/nexus/supabase"
)

// Opportunity statuses.
const (
	OpportunityOpen       = "open"
	OpportunityInProgress = "in_progress"
	OpportunityFilled     = "filled"
	OpportunityClosed     = "closed"
	OpportunityCancelled  = "cancelled"
)

// Application statuses.
const (
	ApplicationSubmitted = "submitted"
	ApplicationReviewing = "reviewing"
	ApplicationAccepted  = "accepted"
	ApplicationRejected  = "rejected"
	ApplicationWithdrawn = "withdrawn"
)

// Contract statuses.
const (
	ContractPending   = "pending"
	ContractActive    = "active"
	ContractCompleted = "completed"
	ContractCancelled = "cancelled"
	ContractDisputed  = "disputed"
)

var opportunityStatuses = map[string]bool{
	OpportunityOpen:       true,
	OpportunityInProgress: true,
	OpportunityFilled:     true,
	OpportunityClosed:     true,
	OpportunityCancelled:  true,
}

var budgetTypes = map[string]bool{"fixed": true, "hourly": true, "range": true}

// contractTransitions lists the statuses reachable from each contract status.
var contractTransitions = map[string][]string{
	ContractPending:  {ContractActive, ContractCancelled},
	ContractActive:   {ContractCompleted, ContractCancelled, ContractDisputed},
	ContractDisputed: {ContractActive, ContractCancelled},
}

// CanTransition reports whether a contract may move from one status to another.
func CanTransition(from, to string) bool {
	for _, s := range contractTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

const (
	maxTitleLen       = 200
	maxDescriptionLen = 10000
	maxCoverLetterLen = 5000
)

// =============================================================================
// Opportunities
// =============================================================================

// CreateOpportunityInput is the body of POST /api/nexus/opportunities.
type CreateOpportunityInput struct {
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Category       string   `json:"category"`
	RequiredSkills []string `json:"required_skills"`
	BudgetType     string   `json:"budget_type"`
	BudgetMin      *int64   `json:"budget_min"`
	BudgetMax      *int64   `json:"budget_max"`
	Timeline       string   `json:"timeline"`
}

func (in *CreateOpportunityInput) validate() error {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.BudgetType = strings.ToLower(strings.TrimSpace(in.BudgetType))
	in.Category = strings.TrimSpace(in.Category)

	if in.Title == "" {
		return svcerrors.Validation("title", "title is required")
	}
	if len(in.Title) > maxTitleLen {
		return svcerrors.Validation("title", fmt.Sprintf("title must be at most %d characters", maxTitleLen))
	}
	if len(in.Description) > maxDescriptionLen {
		return svcerrors.Validation("description", fmt.Sprintf("description must be at most %d characters", maxDescriptionLen))
	}
	if in.BudgetType == "" {
		return svcerrors.Validation("budget_type", "budget_type is required")
	}
	if !budgetTypes[in.BudgetType] {
		return svcerrors.Validation("budget_type", "budget_type must be one of fixed, hourly, range")
	}
	return validateBudget(in.BudgetMin, in.BudgetMax)
}

func (in CreateOpportunityInput) opportunity(clientID string) *supabase.Opportunity {
	skills := cleanList(in.RequiredSkills)
	return &supabase.Opportunity{
		ClientID:       clientID,
		Title:          in.Title,
		Description:    in.Description,
		Category:       in.Category,
		RequiredSkills: skills,
		BudgetType:     in.BudgetType,
		BudgetMin:      in.BudgetMin,
		BudgetMax:      in.BudgetMax,
		Timeline:       strings.TrimSpace(in.Timeline),
		Status:         OpportunityOpen,
	}
}

// UpdateOpportunityInput is the body of PATCH /api/nexus/opportunities/{id}.
type UpdateOpportunityInput struct {
	Title          *string   `json:"title"`
	Description    *string   `json:"description"`
	Category       *string   `json:"category"`
	RequiredSkills *[]string `json:"required_skills"`
	BudgetMin      *int64    `json:"budget_min"`
	BudgetMax      *int64    `json:"budget_max"`
	Timeline       *string   `json:"timeline"`
	Status         *string   `json:"status"`
}

// update validates the input against the stored opportunity.
func (in UpdateOpportunityInput) update(current *supabase.Opportunity) (supabase.OpportunityUpdate, error) {
	var u supabase.OpportunityUpdate
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" || len(title) > maxTitleLen {
			return u, svcerrors.Validation("title", fmt.Sprintf("title must be 1-%d characters", maxTitleLen))
		}
		u.Title = &title
	}
	if in.Description != nil {
		desc := strings.TrimSpace(*in.Description)
		if len(desc) > maxDescriptionLen {
			return u, svcerrors.Validation("description", fmt.Sprintf("description must be at most %d characters", maxDescriptionLen))
		}
		u.Description = &desc
	}
	if in.Category != nil {
		category := strings.TrimSpace(*in.Category)
		u.Category = &category
	}
	if in.RequiredSkills != nil {
		skills := cleanList(*in.RequiredSkills)
		u.RequiredSkills = &skills
	}
	if in.Timeline != nil {
		timeline := strings.TrimSpace(*in.Timeline)
		u.Timeline = &timeline
	}
	if in.Status != nil {
		status := strings.ToLower(strings.TrimSpace(*in.Status))
		if !opportunityStatuses[status] {
			return u, svcerrors.Validation("status", fmt.Sprintf("invalid status %q", *in.Status))
		}
		u.Status = &status
	}

	lo, hi := current.BudgetMin, current.BudgetMax
	if in.BudgetMin != nil {
		lo = in.BudgetMin
		u.BudgetMin = in.BudgetMin
	}
	if in.BudgetMax != nil {
		hi = in.BudgetMax
		u.BudgetMax = in.BudgetMax
	}
	if err := validateBudget(lo, hi); err != nil {
		return u, err
	}
	return u, nil
}

func (in UpdateOpportunityInput) empty() bool {
	return in.Title == nil && in.Description == nil && in.Category == nil && in.RequiredSkills == nil &&
		in.BudgetMin == nil && in.BudgetMax == nil && in.Timeline == nil && in.Status == nil
}

func validateBudget(lo, hi *int64) error {
	if lo != nil && *lo < 0 {
		return svcerrors.Validation("budget_min", "budget_min must be non-negative")
	}
	if hi != nil && *hi < 0 {
		return svcerrors.Validation("budget_max", "budget_max must be non-negative")
	}
	if lo != nil && hi != nil && *lo > *hi {
		return svcerrors.Validation("budget_min", "budget_min must not exceed budget_max")
	}
	return nil
}

// =============================================================================
// Applications
// =============================================================================

// ApplyInput is the body of POST /api/nexus/opportunities/{id}/applications.
type ApplyInput struct {
	CoverLetter  string `json:"cover_letter"`
	ProposedRate *int64 `json:"proposed_rate"`
}

func (in *ApplyInput) validate() error {
	in.CoverLetter = strings.TrimSpace(in.CoverLetter)
	if len(in.CoverLetter) > maxCoverLetterLen {
		return svcerrors.Validation("cover_letter", fmt.Sprintf("cover_letter must be at most %d characters", maxCoverLetterLen))
	}
	if in.ProposedRate != nil && *in.ProposedRate < 0 {
		return svcerrors.Validation("proposed_rate", "proposed_rate must be non-negative")
	}
	return nil
}

// StatusInput is the body of the status PATCH endpoints.
type StatusInput struct {
	Status string `json:"status"`
}

// =============================================================================
// Contracts
// =============================================================================

// CreateContractInput is the body of POST /api/nexus/contracts.
type CreateContractInput struct {
	ApplicationID string     `json:"application_id"`
	Title         string     `json:"title"`
	TotalAmount   int64      `json:"total_amount"`
	StartDate     *time.Time `json:"start_date"`
	EndDate       *time.Time `json:"end_date"`
}

func (in *CreateContractInput) validate() error {
	in.ApplicationID = strings.TrimSpace(in.ApplicationID)
	in.Title = strings.TrimSpace(in.Title)
	if in.ApplicationID == "" {
		return svcerrors.Validation("application_id", "application_id is required")
	}
	if in.TotalAmount <= 0 {
		return svcerrors.Validation("total_amount", "total_amount must be a positive number of cents")
	}
	if len(in.Title) > maxTitleLen {
		return svcerrors.Validation("title", fmt.Sprintf("title must be at most %d characters", maxTitleLen))
	}
	if in.StartDate != nil && in.EndDate != nil && in.EndDate.Before(*in.StartDate) {
		return svcerrors.Validation("end_date", "end_date must not be before start_date")
	}
	return nil
}

func cleanList(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
