// Package supabase provides data access for the NEXUS marketplace.
package supabase

import (
	"context"
	"fmt"
	"time"

	supa "github.com/aethex/platform/infra/supabase"
)

const (
	opportunitiesTable   = "nexus_opportunities"
	applicationsTable    = "nexus_applications"
	contractsTable       = "nexus_contracts"
	paymentsTable        = "nexus_payments"
	creatorProfilesTable = "nexus_creator_profiles"
)

// =============================================================================
// Data Models
// =============================================================================

// Opportunity is a job posted by a client.
type Opportunity struct {
	ID             string     `json:"id,omitempty"`
	ClientID       string     `json:"client_id"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Category       string     `json:"category,omitempty"`
	RequiredSkills []string   `json:"required_skills"`
	BudgetType     string     `json:"budget_type"`
	BudgetMin      *int64     `json:"budget_min,omitempty"`
	BudgetMax      *int64     `json:"budget_max,omitempty"`
	Timeline       string     `json:"timeline,omitempty"`
	Status         string     `json:"status"`
	CreatedAt      *time.Time `json:"created_at,omitempty"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`
}

// OpportunityUpdate carries mutable opportunity columns.
type OpportunityUpdate struct {
	Title          *string    `json:"title,omitempty"`
	Description    *string    `json:"description,omitempty"`
	Category       *string    `json:"category,omitempty"`
	RequiredSkills *[]string  `json:"required_skills,omitempty"`
	BudgetMin      *int64     `json:"budget_min,omitempty"`
	BudgetMax      *int64     `json:"budget_max,omitempty"`
	Timeline       *string    `json:"timeline,omitempty"`
	Status         *string    `json:"status,omitempty"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`
}

// OpportunityFilter narrows an opportunity listing.
type OpportunityFilter struct {
	Status     string
	Category   string
	BudgetType string
	ClientID   string
	Limit      int
	Offset     int
}

// Application is a creator's bid on an opportunity.
type Application struct {
	ID            string     `json:"id,omitempty"`
	OpportunityID string     `json:"opportunity_id"`
	CreatorID     string     `json:"creator_id"`
	CoverLetter   string     `json:"cover_letter,omitempty"`
	ProposedRate  *int64     `json:"proposed_rate,omitempty"`
	Status        string     `json:"status"`
	CreatedAt     *time.Time `json:"created_at,omitempty"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty"`
}

// Contract binds a client and a creator to a priced piece of work. Amounts
// are integer cents.
type Contract struct {
	ID               string     `json:"id,omitempty"`
	OpportunityID    string     `json:"opportunity_id"`
	ApplicationID    string     `json:"application_id"`
	ClientID         string     `json:"client_id"`
	CreatorID        string     `json:"creator_id"`
	Title            string     `json:"title"`
	TotalAmount      int64      `json:"total_amount"`
	CommissionAmount int64      `json:"commission_amount"`
	CreatorPayout    int64      `json:"creator_payout"`
	Status           string     `json:"status"`
	StripeTransferID string     `json:"stripe_transfer_id,omitempty"`
	StartDate        *time.Time `json:"start_date,omitempty"`
	EndDate          *time.Time `json:"end_date,omitempty"`
	CreatedAt        *time.Time `json:"created_at,omitempty"`
	UpdatedAt        *time.Time `json:"updated_at,omitempty"`
}

// ContractUpdate carries mutable contract columns.
type ContractUpdate struct {
	Status           *string    `json:"status,omitempty"`
	StripeTransferID *string    `json:"stripe_transfer_id,omitempty"`
	EndDate          *time.Time `json:"end_date,omitempty"`
	UpdatedAt        *time.Time `json:"updated_at,omitempty"`
}

// ContractFilter narrows a contract listing to one participant. Role is
// "client", "creator" or empty for both.
type ContractFilter struct {
	UserID string
	Role   string
	Status string
	Limit  int
	Offset int
}

// Payment is a client charge for a contract.
type Payment struct {
	ID                    string     `json:"id,omitempty"`
	ContractID            string     `json:"contract_id"`
	ClientID              string     `json:"client_id"`
	Amount                int64      `json:"amount"`
	Currency              string     `json:"currency"`
	StripePaymentIntentID string     `json:"stripe_payment_intent_id"`
	Status                string     `json:"status"`
	FailureReason         string     `json:"failure_reason,omitempty"`
	CreatedAt             *time.Time `json:"created_at,omitempty"`
	UpdatedAt             *time.Time `json:"updated_at,omitempty"`
}

// CreatorProfile holds a creator's Stripe Connect state.
type CreatorProfile struct {
	UserID                   string     `json:"user_id"`
	StripeAccountID          string     `json:"stripe_account_id,omitempty"`
	StripeOnboardingComplete bool       `json:"stripe_onboarding_complete"`
	UpdatedAt                *time.Time `json:"updated_at,omitempty"`
}

// Payment statuses.
const (
	PaymentPending   = "pending"
	PaymentSucceeded = "succeeded"
	PaymentFailed    = "failed"
)

// =============================================================================
// Repository Interface
// =============================================================================

// Repository defines NEXUS data operations.
type Repository interface {
	ListOpportunities(ctx context.Context, f OpportunityFilter) ([]Opportunity, int64, error)
	CreateOpportunity(ctx context.Context, o *Opportunity) (*Opportunity, error)
	GetOpportunity(ctx context.Context, id string) (*Opportunity, error)
	UpdateOpportunity(ctx context.Context, id string, u OpportunityUpdate) (*Opportunity, error)

	CreateApplication(ctx context.Context, a *Application) (*Application, error)
	GetApplication(ctx context.Context, id string) (*Application, error)
	ListApplicationsForOpportunity(ctx context.Context, opportunityID string, limit, offset int) ([]Application, int64, error)
	ListApplicationsByCreator(ctx context.Context, creatorID string, limit, offset int) ([]Application, int64, error)
	UpdateApplicationStatus(ctx context.Context, id, status string) (*Application, error)

	CreateContract(ctx context.Context, c *Contract) (*Contract, error)
	GetContract(ctx context.Context, id string) (*Contract, error)
	ListContracts(ctx context.Context, f ContractFilter) ([]Contract, int64, error)
	UpdateContract(ctx context.Context, id string, u ContractUpdate) (*Contract, error)

	CreatePayment(ctx context.Context, p *Payment) (*Payment, error)
	GetPaymentByIntent(ctx context.Context, intentID string) (*Payment, error)
	SetPaymentStatus(ctx context.Context, intentID, status, failureReason string) (*Payment, error)
	FindSucceededPayment(ctx context.Context, contractID string) (*Payment, error)

	GetCreatorProfile(ctx context.Context, userID string) (*CreatorProfile, error)
	GetCreatorProfileByAccount(ctx context.Context, accountID string) (*CreatorProfile, error)
	UpsertCreatorProfile(ctx context.Context, p *CreatorProfile) (*CreatorProfile, error)
}

// =============================================================================
// Supabase Repository Implementation
// =============================================================================

// SupabaseRepository implements Repository using PostgREST.
type SupabaseRepository struct {
	db *supa.Client
}

// NewRepository creates a new Supabase repository.
func NewRepository(db *supa.Client) *SupabaseRepository {
	return &SupabaseRepository{db: db}
}

func (r *SupabaseRepository) ListOpportunities(ctx context.Context, f OpportunityFilter) ([]Opportunity, int64, error) {
	q := r.db.From(opportunitiesTable).Select("*")
	if f.Status != "" {
		q = q.Eq("status", f.Status)
	}
	if f.Category != "" {
		q = q.Eq("category", f.Category)
	}
	if f.BudgetType != "" {
		q = q.Eq("budget_type", f.BudgetType)
	}
	if f.ClientID != "" {
		q = q.Eq("client_id", f.ClientID)
	}

	var rows []Opportunity
	total, err := q.Order("created_at", supa.OrderDesc).Range(f.Offset, f.Offset+f.Limit-1).ExecuteWithCount(ctx, &rows)
	if err != nil {
		return nil, 0, fmt.Errorf("list opportunities: %w", err)
	}
	return rows, orLen(total, len(rows)), nil
}

func (r *SupabaseRepository) CreateOpportunity(ctx context.Context, o *Opportunity) (*Opportunity, error) {
	var rows []Opportunity
	if err := r.db.From(opportunitiesTable).Insert(o).ExecuteInto(ctx, &rows); err != nil {
		return nil, fmt.Errorf("create opportunity: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("create opportunity: empty response")
	}
	return &rows[0], nil
}

func (r *SupabaseRepository) GetOpportunity(ctx context.Context, id string) (*Opportunity, error) {
	var o Opportunity
	if err := r.db.From(opportunitiesTable).Select("*").Eq("id", id).Single().ExecuteInto(ctx, &o); err != nil {
		return nil, fmt.Errorf("get opportunity: %w", err)
	}
	return &o, nil
}

func (r *SupabaseRepository) UpdateOpportunity(ctx context.Context, id string, u OpportunityUpdate) (*Opportunity, error) {
	var rows []Opportunity
	if err := r.db.From(opportunitiesTable).Update(u).Eq("id", id).ExecuteInto(ctx, &rows); err != nil {
		return nil, fmt.Errorf("update opportunity: %w", err)
	}
	if len(rows) == 0 {
		return nil, supa.ErrNotFound
	}
	return &rows[0], nil
}

func (r *SupabaseRepository) CreateApplication(ctx context.Context, a *Application) (*Application, error) {
	var rows []Application
	if err := r.db.From(applicationsTable).Insert(a).ExecuteInto(ctx, &rows); err != nil {
		return nil, fmt.Errorf("create application: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("create application: empty response")
	}
	return &rows[0], nil
}

func (r *SupabaseRepository) GetApplication(ctx context.Context, id string) (*Application, error) {
	var a Application
	if err := r.db.From(applicationsTable).Select("*").Eq("id", id).Single().ExecuteInto(ctx, &a); err != nil {
		return nil, fmt.Errorf("get application: %w", err)
	}
	return &a, nil
}

func (r *SupabaseRepository) ListApplicationsForOpportunity(ctx context.Context, opportunityID string, limit, offset int) ([]Application, int64, error) {
	return r.listApplications(ctx, "opportunity_id", opportunityID, limit, offset)
}

func (r *SupabaseRepository) ListApplicationsByCreator(ctx context.Context, creatorID string, limit, offset int) ([]Application, int64, error) {
	return r.listApplications(ctx, "creator_id", creatorID, limit, offset)
}

func (r *SupabaseRepository) listApplications(ctx context.Context, column, value string, limit, offset int) ([]Application, int64, error) {
	var rows []Application
	total, err := r.db.From(applicationsTable).Select("*").Eq(column, value).
		Order("created_at", supa.OrderDesc).
		Range(offset, offset+limit-1).
		ExecuteWithCount(ctx, &rows)
	if err != nil {
		return nil, 0, fmt.Errorf("list applications: %w", err)
	}
	return rows, orLen(total, len(rows)), nil
}

func (r *SupabaseRepository) UpdateApplicationStatus(ctx context.Context, id, status string) (*Application, error) {
	now := time.Now().UTC()
	var rows []Application
	err := r.db.From(applicationsTable).
		Update(map[string]interface{}{"status": status, "updated_at": now}).
		Eq("id", id).
		ExecuteInto(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("update application: %w", err)
	}
	if len(rows) == 0 {
		return nil, supa.ErrNotFound
	}
	return &rows[0], nil
}

func (r *SupabaseRepository) CreateContract(ctx context.Context, c *Contract) (*Contract, error) {
	var rows []Contract
	if err := r.db.From(contractsTable).Insert(c).ExecuteInto(ctx, &rows); err != nil {
		return nil, fmt.Errorf("create contract: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("create contract: empty response")
	}
	return &rows[0], nil
}

func (r *SupabaseRepository) GetContract(ctx context.Context, id string) (*Contract, error) {
	var c Contract
	if err := r.db.From(contractsTable).Select("*").Eq("id", id).Single().ExecuteInto(ctx, &c); err != nil {
		return nil, fmt.Errorf("get contract: %w", err)
	}
	return &c, nil
}

func (r *SupabaseRepository) ListContracts(ctx context.Context, f ContractFilter) ([]Contract, int64, error) {
	q := r.db.From(contractsTable).Select("*")
	switch f.Role {
	case "client":
		q = q.Eq("client_id", f.UserID)
	case "creator":
		q = q.Eq("creator_id", f.UserID)
	default:
		q = q.Or(fmt.Sprintf("client_id.eq.%s,creator_id.eq.%s", f.UserID, f.UserID))
	}
	if f.Status != "" {
		q = q.Eq("status", f.Status)
	}

	var rows []Contract
	total, err := q.Order("created_at", supa.OrderDesc).Range(f.Offset, f.Offset+f.Limit-1).ExecuteWithCount(ctx, &rows)
	if err != nil {
		return nil, 0, fmt.Errorf("list contracts: %w", err)
	}
	return rows, orLen(total, len(rows)), nil
}

func (r *SupabaseRepository) UpdateContract(ctx context.Context, id string, u ContractUpdate) (*Contract, error) {
	var rows []Contract
	if err := r.db.From(contractsTable).Update(u).Eq("id", id).ExecuteInto(ctx, &rows); err != nil {
		return nil, fmt.Errorf("update contract: %w", err)
	}
	if len(rows) == 0 {
		return nil, supa.ErrNotFound
	}
	return &rows[0], nil
}

func (r *SupabaseRepository) CreatePayment(ctx context.Context, p *Payment) (*Payment, error) {
	var rows []Payment
	if err := r.db.From(paymentsTable).Insert(p).ExecuteInto(ctx, &rows); err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("create payment: empty response")
	}
	return &rows[0], nil
}

func (r *SupabaseRepository) GetPaymentByIntent(ctx context.Context, intentID string) (*Payment, error) {
	var p Payment
	err := r.db.From(paymentsTable).Select("*").Eq("stripe_payment_intent_id", intentID).Single().ExecuteInto(ctx, &p)
	if err != nil {
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return &p, nil
}

func (r *SupabaseRepository) SetPaymentStatus(ctx context.Context, intentID, status, failureReason string) (*Payment, error) {
	body := map[string]interface{}{"status": status, "updated_at": time.Now().UTC()}
	if failureReason != "" {
		body["failure_reason"] = failureReason
	}
	var rows []Payment
	if err := r.db.From(paymentsTable).Update(body).Eq("stripe_payment_intent_id", intentID).ExecuteInto(ctx, &rows); err != nil {
		return nil, fmt.Errorf("set payment status: %w", err)
	}
	if len(rows) == 0 {
		return nil, supa.ErrNotFound
	}
	return &rows[0], nil
}

func (r *SupabaseRepository) FindSucceededPayment(ctx context.Context, contractID string) (*Payment, error) {
	var rows []Payment
	err := r.db.From(paymentsTable).Select("*").
		Eq("contract_id", contractID).
		Eq("status", PaymentSucceeded).
		Order("created_at", supa.OrderDesc).
		Limit(1).
		ExecuteInto(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("find payment: %w", err)
	}
	if len(rows) == 0 {
		return nil, supa.ErrNotFound
	}
	return &rows[0], nil
}

func (r *SupabaseRepository) GetCreatorProfile(ctx context.Context, userID string) (*CreatorProfile, error) {
	var p CreatorProfile
	if err := r.db.From(creatorProfilesTable).Select("*").Eq("user_id", userID).Single().ExecuteInto(ctx, &p); err != nil {
		return nil, fmt.Errorf("get creator profile: %w", err)
	}
	return &p, nil
}

func (r *SupabaseRepository) GetCreatorProfileByAccount(ctx context.Context, accountID string) (*CreatorProfile, error) {
	var p CreatorProfile
	if err := r.db.From(creatorProfilesTable).Select("*").Eq("stripe_account_id", accountID).Single().ExecuteInto(ctx, &p); err != nil {
		return nil, fmt.Errorf("get creator profile: %w", err)
	}
	return &p, nil
}

func (r *SupabaseRepository) UpsertCreatorProfile(ctx context.Context, p *CreatorProfile) (*CreatorProfile, error) {
	var rows []CreatorProfile
	if err := r.db.From(creatorProfilesTable).Upsert(p, "user_id").ExecuteInto(ctx, &rows); err != nil {
		return nil, fmt.Errorf("upsert creator profile: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("upsert creator profile: empty response")
	}
	return &rows[0], nil
}

func orLen(total int64, n int) int64 {
	if total < 0 {
		return int64(n)
	}
	return total
}
