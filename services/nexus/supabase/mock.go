package supabase

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	supa "github.com/aethex/platform/infra/supabase"
)

// =============================================================================
// Mock Repository for Testing
// =============================================================================

// MockRepository is an in-memory Repository. It enforces the unique
// (opportunity_id, creator_id) application constraint.
type MockRepository struct {
	mu            sync.Mutex
	opportunities map[string]*Opportunity
	applications  map[string]*Application
	contracts     map[string]*Contract
	payments      map[string]*Payment
	creators      map[string]*CreatorProfile
	seq           int

	ErrorOnNextCall error
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		opportunities: make(map[string]*Opportunity),
		applications:  make(map[string]*Application),
		contracts:     make(map[string]*Contract),
		payments:      make(map[string]*Payment),
		creators:      make(map[string]*CreatorProfile),
	}
}

func (m *MockRepository) checkError() error {
	if m.ErrorOnNextCall != nil {
		err := m.ErrorOnNextCall
		m.ErrorOnNextCall = nil
		return err
	}
	return nil
}

func (m *MockRepository) stamp() *time.Time {
	m.seq++
	t := time.Now().UTC().Add(time.Duration(m.seq) * time.Millisecond)
	return &t
}

func page[T any](rows []T, limit, offset int) []T {
	if offset >= len(rows) {
		return []T{}
	}
	rows = rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}

func (m *MockRepository) ListOpportunities(_ context.Context, f OpportunityFilter) ([]Opportunity, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, 0, err
	}
	var out []Opportunity
	for _, o := range m.opportunities {
		if (f.Status != "" && o.Status != f.Status) ||
			(f.Category != "" && o.Category != f.Category) ||
			(f.BudgetType != "" && o.BudgetType != f.BudgetType) ||
			(f.ClientID != "" && o.ClientID != f.ClientID) {
			continue
		}
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(*out[j].CreatedAt) })
	return page(out, f.Limit, f.Offset), int64(len(out)), nil
}

func (m *MockRepository) CreateOpportunity(_ context.Context, o *Opportunity) (*Opportunity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	cp := *o
	cp.ID = uuid.NewString()
	cp.CreatedAt = m.stamp()
	cp.UpdatedAt = cp.CreatedAt
	m.opportunities[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *MockRepository) GetOpportunity(_ context.Context, id string) (*Opportunity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	o, ok := m.opportunities[id]
	if !ok {
		return nil, supa.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *MockRepository) UpdateOpportunity(_ context.Context, id string, u OpportunityUpdate) (*Opportunity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	o, ok := m.opportunities[id]
	if !ok {
		return nil, supa.ErrNotFound
	}
	if u.Title != nil {
		o.Title = *u.Title
	}
	if u.Description != nil {
		o.Description = *u.Description
	}
	if u.Category != nil {
		o.Category = *u.Category
	}
	if u.RequiredSkills != nil {
		o.RequiredSkills = *u.RequiredSkills
	}
	if u.BudgetMin != nil {
		o.BudgetMin = u.BudgetMin
	}
	if u.BudgetMax != nil {
		o.BudgetMax = u.BudgetMax
	}
	if u.Timeline != nil {
		o.Timeline = *u.Timeline
	}
	if u.Status != nil {
		o.Status = *u.Status
	}
	if u.UpdatedAt != nil {
		o.UpdatedAt = u.UpdatedAt
	}
	cp := *o
	return &cp, nil
}

func (m *MockRepository) CreateApplication(_ context.Context, a *Application) (*Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	if _, ok := m.opportunities[a.OpportunityID]; !ok {
		return nil, supa.NewError(supa.CodeForeignKeyViolation, "opportunity does not exist", 409)
	}
	for _, existing := range m.applications {
		if existing.OpportunityID == a.OpportunityID && existing.CreatorID == a.CreatorID {
			return nil, supa.NewError(supa.CodeUniqueViolation, "duplicate key value violates unique constraint", 409)
		}
	}
	cp := *a
	cp.ID = uuid.NewString()
	cp.CreatedAt = m.stamp()
	cp.UpdatedAt = cp.CreatedAt
	m.applications[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *MockRepository) GetApplication(_ context.Context, id string) (*Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.applications[id]
	if !ok {
		return nil, supa.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MockRepository) ListApplicationsForOpportunity(_ context.Context, opportunityID string, limit, offset int) ([]Application, int64, error) {
	return m.listApplications(func(a *Application) bool { return a.OpportunityID == opportunityID }, limit, offset)
}

func (m *MockRepository) ListApplicationsByCreator(_ context.Context, creatorID string, limit, offset int) ([]Application, int64, error) {
	return m.listApplications(func(a *Application) bool { return a.CreatorID == creatorID }, limit, offset)
}

func (m *MockRepository) listApplications(match func(*Application) bool, limit, offset int) ([]Application, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, 0, err
	}
	var out []Application
	for _, a := range m.applications {
		if match(a) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(*out[j].CreatedAt) })
	return page(out, limit, offset), int64(len(out)), nil
}

func (m *MockRepository) UpdateApplicationStatus(_ context.Context, id, status string) (*Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.applications[id]
	if !ok {
		return nil, supa.ErrNotFound
	}
	a.Status = status
	a.UpdatedAt = m.stamp()
	cp := *a
	return &cp, nil
}

func (m *MockRepository) CreateContract(_ context.Context, c *Contract) (*Contract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	for _, existing := range m.contracts {
		if existing.ApplicationID == c.ApplicationID {
			return nil, supa.NewError(supa.CodeUniqueViolation, "duplicate key value violates unique constraint", 409)
		}
	}
	cp := *c
	cp.ID = uuid.NewString()
	cp.CreatedAt = m.stamp()
	cp.UpdatedAt = cp.CreatedAt
	m.contracts[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *MockRepository) GetContract(_ context.Context, id string) (*Contract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contracts[id]
	if !ok {
		return nil, supa.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MockRepository) ListContracts(_ context.Context, f ContractFilter) ([]Contract, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, 0, err
	}
	var out []Contract
	for _, c := range m.contracts {
		var match bool
		switch f.Role {
		case "client":
			match = c.ClientID == f.UserID
		case "creator":
			match = c.CreatorID == f.UserID
		default:
			match = c.ClientID == f.UserID || c.CreatorID == f.UserID
		}
		if !match || (f.Status != "" && c.Status != f.Status) {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(*out[j].CreatedAt) })
	return page(out, f.Limit, f.Offset), int64(len(out)), nil
}

func (m *MockRepository) UpdateContract(_ context.Context, id string, u ContractUpdate) (*Contract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	c, ok := m.contracts[id]
	if !ok {
		return nil, supa.ErrNotFound
	}
	if u.Status != nil {
		c.Status = *u.Status
	}
	if u.StripeTransferID != nil {
		c.StripeTransferID = *u.StripeTransferID
	}
	if u.EndDate != nil {
		c.EndDate = u.EndDate
	}
	if u.UpdatedAt != nil {
		c.UpdatedAt = u.UpdatedAt
	}
	cp := *c
	return &cp, nil
}

func (m *MockRepository) CreatePayment(_ context.Context, p *Payment) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	cp := *p
	cp.ID = uuid.NewString()
	cp.CreatedAt = m.stamp()
	cp.UpdatedAt = cp.CreatedAt
	m.payments[cp.StripePaymentIntentID] = &cp
	out := cp
	return &out, nil
}

func (m *MockRepository) GetPaymentByIntent(_ context.Context, intentID string) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[intentID]
	if !ok {
		return nil, supa.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MockRepository) SetPaymentStatus(_ context.Context, intentID, status, failureReason string) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	p, ok := m.payments[intentID]
	if !ok {
		return nil, supa.ErrNotFound
	}
	p.Status = status
	if failureReason != "" {
		p.FailureReason = failureReason
	}
	p.UpdatedAt = m.stamp()
	cp := *p
	return &cp, nil
}

func (m *MockRepository) FindSucceededPayment(_ context.Context, contractID string) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found *Payment
	for _, p := range m.payments {
		if p.ContractID == contractID && p.Status == PaymentSucceeded {
			if found == nil || p.CreatedAt.After(*found.CreatedAt) {
				found = p
			}
		}
	}
	if found == nil {
		return nil, supa.ErrNotFound
	}
	cp := *found
	return &cp, nil
}

func (m *MockRepository) GetCreatorProfile(_ context.Context, userID string) (*CreatorProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	p, ok := m.creators[userID]
	if !ok {
		return nil, supa.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MockRepository) GetCreatorProfileByAccount(_ context.Context, accountID string) (*CreatorProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.creators {
		if p.StripeAccountID == accountID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, supa.ErrNotFound
}

func (m *MockRepository) UpsertCreatorProfile(_ context.Context, p *CreatorProfile) (*CreatorProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	cp := *p
	cp.UpdatedAt = m.stamp()
	m.creators[cp.UserID] = &cp
	out := cp
	return &out, nil
}
