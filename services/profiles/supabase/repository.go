// Package supabase provides data access for the profiles service.
package supabase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	supa "github.com/aethex/platform/infra/supabase"
)

const table = "user_profiles"

// =============================================================================
// Data Models
// =============================================================================

// Profile is a row of user_profiles. User-editable columns are always
// serialized so an empty value clears the stored one on upsert.
type Profile struct {
	ID            string     `json:"id"`
	Username      string     `json:"username"`
	FullName      string     `json:"full_name"`
	Email         string     `json:"email,omitempty"`
	Bio           string     `json:"bio"`
	AvatarURL     string     `json:"avatar_url"`
	BannerURL     string     `json:"banner_url"`
	PrimaryArm    string     `json:"primary_arm"`
	UserType      string     `json:"user_type"`
	Location      string     `json:"location"`
	WebsiteURL    string     `json:"website_url"`
	GithubURL     string     `json:"github_url"`
	TwitterURL    string     `json:"twitter_url"`
	LinkedinURL   string     `json:"linkedin_url"`
	WalletAddress string     `json:"wallet_address,omitempty"`
	CreatedAt     *time.Time `json:"created_at,omitempty"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty"`
}

// ListParams filters a profile listing.
type ListParams struct {
	Query  string
	Arm    string
	Limit  int
	Offset int
}

// =============================================================================
// Repository Interface
// =============================================================================

// Repository defines profile data operations. Missing rows yield an error
// for which supa.IsNotFound is true.
type Repository interface {
	GetProfile(ctx context.Context, id string) (*Profile, error)
	GetByUsername(ctx context.Context, username string) (*Profile, error)
	UpsertProfile(ctx context.Context, p *Profile) (*Profile, error)
	ListProfiles(ctx context.Context, params ListParams) ([]Profile, int64, error)
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

func (r *SupabaseRepository) GetProfile(ctx context.Context, id string) (*Profile, error) {
	var p Profile
	if err := r.db.From(table).Select("*").Eq("id", id).Single().ExecuteInto(ctx, &p); err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &p, nil
}

func (r *SupabaseRepository) GetByUsername(ctx context.Context, username string) (*Profile, error) {
	var p Profile
	if err := r.db.From(table).Select("*").Eq("username", username).Single().ExecuteInto(ctx, &p); err != nil {
		return nil, fmt.Errorf("get profile by username: %w", err)
	}
	return &p, nil
}

// UpsertProfile inserts or replaces the profile keyed by id.
func (r *SupabaseRepository) UpsertProfile(ctx context.Context, p *Profile) (*Profile, error) {
	var rows []Profile
	if err := r.db.From(table).Upsert(p, "id").ExecuteInto(ctx, &rows); err != nil {
		return nil, fmt.Errorf("upsert profile: %w", err)
	}
	if len(rows) == 0 {
		return p, nil
	}
	return &rows[0], nil
}

func (r *SupabaseRepository) ListProfiles(ctx context.Context, params ListParams) ([]Profile, int64, error) {
	q := r.db.From(table).Select("*")
	if params.Query != "" {
		term := sanitizeSearch(params.Query)
		q = q.Or(fmt.Sprintf("username.ilike.*%s*,full_name.ilike.*%s*", term, term))
	}
	if params.Arm != "" {
		q = q.Eq("primary_arm", params.Arm)
	}

	var rows []Profile
	total, err := q.Order("created_at", supa.OrderDesc).
		Range(params.Offset, params.Offset+params.Limit-1).
		Count(supa.CountExact).
		ExecuteWithCount(ctx, &rows)
	if err != nil {
		return nil, 0, fmt.Errorf("list profiles: %w", err)
	}
	if total < 0 {
		total = int64(len(rows))
	}
	return rows, total, nil
}

// sanitizeSearch strips characters with meaning inside a PostgREST or=()
// expression.
func sanitizeSearch(q string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ',', '(', ')', '*', '"', '\\':
			return -1
		}
		return r
	}, strings.TrimSpace(q))
}

// =============================================================================
// Mock Repository for Testing
// =============================================================================

// MockRepository is an in-memory Repository enforcing the unique username
// constraint.
type MockRepository struct {
	mu       sync.RWMutex
	profiles map[string]*Profile

	// ConflictNext makes the next N upserts fail with a unique violation.
	ConflictNext int
	// ErrorOnNextCall is returned (once) by the next call.
	ErrorOnNextCall error
}

func NewMockRepository() *MockRepository {
	return &MockRepository{profiles: make(map[string]*Profile)}
}

func (m *MockRepository) checkError() error {
	if m.ErrorOnNextCall != nil {
		err := m.ErrorOnNextCall
		m.ErrorOnNextCall = nil
		return err
	}
	return nil
}

func (m *MockRepository) GetProfile(_ context.Context, id string) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	p, ok := m.profiles[id]
	if !ok {
		return nil, supa.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MockRepository) GetByUsername(_ context.Context, username string) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.profiles {
		if p.Username == username {
			cp := *p
			return &cp, nil
		}
	}
	return nil, supa.ErrNotFound
}

func (m *MockRepository) UpsertProfile(_ context.Context, p *Profile) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	if m.ConflictNext > 0 {
		m.ConflictNext--
		return nil, supa.NewError(supa.CodeUniqueViolation, "duplicate key value violates unique constraint \"user_profiles_username_key\"", 409)
	}
	for id, other := range m.profiles {
		if id != p.ID && other.Username == p.Username {
			return nil, supa.NewError(supa.CodeUniqueViolation, "duplicate key value violates unique constraint \"user_profiles_username_key\"", 409)
		}
	}
	now := time.Now().UTC()
	cp := *p
	if existing, ok := m.profiles[p.ID]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else {
		cp.CreatedAt = &now
	}
	cp.UpdatedAt = &now
	m.profiles[p.ID] = &cp
	out := cp
	return &out, nil
}

func (m *MockRepository) ListProfiles(_ context.Context, params ListParams) ([]Profile, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []Profile
	q := strings.ToLower(params.Query)
	for _, p := range m.profiles {
		if params.Arm != "" && p.PrimaryArm != params.Arm {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(p.Username), q) && !strings.Contains(strings.ToLower(p.FullName), q) {
			continue
		}
		result = append(result, *p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Username < result[j].Username })

	total := int64(len(result))
	if params.Offset >= len(result) {
		return []Profile{}, total, nil
	}
	result = result[params.Offset:]
	if params.Limit > 0 && params.Limit < len(result) {
		result = result[:params.Limit]
	}
	return result, total, nil
}
