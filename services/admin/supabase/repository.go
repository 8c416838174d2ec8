// Package supabase provides the aggregate queries behind the admin
// dashboard.
package supabase

import (
	"context"
	"fmt"
	"sync"

	supa "github.com/aethex/platform/infra/supabase"
)

// Tables counted by the dashboard.
const (
	ProfilesTable      = "user_profiles"
	PostsTable         = "community_posts"
	OpportunitiesTable = "nexus_opportunities"
	ContractsTable     = "nexus_contracts"
)

// Repository counts rows. Counts are exact.
type Repository interface {
	Count(ctx context.Context, table string) (int64, error)
	CountPostsInArm(ctx context.Context, arm string) (int64, error)
}

// SupabaseRepository implements Repository using PostgREST exact counts.
type SupabaseRepository struct {
	db *supa.Client
}

func NewRepository(db *supa.Client) *SupabaseRepository {
	return &SupabaseRepository{db: db}
}

func (r *SupabaseRepository) count(ctx context.Context, q *supa.QueryBuilder, what string) (int64, error) {
	n, err := q.Limit(1).ExecuteWithCount(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", what, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("count %s: no total in response", what)
	}
	return n, nil
}

func (r *SupabaseRepository) Count(ctx context.Context, table string) (int64, error) {
	return r.count(ctx, r.db.From(table).Select("id"), table)
}

func (r *SupabaseRepository) CountPostsInArm(ctx context.Context, arm string) (int64, error) {
	return r.count(ctx, r.db.From(PostsTable).Select("id").Eq("arm", arm), "posts in "+arm)
}

// MockRepository returns seeded counts.
type MockRepository struct {
	mu     sync.Mutex
	tables map[string]int64
	arms   map[string]int64

	ErrorOnNextCall error
}

func NewMockRepository() *MockRepository {
	return &MockRepository{tables: make(map[string]int64), arms: make(map[string]int64)}
}

// Seed sets the count of table.
func (m *MockRepository) Seed(table string, n int64) {
	m.mu.Lock()
	m.tables[table] = n
	m.mu.Unlock()
}

// SeedArm sets the number of posts in arm.
func (m *MockRepository) SeedArm(arm string, n int64) {
	m.mu.Lock()
	m.arms[arm] = n
	m.mu.Unlock()
}

func (m *MockRepository) checkError() error {
	if m.ErrorOnNextCall != nil {
		err := m.ErrorOnNextCall
		m.ErrorOnNextCall = nil
		return err
	}
	return nil
}

func (m *MockRepository) Count(_ context.Context, table string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return 0, err
	}
	return m.tables[table], nil
}

func (m *MockRepository) CountPostsInArm(_ context.Context, arm string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return 0, err
	}
	return m.arms[arm], nil
}
