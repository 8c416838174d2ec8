// Package supabase provides data access for Discord account links and bot
// verification codes.
package supabase

import (
	"context"
	"fmt"
	"sync"
	"time"

	supa "github.com/aethex/platform/infra/supabase"
)

const (
	linksTable         = "discord_links"
	verificationsTable = "discord_verifications"
)

// =============================================================================
// Data Models
// =============================================================================

// Link is a row of discord_links. user_id and discord_id are both unique.
type Link struct {
	UserID          string     `json:"user_id"`
	DiscordID       string     `json:"discord_id"`
	DiscordUsername string     `json:"discord_username,omitempty"`
	AvatarURL       string     `json:"avatar_url,omitempty"`
	PrimaryArm      string     `json:"primary_arm,omitempty"`
	LinkedAt        *time.Time `json:"linked_at,omitempty"`
}

// Verification is a short-lived code issued by the bot's /verify command.
type Verification struct {
	Code            string    `json:"code"`
	DiscordID       string    `json:"discord_id"`
	DiscordUsername string    `json:"discord_username,omitempty"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// =============================================================================
// Repository Interface
// =============================================================================

// Repository defines Discord data operations.
type Repository interface {
	// SaveLink upserts on user_id. Linking a Discord account already linked
	// to another user fails with a unique violation.
	SaveLink(ctx context.Context, l *Link) (*Link, error)
	GetLinkByUser(ctx context.Context, userID string) (*Link, error)
	GetLinkByDiscordID(ctx context.Context, discordID string) (*Link, error)
	DeleteLink(ctx context.Context, userID string) error
	SetPrimaryArm(ctx context.Context, discordID, arm string) (*Link, error)

	// SaveVerification replaces any outstanding code for the Discord user.
	SaveVerification(ctx context.Context, v *Verification) error
	GetVerification(ctx context.Context, code string) (*Verification, error)
	DeleteVerification(ctx context.Context, code string) error
}

// =============================================================================
// Supabase Repository Implementation
// =============================================================================

// SupabaseRepository implements Repository using PostgREST.
type SupabaseRepository struct {
	db *supa.Client
}

func NewRepository(db *supa.Client) *SupabaseRepository {
	return &SupabaseRepository{db: db}
}

func (r *SupabaseRepository) SaveLink(ctx context.Context, l *Link) (*Link, error) {
	var rows []Link
	if err := r.db.From(linksTable).Upsert(l, "user_id").ExecuteInto(ctx, &rows); err != nil {
		return nil, fmt.Errorf("save discord link: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("save discord link: empty response")
	}
	return &rows[0], nil
}

func (r *SupabaseRepository) GetLinkByUser(ctx context.Context, userID string) (*Link, error) {
	return r.getLink(ctx, "user_id", userID)
}

func (r *SupabaseRepository) GetLinkByDiscordID(ctx context.Context, discordID string) (*Link, error) {
	return r.getLink(ctx, "discord_id", discordID)
}

func (r *SupabaseRepository) getLink(ctx context.Context, column, value string) (*Link, error) {
	var l Link
	if err := r.db.From(linksTable).Select("*").Eq(column, value).Single().ExecuteInto(ctx, &l); err != nil {
		return nil, fmt.Errorf("get discord link: %w", err)
	}
	return &l, nil
}

func (r *SupabaseRepository) DeleteLink(ctx context.Context, userID string) error {
	if _, err := r.db.From(linksTable).Delete().Eq("user_id", userID).Execute(ctx); err != nil {
		return fmt.Errorf("delete discord link: %w", err)
	}
	return nil
}

func (r *SupabaseRepository) SetPrimaryArm(ctx context.Context, discordID, arm string) (*Link, error) {
	var rows []Link
	err := r.db.From(linksTable).Update(map[string]string{"primary_arm": arm}).Eq("discord_id", discordID).ExecuteInto(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("set primary arm: %w", err)
	}
	if len(rows) == 0 {
		return nil, supa.ErrNotFound
	}
	return &rows[0], nil
}

func (r *SupabaseRepository) SaveVerification(ctx context.Context, v *Verification) error {
	if _, err := r.db.From(verificationsTable).Upsert(v, "discord_id").Execute(ctx); err != nil {
		return fmt.Errorf("save verification: %w", err)
	}
	return nil
}

func (r *SupabaseRepository) GetVerification(ctx context.Context, code string) (*Verification, error) {
	var v Verification
	if err := r.db.From(verificationsTable).Select("*").Eq("code", code).Single().ExecuteInto(ctx, &v); err != nil {
		return nil, fmt.Errorf("get verification: %w", err)
	}
	return &v, nil
}

func (r *SupabaseRepository) DeleteVerification(ctx context.Context, code string) error {
	if _, err := r.db.From(verificationsTable).Delete().Eq("code", code).Execute(ctx); err != nil {
		return fmt.Errorf("delete verification: %w", err)
	}
	return nil
}

// =============================================================================
// Mock Repository for Testing
// =============================================================================

// MockRepository is an in-memory Repository enforcing unique discord_id.
type MockRepository struct {
	mu            sync.Mutex
	links         map[string]*Link // by user_id
	verifications map[string]*Verification

	ErrorOnNextCall error

	// DeleteVerificationErr makes every DeleteVerification call fail.
	DeleteVerificationErr error
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		links:         make(map[string]*Link),
		verifications: make(map[string]*Verification),
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

func (m *MockRepository) SaveLink(_ context.Context, l *Link) (*Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	for userID, existing := range m.links {
		if existing.DiscordID == l.DiscordID && userID != l.UserID {
			return nil, supa.NewError(supa.CodeUniqueViolation, "duplicate key value violates unique constraint \"discord_links_discord_id_key\"", 409)
		}
	}
	cp := *l
	if cp.LinkedAt == nil {
		now := time.Now().UTC()
		cp.LinkedAt = &now
	}
	m.links[cp.UserID] = &cp
	out := cp
	return &out, nil
}

func (m *MockRepository) GetLinkByUser(_ context.Context, userID string) (*Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	l, ok := m.links[userID]
	if !ok {
		return nil, supa.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (m *MockRepository) GetLinkByDiscordID(_ context.Context, discordID string) (*Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	for _, l := range m.links {
		if l.DiscordID == discordID {
			cp := *l
			return &cp, nil
		}
	}
	return nil, supa.ErrNotFound
}

func (m *MockRepository) DeleteLink(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return err
	}
	delete(m.links, userID)
	return nil
}

func (m *MockRepository) SetPrimaryArm(_ context.Context, discordID, arm string) (*Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.links {
		if l.DiscordID == discordID {
			l.PrimaryArm = arm
			cp := *l
			return &cp, nil
		}
	}
	return nil, supa.ErrNotFound
}

func (m *MockRepository) SaveVerification(_ context.Context, v *Verification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return err
	}
	for code, existing := range m.verifications {
		if existing.DiscordID == v.DiscordID {
			delete(m.verifications, code)
		}
	}
	cp := *v
	m.verifications[v.Code] = &cp
	return nil
}

func (m *MockRepository) GetVerification(_ context.Context, code string) (*Verification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.verifications[code]
	if !ok {
		return nil, supa.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (m *MockRepository) DeleteVerification(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteVerificationErr != nil {
		return m.DeleteVerificationErr
	}
	delete(m.verifications, code)
	return nil
}

// Verifications returns the number of outstanding codes.
func (m *MockRepository) Verifications() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.verifications)
}
