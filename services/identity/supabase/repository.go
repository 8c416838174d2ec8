// Package supabase provides data access for wallet and Roblox identities.
package supabase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	supa "github.com/aethex/platform/infra/supabase"
)

const (
	noncesTable   = "web3_nonces"
	profilesTable = "user_profiles"
	robloxTable   = "roblox_links"
)

// =============================================================================
// Data Models
// =============================================================================

// Nonce is a row of web3_nonces, one per address.
type Nonce struct {
	Address   string    `json:"address"`
	Nonce     string    `json:"nonce"`
	ExpiresAt time.Time `json:"expires_at"`
}

// WalletOwner is the profile a wallet address is linked to.
type WalletOwner struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Email         string `json:"email,omitempty"`
	WalletAddress string `json:"wallet_address"`
}

// RobloxLink is a row of roblox_links. user_id and roblox_id are unique.
type RobloxLink struct {
	UserID         string     `json:"user_id"`
	RobloxID       string     `json:"roblox_id"`
	RobloxUsername string     `json:"roblox_username,omitempty"`
	DisplayName    string     `json:"display_name,omitempty"`
	AvatarURL      string     `json:"avatar_url,omitempty"`
	LinkedAt       *time.Time `json:"linked_at,omitempty"`
}

// =============================================================================
// Repository Interface
// =============================================================================

// Repository defines identity data operations. Addresses are stored
// lower-cased.
type Repository interface {
	SaveNonce(ctx context.Context, n *Nonce) error
	GetNonce(ctx context.Context, address string) (*Nonce, error)
	DeleteNonce(ctx context.Context, address string) error

	// LinkWallet sets the wallet of an existing profile. A wallet already
	// owned by another profile fails with a unique violation.
	LinkWallet(ctx context.Context, userID, address string) (*WalletOwner, error)
	GetWalletOwner(ctx context.Context, address string) (*WalletOwner, error)

	SaveRobloxLink(ctx context.Context, l *RobloxLink) (*RobloxLink, error)
	GetRobloxLink(ctx context.Context, userID string) (*RobloxLink, error)
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

func (r *SupabaseRepository) SaveNonce(ctx context.Context, n *Nonce) error {
	if _, err := r.db.From(noncesTable).Upsert(n, "address").Execute(ctx); err != nil {
		return fmt.Errorf("save nonce: %w", err)
	}
	return nil
}

func (r *SupabaseRepository) GetNonce(ctx context.Context, address string) (*Nonce, error) {
	var n Nonce
	if err := r.db.From(noncesTable).Select("*").Eq("address", address).Single().ExecuteInto(ctx, &n); err != nil {
		return nil, fmt.Errorf("get nonce: %w", err)
	}
	return &n, nil
}

func (r *SupabaseRepository) DeleteNonce(ctx context.Context, address string) error {
	if _, err := r.db.From(noncesTable).Delete().Eq("address", address).Execute(ctx); err != nil {
		return fmt.Errorf("delete nonce: %w", err)
	}
	return nil
}

const walletColumns = "id,username,email,wallet_address"

func (r *SupabaseRepository) LinkWallet(ctx context.Context, userID, address string) (*WalletOwner, error) {
	var rows []WalletOwner
	err := r.db.From(profilesTable).Update(map[string]string{"wallet_address": address}).Eq("id", userID).ExecuteInto(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("link wallet: %w", err)
	}
	if len(rows) == 0 {
		return nil, supa.ErrNotFound
	}
	return &rows[0], nil
}

func (r *SupabaseRepository) GetWalletOwner(ctx context.Context, address string) (*WalletOwner, error) {
	var o WalletOwner
	if err := r.db.From(profilesTable).Select(walletColumns).Eq("wallet_address", address).Single().ExecuteInto(ctx, &o); err != nil {
		return nil, fmt.Errorf("get wallet owner: %w", err)
	}
	return &o, nil
}

func (r *SupabaseRepository) SaveRobloxLink(ctx context.Context, l *RobloxLink) (*RobloxLink, error) {
	var rows []RobloxLink
	if err := r.db.From(robloxTable).Upsert(l, "user_id").ExecuteInto(ctx, &rows); err != nil {
		return nil, fmt.Errorf("save roblox link: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("save roblox link: empty response")
	}
	return &rows[0], nil
}

func (r *SupabaseRepository) GetRobloxLink(ctx context.Context, userID string) (*RobloxLink, error) {
	var l RobloxLink
	if err := r.db.From(robloxTable).Select("*").Eq("user_id", userID).Single().ExecuteInto(ctx, &l); err != nil {
		return nil, fmt.Errorf("get roblox link: %w", err)
	}
	return &l, nil
}

// =============================================================================
// Mock Repository for Testing
// =============================================================================

// MockRepository is an in-memory Repository. Profiles must be seeded with
// AddProfile before wallets can be linked to them.
type MockRepository struct {
	mu       sync.Mutex
	nonces   map[string]*Nonce
	profiles map[string]*WalletOwner
	roblox   map[string]*RobloxLink

	ErrorOnNextCall error
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		nonces:   make(map[string]*Nonce),
		profiles: make(map[string]*WalletOwner),
		roblox:   make(map[string]*RobloxLink),
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

// AddProfile seeds a profile.
func (m *MockRepository) AddProfile(p WalletOwner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.ID] = &p
}

func (m *MockRepository) SaveNonce(_ context.Context, n *Nonce) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return err
	}
	cp := *n
	m.nonces[n.Address] = &cp
	return nil
}

func (m *MockRepository) GetNonce(_ context.Context, address string) (*Nonce, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nonces[address]
	if !ok {
		return nil, supa.ErrNotFound
	}
	cp := *n
	return &cp, nil
}

func (m *MockRepository) DeleteNonce(_ context.Context, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.nonces, address)
	return nil
}

func (m *MockRepository) LinkWallet(_ context.Context, userID, address string) (*WalletOwner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	for id, p := range m.profiles {
		if id != userID && strings.EqualFold(p.WalletAddress, address) {
			return nil, supa.NewError(supa.CodeUniqueViolation, "duplicate key value violates unique constraint \"user_profiles_wallet_address_key\"", 409)
		}
	}
	p, ok := m.profiles[userID]
	if !ok {
		return nil, supa.ErrNotFound
	}
	p.WalletAddress = address
	cp := *p
	return &cp, nil
}

func (m *MockRepository) GetWalletOwner(_ context.Context, address string) (*WalletOwner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.profiles {
		if p.WalletAddress == address {
			cp := *p
			return &cp, nil
		}
	}
	return nil, supa.ErrNotFound
}

func (m *MockRepository) SaveRobloxLink(_ context.Context, l *RobloxLink) (*RobloxLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	for userID, existing := range m.roblox {
		if existing.RobloxID == l.RobloxID && userID != l.UserID {
			return nil, supa.NewError(supa.CodeUniqueViolation, "duplicate key value violates unique constraint \"roblox_links_roblox_id_key\"", 409)
		}
	}
	cp := *l
	if cp.LinkedAt == nil {
		now := time.Now().UTC()
		cp.LinkedAt = &now
	}
	m.roblox[l.UserID] = &cp
	out := cp
	return &out, nil
}

func (m *MockRepository) GetRobloxLink(_ context.Context, userID string) (*RobloxLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.roblox[userID]
	if !ok {
		return nil, supa.ErrNotFound
	}
	cp := *l
	return &cp, nil
}
