// Package roles resolves platform roles from the user_roles table and the
// ADMIN_USER_IDS allowlist.
package roles

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aethex/platform/infra/supabase"
	"github.com/aethex/platform/internal/cache"
)

// Known roles.
const (
	Admin      = "admin"
	Staff      = "staff"
	Instructor = "instructor"
	Moderator  = "moderator"
	Creator    = "creator"
)

// Known lists every assignable role.
var Known = []string{Admin, Staff, Instructor, Moderator, Creator}

// IsKnown reports whether role is assignable.
func IsKnown(role string) bool {
	for _, r := range Known {
		if r == role {
			return true
		}
	}
	return false
}

const cacheTTL = 5 * time.Minute

type roleRow struct {
	UserID    string     `json:"user_id"`
	Role      string     `json:"role"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// Store reads and writes roles. Lookups are cached per user.
type Store struct {
	db     *supabase.Client
	cache  cache.Cache
	admins map[string]struct{}
}

// NewStore creates a Store. c may be nil to disable caching.
func NewStore(db *supabase.Client, c cache.Cache, adminUserIDs []string) *Store {
	admins := make(map[string]struct{}, len(adminUserIDs))
	for _, id := range adminUserIDs {
		if id = strings.TrimSpace(id); id != "" {
			admins[id] = struct{}{}
		}
	}
	return &Store{db: db, cache: c, admins: admins}
}

func cacheKey(userID string) string {
	return "roles:" + userID
}

// Roles returns the sorted, de-duplicated roles of userID. When the lookup
// fails, allowlisted users still get admin alongside the error.
func (s *Store) Roles(ctx context.Context, userID string) ([]string, error) {
	if userID == "" {
		return nil, nil
	}

	if s.cache != nil {
		var cached []string
		if ok, err := cache.GetJSON(ctx, s.cache, cacheKey(userID), &cached); err == nil && ok {
			return cached, nil
		}
	}

	var rows []roleRow
	if err := s.db.From("user_roles").Select("user_id,role").Eq("user_id", userID).ExecuteInto(ctx, &rows); err != nil {
		// Allowlisted operators keep admin while the table is unreachable.
		var fallback []string
		if _, ok := s.admins[userID]; ok {
			fallback = []string{Admin}
		}
		return fallback, fmt.Errorf("load roles: %w", err)
	}

	set := make(map[string]struct{}, len(rows)+1)
	for _, row := range rows {
		set[row.Role] = struct{}{}
	}
	if _, ok := s.admins[userID]; ok {
		set[Admin] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for r := range set {
		out = append(out, r)
	}
	sort.Strings(out)

	if s.cache != nil {
		_ = cache.SetJSON(ctx, s.cache, cacheKey(userID), out, cacheTTL)
	}
	return out, nil
}

// SetRoles replaces the stored roles of userID. The allowlist is not
// affected.
func (s *Store) SetRoles(ctx context.Context, userID string, roles []string) ([]string, error) {
	for _, r := range roles {
		if !IsKnown(r) {
			return nil, fmt.Errorf("unknown role %q", r)
		}
	}

	if _, err := s.db.From("user_roles").Delete().Eq("user_id", userID).Execute(ctx); err != nil {
		return nil, fmt.Errorf("clear roles: %w", err)
	}

	if len(roles) > 0 {
		rows := make([]roleRow, 0, len(roles))
		seen := make(map[string]bool, len(roles))
		for _, r := range roles {
			if seen[r] {
				continue
			}
			seen[r] = true
			rows = append(rows, roleRow{UserID: userID, Role: r})
		}
		if _, err := s.db.From("user_roles").UpsertIgnore(rows, "user_id,role").Execute(ctx); err != nil {
			return nil, fmt.Errorf("insert roles: %w", err)
		}
	}

	s.Invalidate(ctx, userID)
	return s.Roles(ctx, userID)
}

// Invalidate drops the cached roles of userID.
func (s *Store) Invalidate(ctx context.Context, userID string) {
	if s.cache != nil {
		_ = s.cache.Delete(ctx, cacheKey(userID))
	}
}

// IsAllowlisted reports whether userID is in ADMIN_USER_IDS.
func (s *Store) IsAllowlisted(userID string) bool {
	_, ok := s.admins[userID]
	return ok
}
