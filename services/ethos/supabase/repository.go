// Package supabase provides data access for Ethos tracks.
package supabase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	supa "github.com/aethex/platform/infra/supabase"
)

const tracksTable = "ethos_tracks"

// =============================================================================
// Data Models
// =============================================================================

// Track is a row of ethos_tracks.
type Track struct {
	ID              string     `json:"id,omitempty"`
	ArtistID        string     `json:"artist_id"`
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	Genre           string     `json:"genre,omitempty"`
	FileURL         string     `json:"file_url"`
	CoverArtURL     string     `json:"cover_art_url,omitempty"`
	DurationSeconds int        `json:"duration_seconds,omitempty"`
	BPM             int        `json:"bpm,omitempty"`
	LicenseType     string     `json:"license_type"`
	IsPublished     bool       `json:"is_published"`
	CreatedAt       *time.Time `json:"created_at,omitempty"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
}

// TrackUpdate carries the mutable columns of a track. Nil fields are left
// untouched.
type TrackUpdate struct {
	Title           *string    `json:"title,omitempty"`
	Description     *string    `json:"description,omitempty"`
	Genre           *string    `json:"genre,omitempty"`
	CoverArtURL     *string    `json:"cover_art_url,omitempty"`
	DurationSeconds *int       `json:"duration_seconds,omitempty"`
	BPM             *int       `json:"bpm,omitempty"`
	LicenseType     *string    `json:"license_type,omitempty"`
	IsPublished     *bool      `json:"is_published,omitempty"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
}

// TrackFilter narrows a track listing.
type TrackFilter struct {
	Genre       string
	LicenseType string
	ArtistID    string
	Limit       int
	Offset      int
}

// =============================================================================
// Repository Interface
// =============================================================================

// Repository defines Ethos data operations.
type Repository interface {
	ListTracks(ctx context.Context, f TrackFilter) ([]Track, int64, error)
	GetTrack(ctx context.Context, id string) (*Track, error)
	CreateTrack(ctx context.Context, t *Track) (*Track, error)
	UpdateTrack(ctx context.Context, id string, u TrackUpdate) (*Track, error)
	DeleteTrack(ctx context.Context, id string) error
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

// ListTracks returns published tracks, newest first.
func (r *SupabaseRepository) ListTracks(ctx context.Context, f TrackFilter) ([]Track, int64, error) {
	q := r.db.From(tracksTable).Select("*").Eq("is_published", true)
	if f.Genre != "" {
		q = q.Eq("genre", f.Genre)
	}
	if f.LicenseType != "" {
		q = q.Eq("license_type", f.LicenseType)
	}
	if f.ArtistID != "" {
		q = q.Eq("artist_id", f.ArtistID)
	}
	var rows []Track
	total, err := q.Order("created_at", supa.OrderDesc).Range(f.Offset, f.Offset+f.Limit-1).ExecuteWithCount(ctx, &rows)
	if err != nil {
		return nil, 0, fmt.Errorf("list tracks: %w", err)
	}
	if total < 0 {
		total = int64(len(rows))
	}
	return rows, total, nil
}

func (r *SupabaseRepository) GetTrack(ctx context.Context, id string) (*Track, error) {
	var t Track
	if err := r.db.From(tracksTable).Select("*").Eq("id", id).Single().ExecuteInto(ctx, &t); err != nil {
		return nil, fmt.Errorf("get track: %w", err)
	}
	return &t, nil
}

func (r *SupabaseRepository) CreateTrack(ctx context.Context, t *Track) (*Track, error) {
	var rows []Track
	if err := r.db.From(tracksTable).Insert(t).ExecuteInto(ctx, &rows); err != nil {
		return nil, fmt.Errorf("create track: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("create track: empty response")
	}
	return &rows[0], nil
}

func (r *SupabaseRepository) UpdateTrack(ctx context.Context, id string, u TrackUpdate) (*Track, error) {
	var rows []Track
	if err := r.db.From(tracksTable).Update(u).Eq("id", id).ExecuteInto(ctx, &rows); err != nil {
		return nil, fmt.Errorf("update track: %w", err)
	}
	if len(rows) == 0 {
		return nil, supa.ErrNotFound
	}
	return &rows[0], nil
}

func (r *SupabaseRepository) DeleteTrack(ctx context.Context, id string) error {
	if _, err := r.db.From(tracksTable).Delete().Eq("id", id).Execute(ctx); err != nil {
		return fmt.Errorf("delete track: %w", err)
	}
	return nil
}

// =============================================================================
// Mock Repository for Testing
// =============================================================================

// MockRepository is an in-memory Repository.
type MockRepository struct {
	mu     sync.Mutex
	tracks map[string]*Track
	seq    int

	ErrorOnNextCall error
}

func NewMockRepository() *MockRepository {
	return &MockRepository{tracks: make(map[string]*Track)}
}

func (m *MockRepository) checkError() error {
	if m.ErrorOnNextCall != nil {
		err := m.ErrorOnNextCall
		m.ErrorOnNextCall = nil
		return err
	}
	return nil
}

func (m *MockRepository) ListTracks(_ context.Context, f TrackFilter) ([]Track, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, 0, err
	}
	var out []Track
	for _, t := range m.tracks {
		switch {
		case !t.IsPublished,
			f.Genre != "" && t.Genre != f.Genre,
			f.LicenseType != "" && t.LicenseType != f.LicenseType,
			f.ArtistID != "" && t.ArtistID != f.ArtistID:
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(*out[j].CreatedAt) })
	total := int64(len(out))
	if f.Offset >= len(out) {
		return []Track{}, total, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, total, nil
}

func (m *MockRepository) GetTrack(_ context.Context, id string) (*Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	t, ok := m.tracks[id]
	if !ok {
		return nil, supa.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MockRepository) CreateTrack(_ context.Context, t *Track) (*Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	m.seq++
	now := time.Now().UTC().Add(time.Duration(m.seq) * time.Millisecond)
	cp := *t
	cp.ID = uuid.NewString()
	cp.CreatedAt = &now
	cp.UpdatedAt = &now
	m.tracks[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *MockRepository) UpdateTrack(_ context.Context, id string, u TrackUpdate) (*Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	t, ok := m.tracks[id]
	if !ok {
		return nil, supa.ErrNotFound
	}
	if u.Title != nil {
		t.Title = *u.Title
	}
	if u.Description != nil {
		t.Description = *u.Description
	}
	if u.Genre != nil {
		t.Genre = *u.Genre
	}
	if u.CoverArtURL != nil {
		t.CoverArtURL = *u.CoverArtURL
	}
	if u.DurationSeconds != nil {
		t.DurationSeconds = *u.DurationSeconds
	}
	if u.BPM != nil {
		t.BPM = *u.BPM
	}
	if u.LicenseType != nil {
		t.LicenseType = *u.LicenseType
	}
	if u.IsPublished != nil {
		t.IsPublished = *u.IsPublished
	}
	if u.UpdatedAt != nil {
		t.UpdatedAt = u.UpdatedAt
	}
	cp := *t
	return &cp, nil
}

func (m *MockRepository) DeleteTrack(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return err
	}
	delete(m.tracks, id)
	return nil
}
