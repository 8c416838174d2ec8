// Package supabase provides data access for the community feed.
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

const (
	postsTable    = "community_posts"
	likesTable    = "community_post_likes"
	commentsTable = "community_comments"
)

// =============================================================================
// Data Models
// =============================================================================

// Post is a row of community_posts.
type Post struct {
	ID            string     `json:"id,omitempty"`
	AuthorID      string     `json:"author_id"`
	Title         string     `json:"title"`
	Content       string     `json:"content"`
	Arm           string     `json:"arm,omitempty"`
	Tags          []string   `json:"tags"`
	ImageURL      string     `json:"image_url,omitempty"`
	IsPublished   bool       `json:"is_published"`
	LikesCount    int64      `json:"likes_count"`
	CommentsCount int64      `json:"comments_count"`
	CreatedAt     *time.Time `json:"created_at,omitempty"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty"`
}

// PostUpdate carries the mutable columns of a post. Nil fields are left
// untouched.
type PostUpdate struct {
	Title       *string    `json:"title,omitempty"`
	Content     *string    `json:"content,omitempty"`
	Arm         *string    `json:"arm,omitempty"`
	Tags        *[]string  `json:"tags,omitempty"`
	ImageURL    *string    `json:"image_url,omitempty"`
	IsPublished *bool      `json:"is_published,omitempty"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// Like is a row of community_post_likes.
type Like struct {
	PostID    string     `json:"post_id"`
	UserID    string     `json:"user_id"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// Comment is a row of community_comments.
type Comment struct {
	ID        string     `json:"id,omitempty"`
	PostID    string     `json:"post_id"`
	UserID    string     `json:"user_id"`
	Content   string     `json:"content"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// PostFilter narrows a post listing.
type PostFilter struct {
	Arm      string
	AuthorID string
	Tag      string
	Limit    int
	Offset   int
}

// =============================================================================
// Repository Interface
// =============================================================================

// Repository defines community data operations.
type Repository interface {
	ListPosts(ctx context.Context, f PostFilter) ([]Post, int64, error)
	CreatePost(ctx context.Context, p *Post) (*Post, error)
	GetPost(ctx context.Context, id string) (*Post, error)
	UpdatePost(ctx context.Context, id string, u PostUpdate) (*Post, error)
	DeletePost(ctx context.Context, id string) error

	LikePost(ctx context.Context, postID, userID string) error
	UnlikePost(ctx context.Context, postID, userID string) error
	CountLikes(ctx context.Context, postID string) (int64, error)
	SetLikesCount(ctx context.Context, postID string, n int64) error

	ListComments(ctx context.Context, postID string, limit, offset int) ([]Comment, int64, error)
	AddComment(ctx context.Context, c *Comment) (*Comment, error)
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

func (r *SupabaseRepository) ListPosts(ctx context.Context, f PostFilter) ([]Post, int64, error) {
	q := r.db.From(postsTable).Select("*").Eq("is_published", true)
	if f.Arm != "" {
		q = q.Eq("arm", f.Arm)
	}
	if f.AuthorID != "" {
		q = q.Eq("author_id", f.AuthorID)
	}
	if f.Tag != "" {
		q = q.Contains("tags", []string{f.Tag})
	}

	var posts []Post
	total, err := q.Order("created_at", supa.OrderDesc).
		Range(f.Offset, f.Offset+f.Limit-1).
		ExecuteWithCount(ctx, &posts)
	if err != nil {
		return nil, 0, fmt.Errorf("list posts: %w", err)
	}
	if total < 0 {
		total = int64(len(posts))
	}
	return posts, total, nil
}

func (r *SupabaseRepository) CreatePost(ctx context.Context, p *Post) (*Post, error) {
	var rows []Post
	if err := r.db.From(postsTable).Insert(p).ExecuteInto(ctx, &rows); err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("create post: empty response")
	}
	return &rows[0], nil
}

func (r *SupabaseRepository) GetPost(ctx context.Context, id string) (*Post, error) {
	var p Post
	if err := r.db.From(postsTable).Select("*").Eq("id", id).Single().ExecuteInto(ctx, &p); err != nil {
		return nil, fmt.Errorf("get post: %w", err)
	}
	return &p, nil
}

func (r *SupabaseRepository) UpdatePost(ctx context.Context, id string, u PostUpdate) (*Post, error) {
	var rows []Post
	if err := r.db.From(postsTable).Update(u).Eq("id", id).ExecuteInto(ctx, &rows); err != nil {
		return nil, fmt.Errorf("update post: %w", err)
	}
	if len(rows) == 0 {
		return nil, supa.ErrNotFound
	}
	return &rows[0], nil
}

func (r *SupabaseRepository) DeletePost(ctx context.Context, id string) error {
	if _, err := r.db.From(postsTable).Delete().Eq("id", id).Execute(ctx); err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	return nil
}

// LikePost is idempotent: an existing like is left alone.
func (r *SupabaseRepository) LikePost(ctx context.Context, postID, userID string) error {
	like := Like{PostID: postID, UserID: userID}
	if _, err := r.db.From(likesTable).UpsertIgnore(like, "post_id,user_id").Execute(ctx); err != nil {
		return fmt.Errorf("like post: %w", err)
	}
	return nil
}

func (r *SupabaseRepository) UnlikePost(ctx context.Context, postID, userID string) error {
	if _, err := r.db.From(likesTable).Delete().Eq("post_id", postID).Eq("user_id", userID).Execute(ctx); err != nil {
		return fmt.Errorf("unlike post: %w", err)
	}
	return nil
}

func (r *SupabaseRepository) CountLikes(ctx context.Context, postID string) (int64, error) {
	n, err := r.db.From(likesTable).Select("post_id").Eq("post_id", postID).Limit(1).ExecuteWithCount(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("count likes: %w", err)
	}
	if n < 0 {
		n = 0
	}
	return n, nil
}

func (r *SupabaseRepository) SetLikesCount(ctx context.Context, postID string, n int64) error {
	if _, err := r.db.From(postsTable).Update(map[string]int64{"likes_count": n}).Eq("id", postID).Execute(ctx); err != nil {
		return fmt.Errorf("set likes count: %w", err)
	}
	return nil
}

func (r *SupabaseRepository) ListComments(ctx context.Context, postID string, limit, offset int) ([]Comment, int64, error) {
	var comments []Comment
	total, err := r.db.From(commentsTable).Select("*").Eq("post_id", postID).
		Order("created_at", supa.OrderAsc).
		Range(offset, offset+limit-1).
		ExecuteWithCount(ctx, &comments)
	if err != nil {
		return nil, 0, fmt.Errorf("list comments: %w", err)
	}
	if total < 0 {
		total = int64(len(comments))
	}
	return comments, total, nil
}

func (r *SupabaseRepository) AddComment(ctx context.Context, c *Comment) (*Comment, error) {
	var rows []Comment
	if err := r.db.From(commentsTable).Insert(c).ExecuteInto(ctx, &rows); err != nil {
		return nil, fmt.Errorf("add comment: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("add comment: empty response")
	}
	return &rows[0], nil
}

// =============================================================================
// Mock Repository for Testing
// =============================================================================

// MockRepository is an in-memory Repository. Comments on unknown posts fail
// with a foreign key violation, like the real schema.
type MockRepository struct {
	mu       sync.Mutex
	posts    map[string]*Post
	likes    map[string]map[string]bool
	comments map[string][]Comment
	seq      int

	ErrorOnNextCall error
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		posts:    make(map[string]*Post),
		likes:    make(map[string]map[string]bool),
		comments: make(map[string][]Comment),
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

func (m *MockRepository) ListPosts(_ context.Context, f PostFilter) ([]Post, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, 0, err
	}

	var out []Post
	for _, p := range m.posts {
		if !p.IsPublished {
			continue
		}
		if f.Arm != "" && p.Arm != f.Arm {
			continue
		}
		if f.AuthorID != "" && p.AuthorID != f.AuthorID {
			continue
		}
		if f.Tag != "" && !contains(p.Tags, f.Tag) {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(*out[j].CreatedAt) })

	total := int64(len(out))
	if f.Offset >= len(out) {
		return []Post{}, total, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, total, nil
}

func (m *MockRepository) CreatePost(_ context.Context, p *Post) (*Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	m.seq++
	cp := *p
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	// Strictly increasing timestamps keep ordering deterministic.
	created := time.Now().UTC().Add(time.Duration(m.seq) * time.Millisecond)
	cp.CreatedAt = &created
	cp.UpdatedAt = &created
	m.posts[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *MockRepository) GetPost(_ context.Context, id string) (*Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	p, ok := m.posts[id]
	if !ok {
		return nil, supa.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MockRepository) UpdatePost(_ context.Context, id string, u PostUpdate) (*Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok {
		return nil, supa.ErrNotFound
	}
	if u.Title != nil {
		p.Title = *u.Title
	}
	if u.Content != nil {
		p.Content = *u.Content
	}
	if u.Arm != nil {
		p.Arm = *u.Arm
	}
	if u.Tags != nil {
		p.Tags = *u.Tags
	}
	if u.ImageURL != nil {
		p.ImageURL = *u.ImageURL
	}
	if u.IsPublished != nil {
		p.IsPublished = *u.IsPublished
	}
	if u.UpdatedAt != nil {
		p.UpdatedAt = u.UpdatedAt
	}
	cp := *p
	return &cp, nil
}

func (m *MockRepository) DeletePost(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.posts, id)
	delete(m.likes, id)
	delete(m.comments, id)
	return nil
}

func (m *MockRepository) LikePost(_ context.Context, postID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.posts[postID]; !ok {
		return supa.NewError(supa.CodeForeignKeyViolation, "insert or update on table \"community_post_likes\" violates foreign key constraint", 409)
	}
	if m.likes[postID] == nil {
		m.likes[postID] = make(map[string]bool)
	}
	m.likes[postID][userID] = true
	return nil
}

func (m *MockRepository) UnlikePost(_ context.Context, postID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.likes[postID], userID)
	return nil
}

func (m *MockRepository) CountLikes(_ context.Context, postID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.likes[postID])), nil
}

func (m *MockRepository) SetLikesCount(_ context.Context, postID string, n int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.posts[postID]; ok {
		p.LikesCount = n
	}
	return nil
}

func (m *MockRepository) ListComments(_ context.Context, postID string, limit, offset int) ([]Comment, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.comments[postID]
	total := int64(len(all))
	if offset >= len(all) {
		return []Comment{}, total, nil
	}
	out := append([]Comment(nil), all[offset:]...)
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

func (m *MockRepository) AddComment(_ context.Context, c *Comment) (*Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.posts[c.PostID]; !ok {
		return nil, supa.NewError(supa.CodeForeignKeyViolation, "insert or update on table \"community_comments\" violates foreign key constraint", 409)
	}
	cp := *c
	cp.ID = uuid.NewString()
	now := time.Now().UTC()
	cp.CreatedAt = &now
	m.comments[c.PostID] = append(m.comments[c.PostID], cp)
	m.posts[c.PostID].CommentsCount++
	return &cp, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
