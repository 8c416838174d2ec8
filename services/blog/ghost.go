package blog

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aethex/platform/internal/httputil"
)

// adminTokenTTL is the lifetime of Ghost Admin API tokens; Ghost rejects
// anything longer than five minutes.
const adminTokenTTL = 5 * time.Minute

// ErrPostNotFound is returned when Ghost has no post with the slug.
var ErrPostNotFound = errors.New("blog post not found")

// Tag is a Ghost tag.
type Tag struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// Author is a Ghost author.
type Author struct {
	Name         string `json:"name"`
	Slug         string `json:"slug"`
	ProfileImage string `json:"profile_image,omitempty"`
}

// Post is a Ghost post as served to clients.
type Post struct {
	ID            string     `json:"id"`
	Slug          string     `json:"slug"`
	Title         string     `json:"title"`
	HTML          string     `json:"html,omitempty"`
	Excerpt       string     `json:"excerpt,omitempty"`
	FeatureImage  string     `json:"feature_image,omitempty"`
	ReadingTime   int        `json:"reading_time,omitempty"`
	PublishedAt   *time.Time `json:"published_at,omitempty"`
	Tags          []Tag      `json:"tags,omitempty"`
	PrimaryAuthor *Author    `json:"primary_author,omitempty"`
	URL           string     `json:"url,omitempty"`
}

// Pagination mirrors Ghost's meta.pagination.
type Pagination struct {
	Page  int  `json:"page"`
	Limit int  `json:"limit"`
	Pages int  `json:"pages"`
	Total int  `json:"total"`
	Next  *int `json:"next"`
	Prev  *int `json:"prev"`
}

// PostList is one page of posts.
type PostList struct {
	Posts      []Post     `json:"posts"`
	Pagination Pagination `json:"pagination"`
}

type contentResponse struct {
	Posts []Post `json:"posts"`
	Meta  struct {
		Pagination Pagination `json:"pagination"`
	} `json:"meta"`
}

// GhostConfig configures GhostClient.
type GhostConfig struct {
	URL        string
	ContentKey string
	// AdminKey is Ghost's "id:secret" Admin API key; the secret is hex.
	AdminKey   string
	HTTPClient *http.Client
}

// GhostClient talks to the Ghost Content and Admin APIs.
type GhostClient struct {
	http       *httputil.Client
	contentKey string
	adminID    string
	adminKey   []byte
	now        func() time.Time
}

// NewGhostClient creates a client. The admin key is optional; without it
// CreatePost fails.
func NewGhostClient(cfg GhostConfig) (*GhostClient, error) {
	if cfg.URL == "" || cfg.ContentKey == "" {
		return nil, fmt.Errorf("ghost url and content key are required")
	}
	c := &GhostClient{
		http:       httputil.NewClient(httputil.ClientConfig{BaseURL: strings.TrimRight(cfg.URL, "/") + "/ghost/api", HTTPClient: cfg.HTTPClient}),
		contentKey: cfg.ContentKey,
		now:        time.Now,
	}
	if cfg.AdminKey != "" {
		id, secret, ok := strings.Cut(cfg.AdminKey, ":")
		if !ok || id == "" {
			return nil, fmt.Errorf("ghost admin key must be id:secret")
		}
		key, err := hex.DecodeString(secret)
		if err != nil {
			return nil, fmt.Errorf("ghost admin key secret must be hex: %w", err)
		}
		c.adminID, c.adminKey = id, key
	}
	return c, nil
}

// ListPosts fetches a page of published posts, newest first.
func (c *GhostClient) ListPosts(ctx context.Context, limit, page int) (*PostList, error) {
	q := url.Values{}
	q.Set("key", c.contentKey)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("page", strconv.Itoa(page))
	q.Set("include", "tags,authors")
	q.Set("fields", "id,slug,title,excerpt,feature_image,reading_time,published_at,url")
	q.Set("order", "published_at desc")

	var resp contentResponse
	if err := c.http.GetJSON(ctx, "/content/posts/?"+q.Encode(), nil, &resp); err != nil {
		return nil, fmt.Errorf("ghost list posts: %w", err)
	}
	if resp.Posts == nil {
		resp.Posts = []Post{}
	}
	return &PostList{Posts: resp.Posts, Pagination: resp.Meta.Pagination}, nil
}

// GetPost fetches one post by slug.
func (c *GhostClient) GetPost(ctx context.Context, slug string) (*Post, error) {
	q := url.Values{}
	q.Set("key", c.contentKey)
	q.Set("include", "tags,authors")

	var resp contentResponse
	err := c.http.GetJSON(ctx, "/content/posts/slug/"+url.PathEscape(slug)+"/?"+q.Encode(), nil, &resp)
	if err != nil {
		var se *httputil.StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return nil, ErrPostNotFound
		}
		return nil, fmt.Errorf("ghost get post: %w", err)
	}
	if len(resp.Posts) == 0 {
		return nil, ErrPostNotFound
	}
	return &resp.Posts[0], nil
}

// NewPost is the Admin API payload for a post.
type NewPost struct {
	Title        string   `json:"title"`
	HTML         string   `json:"html,omitempty"`
	Excerpt      string   `json:"custom_excerpt,omitempty"`
	FeatureImage string   `json:"feature_image,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	Status       string   `json:"status"`
}

// CreatePost creates a post through the Admin API. HTML content is converted
// by Ghost (source=html).
func (c *GhostClient) CreatePost(ctx context.Context, p NewPost) (*Post, error) {
	token, err := c.adminToken()
	if err != nil {
		return nil, err
	}
	body := map[string][]NewPost{"posts": {p}}
	var resp contentResponse
	err = c.http.PostJSON(ctx, "/admin/posts/?source=html", body, map[string]string{"Authorization": "Ghost " + token}, &resp)
	if err != nil {
		return nil, fmt.Errorf("ghost create post: %w", err)
	}
	if len(resp.Posts) == 0 {
		return nil, fmt.Errorf("ghost create post: empty response")
	}
	return &resp.Posts[0], nil
}

// adminToken signs a short-lived Admin API JWT: HS256 with the key ID in the
// header and audience /admin/.
func (c *GhostClient) adminToken() (string, error) {
	if c.adminKey == nil {
		return "", fmt.Errorf("ghost admin key not configured")
	}
	now := c.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iat": now.Unix(),
		"exp": now.Add(adminTokenTTL).Unix(),
		"aud": "/admin/",
	})
	token.Header["kid"] = c.adminID
	return token.SignedString(c.adminKey)
}
