package community

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aethex/platform/internal/events"
	"github.com/aethex/platform/internal/logging"
	"github.com/aethex/platform/internal/middleware"
	"github.com/aethex/platform/internal/roles"
	"github.com/aethex/platform/services/community/supabase"
)

type fakeAnnouncer struct {
	mu     sync.Mutex
	titles []string
	links  []string
	err    error
}

func (f *fakeAnnouncer) Announce(_ context.Context, title, _, link string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.titles = append(f.titles, title)
	f.links = append(f.links, link)
	return f.err
}

type testEnv struct {
	router    *mux.Router
	repo      *supabase.MockRepository
	events    *events.Recorder
	announcer *fakeAnnouncer
}

func newTestServiceWithRouter(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		repo:      supabase.NewMockRepository(),
		events:    &events.Recorder{},
		announcer: &fakeAnnouncer{},
	}
	auth := middleware.NewAuthenticator(middleware.StaticVerifier{
		"alice": {UserID: "u-alice"},
		"bob":   {UserID: "u-bob"},
		"staff": {UserID: "u-staff", Roles: []string{roles.Staff}},
	}, nil, logging.NewNop())

	svc, err := New(Config{
		Repository: env.repo,
		Auth:       auth,
		Events:     env.events,
		Announcer:  env.announcer,
		SiteURL:    "https://aethex.dev/",
	})
	require.NoError(t, err)

	env.router = mux.NewRouter()
	svc.RegisterRoutes(env.router)
	return env
}

func do(r http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func createPost(t *testing.T, env *testEnv, token string, body map[string]interface{}) supabase.Post {
	t.Helper()
	rr := do(env.router, http.MethodPost, "/api/community/posts", token, body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var p supabase.Post
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &p))
	return p
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
	_, err = New(Config{Repository: supabase.NewMockRepository()})
	assert.Error(t, err)
}

func TestCreatePost(t *testing.T) {
	env := newTestServiceWithRouter(t)

	rr := do(env.router, http.MethodPost, "/api/community/posts", "", map[string]string{"title": "x", "content": "y"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	p := createPost(t, env, "alice", map[string]interface{}{
		"title":   "  Hello world ",
		"content": "First post",
		"arm":     "Labs",
		"tags":    []string{"Go", "go", " intro "},
	})
	assert.Equal(t, "Hello world", p.Title)
	assert.Equal(t, "u-alice", p.AuthorID)
	assert.Equal(t, "labs", p.Arm)
	assert.Equal(t, []string{"go", "intro"}, p.Tags)
	assert.True(t, p.IsPublished)

	require.Len(t, env.events.Events(), 1)
	ev := env.events.Events()[0]
	assert.Equal(t, events.CommunityPostCreated, ev.Type)
	assert.Equal(t, "labs", ev.Arm)
	assert.Equal(t, "u-alice", ev.ActorID)

	assert.Equal(t, []string{"Hello world"}, env.announcer.titles)
	assert.Equal(t, []string{"https://aethex.dev/community/posts/" + p.ID}, env.announcer.links)
}

func TestCreatePostValidation(t *testing.T) {
	env := newTestServiceWithRouter(t)

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing title", map[string]interface{}{"content": "c"}},
		{"long title", map[string]interface{}{"title": strings.Repeat("a", 201), "content": "c"}},
		{"missing content", map[string]interface{}{"title": "t"}},
		{"bad arm", map[string]interface{}{"title": "t", "content": "c", "arm": "marketing"}},
		{"bad image", map[string]interface{}{"title": "t", "content": "c", "image_url": "ftp://x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(env.router, http.MethodPost, "/api/community/posts", "alice", tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
	assert.Empty(t, env.events.Events())
}

func TestCreateDraftIsNotAnnounced(t *testing.T) {
	env := newTestServiceWithRouter(t)

	p := createPost(t, env, "alice", map[string]interface{}{"title": "Draft", "content": "wip", "is_published": false})
	assert.False(t, p.IsPublished)
	assert.Empty(t, env.events.Events())
	assert.Empty(t, env.announcer.titles)

	// Drafts are only visible to the author.
	rr := do(env.router, http.MethodGet, "/api/community/posts/"+p.ID, "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = do(env.router, http.MethodGet, "/api/community/posts/"+p.ID, "alice", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAnnouncerFailureDoesNotFailRequest(t *testing.T) {
	env := newTestServiceWithRouter(t)
	env.announcer.err = errors.New("discord down")

	createPost(t, env, "alice", map[string]interface{}{"title": "t", "content": "c"})
}

func TestListPosts(t *testing.T) {
	env := newTestServiceWithRouter(t)
	createPost(t, env, "alice", map[string]interface{}{"title": "one", "content": "c", "arm": "labs"})
	createPost(t, env, "bob", map[string]interface{}{"title": "two", "content": "c", "arm": "corp", "tags": []string{"news"}})
	createPost(t, env, "alice", map[string]interface{}{"title": "three", "content": "c", "arm": "labs"})
	createPost(t, env, "alice", map[string]interface{}{"title": "draft", "content": "c", "is_published": false})

	var page struct {
		Data  []supabase.Post `json:"data"`
		Total int64           `json:"total"`
		Limit int             `json:"limit"`
	}

	rr := do(env.router, http.MethodGet, "/api/community/posts?limit=2", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	assert.Equal(t, int64(3), page.Total)
	assert.Equal(t, 2, page.Limit)
	require.Len(t, page.Data, 2)
	assert.Equal(t, "three", page.Data[0].Title)
	assert.Equal(t, "two", page.Data[1].Title)

	rr = do(env.router, http.MethodGet, "/api/community/posts?arm=labs", "", nil)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	assert.Equal(t, int64(2), page.Total)

	rr = do(env.router, http.MethodGet, "/api/community/posts?tag=news", "", nil)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	require.Len(t, page.Data, 1)
	assert.Equal(t, "two", page.Data[0].Title)

	rr = do(env.router, http.MethodGet, "/api/community/posts?arm=nope", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(env.router, http.MethodGet, "/api/community/posts?limit=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestListPostsEmptyIsArray(t *testing.T) {
	env := newTestServiceWithRouter(t)
	rr := do(env.router, http.MethodGet, "/api/community/posts", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"data":[]`)
}

func TestGetPostNotFound(t *testing.T) {
	env := newTestServiceWithRouter(t)
	rr := do(env.router, http.MethodGet, "/api/community/posts/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestUpdatePostAuthorOnly(t *testing.T) {
	env := newTestServiceWithRouter(t)
	p := createPost(t, env, "alice", map[string]interface{}{"title": "old", "content": "c"})
	path := "/api/community/posts/" + p.ID

	rr := do(env.router, http.MethodPatch, path, "bob", map[string]string{"title": "hijack"})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = do(env.router, http.MethodPatch, path, "alice", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(env.router, http.MethodPatch, path, "alice", map[string]string{"title": ""})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(env.router, http.MethodPatch, path, "alice", map[string]string{"title": "new"})
	require.Equal(t, http.StatusOK, rr.Code)
	var updated supabase.Post
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &updated))
	assert.Equal(t, "new", updated.Title)
	assert.Equal(t, "c", updated.Content)

	rr = do(env.router, http.MethodPatch, "/api/community/posts/missing", "alice", map[string]string{"title": "x"})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestDeletePost(t *testing.T) {
	env := newTestServiceWithRouter(t)
	p1 := createPost(t, env, "alice", map[string]interface{}{"title": "a", "content": "c"})
	p2 := createPost(t, env, "alice", map[string]interface{}{"title": "b", "content": "c"})

	rr := do(env.router, http.MethodDelete, "/api/community/posts/"+p1.ID, "bob", nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = do(env.router, http.MethodDelete, "/api/community/posts/"+p1.ID, "alice", nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = do(env.router, http.MethodDelete, "/api/community/posts/"+p2.ID, "staff", nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = do(env.router, http.MethodGet, "/api/community/posts/"+p1.ID, "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestLikeIsIdempotent(t *testing.T) {
	env := newTestServiceWithRouter(t)
	p := createPost(t, env, "alice", map[string]interface{}{"title": "a", "content": "c"})
	path := "/api/community/posts/" + p.ID + "/like"

	var resp struct {
		Liked      bool  `json:"liked"`
		LikesCount int64 `json:"likes_count"`
	}

	for i := 0; i < 2; i++ {
		rr := do(env.router, http.MethodPost, path, "bob", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.True(t, resp.Liked)
		assert.Equal(t, int64(1), resp.LikesCount)
	}

	rr := do(env.router, http.MethodPost, path, "alice", nil)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, int64(2), resp.LikesCount)

	rr = do(env.router, http.MethodDelete, path, "bob", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.False(t, resp.Liked)
	assert.Equal(t, int64(1), resp.LikesCount)

	stored, err := env.repo.GetPost(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.LikesCount)

	rr = do(env.router, http.MethodPost, "/api/community/posts/missing/like", "bob", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestComments(t *testing.T) {
	env := newTestServiceWithRouter(t)
	p := createPost(t, env, "alice", map[string]interface{}{"title": "a", "content": "c"})
	path := "/api/community/posts/" + p.ID + "/comments"

	rr := do(env.router, http.MethodPost, path, "bob", map[string]string{"content": "  "})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(env.router, http.MethodPost, path, "bob", map[string]string{"content": strings.Repeat("x", 2001)})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(env.router, http.MethodPost, path, "bob", map[string]string{"content": "nice"})
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = do(env.router, http.MethodPost, "/api/community/posts/missing/comments", "bob", map[string]string{"content": "hi"})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(env.router, http.MethodGet, path, "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var page struct {
		Data  []supabase.Comment `json:"data"`
		Total int64              `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	assert.Equal(t, int64(1), page.Total)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "nice", page.Data[0].Content)
	assert.Equal(t, "u-bob", page.Data[0].UserID)

	assert.Equal(t, []string{events.CommunityPostCreated, events.CommunityCommentAdded}, env.events.Types())
}

func TestRepositoryErrorIs500(t *testing.T) {
	env := newTestServiceWithRouter(t)
	env.repo.ErrorOnNextCall = errors.New("boom")

	rr := do(env.router, http.MethodGet, "/api/community/posts", "", nil)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "ééé...", truncate("éééééééé", 6))
}
