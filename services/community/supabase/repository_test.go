package supabase

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	supa "github.com/aethex/platform/infra/supabase"
)

func newRepoWithHandler(t *testing.T, handler http.HandlerFunc) *SupabaseRepository {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := supa.New(supa.Config{ProjectURL: srv.URL, ServiceKey: "service-key"})
	require.NoError(t, err)
	return NewRepository(client)
}

func TestListPostsQuery(t *testing.T) {
	repo := newRepoWithHandler(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/community_posts", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "eq.true", q.Get("is_published"))
		assert.Equal(t, "eq.gameforge", q.Get("arm"))
		assert.Equal(t, `cs.{"news"}`, q.Get("tags"))
		assert.Equal(t, "created_at.desc", q.Get("order"))
		assert.Equal(t, "0-19", r.Header.Get("Range"))
		w.Header().Set("Content-Range", "0-0/1")
		_, _ = w.Write([]byte(`[{"id":"p1","author_id":"u1","title":"t","content":"c","is_published":true}]`))
	})

	posts, total, err := repo.ListPosts(context.Background(), PostFilter{Arm: "gameforge", Tag: "news", Limit: 20})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, posts, 1)
	assert.Equal(t, "p1", posts[0].ID)
}

func TestLikePostIgnoresDuplicates(t *testing.T) {
	repo := newRepoWithHandler(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rest/v1/community_post_likes", r.URL.Path)
		assert.Equal(t, "post_id,user_id", r.URL.Query().Get("on_conflict"))
		assert.Contains(t, r.Header.Get("Prefer"), "resolution=ignore-duplicates")
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"post_id":"p1","user_id":"u1"}`, string(body))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`[]`))
	})

	require.NoError(t, repo.LikePost(context.Background(), "p1", "u1"))
}

func TestCountLikesUsesExactCount(t *testing.T) {
	repo := newRepoWithHandler(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "eq.p1", r.URL.Query().Get("post_id"))
		assert.Contains(t, r.Header.Get("Prefer"), "count=exact")
		w.Header().Set("Content-Range", "0-0/7")
		_, _ = w.Write([]byte(`[{"post_id":"p1"}]`))
	})

	n, err := repo.CountLikes(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}

func TestAddCommentForeignKeyViolation(t *testing.T) {
	repo := newRepoWithHandler(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"code":"23503","message":"insert or update on table \"community_comments\" violates foreign key constraint"}`))
	})

	_, err := repo.AddComment(context.Background(), &Comment{PostID: "nope", UserID: "u1", Content: "hi"})
	require.Error(t, err)
	assert.True(t, supa.IsForeignKeyViolation(err))
}

func TestUpdatePostNoRowsIsNotFound(t *testing.T) {
	repo := newRepoWithHandler(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		_, _ = w.Write([]byte(`[]`))
	})

	title := "x"
	_, err := repo.UpdatePost(context.Background(), "p1", PostUpdate{Title: &title})
	assert.True(t, supa.IsNotFound(err))
}
