package supabase

import (
	"context"
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

func TestCountRequestsExactTotal(t *testing.T) {
	repo := newRepoWithHandler(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/community_posts", r.URL.Path)
		assert.Contains(t, r.Header.Get("Prefer"), "count=exact")
		assert.Equal(t, "eq.labs", r.URL.Query().Get("arm"))
		w.Header().Set("Content-Range", "0-0/42")
		_, _ = w.Write([]byte(`[{"id":"p1"}]`))
	})
	n, err := repo.CountPostsInArm(context.Background(), "labs")
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
}

func TestCountEmptyTable(t *testing.T) {
	repo := newRepoWithHandler(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Range", "*/0")
		_, _ = w.Write([]byte(`[]`))
	})
	n, err := repo.Count(context.Background(), ContractsTable)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCountWithoutContentRange(t *testing.T) {
	repo := newRepoWithHandler(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})
	_, err := repo.Count(context.Background(), ProfilesTable)
	assert.Error(t, err)
}
