package supabase

import (
	"context"
	"encoding/json"
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

func TestGetProfileNotFound(t *testing.T) {
	repo := newRepoWithHandler(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/user_profiles", r.URL.Path)
		assert.Equal(t, "eq.u1", r.URL.Query().Get("id"))
		assert.Equal(t, "application/vnd.pgrst.object+json", r.Header.Get("Accept"))
		w.WriteHeader(http.StatusNotAcceptable)
		_, _ = w.Write([]byte(`{"code":"PGRST116","message":"JSON object requested, multiple (or no) rows returned"}`))
	})

	_, err := repo.GetProfile(context.Background(), "u1")
	require.Error(t, err)
	assert.True(t, supa.IsNotFound(err))
}

func TestUpsertProfileUsesOnConflict(t *testing.T) {
	repo := newRepoWithHandler(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "id", r.URL.Query().Get("on_conflict"))
		assert.Contains(t, r.Header.Get("Prefer"), "resolution=merge-duplicates")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`[{"id":"u1","username":"alice"}]`))
	})

	p, err := repo.UpsertProfile(context.Background(), &Profile{ID: "u1", Username: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Username)
}

func TestUpsertProfileSendsClearedFields(t *testing.T) {
	var body map[string]interface{}
	repo := newRepoWithHandler(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`[{"id":"u1","username":"alice","bio":"","website_url":""}]`))
	})

	_, err := repo.UpsertProfile(context.Background(), &Profile{ID: "u1", Username: "alice", Bio: "", WebsiteURL: ""})
	require.NoError(t, err)

	for _, column := range []string{"bio", "website_url", "primary_arm", "location", "full_name", "avatar_url"} {
		v, ok := body[column]
		assert.True(t, ok, "%s missing from upsert body", column)
		assert.Equal(t, "", v)
	}
	assert.NotContains(t, body, "email")
	assert.NotContains(t, body, "created_at")
}

func TestListProfilesFiltersAndCount(t *testing.T) {
	repo := newRepoWithHandler(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "(username.ilike.*bob*,full_name.ilike.*bob*)", q.Get("or"))
		assert.Equal(t, "eq.labs", q.Get("primary_arm"))
		assert.Equal(t, "created_at.desc", q.Get("order"))
		assert.Equal(t, "10-19", r.Header.Get("Range"))
		assert.Contains(t, r.Header.Get("Prefer"), "count=exact")
		w.Header().Set("Content-Range", "10-10/11")
		_, _ = w.Write([]byte(`[{"id":"u1","username":"bob"}]`))
	})

	rows, total, err := repo.ListProfiles(context.Background(), ListParams{Query: "b(o)b,", Arm: "labs", Limit: 10, Offset: 10})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, int64(11), total)
}
