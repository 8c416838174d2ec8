package roles

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aethex/platform/infra/supabase"
	"github.com/aethex/platform/internal/cache"
)

func newClientWithHandler(t *testing.T, handler http.Handler) *supabase.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := supabase.New(supabase.Config{ProjectURL: srv.URL, ServiceKey: "service-key"})
	require.NoError(t, err)
	return client
}

func TestRolesMergesAllowlistAndCaches(t *testing.T) {
	var calls int32
	client := newClientWithHandler(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.URL.Path != "/rest/v1/user_roles" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("user_id") != "eq.u1" {
			t.Fatalf("unexpected filter: %q", r.URL.Query().Get("user_id"))
		}
		_ = json.NewEncoder(w).Encode([]roleRow{{UserID: "u1", Role: Staff}, {UserID: "u1", Role: Staff}})
	}))

	store := NewStore(client, cache.NewMemory(), []string{"u1"})

	got, err := store.Roles(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{Admin, Staff}, got)

	got, err = store.Roles(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{Admin, Staff}, got)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.True(t, store.IsAllowlisted("u1"))
}

func TestRolesAllowlistSurvivesLookupFailure(t *testing.T) {
	client := newClientWithHandler(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"message":"upstream unavailable"}`))
	}))
	store := NewStore(client, nil, []string{"op"})

	got, err := store.Roles(context.Background(), "op")
	require.Error(t, err)
	assert.Equal(t, []string{Admin}, got)

	got, err = store.Roles(context.Background(), "someone")
	require.Error(t, err)
	assert.Empty(t, got)
}

func TestRolesEmptyUser(t *testing.T) {
	store := NewStore(nil, nil, nil)
	got, err := store.Roles(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSetRolesReplaces(t *testing.T) {
	var deleted, inserted bool
	client := newClientWithHandler(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodDelete:
			deleted = true
			assert.Equal(t, "eq.u2", r.URL.Query().Get("user_id"))
			_, _ = w.Write([]byte(`[]`))
		case http.MethodPost:
			inserted = true
			var rows []roleRow
			require.NoError(t, json.NewDecoder(r.Body).Decode(&rows))
			assert.Len(t, rows, 2)
			_, _ = w.Write([]byte(`[]`))
		default:
			_ = json.NewEncoder(w).Encode([]roleRow{{UserID: "u2", Role: Instructor}, {UserID: "u2", Role: Creator}})
		}
	}))

	store := NewStore(client, cache.NewMemory(), nil)
	got, err := store.SetRoles(context.Background(), "u2", []string{Instructor, Creator, Creator})
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.True(t, inserted)
	assert.Equal(t, []string{Creator, Instructor}, got)
}

func TestSetRolesRejectsUnknown(t *testing.T) {
	store := NewStore(nil, nil, nil)
	_, err := store.SetRoles(context.Background(), "u", []string{"wizard"})
	assert.Error(t, err)
}
