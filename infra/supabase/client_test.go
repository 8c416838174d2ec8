package supabase

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClientWithHandler(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := New(Config{
		ProjectURL: srv.URL,
		AnonKey:    "anon-key",
		ServiceKey: "service-key",
	})
	require.NoError(t, err)
	return client
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{ProjectURL: "https://x.supabase.co"})
	assert.Error(t, err)

	_, err = New(Config{ProjectURL: "not a url", ServiceKey: "k"})
	assert.Error(t, err)

	_, err = New(Config{ProjectURL: "https://user:pw@x.supabase.co", ServiceKey: "k"})
	assert.Error(t, err)

	c, err := New(Config{ProjectURL: "https://x.supabase.co/", ServiceKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "https://x.supabase.co/rest/v1", c.restURL)
}

func TestServiceKeyHeaders(t *testing.T) {
	client := newClientWithHandler(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("apikey"); got != "service-key" {
			t.Fatalf("expected service apikey, got %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer service-key" {
			t.Fatalf("expected service bearer, got %q", got)
		}
		_, _ = w.Write([]byte(`[]`))
	}))

	_, err := client.From("user_profiles").Select("*").Execute(context.Background())
	require.NoError(t, err)
}

func TestAccessTokenHeaders(t *testing.T) {
	client := newClientWithHandler(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("apikey"); got != "anon-key" {
			t.Fatalf("expected anon apikey, got %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer user-token" {
			t.Fatalf("expected user bearer, got %q", got)
		}
		_, _ = w.Write([]byte(`[]`))
	}))

	_, err := client.From("user_profiles").Select("*").WithToken("user-token").Execute(context.Background())
	require.NoError(t, err)
}

func TestValidateURLRejectsForeignHost(t *testing.T) {
	c, err := New(Config{ProjectURL: "https://x.supabase.co", ServiceKey: "k"})
	require.NoError(t, err)

	_, err = c.do(context.Background(), http.MethodGet, "https://evil.example.com/rest/v1/x", nil, nil, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "host not allowed")
}

func TestParseError(t *testing.T) {
	err := parseError([]byte(`{"code":"23505","message":"duplicate key","details":"Key (username)=(bob) already exists."}`), http.StatusConflict)
	assert.True(t, IsUniqueViolation(err))
	assert.False(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "duplicate key")

	err = parseError([]byte(`{"code":"PGRST116","message":"JSON object requested, multiple (or no) rows returned"}`), http.StatusNotAcceptable)
	assert.True(t, IsNotFound(err))

	err = parseError([]byte(`{"error":"invalid_grant","error_description":"Invalid login credentials"}`), http.StatusBadRequest)
	e, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, "Invalid login credentials", e.Message)

	err = parseError([]byte("upstream exploded"), http.StatusBadGateway)
	e, ok = AsError(err)
	require.True(t, ok)
	assert.Equal(t, "unknown", e.Code)
	assert.Equal(t, "upstream exploded", e.Message)

	err = parseError(nil, http.StatusServiceUnavailable)
	e, _ = AsError(err)
	assert.Equal(t, http.StatusText(http.StatusServiceUnavailable), e.Message)
}

func TestQueryBuilderFilters(t *testing.T) {
	client := newClientWithHandler(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/community_posts" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		q := r.URL.Query()
		assert.Equal(t, "id,title", q.Get("select"))
		assert.Equal(t, "eq.published", q.Get("status"))
		assert.Equal(t, "eq.a b&c", q.Get("arm"))
		assert.Equal(t, "in.(x,y)", q.Get("id"))
		assert.Equal(t, "created_at.desc", q.Get("order"))
		assert.Equal(t, "10", q.Get("limit"))
		assert.Equal(t, "20", q.Get("offset"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"x","title":"hi"}]`))
	}))

	var rows []map[string]string
	err := client.From("community_posts").
		Select("id,title").
		Eq("status", "published").
		Eq("arm", "a b&c").
		In("id", []string{"x", "y"}).
		Order("created_at", OrderDesc).
		Limit(10).
		Offset(20).
		ExecuteInto(context.Background(), &rows)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "hi", rows[0]["title"])
}

func TestQueryBuilderContainsQuotesElements(t *testing.T) {
	client := newClientWithHandler(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, `cs.{"a,b","say \"hi\"","back\\slash"}`, r.URL.Query().Get("tags"))
		_, _ = w.Write([]byte(`[]`))
	}))

	var rows []map[string]interface{}
	err := client.From("community_posts").
		Select("*").
		Contains("tags", []string{"a,b", `say "hi"`, `back\slash`}).
		ExecuteInto(context.Background(), &rows)
	require.NoError(t, err)
	assert.Equal(t, `"a,b"`, quoteArrayElement("a,b"))
}

func TestQueryBuilderUpsertSendsOnConflict(t *testing.T) {
	client := newClientWithHandler(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "post_id,user_id", r.URL.Query().Get("on_conflict"))
		assert.Empty(t, r.URL.Query().Get("select"))
		assert.Contains(t, r.Header.Get("Prefer"), "resolution=ignore-duplicates")

		body, _ := io.ReadAll(r.Body)
		var payload map[string]string
		require.NoError(t, json.Unmarshal(body, &payload))
		assert.Equal(t, "p1", payload["post_id"])
		_, _ = w.Write([]byte(`[]`))
	}))

	_, err := client.From("community_post_likes").
		UpsertIgnore(map[string]string{"post_id": "p1", "user_id": "u1"}, "post_id,user_id").
		Execute(context.Background())
	require.NoError(t, err)
}

func TestQueryBuilderExecuteWithCount(t *testing.T) {
	client := newClientWithHandler(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("Prefer"), "count=exact")
		w.Header().Set("Content-Range", "0-1/42")
		_, _ = w.Write([]byte(`[{"id":"a"},{"id":"b"}]`))
	}))

	var rows []map[string]string
	total, err := client.From("user_profiles").Select("id").Count(CountExact).ExecuteWithCount(context.Background(), &rows)
	require.NoError(t, err)
	assert.Equal(t, int64(42), total)
	assert.Len(t, rows, 2)
}

func TestParseContentRangeTotal(t *testing.T) {
	assert.Equal(t, int64(3573), parseContentRangeTotal("0-24/3573"))
	assert.Equal(t, int64(0), parseContentRangeTotal("*/0"))
	assert.Equal(t, int64(-1), parseContentRangeTotal("0-24/*"))
	assert.Equal(t, int64(-1), parseContentRangeTotal(""))
}

func TestQueryBuilderSingleNotFound(t *testing.T) {
	client := newClientWithHandler(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/vnd.pgrst.object+json", r.Header.Get("Accept"))
		w.WriteHeader(http.StatusNotAcceptable)
		_, _ = w.Write([]byte(`{"code":"PGRST116","message":"no rows"}`))
	}))

	var row map[string]interface{}
	err := client.From("user_profiles").Select("*").Eq("id", "u1").Single().ExecuteInto(context.Background(), &row)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestQueryBuilderMarshalError(t *testing.T) {
	c, err := New(Config{ProjectURL: "https://x.supabase.co", ServiceKey: "k"})
	require.NoError(t, err)

	_, err = c.From("t").Insert(map[string]interface{}{"bad": make(chan int)}).Execute(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "marshal body")
}

func TestRPC(t *testing.T) {
	client := newClientWithHandler(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/rpc/increment_views", r.URL.Path)
		_, _ = w.Write([]byte(`7`))
	}))

	out, err := client.Database().RPC(context.Background(), "increment_views", map[string]string{"post_id": "p"})
	require.NoError(t, err)
	assert.Equal(t, "7", string(out))
}

func TestAuthGetUser(t *testing.T) {
	client := newClientWithHandler(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/user", r.URL.Path)
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"msg":"invalid JWT"}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"u1","email":"a@b.c","role":"authenticated"}`))
	}))

	user, err := client.Auth().GetUser(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)

	_, err = client.Auth().GetUser(context.Background(), "bad")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = client.Auth().GetUser(context.Background(), "")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestAuthSignInWithPassword(t *testing.T) {
	client := newClientWithHandler(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/token", r.URL.Path)
		assert.Equal(t, "password", r.URL.Query().Get("grant_type"))
		_, _ = w.Write([]byte(`{"access_token":"at","refresh_token":"rt","expires_in":3600,"user":{"id":"u1"}}`))
	}))

	session, err := client.Auth().SignInWithPassword(context.Background(), "a@b.c", "pw")
	require.NoError(t, err)
	assert.Equal(t, "at", session.AccessToken)
	assert.Equal(t, "u1", session.User.ID)
}

func TestStorageCreateSignedUploadURL(t *testing.T) {
	client := newClientWithHandler(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/storage/v1/object/upload/sign/ethos-tracks/u1/song.mp3", r.URL.Path)
		_, _ = w.Write([]byte(`{"url":"/object/upload/sign/ethos-tracks/u1/song.mp3?token=tok123"}`))
	}))

	up, err := client.Storage().CreateSignedUploadURL(context.Background(), "ethos-tracks", "u1/song.mp3")
	require.NoError(t, err)
	assert.Equal(t, "tok123", up.Token)
	assert.Equal(t, "u1/song.mp3", up.Path)
	assert.True(t, strings.HasSuffix(up.URL, "/storage/v1/object/upload/sign/ethos-tracks/u1/song.mp3?token=tok123"))
}

func TestStorageUploadAndPublicURL(t *testing.T) {
	client := newClientWithHandler(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/storage/v1/object/avatars/u1/me.png", r.URL.Path)
		assert.Equal(t, "image/png", r.Header.Get("Content-Type"))
		assert.Equal(t, "true", r.Header.Get("x-upsert"))
		_, _ = w.Write([]byte(`{"Key":"avatars/u1/me.png"}`))
	}))

	obj, err := client.Storage().Upload(context.Background(), "avatars", "u1/me.png", []byte("png"), &UploadOptions{ContentType: "image/png", Upsert: true})
	require.NoError(t, err)
	assert.Equal(t, "u1/me.png", obj.Name)
	assert.Equal(t, "avatars/u1/me.png", obj.Key)

	assert.True(t, strings.HasSuffix(client.Storage().GetPublicURL("avatars", "u1/me.png"), "/storage/v1/object/public/avatars/u1/me.png"))
}
