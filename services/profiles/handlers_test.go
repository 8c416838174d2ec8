package profiles

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aethex/platform/internal/logging"
	"github.com/aethex/platform/internal/middleware"
	"github.com/aethex/platform/services/profiles/supabase"
)

func newTestServiceWithRouter(t *testing.T) (*mux.Router, *supabase.MockRepository) {
	t.Helper()
	repo := supabase.NewMockRepository()
	auth := middleware.NewAuthenticator(middleware.StaticVerifier{
		"alice": {UserID: "u-alice", Email: "Alice.Smith@example.com"},
		"bob":   {UserID: "u-bob", Email: "bob@example.com"},
	}, nil, logging.NewNop())

	svc, err := New(Config{Repository: repo, Auth: auth})
	require.NoError(t, err)

	r := mux.NewRouter()
	svc.RegisterRoutes(r)
	return r, repo
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

func TestGetOwnProfile(t *testing.T) {
	r, repo := newTestServiceWithRouter(t)

	rr := do(r, http.MethodGet, "/api/profile", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = do(r, http.MethodGet, "/api/profile", "alice", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	_, err := repo.UpsertProfile(context.Background(), &supabase.Profile{ID: "u-alice", Username: "alice"})
	require.NoError(t, err)

	rr = do(r, http.MethodGet, "/api/profile", "alice", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var p supabase.Profile
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &p))
	assert.Equal(t, "alice", p.Username)
}

func TestUpsertProfileValidation(t *testing.T) {
	r, _ := newTestServiceWithRouter(t)

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"valid", `{"username":"Alice_01","primary_arm":"labs","website_url":"https://alice.dev"}`, http.StatusOK},
		{"short username", `{"username":"ab"}`, http.StatusBadRequest},
		{"bad characters", `{"username":"alice smith"}`, http.StatusBadRequest},
		{"long username", `{"username":"` + strings.Repeat("a", 33) + `"}`, http.StatusBadRequest},
		{"bad arm", `{"username":"alice","primary_arm":"marketing"}`, http.StatusBadRequest},
		{"bad url", `{"username":"alice","github_url":"javascript:alert(1)"}`, http.StatusBadRequest},
		{"unknown field", `{"username":"alice","is_admin":true}`, http.StatusBadRequest},
		{"empty body", ``, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/api/profile", strings.NewReader(tt.body))
			req.Header.Set("Authorization", "Bearer alice")
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)
			assert.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())
		})
	}
}

func TestUpsertProfileNormalizesAndKeepsFields(t *testing.T) {
	r, repo := newTestServiceWithRouter(t)

	rr := do(r, http.MethodPut, "/api/profile", "alice", map[string]string{"username": " Alice ", "bio": "hi"})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(r, http.MethodPut, "/api/profile", "alice", map[string]string{"location": "Berlin"})
	require.Equal(t, http.StatusOK, rr.Code)

	stored, err := repo.GetProfile(context.Background(), "u-alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", stored.Username)
	assert.Equal(t, "hi", stored.Bio)
	assert.Equal(t, "Berlin", stored.Location)
	assert.Equal(t, "Alice.Smith@example.com", stored.Email)
}

func TestUpsertProfileDerivesUsername(t *testing.T) {
	r, repo := newTestServiceWithRouter(t)

	rr := do(r, http.MethodPut, "/api/profile", "alice", map[string]string{"full_name": "Alice Smith"})
	require.Equal(t, http.StatusOK, rr.Code)

	stored, err := repo.GetProfile(context.Background(), "u-alice")
	require.NoError(t, err)
	assert.Equal(t, "alice.smith", stored.Username)
}

func TestUpsertProfileRetriesDerivedUsernameOnce(t *testing.T) {
	r, repo := newTestServiceWithRouter(t)

	repo.ConflictNext = 1
	rr := do(r, http.MethodPut, "/api/profile", "bob", map[string]string{"bio": "x"})
	require.Equal(t, http.StatusOK, rr.Code)

	stored, err := repo.GetProfile(context.Background(), "u-bob")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stored.Username, "bob_"), stored.Username)
	assert.NoError(t, ValidateUsername(stored.Username))

	repo.ConflictNext = 2
	rr = do(r, http.MethodPut, "/api/profile", "alice", map[string]string{"bio": "x"})
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestUpsertProfileExplicitUsernameConflict(t *testing.T) {
	r, _ := newTestServiceWithRouter(t)

	rr := do(r, http.MethodPut, "/api/profile", "alice", map[string]string{"username": "taken"})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(r, http.MethodPut, "/api/profile", "bob", map[string]string{"username": "taken"})
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, rr.Body.String(), "username already taken")
}

func TestGetByUsername(t *testing.T) {
	r, repo := newTestServiceWithRouter(t)
	_, _ = repo.UpsertProfile(context.Background(), &supabase.Profile{ID: "u1", Username: "alice", Email: "a@x.io"})

	rr := do(r, http.MethodGet, "/api/profiles/Alice", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), "a@x.io")

	rr = do(r, http.MethodGet, "/api/profiles/nobody", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestListProfiles(t *testing.T) {
	r, repo := newTestServiceWithRouter(t)
	for _, p := range []supabase.Profile{
		{ID: "1", Username: "alice", PrimaryArm: "labs"},
		{ID: "2", Username: "alfred", PrimaryArm: "gameforge"},
		{ID: "3", Username: "bob", PrimaryArm: "labs"},
	} {
		p := p
		_, err := repo.UpsertProfile(context.Background(), &p)
		require.NoError(t, err)
	}

	rr := do(r, http.MethodGet, "/api/profiles?arm=labs&limit=1", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var page struct {
		Data  []supabase.Profile `json:"data"`
		Total int64              `json:"total"`
		Limit int                `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	assert.Equal(t, int64(2), page.Total)
	assert.Len(t, page.Data, 1)
	assert.Equal(t, 1, page.Limit)

	rr = do(r, http.MethodGet, "/api/profiles?q=al", "", nil)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	assert.Equal(t, int64(2), page.Total)

	rr = do(r, http.MethodGet, "/api/profiles?arm=nope", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(r, http.MethodGet, "/api/profiles?limit=-1", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestDatabaseErrorIs500(t *testing.T) {
	r, repo := newTestServiceWithRouter(t)
	repo.ErrorOnNextCall = errors.New("connection reset")

	rr := do(r, http.MethodGet, "/api/profile", "alice", nil)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), "connection reset")
}

func TestUsernameHelpers(t *testing.T) {
	assert.Equal(t, "john.doe", UsernameFromEmail("John.Doe@example.com"))
	assert.Equal(t, "ab_", UsernameFromEmail("ab@example.com"))
	assert.Equal(t, "user", UsernameFromEmail("+++@example.com"))
	assert.Len(t, UsernameFromEmail(strings.Repeat("x", 50)+"@example.com"), 32)

	long := WithSuffix(strings.Repeat("y", 32))
	assert.LessOrEqual(t, len(long), 32)
	assert.NoError(t, ValidateUsername(long))
}
