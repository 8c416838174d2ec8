package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	supa "github.com/aethex/platform/infra/supabase"
	"github.com/aethex/platform/internal/logging"
	"github.com/aethex/platform/internal/middleware"
)

type fakeProvider struct {
	signedOut string
	lastEmail string
	err       error
}

func (f *fakeProvider) session(email string) *supa.Session {
	return &supa.Session{AccessToken: "at", RefreshToken: "rt", TokenType: "bearer", User: &supa.User{ID: "u-1", Email: email}}
}

func (f *fakeProvider) SignUp(_ context.Context, req supa.SignUpRequest) (*supa.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.lastEmail = req.Email
	return f.session(req.Email), nil
}

func (f *fakeProvider) SignInWithPassword(_ context.Context, email, _ string) (*supa.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.lastEmail = email
	return f.session(email), nil
}

func (f *fakeProvider) RefreshToken(_ context.Context, token string) (*supa.Session, error) {
	if token != "rt" {
		return nil, supa.NewError("invalid_grant", "Invalid Refresh Token", http.StatusBadRequest)
	}
	return f.session("a@example.com"), nil
}

func (f *fakeProvider) GetUser(_ context.Context, token string) (*supa.User, error) {
	return &supa.User{ID: "u-1", Email: "a@example.com"}, nil
}

func (f *fakeProvider) SignOut(_ context.Context, token string) error {
	f.signedOut = token
	return nil
}

func newAuthRouter(t *testing.T) (*mux.Router, *fakeProvider) {
	t.Helper()
	provider := &fakeProvider{}
	h := &authHandlers{
		provider: provider,
		auth:     middleware.NewAuthenticator(middleware.StaticVerifier{"tok": {UserID: "u-1"}}, nil, logging.NewNop()),
		logger:   logging.NewNop(),
	}
	r := mux.NewRouter()
	h.RegisterRoutes(r)
	return r, provider
}

func post(r http.Handler, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestSignUpNormalizesEmail(t *testing.T) {
	r, provider := newAuthRouter(t)
	rec := post(r, "/api/auth/signup", "", map[string]string{"email": "  Ada@Example.com ", "password": "hunter2hunter2"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "ada@example.com", provider.lastEmail)

	var session supa.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	assert.Equal(t, "at", session.AccessToken)
}

func TestSignUpValidation(t *testing.T) {
	r, _ := newAuthRouter(t)
	assert.Equal(t, http.StatusBadRequest, post(r, "/api/auth/signup", "", map[string]string{"email": "nope", "password": "hunter2hunter2"}).Code)
	assert.Equal(t, http.StatusBadRequest, post(r, "/api/auth/signup", "", map[string]string{"email": "a@example.com", "password": "short"}).Code)
}

func TestLoginPassesThroughProviderRejection(t *testing.T) {
	r, provider := newAuthRouter(t)
	provider.err = supa.NewError("invalid_grant", "Invalid login credentials", http.StatusBadRequest)
	rec := post(r, "/api/auth/login", "", map[string]string{"email": "a@example.com", "password": "wrong"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid login credentials")
}

func TestLoginProviderDown(t *testing.T) {
	r, provider := newAuthRouter(t)
	provider.err = errors.New("dial tcp: connection refused")
	rec := post(r, "/api/auth/login", "", map[string]string{"email": "a@example.com", "password": "pw"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestRefresh(t *testing.T) {
	r, _ := newAuthRouter(t)
	assert.Equal(t, http.StatusOK, post(r, "/api/auth/refresh", "", map[string]string{"refresh_token": "rt"}).Code)
	assert.Equal(t, http.StatusBadRequest, post(r, "/api/auth/refresh", "", map[string]string{"refresh_token": "stale"}).Code)
	assert.Equal(t, http.StatusBadRequest, post(r, "/api/auth/refresh", "", map[string]string{}).Code)
}

func TestLogoutAndMeRequireToken(t *testing.T) {
	r, provider := newAuthRouter(t)
	assert.Equal(t, http.StatusUnauthorized, post(r, "/api/auth/logout", "", nil).Code)

	rec := post(r, "/api/auth/logout", "tok", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "tok", provider.signedOut)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer tok")
	me := httptest.NewRecorder()
	r.ServeHTTP(me, req)
	require.Equal(t, http.StatusOK, me.Code)
	assert.Contains(t, me.Body.String(), `"id":"u-1"`)
}
