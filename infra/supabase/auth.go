package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// AuthClient handles Supabase Auth (GoTrue) operations.
type AuthClient struct {
	client *Client
}

// SignUp creates a new user.
func (a *AuthClient) SignUp(ctx context.Context, req SignUpRequest) (*Session, error) {
	return a.session(ctx, a.client.authURL+"/signup", req)
}

// SignInWithPassword authenticates a user with email/password.
func (a *AuthClient) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	return a.session(ctx, a.client.authURL+"/token?grant_type=password", map[string]string{
		"email":    email,
		"password": password,
	})
}

// RefreshToken exchanges a refresh token for a new session.
func (a *AuthClient) RefreshToken(ctx context.Context, refreshToken string) (*Session, error) {
	return a.session(ctx, a.client.authURL+"/token?grant_type=refresh_token", map[string]string{
		"refresh_token": refreshToken,
	})
}

// GetUser resolves the user behind an access token. An invalid or expired
// token yields ErrUnauthorized.
func (a *AuthClient) GetUser(ctx context.Context, accessToken string) (*User, error) {
	if accessToken == "" {
		return nil, ErrUnauthorized
	}
	data, err := a.client.doJSON(ctx, http.MethodGet, a.client.authURL+"/user", nil, accessToken)
	if err != nil {
		if e, ok := AsError(err); ok && (e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}

	var user User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if user.ID == "" {
		return nil, ErrUnauthorized
	}
	return &user, nil
}

// SignOut revokes the session behind an access token.
func (a *AuthClient) SignOut(ctx context.Context, accessToken string) error {
	_, err := a.client.doJSON(ctx, http.MethodPost, a.client.authURL+"/logout", nil, accessToken)
	return err
}

func (a *AuthClient) session(ctx context.Context, endpoint string, payload interface{}) (*Session, error) {
	data, err := a.client.doJSON(ctx, http.MethodPost, endpoint, payload, "")
	if err != nil {
		return nil, err
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &session, nil
}
