package middleware

import (
	"context"
	"sync"
)

// requestState is created by the outermost middleware and filled in by
// per-route authentication so outer layers can see who the caller was.
type requestState struct {
	mu     sync.Mutex
	userID string
	roles  string
}

type stateKey struct{}

func withState(ctx context.Context) (context.Context, *requestState) {
	if st := stateFrom(ctx); st != nil {
		return ctx, st
	}
	st := &requestState{}
	return context.WithValue(ctx, stateKey{}, st), st
}

func stateFrom(ctx context.Context) *requestState {
	st, _ := ctx.Value(stateKey{}).(*requestState)
	return st
}

func (s *requestState) setUser(userID, roles string) {
	s.mu.Lock()
	s.userID, s.roles = userID, roles
	s.mu.Unlock()
}

func (s *requestState) user() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID, s.roles
}
