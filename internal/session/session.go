// Package session carries the authenticated caller explicitly through
// request handling instead of through global state.
package session

import "context"

// Session identifies the caller. Token is the bearer credential it was
// resolved from.
type Session struct {
	Token  string
	UserID string
}

type ctxKey struct{}

// With returns a context carrying s.
func With(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// From returns the session stored by With.
func From(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(Session)
	return s, ok
}
