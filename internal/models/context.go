package models

import (
	"context"
)

type actorContextKey struct{}

// Actor identifies who triggered an operation so ledger writes and log lines
// can carry it without widening every signature.
type Actor struct {
	UserId string
	Role   string
	Source string // "cli", "import", "reconcile", "listener"
}

// WithActor attaches the acting principal to a context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFrom retrieves the acting principal, or the zero Actor if absent.
func ActorFrom(ctx context.Context) Actor {
	a, _ := ctx.Value(actorContextKey{}).(Actor)
	return a
}
