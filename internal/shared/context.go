package shared

import "context"

// Actor is the caller identity supplied by the external identity provider.
// The core never authenticates; it records the id on movements and checks the
// role for privileged operations.
type Actor struct {
	ID   string
	Role string
}

// Elevated roles allowed to post manual adjustments.
const (
	RoleStaff   = "staff"
	RoleManager = "manager"
	RoleAdmin   = "admin"
)

// Privileged reports whether the actor may perform privileged operations.
func (a Actor) Privileged() bool {
	return a.Role == RoleManager || a.Role == RoleAdmin
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context. Zero value when absent.
func ActorFromContext(ctx context.Context) Actor {
	actor, _ := ctx.Value(actorContextKey{}).(Actor)
	return actor
}
