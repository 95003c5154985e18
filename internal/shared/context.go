package shared

import "context"

type actorContextKey struct{}

// ContextWithActor stores the request actor. Only the HTTP edge uses it; the
// services always take the actor as an explicit argument.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor set by the HTTP middleware.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
