package auth

import (
	"context"

	"github.com/cuongbtq/ucloud-orchestrator/internal/domain"
)

type ctxKeyActor struct{}

func ContextWithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, ctxKeyActor{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	v, ok := ctx.Value(ctxKeyActor{}).(domain.Actor)
	return v, ok
}
