package api

import "context"

type contextKey string

const (
	ctxKeyRequestID contextKey = "request_id"
	ctxKeyActor     contextKey = "actor"
)

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

func requestIDFromCtx(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

func withActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, ctxKeyActor, actor)
}

// actorFromCtx returns the dashboard-supplied actor id, or "unknown"
// when the caller sent none. Audit entries always carry something.
func actorFromCtx(ctx context.Context) string {
	if actor, _ := ctx.Value(ctxKeyActor).(string); actor != "" {
		return actor
	}
	return "unknown"
}
