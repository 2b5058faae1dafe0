// Package actorctx carries the authenticated identity on a request context.
package actorctx

import "context"

type ctxKey string

const (
	keyUserID    ctxKey = "user_id"
	keySessionID ctxKey = "session_id"
)

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, keyUserID, userID)
}

func UserIDFrom(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyUserID).(string)

	return v, ok && v != ""
}

func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, keySessionID, sessionID)
}

func SessionIDFrom(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keySessionID).(string)

	return v, ok && v != ""
}
