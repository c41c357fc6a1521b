package middleware

import "context"

type contextKey string

const principalHolderKey contextKey = "principalHolder"

type principalHolder struct {
	userID string
}

func withPrincipalHolder(ctx context.Context, h *principalHolder) context.Context {
	return context.WithValue(ctx, principalHolderKey, h)
}

func principalHolderFrom(ctx context.Context) *principalHolder {
	h, _ := ctx.Value(principalHolderKey).(*principalHolder)
	return h
}
