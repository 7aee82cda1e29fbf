package core

import "context"

type contextKey string

const (
	ctxKeyUserID    contextKey = "user_id"
	ctxKeyIPAddress contextKey = "client_ip"
)

// ContextWithUserID records the authenticated user making the request.
func ContextWithUserID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, ctxKeyUserID, id)
}

// UserIDFromContext returns the authenticated user, or 0 for anonymous
// requests.
func UserIDFromContext(ctx context.Context) int64 {
	if v, ok := ctx.Value(ctxKeyUserID).(int64); ok {
		return v
	}
	return 0
}

// ContextWithIPAddress adds the client IP for logging.
func ContextWithIPAddress(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ctxKeyIPAddress, ip)
}

// IPAddressFromContext extracts the client IP.
func IPAddressFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyIPAddress).(string); ok {
		return v
	}
	return ""
}
