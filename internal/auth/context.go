package auth

import "context"

type contextKey struct{}

// Caller is the authenticated identity behind a request.
type Caller struct {
	UserID  int64
	Locale  string
	Service bool
}

func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

func FromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(contextKey{}).(Caller)
	return c, ok
}

func UserID(ctx context.Context) int64 {
	c, ok := FromContext(ctx)
	if !ok {
		return 0
	}
	return c.UserID
}

func Locale(ctx context.Context) string {
	c, ok := FromContext(ctx)
	if !ok || c.Locale == "" {
		return "en"
	}
	return c.Locale
}

func IsService(ctx context.Context) bool {
	c, ok := FromContext(ctx)
	return ok && c.Service
}
