package auth

import "context"

type contextKey string

const (
	contextKeyIdentity contextKey = "auth.identity"
	contextKeyRole     contextKey = "auth.role"
)

// WithIdentity stores the caller identity in ctx.
func WithIdentity(ctx context.Context, identity, role string) context.Context {
	ctx = context.WithValue(ctx, contextKeyIdentity, identity)
	return context.WithValue(ctx, contextKeyRole, role)
}

// IdentityFromContext returns the caller identity, or "" when unauthenticated.
func IdentityFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	identity, _ := ctx.Value(contextKeyIdentity).(string)
	return identity
}

func RoleFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	role, _ := ctx.Value(contextKeyRole).(string)
	return role
}
