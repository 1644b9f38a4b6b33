package auth

import (
	"context"
)

type contextKey string

const (
	contextKeyOwner  contextKey = "owner"
	contextKeyMethod contextKey = "auth_method"
)

// Method records how the request's owner was identified.
type Method string

const (
	MethodSession Method = "session"
	MethodHeader  Method = "header"
)

func WithOwner(ctx context.Context, ownerID string, method Method) context.Context {
	ctx = context.WithValue(ctx, contextKeyOwner, ownerID)
	return context.WithValue(ctx, contextKeyMethod, method)
}

func OwnerFromContext(ctx context.Context) (string, bool) {
	o, ok := ctx.Value(contextKeyOwner).(string)
	return o, ok && o != ""
}

func MethodFromContext(ctx context.Context) Method {
	m, _ := ctx.Value(contextKeyMethod).(Method)
	return m
}

// IsHeaderAuth reports whether an upstream proxy vouched for the owner.
// Such requests carry no cookie and need no CSRF token.
func IsHeaderAuth(ctx context.Context) bool {
	return MethodFromContext(ctx) == MethodHeader
}
