// Package ctxutil provides shared context key accessors.
//
// This package exists to break the circular dependency between server and
// mcp: server mounts the MCP transport, and mcp needs to read the JWT
// claims that server's auth middleware populates. Both packages import
// ctxutil instead of each other.
package ctxutil

import (
	"context"

	"github.com/siftlab/sieve/internal/auth"
	"github.com/siftlab/sieve/internal/model"
)

type contextKey string

const keyClaims contextKey = "claims"

// WithClaims returns a new context carrying the given claims.
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, keyClaims, claims)
}

// ClaimsFromContext extracts the JWT claims from the context.
func ClaimsFromContext(ctx context.Context) *auth.Claims {
	if v, ok := ctx.Value(keyClaims).(*auth.Claims); ok {
		return v
	}
	return nil
}

// ActorFromContext builds the service-layer actor from validated claims.
// Returns a zero Actor when the context carries no claims.
func ActorFromContext(ctx context.Context) model.Actor {
	claims := ClaimsFromContext(ctx)
	if claims == nil {
		return model.Actor{}
	}
	return model.Actor{ReviewerID: claims.ReviewerID(), Role: claims.Role}
}
