package auth

import (
	"strings"

	xhttp "github.com/advaic/reply-gateway/pkg/http"
	"github.com/advaic/reply-gateway/pkg/logger"
)

const (
	identityKey  = "auth.identity"
	accessCookie = "sb-access-token"
)

// NotLoggedIn is the body text returned for unauthenticated requests.
const NotLoggedIn = "Nicht eingeloggt."

// Middleware rejects requests without a valid session before they reach a handler.
func Middleware(resolver Resolver) xhttp.MiddlewareFunc {
	return func(next xhttp.RequestHandler) xhttp.RequestHandler {
		return func(ctx *xhttp.RequestCtx) {
			token := accessToken(ctx)
			if token == "" {
				xhttp.WriteError(ctx, xhttp.StatusUnauthorized, NotLoggedIn)
				return
			}

			identity, err := resolver.Resolve(ctx, token)
			if err != nil {
				logger.Debug("auth rejected", "error", err, "path", string(ctx.Path()))
				xhttp.WriteError(ctx, xhttp.StatusUnauthorized, NotLoggedIn)
				return
			}

			ctx.SetUserValue(identityKey, identity)
			next(ctx)
		}
	}
}

// FromRequest returns the identity attached by Middleware.
func FromRequest(ctx *xhttp.RequestCtx) (*Identity, bool) {
	identity, ok := ctx.UserValue(identityKey).(*Identity)
	return identity, ok && identity != nil
}

// AgentID returns the caller's agent id, or "" for anonymous requests.
func AgentID(ctx *xhttp.RequestCtx) string {
	if identity, ok := FromRequest(ctx); ok {
		return identity.AgentID
	}
	return ""
}

func accessToken(ctx *xhttp.RequestCtx) string {
	header := string(ctx.Request.Header.Peek("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return string(ctx.Request.Header.Cookie(accessCookie))
}
