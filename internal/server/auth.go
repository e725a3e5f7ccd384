package server

import (
	"slices"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"relaygate/config"
	"relaygate/internal/core"
)

// AuthMiddleware resolves the bearer token to a caller identity from keys and
// attaches it to the request context. Paths in skipPaths are not checked.
func AuthMiddleware(keys []config.APIKeyConfig, skipPaths []string) echo.MiddlewareFunc {
	return authMiddleware(keys, skipPaths, time.Now)
}

func authMiddleware(keys []config.APIKeyConfig, skipPaths []string, now func() time.Time) echo.MiddlewareFunc {
	identities := make(map[string]*core.CallerIdentity, len(keys))
	for _, k := range keys {
		identities[k.Key] = &core.CallerIdentity{
			ID:         k.ID,
			Premium:    k.Premium,
			ExpiresAt:  k.ExpiresAt,
			UsageLimit: k.UsageLimit,
		}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if len(identities) == 0 || slices.Contains(skipPaths, c.Path()) {
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return handleError(c, core.NewAuthenticationError("missing authorization header"))
			}

			// Extract Bearer token
			const prefix = "Bearer "
			if !strings.HasPrefix(authHeader, prefix) {
				return handleError(c, core.NewAuthenticationError("invalid authorization header format, expected 'Bearer <token>'"))
			}

			identity, ok := identities[strings.TrimPrefix(authHeader, prefix)]
			if !ok {
				return handleError(c, core.NewAuthenticationError("invalid api key"))
			}
			if identity.Expired(now()) {
				return handleError(c, core.NewAuthenticationError("api key expired"))
			}

			ctx := core.WithCallerIdentity(c.Request().Context(), identity)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}
