package identity

import (
	"github.com/gofiber/fiber/v2"
)

// FiberRequireScopes gates a fiber route on token claims stored in the
// request locals. Requests with no validated claims pass through so the
// surrounding authentication layer decides what anonymous means; validated
// requests missing every listed scope are refused with an empty 403.
func FiberRequireScopes(contextKey string, scopes ...string) fiber.Handler {
	if contextKey == "" {
		contextKey = "user"
	}
	return func(c *fiber.Ctx) error {
		claims, ok := c.Locals(contextKey).(AuthClaims)
		if !ok || claims == nil {
			return c.Next()
		}

		for _, scope := range scopes {
			if claims.HasScope(scope) {
				return c.Next()
			}
		}

		// SendStatus would fill the body with the status text.
		return c.Status(fiber.StatusForbidden).SendString("")
	}
}

// FiberTokenAuth validates the bearer token on a fiber route and stores the
// claims under contextKey. Missing or invalid tokens are refused.
func FiberTokenAuth(validator TokenValidator, contextKey string) fiber.Handler {
	if contextKey == "" {
		contextKey = "user"
	}
	return func(c *fiber.Ctx) error {
		raw := extractBearer(c.Get(fiber.HeaderAuthorization))
		if raw == "" {
			return c.Status(fiber.StatusUnauthorized).SendString("missing bearer token")
		}

		claims, err := validator.Validate(raw)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).SendString("invalid or expired token")
		}

		c.Locals(contextKey, claims)
		return c.Next()
	}
}

func extractBearer(header string) string {
	const scheme = "Bearer "
	if len(header) > len(scheme) && header[:len(scheme)] == scheme {
		return header[len(scheme):]
	}
	return ""
}
