package identity

import (
	"context"

	"github.com/goliatone/go-router"
	"github.com/veridian/go-identity/middleware/jwtware"
)

type contextKey string

const (
	userCtxKey   contextKey = "identity:user"
	claimsCtxKey contextKey = "identity:claims"
)

// WithContext stores the authenticated user's account record so downstream
// handlers can read it without a second lookup.
func WithContext(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userCtxKey, user)
}

func FromContext(ctx context.Context) (*User, bool) {
	user, ok := ctx.Value(userCtxKey).(*User)
	return user, ok && user != nil
}

// WithClaimsContext stores the validated token claims.
func WithClaimsContext(ctx context.Context, claims AuthClaims) context.Context {
	return context.WithValue(ctx, claimsCtxKey, claims)
}

func GetClaims(ctx context.Context) (AuthClaims, bool) {
	claims, ok := ctx.Value(claimsCtxKey).(AuthClaims)
	return claims, ok && claims != nil
}

// GetRouterClaims reads the claims the token middleware left in the request
// locals. Pass an empty key to use the middleware's default context key.
func GetRouterClaims(ctx router.Context, key string) (AuthClaims, bool) {
	if key == "" {
		key = "user"
	}
	claims, ok := ctx.Locals(key).(AuthClaims)
	return claims, ok && claims != nil
}

// HasScopeInContext reports whether the claims stored in ctx carry the scope.
func HasScopeInContext(ctx context.Context, scope string) bool {
	claims, ok := GetClaims(ctx)
	return ok && claims.HasScope(scope)
}

// ContextEnricherAdapter copies validated claims from the token middleware
// into the request context so handlers can use GetClaims and
// HasScopeInContext instead of reaching back into the router locals.
func ContextEnricherAdapter(ctx context.Context, claims jwtware.AuthClaims) context.Context {
	if authClaims, ok := claims.(AuthClaims); ok {
		return WithClaimsContext(ctx, authClaims)
	}
	return ctx
}

// RegisterValidationListeners appends listeners to a middleware config.
func RegisterValidationListeners(cfg *jwtware.Config, listeners ...jwtware.ValidationListener) {
	cfg.ValidationListeners = append(cfg.ValidationListeners, listeners...)
}

// IsActiveListener builds a validation listener that rejects tokens whose
// security stamp no longer matches the stored account, closing sessions that
// outlived a password change or an account deletion.
func IsActiveListener(auth *Authenticator) jwtware.ValidationListener {
	return func(ctx router.Context, claims jwtware.AuthClaims) error {
		authClaims, ok := claims.(AuthClaims)
		if !ok {
			return nil
		}
		active, err := auth.VerifyIsActive(ctx.Context(), authClaims)
		if err != nil {
			return err
		}
		if !active {
			return ErrSessionRevoked
		}
		return nil
	}
}
