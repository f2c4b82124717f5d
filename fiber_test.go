package identity_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	identity "github.com/veridian/go-identity"
)

func newFiberApp(validator identity.TokenValidator, scopes ...string) *fiber.App {
	app := fiber.New()
	app.Use(identity.FiberTokenAuth(validator, "user"))
	app.Use(identity.FiberRequireScopes("user", scopes...))
	app.Get("/orders", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	return app
}

func fiberToken(t *testing.T, scopes ...string) (identity.TokenService, string) {
	t.Helper()

	svc := identity.NewTokenService([]byte("test-signing-key"), 1, "test-issuer", nil, nil)

	user, err := identity.NewUser("alice")
	require.NoError(t, err)

	token, err := svc.Generate(user, nil, scopes...)
	require.NoError(t, err)

	return svc, token
}

func TestFiberScopeGateAllows(t *testing.T) {
	svc, token := fiberToken(t, "orders.read")
	app := newFiberApp(svc, "orders.read")

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestFiberScopeGateRefusesWithEmptyBody(t *testing.T) {
	svc, token := fiberToken(t, "orders.read")
	app := newFiberApp(svc, "admin")

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Empty(t, body, "the refusal carries no body")
}

func TestFiberTokenAuthRejectsMissingToken(t *testing.T) {
	svc, _ := fiberToken(t)
	app := newFiberApp(svc)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/orders", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestFiberScopeGatePassthroughWithoutClaims(t *testing.T) {
	// Without the auth layer, the gate lets anonymous requests through and
	// leaves the decision to whatever runs next.
	app := fiber.New()
	app.Use(identity.FiberRequireScopes("user", "admin"))
	app.Get("/orders", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/orders", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
