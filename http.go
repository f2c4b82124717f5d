package identity

import (
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"

	"github.com/veridian/go-identity/middleware/jwtware"
)

// RouteRegistrar captures the router methods used by the controller.
type RouteRegistrar interface {
	Get(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Post(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
}

// LoginPayload is the body of a password login request.
type LoginPayload struct {
	Identifier string   `json:"identifier" form:"identifier"`
	Password   string   `json:"password" form:"password"`
	Scopes     []string `json:"scopes" form:"scopes"`
}

// UserResponse is the public shape of an account lookup.
type UserResponse struct {
	ID            string     `json:"id"`
	Username      string     `json:"username"`
	Email         string     `json:"email,omitempty"`
	EmailVerified bool       `json:"email_verified"`
	Phone         string     `json:"phone,omitempty"`
	PhoneVerified bool       `json:"phone_verified"`
	CreatedAt     *time.Time `json:"created_at,omitempty"`
}

// HTTPController exposes the credential store over HTTP: password login,
// account registration, and account lookup.
type HTTPController struct {
	auth     *Authenticator
	store    UserStore
	register *RegisterUserHandler
	logger   Logger
}

// NewHTTPController wires a controller over the authenticator and store.
func NewHTTPController(auth *Authenticator, store UserStore, register *RegisterUserHandler) *HTTPController {
	return &HTTPController{
		auth:     auth,
		store:    store,
		register: register,
		logger:   defLogger{},
	}
}

// WithLogger overrides the controller logger.
func (c *HTTPController) WithLogger(l Logger) *HTTPController {
	if l != nil {
		c.logger = l
	}
	return c
}

// RegisterRoutes mounts the controller.
func (c *HTTPController) RegisterRoutes(group RouteRegistrar) {
	group.Post("/login", c.Login)
	group.Post("/register", c.Register)
	group.Get("/users/:id", c.Lookup)
}

// Login exchanges credentials for a signed token. Every failure mode reads
// the same to the caller: unauthorized.
func (c *HTTPController) Login(ctx router.Context) error {
	payload := &LoginPayload{}
	if err := ctx.Bind(payload); err != nil {
		return ctx.JSON(router.StatusBadRequest, map[string]string{
			"error": "invalid login payload",
		})
	}

	token, err := c.auth.Login(ctx.Context(), payload.Identifier, payload.Password, payload.Scopes...)
	if err != nil {
		c.logger.Debug("login rejected for %s", payload.Identifier)
		return ctx.JSON(router.StatusUnauthorized, map[string]string{
			"error": "invalid credentials",
		})
	}

	return ctx.JSON(router.StatusOK, map[string]string{
		"token": token,
	})
}

// Register provisions a local account.
func (c *HTTPController) Register(ctx router.Context) error {
	payload := &RegisterUserMessage{}
	if err := ctx.Bind(payload); err != nil {
		return ctx.JSON(router.StatusBadRequest, map[string]string{
			"error": "invalid registration payload",
		})
	}

	user, err := c.register.Execute(ctx.Context(), *payload)
	if err != nil {
		if IsDuplicateKey(err) {
			return ctx.JSON(router.StatusConflict, map[string]string{
				"error": "account already exists",
			})
		}

		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) && richErr.Category == goerrors.CategoryValidation {
			return ctx.JSON(router.StatusBadRequest, map[string]string{
				"error": richErr.Message,
			})
		}

		c.logger.Error("registration failed: %s", err)
		return ctx.JSON(router.StatusInternalServerError, map[string]string{
			"error": "registration failed",
		})
	}

	return ctx.JSON(router.StatusCreated, userResponse(user))
}

// Lookup fetches an account by id. An id that never matched an account is
// not found; an account that existed but was deleted answers gone, so
// callers can tell the difference.
func (c *HTTPController) Lookup(ctx router.Context) error {
	id, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		return ctx.JSON(router.StatusBadRequest, map[string]string{
			"error": "invalid user id",
		})
	}

	user, err := c.store.FindByIDAny(ctx.Context(), id)
	if err != nil {
		if IsNotFound(err) {
			return ctx.Status(router.StatusNotFound).SendString("")
		}
		c.logger.Error("user lookup failed: %s", err)
		return ctx.JSON(router.StatusInternalServerError, map[string]string{
			"error": "lookup failed",
		})
	}

	if user.IsDeleted() {
		return ctx.Status(router.StatusGone).SendString("")
	}

	return ctx.JSON(router.StatusOK, userResponse(user))
}

// ProtectedRoute builds the bearer validation middleware for routes behind
// a login. Scopes, when given, must intersect the token's scope claim or
// the request is refused with an empty 403.
func ProtectedRoute(cfg Config, tokens TokenValidator, scopes ...string) router.MiddlewareFunc {
	return jwtware.New(jwtware.Config{
		TokenValidator: ValidatorAdapter(tokens),
		SigningKey: jwtware.SigningKey{
			Key:    []byte(cfg.GetSigningKey()),
			JWTAlg: "HS256",
		},
		TokenLookup:    cfg.GetTokenLookup(),
		AuthScheme:     cfg.GetAuthScheme(),
		ContextKey:     cfg.GetContextKey(),
		RequiredScopes: scopes,
	})
}

type validatorAdapter struct {
	inner TokenValidator
}

// ValidatorAdapter bridges a TokenValidator into the middleware package's
// narrower claims contract.
func ValidatorAdapter(v TokenValidator) jwtware.TokenValidator {
	return validatorAdapter{inner: v}
}

func (a validatorAdapter) Validate(tokenString string) (jwtware.AuthClaims, error) {
	claims, err := a.inner.Validate(tokenString)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func userResponse(user *User) UserResponse {
	resp := UserResponse{
		ID:       user.ID.String(),
		Username: user.Username,
	}

	if !user.CreatedAt.IsZero() {
		created := user.CreatedAt
		resp.CreatedAt = &created
	}

	if user.Email != nil {
		resp.Email = user.Email.Value
		resp.EmailVerified = user.Email.IsConfirmed()
	}

	if user.PhoneNumber != nil {
		resp.Phone = user.PhoneNumber.Value
		resp.PhoneVerified = user.PhoneNumber.IsConfirmed()
	}

	return resp
}
