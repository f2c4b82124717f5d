package identity

import (
	"context"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// RegisterUserMessage carries everything needed to provision a local
// account.
type RegisterUserMessage struct {
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Phone    string   `json:"phone"`
	Password string   `json:"password"`
	Roles    []string `json:"roles"`
}

func (e RegisterUserMessage) Type() string { return "identity.user.register" }

// Validate checks the message before any store work happens.
func (e RegisterUserMessage) Validate() error {
	err := validation.ValidateStruct(&e,
		validation.Field(&e.Username,
			validation.Required.When(e.Email == "").Error("username or email is required"),
		),
		validation.Field(&e.Email, is.Email),
		validation.Field(&e.Password, validation.Required, validation.Length(8, 128)),
	)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid registration request")
	}
	return nil
}

// RegisterUserHandler provisions accounts inside a single transaction.
type RegisterUserHandler struct {
	repo RepositoryManager
}

// NewRegisterUserHandler returns a handler over the given repository
// manager.
func NewRegisterUserHandler(repo RepositoryManager) *RegisterUserHandler {
	return &RegisterUserHandler{repo: repo}
}

// Execute validates the message and creates the account. The new user id is
// derived from the normalized username, so retrying the same registration
// surfaces a duplicate-key conflict instead of a second account.
func (h *RegisterUserHandler) Execute(ctx context.Context, event RegisterUserMessage) (*User, error) {
	select {
	case <-ctx.Done():
		return nil, goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during user registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterUserHandler) execute(ctx context.Context, event RegisterUserMessage) (*User, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	var user *User

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		hash, err := HashPassword(event.Password)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
		}

		user, err = NewUser(registrationUsername(event.Username, event.Email))
		if err != nil {
			return err
		}

		user.SetPasswordHash(hash)

		if event.Email != "" {
			if err := user.SetEmail(event.Email); err != nil {
				return err
			}
		}

		if event.Phone != "" {
			if err := user.SetPhoneNumber(event.Phone); err != nil {
				return err
			}
		}

		for _, role := range event.Roles {
			user.AddClaim(Claim{Type: ClaimRole, Value: role})
		}

		if err := h.repo.Users().CreateTx(ctx, tx, user); err != nil {
			return err
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, richErr
		}

		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "user registration transaction failed")
	}

	return user, nil
}

func registrationUsername(username, email string) string {
	if username != "" {
		return username
	}

	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}

	return email
}
