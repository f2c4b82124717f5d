package identity

import (
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
)

const (
	textCodeAlreadyDeleted      = "USER_ALREADY_DELETED"
	textCodeDuplicateKey        = "DUPLICATE_KEY"
	textCodeUpdateConflict      = "UPDATE_CONFLICT"
	textCodeUsernameImmutable   = "USERNAME_CHANGE_NOT_SUPPORTED"
	textCodeLoginAlreadyExists  = "LOGIN_ALREADY_EXISTS"
	textCodeNoContactRecord     = "NO_CONTACT_RECORD"
	textCodeEmptyValue          = "EMPTY_VALUE"
	textCodeCredentialsMismatch = "CREDENTIALS_MISMATCH"
	textCodeTokenExpired        = "TOKEN_EXPIRED"
	textCodeTokenMalformed      = "TOKEN_MALFORMED"
	textCodeSessionRevoked      = "SESSION_REVOKED"
)

// ErrUserAlreadyDeleted is returned when Delete is called on a user whose
// deletion timestamp is already set.
var ErrUserAlreadyDeleted = goerrors.New("user has already been deleted", goerrors.CategoryConflict).
	WithTextCode(textCodeAlreadyDeleted).
	WithCode(goerrors.CodeConflict)

// ErrDuplicateKey is returned by the store when an insert collides with an
// existing primary key or unique index.
var ErrDuplicateKey = goerrors.New("record with the same key already exists", goerrors.CategoryConflict).
	WithTextCode(textCodeDuplicateKey).
	WithCode(goerrors.CodeConflict)

// ErrUpdateConflict is the store's optimistic update mismatch: the guarded
// update matched zero rows, e.g. after a concurrent delete. Callers branch on
// it with IsUpdateConflict and decide whether the race is fatal.
var ErrUpdateConflict = goerrors.New("update matched no records", goerrors.CategoryConflict).
	WithTextCode(textCodeUpdateConflict).
	WithCode(goerrors.CodeConflict)

// ErrUsernameImmutable is returned for any attempt to change a username after
// creation.
var ErrUsernameImmutable = goerrors.New("username cannot be changed after creation", goerrors.CategoryOperation).
	WithTextCode(textCodeUsernameImmutable)

// ErrLoginAlreadyExists is returned when binding an external login that is
// already bound.
var ErrLoginAlreadyExists = goerrors.New("external login already bound to user", goerrors.CategoryConflict).
	WithTextCode(textCodeLoginAlreadyExists).
	WithCode(goerrors.CodeConflict)

// ErrNoContactRecord is returned when confirming a contact record that was
// never set.
var ErrNoContactRecord = goerrors.New("user has no such contact record", goerrors.CategoryValidation).
	WithTextCode(textCodeNoContactRecord).
	WithCode(goerrors.CodeBadRequest)

// ErrNoEmptyString guards constructors and setters against blank input.
var ErrNoEmptyString = goerrors.New("value must not be empty", goerrors.CategoryValidation).
	WithTextCode(textCodeEmptyValue).
	WithCode(goerrors.CodeBadRequest)

// ErrMismatchedHashAndPassword is the generic credential failure. It is
// deliberately indistinguishable between unknown user and wrong password.
var ErrMismatchedHashAndPassword = goerrors.New("credentials do not match", goerrors.CategoryAuth).
	WithTextCode(textCodeCredentialsMismatch)

// ErrTokenExpired is returned when a presented token is past its expiry.
var ErrTokenExpired = goerrors.New("token is expired", goerrors.CategoryAuth).
	WithTextCode(textCodeTokenExpired)

// ErrTokenMalformed is returned when a presented token cannot be parsed or
// fails signature validation.
var ErrTokenMalformed = goerrors.New("token is malformed", goerrors.CategoryAuth).
	WithTextCode(textCodeTokenMalformed)

// ErrSessionRevoked is returned when a token's security stamp no longer
// matches the stored account, or the account itself is gone.
var ErrSessionRevoked = goerrors.New("session is no longer active", goerrors.CategoryAuth).
	WithTextCode(textCodeSessionRevoked)

// IsNotFound reports whether the error is a store lookup miss. Store misses
// carry the repository layer's record-not-found category, which lives beside
// the generic not-found category, so both are checked.
func IsNotFound(err error) bool {
	return repository.IsRecordNotFound(err) || goerrors.IsNotFound(err)
}

// IsUpdateConflict reports whether the error is the store's zero-rows update
// result.
func IsUpdateConflict(err error) bool {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return rich.TextCode == textCodeUpdateConflict
	}
	return false
}

// IsDuplicateKey reports whether the error is a store-level insert conflict.
func IsDuplicateKey(err error) bool {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return rich.TextCode == textCodeDuplicateKey
	}
	return false
}

// IsTokenExpiredError checks for expired token errors regardless of origin.
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "token is expired")
}

// IsMalformedError checks the error message for malformed token markers.
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "token is malformed") ||
		strings.Contains(err.Error(), "missing or malformed JWT")
}
