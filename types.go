package identity

import (
	"context"
	"fmt"
	"time"
)

// Logger is the minimal structured logging surface used across the package.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Config holds token issuance and validation options.
type Config interface {
	GetSigningKey() string
	GetTokenExpiration() int
	GetIssuer() string
	GetAudience() []string
	// GetValidateAudience gates aud claim validation. Off by default: the
	// issuer hardcodes the audience, so resource servers authorize on scope
	// claims instead.
	GetValidateAudience() bool
	GetTokenLookup() string
	GetAuthScheme() string
	GetContextKey() string
}

// LockoutPolicy controls the failed-login counter and lockout window.
type LockoutPolicy struct {
	MaxAccessFailedCount int
	LockoutWindow        time.Duration
}

// DefaultLockoutPolicy locks an account for five minutes after five
// consecutive failures.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{
		MaxAccessFailedCount: 5,
		LockoutWindow:        5 * time.Minute,
	}
}

// StoreCapabilities mirror the provider capability flags that gate which
// claim groups the profile resolver emits.
type StoreCapabilities struct {
	Email         bool
	PhoneNumber   bool
	UserClaims    bool
	Roles         bool
	SecurityStamp bool
}

// DefaultStoreCapabilities enables every claim group.
func DefaultStoreCapabilities() StoreCapabilities {
	return StoreCapabilities{
		Email:         true,
		PhoneNumber:   true,
		UserClaims:    true,
		Roles:         true,
		SecurityStamp: true,
	}
}

// TokenService signs and validates bearer tokens.
type TokenService interface {
	TokenValidator
	Generate(user *User, issued []Claim, scopes ...string) (string, error)
	SignClaims(claims *TokenClaims) (string, error)
}

// AccountResolver is the extension point that lets deployments match an
// incoming external identity to an existing local account (for example by a
// verified email claim). The default resolver matches nothing.
type AccountResolver interface {
	FindExistingAccount(ctx context.Context, provider string, claims []Claim) (*User, error)
}

type noopAccountResolver struct{}

func (noopAccountResolver) FindExistingAccount(context.Context, string, []Claim) (*User, error) {
	return nil, nil
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] IDENTITY "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] IDENTITY "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] IDENTITY "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] IDENTITY "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
