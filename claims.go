package identity

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claim types issued by the profile resolver and carried in tokens.
const (
	ClaimSubject             = "sub"
	ClaimPreferredUsername   = "preferred_username"
	ClaimEmail               = "email"
	ClaimEmailVerified       = "email_verified"
	ClaimPhoneNumber         = "phone_number"
	ClaimPhoneNumberVerified = "phone_number_verified"
	ClaimRole                = "role"
	ClaimScope               = "scope"
	ClaimSecurityStamp       = "security_stamp"
)

// AuthClaims is the read surface over validated token claims.
type AuthClaims interface {
	Subject() string
	UserID() string
	Username() string
	Scopes() []string
	HasScope(scope string) bool
	SecurityStamp() string
	IssuedClaims() []Claim
	Expires() time.Time
	IssuedAt() time.Time
}

// TokenClaims is the concrete JWT claim set issued by the token service.
// Scope and the security stamp are first-class fields; the remaining resolved
// profile claims travel in Claims.
type TokenClaims struct {
	jwt.RegisteredClaims
	UID               string   `json:"uid,omitempty"`
	PreferredUsername string   `json:"preferred_username,omitempty"`
	Scope             []string `json:"scope,omitempty"`
	Stamp             string   `json:"security_stamp,omitempty"`
	Claims            []Claim  `json:"claims,omitempty"`
}

var _ AuthClaims = (*TokenClaims)(nil)

// Subject returns the subject claim
func (c *TokenClaims) Subject() string {
	return c.RegisteredClaims.Subject
}

// UserID returns the user id, falling back to the subject.
func (c *TokenClaims) UserID() string {
	if c.UID != "" {
		return c.UID
	}
	return c.Subject()
}

// Username returns the preferred username.
func (c *TokenClaims) Username() string {
	return c.PreferredUsername
}

// Scopes returns the scope claim values.
func (c *TokenClaims) Scopes() []string {
	return c.Scope
}

// HasScope reports whether the token carries the given scope. Scope names are
// matched exactly.
func (c *TokenClaims) HasScope(scope string) bool {
	for _, s := range c.Scope {
		if s == scope {
			return true
		}
	}
	return false
}

// SecurityStamp returns the security_stamp claim, empty when absent.
func (c *TokenClaims) SecurityStamp() string {
	if c.Stamp != "" {
		return c.Stamp
	}
	for _, claim := range c.Claims {
		if claim.Type == ClaimSecurityStamp {
			return claim.Value
		}
	}
	return ""
}

// IssuedClaims returns the resolved profile claims carried by the token.
func (c *TokenClaims) IssuedClaims() []Claim {
	return c.Claims
}

// Expires returns the expiration time
func (c *TokenClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// IssuedAt returns the issued at time
func (c *TokenClaims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time
	}
	return time.Time{}
}
