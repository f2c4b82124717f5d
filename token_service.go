package identity

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// TokenServiceImpl implements the TokenService interface
type TokenServiceImpl struct {
	signingKey       []byte
	tokenExpiration  int
	issuer           string
	audience         jwt.ClaimStrings
	validateAudience bool
	logger           Logger
}

// TokenServiceOption customizes the token service.
type TokenServiceOption func(*TokenServiceImpl)

// WithAudienceValidation turns aud claim validation back on. By default the
// audience is carried in issued tokens but not validated on inbound ones:
// resource servers authorize on scope claims instead.
func WithAudienceValidation() TokenServiceOption {
	return func(ts *TokenServiceImpl) {
		ts.validateAudience = true
	}
}

// NewTokenService creates a new TokenService instance
func NewTokenService(signingKey []byte, tokenExpiration int, issuer string, audience jwt.ClaimStrings, logger Logger, opts ...TokenServiceOption) TokenService {
	if logger == nil {
		logger = defLogger{}
	}
	ts := &TokenServiceImpl{
		signingKey:      signingKey,
		tokenExpiration: tokenExpiration,
		issuer:          issuer,
		audience:        audience,
		logger:          logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ts)
		}
	}
	return ts
}

// Generate signs a token for the user carrying the resolved profile claims
// and the granted scopes. The security stamp claim, when present in the
// issued set, is promoted to its first-class field.
func (ts *TokenServiceImpl) Generate(user *User, issued []Claim, scopes ...string) (string, error) {
	if user == nil {
		return "", errors.New("user must not be nil", errors.CategoryInternal)
	}

	now := time.Now()

	var aud jwt.ClaimStrings
	if len(ts.audience) > 0 {
		aud = make(jwt.ClaimStrings, len(ts.audience))
		copy(aud, ts.audience)
	}

	claims := &TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.issuer,
			Subject:   user.ID.String(),
			Audience:  aud,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(ts.tokenExpiration) * time.Hour)),
		},
		UID:               user.ID.String(),
		PreferredUsername: user.Username,
		Scope:             scopes,
	}

	for _, claim := range issued {
		switch claim.Type {
		case ClaimSubject:
			// already covered by sub/uid
		case ClaimPreferredUsername:
			claims.PreferredUsername = claim.Value
		case ClaimSecurityStamp:
			claims.Stamp = claim.Value
		case ClaimScope:
			claims.Scope = append(claims.Scope, claim.Value)
		default:
			claims.Claims = append(claims.Claims, claim)
		}
	}

	ensureTokenID(&claims.RegisteredClaims)

	return ts.SignClaims(claims)
}

// SignClaims signs arbitrary token claims using the configured signing key.
func (ts *TokenServiceImpl) SignClaims(claims *TokenClaims) (string, error) {
	if claims == nil {
		return "", errors.New("claims must not be nil", errors.CategoryInternal)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signedString, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to sign JWT")
	}

	return signedString, nil
}

// Validate parses and validates a token string, returning structured claims.
// The audience claim is only checked when audience validation is enabled.
func (ts *TokenServiceImpl) Validate(tokenString string) (AuthClaims, error) {
	parserOptions := make([]jwt.ParserOption, 0, 1)
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Error("TokenService validate encountered unexpected signing method: %v", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, parserOptions...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, errors.Wrap(err, ErrTokenMalformed.Category, ErrTokenMalformed.Message).WithTextCode(ErrTokenMalformed.TextCode)
	}

	if claims, ok := token.Claims.(*TokenClaims); ok && token.Valid {
		if err := ts.checkAudience(claims); err != nil {
			return nil, err
		}
		return claims, nil
	}

	ts.logger.Error("TokenService validate could not decode or validate claims")
	return nil, ErrTokenMalformed
}

// checkAudience enforces the opt-in aud check. Any one configured audience is
// acceptable, so the comparison is done here rather than through the parser's
// audience option, which requires a single match.
func (ts *TokenServiceImpl) checkAudience(claims *TokenClaims) error {
	if !ts.validateAudience || len(ts.audience) == 0 {
		return nil
	}

	for _, accepted := range ts.audience {
		for _, aud := range claims.RegisteredClaims.Audience {
			if aud == accepted {
				return nil
			}
		}
	}

	return errors.Wrap(jwt.ErrTokenInvalidAudience, ErrTokenMalformed.Category, ErrTokenMalformed.Message).
		WithTextCode(ErrTokenMalformed.TextCode)
}

func ensureTokenID(claims *jwt.RegisteredClaims) {
	if claims.ID == "" {
		claims.ID = uuid.NewString()
	}
}
