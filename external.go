package identity

import (
	"context"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// ExternalIdentity describes a sign-in asserted by an upstream provider:
// which provider, the provider's stable key for the subject, and the claims
// the provider handed back.
type ExternalIdentity struct {
	Provider    string
	ProviderKey string
	DisplayName string
	Claims      []Claim
}

// AuthenticateExternal reconciles an external provider sign-in into a local
// account. A known (provider, key) pair signs in directly. Otherwise the
// account resolver may match an existing account; failing that a placeholder
// account is provisioned. Either way the provider login is linked and the
// incoming claims are merged. Store rejections during provisioning come back
// as a result carrying an AuthFailure rather than an error, so callers can
// surface them as a login failure instead of a server fault.
func (s *Authenticator) AuthenticateExternal(ctx context.Context, ext ExternalIdentity) (*AuthResult, error) {
	if ext.Provider == "" || ext.ProviderKey == "" {
		return nil, goerrors.New("external identity requires provider and provider key", goerrors.CategoryValidation).
			WithCode(goerrors.CodeBadRequest)
	}

	user, err := s.store.FindByLogin(ctx, ext.Provider, ext.ProviderKey)
	switch {
	case err == nil:
		return s.externalResult(user, ext.Provider), nil
	case !IsNotFound(err):
		return nil, err
	}

	// First time we see this (provider, key) pair.
	user, err = s.accounts.FindExistingAccount(ctx, ext.Provider, ext.Claims)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "account resolver failed")
	}

	created := false
	if user == nil {
		user, err = provisionExternalUser()
		if err != nil {
			return nil, err
		}
		if err := s.store.Create(ctx, user); err != nil {
			return failureResult(err), nil
		}
		created = true
	}

	if err := user.AddLogin(Login{
		Provider:    ext.Provider,
		ProviderKey: ext.ProviderKey,
		DisplayName: ext.DisplayName,
	}); err != nil {
		return failureResult(err), nil
	}

	s.mergeExternalClaims(user, ext.Claims)

	if err := s.store.Update(ctx, user); err != nil {
		if IsUpdateConflict(err) || IsDuplicateKey(err) {
			return failureResult(err), nil
		}
		return nil, err
	}

	if created {
		s.logger.Info("provisioned account %s for external login via %s", user.ID.String(), ext.Provider)
	}

	return s.externalResult(user, ext.Provider), nil
}

// LoginExternal reconciles an external sign-in and signs a token for the
// resulting account.
func (s *Authenticator) LoginExternal(ctx context.Context, ext ExternalIdentity, scopes ...string) (string, error) {
	result, err := s.AuthenticateExternal(ctx, ext)
	if err != nil {
		return "", err
	}
	if result == nil {
		return "", ErrMismatchedHashAndPassword
	}
	if result.Failed() {
		return "", goerrors.New(result.Failure.Description, goerrors.CategoryAuth).
			WithTextCode(result.Failure.Code)
	}

	user, err := s.store.FindByLogin(ctx, ext.Provider, ext.ProviderKey)
	if err != nil {
		return "", err
	}

	issued := append(s.resolver.ClaimsFromAccount(user), result.Claims...)
	return s.tokens.Generate(user, issued, scopes...)
}

// mergeExternalClaims folds provider claims into the account. Email and
// phone claims fill empty contact slots, with the matching verified claim
// confirming the record immediately; consumed claims never land in the
// generic claim list. Everything else is added unless an equal claim is
// already present.
func (s *Authenticator) mergeExternalClaims(user *User, incoming []Claim) {
	incoming = applyEmailClaim(user, incoming)
	incoming = applyPhoneClaim(user, incoming)

	for _, claim := range incoming {
		if !user.HasClaim(claim) {
			user.AddClaim(claim)
		}
	}
}

func applyEmailClaim(user *User, claims []Claim) []Claim {
	email, ok := findClaim(claims, ClaimEmail)
	if !ok || user.Email != nil {
		return claims
	}

	if err := user.SetEmail(email.Value); err != nil {
		return claims
	}

	if verified, ok := findClaim(claims, ClaimEmailVerified); ok && strings.EqualFold(verified.Value, "true") {
		_ = user.ConfirmEmail()
	}

	return stripClaimTypes(claims, ClaimEmail, ClaimEmailVerified)
}

func applyPhoneClaim(user *User, claims []Claim) []Claim {
	phone, ok := findClaim(claims, ClaimPhoneNumber)
	if !ok || user.PhoneNumber != nil {
		return claims
	}

	if err := user.SetPhoneNumber(phone.Value); err != nil {
		return claims
	}

	if verified, ok := findClaim(claims, ClaimPhoneNumberVerified); ok && strings.EqualFold(verified.Value, "true") {
		_ = user.ConfirmPhoneNumber()
	}

	return stripClaimTypes(claims, ClaimPhoneNumber, ClaimPhoneNumberVerified)
}

func findClaim(claims []Claim, claimType string) (Claim, bool) {
	for _, claim := range claims {
		if strings.EqualFold(claim.Type, claimType) {
			return claim, true
		}
	}
	return Claim{}, false
}

func stripClaimTypes(claims []Claim, types ...string) []Claim {
	kept := make([]Claim, 0, len(claims))
	for _, claim := range claims {
		drop := false
		for _, t := range types {
			if strings.EqualFold(claim.Type, t) {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, claim)
		}
	}
	return kept
}

// provisionExternalUser builds a placeholder account for a provider subject
// we have never seen. The username is an opaque random handle and the
// password hash is random, so the account only opens through the provider.
func provisionExternalUser() (*User, error) {
	handle := strings.ReplaceAll(uuid.NewString(), "-", "")
	user, err := NewUser(handle)
	if err != nil {
		return nil, err
	}
	user.SetPasswordHash(RandomPasswordHash())
	return user, nil
}

func (s *Authenticator) externalResult(user *User, provider string) *AuthResult {
	return &AuthResult{
		SubjectID: user.ID.String(),
		Username:  user.Username,
		Provider:  provider,
		Claims:    s.resultClaims(user),
	}
}

func failureResult(err error) *AuthResult {
	failure := &AuthFailure{Code: "STORE_ERROR", Description: err.Error()}

	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		failure.Description = rich.Message
		if rich.TextCode != "" {
			failure.Code = rich.TextCode
		}
	}

	return &AuthResult{Failure: failure}
}
