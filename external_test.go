package identity_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	identity "github.com/veridian/go-identity"
)

func googleIdentity() identity.ExternalIdentity {
	return identity.ExternalIdentity{
		Provider:    "google",
		ProviderKey: "g-123",
		DisplayName: "Google",
		Claims: []identity.Claim{
			{Type: identity.ClaimEmail, Value: "alice@example.com"},
			{Type: identity.ClaimEmailVerified, Value: "true"},
			{Type: "locale", Value: "en"},
		},
	}
}

func TestAuthenticateExternalProvisionsAccount(t *testing.T) {
	store := newMemoryUserStore()
	auth := identity.NewAuthenticator(store, newTestConfig())

	ctx := context.Background()

	result, err := auth.AuthenticateExternal(ctx, googleIdentity())
	require.NoError(t, err)
	require.NotNil(t, result)
	require.False(t, result.Failed())
	assert.Equal(t, "google", result.Provider)

	user, err := store.FindByLogin(ctx, "google", "g-123")
	require.NoError(t, err)
	assert.Equal(t, user.ID.String(), result.SubjectID)

	// Verified email claim fills the contact slot, confirmed immediately,
	// and never lands in the generic claim list.
	require.NotNil(t, user.Email)
	assert.Equal(t, "alice@example.com", user.Email.Value)
	assert.True(t, user.Email.IsConfirmed())
	assert.False(t, user.HasClaim(identity.Claim{Type: identity.ClaimEmail, Value: "alice@example.com"}))
	assert.False(t, user.HasClaim(identity.Claim{Type: identity.ClaimEmailVerified, Value: "true"}))

	assert.True(t, user.HasClaim(identity.Claim{Type: "locale", Value: "en"}))

	login, ok := user.FindLogin("google", "g-123")
	require.True(t, ok)
	assert.Equal(t, "Google", login.DisplayName)

	// Placeholder accounts get a random hash, never an empty one, so the
	// provider login is the only way in.
	require.NotEmpty(t, user.PasswordHash)
	assert.Error(t, identity.ComparePasswordAndHash("", user.PasswordHash))
}

func TestAuthenticateExternalSecondLoginReusesAccount(t *testing.T) {
	store := newMemoryUserStore()
	auth := identity.NewAuthenticator(store, newTestConfig())

	ctx := context.Background()

	first, err := auth.AuthenticateExternal(ctx, googleIdentity())
	require.NoError(t, err)

	second, err := auth.AuthenticateExternal(ctx, googleIdentity())
	require.NoError(t, err)

	assert.Equal(t, first.SubjectID, second.SubjectID, "the same provider key must map to one account")

	user, err := store.FindByLogin(ctx, "google", "g-123")
	require.NoError(t, err)
	assert.Len(t, user.Logins, 1)
}

func TestAuthenticateExternalUnverifiedEmailStaysUnconfirmed(t *testing.T) {
	store := newMemoryUserStore()
	auth := identity.NewAuthenticator(store, newTestConfig())

	ext := googleIdentity()
	ext.Claims = []identity.Claim{
		{Type: identity.ClaimEmail, Value: "alice@example.com"},
		{Type: identity.ClaimEmailVerified, Value: "false"},
	}

	_, err := auth.AuthenticateExternal(context.Background(), ext)
	require.NoError(t, err)

	user, err := store.FindByLogin(context.Background(), "google", "g-123")
	require.NoError(t, err)
	require.NotNil(t, user.Email)
	assert.False(t, user.Email.IsConfirmed())
}

func TestAuthenticateExternalPhoneClaim(t *testing.T) {
	store := newMemoryUserStore()
	auth := identity.NewAuthenticator(store, newTestConfig())

	ext := identity.ExternalIdentity{
		Provider:    "github",
		ProviderKey: "gh-9",
		Claims: []identity.Claim{
			{Type: identity.ClaimPhoneNumber, Value: "+1 650 253 0000"},
			{Type: identity.ClaimPhoneNumberVerified, Value: "true"},
		},
	}

	_, err := auth.AuthenticateExternal(context.Background(), ext)
	require.NoError(t, err)

	user, err := store.FindByLogin(context.Background(), "github", "gh-9")
	require.NoError(t, err)
	require.NotNil(t, user.PhoneNumber)
	assert.Equal(t, "+16502530000", user.PhoneNumber.Value)
	assert.True(t, user.PhoneNumber.IsConfirmed())
}

func TestAuthenticateExternalExistingEmailKept(t *testing.T) {
	existing := seedLocalUser(t, "alice", "correct-horse")
	store := newMemoryUserStore(existing)

	auth := identity.NewAuthenticator(store, newTestConfig()).
		WithAccountResolver(fixedAccountResolver{user: existing})

	ext := googleIdentity()
	ext.Claims = []identity.Claim{
		{Type: identity.ClaimEmail, Value: "other@example.com"},
	}

	result, err := auth.AuthenticateExternal(context.Background(), ext)
	require.NoError(t, err)
	assert.Equal(t, existing.ID.String(), result.SubjectID)

	user, err := store.FindByID(context.Background(), existing.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Email.Value, "an existing email is never overwritten")
	assert.True(t, user.HasClaim(identity.Claim{Type: identity.ClaimEmail, Value: "other@example.com"}),
		"the unconsumed email claim falls through to the claim merge")
}

type fixedAccountResolver struct {
	user *identity.User
}

func (r fixedAccountResolver) FindExistingAccount(context.Context, string, []identity.Claim) (*identity.User, error) {
	return r.user, nil
}

func TestAuthenticateExternalAccountResolverLinks(t *testing.T) {
	existing := seedLocalUser(t, "alice", "correct-horse")
	store := newMemoryUserStore(existing)

	auth := identity.NewAuthenticator(store, newTestConfig()).
		WithAccountResolver(fixedAccountResolver{user: existing})

	result, err := auth.AuthenticateExternal(context.Background(), googleIdentity())
	require.NoError(t, err)
	assert.Equal(t, existing.ID.String(), result.SubjectID)

	user, err := store.FindByID(context.Background(), existing.ID)
	require.NoError(t, err)
	_, ok := user.FindLogin("google", "g-123")
	assert.True(t, ok, "the resolved account gets the provider login linked")
}

func TestAuthenticateExternalStoreFailureBecomesAuthFailure(t *testing.T) {
	store := newMemoryUserStore()
	store.failCreate = identity.ErrDuplicateKey

	auth := identity.NewAuthenticator(store, newTestConfig())

	result, err := auth.AuthenticateExternal(context.Background(), googleIdentity())
	require.NoError(t, err, "store rejections surface in the result, not as errors")
	require.NotNil(t, result)
	require.True(t, result.Failed())
	assert.Equal(t, identity.ErrDuplicateKey.TextCode, result.Failure.Code)
	assert.NotEmpty(t, result.Failure.Description)
}

func TestAuthenticateExternalRequiresProviderAndKey(t *testing.T) {
	auth := identity.NewAuthenticator(newMemoryUserStore(), newTestConfig())

	_, err := auth.AuthenticateExternal(context.Background(), identity.ExternalIdentity{Provider: "google"})
	assert.Error(t, err)

	_, err = auth.AuthenticateExternal(context.Background(), identity.ExternalIdentity{ProviderKey: "g-123"})
	assert.Error(t, err)
}

func TestLoginExternalIssuesToken(t *testing.T) {
	store := newMemoryUserStore()
	auth := identity.NewAuthenticator(store, newTestConfig())

	token, err := auth.LoginExternal(context.Background(), googleIdentity(), "profile")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := auth.TokenService().Validate(token)
	require.NoError(t, err)
	assert.True(t, claims.HasScope("profile"))

	user, err := store.FindByLogin(context.Background(), "google", "g-123")
	require.NoError(t, err)
	assert.Equal(t, user.ID.String(), claims.Subject())
}
