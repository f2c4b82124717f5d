package identity_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	identity "github.com/veridian/go-identity"
)

func seedLocalUser(t *testing.T, username, password string) *identity.User {
	t.Helper()

	user, err := identity.NewUser(username, identity.WithEmail(username+"@example.com"))
	require.NoError(t, err)

	hash, err := identity.HashPassword(password)
	require.NoError(t, err)
	user.SetPasswordHash(hash)

	return user
}

func TestAuthenticateLocalSuccess(t *testing.T) {
	user := seedLocalUser(t, "alice", "correct-horse")
	user.AccessFailedCount = 2
	store := newMemoryUserStore(user)

	auth := identity.NewAuthenticator(store, newTestConfig())

	result, err := auth.AuthenticateLocal(context.Background(), "Alice", "correct-horse")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.Failed())

	assert.Equal(t, user.ID.String(), result.SubjectID)
	assert.Equal(t, "alice", result.Username)
	require.Len(t, result.Claims, 1)
	assert.Equal(t, identity.ClaimSecurityStamp, result.Claims[0].Type)
	assert.Equal(t, user.SecurityStamp, result.Claims[0].Value)

	saved, err := store.FindByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Zero(t, saved.AccessFailedCount, "successful login resets the failure counter")
}

func TestAuthenticateLocalUnknownUser(t *testing.T) {
	auth := identity.NewAuthenticator(newMemoryUserStore(), newTestConfig())

	result, err := auth.AuthenticateLocal(context.Background(), "ghost", "whatever")
	require.NoError(t, err)
	assert.Nil(t, result, "unknown user must be indistinguishable from wrong password")
}

func TestAuthenticateLocalWrongPassword(t *testing.T) {
	user := seedLocalUser(t, "alice", "correct-horse")
	store := newMemoryUserStore(user)

	auth := identity.NewAuthenticator(store, newTestConfig())

	result, err := auth.AuthenticateLocal(context.Background(), "alice", "battery-staple")
	require.NoError(t, err)
	assert.Nil(t, result)

	saved, err := store.FindByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, saved.AccessFailedCount)
}

func TestAuthenticateLocalLockedOut(t *testing.T) {
	user := seedLocalUser(t, "alice", "correct-horse")
	user.LockUntil(time.Now().Add(time.Hour))
	store := newMemoryUserStore(user)

	auth := identity.NewAuthenticator(store, newTestConfig())

	result, err := auth.AuthenticateLocal(context.Background(), "alice", "correct-horse")
	require.NoError(t, err)
	assert.Nil(t, result, "a locked account must fail even with the right password")
}

func TestAuthenticateLocalLockedOutLogsAccount(t *testing.T) {
	user := seedLocalUser(t, "alice", "correct-horse")
	user.LockUntil(time.Now().Add(time.Hour))
	store := newMemoryUserStore(user)

	logs := &captureLogger{}
	auth := identity.NewAuthenticator(store, newTestConfig()).WithLogger(logs)

	result, err := auth.AuthenticateLocal(context.Background(), "alice", "correct-horse")
	require.NoError(t, err)
	require.Nil(t, result)

	lines := logs.lines()
	require.NotEmpty(t, lines)
	assert.Contains(t, lines[0], user.ID.String())
	assert.NotContains(t, lines[0], "%!", "log args must be consumed by the format string")
}

func TestAuthenticateLocalOpensLockout(t *testing.T) {
	user := seedLocalUser(t, "alice", "correct-horse")
	store := newMemoryUserStore(user)

	auth := identity.NewAuthenticator(store, newTestConfig()).
		WithLockoutPolicy(identity.LockoutPolicy{MaxAccessFailedCount: 2, LockoutWindow: time.Hour})

	for i := 0; i < 2; i++ {
		result, err := auth.AuthenticateLocal(context.Background(), "alice", "wrong")
		require.NoError(t, err)
		assert.Nil(t, result)
	}

	saved, err := store.FindByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.True(t, saved.IsLockedOut(time.Now()))

	result, err := auth.AuthenticateLocal(context.Background(), "alice", "correct-horse")
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestLoginIssuesToken(t *testing.T) {
	user := seedLocalUser(t, "alice", "correct-horse")
	store := newMemoryUserStore(user)

	auth := identity.NewAuthenticator(store, newTestConfig())

	token, err := auth.Login(context.Background(), "alice", "correct-horse", "orders.read")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := auth.TokenService().Validate(token)
	require.NoError(t, err)

	assert.Equal(t, user.ID.String(), claims.Subject())
	assert.Equal(t, "alice", claims.Username())
	assert.Equal(t, user.SecurityStamp, claims.SecurityStamp())
	assert.True(t, claims.HasScope("orders.read"))
}

func TestLoginWrongPassword(t *testing.T) {
	user := seedLocalUser(t, "alice", "correct-horse")
	auth := identity.NewAuthenticator(newMemoryUserStore(user), newTestConfig())

	_, err := auth.Login(context.Background(), "alice", "wrong")
	assert.ErrorIs(t, err, identity.ErrMismatchedHashAndPassword)
}

func TestIsActive(t *testing.T) {
	user := seedLocalUser(t, "alice", "correct-horse")
	store := newMemoryUserStore(user)
	auth := identity.NewAuthenticator(store, newTestConfig())

	ctx := context.Background()

	t.Run("active user with matching stamp", func(t *testing.T) {
		active, err := auth.IsActive(ctx, user.ID.String(), user.SecurityStamp)
		require.NoError(t, err)
		assert.True(t, active)
	})

	t.Run("stamp mismatch", func(t *testing.T) {
		active, err := auth.IsActive(ctx, user.ID.String(), "rotated-away")
		require.NoError(t, err)
		assert.False(t, active)
	})

	t.Run("token without stamp skips the check", func(t *testing.T) {
		active, err := auth.IsActive(ctx, user.ID.String(), "")
		require.NoError(t, err)
		assert.True(t, active)
	})

	t.Run("unknown subject", func(t *testing.T) {
		active, err := auth.IsActive(ctx, "11111111-2222-3333-4444-555555555555", "")
		require.NoError(t, err)
		assert.False(t, active)
	})

	t.Run("garbage subject", func(t *testing.T) {
		active, err := auth.IsActive(ctx, "not-a-uuid", "")
		require.NoError(t, err)
		assert.False(t, active)
	})

	t.Run("deleted user", func(t *testing.T) {
		deleted := seedLocalUser(t, "bob", "pw-eight-chars")
		deletedStore := newMemoryUserStore(deleted)
		require.NoError(t, deletedStore.Delete(ctx, deleted))

		deletedAuth := identity.NewAuthenticator(deletedStore, newTestConfig())
		active, err := deletedAuth.IsActive(ctx, deleted.ID.String(), "")
		require.NoError(t, err)
		assert.False(t, active)
	})
}

func TestIsActiveStampCheckDisabled(t *testing.T) {
	user := seedLocalUser(t, "alice", "correct-horse")
	store := newMemoryUserStore(user)

	caps := identity.DefaultStoreCapabilities()
	caps.SecurityStamp = false

	auth := identity.NewAuthenticator(store, newTestConfig()).WithCapabilities(caps)

	active, err := auth.IsActive(context.Background(), user.ID.String(), "rotated-away")
	require.NoError(t, err)
	assert.True(t, active, "stamp mismatch is ignored when the capability is off")

	result, err := auth.AuthenticateLocal(context.Background(), "alice", "correct-horse")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Empty(t, result.Claims, "no stamp claim is issued when the capability is off")
}
