package identity

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// AuthFailure carries the store's code and description when provisioning
// fails during an authentication attempt.
type AuthFailure struct {
	Code        string
	Description string
}

// AuthResult is the outcome of a successful (or failed-with-reason)
// authentication attempt. A nil result means the attempt simply did not
// authenticate: wrong password, unknown user, or active lockout. Callers must
// treat absence of a result as authentication failure and check Failed
// before trusting a present one.
type AuthResult struct {
	SubjectID string
	Username  string
	// Provider is set for external sign-ins.
	Provider string
	Claims   []Claim
	Failure  *AuthFailure
}

// Failed reports whether the result carries a provisioning failure.
func (r *AuthResult) Failed() bool {
	return r != nil && r.Failure != nil
}

// Authenticator validates local password logins, reconciles external
// provider logins into local accounts, and answers the is-active check used
// to invalidate already issued tokens.
type Authenticator struct {
	store    UserStore
	resolver *ProfileResolver
	tokens   TokenService
	accounts AccountResolver
	lockout  LockoutPolicy
	caps     StoreCapabilities
	logger   Logger
}

// NewAuthenticator returns a new Authenticator over the given store.
func NewAuthenticator(store UserStore, cfg Config) *Authenticator {
	caps := DefaultStoreCapabilities()

	tokenOpts := []TokenServiceOption{}
	if cfg.GetValidateAudience() {
		tokenOpts = append(tokenOpts, WithAudienceValidation())
	}

	return &Authenticator{
		store:    store,
		caps:     caps,
		resolver: NewProfileResolver(store, caps),
		tokens: NewTokenService(
			[]byte(cfg.GetSigningKey()),
			cfg.GetTokenExpiration(),
			cfg.GetIssuer(),
			cfg.GetAudience(),
			defLogger{},
			tokenOpts...,
		),
		accounts: noopAccountResolver{},
		lockout:  DefaultLockoutPolicy(),
		logger:   defLogger{},
	}
}

// WithLogger overrides the service logger.
func (s *Authenticator) WithLogger(l Logger) *Authenticator {
	if l != nil {
		s.logger = l
		s.resolver.WithLogger(l)
	}
	return s
}

// WithLockoutPolicy overrides the lockout policy.
func (s *Authenticator) WithLockoutPolicy(policy LockoutPolicy) *Authenticator {
	s.lockout = policy
	return s
}

// WithCapabilities overrides the store capability flags that gate claim
// groups and the security stamp check.
func (s *Authenticator) WithCapabilities(caps StoreCapabilities) *Authenticator {
	s.caps = caps
	s.resolver = NewProfileResolver(s.store, caps).WithLogger(s.logger)
	return s
}

// WithAccountResolver installs the extension point that matches external
// identities to existing local accounts.
func (s *Authenticator) WithAccountResolver(resolver AccountResolver) *Authenticator {
	if resolver != nil {
		s.accounts = resolver
	}
	return s
}

// WithTokenService overrides the token service.
func (s *Authenticator) WithTokenService(tokens TokenService) *Authenticator {
	if tokens != nil {
		s.tokens = tokens
	}
	return s
}

// TokenService returns the token service used by this Authenticator.
func (s *Authenticator) TokenService() TokenService {
	return s.tokens
}

// Resolver returns the profile resolver used by this Authenticator.
func (s *Authenticator) Resolver() *ProfileResolver {
	return s.resolver
}

// AuthenticateLocal runs the local password flow. A locked-out account fails
// silently, exactly like a wrong password: the caller learns nothing beyond
// "no result". Failed verifications increment the access-failed counter,
// which may open a lockout window per the configured policy.
func (s *Authenticator) AuthenticateLocal(ctx context.Context, username, password string) (*AuthResult, error) {
	user, err := s.store.FindByNormalizedName(ctx, username)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user during verification")
	}

	if user.IsLockedOut(time.Now()) {
		s.logger.Debug("local auth rejected for locked out account %s", user.ID.String())
		return nil, nil
	}

	if err := ComparePasswordAndHash(password, user.PasswordHash); err != nil {
		user.IncrementAccessFailedCount(s.lockout)
		if uerr := s.store.Update(ctx, user); uerr != nil {
			if !IsUpdateConflict(uerr) {
				return nil, goerrors.Wrap(uerr, goerrors.CategoryInternal, "failed to track login attempt")
			}
			s.logger.Warn("lost race tracking failed login for %s", user.ID.String())
		}
		return nil, nil
	}

	user.ResetAccessFailedCount()
	if uerr := s.store.Update(ctx, user); uerr != nil {
		if !IsUpdateConflict(uerr) {
			return nil, goerrors.Wrap(uerr, goerrors.CategoryInternal, "failed to reset login attempts")
		}
		return nil, nil
	}

	return &AuthResult{
		SubjectID: user.ID.String(),
		Username:  user.Username,
		Claims:    s.resultClaims(user),
	}, nil
}

// Login authenticates locally and signs a token carrying the resolved
// profile claims and the granted scopes.
func (s *Authenticator) Login(ctx context.Context, username, password string, scopes ...string) (string, error) {
	result, err := s.AuthenticateLocal(ctx, username, password)
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

	user, err := s.store.FindByNormalizedName(ctx, username)
	if err != nil {
		return "", err
	}

	issued := append(s.resolver.ClaimsFromAccount(user), result.Claims...)
	return s.tokens.Generate(user, issued, scopes...)
}

// IsActive answers the session validity check for a subject. A missing user
// is inactive. When security stamp checking is enabled and the caller's
// token carries a stamp, a mismatch against the stored stamp (rotated on
// credential changes) makes the session inactive. A token without a stamp
// claim skips the comparison.
func (s *Authenticator) IsActive(ctx context.Context, subjectID, tokenStamp string) (bool, error) {
	id, err := uuid.Parse(subjectID)
	if err != nil {
		return false, nil
	}

	user, err := s.store.FindByID(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}

	if s.caps.SecurityStamp && tokenStamp != "" && user.SecurityStamp != tokenStamp {
		return false, nil
	}

	return true, nil
}

// VerifyIsActive runs the is-active check directly against validated token
// claims.
func (s *Authenticator) VerifyIsActive(ctx context.Context, claims AuthClaims) (bool, error) {
	if claims == nil {
		return false, nil
	}
	return s.IsActive(ctx, claims.Subject(), claims.SecurityStamp())
}

func (s *Authenticator) resultClaims(user *User) []Claim {
	if !s.caps.SecurityStamp || user.SecurityStamp == "" {
		return nil
	}
	return []Claim{{Type: ClaimSecurityStamp, Value: user.SecurityStamp}}
}
