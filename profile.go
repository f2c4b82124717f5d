package identity

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// ProfileResolver shapes the claim set issued into tokens for a resolved
// user. Which claim groups are emitted is gated by the store capability
// flags; the order is fixed so issued tokens are deterministic: subject,
// username, email (+verified), phone (+verified), stored claims, role claims.
type ProfileResolver struct {
	store  UserStore
	caps   StoreCapabilities
	logger Logger
}

// NewProfileResolver builds a resolver over the given store.
func NewProfileResolver(store UserStore, caps StoreCapabilities) *ProfileResolver {
	return &ProfileResolver{
		store:  store,
		caps:   caps,
		logger: defLogger{},
	}
}

// WithLogger overrides the resolver logger.
func (r *ProfileResolver) WithLogger(l Logger) *ProfileResolver {
	if l != nil {
		r.logger = l
	}
	return r
}

// IssuedClaims loads the subject and returns its claim set, intersected with
// the requested claim types when any are given.
func (r *ProfileResolver) IssuedClaims(ctx context.Context, subjectID string, requestedTypes []string) ([]Claim, error) {
	id, err := uuid.Parse(subjectID)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid subject identifier")
	}

	user, err := r.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	claims := r.ClaimsFromAccount(user)
	if len(requestedTypes) == 0 {
		return claims, nil
	}

	requested := make(map[string]struct{}, len(requestedTypes))
	for _, t := range requestedTypes {
		requested[t] = struct{}{}
	}

	filtered := make([]Claim, 0, len(claims))
	for _, claim := range claims {
		if _, ok := requested[claim.Type]; ok {
			filtered = append(filtered, claim)
		}
	}

	return filtered, nil
}

// ClaimsFromAccount builds the full, ordered claim set for a user.
func (r *ProfileResolver) ClaimsFromAccount(user *User) []Claim {
	claims := []Claim{
		{Type: ClaimSubject, Value: user.ID.String()},
		{Type: ClaimPreferredUsername, Value: user.Username},
	}

	if r.caps.Email && user.Email != nil && user.Email.Value != "" {
		claims = append(claims,
			Claim{Type: ClaimEmail, Value: user.Email.Value},
			Claim{Type: ClaimEmailVerified, Value: boolClaim(user.Email.IsConfirmed())},
		)
	}

	if r.caps.PhoneNumber && user.PhoneNumber != nil && user.PhoneNumber.Value != "" {
		claims = append(claims,
			Claim{Type: ClaimPhoneNumber, Value: user.PhoneNumber.Value},
			Claim{Type: ClaimPhoneNumberVerified, Value: boolClaim(user.PhoneNumber.IsConfirmed())},
		)
	}

	if r.caps.UserClaims {
		for _, claim := range user.Claims {
			if claim.Type == ClaimRole {
				continue
			}
			claims = append(claims, claim)
		}
	}

	if r.caps.Roles {
		for _, claim := range user.Claims {
			if claim.Type == ClaimRole {
				claims = append(claims, claim)
			}
		}
	}

	return claims
}

func boolClaim(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
