package identity

import (
	"strings"
	"time"

	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"
	"github.com/uptrace/bun"
)

// ContactKind discriminates contact records.
type ContactKind = string

const (
	ContactEmail ContactKind = "email"
	ContactPhone ContactKind = "phone"
)

// ContactRecord wraps a contact value (email address or phone number) together
// with its optional confirmation timestamp. Equality on the value is
// case-insensitive.
type ContactRecord struct {
	Kind        ContactKind `json:"kind"`
	Value       string      `json:"value"`
	ConfirmedAt *time.Time  `json:"confirmed_at,omitempty"`
}

// NewEmailRecord creates an unconfirmed email contact record.
func NewEmailRecord(value string) *ContactRecord {
	return &ContactRecord{Kind: ContactEmail, Value: strings.TrimSpace(value)}
}

// NewPhoneRecord creates an unconfirmed phone contact record. The value is
// normalized to E.164 when it parses as a phone number, otherwise stored as
// given.
func NewPhoneRecord(value string) *ContactRecord {
	return &ContactRecord{Kind: ContactPhone, Value: NormalizePhoneNumber(value)}
}

// NormalizePhoneNumber formats a phone number as E.164 when possible.
func NormalizePhoneNumber(value string) string {
	value = strings.TrimSpace(value)
	num, err := phonenumbers.Parse(value, "")
	if err != nil {
		return value
	}
	return phonenumbers.Format(num, phonenumbers.E164)
}

// IsConfirmed reports whether the contact value has been confirmed.
func (c *ContactRecord) IsConfirmed() bool {
	return c != nil && c.ConfirmedAt != nil
}

// Confirm records the confirmation timestamp. Confirming an already confirmed
// record keeps the original timestamp.
func (c *ContactRecord) Confirm(at time.Time) {
	if c == nil || c.ConfirmedAt != nil {
		return
	}
	c.ConfirmedAt = &at
}

// Unconfirm clears the confirmation record.
func (c *ContactRecord) Unconfirm() {
	if c != nil {
		c.ConfirmedAt = nil
	}
}

// Equals compares two contact records case-insensitively on their values.
func (c *ContactRecord) Equals(other *ContactRecord) bool {
	if c == nil || other == nil {
		return false
	}
	return c.EqualsValue(other.Value)
}

// EqualsValue compares the record against a raw value, case-insensitively.
func (c *ContactRecord) EqualsValue(value string) bool {
	return c != nil && strings.EqualFold(c.Value, value)
}

// Claim is a (type, value) assertion about a user.
type Claim struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Equals compares two claims case-insensitively on both type and value.
func (c Claim) Equals(other Claim) bool {
	return strings.EqualFold(c.Type, other.Type) && strings.EqualFold(c.Value, other.Value)
}

// Login binds an external provider identity to a local user.
type Login struct {
	Provider    string `json:"provider"`
	ProviderKey string `json:"provider_key"`
	DisplayName string `json:"display_name,omitempty"`
}

// Matches reports whether the login refers to the given provider identity.
// Provider comparison is case-insensitive, the key is matched exactly.
func (l Login) Matches(provider, providerKey string) bool {
	return strings.EqualFold(l.Provider, provider) && l.ProviderKey == providerKey
}

// User is the persisted credential record. Claims and Logins live in child
// tables managed by the store; on the model they are plain value collections
// mutated only through the named operations below.
type User struct {
	bun.BaseModel `bun:"table:users,alias:usr"`

	ID                 uuid.UUID      `bun:"id,pk,type:uuid" json:"id"`
	Username           string         `bun:"username,notnull" json:"username"`
	NormalizedUsername string         `bun:"normalized_username,notnull,unique" json:"normalized_username"`
	Email              *ContactRecord `bun:"email,type:jsonb" json:"email,omitempty"`
	PhoneNumber        *ContactRecord `bun:"phone_number,type:jsonb" json:"phone_number,omitempty"`
	PasswordHash       string         `bun:"password_hash" json:"-"`
	SecurityStamp      string         `bun:"security_stamp" json:"-"`
	TwoFactorEnabled   bool           `bun:"is_two_factor_enabled" json:"is_two_factor_enabled,omitempty"`
	AccessFailedCount  int            `bun:"access_failed_count" json:"access_failed_count,omitempty"`
	LockoutEndsAt      *time.Time     `bun:"lockout_ends_at,nullzero" json:"lockout_ends_at,omitempty"`
	Claims             []Claim        `bun:"-" json:"claims,omitempty"`
	Logins             []Login        `bun:"-" json:"logins,omitempty"`
	CreatedAt          time.Time      `bun:"created_at,notnull" json:"created_at"`
	DeletedAt          *time.Time     `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// UserOption mutates a user during construction.
type UserOption func(*User) error

// WithEmail sets the initial, unconfirmed email contact record.
func WithEmail(email string) UserOption {
	return func(u *User) error {
		if strings.TrimSpace(email) == "" {
			return ErrNoEmptyString
		}
		u.Email = NewEmailRecord(email)
		return nil
	}
}

// WithPhoneNumber sets the initial, unconfirmed phone contact record.
func WithPhoneNumber(phone string) UserOption {
	return func(u *User) error {
		if strings.TrimSpace(phone) == "" {
			return ErrNoEmptyString
		}
		u.PhoneNumber = NewPhoneRecord(phone)
		return nil
	}
}

// NewUser creates a user with a deterministic id derived from the normalized
// username. Two concurrent signups with the same-cased username will collide
// on the primary key at insert time and surface as a duplicate key error from
// the store; callers that want a friendlier failure can probe with
// FindByNormalizedName first, accepting the remaining race.
func NewUser(username string, opts ...UserOption) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrNoEmptyString
	}

	normalized := NormalizeUsername(username)
	id, err := hashid.NewUUID(normalized)
	if err != nil {
		return nil, err
	}

	u := &User{
		ID:                 id,
		Username:           username,
		NormalizedUsername: normalized,
		SecurityStamp:      uuid.NewString(),
		CreatedAt:          time.Now(),
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(u); err != nil {
			return nil, err
		}
	}

	return u, nil
}

// NormalizeUsername lowercases a username for storage and lookup.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// SetUsername always fails: the username is fixed at creation because the
// primary key is derived from it.
func (u *User) SetUsername(string) error {
	return ErrUsernameImmutable
}

// IsDeleted reports whether the user has been soft deleted.
func (u *User) IsDeleted() bool {
	return u.DeletedAt != nil
}

// Delete marks the user as soft deleted. Deleting twice fails.
func (u *User) Delete() error {
	if u.DeletedAt != nil {
		return ErrUserAlreadyDeleted
	}
	now := time.Now()
	u.DeletedAt = &now
	return nil
}

// SetEmail replaces the email contact record with a new, unconfirmed one and
// rotates the security stamp.
func (u *User) SetEmail(email string) error {
	if strings.TrimSpace(email) == "" {
		return ErrNoEmptyString
	}
	u.Email = NewEmailRecord(email)
	u.RotateSecurityStamp()
	return nil
}

// ConfirmEmail records the email confirmation. Idempotent.
func (u *User) ConfirmEmail() error {
	if u.Email == nil {
		return ErrNoContactRecord
	}
	u.Email.Confirm(time.Now())
	return nil
}

// SetPhoneNumber replaces the phone contact record with a new, unconfirmed
// one and rotates the security stamp.
func (u *User) SetPhoneNumber(phone string) error {
	if strings.TrimSpace(phone) == "" {
		return ErrNoEmptyString
	}
	u.PhoneNumber = NewPhoneRecord(phone)
	u.RotateSecurityStamp()
	return nil
}

// ConfirmPhoneNumber records the phone confirmation. Idempotent.
func (u *User) ConfirmPhoneNumber() error {
	if u.PhoneNumber == nil {
		return ErrNoContactRecord
	}
	u.PhoneNumber.Confirm(time.Now())
	return nil
}

// SetPasswordHash stores a new password hash and rotates the security stamp,
// invalidating previously issued tokens via the is-active check.
func (u *User) SetPasswordHash(hash string) {
	u.PasswordHash = hash
	u.RotateSecurityStamp()
}

// RotateSecurityStamp issues a fresh security stamp.
func (u *User) RotateSecurityStamp() {
	u.SecurityStamp = uuid.NewString()
}

// AddClaim appends a claim. Duplicates are permitted; callers that want a
// unique set check with HasClaim first.
func (u *User) AddClaim(claim Claim) {
	u.Claims = append(u.Claims, claim)
}

// RemoveClaim removes every claim matching case-insensitively on type and
// value.
func (u *User) RemoveClaim(claim Claim) {
	kept := u.Claims[:0]
	for _, c := range u.Claims {
		if !c.Equals(claim) {
			kept = append(kept, c)
		}
	}
	u.Claims = kept
}

// HasClaim reports whether a matching claim is present.
func (u *User) HasClaim(claim Claim) bool {
	for _, c := range u.Claims {
		if c.Equals(claim) {
			return true
		}
	}
	return false
}

// AddLogin binds an external login and rotates the security stamp. Fails if
// the same (provider, key) binding already exists.
func (u *User) AddLogin(login Login) error {
	for _, l := range u.Logins {
		if l.Matches(login.Provider, login.ProviderKey) {
			return ErrLoginAlreadyExists
		}
	}
	u.Logins = append(u.Logins, login)
	u.RotateSecurityStamp()
	return nil
}

// RemoveLogin unbinds an external login and rotates the security stamp.
func (u *User) RemoveLogin(provider, providerKey string) {
	kept := u.Logins[:0]
	removed := false
	for _, l := range u.Logins {
		if l.Matches(provider, providerKey) {
			removed = true
			continue
		}
		kept = append(kept, l)
	}
	u.Logins = kept
	if removed {
		u.RotateSecurityStamp()
	}
}

// FindLogin returns the login bound to (provider, key), if any.
func (u *User) FindLogin(provider, providerKey string) (Login, bool) {
	for _, l := range u.Logins {
		if l.Matches(provider, providerKey) {
			return l, true
		}
	}
	return Login{}, false
}

// IsLockedOut reports whether the lockout window is still open at the given
// instant.
func (u *User) IsLockedOut(now time.Time) bool {
	return u.LockoutEndsAt != nil && now.Before(*u.LockoutEndsAt)
}

// LockUntil opens a lockout window ending at the given instant.
func (u *User) LockUntil(until time.Time) {
	u.LockoutEndsAt = &until
}

// IncrementAccessFailedCount bumps the failure counter and, once the policy
// maximum is reached, opens a lockout window and resets the counter. The
// read-modify-write is not atomic: concurrent failed logins from different
// connections can under- or over-count.
func (u *User) IncrementAccessFailedCount(policy LockoutPolicy) int {
	u.AccessFailedCount++
	if policy.MaxAccessFailedCount > 0 && u.AccessFailedCount >= policy.MaxAccessFailedCount {
		u.LockUntil(time.Now().Add(policy.LockoutWindow))
		u.AccessFailedCount = 0
	}
	return u.AccessFailedCount
}

// ResetAccessFailedCount clears the failure counter after a successful login.
func (u *User) ResetAccessFailedCount() {
	u.AccessFailedCount = 0
}
