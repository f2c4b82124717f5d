package identity

import (
	"context"
	"database/sql"
	"errors"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// UserStore is the persistence contract for credential records. All lookups
// exclude soft-deleted users. Operations are safe to call concurrently on
// different user ids; updates on the same id race on last-write-wins unless
// the caller coordinates via the security stamp and the update conflict
// result. No cross-record transaction is provided.
type UserStore interface {
	Create(ctx context.Context, user *User) error
	CreateTx(ctx context.Context, tx bun.IDB, user *User) error
	// Update is a full replace of the user row plus its claim and login
	// child rows, guarded by (id, not deleted). A guarded update matching
	// zero rows (concurrent delete, stale id) yields ErrUpdateConflict and
	// leaves the child rows untouched.
	Update(ctx context.Context, user *User) error
	UpdateTx(ctx context.Context, tx bun.IDB, user *User) error
	// Delete marks the in-memory user as deleted (failing when already
	// deleted) and persists only the deletion timestamp via a targeted
	// update keyed by id.
	Delete(ctx context.Context, user *User) error
	DeleteTx(ctx context.Context, tx bun.IDB, user *User) error

	FindByID(ctx context.Context, id uuid.UUID) (*User, error)
	// FindByIDAny bypasses the soft-delete filter so callers can tell a
	// deleted account apart from one that never existed.
	FindByIDAny(ctx context.Context, id uuid.UUID) (*User, error)
	FindByNormalizedName(ctx context.Context, name string) (*User, error)
	FindByLogin(ctx context.Context, provider, providerKey string) (*User, error)
	UsersForClaim(ctx context.Context, claim Claim) ([]*User, error)
}

type userClaimRow struct {
	bun.BaseModel `bun:"table:user_claims,alias:uclm"`

	ID     int64     `bun:"id,pk,autoincrement"`
	UserID uuid.UUID `bun:"user_id,notnull,type:uuid"`
	Type   string    `bun:"claim_type,notnull"`
	Value  string    `bun:"claim_value,notnull"`
}

type userLoginRow struct {
	bun.BaseModel `bun:"table:user_logins,alias:ulgn"`

	ID          int64     `bun:"id,pk,autoincrement"`
	UserID      uuid.UUID `bun:"user_id,notnull,type:uuid"`
	Provider    string    `bun:"login_provider,notnull"`
	ProviderKey string    `bun:"provider_key,notnull"`
	DisplayName string    `bun:"display_name"`
}

type users struct {
	repo   repository.Repository[*User]
	db     *bun.DB
	logger Logger
}

var _ UserStore = (*users)(nil)

// UserStoreOption configures the store.
type UserStoreOption func(*users)

// WithStoreLogger overrides the store logger.
func WithStoreLogger(l Logger) UserStoreOption {
	return func(u *users) {
		if l != nil {
			u.logger = l
		}
	}
}

// NewUserStore builds the bun-backed user store.
func NewUserStore(db *bun.DB, opts ...UserStoreOption) UserStore {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
	})

	store := &users{
		repo:   repo,
		db:     db,
		logger: defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}

	return store
}

func (s *users) Create(ctx context.Context, user *User) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return s.CreateTx(ctx, tx, user)
	})
}

func (s *users) CreateTx(ctx context.Context, tx bun.IDB, user *User) error {
	if user == nil {
		return goerrors.New("user must not be nil", goerrors.CategoryValidation)
	}

	if _, err := s.repo.CreateTx(ctx, tx, user); err != nil {
		if repository.IsConstraintViolation(err) {
			return goerrors.Wrap(err, goerrors.CategoryConflict, ErrDuplicateKey.Message).
				WithTextCode(ErrDuplicateKey.TextCode).
				WithMetadata(map[string]any{"id": user.ID.String()})
		}
		return err
	}

	return s.insertChildRows(ctx, tx, user)
}

func (s *users) Update(ctx context.Context, user *User) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return s.UpdateTx(ctx, tx, user)
	})
}

func (s *users) UpdateTx(ctx context.Context, tx bun.IDB, user *User) error {
	if user == nil {
		return goerrors.New("user must not be nil", goerrors.CategoryValidation)
	}

	res, err := tx.NewUpdate().
		Model(user).
		Column(
			"email",
			"phone_number",
			"password_hash",
			"security_stamp",
			"is_two_factor_enabled",
			"access_failed_count",
			"lockout_ends_at",
		).
		WherePK().
		Where("?TableAlias.deleted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrUpdateConflict
	}

	if err := s.deleteChildRows(ctx, tx, user.ID); err != nil {
		return err
	}

	return s.insertChildRows(ctx, tx, user)
}

func (s *users) Delete(ctx context.Context, user *User) error {
	return s.DeleteTx(ctx, s.db, user)
}

func (s *users) DeleteTx(ctx context.Context, tx bun.IDB, user *User) error {
	if user == nil {
		return goerrors.New("user must not be nil", goerrors.CategoryValidation)
	}

	if err := user.Delete(); err != nil {
		return err
	}

	_, err := tx.NewUpdate().
		Model((*User)(nil)).
		Set("deleted_at = ?", user.DeletedAt).
		Where("?TableAlias.id = ?", user.ID).
		Where("?TableAlias.deleted_at IS NULL").
		Exec(ctx)

	return err
}

func (s *users) FindByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.findOne(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.id = ?", id)
	}, map[string]any{"id": id.String()})
}

func (s *users) FindByIDAny(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.findOne(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.WhereAllWithDeleted().Where("?TableAlias.id = ?", id)
	}, map[string]any{"id": id.String()})
}

func (s *users) FindByNormalizedName(ctx context.Context, name string) (*User, error) {
	normalized := NormalizeUsername(name)
	return s.findOne(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.normalized_username = ?", normalized)
	}, map[string]any{"normalized_username": normalized})
}

func (s *users) FindByLogin(ctx context.Context, provider, providerKey string) (*User, error) {
	row := new(userLoginRow)
	err := s.db.NewSelect().
		Model(row).
		Where("lower(?TableAlias.login_provider) = lower(?)", provider).
		Where("?TableAlias.provider_key = ?", providerKey).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"login_provider": provider,
					"provider_key":   providerKey,
				})
		}
		return nil, err
	}

	// FindByID applies the soft-delete filter, so a login bound to a deleted
	// account reads as not found.
	return s.FindByID(ctx, row.UserID)
}

func (s *users) UsersForClaim(ctx context.Context, claim Claim) ([]*User, error) {
	var rows []userClaimRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("lower(?TableAlias.claim_type) = lower(?)", claim.Type).
		Where("lower(?TableAlias.claim_value) = lower(?)", claim.Value).
		Order("user_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	matched := make([]*User, 0, len(rows))
	seen := make(map[uuid.UUID]struct{}, len(rows))
	for _, row := range rows {
		if _, ok := seen[row.UserID]; ok {
			continue
		}
		seen[row.UserID] = struct{}{}

		user, err := s.FindByID(ctx, row.UserID)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				continue
			}
			return nil, err
		}
		matched = append(matched, user)
	}

	return matched, nil
}

func (s *users) findOne(ctx context.Context, apply func(*bun.SelectQuery) *bun.SelectQuery, metadata map[string]any) (*User, error) {
	user := new(User)
	q := s.db.NewSelect().Model(user)
	err := apply(q).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.NewRecordNotFound().WithMetadata(metadata)
		}
		return nil, err
	}

	if err := s.hydrate(ctx, user); err != nil {
		return nil, err
	}

	return user, nil
}

func (s *users) hydrate(ctx context.Context, user *User) error {
	var claimRows []userClaimRow
	err := s.db.NewSelect().
		Model(&claimRows).
		Where("?TableAlias.user_id = ?", user.ID).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return err
	}

	user.Claims = make([]Claim, 0, len(claimRows))
	for _, row := range claimRows {
		user.Claims = append(user.Claims, Claim{Type: row.Type, Value: row.Value})
	}

	var loginRows []userLoginRow
	err = s.db.NewSelect().
		Model(&loginRows).
		Where("?TableAlias.user_id = ?", user.ID).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return err
	}

	user.Logins = make([]Login, 0, len(loginRows))
	for _, row := range loginRows {
		user.Logins = append(user.Logins, Login{
			Provider:    row.Provider,
			ProviderKey: row.ProviderKey,
			DisplayName: row.DisplayName,
		})
	}

	return nil
}

func (s *users) deleteChildRows(ctx context.Context, tx bun.IDB, userID uuid.UUID) error {
	if _, err := tx.NewDelete().
		Model((*userClaimRow)(nil)).
		Where("?TableAlias.user_id = ?", userID).
		Exec(ctx); err != nil {
		return err
	}

	_, err := tx.NewDelete().
		Model((*userLoginRow)(nil)).
		Where("?TableAlias.user_id = ?", userID).
		Exec(ctx)
	return err
}

func (s *users) insertChildRows(ctx context.Context, tx bun.IDB, user *User) error {
	if len(user.Claims) > 0 {
		rows := make([]userClaimRow, 0, len(user.Claims))
		for _, claim := range user.Claims {
			rows = append(rows, userClaimRow{
				UserID: user.ID,
				Type:   claim.Type,
				Value:  claim.Value,
			})
		}
		if _, err := tx.NewInsert().Model(&rows).Exec(ctx); err != nil {
			return err
		}
	}

	if len(user.Logins) > 0 {
		rows := make([]userLoginRow, 0, len(user.Logins))
		for _, login := range user.Logins {
			rows = append(rows, userLoginRow{
				UserID:      user.ID,
				Provider:    login.Provider,
				ProviderKey: login.ProviderKey,
				DisplayName: login.DisplayName,
			})
		}
		if _, err := tx.NewInsert().Model(&rows).Exec(ctx); err != nil {
			return err
		}
	}

	return nil
}
