package identity

import (
	"context"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"
)

// RegisterModels registers every persisted model with the persistence layer.
// Call it once at process startup, before opening the database. There is no
// hidden lazy initialization: a store used without registration fails at
// query time.
func RegisterModels() {
	persistence.RegisterModel((*User)(nil))
	persistence.RegisterModel((*userClaimRow)(nil))
	persistence.RegisterModel((*userLoginRow)(nil))
}

// CreateSchema creates the identity tables. Intended for tests and embedded
// deployments; managed environments run migrations instead.
func CreateSchema(ctx context.Context, db *bun.DB) error {
	models := []any{
		(*User)(nil),
		(*userClaimRow)(nil),
		(*userLoginRow)(nil),
	}

	for _, model := range models {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}

	return nil
}
