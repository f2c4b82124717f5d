package identity

import (
	"embed"
)

//go:embed data/sql/migrations
var migrationsFS embed.FS

// GetMigrationsFS returns the bundled schema migrations, one directory per
// supported dialect under data/sql/migrations.
func GetMigrationsFS() embed.FS {
	return migrationsFS
}
