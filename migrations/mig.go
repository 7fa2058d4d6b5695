package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
)

//go:embed files/*.sql
var migrationFS embed.FS

// Up applies every pending migration and returns how many ran together with
// the resulting schema version. A provider is used per call so concurrent
// stores in one process do not share goose's global state.
func Up(ctx context.Context, db *sql.DB) (applied int, version int64, err error) {
	files, err := fs.Sub(migrationFS, "files")
	if err != nil {
		return 0, 0, fmt.Errorf("migration files: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, files)
	if err != nil {
		return 0, 0, fmt.Errorf("create goose provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("run migrations: %w", err)
	}
	version, err = provider.GetDBVersion(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("read schema version: %w", err)
	}
	return len(results), version, nil
}
