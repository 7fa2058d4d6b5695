package sqlite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/atvirokodosprendimai/surveysync/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/surveysync/migrations"
)

// Open opens the local store at path and brings its schema up to date. A file
// that is not a usable database is moved aside and replaced with an empty
// store; the loss is logged because any queued mutations in it are gone.
func Open(ctx context.Context, path string, logger *slog.Logger, opts ...gormsqlite.Option) (*gormsqlite.DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts = append([]gormsqlite.Option{gormsqlite.WithLogger(logger)}, opts...)

	db, err := openAndMigrate(ctx, path, logger, opts)
	if err == nil {
		return db, nil
	}
	if !gormsqlite.IsCorrupt(err) {
		return nil, err
	}

	quarantine := fmt.Sprintf("%s.corrupt-%d", path, time.Now().UTC().Unix())
	logger.Error("local store is corrupt, reinitializing empty; cached data and queued mutations are lost",
		"path", path, "moved_to", quarantine, "error", err)
	if err := os.Rename(path, quarantine); err != nil {
		return nil, fmt.Errorf("quarantine corrupt store: %w", err)
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(path + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove %s: %w", suffix, err)
		}
	}
	return openAndMigrate(ctx, path, logger, opts)
}

func openAndMigrate(ctx context.Context, path string, logger *slog.Logger, opts []gormsqlite.Option) (*gormsqlite.DB, error) {
	db, err := gormsqlite.Open(path, opts...)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	writeSQLDB, err := db.WriteSQLDB()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("resolve writer sql db: %w", err)
	}
	applied, version, err := migrations.Up(ctx, writeSQLDB)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if applied > 0 {
		logger.Info("local store migrated", "path", path, "applied", applied, "version", version)
	}
	return db, nil
}
