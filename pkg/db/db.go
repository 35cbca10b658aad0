// Package db opens and migrates the gateway's local SQLite stores: the
// session-cookie table used by pkg/auth and the tool-embedding table
// used by pkg/toolindex each get their own file, opened through this
// shared helper.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/golang-migrate/migrate/v4"
	msqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	"github.com/yubingjiaocn/mcp-gateway-registry/pkg/log"

	_ "modernc.org/sqlite"
)

// Open opens (creating if needed) a SQLite database at dbFile, runs any
// pending migrations from migrationsFS/migrationsPath under a
// cross-process file lock, and returns a *sqlx.DB ready for use.
func Open(dbFile string, migrationsFS fs.FS, migrationsPath string) (*sqlx.DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbFile), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite", "file:"+dbFile+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if err := runMigrations(dbFile, sqlDB, migrationsFS, migrationsPath); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	return sqlx.NewDb(sqlDB, "sqlite"), nil
}

func runMigrations(dbFile string, sqlDB *sql.DB, migrationsFS fs.FS, migrationsPath string) error {
	migDriver, err := iofs.New(migrationsFS, migrationsPath)
	if err != nil {
		return fmt.Errorf("opening migration source: %w", err)
	}
	defer migDriver.Close()

	driver, err := msqlite.WithInstance(sqlDB, &msqlite.Config{})
	if err != nil {
		return fmt.Errorf("opening migration driver: %w", err)
	}

	mig, err := migrate.NewWithInstance("iofs", migDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("building migrator: %w", err)
	}

	lockFile := dbFile + ".migration.lock"
	fileLock := flock.New(lockFile)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	locked, err := fileLock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return fmt.Errorf("acquiring migration lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("timed out waiting for migration lock on %s", lockFile)
	}
	defer func() {
		if err := fileLock.Unlock(); err != nil {
			log.Base().Warn().Err(err).Str("lock_file", lockFile).Msg("failed to release migration lock")
		}
	}()

	version, dirty, err := mig.Version()
	isFresh := errors.Is(err, migrate.ErrNilVersion)
	if err != nil && !isFresh {
		return fmt.Errorf("reading migration version: %w", err)
	}
	if dirty {
		return fmt.Errorf("database %s is dirty at version %d, manual intervention required", dbFile, version)
	}

	if err := mig.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}
