package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/matheus3301/wpp-archive/internal/store/migrations"
)

// ErrDirtySchema is returned when a previous migration stopped halfway.
// The archive needs manual repair before the daemon can use it.
var ErrDirtySchema = errors.New("archive schema is dirty")

// MigrateResult reports the schema version before and after Migrate.
type MigrateResult struct {
	From    uint
	Version uint
	Changed bool
}

// Migrate applies the embedded migrations that are not yet applied.
func (db *DB) Migrate() (*MigrateResult, error) {
	m, err := db.migrator()
	if err != nil {
		return nil, err
	}

	from, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		from = 0
	case err != nil:
		return nil, fmt.Errorf("read schema version: %w", err)
	case dirty:
		return nil, fmt.Errorf("version %d: %w", from, ErrDirtySchema)
	}

	res := &MigrateResult{From: from, Version: from}
	if err := m.Up(); errors.Is(err, migrate.ErrNoChange) {
		return res, nil
	} else if err != nil {
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	if res.Version, _, err = m.Version(); err != nil {
		return nil, fmt.Errorf("read schema version: %w", err)
	}
	res.Changed = res.Version != from
	return res, nil
}

func (db *DB) migrator() (*migrate.Migrate, error) {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}
	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return nil, fmt.Errorf("migrator: %w", err)
	}
	return m, nil
}

// StartupResult describes the work done by Startup.
type StartupResult struct {
	Migration   *MigrateResult
	Interrupted int64
	Maintenance *MaintainResult
}

// Startup brings an archive to a usable state: migrate, seed the reference
// tables, clear flags left by interrupted saves, then run maintenance.
func (db *DB) Startup(ctx context.Context) (*StartupResult, error) {
	mr, err := db.Migrate()
	if err != nil {
		return nil, err
	}
	if err := db.Seed(ctx); err != nil {
		return nil, fmt.Errorf("seed: %w", err)
	}
	interrupted, err := db.ResetSelected(ctx)
	if err != nil {
		return nil, err
	}
	maint, err := db.Maintain(ctx)
	if err != nil {
		return nil, fmt.Errorf("maintain: %w", err)
	}
	return &StartupResult{Migration: mr, Interrupted: interrupted, Maintenance: maint}, nil
}
