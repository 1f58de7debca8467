// Package database opens the PostgreSQL workspace database and keeps its
// schema current.
package database

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrDirtySchema is returned when an earlier upgrade stopped part way and
// the schema needs manual repair.
var ErrDirtySchema = errors.New("database schema is dirty")

// SchemaVersion is the schema state recorded in schema_migrations.
type SchemaVersion struct {
	Version uint
	Dirty   bool
}

func schemaSource() (source.Driver, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open embedded schema: %w", err)
	}
	return src, nil
}

// LatestVersion returns the highest schema version this binary ships.
func LatestVersion() (uint, error) {
	src, err := schemaSource()
	if err != nil {
		return 0, err
	}
	defer src.Close()

	v, err := src.First()
	if err != nil {
		return 0, fmt.Errorf("first schema version: %w", err)
	}
	for {
		next, err := src.Next(v)
		if errors.Is(err, fs.ErrNotExist) {
			return v, nil
		}
		if err != nil {
			return 0, fmt.Errorf("schema version after %d: %w", v, err)
		}
		v = next
	}
}

// Upgrade brings the schema to LatestVersion and returns the version it
// ends at. A dirty schema is left untouched.
func Upgrade(databaseURL string) (SchemaVersion, error) {
	src, err := schemaSource()
	if err != nil {
		return SchemaVersion{}, err
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return SchemaVersion{}, fmt.Errorf("connect for schema upgrade: %w", err)
	}
	defer m.Close()

	if v, dirty, err := m.Version(); err == nil && dirty {
		return SchemaVersion{Version: v, Dirty: true}, fmt.Errorf("version %d: %w", v, ErrDirtySchema)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return SchemaVersion{}, fmt.Errorf("upgrade schema: %w", err)
	}

	v, dirty, err := m.Version()
	if err != nil {
		return SchemaVersion{}, fmt.Errorf("read schema version: %w", err)
	}
	return SchemaVersion{Version: v, Dirty: dirty}, nil
}
