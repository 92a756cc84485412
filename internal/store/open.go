package store

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"

	"shipline/internal/db"
	"shipline/internal/migrate"
)

// Config selects and parameterises a slot backend.
type Config struct {
	Driver    Driver
	Workspace string
	// DSN is the Postgres connection string or an explicit SQLite file path.
	DSN string
	// Dir is the slot directory for the file driver, default <workspace>/.shipline/slots.
	Dir string
}

// Open builds the configured backend. SQLite databases are migrated before use.
func Open(ctx context.Context, cfg Config) (Slots, error) {
	switch cfg.Driver {
	case DriverMemory:
		return NewMemory(), nil
	case DriverFile:
		dir := cfg.Dir
		if dir == "" {
			dir = filepath.Join(db.Dir(cfg.Workspace), "slots")
		}
		return NewFile(afero.NewOsFs(), dir)
	case DriverSQLite, "":
		conn, err := db.Open(db.Config{Workspace: cfg.Workspace, Path: cfg.DSN})
		if err != nil {
			return nil, err
		}
		if err := migrate.Migrate(ctx, conn); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return NewSQLite(conn), nil
	case DriverPostgres:
		return NewPostgres(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %s", cfg.Driver)
	}
}
