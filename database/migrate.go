package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/geminicodes/MapMyVisitors-Cursor/logging"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationFS embed.FS

// Migrate applies all pending up migrations for the client's dialect.
// It runs over its own connection because golang-migrate closes the
// database handle it is given.
func Migrate(c *DBClient) error {
	driverName := "postgres"
	if c.Dialect == DialectSQLite {
		driverName = "sqlite"
	}

	db, err := sql.Open(driverName, c.dsn)
	if err != nil {
		return fmt.Errorf("migrate open: %w", err)
	}

	var driver migratedb.Driver
	switch c.Dialect {
	case DialectPostgres:
		driver, err = postgres.WithInstance(db, &postgres.Config{})
	case DialectSQLite:
		driver, err = sqlite.WithInstance(db, &sqlite.Config{})
	default:
		err = fmt.Errorf("unsupported dialect %q", c.Dialect)
	}
	if err != nil {
		db.Close()
		return fmt.Errorf("migrate driver: %w", err)
	}

	src, err := iofs.New(migrationFS, "migrations/"+string(c.Dialect))
	if err != nil {
		db.Close()
		return fmt.Errorf("migrate source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, string(c.Dialect), driver)
	if err != nil {
		db.Close()
		return fmt.Errorf("migrate: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}

	version, dirty, _ := m.Version()
	logging.Info().Uint("version", version).Bool("dirty", dirty).Str("dialect", string(c.Dialect)).Msg("Database migrations applied")
	return nil
}
