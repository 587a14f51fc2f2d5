package crdb

import (
	"context"
	"embed"

	"github.com/cockroachdb/errors"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/cockroachdb"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrate brings the schema up to the latest embedded version. It opens its
// own database/sql handle from the pool's config so closing the migrator
// leaves the pool untouched.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return errors.Wrap(err, "open migration source")
	}

	db := stdlib.OpenDB(*pool.Config().ConnConfig)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return errors.Wrap(err, "ping for migrations")
	}
	driver, err := cockroachdb.WithInstance(db, &cockroachdb.Config{})
	if err != nil {
		_ = db.Close()
		return errors.Wrap(err, "open migration driver")
	}

	m, err := migrate.NewWithInstance("iofs", src, "cockroachdb", driver)
	if err != nil {
		_ = db.Close()
		return errors.Wrap(err, "init migrator")
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "apply migrations")
	}
	return nil
}
