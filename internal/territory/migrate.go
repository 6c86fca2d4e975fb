package territory

import (
	"context"
	"embed"
	"io/fs"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/territory-cli/internal/db"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// migrationLockID is the advisory lock key shared by concurrent migrate runs.
const migrationLockID = 8675311

const bootstrapSQL = `
	CREATE SCHEMA IF NOT EXISTS territory;
	CREATE TABLE IF NOT EXISTS territory.schema_migrations (
		id         SERIAL PRIMARY KEY,
		filename   TEXT NOT NULL UNIQUE,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
`

// Migrate applies the embedded migrations in filename order and returns how
// many were applied. Each file runs in its own transaction together with
// its schema_migrations row, under a transaction-scoped advisory lock, so a
// concurrent run waits and then skips what this one applied.
func Migrate(ctx context.Context, pool db.Pool) (int, error) {
	log := zap.L().With(zap.String("component", "territory.migrate"))

	err := db.WithTx(ctx, pool, func(tx pgx.Tx) error {
		if err := lockMigrations(ctx, tx); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, bootstrapSQL); err != nil {
			return eris.Wrap(err, "territory: ensure migration table")
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	names, err := migrationNames()
	if err != nil {
		return 0, err
	}

	var applied int
	for _, name := range names {
		ran, err := applyMigration(ctx, pool, name)
		if err != nil {
			return applied, err
		}
		if ran {
			log.Info("applied migration", zap.String("file", name))
			applied++
		}
	}

	log.Info("migrations complete", zap.Int("applied", applied), zap.Int("known", len(names)))
	return applied, nil
}

// applyMigration runs one migration file unless it is already recorded.
func applyMigration(ctx context.Context, pool db.Pool, name string) (bool, error) {
	data, err := migrationFS.ReadFile("migrations/" + name)
	if err != nil {
		return false, eris.Wrapf(err, "territory: read migration %s", name)
	}

	var ran bool
	err = db.WithTx(ctx, pool, func(tx pgx.Tx) error {
		if err := lockMigrations(ctx, tx); err != nil {
			return err
		}

		var done bool
		if err := tx.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM territory.schema_migrations WHERE filename = $1)", name,
		).Scan(&done); err != nil {
			return eris.Wrapf(err, "territory: check migration %s", name)
		}
		if done {
			return nil
		}

		if _, err := tx.Exec(ctx, string(data)); err != nil {
			return eris.Wrapf(err, "territory: apply migration %s", name)
		}
		if _, err := tx.Exec(ctx,
			"INSERT INTO territory.schema_migrations (filename) VALUES ($1)", name,
		); err != nil {
			return eris.Wrapf(err, "territory: record migration %s", name)
		}
		ran = true
		return nil
	})
	return ran, err
}

// lockMigrations blocks until no other migrate transaction holds the lock.
// The lock is released on commit or rollback.
func lockMigrations(ctx context.Context, tx pgx.Tx) error {
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLockID); err != nil {
		return eris.Wrap(err, "territory: acquire migration advisory lock")
	}
	return nil
}

func migrationNames() ([]string, error) {
	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return nil, eris.Wrap(err, "territory: read migration dir")
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}
