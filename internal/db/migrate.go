package db

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type migration struct {
	version string
	path    string
}

// upMigrations lists *.up.sql files in version order.
func upMigrations(dir string) ([]migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read migrations dir %s", dir)
	}

	var out []migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".up.sql") {
			continue
		}
		out = append(out, migration{
			version: strings.TrimSuffix(e.Name(), ".up.sql"),
			path:    filepath.Join(dir, e.Name()),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// RunMigrations applies every pending migration in its own transaction.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, migrationsDir string, log *zap.Logger) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ DEFAULT now()
		)
	`)
	if err != nil {
		return errors.Wrap(err, "create schema_migrations")
	}

	pending, err := upMigrations(migrationsDir)
	if err != nil {
		return err
	}

	applied := 0
	for _, m := range pending {
		var exists bool
		err := pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)", m.version).Scan(&exists)
		if err != nil {
			return errors.Wrapf(err, "check migration %s", m.version)
		}
		if exists {
			continue
		}

		sql, err := os.ReadFile(m.path)
		if err != nil {
			return errors.Wrapf(err, "read migration %s", m.version)
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return errors.Wrap(err, "begin migration tx")
		}

		if _, err := tx.Exec(ctx, string(sql)); err != nil {
			_ = tx.Rollback(ctx)
			return errors.Wrapf(err, "apply migration %s", m.version)
		}

		if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.version); err != nil {
			_ = tx.Rollback(ctx)
			return errors.Wrapf(err, "record migration %s", m.version)
		}

		if err := tx.Commit(ctx); err != nil {
			return errors.Wrapf(err, "commit migration %s", m.version)
		}

		applied++
		log.Info("migration applied", zap.String("version", m.version))
	}

	log.Info("migrations up to date", zap.Int("applied", applied), zap.Int("known", len(pending)))
	return nil
}
