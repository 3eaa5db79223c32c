package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
)

type migration struct {
	Version    int
	Name       string
	UpScript   string
	DownScript string
}

// loadMigrations reads scripts named version.name.up.sql and
// version.name.down.sql. Every version needs both scripts.
func loadMigrations(migrationFS fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(migrationFS, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	found := make(map[int]migration)

	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".sql" {
			continue
		}

		parts := strings.Split(entry.Name(), ".")
		if len(parts) != 4 {
			continue
		}

		version, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, fmt.Errorf("migration %s: invalid version: %w", entry.Name(), err)
		}

		content, err := fs.ReadFile(migrationFS, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}

		m := found[version]
		m.Version = version
		m.Name = parts[1]

		switch parts[2] {
		case "up":
			m.UpScript = string(content)
		case "down":
			m.DownScript = string(content)
		default:
			return nil, fmt.Errorf("unrecognized script type: %s", parts[2])
		}

		found[version] = m
	}

	migrations := make([]migration, 0, len(found))
	for _, m := range found {
		if m.UpScript == "" {
			return nil, fmt.Errorf("failed to find 'up' script for %s", m.Name)
		}
		if m.DownScript == "" {
			return nil, fmt.Errorf("failed to find 'down' script for %s", m.Name)
		}
		migrations = append(migrations, m)
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

// applyMigrations runs every migration newer than the last recorded version,
// each in its own transaction. When one fails, the ones applied by this call
// are reverted through their down scripts.
func applyMigrations(ctx context.Context, db *sql.DB, migrationFS fs.FS) error {
	migrations, err := loadMigrations(migrationFS)
	if err != nil {
		return err
	}

	const createStmt = `
		CREATE TABLE IF NOT EXISTS schema_migration (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at INTEGER NOT NULL
		);`
	if _, err := db.ExecContext(ctx, createStmt); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	var lastApplied int
	const lastStmt = `SELECT COALESCE(MAX(version), 0) FROM schema_migration;`
	if err := db.QueryRowContext(ctx, lastStmt).Scan(&lastApplied); err != nil {
		return fmt.Errorf("read applied migrations: %w", err)
	}

	var applied []migration
	for _, m := range migrations {
		if m.Version <= lastApplied {
			continue
		}

		if err := applyMigration(ctx, db, m); err != nil {
			return errors.Join(err, revertMigrations(ctx, db, applied))
		}

		applied = append(applied, m)
	}

	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", m.Version, err)
	}

	if _, err := tx.ExecContext(ctx, m.UpScript); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("exec migration %d.%s: %w", m.Version, m.Name, err)
	}

	const recordStmt = `INSERT INTO schema_migration (version, name, applied_at) VALUES (?, ?, ?);`
	if _, err := tx.ExecContext(ctx, recordStmt, m.Version, m.Name, time.Now().UTC().UnixMilli()); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record migration %d: %w", m.Version, err)
	}

	return tx.Commit()
}

func revertMigrations(ctx context.Context, db *sql.DB, applied []migration) error {
	for i := len(applied) - 1; i >= 0; i-- {
		m := applied[i]

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, m.DownScript); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("revert migration %d: %w", m.Version, err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM schema_migration WHERE version = ?;`, m.Version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("revert migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return err
		}
	}

	return nil
}
