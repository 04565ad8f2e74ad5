package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type migration struct {
	version int
	name    string
	up      string
	down    string
}

// RunMigrations applies all pending migrations to the database at dbPath.
func RunMigrations(dbPath string) error {
	return migratePath(dbPath, false)
}

// RollbackMigrations rolls back all migrations of the database at dbPath.
func RollbackMigrations(dbPath string) error {
	return migratePath(dbPath, true)
}

// Migrate applies all pending migrations on an open database.
func (d *DB) Migrate(ctx context.Context) error {
	return migrate(ctx, d.db, false)
}

func migratePath(dbPath string, down bool) error {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	return migrate(context.Background(), db, down)
}

func loadMigrations() ([]*migration, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}

	byVersion := make(map[int]*migration)
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".sql") {
			continue
		}

		var version int
		var suffix string
		if _, err := fmt.Sscanf(name, "%d_%s", &version, &suffix); err != nil {
			continue
		}
		if byVersion[version] == nil {
			byVersion[version] = &migration{version: version}
		}

		content, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}

		switch {
		case strings.HasSuffix(name, ".up.sql"):
			byVersion[version].up = string(content)
			byVersion[version].name = strings.TrimSuffix(name, ".up.sql")
		case strings.HasSuffix(name, ".down.sql"):
			byVersion[version].down = string(content)
		}
	}

	out := make([]*migration, 0, len(byVersion))
	for _, m := range byVersion {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

func migrate(ctx context.Context, db *sql.DB, down bool) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			dirty INTEGER NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var currentVersion, dirty int
	err = db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0), COALESCE(MAX(dirty), 0) FROM schema_migrations`).Scan(&currentVersion, &dirty)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}
	if dirty != 0 {
		return fmt.Errorf("database is in dirty state at version %d, manual intervention required", currentVersion)
	}

	migrations, err := loadMigrations()
	if err != nil {
		return err
	}

	if down {
		for i := len(migrations) - 1; i >= 0; i-- {
			m := migrations[i]
			if m.version > currentVersion {
				continue
			}
			if m.down == "" {
				return fmt.Errorf("no down migration for version %d", m.version)
			}
			if err := step(ctx, db, m.version, m.down, true); err != nil {
				return err
			}
		}
		return nil
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if m.up == "" {
			return fmt.Errorf("no up migration for version %d", m.version)
		}
		if err := step(ctx, db, m.version, m.up, false); err != nil {
			return err
		}
	}
	return nil
}

// step runs one migration, leaving the version marked dirty if it fails.
func step(ctx context.Context, db *sql.DB, version int, script string, down bool) error {
	if _, err := db.ExecContext(ctx, `INSERT OR REPLACE INTO schema_migrations (version, dirty) VALUES (?, 1)`, version); err != nil {
		return fmt.Errorf("mark version %d as dirty: %w", version, err)
	}

	if _, err := db.ExecContext(ctx, script); err != nil {
		if down {
			return fmt.Errorf("run down migration %d: %w", version, err)
		}
		return fmt.Errorf("run up migration %d: %w", version, err)
	}

	if down {
		if _, err := db.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = ?`, version); err != nil {
			return fmt.Errorf("remove version %d: %w", version, err)
		}
		return nil
	}
	if _, err := db.ExecContext(ctx, `UPDATE schema_migrations SET dirty = 0 WHERE version = ?`, version); err != nil {
		return fmt.Errorf("mark version %d as clean: %w", version, err)
	}
	return nil
}
