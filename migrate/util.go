package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"sort"
)

type migration struct {
	Version  int    `regroup:"Version"`
	Name     string `regroup:"Name"`
	Filename string
	Schema   string
}

func (m *Migrator) applied(ctx context.Context, component string) (result map[int]bool, err error) {
	rows, err := m.db.QueryContext(ctx, sqlVersions, component)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("rows close: %w", cerr)
		}
	}()

	result = make(map[int]bool)
	for rows.Next() {
		var version int
		if err = rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}

		result[version] = true
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return result, nil
}

func (m *Migrator) exec(ctx context.Context, component string, mg *migration) (err error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	defer func(tx *sql.Tx) {
		if err != nil {
			if errRb := tx.Rollback(); errRb != nil {
				err = fmt.Errorf("rollback: %w: %w", errRb, err)
			}
			return
		}

		if errCm := tx.Commit(); errCm != nil {
			err = fmt.Errorf("commit: %w", errCm)
		}
	}(tx)

	if _, err = tx.ExecContext(ctx, mg.Schema); err != nil {
		return fmt.Errorf("exec: %w", err)
	}

	if _, err = tx.ExecContext(ctx, sqlInsertVersion, component, mg.Version); err != nil {
		return fmt.Errorf("schema_migration: %w", err)
	}

	return nil
}

func (m *Migrator) parse(fsys fs.FS) ([]*migration, error) {
	files, err := fs.ReadDir(fsys, m.dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	migrations := make([]*migration, 0, len(files))
	for _, file := range files {
		if file.IsDir() {
			continue
		}

		mg := new(migration)
		if err := m.re.MatchToTarget(file.Name(), mg); err != nil {
			return nil, fmt.Errorf("parse migration %s: %w", file.Name(), err)
		}

		// fs.FS paths are always slash-separated
		b, err := fs.ReadFile(fsys, path.Join(m.dir, file.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration: %w", err)
		}

		mg.Schema = string(b)
		mg.Filename = file.Name()
		migrations = append(migrations, mg)
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

const (
	sqlSchema = "CREATE TABLE IF NOT EXISTS schema_migration" +
		" (component VARCHAR(255) NOT NULL, version INTEGER NOT NULL," +
		" PRIMARY KEY (component, version))"
	sqlVersions      = `SELECT version FROM schema_migration WHERE component = ?`
	sqlInsertVersion = `INSERT INTO schema_migration (component, version) VALUES (?, ?)`
)
