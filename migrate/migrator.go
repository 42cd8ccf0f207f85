// Package migrate applies versioned SQL migrations from an fs.FS.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	"github.com/oriser/regroup"
)

// Migrator applies SQL migrations to a database. Applied versions are
// tracked per component in the schema_migration table.
type Migrator struct {
	db  *sql.DB
	dir string

	re *regroup.ReGroup
}

/* Credits to https://github.com/Boostport/migration */

// New creates a Migrator reading migrations from dir.
func New(ctx context.Context, db *sql.DB, dir string) (*Migrator, error) {
	if _, err := db.ExecContext(ctx, sqlSchema); err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}

	re, err := regroup.Compile(`^(?P<Version>\d+)_?(?P<Name>[^.]*)\.sql$`)
	if err != nil {
		return nil, fmt.Errorf("regexp: %w", err)
	}

	return &Migrator{
		db:  db,
		dir: dir,
		re:  re,
	}, nil
}

// Migrate applies every migration in fsys that component has not applied yet,
// in version order. Each migration runs in its own transaction.
func (m *Migrator) Migrate(ctx context.Context, fsys fs.FS, component string) error {
	migrations, err := m.parse(fsys)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}

	if len(migrations) == 0 {
		return nil
	}

	applied, err := m.applied(ctx, component)
	if err != nil {
		return fmt.Errorf("versions: %v: %w", component, err)
	}

	for _, mg := range migrations {
		if applied[mg.Version] {
			continue
		}

		if err := m.exec(ctx, component, mg); err != nil {
			return fmt.Errorf("migrate: %v: %w", mg.Filename, err)
		}
	}

	return nil
}
