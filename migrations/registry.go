package migrations

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	gatekeeper "github.com/goliatone/go-gatekeeper"
	persistence "github.com/goliatone/go-persistence-bun"
)

// Dialect selects which schema variant of the embedded tree is applied.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

const migrationsRoot = "data/sql/migrations"

var ErrUnsupportedDialect = errors.New("migrations: unsupported dialect")

// ParseDialect accepts driver and bun dialect names. An empty name means postgres.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "postgres", "postgresql", "pg", "pq":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedDialect, name)
	}
}

// FS returns the migration files for d. Postgres reads the tree root and
// sqlite reads its own subdirectory, so the two never mix.
func FS(d Dialect) (fs.FS, error) {
	dir := migrationsRoot
	switch d {
	case Postgres:
	case SQLite:
		dir = migrationsRoot + "/sqlite"
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDialect, string(d))
	}

	sub, err := fs.Sub(gatekeeper.GetMigrationsFS(), dir)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve %s: %w", d, err)
	}
	matches, err := fs.Glob(sub, "*.up.sql")
	if err != nil {
		return nil, fmt.Errorf("migrations: list %s: %w", d, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("migrations: no %s migrations embedded", d)
	}
	return sub, nil
}

// Registrar is the part of persistence.Client the schema is registered with.
type Registrar interface {
	RegisterSQLMigrations(fsys ...fs.FS) *persistence.Migrations
}

func Register(client Registrar, d Dialect) error {
	if client == nil {
		return errors.New("migrations: registrar is required")
	}
	fsys, err := FS(d)
	if err != nil {
		return err
	}
	client.RegisterSQLMigrations(fsys)
	return nil
}
