// Package migrate applies the embedded PostgreSQL schema with goose.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sync"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var embedded embed.FS

const defaultMigrationsTable = "goose_db_version"

// goose keeps its configuration in package globals.
var gooseMu sync.Mutex

// Seams over goose for tests.
var (
	gooseUp = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return goose.UpContext(ctx, db, dir, opts...)
	}
	gooseDown = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return goose.DownContext(ctx, db, dir, opts...)
	}
	gooseVersion = func(ctx context.Context, db *sql.DB) (int64, error) {
		return goose.GetDBVersionContext(ctx, db)
	}
)

// Manager runs the embedded migrations against a database.
type Manager struct {
	db              *sql.DB
	migrationsTable string
	log             zerolog.Logger
}

// Option configures Manager.
type Option func(*Manager)

// WithMigrationsTable overrides the default goose bookkeeping table.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.migrationsTable = name
		}
	}
}

// WithLogger routes goose output through l.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// NewManager constructs a Manager.
func NewManager(db *sql.DB, opts ...Option) *Manager {
	m := &Manager{
		db:              db,
		migrationsTable: defaultMigrationsTable,
		log:             zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies all pending migrations.
func (m *Manager) Up(ctx context.Context) error {
	return m.run(func() error { return gooseUp(ctx, m.db, ".") })
}

// Down rolls back the most recent migration.
func (m *Manager) Down(ctx context.Context) error {
	return m.run(func() error { return gooseDown(ctx, m.db, ".") })
}

// Status lists every embedded migration with its applied state.
func (m *Manager) Status(ctx context.Context) ([]string, error) {
	var out []string
	err := m.run(func() error {
		current, err := gooseVersion(ctx, m.db)
		if err != nil {
			return fmt.Errorf("read schema version: %w", err)
		}
		files, err := Files()
		if err != nil {
			return err
		}
		for _, f := range files {
			version, err := goose.NumericComponent(f)
			if err != nil {
				return fmt.Errorf("parse %s: %w", f, err)
			}
			state := "pending"
			if version <= current {
				state = "applied"
			}
			out = append(out, fmt.Sprintf("%s\t%s", state, f))
		}
		return nil
	})
	return out, err
}

func (m *Manager) run(fn func() error) error {
	if m.db == nil {
		return errors.New("database connection unavailable")
	}
	gooseMu.Lock()
	defer gooseMu.Unlock()

	sub, err := fs.Sub(embedded, "migrations")
	if err != nil {
		return err
	}
	goose.SetBaseFS(sub)
	goose.SetTableName(m.migrationsTable)
	goose.SetLogger(gooseLogger{m.log})
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return fn()
}

// Files returns the embedded migration file names in apply order.
func Files() ([]string, error) {
	matches, err := fs.Glob(embedded, "migrations/*.sql")
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, path.Base(m))
	}
	return out, nil
}

type gooseLogger struct {
	log zerolog.Logger
}

func (l gooseLogger) Printf(format string, v ...any) {
	l.log.Info().Msgf(format, v...)
}

// Fatalf logs at error level instead of exiting the process.
func (l gooseLogger) Fatalf(format string, v ...any) {
	l.log.Error().Msgf(format, v...)
}
