// Package sqlite is an embedded ideas.Repository on a single SQLite file,
// for deployments without PostgreSQL.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nidhogg/tenber/internal/ideas"
	"github.com/nidhogg/tenber/internal/vitality"
	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var _ ideas.Repository = (*DB)(nil)

// DB wraps a sql.DB connection to the tenber SQLite database.
type DB struct {
	db     *sql.DB
	engine *vitality.Engine
	logger *zap.Logger
	Path   string
}

// Open opens (or creates) the database at path, configures pragmas and
// runs migrations. ":memory:" gives a private in-memory database.
func Open(path string, engine *vitality.Engine, logger *zap.Logger) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: every transaction is serialised, and an in-memory
	// database lives exactly as long as that connection.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	db := &DB{db: sqlDB, engine: engine, logger: logger, Path: path}
	if err := db.configurePragmas(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Info("SQLite opened", zap.String("path", path))
	return db, nil
}

func (db *DB) configurePragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.db.Exec(p); err != nil {
			return fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	return nil
}

// Ping checks the connection.
func (db *DB) Ping(ctx context.Context) error {
	return db.db.PingContext(ctx)
}

// Close closes the database.
func (db *DB) Close() error {
	return db.db.Close()
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ideas.ErrNotFound
	}
	return err
}

// isConstraint reports a constraint failure whose message names kind,
// e.g. "UNIQUE" or "FOREIGN KEY".
func isConstraint(err error, kind string) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) || se.Code()&0xff != sqlite3.SQLITE_CONSTRAINT {
		return false
	}
	return strings.Contains(se.Error(), kind)
}

func likePattern(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(term) + "%"
}
