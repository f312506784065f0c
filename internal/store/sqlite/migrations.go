package sqlite

import (
	"fmt"

	"go.uber.org/zap"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

// Timestamps are unix milliseconds.
var migrations = []migration{
	{
		Version:     1,
		Description: "profiles, ideas, stakes, comments",
		SQL: `
CREATE TABLE profiles (
    id          TEXT PRIMARY KEY,
    username    TEXT UNIQUE,
    bio         TEXT NOT NULL DEFAULT '',
    avatar_url  TEXT NOT NULL DEFAULT '',
    reputation  INTEGER NOT NULL DEFAULT 0,
    created_at  INTEGER NOT NULL
);

CREATE TABLE ideas (
    id                       TEXT PRIMARY KEY,
    title                    TEXT NOT NULL,
    description              TEXT NOT NULL DEFAULT '',
    category                 TEXT NOT NULL DEFAULT 'Random',
    author_id                TEXT NOT NULL REFERENCES profiles(id),
    total_staked             REAL NOT NULL DEFAULT 0 CHECK (total_staked >= 0),
    vitality_at_last_update  REAL NOT NULL DEFAULT 100,
    last_decay_update        INTEGER NOT NULL,
    created_at               INTEGER NOT NULL
);

CREATE INDEX idx_ideas_category ON ideas(category);

CREATE TABLE stakes (
    user_id     TEXT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
    idea_id     TEXT NOT NULL REFERENCES ideas(id) ON DELETE CASCADE,
    amount      REAL NOT NULL CHECK (amount > 0),
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL,
    PRIMARY KEY (user_id, idea_id)
);

CREATE INDEX idx_stakes_idea ON stakes(idea_id);

CREATE TABLE comments (
    id          TEXT PRIMARY KEY,
    idea_id     TEXT NOT NULL REFERENCES ideas(id) ON DELETE CASCADE,
    author_id   TEXT NOT NULL REFERENCES profiles(id),
    parent_id   TEXT REFERENCES comments(id) ON DELETE CASCADE,
    content     TEXT NOT NULL,
    created_at  INTEGER NOT NULL
);

CREATE INDEX idx_comments_idea ON comments(idea_id, created_at);
`,
	},
}

func (db *DB) migrate() error {
	_, err := db.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
		db.logger.Info("Migration applied", zap.Int("version", m.Version))
	}
	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
