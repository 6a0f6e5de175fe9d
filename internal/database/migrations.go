package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS articles (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    url TEXT UNIQUE,
    source TEXT,
    summary TEXT,
    published TEXT,
    fetched_at TEXT,
    status TEXT NOT NULL DEFAULT 'ingested'
        CHECK(status IN ('ingested', 'filtered', 'distilled', 'visualized', 'ignored')),
    headline TEXT,
    analysis_json TEXT,
    facts_json TEXT,
    image_path TEXT,
    critique_json TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_status ON articles(status);
CREATE INDEX IF NOT EXISTS idx_source ON articles(source);
`)
			return err
		},
	},
	{
		Version:     2,
		Description: "batch and feed read indexes",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE INDEX IF NOT EXISTS idx_articles_status_created ON articles(status, created_at);
CREATE INDEX IF NOT EXISTS idx_articles_published ON articles(published);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
