// Package database is the SQLite-backed record store for articles.
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when an article id does not exist.
var ErrNotFound = errors.New("article not found")

// DB wraps a SQLite database connection.
type DB struct {
	conn *sql.DB
	path string
	qb   sq.StatementBuilderType
}

// Open creates or opens a SQLite database at the given path.
func Open(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// The pipeline is the only writer; one connection keeps writes serialized.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if err := migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return &DB{
		conn: conn,
		path: dbPath,
		qb:   sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}
