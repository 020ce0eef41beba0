package qjsbridge

import (
	"database/sql"
	"errors"
	"fmt"

	// Pure-Go SQLite driver for database/sql (used by SQLLoader).
	_ "github.com/glebarez/sqlite"
)

const moduleSchema = `CREATE TABLE IF NOT EXISTS modules (
	name   TEXT PRIMARY KEY,
	source BLOB NOT NULL
)`

// SQLLoader serves module sources stored in a SQLite database. Sources are
// kept brotli-compressed.
type SQLLoader struct {
	db *sql.DB
}

// OpenSQLLoader opens (or creates) the module store at path. ":memory:"
// gives a private in-memory store.
func OpenSQLLoader(path string) (*SQLLoader, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening module store %q: %w", path, err)
	}
	if path == ":memory:" {
		// Every connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	} else {
		_, _ = db.Exec("PRAGMA journal_mode=WAL")
	}
	if _, err := db.Exec(moduleSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating module table: %w", err)
	}
	return &SQLLoader{db: db}, nil
}

// Put stores or replaces a module under its normalized name.
func (l *SQLLoader) Put(name, source string) error {
	blob, err := compressSource(source)
	if err != nil {
		return err
	}
	_, err = l.db.Exec(
		`INSERT INTO modules (name, source) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET source = excluded.source`,
		name, blob)
	if err != nil {
		return fmt.Errorf("storing module %q: %w", name, err)
	}
	return nil
}

// Delete removes a module. Deleting a missing module is not an error.
func (l *SQLLoader) Delete(name string) error {
	if _, err := l.db.Exec(`DELETE FROM modules WHERE name = ?`, name); err != nil {
		return fmt.Errorf("deleting module %q: %w", name, err)
	}
	return nil
}

// Names lists the stored modules in name order.
func (l *SQLLoader) Names() ([]string, error) {
	rows, err := l.db.Query(`SELECT name FROM modules ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing modules: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func (l *SQLLoader) Normalize(base, name string) (string, error) {
	return NormalizeModuleName(base, name), nil
}

func (l *SQLLoader) Load(name string) (string, error) {
	var blob []byte
	err := l.db.QueryRow(`SELECT source FROM modules WHERE name = ?`, name).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%s: %w", name, ErrModuleNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("reading module %q: %w", name, err)
	}
	return decompressSource(blob)
}

// Close closes the database.
func (l *SQLLoader) Close() error {
	return l.db.Close()
}
