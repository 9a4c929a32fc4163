package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/botvisor/internal/store"
)

// DB implements store.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// DSN is a filesystem path to the SQLite database file. Use ":memory:" for in-memory.
type DB struct {
	store.SQL
}

// New opens a SQLite database at path and ensures the schema.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// one connection keeps ":memory:" databases consistent and serializes writers
	d.SetMaxOpenConns(1)
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")

	db := &DB{SQL: store.SQL{
		DB: d,
		Schema: []string{
			`CREATE TABLE IF NOT EXISTS bots(
				position INTEGER PRIMARY KEY,
				name TEXT NOT NULL,
				path TEXT NOT NULL,
				running BOOLEAN NOT NULL,
				pid INTEGER NULL
			);`,
		},
		Insert: `INSERT INTO bots(position, name, path, running, pid) VALUES(?, ?, ?, ?, ?)`,
	}}
	if err := db.EnsureSchema(context.Background()); err != nil {
		_ = d.Close()
		return nil, err
	}
	return db, nil
}
