package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/botvisor/internal/history"
)

// Sink keeps the lifecycle audit trail in a local SQLite file.
type Sink struct {
	history.SQLSink
}

// New opens the database named by dsn, one of
// "sqlite:///path/to/file.db", "sqlite://:memory:", a bare path or ":memory:".
func New(dsn string) (*Sink, error) {
	path := strings.TrimSpace(dsn)
	if len(path) >= len("sqlite://") && strings.EqualFold(path[:len("sqlite://")], "sqlite://") {
		path = path[len("sqlite://"):]
	}
	if path == "" {
		return nil, errors.New("empty SQLite DSN")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// ":memory:" is per connection
	db.SetMaxOpenConns(1)

	s := &Sink{history.SQLSink{
		DB: db,
		Schema: `CREATE TABLE IF NOT EXISTS bot_history(
			timestamp TIMESTAMP NOT NULL DEFAULT (CURRENT_TIMESTAMP),
			event TEXT NOT NULL,
			name TEXT NOT NULL,
			path TEXT NOT NULL,
			pid INTEGER NOT NULL,
			status TEXT NOT NULL
		);`,
		Insert:      `INSERT INTO bot_history(timestamp, event, name, path, pid, status) VALUES(?, ?, ?, ?, ?, ?)`,
		CountByName: `SELECT COUNT(*) FROM bot_history WHERE name = ?`,
	}}
	if err := s.EnsureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}
