package history

import (
	"context"
	"database/sql"
)

// SQLSink appends events to the bot_history table through database/sql.
// Backends fill in the DDL and the statements in their own bind style.
type SQLSink struct {
	DB     *sql.DB
	Schema string
	// Insert takes (timestamp, event, name, path, pid, status).
	Insert string
	// CountByName takes (name).
	CountByName string
}

// EnsureSchema creates the history table if it is missing.
func (s *SQLSink) EnsureSchema(ctx context.Context) error {
	_, err := s.DB.ExecContext(ctx, s.Schema)
	return err
}

func (s *SQLSink) Send(ctx context.Context, e Event) error {
	r := e.Record
	_, err := s.DB.ExecContext(ctx, s.Insert, e.OccurredAt.UTC(), string(e.Type), r.Name, r.Path, r.PID, r.Status)
	return err
}

// Count returns the number of stored events for the bot called name.
func (s *SQLSink) Count(ctx context.Context, name string) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, s.CountByName, name).Scan(&n)
	return n, err
}

func (s *SQLSink) Close() error {
	if s.DB == nil {
		return nil
	}
	return s.DB.Close()
}
