package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/loykin/botvisor/internal/bot"
)

// SQL implements Store on top of database/sql. Backends supply the schema and
// the dialect-specific insert statement; rows are ordered by position.
type SQL struct {
	DB     *sql.DB
	Schema []string
	// Insert takes (position, name, path, running, pid) in that order.
	Insert string
}

// EnsureSchema creates the bots table if needed.
func (s *SQL) EnsureSchema(ctx context.Context) error {
	for _, q := range s.Schema {
		if _, err := s.DB.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *SQL) Load(ctx context.Context) ([]bot.Bot, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT name, path, running, pid FROM bots ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]bot.Bot, 0)
	for rows.Next() {
		var (
			b   bot.Bot
			pid sql.NullInt64
		)
		if err := rows.Scan(&b.Name, &b.Path, &b.Running, &pid); err != nil {
			return nil, err
		}
		if pid.Valid {
			v := int(pid.Int64)
			b.PID = &v
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Save rewrites the table inside one transaction.
func (s *SQL) Save(ctx context.Context, bots []bot.Bot) (err error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, `DELETE FROM bots`); err != nil {
		return err
	}
	for i, b := range bots {
		var pid sql.NullInt64
		if b.PID != nil {
			pid = sql.NullInt64{Int64: int64(*b.PID), Valid: true}
		}
		if _, err = tx.ExecContext(ctx, s.Insert, i, b.Name, b.Path, b.Running, pid); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQL) Close() error {
	if s.DB != nil {
		return s.DB.Close()
	}
	return nil
}
