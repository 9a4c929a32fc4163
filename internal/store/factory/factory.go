package factory

import (
	"errors"
	"strings"

	"github.com/loykin/botvisor/internal/store"
	"github.com/loykin/botvisor/internal/store/jsonfile"
	pg "github.com/loykin/botvisor/internal/store/postgres"
	sq "github.com/loykin/botvisor/internal/store/sqlite"
)

// NewFromDSN selects a store implementation based on DSN.
// Supported:
//   - json:     "json://<path>", "<path>.json" or any bare path without a known suffix
//   - sqlite:   "sqlite://<path>", "<path>.db", "<path>.sqlite"
//   - postgres: DSN starting with "postgres://" or "postgresql://"
func NewFromDSN(dsn string) (store.Store, error) {
	d := strings.TrimSpace(dsn)
	ld := strings.ToLower(d)
	if ld == "" {
		return nil, errors.New("empty DSN")
	}
	switch {
	case strings.HasPrefix(ld, "postgres://") || strings.HasPrefix(ld, "postgresql://"):
		return pg.New(d)
	case strings.HasPrefix(ld, "sqlite://"):
		return sq.New(d[len("sqlite://"):])
	case strings.HasPrefix(ld, "json://"):
		return jsonfile.New(d[len("json://"):])
	case strings.HasSuffix(ld, ".db") || strings.HasSuffix(ld, ".sqlite"):
		return sq.New(d)
	case strings.Contains(ld, "://"):
		return nil, errors.New("unsupported store DSN: " + d)
	default:
		return jsonfile.New(d)
	}
}
