// Package logring keeps the process-wide bounded log shared by every bot and
// by the supervisor itself. Oldest entries are evicted first.
package logring

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/botvisor/internal/metrics"
)

// DefaultMaxEntries is the ring capacity used when none is configured.
const DefaultMaxEntries = 1000

// Sources used by the supervisor for its own entries.
const (
	SourceSystem  = "System"
	SourceManager = "Manager"
)

const timeLayout = "2006-01-02 15:04:05"

// Entry is one timestamped log line.
type Entry struct {
	Time    time.Time `json:"timestamp"`
	Source  string    `json:"source"`
	Message string    `json:"message"`
}

// String renders the entry as "[timestamp] source: message".
func (e Entry) String() string {
	return "[" + e.Time.Format(timeLayout) + "] " + e.Source + ": " + e.Message
}

// Ring is a fixed-capacity circular buffer of entries, safe for many
// concurrent appenders and readers.
type Ring struct {
	mu      sync.Mutex
	entries []Entry
	start   int
	count   int
	total   uint64
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a ring holding at most max entries (DefaultMaxEntries if max <= 0).
func New(max int) *Ring {
	if max <= 0 {
		max = DefaultMaxEntries
	}
	return &Ring{
		entries: make([]Entry, max),
		now:     time.Now,
	}
}

// SetLogger mirrors every appended entry to l at debug level.
func (r *Ring) SetLogger(l *slog.Logger) {
	r.mu.Lock()
	r.logger = l
	r.mu.Unlock()
}

// Add appends a message under source, stamped with the current time.
func (r *Ring) Add(source, message string) {
	r.Append(Entry{Time: r.now(), Source: source, Message: message})
}

// Append adds e at the tail, evicting the head when the ring is full.
func (r *Ring) Append(e Entry) {
	r.mu.Lock()
	size := len(r.entries)
	if r.count < size {
		r.entries[(r.start+r.count)%size] = e
		r.count++
	} else {
		r.entries[r.start] = e
		r.start = (r.start + 1) % size
	}
	r.total++
	l := r.logger
	r.mu.Unlock()

	metrics.IncLogEntries()

	if l != nil && l.Enabled(context.Background(), slog.LevelDebug) {
		l.Debug("log", slog.String("source", e.Source), slog.String("message", e.Message))
	}
}

// Snapshot returns the current contents, oldest first.
func (r *Ring) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, r.count)
	size := len(r.entries)
	for i := 0; i < r.count; i++ {
		out[i] = r.entries[(r.start+i)%size]
	}
	return out
}

// Lines returns the snapshot rendered with Entry.String.
func (r *Ring) Lines() []string {
	snap := r.Snapshot()
	out := make([]string, len(snap))
	for i, e := range snap {
		out[i] = e.String()
	}
	return out
}

// Len returns the number of entries currently held.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Cap returns the maximum number of entries.
func (r *Ring) Cap() int { return len(r.entries) }

// Total returns how many entries were ever appended, evicted ones included.
func (r *Ring) Total() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}
