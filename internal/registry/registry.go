// Package registry owns the ordered list of bot descriptors and keeps it in
// sync with the durable store.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/loykin/botvisor/internal/bot"
	"github.com/loykin/botvisor/internal/process"
	"github.com/loykin/botvisor/internal/store"
)

// Prober reports whether a pid names a live process.
type Prober func(pid int) bool

// Registry is the in-memory descriptor list. After a failed save the in-memory
// list stays authoritative; the registry remembers it is dirty and retries the
// save on the next mutation or reconciliation.
type Registry struct {
	mu     sync.Mutex
	store  store.Store
	bots   []bot.Bot
	dirty  bool
	alive  Prober
	logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for reconciliation notes.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithProber replaces the OS liveness probe.
func WithProber(p Prober) Option {
	return func(r *Registry) {
		if p != nil {
			r.alive = p
		}
	}
}

// New returns an empty registry backed by st. Call Load to populate it.
func New(st store.Store, opts ...Option) *Registry {
	r := &Registry{
		store:  st,
		bots:   []bot.Bot{},
		alive:  process.Alive,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Load replaces the in-memory list with the store contents, clearing running
// flags whose pid no longer exists. It persists only when something changed.
func (r *Registry) Load(ctx context.Context) ([]bot.Bot, error) {
	loaded, err := r.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load bots: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bots = loaded
	if r.bots == nil {
		r.bots = []bot.Bot{}
	}
	if fixed := r.reconcileLocked(); len(fixed) > 0 || r.dirty {
		if err := r.saveLocked(ctx); err != nil {
			return bot.CloneAll(r.bots), err
		}
	}
	return bot.CloneAll(r.bots), nil
}

// Reconcile probes every running descriptor and corrects the dead ones.
// It returns a copy of the list and the indices that were corrected.
func (r *Registry) Reconcile(ctx context.Context) ([]bot.Bot, []int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fixed := r.reconcileLocked()
	var err error
	if len(fixed) > 0 || r.dirty {
		err = r.saveLocked(ctx)
	}
	return bot.CloneAll(r.bots), fixed, err
}

func (r *Registry) reconcileLocked() []int {
	var fixed []int
	for i := range r.bots {
		b := &r.bots[i]
		if !b.Running {
			continue
		}
		if b.PID != nil && r.alive(*b.PID) {
			continue
		}
		r.logger.Debug("bot process gone, marking stopped", "index", i, "name", b.Name, "pid", b.PIDValue())
		b.MarkStopped()
		fixed = append(fixed, i)
	}
	return fixed
}

// Save writes the full list to the store.
func (r *Registry) Save(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saveLocked(ctx)
}

func (r *Registry) saveLocked(ctx context.Context) error {
	if err := r.store.Save(ctx, bot.CloneAll(r.bots)); err != nil {
		r.dirty = true
		r.logger.Warn("persist bots failed", "error", err)
		return bot.Errorf(bot.ErrPersistenceFailed, "Failed to persist bots: %v", err)
	}
	r.dirty = false
	return nil
}

// Dirty reports whether the last save failed and has not been retried successfully.
func (r *Registry) Dirty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dirty
}

// Add registers the entry point at path. The path must exist; it is stored in
// absolute form and the display name is its parent directory name.
// A persistence error is returned together with the appended descriptor.
func (r *Registry) Add(ctx context.Context, path string) (bot.Bot, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return bot.Bot{}, bot.Errorf(bot.ErrPathRequired, "Path required")
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return bot.Bot{}, bot.Errorf(bot.ErrNotFound, "File not found: %s", path)
		}
		return bot.Bot{}, bot.Errorf(bot.ErrNotFound, "File not found: %s: %v", path, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return bot.Bot{}, bot.Errorf(bot.ErrNotFound, "File not found: %s: %v", path, err)
	}
	b := bot.New(abs)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.bots = append(r.bots, b)
	return b.Clone(), r.saveLocked(ctx)
}

// Delete removes the descriptor at index. Entries above it shift down by one.
// It does not touch any process; stopping first is the supervisor's job.
func (r *Registry) Delete(ctx context.Context, index int) (bot.Bot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if index < 0 || index >= len(r.bots) {
		return bot.Bot{}, bot.Errorf(bot.ErrOutOfRange, "Bot not found")
	}
	removed := r.bots[index]
	r.bots = append(r.bots[:index], r.bots[index+1:]...)
	return removed, r.saveLocked(ctx)
}

// Get returns a copy of the descriptor at index.
func (r *Registry) Get(index int) (bot.Bot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if index < 0 || index >= len(r.bots) {
		return bot.Bot{}, bot.Errorf(bot.ErrNotFound, "Bot not found")
	}
	return r.bots[index].Clone(), nil
}

// List returns a copy of all descriptors without reconciling.
func (r *Registry) List() []bot.Bot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return bot.CloneAll(r.bots)
}

// Len returns the number of descriptors.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bots)
}

// Update applies fn to the descriptor at index and persists the result.
// The mutation is kept in memory even if the save fails.
func (r *Registry) Update(ctx context.Context, index int, fn func(*bot.Bot)) (bot.Bot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if index < 0 || index >= len(r.bots) {
		return bot.Bot{}, bot.Errorf(bot.ErrNotFound, "Bot not found")
	}
	fn(&r.bots[index])
	return r.bots[index].Clone(), r.saveLocked(ctx)
}

// Close closes the underlying store.
func (r *Registry) Close() error {
	if r.store == nil {
		return nil
	}
	return r.store.Close()
}
