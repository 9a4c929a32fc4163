// Package supervisor starts, stops and removes bots, owning their OS processes
// and feeding their output into the shared log ring.
//
// State machine per bot:
// Stopped -> Starting -> Running -> Stopping -> Stopped
// Only Stopped and Running are written to the registry.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/loykin/botvisor/internal/bot"
	"github.com/loykin/botvisor/internal/env"
	"github.com/loykin/botvisor/internal/history"
	"github.com/loykin/botvisor/internal/logring"
	"github.com/loykin/botvisor/internal/metrics"
	"github.com/loykin/botvisor/internal/process"
	"github.com/loykin/botvisor/internal/registry"
	"github.com/loykin/botvisor/internal/venv"
)

// DefaultGracePeriod is how long Stop waits after SIGTERM before SIGKILL.
const DefaultGracePeriod = 5 * time.Second

// Supervisor serializes every control operation behind one mutex. The handle
// table is keyed by registry index and lives only in memory.
type Supervisor struct {
	mu      sync.Mutex
	reg     *registry.Registry
	ring    *logring.Ring
	env     *env.Env
	history *history.Recorder
	logger  *slog.Logger
	grace   time.Duration

	handles  map[int]*process.Process
	captures sync.WaitGroup
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithGracePeriod overrides DefaultGracePeriod. Non-positive values are ignored.
func WithGracePeriod(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.grace = d
		}
	}
}

// WithEnv sets the environment composer for spawned bots.
func WithEnv(e *env.Env) Option {
	return func(s *Supervisor) {
		if e != nil {
			s.env = e
		}
	}
}

// WithHistory sets the lifecycle event recorder.
func WithHistory(h *history.Recorder) Option {
	return func(s *Supervisor) { s.history = h }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.logger = l
		}
	}
}

// New returns a supervisor over reg writing bot output to ring.
func New(reg *registry.Registry, ring *logring.Ring, opts ...Option) *Supervisor {
	s := &Supervisor{
		reg:     reg,
		ring:    ring,
		env:     env.New(true),
		logger:  slog.Default(),
		grace:   DefaultGracePeriod,
		handles: make(map[int]*process.Process),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Registry returns the underlying registry.
func (s *Supervisor) Registry() *registry.Registry { return s.reg }

// Ring returns the shared log ring.
func (s *Supervisor) Ring() *logring.Ring { return s.ring }

// GracePeriod returns the configured SIGTERM grace period.
func (s *Supervisor) GracePeriod() time.Duration { return s.grace }

// Start launches the bot at index inside its virtual environment. A
// persistence error is returned alongside the success message: the bot is
// running and the in-memory registry reflects it.
func (s *Supervisor) Start(ctx context.Context, index int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(ctx, index)
}

func (s *Supervisor) startLocked(ctx context.Context, index int) (string, error) {
	// the process outlives the request, so its state must be saved regardless
	ctx = context.WithoutCancel(ctx)
	b, err := s.reg.Get(index)
	if err != nil {
		return "", err
	}

	if b.Running {
		if s.aliveLocked(index, b) {
			return "", bot.Errorf(bot.ErrAlreadyRunning, "Bot already running")
		}
		// died without anyone noticing; correct the descriptor and carry on
		s.logger.Debug("bot marked running but process is gone", "index", index, "name", b.Name, "pid", b.PIDValue())
		delete(s.handles, index)
		if b, err = s.reg.Update(ctx, index, (*bot.Bot).MarkStopped); err != nil && !errors.Is(err, bot.ErrPersistenceFailed) {
			return "", err
		}
		s.setState(b.Name, bot.StateRunning, bot.StateStopped)
		s.emit(history.EventStop, b, bot.StateStopped)
	}

	if _, err := os.Stat(b.Path); err != nil {
		metrics.IncStartFailure(b.Name, "file_missing")
		return "", bot.Errorf(bot.ErrFileMissing, "Bot file not found: %s", b.Path)
	}
	envDir, err := venv.Locate(b.Path)
	if err != nil {
		metrics.IncStartFailure(b.Name, "environment_missing")
		return "", bot.Errorf(bot.ErrEnvironmentMissing, "Virtual environment not found. Create one: python -m venv venv")
	}
	python := venv.Interpreter(envDir)
	if _, err := os.Stat(python); err != nil {
		metrics.IncStartFailure(b.Name, "runtime_missing")
		return "", bot.Errorf(bot.ErrRuntimeMissing, "Python not found in venv")
	}

	s.setState(b.Name, bot.StateStopped, bot.StateStarting)
	p, err := process.Spawn(process.Spec{
		Name:    b.Name,
		Command: python,
		Args:    []string{b.Path},
		WorkDir: b.Dir(),
		Env:     s.env.Merge(nil),
	})
	if err != nil {
		s.setState(b.Name, bot.StateStarting, bot.StateStopped)
		metrics.IncStartFailure(b.Name, "spawn")
		return "", bot.Errorf(bot.ErrSpawnFailed, "Error starting bot: %v", err)
	}
	pid := p.PID()
	s.handles[index] = p

	updated, perr := s.reg.Update(ctx, index, func(b *bot.Bot) { b.MarkRunning(pid) })
	if perr != nil && !errors.Is(perr, bot.ErrPersistenceFailed) {
		// index vanished under us; should not happen with the supervisor lock held
		updated = b
		updated.MarkRunning(pid)
	}
	s.ring.Add(b.Name, fmt.Sprintf("Started (PID: %d)", pid))
	s.capture(p)

	s.setState(b.Name, bot.StateStarting, bot.StateRunning)
	metrics.IncStart(b.Name)
	s.updateRunningGauge()
	s.emit(history.EventStart, updated, bot.StateRunning)
	s.logger.Info("bot started", "index", index, "name", b.Name, "pid", pid)

	msg := fmt.Sprintf("Bot started with PID %d", pid)
	if perr != nil {
		return msg, perr
	}
	return msg, nil
}

// Stop terminates the bot at index: SIGTERM, wait out the grace period, then
// SIGKILL and wait for the process to go away. Once signalled, the stop runs to
// completion even if ctx is cancelled.
func (s *Supervisor) Stop(ctx context.Context, index int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked(ctx, index)
}

func (s *Supervisor) stopLocked(ctx context.Context, index int) (string, error) {
	ctx = context.WithoutCancel(ctx)
	b, err := s.reg.Get(index)
	if err != nil {
		return "", err
	}
	if !b.Running {
		return "", bot.Errorf(bot.ErrNotRunning, "Bot not running")
	}
	pid := b.PIDValue()

	s.setState(b.Name, bot.StateRunning, bot.StateStopping)
	began := time.Now()
	killed, err := s.terminate(index, pid)
	msg := "Bot stopped"
	if err != nil {
		if !errors.Is(err, process.ErrNoProcess) {
			s.setState(b.Name, bot.StateStopping, bot.StateRunning)
			s.logger.Warn("stop bot failed", "index", index, "name", b.Name, "pid", pid, "error", err)
			return "", bot.Errorf(bot.ErrStopFailed, "Error stopping bot: %v", err)
		}
		msg = "Bot was not running"
	}

	delete(s.handles, index)
	updated, perr := s.reg.Update(ctx, index, (*bot.Bot).MarkStopped)
	if perr != nil && !errors.Is(perr, bot.ErrPersistenceFailed) {
		updated = b
		updated.MarkStopped()
	}

	s.setState(b.Name, bot.StateStopping, bot.StateStopped)
	metrics.IncStop(b.Name)
	if killed {
		metrics.IncKill(b.Name)
	}
	metrics.ObserveStopDuration(b.Name, time.Since(began).Seconds())
	s.updateRunningGauge()
	s.ring.Add(b.Name, "Stopped")
	updated.PID = &pid
	s.emit(history.EventStop, updated, bot.StateStopped)
	s.logger.Info("bot stopped", "index", index, "name", b.Name, "pid", pid, "killed", killed)

	if perr != nil {
		return msg, perr
	}
	return msg, nil
}

// terminate signals pid and waits for it to go away. It reports whether the
// process had to be killed. process.ErrNoProcess means it was already gone.
func (s *Supervisor) terminate(index, pid int) (bool, error) {
	owned := s.handles[index]
	if owned != nil && owned.PID() != pid {
		owned = nil
	}
	if err := process.Terminate(pid); err != nil {
		return false, err
	}
	if waitGone(owned, pid, s.grace) {
		return false, nil
	}
	s.logger.Warn("bot ignored SIGTERM, killing", "index", index, "pid", pid, "grace", s.grace)
	if err := process.Kill(pid); err != nil {
		if errors.Is(err, process.ErrNoProcess) {
			// exited between the deadline and the kill
			return false, nil
		}
		return true, err
	}
	waitGone(owned, pid, 0)
	return true, nil
}

func waitGone(owned *process.Process, pid int, d time.Duration) bool {
	if owned != nil {
		return owned.WaitTimeout(d)
	}
	return process.WaitGone(pid, d)
}

// Remove stops the bot at index if needed and deletes it. Bots above index
// move down by one, and so do their handles.
func (s *Supervisor) Remove(ctx context.Context, index int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx = context.WithoutCancel(ctx)

	b, err := s.reg.Get(index)
	if err != nil {
		return "", bot.Errorf(bot.ErrOutOfRange, "Bot not found")
	}
	if b.Running {
		if _, err := s.stopLocked(ctx, index); err != nil &&
			!errors.Is(err, bot.ErrNotRunning) && !errors.Is(err, bot.ErrPersistenceFailed) {
			return "", err
		}
	}

	removed, err := s.reg.Delete(ctx, index)
	if err != nil && !errors.Is(err, bot.ErrPersistenceFailed) {
		return "", err
	}
	s.shiftHandles(index)
	s.ring.Add(logring.SourceManager, "Bot deleted: "+removed.Name)
	s.emit(history.EventRemove, removed, bot.StateStopped)
	metrics.SetCurrentState(removed.Name, bot.StateStopped.String(), false)
	s.logger.Info("bot removed", "index", index, "name", removed.Name)
	return "Bot deleted", err
}

func (s *Supervisor) shiftHandles(index int) {
	next := make(map[int]*process.Process, len(s.handles))
	for i, p := range s.handles {
		switch {
		case i < index:
			next[i] = p
		case i > index:
			next[i-1] = p
		}
	}
	s.handles = next
}

// Add registers a new bot entry point.
func (s *Supervisor) Add(ctx context.Context, path string) (bot.Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.reg.Add(ctx, path)
	if err != nil && !errors.Is(err, bot.ErrPersistenceFailed) {
		return bot.Bot{}, err
	}
	s.ring.Add(logring.SourceManager, "Bot added: "+b.Path)
	s.emit(history.EventAdd, b, bot.StateStopped)
	s.logger.Info("bot added", "name", b.Name, "path", b.Path)
	return b, err
}

// List reconciles descriptors against the OS and returns a copy.
func (s *Supervisor) List(ctx context.Context) ([]bot.Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bots, fixed, err := s.reg.Reconcile(ctx)
	for _, i := range fixed {
		delete(s.handles, i)
		s.setState(bots[i].Name, bot.StateRunning, bot.StateStopped)
	}
	if len(fixed) > 0 {
		s.updateRunningGauge()
	}
	return bots, err
}

// Logs returns the log ring contents, oldest first.
func (s *Supervisor) Logs() []logring.Entry { return s.ring.Snapshot() }

// StopAll stops every bot marked running. It keeps going past failures and
// returns them joined.
func (s *Supervisor) StopAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for i, b := range s.reg.List() {
		if !b.Running {
			continue
		}
		if _, err := s.stopLocked(ctx, i); err != nil && !errors.Is(err, bot.ErrNotRunning) {
			errs = append(errs, fmt.Errorf("stop %s: %w", b.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Wait blocks until every output capture goroutine has finished.
func (s *Supervisor) Wait() { s.captures.Wait() }

// Targets returns the running bots for resource sampling.
func (s *Supervisor) Targets() []metrics.Target {
	var out []metrics.Target
	for i, b := range s.reg.List() {
		if b.Running && b.PID != nil {
			out = append(out, metrics.Target{Index: i, Name: b.Name, PID: int32(*b.PID)})
		}
	}
	return out
}

// aliveLocked prefers the owned handle; after a supervisor restart only the pid is known.
func (s *Supervisor) aliveLocked(index int, b bot.Bot) bool {
	if b.PID == nil {
		return false
	}
	if p, ok := s.handles[index]; ok && p.PID() == *b.PID {
		return !p.Exited()
	}
	return process.Alive(*b.PID)
}

func (s *Supervisor) setState(name string, from, to bot.State) {
	s.logger.Debug("bot state", "name", name, "from", from.String(), "to", to.String())
	metrics.RecordStateTransition(name, from.String(), to.String())
	metrics.SetCurrentState(name, from.String(), false)
	metrics.SetCurrentState(name, to.String(), true)
}

func (s *Supervisor) updateRunningGauge() {
	n := 0
	for _, b := range s.reg.List() {
		if b.Running {
			n++
		}
	}
	metrics.SetRunning(n)
}

func (s *Supervisor) emit(t history.EventType, b bot.Bot, st bot.State) {
	s.history.Emit(t, history.Record{Name: b.Name, Path: b.Path, PID: b.PIDValue(), Status: st.String()})
}
