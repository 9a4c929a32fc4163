// Package botvisor supervises long-running Python bots on a single host.
//
// A Daemon owns the registry of bots, their OS processes and the shared log
// ring, and exposes them over an HTTP API. Embedders can build one from a
// Config and mount Handler in their own server.
package botvisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/botvisor/internal/bot"
	cfg "github.com/loykin/botvisor/internal/config"
	"github.com/loykin/botvisor/internal/history"
	hfactory "github.com/loykin/botvisor/internal/history/factory"
	"github.com/loykin/botvisor/internal/logring"
	"github.com/loykin/botvisor/internal/metrics"
	"github.com/loykin/botvisor/internal/registry"
	iapi "github.com/loykin/botvisor/internal/server"
	sfactory "github.com/loykin/botvisor/internal/store/factory"
	"github.com/loykin/botvisor/internal/supervisor"
)

// Re-export core types for external consumers.

type Config = cfg.Config

type Bot = bot.Bot

type LogEntry = logring.Entry

// Error kinds, usable with errors.Is.
var (
	ErrNotFound          = bot.ErrNotFound
	ErrOutOfRange        = bot.ErrOutOfRange
	ErrAlreadyRunning    = bot.ErrAlreadyRunning
	ErrNotRunning        = bot.ErrNotRunning
	ErrPersistenceFailed = bot.ErrPersistenceFailed
)

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// Daemon wires store, registry, supervisor, history and metrics together.
type Daemon struct {
	cfg    *Config
	logger *slog.Logger

	sup     *supervisor.Supervisor
	history *history.Recorder

	server     *http.Server
	metricsSrv *http.Server
	cancel     context.CancelFunc
}

// NewDaemon opens the configured store, loads and reconciles the bots and
// connects history sinks. Nothing listens until Serve is called.
func NewDaemon(ctx context.Context, c *Config, logger *slog.Logger) (*Daemon, error) {
	if c == nil {
		return nil, errors.New("nil config")
	}
	if logger == nil {
		logger = slog.Default()
	}

	st, err := sfactory.NewFromDSN(c.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	reg := registry.New(st, registry.WithLogger(logger))
	if _, err := reg.Load(ctx); err != nil {
		if !errors.Is(err, bot.ErrPersistenceFailed) {
			_ = st.Close()
			return nil, err
		}
		logger.Warn("persist reconciled bots failed", "error", err)
	}

	botEnv, err := c.BotEnv()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	sinks, err := hfactory.NewSinksFromDSNs(c.History.Sinks)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("open history sinks: %w", err)
	}
	rec := history.NewRecorder(logger, sinks...)

	ring := logring.New(c.Log.RingSize)
	ring.SetLogger(logger)

	sup := supervisor.New(reg, ring,
		supervisor.WithGracePeriod(c.Supervisor.GracePeriod),
		supervisor.WithEnv(botEnv),
		supervisor.WithHistory(rec),
		supervisor.WithLogger(logger),
	)
	return &Daemon{cfg: c, logger: logger, sup: sup, history: rec}, nil
}

// Supervisor returns the underlying supervisor.
func (d *Daemon) Supervisor() *supervisor.Supervisor { return d.sup }

// Handler returns the HTTP API mounted under the configured base path.
func (d *Daemon) Handler() http.Handler { return d.router().Handler() }

func (d *Daemon) router() *iapi.Router {
	return iapi.NewRouter(d.sup, d.cfg.Server.BasePath).
		WithMetrics(d.cfg.Metrics.Enabled).
		WithLogger(d.logger)
}

// Serve registers metrics (when enabled), starts resource sampling and binds
// the API listener. It returns once the listeners are bound.
func (d *Daemon) Serve(ctx context.Context) error {
	if d.server != nil {
		return errors.New("daemon already serving")
	}
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if d.cfg.Metrics.Enabled {
		if err := d.startMetrics(ctx); err != nil {
			cancel()
			return err
		}
	}

	srv, err := iapi.NewServer(d.cfg.Server.Listen, d.router())
	if err != nil {
		cancel()
		if d.metricsSrv != nil {
			_ = d.metricsSrv.Close()
		}
		return fmt.Errorf("listen %s: %w", d.cfg.Server.Listen, err)
	}
	d.server = srv
	d.sup.Ring().Add(logring.SourceSystem, "Bot Manager started")
	d.logger.Info("botvisor listening", "addr", srv.Addr, "base_path", d.cfg.Server.BasePath)
	return nil
}

func (d *Daemon) startMetrics(ctx context.Context) error {
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	collector := metrics.NewResourceCollector(d.cfg.Metrics.SampleInterval, d.logger)
	if err := collector.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register resource metrics: %w", err)
	}
	go collector.Run(ctx, d.sup.Targets)

	if d.cfg.Metrics.Listen == "" {
		return nil
	}
	srv, err := ServeMetrics(d.cfg.Metrics.Listen, d.logger)
	if err != nil {
		return fmt.Errorf("metrics listen %s: %w", d.cfg.Metrics.Listen, err)
	}
	d.metricsSrv = srv
	return nil
}

// Addr returns the bound API address, or "" before Serve.
func (d *Daemon) Addr() string {
	if d.server == nil {
		return ""
	}
	return d.server.Addr
}

// Shutdown stops the listeners, stops every bot when stop_on_exit is set and
// closes the history sinks and the store.
func (d *Daemon) Shutdown(ctx context.Context) error {
	var errs []error
	if d.server != nil {
		errs = append(errs, d.server.Shutdown(ctx))
	}
	if d.metricsSrv != nil {
		errs = append(errs, d.metricsSrv.Shutdown(ctx))
	}
	if d.cancel != nil {
		d.cancel()
	}
	if d.cfg.StopOnExit {
		errs = append(errs, d.sup.StopAll(ctx))
		d.sup.Wait()
	}
	errs = append(errs, d.history.Close(), d.sup.Registry().Close())
	return errors.Join(errs...)
}

// Operations mirrored from the supervisor for embedders.

func (d *Daemon) List(ctx context.Context) ([]Bot, error) {
	return d.sup.List(ctx)
}

func (d *Daemon) Add(ctx context.Context, path string) (Bot, error) {
	return d.sup.Add(ctx, path)
}

func (d *Daemon) Start(ctx context.Context, idx int) (string, error) {
	return d.sup.Start(ctx, idx)
}

func (d *Daemon) Stop(ctx context.Context, idx int) (string, error) {
	return d.sup.Stop(ctx, idx)
}

func (d *Daemon) Remove(ctx context.Context, idx int) (string, error) {
	return d.sup.Remove(ctx, idx)
}

func (d *Daemon) Logs() []LogEntry { return d.sup.Logs() }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// Bind errors are returned synchronously; serving continues in the background.
func ServeMetrics(addr string, logger *slog.Logger) (*http.Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
	return srv, nil
}
