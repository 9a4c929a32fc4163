package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/botvisor"
	"github.com/loykin/botvisor/internal/logger"
)

// createServeCommand creates the serve subcommand
func createServeCommand(globalFlags *GlobalFlags, out io.Writer) *cobra.Command {
	serveFlags := &ServeFlags{}

	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the botvisor daemon",
		Long: `Start the botvisor daemon serving the bot API.
Configuration is read from a TOML file when given; every key has a default.

Examples:
  botvisor serve                     # defaults: :5000, /api, bots_config.json
  botvisor serve config.toml         # Start with specific config file
  botvisor serve --daemonize         # Run in background (pidfile from [server].pidfile)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			serveFlags.ConfigPath = globalFlags.ConfigPath
			if len(args) > 0 {
				serveFlags.ConfigPath = args[0]
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, serveFlags, out)
		},
	}

	cmd.Flags().BoolVar(&serveFlags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "redirect daemon stdout/stderr to file")
	cmd.Flags().StringVar(&serveFlags.PidFile, "pidfile", "", "write the daemon PID here (overrides [server].pidfile)")

	return cmd
}

// runServe blocks until ctx is cancelled.
func runServe(ctx context.Context, flags *ServeFlags, out io.Writer) error {
	cfg, err := botvisor.LoadConfig(flags.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	pidFile := flags.PidFile
	if pidFile == "" {
		pidFile = cfg.Server.PIDFile
	}

	if flags.Daemonize {
		logFile := flags.LogFile
		if logFile == "" {
			logFile = cfg.Server.LogFile
		}
		_, err := daemonize(pidFile, logFile, out)
		return err
	}

	log, closer, err := logger.NewWithWriter(cfg.Logger(), out)
	if err != nil {
		return fmt.Errorf("error setting up logger: %w", err)
	}
	defer func() { _ = closer.Close() }()

	d, err := botvisor.NewDaemon(ctx, cfg, log)
	if err != nil {
		return err
	}
	if err := d.Serve(ctx); err != nil {
		_ = d.Shutdown(context.Background())
		return err
	}
	if pidFile != "" {
		if err := writePidFile(pidFile, os.Getpid()); err != nil {
			log.Warn("write pidfile failed", "path", pidFile, "error", err)
		}
		defer func() { _ = removePidFile(pidFile) }()
	}
	_, _ = fmt.Fprintf(out, "Starting botvisor HTTP server on %s%s\n", d.Addr(), cfg.Server.BasePath)

	<-ctx.Done()

	_, _ = fmt.Fprintln(out, "Shutting down...")
	sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second+2*cfg.Supervisor.GracePeriod)
	defer cancel()
	return d.Shutdown(sctx)
}
