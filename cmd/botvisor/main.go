package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot(os.Stdout)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command with every subcommand attached
func buildRoot(out io.Writer) *cobra.Command {
	globalFlags := &GlobalFlags{}
	botvisorCommand := command{out: out}

	root := createRootCommand(globalFlags)
	root.SetOut(out)

	root.AddCommand(
		createServeCommand(globalFlags, out),
		createListCommand(botvisorCommand),
		createAddCommand(botvisorCommand),
		createStartCommand(botvisorCommand),
		createStopCommand(botvisorCommand),
		createDeleteCommand(botvisorCommand),
		createLogsCommand(botvisorCommand),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "botvisor",
		Short: "Supervisor for Python bots",
		Long: `Botvisor keeps a registry of Python bot scripts, runs each inside its
own virtual environment and captures their output.

Examples:
  botvisor serve                              # Start daemon
  botvisor add /srv/bots/echo/main.py
  botvisor start 0
  botvisor list --api-url=http://remote:5000/api  # Remote list`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")

	return root
}

// addAPIFlags binds the remote daemon connection flags.
func addAPIFlags(cmd *cobra.Command, f *APIFlags, timeout time.Duration) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "daemon URL (default "+defaultAPIUrl+")")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", timeout, "request timeout")
}

func createListCommand(botvisorCommand command) *cobra.Command {
	f := &APIFlags{}
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List bots and their state",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return botvisorCommand.List(*f)
		},
	}
	addAPIFlags(cmd, f, 10*time.Second)
	return cmd
}

func createAddCommand(botvisorCommand command) *cobra.Command {
	f := &AddFlags{}
	cmd := &cobra.Command{
		Use:   "add <path/to/main.py>",
		Short: "Register a bot entry script",
		Long: `Register a bot by the path of its entry script. The bot is named after
the directory holding the script and is not started.

Examples:
  botvisor add /srv/bots/echo/main.py`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Path = args[0]
			return botvisorCommand.Add(*f)
		},
	}
	addAPIFlags(cmd, &f.APIFlags, 10*time.Second)
	return cmd
}

// indexCommand builds start/stop/delete, which all take a bot index.
func indexCommand(use, short string, timeout time.Duration, run func(IndexFlags) error) *cobra.Command {
	f := &IndexFlags{}
	cmd := &cobra.Command{
		Use:   use + " <index>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := parseIndex(args[0])
			if err != nil {
				return err
			}
			f.Index = idx
			return run(*f)
		},
	}
	addAPIFlags(cmd, &f.APIFlags, timeout)
	return cmd
}

func createStartCommand(botvisorCommand command) *cobra.Command {
	return indexCommand("start", "Start a bot in its virtual environment", 10*time.Second, botvisorCommand.Start)
}

// stop and delete may wait out the daemon's grace period
func createStopCommand(botvisorCommand command) *cobra.Command {
	return indexCommand("stop", "Stop a running bot", 60*time.Second, botvisorCommand.Stop)
}

func createDeleteCommand(botvisorCommand command) *cobra.Command {
	cmd := indexCommand("delete", "Stop and remove a bot", 60*time.Second, botvisorCommand.Delete)
	cmd.Aliases = []string{"rm"}
	return cmd
}

func createLogsCommand(botvisorCommand command) *cobra.Command {
	f := &LogsFlags{}
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the daemon's recent log lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return botvisorCommand.Logs(*f)
		},
	}
	cmd.Flags().BoolVar(&f.Raw, "json", false, "print entries as JSON")
	addAPIFlags(cmd, &f.APIFlags, 10*time.Second)
	return cmd
}
