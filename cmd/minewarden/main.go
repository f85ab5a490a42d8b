package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// APIFlags holds daemon connection flags shared by client commands.
type APIFlags struct {
	URL     string
	Timeout time.Duration
}

// ServeFlags holds flags for the serve command.
type ServeFlags struct {
	ConfigPath string
	Daemonize  bool
	PIDFile    string
	LogFile    string
	NoLaunch   bool
}

func buildRoot() *cobra.Command {
	root := &cobra.Command{
		Use:   "minewarden",
		Short: "Game server supervision and watchdog",
		Long: `Minewarden launches a game server, scores its health from resource
usage and a TCP liveness probe, and restarts it within a bounded budget,
snapshotting the world before each restart.

Examples:
  minewarden serve config.toml      # Run the supervisor daemon
  minewarden status                 # Show server state and health
  minewarden send "say restarting"  # Forward a console command`,
	}

	root.AddCommand(
		createServeCommand(),
		createStartCommand(),
		createStopCommand(),
		createRestartCommand(),
		createResetCommand(),
		createStatusCommand(),
		createSendCommand(),
		createBackupCommand(),
		createBackupsCommand(),
		createHistoryCommand(),
	)
	return root
}

func addAPIFlags(cmd *cobra.Command, flags *APIFlags) {
	cmd.Flags().StringVar(&flags.URL, "api-url", "http://localhost:8420", "daemon URL")
	cmd.Flags().DurationVar(&flags.Timeout, "api-timeout", 30*time.Second, "request timeout")
}

func createServeCommand() *cobra.Command {
	flags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the supervisor daemon",
		Long: `Run the supervisor daemon: launch the server, monitor it, and expose
the HTTP control API.

Examples:
  minewarden serve config.toml
  minewarden serve --config=config.toml --daemonize
  minewarden serve config.toml --no-launch   # supervise but wait for 'start'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				flags.ConfigPath = args[0]
			}
			return runServe(flags)
		},
	}
	cmd.Flags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file")
	cmd.Flags().BoolVar(&flags.Daemonize, "daemonize", false, "run in the background")
	cmd.Flags().StringVar(&flags.PIDFile, "pidfile", "", "write daemon pid to file")
	cmd.Flags().StringVar(&flags.LogFile, "logfile", "", "redirect daemon logs to file")
	cmd.Flags().BoolVar(&flags.NoLaunch, "no-launch", false, "do not launch the server at startup")
	return cmd
}

func createStartCommand() *cobra.Command {
	flags := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Launch the server and begin monitoring",
		RunE: func(cmd *cobra.Command, args []string) error {
			return clientCommand{flags: *flags}.Start()
		},
	}
	addAPIFlags(cmd, flags)
	return cmd
}

func createStopCommand() *cobra.Command {
	flags := &APIFlags{}
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the server gracefully",
		RunE: func(cmd *cobra.Command, args []string) error {
			return clientCommand{flags: *flags}.Stop(wait)
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 0, "graceful stop timeout (0 uses the daemon's configured timeout)")
	addAPIFlags(cmd, flags)
	return cmd
}

func createRestartCommand() *cobra.Command {
	flags := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Force a restart now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return clientCommand{flags: *flags}.Restart()
		},
	}
	addAPIFlags(cmd, flags)
	return cmd
}

func createResetCommand() *cobra.Command {
	flags := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear the restart budget",
		Long:  "Clear the restart budget, leaving the failed state if the watchdog halted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return clientCommand{flags: *flags}.Reset()
		},
	}
	addAPIFlags(cmd, flags)
	return cmd
}

func createStatusCommand() *cobra.Command {
	flags := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show server state and health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return clientCommand{flags: *flags}.Status()
		},
	}
	addAPIFlags(cmd, flags)
	return cmd
}

func createSendCommand() *cobra.Command {
	flags := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "send <command>",
		Short: "Forward a console command to the server",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return clientCommand{flags: *flags}.Send(args)
		},
	}
	addAPIFlags(cmd, flags)
	return cmd
}

func createBackupCommand() *cobra.Command {
	flags := &APIFlags{}
	var reason string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Take a world snapshot now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return clientCommand{flags: *flags}.Backup(reason)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "manual", "label recorded with the snapshot")
	addAPIFlags(cmd, flags)
	return cmd
}

func createBackupsCommand() *cobra.Command {
	flags := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "backups",
		Short: "List stored world snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			return clientCommand{flags: *flags}.Backups()
		},
	}
	addAPIFlags(cmd, flags)
	return cmd
}

func createHistoryCommand() *cobra.Command {
	flags := &APIFlags{}
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent supervision events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return clientCommand{flags: *flags}.History(limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum events to show")
	addAPIFlags(cmd, flags)
	return cmd
}
