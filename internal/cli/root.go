// Package cli provides the command-line interface for the signal tracker.
package cli

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"signal-tracker/internal/config"
	"signal-tracker/internal/logging"
	"signal-tracker/internal/security"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2024-03-01"
)

// App holds the application dependencies shared by commands.
type App struct {
	ConfigDir string
	Config    *config.Config
	Logger    zerolog.Logger
}

// NewRootCmd creates the root command for the CLI. Configuration is loaded
// before any subcommand runs.
func NewRootCmd() *cobra.Command {
	app := &App{Logger: zerolog.Nop()}

	rootCmd := &cobra.Command{
		Use:   "tracker",
		Short: "Crypto signal tracker",
		Long: `Signal Tracker polls TradingView indicators for a watch-list of crypto pairs,
announces long and short entries on Telegram and follows each signal until it
hits its first take-profit or its stop.

Use 'tracker run' to start polling and 'tracker positions' or 'tracker history'
to inspect what has been tracked.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.init(cmd)
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/signal-tracker)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newRunCmd(app))
	rootCmd.AddCommand(newPositionsCmd(app))
	rootCmd.AddCommand(newHistoryCmd(app))
	rootCmd.AddCommand(newWatchlistCmd(app))

	return rootCmd
}

// Execute runs the root command with ctx.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

func (app *App) init(cmd *cobra.Command) error {
	if cmd.Name() == "version" {
		return nil
	}
	app.ConfigDir, _ = cmd.Flags().GetString("config")
	if app.ConfigDir == "" {
		app.ConfigDir = config.DefaultConfigDir()
	}

	cfg, err := config.Load(app.ConfigDir)
	if err != nil {
		return err
	}
	app.Config = cfg

	debug, _ := cmd.Flags().GetBool("debug")
	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}

	// Only the long-running command logs to the console; inspection commands
	// keep stdout clean for their output.
	long := cmd.Name() == "run"
	app.Logger = logging.NewLoggerWithConfig(logging.LogConfig{
		Level:      level,
		Console:    long || debug,
		ConsoleOut: cmd.ErrOrStderr(),
		File:       long && cfg.Logging.File,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
	})

	if cfg.Created {
		NewOutput(cmd).Warning("Created config template at %s", cfg.Path)
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			}
			output.Printf("Signal Tracker v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
			return nil
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(redacted(app.Config))
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			path := config.ConfigPath(app.ConfigDir)
			if output.IsJSON() {
				return output.JSON(map[string]string{"path": path})
			}
			output.Println(path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			// Load already validated; re-check so edits made since are caught.
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("✓ Configuration is valid")
			return nil
		},
	})

	return cmd
}

// redacted returns a copy of cfg with secrets masked.
func redacted(cfg *config.Config) config.Config {
	c := *cfg
	c.Notifications.Telegram.BotToken = mask(c.Notifications.Telegram.BotToken)
	c.Store.Redis.Password = mask(c.Store.Redis.Password)
	return c
}

func mask(s string) string {
	return security.MaskCredential(s)
}

func showConfig(output *Output, cfg *config.Config) {
	s := cfg.Scanner
	output.Bold("Scanner")
	output.Printf("  Exchange:         %s (%s)\n", s.Exchange, s.Screener)
	output.Printf("  Entry:            %s every %s\n", s.EntryTimeframe, s.EntryInterval)
	output.Printf("  Monitor:          %s every %s\n", s.MonitorTimeframe, s.MonitorInterval)
	output.Printf("  Concurrency:      %d\n", s.Concurrency)
	if s.WatchlistFile != "" {
		output.Printf("  Watch-list file:  %s\n", s.WatchlistFile)
	}
	output.Printf("  Watch-list:       %s\n", s.WatchlistName)
	output.Println()

	st := cfg.Strategy
	output.Bold("Strategy")
	output.Printf("  RSI:              > %.0f long, < %.0f short\n", st.RSIOverbought, st.RSIOversold)
	output.Printf("  EMA200 distance:  %.2f%%\n", st.MaxEMA200Distance*100)
	output.Printf("  Confirmation:     %v\n", st.ConfirmationTimeframes)
	output.Printf("  Stop:             %.2f%%\n", st.StopPercent*100)
	output.Printf("  TP multiples:     %v\n", st.TPMultiples)
	output.Printf("  Cool-down:        %s\n", st.Cooldown)
	output.Println()

	output.Bold("Retry")
	output.Printf("  Attempts:         %d, %s apart\n", cfg.Retry.Attempts, cfg.Retry.Delay)
	output.Println()

	output.Bold("Store")
	output.Printf("  Driver:           %s\n", cfg.Store.Driver)
	switch cfg.Store.Driver {
	case "sqlite":
		output.Printf("  Path:             %s\n", cfg.Store.Path)
	case "redis":
		output.Printf("  Redis:            %s db=%d prefix=%q\n", cfg.Store.Redis.Addr, cfg.Store.Redis.DB, cfg.Store.Redis.Prefix)
	}
	output.Println()

	t := cfg.Notifications.Telegram
	output.Bold("Notifications")
	output.Printf("  Telegram:         %v (dry run: %v, ready: %v)\n", t.Enabled, t.DryRun, cfg.TelegramReady())
	output.Printf("  Terminal mirror:  %v\n", cfg.Notifications.Terminal)
	output.Println()

	output.Bold("Metrics")
	if cfg.Metrics.Enabled {
		output.Printf("  Listening on:     %s\n", cfg.Metrics.Addr)
	} else {
		output.Println("  Disabled")
	}
}

func requireArgs(n int, usage string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return fmt.Errorf("usage: %s", usage)
		}
		return nil
	}
}
