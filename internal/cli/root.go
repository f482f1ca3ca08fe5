// Package cli implements the streamctl command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/streamctl/internal/adapters"
	"github.com/opencode-ai/streamctl/internal/config"
	"github.com/opencode-ai/streamctl/internal/db"
	"github.com/opencode-ai/streamctl/internal/events"
	"github.com/opencode-ai/streamctl/internal/logging"
)

var (
	cfgFile        string
	serverURL      string
	dbPath         string
	logLevel       string
	logFormat      string
	jsonOutput     bool
	jsonlOutput    bool
	nonInteractive bool
	noProgress     bool
	noColor        bool

	appConfig *config.Config
)

// Version is set by the main package.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:           "streamctl",
	Short:         "Stream agent sessions into a live transcript",
	Long:          "streamctl sends messages to an agent server, renders the streamed reply as it arrives and keeps the transcript in sync with the server's stored history.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig(cmd)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/streamctl/config.yaml)")
	flags.StringVar(&serverURL, "server", "", "agent server base URL")
	flags.StringVar(&dbPath, "db", "", "audit database path (empty string from config disables it)")
	flags.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&logFormat, "log-format", "", "log format (console, json)")
	flags.BoolVar(&jsonOutput, "json", false, "output JSON")
	flags.BoolVar(&jsonlOutput, "jsonl", false, "output JSON lines")
	flags.BoolVar(&nonInteractive, "non-interactive", false, "never prompt and never render live updates")
	flags.BoolVar(&noProgress, "no-progress", false, "disable progress output")
	flags.BoolVar(&noColor, "no-color", false, "disable colored output")
}

// Execute runs the root command.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.Version = Version
	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return nil
	}

	var preflight *PreflightError
	if errors.As(err, &preflight) {
		fmt.Fprintln(os.Stderr, preflight.Render())
		return err
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return err
}

func initConfig(cmd *cobra.Command) error {
	if jsonOutput && jsonlOutput {
		return errors.New("--json and --jsonl are mutually exclusive")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	if strings.TrimSpace(serverURL) != "" {
		cfg.Server.URL = strings.TrimSpace(serverURL)
	}
	if cmd.Flags().Changed("db") {
		cfg.Database.Path = dbPath
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format}); err != nil {
		return err
	}

	appConfig = cfg
	return nil
}

// GetConfig returns the loaded configuration, or defaults before loading.
func GetConfig() *config.Config {
	if appConfig == nil {
		return config.DefaultConfig()
	}
	return appConfig
}

func newClient() *adapters.WingmanClient {
	cfg := GetConfig()
	return adapters.NewWingmanClient(cfg.Server.URL, cfg.Server.Timeout)
}

func openDatabase() (*db.DB, error) {
	path := strings.TrimSpace(GetConfig().Database.Path)
	if path == "" {
		return nil, &PreflightError{
			Message:  "audit database is disabled",
			Hint:     "Set database.path in config or pass --db",
			NextStep: "streamctl --db ~/.config/streamctl/streamctl.db events",
		}
	}

	database, err := db.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := database.MigrateUp(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return database, nil
}

// openSink returns a database sink when persistence is enabled and a no-op
// sink otherwise. Failing to open the database is logged, not fatal.
func openSink() events.Sink {
	if strings.TrimSpace(GetConfig().Database.Path) == "" {
		return events.NoopSink{}
	}
	database, err := openDatabase()
	if err != nil {
		logger := logging.Component("cli")
		logger.Warn().Err(err).Msg("audit log disabled")
		return events.NoopSink{}
	}
	return events.NewDatabaseSink(database)
}
