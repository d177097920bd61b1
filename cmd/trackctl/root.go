package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/syssam/tracker/dialect/sql"
	"github.com/syssam/tracker/session"
	"github.com/syssam/tracker/update"
)

var (
	driverName string
	dsn        string
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "trackctl",
	Short: "Exercise the change tracker against a SQL database",
	Long: `Exercise the change tracker against a SQL database.

Supported drivers are sqlite, postgres, pgx and mysql. Session options can be
loaded from a YAML file with --config.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&driverName, "driver", "sqlite", "database/sql driver name")
	flags.StringVar(&dsn, "dsn", "file:trackctl.db?_pragma=foreign_keys(1)", "data source name")
	flags.StringVarP(&configPath, "config", "c", "", "session config file (YAML)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "log every batch")
}

// open connects to the configured database.
func open() (*sql.Driver, error) {
	drv, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driverName, err)
	}
	return drv, nil
}

// store returns the executor sessions save through. With --verbose every
// batch is logged before it runs.
func store(drv *sql.Driver) update.StoreExecutor {
	if !verbose {
		return drv
	}
	return update.NewDebugExecutor(drv)
}

// sessionOptions returns the options from --config and --verbose.
func sessionOptions() ([]session.Option, error) {
	opts := []session.Option{session.WithLogger(slog.Default())}
	if configPath == "" {
		return opts, nil
	}
	if _, err := os.Stat(configPath); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg, err := session.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return append(opts, session.WithConfig(cfg)), nil
}
