package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tallybook/tallybook/internal/auth"
	"github.com/tallybook/tallybook/internal/billing"
	"github.com/tallybook/tallybook/internal/config"
	"github.com/tallybook/tallybook/internal/database"
	"github.com/tallybook/tallybook/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// CLI flags
var (
	configFile string
	dbPath     string
	verbosity  int
)

// app holds the opened store and the services built on it for one command run.
type app struct {
	cfg     *config.Config
	db      *database.DB
	auth    *auth.Service
	billing *billing.Service
	logFile io.Closer
}

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "tallybook",
		Short:         "Tallybook - retail billing store",
		Long:          `Tallybook keeps users, the product catalog, customers, invoices and payments in a local SQLite database.`,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (default ./tallybook.yaml if present)")
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "SQLite database path (overrides db.path and TALLYBOOK_DB_PATH)")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase verbosity (-v debug, -vv trace)")

	rootCmd.AddCommand(
		newInitCmd(),
		newLoginCmd(),
		newUserCmd(),
		newCategoryCmd(),
		newProductCmd(),
		newCustomerCmd(),
		newSaleCmd(),
		newPaymentCmd(),
		newInvoiceCmd(),
		newMaintenanceCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Show version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("tallybook %s (commit: %s, built: %s)\n", version, commit, date)
			},
		},
	)
	return rootCmd
}

// openApp loads configuration, opens the store, makes sure the schema exists and wires
// the services. The caller must call close.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.DB.Path = dbPath
	}

	level := logging.LevelFromVerbosity(verbosity, cfg.Log.Level)
	logging.Console(level)

	cost := cfg.Auth.BcryptCost
	db, err := database.Open(cfg.DB.Path, database.Options{
		MaxOpenConns: cfg.DB.MaxOpenConns,
		BusyTimeout:  cfg.DB.BusyTimeout,
		Retry: database.RetryPolicy{
			Attempts:  cfg.DB.Retry.Attempts,
			BaseDelay: cfg.DB.Retry.BaseDelay,
			MaxDelay:  cfg.DB.Retry.MaxDelay,
		},
		HashPassword: func(password string) (string, error) {
			return auth.HashPassword(password, cost)
		},
		AdminPassword: cfg.Seed.AdminPassword,
	})
	if err != nil {
		return nil, err
	}

	report, err := db.EnsureReady(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare database: %w", err)
	}

	loader := config.NewLoader(db)
	logPath := cfg.Log.File
	if logPath == "" {
		logPath = logging.FilePathForDB(cfg.DB.Path)
	}
	logFile := logging.Apply(level, loader, logPath)

	if report.Seeded {
		log.Warn().Str("username", database.DefaultAdminUsername).Msg("Seeded default administrator; change its password with 'tallybook user passwd'")
	}

	authSvc, err := auth.NewService(db, auth.Options{
		BcryptCost:           cost,
		MaxAttemptsPerMinute: loader.Int("auth.max_attempts_per_minute", 0),
	})
	if err != nil {
		logFile.Close()
		db.Close()
		return nil, err
	}

	return &app{
		cfg:     cfg,
		db:      db,
		auth:    authSvc,
		billing: billing.NewService(db, loader.String("billing.default_payment_method", database.DefaultPaymentMethod)),
		logFile: logFile,
	}, nil
}

func (a *app) close() {
	if err := a.db.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close database")
	}
	a.logFile.Close()
}

// withApp runs fn with an opened app and a context cancelled on SIGINT/SIGTERM.
func withApp(fn func(ctx context.Context, a *app) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		return fn(ctx, a)
	}
}
