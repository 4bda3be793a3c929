// Command cakectl runs administrative tasks against the store database.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xenking/cake-heaven/internal/storage/postgres"
)

type root struct {
	databaseURL string
	verbose     bool
	lg          *zap.Logger
}

func main() {
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	r := &root{}
	if err := r.command().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		cancel()
		os.Exit(1)
	}
}

func (r *root) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "cakectl",
		Short:         "Cake Heaven administration",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			lg, err := newLogger(r.verbose)
			if err != nil {
				return err
			}
			r.lg = lg
			if r.databaseURL == "" {
				r.databaseURL = firstEnv("CAKE_DATABASE_URL", "DATABASE_URL")
			}
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if r.lg != nil {
				_ = r.lg.Sync()
			}
		},
	}
	cmd.PersistentFlags().StringVar(&r.databaseURL, "database-url", "", "PostgreSQL connection URL (or CAKE_DATABASE_URL, DATABASE_URL)")
	cmd.PersistentFlags().BoolVarP(&r.verbose, "verbose", "v", false, "Debug logging")

	cmd.AddCommand(
		r.migrateCommand(),
		r.seedCommand(),
		r.couponsCommand(),
		r.walletCommand(),
	)
	return cmd
}

// connect opens the pool. Callers close it.
func (r *root) connect(ctx context.Context) (*pgxpool.Pool, error) {
	if r.databaseURL == "" {
		return nil, errors.New("database URL is required: set --database-url or DATABASE_URL")
	}
	pool, err := postgres.NewPool(ctx, r.databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "connect to database")
	}
	return pool, nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	lg, err := cfg.Build()
	if err != nil {
		return nil, errors.Wrap(err, "build logger")
	}
	return lg, nil
}

func firstEnv(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}
