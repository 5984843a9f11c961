// Package cmd implements the agrovoice command line interface.
//
// Following the pattern used by kubectl, hugo, and other standard Go CLI
// tools, all application logic is contained in the cmd package, leaving
// main.go as a minimal entry point.
package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/agrovoice/agrovoice/db"
	"github.com/agrovoice/agrovoice/internal/config"
	"github.com/agrovoice/agrovoice/internal/docstore"
	"github.com/agrovoice/agrovoice/internal/history"
	"github.com/agrovoice/agrovoice/internal/log"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "agrovoice",
		Short: "Agrovoice - conversation history store for the farming assistant",
		Long: `Agrovoice persists farmer/assistant conversations as chunked JSON
documents in PostgreSQL and serves them back in full, as a recent tail,
or page by page.

Configuration is read from ~/.agrovoice/config.yaml and AGROVOICE_*
environment variables; DATABASE_URL overrides the postgres_* settings.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newSessionsCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// Execute is the main entry point for the agrovoice CLI.
func Execute() error {
	return newRootCmd().Execute()
}

// openStore loads configuration, connects to PostgreSQL, applies pending
// migrations and builds the history store. The returned cleanup function
// closes the connection pool.
func openStore(ctx context.Context) (*history.Store, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := log.New(log.Config{Level: cfg.SlogLevel(), JSON: cfg.LogJSON})
	slog.SetDefault(logger)

	connURL := cfg.PostgresURL()
	if err := db.Migrate(connURL); err != nil {
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	docs, err := docstore.NewPostgres(pool, logger.With("component", "docstore"))
	if err != nil {
		pool.Close()
		return nil, nil, err
	}

	store, err := history.New(docs, history.Config{
		MaxMessagesPerChunk: cfg.MaxMessagesPerChunk,
		WriteAttempts:       cfg.WriteAttempts,
	}, logger.With("component", "history"))
	if err != nil {
		pool.Close()
		return nil, nil, err
	}

	return store, pool.Close, nil
}
