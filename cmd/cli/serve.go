// Package cli provides command-line interface commands for cr4wler.
// This file implements the serve command, which runs the HTTP API.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/anstrom/cr4wler/internal/api"
	"github.com/anstrom/cr4wler/internal/config"
	"github.com/anstrom/cr4wler/internal/db"
	"github.com/anstrom/cr4wler/internal/logging"
	"github.com/anstrom/cr4wler/internal/metrics"
)

const (
	databaseTimeout        = 5 * time.Second
	metricsUpdateInterval  = 15 * time.Second
	serverShutdownDeadline = 35 * time.Second
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the host submission and query API",
	Long: `Start the HTTP API. Scanners submit hosts with POST /api/v1/hosts and
the stored result set is read back with GET /api/v1/hosts. Pending database
migrations are applied on startup.`,
	Example: `  cr4wler serve
  cr4wler serve --host 0.0.0.0 --port 8080`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "address to listen on (default from config)")
	serveCmd.Flags().Int("port", 0, "port to listen on (default from config)")

	bindFlags(serveCmd.Flags(), map[string]string{
		"api.host": "host",
		"api.port": "port",
	})
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := logging.Default()

	cfg, err := loadDatabaseConfig()
	if err != nil {
		return err
	}
	if !cfg.API.Enabled {
		return fmt.Errorf("API server is disabled in configuration\n" +
			"Enable it by setting 'api.enabled: true' in config")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := setupServeDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := database.Close(); closeErr != nil {
			logger.Error("Failed to close database connection", "error", closeErr)
		}
	}()

	pm := metrics.GetGlobalMetrics()
	go pm.StartPeriodicUpdates(ctx, metricsUpdateInterval)

	repo := db.NewHostRepository(database, db.WithMetrics(pm))
	server := api.New(cfg.API, repo, api.WithMetrics(pm), api.WithLogger(logger))

	logger.Info("Starting cr4wler API server",
		"version", version,
		"commit", commit,
		"build_time", buildTime,
		"address", server.GetAddress())
	printEndpoints(cmd.OutOrStdout(), server.GetAddress())

	return serveUntilDone(ctx, server, logger)
}

// setupServeDatabase connects, migrates and pings the database.
func setupServeDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*db.DB, error) {
	logger.Info("Connecting to database...")
	database, err := db.ConnectAndMigrate(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, databaseTimeout)
	defer cancel()
	if err := database.Ping(pingCtx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	logger.Info("Database connection successful")
	return database, nil
}

// serveUntilDone runs server until ctx is canceled and bounds the shutdown.
func serveUntilDone(ctx context.Context, server *api.Server, logger *logging.Logger) error {
	done := make(chan error, 1)
	go func() { done <- server.Start(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			logger.Error("API server error", "error", err)
			return fmt.Errorf("API server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	}

	select {
	case err := <-done:
		return err
	case <-time.After(serverShutdownDeadline):
		logger.Warn("Shutdown timeout exceeded, forcing stop")
		return fmt.Errorf("shutdown timeout exceeded")
	}
}

func printEndpoints(out io.Writer, address string) {
	_, _ = fmt.Fprintf(out, "API server listening on %s\n", address)
	_, _ = fmt.Fprintf(out, "  Submit hosts:  POST http://%s/api/v1/hosts\n", address)
	_, _ = fmt.Fprintf(out, "  List hosts:    GET  http://%s/api/v1/hosts\n", address)
	_, _ = fmt.Fprintf(out, "  Health check:  GET  http://%s/api/v1/health\n", address)
	_, _ = fmt.Fprintf(out, "  Metrics:       GET  http://%s/metrics\n", address)
}
