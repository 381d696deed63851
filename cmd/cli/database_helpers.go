package cli

import (
	"context"
	"fmt"

	"github.com/anstrom/cr4wler/internal/config"
	"github.com/anstrom/cr4wler/internal/db"
	"github.com/anstrom/cr4wler/internal/logging"
)

// DatabaseOperation represents a function that operates on a database connection.
type DatabaseOperation func(*db.DB) error

// loadDatabaseConfig loads the configuration and checks that it is complete
// enough to open a database connection.
func loadDatabaseConfig() (*config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// withDatabase executes the given operation with a database connection.
// It handles all database setup and cleanup, returning any errors that occur.
func withDatabase(ctx context.Context, operation DatabaseOperation) error {
	cfg, err := loadDatabaseConfig()
	if err != nil {
		return err
	}

	database, err := db.Connect(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("error connecting to database: %w", err)
	}
	defer func() {
		if closeErr := database.Close(); closeErr != nil {
			logging.Warn("Failed to close database connection", "error", closeErr)
		}
	}()

	return operation(database)
}
