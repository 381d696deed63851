package cli

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/anstrom/cr4wler/internal/db"
)

// migrateCmd represents the migrate command.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
	Long:  `Apply or inspect the embedded database migrations.`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withDatabase(cmd.Context(), func(database *db.DB) error {
			ran, err := db.NewMigrator(database.DB).Up(cmd.Context())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			if len(ran) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Database is up to date.")
				return nil
			}
			for _, name := range ran {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Applied %s\n", name)
			}
			return nil
		})
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which migrations have been applied",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withDatabase(cmd.Context(), func(database *db.DB) error {
			statuses, err := db.NewMigrator(database.DB).Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to read migration status: %w", err)
			}
			displayMigrations(cmd.OutOrStdout(), statuses)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
}

func displayMigrations(out io.Writer, statuses []db.MigrationStatus) {
	table := tablewriter.NewWriter(out)
	table.Header("Migration", "Status", "Applied At")
	for _, st := range statuses {
		status, appliedAt := "pending", "-"
		if st.Applied {
			status = "applied"
			appliedAt = st.AppliedAt.Format("2006-01-02 15:04:05")
		}
		_ = table.Append([]string{st.Name, status, appliedAt})
	}
	_ = table.Render()
}
