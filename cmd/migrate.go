package main

import (
	"context"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/sells-group/territory-cli/internal/config"
	"github.com/sells-group/territory-cli/internal/metrics"
	"github.com/sells-group/territory-cli/internal/territory"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply datastore schema migrations",
	Long:  "Creates the territory schema, the boundaries and stores tables, and their spatial indexes.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runOp(cmd.Context(), config.ModeMigrate, "migrate",
			func(ctx context.Context, pool *pgxpool.Pool, _ *metrics.Recorder, _ territory.PhaseFunc) (any, error) {
				applied, err := territory.Migrate(ctx, pool)
				if err != nil {
					return nil, err
				}
				printMigrate(cmd.OutOrStdout(), applied)
				return map[string]int{"applied": applied}, nil
			})
	},
}

func printMigrate(out io.Writer, applied int) {
	if applied == 0 {
		_, _ = fmt.Fprintln(out, "Schema is up to date")
		return
	}
	_, _ = fmt.Fprintf(out, "Applied %d migration(s)\n", applied)
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
