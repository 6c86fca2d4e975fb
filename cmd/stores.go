package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/sells-group/territory-cli/internal/config"
	"github.com/sells-group/territory-cli/internal/metrics"
	"github.com/sells-group/territory-cli/internal/storeimport"
	"github.com/sells-group/territory-cli/internal/territory"
)

var storesCmd = &cobra.Command{
	Use:   "stores",
	Short: "Manage store locations",
}

var storesImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Validate and upsert store records",
	Long: "Reads store records from .json, .jsonl, .csv, .xlsx or .yaml and upserts the valid ones by store_id. " +
		"Records without id/name or with coordinates outside the coverage envelope are skipped and counted.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if p, _ := cmd.Flags().GetString("path"); p != "" {
			cfg.Stores.Path = p
		}
		if cmd.Flags().Changed("batch-size") {
			cfg.Stores.BatchSize, _ = cmd.Flags().GetInt("batch-size")
		}

		if err := cfg.Validate(config.ModeStores); err != nil {
			return err
		}
		// Parse before touching the datastore; a bad file never writes anything.
		records, err := storeimport.ReadFile(cfg.Stores.Path)
		if err != nil {
			return err
		}

		return runOp(cmd.Context(), config.ModeStores, "stores.import",
			func(ctx context.Context, pool *pgxpool.Pool, rec *metrics.Recorder, onPhase territory.PhaseFunc) (any, error) {
				im := storeimport.NewImporter(pool,
					storeimport.WithBatchSize(cfg.Stores.BatchSize),
					storeimport.WithPhaseFunc(onPhase),
				)
				res, err := im.Import(ctx, records)
				if res != nil {
					rec.StoreImport(res.Imported, res.SkipReasons)
				}
				if err != nil {
					return res, err
				}
				printImport(cmd.OutOrStdout(), res)
				return res, nil
			})
	},
}

func printImport(out io.Writer, res *storeimport.Result) {
	_, _ = fmt.Fprintf(out, "Imported %d of %d stores in %d batches (%d skipped, %d rows changed) in %s\n",
		res.Imported, res.Total, res.Batches, res.Skipped, res.Changed, res.Elapsed.Round(time.Millisecond))

	reasons := make([]string, 0, len(res.SkipReasons))
	for r := range res.SkipReasons {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		_, _ = fmt.Fprintf(out, "  %-22s %d\n", r, res.SkipReasons[r])
	}
}

func init() {
	storesImportCmd.Flags().String("path", "", "store records file (overrides stores.path)")
	storesImportCmd.Flags().Int("batch-size", storeimport.DefaultBatchSize, "records per transaction (overrides stores.batch_size)")
	storesCmd.AddCommand(storesImportCmd)
	rootCmd.AddCommand(storesCmd)
}
