package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/sells-group/territory-cli/internal/boundary"
	"github.com/sells-group/territory-cli/internal/config"
	"github.com/sells-group/territory-cli/internal/metrics"
	"github.com/sells-group/territory-cli/internal/territory"
)

var boundariesCmd = &cobra.Command{
	Use:   "boundaries",
	Short: "Manage MSA boundaries",
}

var boundariesLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Replace all boundaries from a CBSA shapefile",
	Long: "Reads a Census CBSA shapefile (.shp, a directory holding one, or the distribution .zip) and " +
		"atomically replaces every stored boundary. Store assignments are cleared; run assign afterwards.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if p, _ := cmd.Flags().GetString("path"); p != "" {
			cfg.Boundaries.Path = p
		}
		if d, _ := cmd.Flags().GetString("temp-dir"); d != "" {
			cfg.Boundaries.TempDir = d
		}

		return runOp(cmd.Context(), config.ModeBoundaries, "boundaries.load",
			func(ctx context.Context, pool *pgxpool.Pool, rec *metrics.Recorder, onPhase territory.PhaseFunc) (any, error) {
				res, err := boundary.Ingest(ctx, pool, boundary.Options{
					Path:    cfg.Boundaries.Path,
					TempDir: cfg.Boundaries.TempDir,
					OnPhase: onPhase,
				})
				if err != nil {
					return nil, err
				}
				rec.BoundariesLoaded(territory.ClassMetropolitan, res.Metropolitan)
				rec.BoundariesLoaded(territory.ClassMicropolitan, res.Micropolitan)
				printIngest(cmd.OutOrStdout(), res)
				return res, nil
			})
	},
}

func printIngest(out io.Writer, res *boundary.Result) {
	_, _ = fmt.Fprintf(out, "Loaded %d boundaries (%d metropolitan, %d micropolitan) in %s\n",
		res.Loaded, res.Metropolitan, res.Micropolitan, res.Elapsed.Round(time.Millisecond))
	if res.Skipped > 0 {
		_, _ = fmt.Fprintf(out, "Skipped %d records: %d without geometry, %d without code, %d unknown class, %d duplicate code\n",
			res.Skipped, res.Stats.NoGeometry, res.Stats.MissingCode, res.Stats.UnknownClass, res.Stats.DuplicateCode)
	}
}

func init() {
	boundariesLoadCmd.Flags().String("path", "", "shapefile, directory, or .zip archive (overrides boundaries.path)")
	boundariesLoadCmd.Flags().String("temp-dir", "", "where archives are extracted (overrides boundaries.temp_dir)")
	boundariesCmd.AddCommand(boundariesLoadCmd)
	rootCmd.AddCommand(boundariesCmd)
}
