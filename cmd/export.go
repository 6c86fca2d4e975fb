package main

import (
	"context"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/sells-group/territory-cli/internal/config"
	"github.com/sells-group/territory-cli/internal/mapexport"
	"github.com/sells-group/territory-cli/internal/metrics"
	"github.com/sells-group/territory-cli/internal/territory"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the interactive territory map",
	Long:  "Renders metropolitan boundaries and all stores into one self-contained HTML document.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if out, _ := cmd.Flags().GetString("out"); out != "" {
			cfg.Export.Path = out
		}
		if cmd.Flags().Changed("tolerance") {
			cfg.Export.Tolerance, _ = cmd.Flags().GetFloat64("tolerance")
		}

		return runOp(cmd.Context(), config.ModeExport, "export",
			func(ctx context.Context, pool *pgxpool.Pool, rec *metrics.Recorder, _ territory.PhaseFunc) (any, error) {
				x := mapexport.NewExporter(pool,
					mapexport.WithTolerance(cfg.Export.Tolerance),
					mapexport.WithTitle(cfg.Export.Title),
				)
				res, err := x.Export(ctx, cfg.Export.Path)
				if err != nil {
					return nil, err
				}
				rec.ExportBytes(res.Bytes)
				printExport(cmd.OutOrStdout(), res)
				return res, nil
			})
	},
}

func printExport(out io.Writer, res *mapexport.Result) {
	_, _ = fmt.Fprintf(out, "Wrote %s (%d bytes): %d boundaries, %d stores, %d assigned\n",
		res.Path, res.Bytes, res.Boundaries, res.Stores, res.Assigned)
}

func init() {
	exportCmd.Flags().String("out", "", "output HTML path (overrides export.path)")
	exportCmd.Flags().Float64("tolerance", mapexport.DefaultTolerance, "geometry simplification tolerance in degrees (overrides export.tolerance)")
	rootCmd.AddCommand(exportCmd)
}
