package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/sells-group/territory-cli/internal/assign"
	"github.com/sells-group/territory-cli/internal/config"
	"github.com/sells-group/territory-cli/internal/metrics"
	"github.com/sells-group/territory-cli/internal/territory"
)

var assignCmd = &cobra.Command{
	Use:   "assign",
	Short: "Recompute store to metropolitan-area assignments",
	Long: "Clears every assignment and reassigns each store to the metropolitan boundary containing it, " +
		"in one transaction. Micropolitan boundaries are never assigned.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runOp(cmd.Context(), config.ModeAssign, "assign",
			func(ctx context.Context, pool *pgxpool.Pool, rec *metrics.Recorder, onPhase territory.PhaseFunc) (any, error) {
				e := assign.NewEngine(pool,
					assign.WithTieBreak(cfg.Assign.TieBreak),
					assign.WithPhaseFunc(onPhase),
				)
				res, err := e.Run(ctx)
				if err != nil {
					return nil, err
				}
				rec.Assigned(res.Matched)
				printAssign(cmd.OutOrStdout(), res)
				return res, nil
			})
	},
}

var locateCmd = &cobra.Command{
	Use:   "locate",
	Short: "Show the boundaries around a coordinate and which one a store there would get",
	RunE: func(cmd *cobra.Command, _ []string) error {
		lat, _ := cmd.Flags().GetFloat64("lat")
		lon, _ := cmd.Flags().GetFloat64("lon")
		top, _ := cmd.Flags().GetInt("top")

		return runOp(cmd.Context(), config.ModeAssign, "locate",
			func(ctx context.Context, pool *pgxpool.Pool, _ *metrics.Recorder, _ territory.PhaseFunc) (any, error) {
				cands, err := assign.NewEngine(pool, assign.WithTieBreak(cfg.Assign.TieBreak)).Locate(ctx, lat, lon, top)
				if err != nil {
					return nil, err
				}
				printCandidates(cmd.OutOrStdout(), cands)
				return cands, nil
			})
	},
}

func printAssign(out io.Writer, res *assign.Result) {
	_, _ = fmt.Fprintf(out, "Assigned %d of %d stores (%d unassigned) across %d boundaries in %s\n",
		res.Matched, res.Total, res.Unassigned, len(res.PerBoundary), res.Elapsed.Round(time.Millisecond))
}

func printCandidates(out io.Writer, cands []assign.Candidate) {
	if len(cands) == 0 {
		_, _ = fmt.Fprintln(out, "No boundaries loaded.")
		return
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].DistanceKM < cands[j].DistanceKM })

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CODE\tNAME\tCLASS\tCONTAINS\tDISTANCE_KM\tASSIGNED")
	for _, c := range cands {
		chosen := ""
		if c.Chosen {
			chosen = "*"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%.1f\t%s\n", c.Code, c.Name, c.ClassCode, c.Contains, c.DistanceKM, chosen)
	}
	_ = w.Flush()
}

func init() {
	locateCmd.Flags().Float64("lat", 0, "latitude")
	locateCmd.Flags().Float64("lon", 0, "longitude")
	locateCmd.Flags().Int("top", 3, "number of nearest boundaries to list")
	_ = locateCmd.MarkFlagRequired("lat")
	_ = locateCmd.MarkFlagRequired("lon")
	rootCmd.AddCommand(assignCmd, locateCmd)
}
