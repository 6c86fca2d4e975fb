package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/sells-group/territory-cli/internal/config"
	"github.com/sells-group/territory-cli/internal/journal"
	"github.com/sells-group/territory-cli/internal/metrics"
	"github.com/sells-group/territory-cli/internal/territory"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store, assignment and boundary counts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		top, _ := cmd.Flags().GetInt("top")
		history, _ := cmd.Flags().GetInt("history")
		out := cmd.OutOrStdout()

		err := runOp(cmd.Context(), config.ModeStatus, "status",
			func(ctx context.Context, pool *pgxpool.Pool, rec *metrics.Recorder, _ territory.PhaseFunc) (any, error) {
				st, err := territory.QueryStatus(ctx, pool, top)
				if err != nil {
					return nil, err
				}
				rec.Assigned(st.AssignedStores)
				printStatus(out, st)
				return st, nil
			})
		if err != nil || history <= 0 {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		j, err := journal.Open(ctx, cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer j.Close() //nolint:errcheck

		runs, err := j.Recent(ctx, history)
		if err != nil {
			return err
		}
		phases := make(map[string][]journal.Phase, len(runs))
		for _, r := range runs {
			ps, err := j.Phases(ctx, r.ID)
			if err != nil {
				return err
			}
			phases[r.ID] = ps
		}
		_, _ = fmt.Fprintln(out)
		formatHistory(out, runs, phases)
		return nil
	},
}

func printStatus(out io.Writer, st *territory.Status) {
	_, _ = fmt.Fprintln(out, "=== Territory Status ===")
	_, _ = fmt.Fprintf(out, "Stores:             %d\n", st.TotalStores)
	_, _ = fmt.Fprintf(out, "Assigned:           %d\n", st.AssignedStores)
	_, _ = fmt.Fprintf(out, "Unassigned:         %d\n", st.UnassignedStores)
	_, _ = fmt.Fprintf(out, "Boundaries:         %d\n", st.TotalBoundaries)

	if len(st.ByClass) > 0 {
		_, _ = fmt.Fprintln(out)
		_, _ = fmt.Fprintln(out, "Boundaries by class:")
		classes := make([]string, 0, len(st.ByClass))
		for c := range st.ByClass {
			classes = append(classes, c)
		}
		sort.Strings(classes)
		for _, c := range classes {
			_, _ = fmt.Fprintf(out, "  %-4s %-14s %d\n", c, territory.ClassLabel(c), st.ByClass[c])
		}
	}

	if len(st.TopBoundaries) > 0 {
		_, _ = fmt.Fprintln(out)
		_, _ = fmt.Fprintln(out, "Top boundaries by store count:")
		for _, b := range st.TopBoundaries {
			_, _ = fmt.Fprintf(out, "  %-6s %-50s %d\n", b.Code, b.Name, b.StoreCount)
		}
	}
}

// formatHistory writes recent journal runs and their phases as a table.
// Failed phases are marked with "!".
func formatHistory(out io.Writer, runs []journal.Run, phases map[string][]journal.Phase) {
	if len(runs) == 0 {
		_, _ = fmt.Fprintln(out, "No recorded runs.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tOP\tSTATUS\tSTARTED\tDURATION\tPHASES\tERROR")
	_, _ = fmt.Fprintln(w, "--\t--\t------\t-------\t--------\t------\t-----")

	for _, r := range runs {
		dur := "-"
		if r.FinishedAt != nil {
			dur = r.Duration().Round(time.Millisecond).String()
		}
		errMsg := r.Error
		if len(errMsg) > 60 {
			errMsg = errMsg[:57] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.Op,
			r.Status,
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
			phaseList(phases[r.ID]),
			errMsg,
		)
	}
	_ = w.Flush()
}

func phaseList(ps []journal.Phase) string {
	if len(ps) == 0 {
		return "-"
	}
	names := make([]string, len(ps))
	for i, p := range ps {
		names[i] = p.Name
		if p.Status == journal.StatusFailed {
			names[i] += "!"
		}
	}
	return strings.Join(names, ",")
}

// truncateID shortens a UUID to its first 8 characters.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	statusCmd.Flags().Int("top", 10, "list the N boundaries with the most stores (0 disables)")
	statusCmd.Flags().Int("history", 0, "also list the N most recent journal runs")
	rootCmd.AddCommand(statusCmd)
}
