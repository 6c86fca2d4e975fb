package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/territory-cli/internal/assign"
	"github.com/sells-group/territory-cli/internal/boundary"
	"github.com/sells-group/territory-cli/internal/config"
	"github.com/sells-group/territory-cli/internal/journal"
	"github.com/sells-group/territory-cli/internal/mapexport"
	"github.com/sells-group/territory-cli/internal/metrics"
	"github.com/sells-group/territory-cli/internal/storeimport"
	"github.com/sells-group/territory-cli/internal/territory"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// withConfig installs c as the command config for one test.
func withConfig(t *testing.T, c *config.Config) {
	t.Helper()
	prev := cfg
	cfg = c
	t.Cleanup(func() { cfg = prev })
}

func newJournal(t *testing.T) *journal.SQLite {
	t.Helper()
	j, err := journal.NewSQLite(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() }) //nolint:errcheck
	require.NoError(t, j.Migrate(context.Background()))
	return j
}

func TestTrack_Success(t *testing.T) {
	j := newJournal(t)
	textfile := filepath.Join(t.TempDir(), "territory.prom")

	err := track(context.Background(), j, metrics.NewRecorder(), textfile, "assign",
		func(_ context.Context, rec *metrics.Recorder, onPhase territory.PhaseFunc) (any, error) {
			onPhase(territory.PhaseClear, "cleared 2 assignments")
			onPhase(territory.PhaseAssign, "assigned 3 stores")
			onPhase(territory.PhaseVerify, "3 of 4 stores hold a boundary")
			rec.Assigned(3)
			return map[string]int{"matched": 3}, nil
		})
	require.NoError(t, err)

	runs, err := j.Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, journal.StatusComplete, runs[0].Status)
	assert.JSONEq(t, `{"matched":3}`, runs[0].Summary)

	phases, err := j.Phases(context.Background(), runs[0].ID)
	require.NoError(t, err)
	require.Len(t, phases, 3)
	for i, name := range []string{territory.PhaseClear, territory.PhaseAssign, territory.PhaseVerify} {
		assert.Equal(t, name, phases[i].Name)
		assert.Equal(t, journal.StatusComplete, phases[i].Status)
	}
	assert.Equal(t, "assigned 3 stores", phases[1].Detail)

	data, err := os.ReadFile(textfile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "territory_assigned_stores 3")
	assert.Contains(t, string(data), `territory_operation_duration_seconds{op="assign"}`)
}

func TestTrack_FailureRecordsPhase(t *testing.T) {
	j := newJournal(t)
	opErr := territory.WriteFailed("ingest", territory.PhaseVerify, errors.New("count mismatch"))

	err := track(context.Background(), j, metrics.NewRecorder(), "", "boundaries.load",
		func(_ context.Context, _ *metrics.Recorder, onPhase territory.PhaseFunc) (any, error) {
			onPhase(territory.PhaseLoad, "staged 2 boundaries")
			return nil, opErr
		})
	require.Error(t, err)
	assert.ErrorIs(t, err, territory.ErrWriteFailed)
	assert.Contains(t, err.Error(), "boundaries.load")

	runs, err := j.Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, journal.StatusFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "count mismatch")

	phases, err := j.Phases(context.Background(), runs[0].ID)
	require.NoError(t, err)
	require.Len(t, phases, 2)
	assert.Equal(t, territory.PhaseLoad, phases[0].Name)
	assert.Equal(t, journal.StatusComplete, phases[0].Status)
	assert.Equal(t, territory.PhaseVerify, phases[1].Name)
	assert.Equal(t, journal.StatusFailed, phases[1].Status)
}

func TestRunOp_InvalidConfigSkipsDatastore(t *testing.T) {
	withConfig(t, &config.Config{})

	called := false
	err := runOp(context.Background(), config.ModeAssign, "assign", func(context.Context, *pgxpool.Pool, *metrics.Recorder, territory.PhaseFunc) (any, error) {
		called = true
		return nil, nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.url is required")
	assert.False(t, called)
}

func TestPrintStatus(t *testing.T) {
	var buf bytes.Buffer
	printStatus(&buf, &territory.Status{
		TotalStores:      10,
		AssignedStores:   7,
		UnassignedStores: 3,
		TotalBoundaries:  935,
		ByClass:          map[string]int{"M1": 393, "M2": 542},
		TopBoundaries:    []territory.BoundaryCount{{Code: "35620", Name: "New York-Newark-Jersey City, NY-NJ", StoreCount: 4}},
	})

	out := buf.String()
	assert.Contains(t, out, "Stores:             10")
	assert.Contains(t, out, "Unassigned:         3")
	assert.Contains(t, out, "metropolitan")
	assert.Contains(t, out, "542")
	assert.Contains(t, out, "35620")
}

func TestFormatHistory(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)
	done := start.Add(2500 * time.Millisecond)
	runs := []journal.Run{
		{ID: "0f8c1d2e-aaaa-bbbb-cccc-000000000000", Op: "assign", Status: journal.StatusComplete, StartedAt: start, FinishedAt: &done},
		{ID: "1a2b3c4d-aaaa-bbbb-cccc-000000000000", Op: "boundaries.load", Status: journal.StatusFailed, StartedAt: start, Error: "verify phase failed"},
	}

	phases := map[string][]journal.Phase{
		runs[1].ID: {
			{Name: territory.PhaseLoad, Status: journal.StatusComplete},
			{Name: territory.PhaseClear, Status: journal.StatusComplete},
			{Name: territory.PhaseVerify, Status: journal.StatusFailed},
		},
	}

	var buf bytes.Buffer
	formatHistory(&buf, runs, phases)

	out := buf.String()
	assert.Contains(t, out, "OP")
	assert.Contains(t, out, "0f8c1d2e")
	assert.NotContains(t, out, "0f8c1d2e-aaaa")
	assert.Contains(t, out, "2026-03-02 09:15")
	assert.Contains(t, out, "2.5s")
	assert.Contains(t, out, "verify phase failed")
	assert.Contains(t, out, "PHASES")
	assert.Contains(t, out, "load,clear,verify!")
}

func TestFormatHistory_Empty(t *testing.T) {
	var buf bytes.Buffer
	formatHistory(&buf, nil, nil)
	assert.Contains(t, buf.String(), "No recorded runs.")
}

func TestPrintSummaries(t *testing.T) {
	var buf bytes.Buffer

	printIngest(&buf, &boundary.Result{Loaded: 2, Metropolitan: 1, Micropolitan: 1, Skipped: 1,
		Stats: boundary.ParseStats{UnknownClass: 1}})
	printImport(&buf, &storeimport.Result{Total: 3, Imported: 2, Skipped: 1, Batches: 1,
		SkipReasons: map[string]int{storeimport.ReasonInvalidCoordinates: 1}})
	printAssign(&buf, &assign.Result{Total: 4, Matched: 3, Unassigned: 1, PerBoundary: map[string]int{"35620": 3}})
	printExport(&buf, &mapexport.Result{Path: "output/msa_map.html", Bytes: 2048, Boundaries: 1, Stores: 4, Assigned: 3})
	printCandidates(&buf, []assign.Candidate{{Code: "35620", Name: "New York", ClassCode: "M1", Contains: true, Chosen: true}})
	printMigrate(&buf, 2)
	printMigrate(&buf, 0)

	out := buf.String()
	assert.Contains(t, out, "Loaded 2 boundaries (1 metropolitan, 1 micropolitan)")
	assert.Contains(t, out, "1 unknown class")
	assert.Contains(t, out, "Imported 2 of 3 stores")
	assert.Contains(t, out, "invalid_coordinates")
	assert.Contains(t, out, "Assigned 3 of 4 stores (1 unassigned) across 1 boundaries")
	assert.Contains(t, out, "Wrote output/msa_map.html (2048 bytes)")
	assert.Contains(t, out, "DISTANCE_KM")
	assert.Contains(t, out, "Applied 2 migration(s)")
	assert.Contains(t, out, "Schema is up to date")
}
