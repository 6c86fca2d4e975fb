// Package boundary replaces the MSA boundary set from an external shapefile.
package boundary

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/territory-cli/internal/db"
	"github.com/sells-group/territory-cli/internal/territory"
)

// stagingTable is transaction-local and dropped on commit.
const stagingTable = "_stage_boundaries"

var stagingColumns = []string{"code", "name", "long_name", "class_code", "land_area", "water_area", "geom"}

// Options configures a boundary ingestion run.
type Options struct {
	Path    string // .shp file, directory, or .zip archive
	TempDir string // where archives are extracted; default os.TempDir()

	OnPhase territory.PhaseFunc // called as each replacement phase finishes
}

// Result summarizes an ingestion run.
type Result struct {
	Loaded       int           `json:"loaded"`
	Skipped      int           `json:"skipped"`
	Metropolitan int           `json:"metropolitan"`
	Micropolitan int           `json:"micropolitan"`
	Stats        ParseStats    `json:"stats"`
	Elapsed      time.Duration `json:"elapsed"`
}

// Ingest replaces every Boundary record with the contents of the dataset at
// opts.Path. The dataset is fully parsed before anything is written. The
// replacement (stage, clear store references, delete, insert, verify) runs in
// one transaction, so a failure leaves the prior boundary set intact.
func Ingest(ctx context.Context, pool db.Pool, opts Options) (*Result, error) {
	start := time.Now()
	log := zap.L().With(zap.String("component", "boundary.ingest"), zap.String("path", opts.Path))

	shpPath, cleanup, err := resolveSource(opts.Path, opts.TempDir)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	boundaries, stats, err := ParseShapefile(shpPath)
	if err != nil {
		return nil, err
	}
	if len(boundaries) == 0 {
		return nil, eris.Wrapf(territory.ErrConversionFailed,
			"boundary: %s produced no usable boundaries (%d records read)", shpPath, stats.Read)
	}

	res := &Result{Skipped: stats.Skipped(), Stats: stats}
	rows := make([][]any, 0, len(boundaries))
	for _, b := range boundaries {
		wkb, err := EncodeEWKB(b.Geometry)
		if err != nil {
			return nil, eris.Wrapf(territory.ErrConversionFailed, "boundary: %s: %v", b.Code, err)
		}
		rows = append(rows, []any{b.Code, b.Name, b.LongName, b.ClassCode, b.LandArea, b.WaterArea, wkb})
		if b.Metropolitan() {
			res.Metropolitan++
		} else {
			res.Micropolitan++
		}
	}

	log.Info("boundary dataset parsed",
		zap.Int("boundaries", len(rows)),
		zap.Int("skipped", res.Skipped),
	)

	err = db.WithTx(ctx, pool, func(tx pgx.Tx) error {
		n, err := replace(ctx, tx, rows, opts.OnPhase)
		res.Loaded = n
		return err
	})
	if err != nil {
		log.Error("boundary ingestion failed, prior boundary set kept",
			zap.String("phase", territory.FailedPhase(err)),
			zap.Error(err),
		)
		if territory.FailedPhase(err) == "" {
			err = territory.WriteFailed("ingest", territory.PhaseTx, err)
		}
		return nil, eris.Wrap(err, "boundary: ingest")
	}

	res.Elapsed = time.Since(start)
	log.Info("boundaries replaced",
		zap.Int("loaded", res.Loaded),
		zap.Int("metropolitan", res.Metropolitan),
		zap.Int("micropolitan", res.Micropolitan),
		zap.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

// replace swaps the staged rows in for the current boundary set inside tx.
func replace(ctx context.Context, tx pgx.Tx, rows [][]any, onPhase territory.PhaseFunc) (int, error) {
	// load: stage the new set.
	if _, err := tx.Exec(ctx, `
		CREATE TEMP TABLE _stage_boundaries (
			code       TEXT NOT NULL,
			name       TEXT NOT NULL,
			long_name  TEXT NOT NULL,
			class_code TEXT NOT NULL,
			land_area  BIGINT NOT NULL,
			water_area BIGINT NOT NULL,
			geom       geometry(MultiPolygon, 4326) NOT NULL
		) ON COMMIT DROP`); err != nil {
		return 0, territory.WriteFailed("ingest", territory.PhaseLoad, err)
	}
	staged, err := db.CopyFrom(ctx, tx, stagingTable, stagingColumns, rows)
	if err != nil {
		return 0, territory.WriteFailed("ingest", territory.PhaseLoad, err)
	}
	onPhase.Report(territory.PhaseLoad, fmt.Sprintf("staged %d boundaries", staged))

	// clear: drop store references, then the old boundaries.
	unlinked, err := tx.Exec(ctx, `
		UPDATE territory.stores
		SET boundary_id = NULL, boundary_name = NULL
		WHERE boundary_id IS NOT NULL`)
	if err != nil {
		return 0, territory.WriteFailed("ingest", territory.PhaseClear, err)
	}
	deleted, err := tx.Exec(ctx, `DELETE FROM territory.boundaries`)
	if err != nil {
		return 0, territory.WriteFailed("ingest", territory.PhaseClear, err)
	}
	onPhase.Report(territory.PhaseClear, fmt.Sprintf("unlinked %d stores, deleted %d boundaries",
		unlinked.RowsAffected(), deleted.RowsAffected()))

	// swap: move the staged set into place.
	tag, err := tx.Exec(ctx, `
		INSERT INTO territory.boundaries (code, name, long_name, class_code, land_area, water_area, geom)
		SELECT code, name, long_name, class_code, land_area, water_area, ST_Multi(geom)
		FROM _stage_boundaries`)
	if err != nil {
		return 0, territory.WriteFailed("ingest", territory.PhaseSwap, err)
	}
	onPhase.Report(territory.PhaseSwap, fmt.Sprintf("inserted %d boundaries", tag.RowsAffected()))

	// verify: every staged row must have landed.
	var count int64
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM territory.boundaries`).Scan(&count); err != nil {
		return 0, territory.WriteFailed("ingest", territory.PhaseVerify, err)
	}
	if count != staged || tag.RowsAffected() != staged {
		return 0, territory.WriteFailed("ingest", territory.PhaseVerify,
			eris.Errorf("staged %d boundaries but %d inserted, %d present", staged, tag.RowsAffected(), count))
	}

	onPhase.Report(territory.PhaseVerify, fmt.Sprintf("%d boundaries present", count))

	return int(count), nil
}
