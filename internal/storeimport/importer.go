// Package storeimport validates raw location records and upserts them as Stores.
package storeimport

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"go.uber.org/zap"

	"github.com/sells-group/territory-cli/internal/db"
	"github.com/sells-group/territory-cli/internal/territory"
)

// DefaultBatchSize is the number of input records handled per transaction.
const DefaultBatchSize = 100

// storeColumns are written by the importer. boundary_id and boundary_name
// belong to the assignment engine and are never touched here.
var storeColumns = []string{
	"store_id", "name", "store_type", "street_address", "city", "state", "zip",
	"latitude", "longitude", "geom",
}

// mutableColumns are compared to decide whether an existing row changed.
var mutableColumns = []string{
	"name", "store_type", "street_address", "city", "state", "zip", "latitude", "longitude",
}

// Result summarizes an import run. Imported + Skipped == Total once the run
// completes without error.
type Result struct {
	Total       int            `json:"total"`
	Imported    int            `json:"imported"`
	Skipped     int            `json:"skipped"`
	SkipReasons map[string]int `json:"skip_reasons"`
	Batches     int            `json:"batches"`
	Changed     int64          `json:"changed"`
	Elapsed     time.Duration  `json:"elapsed"`
}

// Importer upserts validated store records in fixed-size transactional batches.
type Importer struct {
	pool      db.Pool
	batchSize int
	onPhase   territory.PhaseFunc
}

// Option configures an Importer.
type Option func(*Importer)

// WithBatchSize overrides the per-transaction record count.
func WithBatchSize(n int) Option {
	return func(im *Importer) {
		if n > 0 {
			im.batchSize = n
		}
	}
}

// WithPhaseFunc reports every committed batch to fn as a load phase.
func WithPhaseFunc(fn territory.PhaseFunc) Option {
	return func(im *Importer) { im.onPhase = fn }
}

// NewImporter creates an Importer writing through pool.
func NewImporter(pool db.Pool, opts ...Option) *Importer {
	im := &Importer{pool: pool, batchSize: DefaultBatchSize}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// Import validates and upserts records. Invalid records are skipped, counted
// and logged; they never stop the run. A write failure rolls back the current
// batch and is returned together with the counts of the batches committed so far.
func (im *Importer) Import(ctx context.Context, records []Record) (*Result, error) {
	start := time.Now()
	log := zap.L().With(zap.String("component", "storeimport"))

	res := &Result{Total: len(records), SkipReasons: map[string]int{}}

	for i := 0; i < len(records); i += im.batchSize {
		end := min(i+im.batchSize, len(records))

		stores := make([]territory.Store, 0, end-i)
		for _, rec := range records[i:end] {
			st, reason := Validate(rec)
			if reason != "" {
				res.Skipped++
				res.SkipReasons[reason]++
				log.Warn("skipping store record",
					zap.String("store_id", RecordID(rec)),
					zap.String("reason", reason),
				)
				continue
			}
			stores = append(stores, st)
		}

		if len(stores) == 0 {
			continue
		}

		changed, err := im.upsertBatch(ctx, stores)
		if err != nil {
			log.Error("store batch failed, rolled back",
				zap.Int("batch_start", i),
				zap.Int("batch_end", end),
				zap.Int("committed_batches", res.Batches),
				zap.Error(err),
			)
			res.Elapsed = time.Since(start)
			return res, eris.Wrapf(err, "storeimport: batch %d-%d", i, end)
		}

		res.Imported += len(stores)
		res.Changed += changed
		res.Batches++
		im.onPhase.Report(territory.PhaseLoad,
			fmt.Sprintf("batch %d-%d: %d stores, %d changed", i, end, len(stores), changed))

		log.Debug("batch committed",
			zap.Int("batch_start", i),
			zap.Int("batch_end", end),
			zap.Int("stores", len(stores)),
			zap.Int64("changed", changed),
		)
	}

	res.Elapsed = time.Since(start)
	log.Info("store import complete",
		zap.Int("total", res.Total),
		zap.Int("imported", res.Imported),
		zap.Int("skipped", res.Skipped),
		zap.Int("batches", res.Batches),
		zap.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

// upsertBatch writes one batch of valid stores in its own transaction.
func (im *Importer) upsertBatch(ctx context.Context, stores []territory.Store) (int64, error) {
	rows, err := storeRows(dedupe(stores))
	if err != nil {
		return 0, err
	}

	var changed int64
	err = db.WithTx(ctx, im.pool, func(tx pgx.Tx) error {
		n, err := db.BulkUpsert(ctx, tx, upsertConfig(), rows)
		changed = n
		return err
	})
	if err != nil {
		return 0, territory.WriteFailed("import", territory.PhaseLoad, err)
	}
	return changed, nil
}

func upsertConfig() db.UpsertConfig {
	existing := make([]string, len(mutableColumns))
	incoming := make([]string, len(mutableColumns))
	for i, c := range mutableColumns {
		existing[i] = territory.StoreTable + "." + c
		incoming[i] = "EXCLUDED." + c
	}
	changedWhere := "(" + strings.Join(existing, ", ") + ") IS DISTINCT FROM (" + strings.Join(incoming, ", ") + ")"

	return db.UpsertConfig{
		Table:        territory.StoresFQN,
		Columns:      storeColumns,
		ConflictKeys: []string{"store_id"},
		UpdateCols:   append(append([]string{}, mutableColumns...), "geom"),
		ExtraSet:     []string{"updated_at = now()"},
		UpdateWhere:  changedWhere,
	}
}

// dedupe keeps the last occurrence of each store id, in first-seen order.
func dedupe(stores []territory.Store) []territory.Store {
	pos := make(map[string]int, len(stores))
	out := make([]territory.Store, 0, len(stores))
	for _, st := range stores {
		if i, ok := pos[st.StoreID]; ok {
			out[i] = st
			continue
		}
		pos[st.StoreID] = len(out)
		out = append(out, st)
	}
	return out
}

// storeRows builds COPY rows, deriving the point geometry from lat/lon.
func storeRows(stores []territory.Store) ([][]any, error) {
	rows := make([][]any, 0, len(stores))
	for i := range stores {
		st := &stores[i]
		point, err := ewkb.Marshal(st.Point(), ewkb.NDR)
		if err != nil {
			return nil, eris.Wrapf(err, "storeimport: encode point for %s", st.StoreID)
		}
		rows = append(rows, []any{
			st.StoreID, st.Name, st.StoreType, st.StreetAddress, st.City, st.State, st.Zip,
			st.Latitude, st.Longitude, point,
		})
	}
	return rows, nil
}
