// Package assign recomputes which metropolitan boundary contains each store.
package assign

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

// Tie-break rules for a store contained by more than one metropolitan boundary.
const (
	TieBreakSmallestArea = "smallest_area" // smallest land area, then lowest code
	TieBreakLowestCode   = "lowest_code"
)

var tieBreakOrder = map[string]string{
	TieBreakSmallestArea: "b.land_area ASC, b.code ASC",
	TieBreakLowestCode:   "b.code ASC",
}

// Result summarizes an assignment run.
type Result struct {
	Total       int            `json:"total"`
	Matched     int            `json:"matched"`
	Unassigned  int            `json:"unassigned"`
	PerBoundary map[string]int `json:"per_boundary"`
	Elapsed     time.Duration  `json:"elapsed"`
}

// Engine assigns stores to metropolitan boundaries by point-in-polygon containment.
type Engine struct {
	pool     db.Pool
	tieBreak string
	onPhase  territory.PhaseFunc
}

// Option configures an Engine.
type Option func(*Engine)

// WithTieBreak selects the rule used when several boundaries contain a store.
// Unknown rules are rejected by Run.
func WithTieBreak(rule string) Option {
	return func(e *Engine) {
		if rule != "" {
			e.tieBreak = rule
		}
	}
}

// WithPhaseFunc reports each finished phase of Run to fn.
func WithPhaseFunc(fn territory.PhaseFunc) Option {
	return func(e *Engine) { e.onPhase = fn }
}

// NewEngine creates an Engine using pool.
func NewEngine(pool db.Pool, opts ...Option) *Engine {
	e := &Engine{pool: pool, tieBreak: TieBreakSmallestArea}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run discards every existing assignment and recomputes all of them in one
// transaction. Only metropolitan boundaries are candidates. On failure the
// previous assignments are left as they were.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	log := zap.L().With(zap.String("component", "assign"))

	order, ok := tieBreakOrder[e.tieBreak]
	if !ok {
		return nil, eris.Errorf("assign: unknown tie-break rule %q", e.tieBreak)
	}

	var res *Result
	err := db.WithTx(ctx, e.pool, func(tx pgx.Tx) error {
		r, err := recompute(ctx, tx, order, e.onPhase)
		res = r
		return err
	})
	if err != nil {
		log.Error("assignment failed, previous assignments kept",
			zap.String("phase", territory.FailedPhase(err)),
			zap.Error(err),
		)
		if territory.FailedPhase(err) == "" {
			err = territory.WriteFailed("assign", territory.PhaseTx, err)
		}
		return nil, eris.Wrap(err, "assign: run")
	}

	res.Elapsed = time.Since(start)
	log.Info("assignment complete",
		zap.Int("total", res.Total),
		zap.Int("matched", res.Matched),
		zap.Int("unassigned", res.Unassigned),
		zap.Int("boundaries", len(res.PerBoundary)),
		zap.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

func recompute(ctx context.Context, tx pgx.Tx, order string, onPhase territory.PhaseFunc) (*Result, error) {
	// clear: every assignment is recomputed from scratch.
	cleared, err := tx.Exec(ctx, `
		UPDATE territory.stores
		SET boundary_id = NULL, boundary_name = NULL
		WHERE boundary_id IS NOT NULL OR boundary_name IS NOT NULL`)
	if err != nil {
		return nil, territory.WriteFailed("assign", territory.PhaseClear, err)
	}
	onPhase.Report(territory.PhaseClear, fmt.Sprintf("cleared %d assignments", cleared.RowsAffected()))

	// assign: one containing metropolitan boundary per store.
	tag, err := tx.Exec(ctx, assignSQL(order), territory.ClassMetropolitan)
	if err != nil {
		return nil, territory.WriteFailed("assign", territory.PhaseAssign, err)
	}
	onPhase.Report(territory.PhaseAssign, fmt.Sprintf("assigned %d stores", tag.RowsAffected()))

	// verify: the stored assignment count must match what was just written.
	res := &Result{PerBoundary: map[string]int{}}
	var total, assigned int64
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(boundary_id) FROM territory.stores`,
	).Scan(&total, &assigned); err != nil {
		return nil, territory.WriteFailed("assign", territory.PhaseVerify, err)
	}
	if assigned != tag.RowsAffected() {
		return nil, territory.WriteFailed("assign", territory.PhaseVerify,
			eris.Errorf("assigned %d stores but %d hold a boundary", tag.RowsAffected(), assigned))
	}

	rows, err := tx.Query(ctx, `
		SELECT b.code, COUNT(*)
		FROM territory.stores s
		JOIN territory.boundaries b ON b.id = s.boundary_id
		GROUP BY b.code`)
	if err != nil {
		return nil, territory.WriteFailed("assign", territory.PhaseVerify, err)
	}
	defer rows.Close()

	for rows.Next() {
		var code string
		var n int
		if err := rows.Scan(&code, &n); err != nil {
			return nil, territory.WriteFailed("assign", territory.PhaseVerify, err)
		}
		res.PerBoundary[code] = n
	}
	if err := rows.Err(); err != nil {
		return nil, territory.WriteFailed("assign", territory.PhaseVerify, err)
	}

	onPhase.Report(territory.PhaseVerify, fmt.Sprintf("%d of %d stores hold a boundary", assigned, total))

	res.Total = int(total)
	res.Matched = int(assigned)
	res.Unassigned = int(total - assigned)
	return res, nil
}

// assignSQL builds the containment UPDATE. DISTINCT ON keeps the first
// candidate per store under the tie-break order.
func assignSQL(order string) string {
	return fmt.Sprintf(`
		UPDATE territory.stores AS st
		SET boundary_id = m.boundary_id, boundary_name = m.boundary_name
		FROM (
			SELECT DISTINCT ON (s.store_id) s.store_id, b.id AS boundary_id, b.name AS boundary_name
			FROM territory.stores s
			JOIN territory.boundaries b ON ST_Contains(b.geom, s.geom)
			WHERE b.class_code = $1
			ORDER BY s.store_id, %s
		) m
		WHERE st.store_id = m.store_id`, order)
}
