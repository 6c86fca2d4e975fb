package territory

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/territory-cli/internal/db"
)

// Status is a read-only summary of stores, boundaries and assignments.
type Status struct {
	TotalStores      int             `json:"total_stores"`
	AssignedStores   int             `json:"assigned_stores"`
	UnassignedStores int             `json:"unassigned_stores"`
	TotalBoundaries  int             `json:"total_boundaries"`
	ByClass          map[string]int  `json:"by_class"`
	TopBoundaries    []BoundaryCount `json:"top_boundaries,omitempty"`
}

// BoundaryCount pairs a boundary with the number of stores assigned to it.
type BoundaryCount struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	StoreCount int    `json:"store_count"`
}

// QueryStatus returns current store and boundary counts. topN limits the
// per-boundary listing; 0 skips it.
func QueryStatus(ctx context.Context, pool db.Pool, topN int) (*Status, error) {
	st := &Status{ByClass: map[string]int{}}

	err := pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(boundary_id)
		FROM territory.stores`).Scan(&st.TotalStores, &st.AssignedStores)
	if err != nil {
		return nil, eris.Wrap(err, "territory: count stores")
	}
	st.UnassignedStores = st.TotalStores - st.AssignedStores

	rows, err := pool.Query(ctx, `
		SELECT class_code, COUNT(*)
		FROM territory.boundaries
		GROUP BY class_code
		ORDER BY class_code`)
	if err != nil {
		return nil, eris.Wrap(err, "territory: count boundaries by class")
	}
	defer rows.Close()

	for rows.Next() {
		var class string
		var n int
		if err := rows.Scan(&class, &n); err != nil {
			return nil, eris.Wrap(err, "territory: scan class count")
		}
		st.ByClass[class] = n
		st.TotalBoundaries += n
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "territory: iterate class counts")
	}

	if topN <= 0 {
		return st, nil
	}

	top, err := pool.Query(ctx, `
		SELECT b.code, b.name, COUNT(s.store_id) AS store_count
		FROM territory.boundaries b
		JOIN territory.stores s ON s.boundary_id = b.id
		GROUP BY b.code, b.name
		ORDER BY store_count DESC, b.code
		LIMIT $1`, topN)
	if err != nil {
		return nil, eris.Wrap(err, "territory: top boundaries")
	}
	defer top.Close()

	for top.Next() {
		var bc BoundaryCount
		if err := top.Scan(&bc.Code, &bc.Name, &bc.StoreCount); err != nil {
			return nil, eris.Wrap(err, "territory: scan top boundary")
		}
		st.TopBoundaries = append(st.TopBoundaries, bc)
	}
	if err := top.Err(); err != nil {
		return nil, eris.Wrap(err, "territory: iterate top boundaries")
	}

	return st, nil
}
