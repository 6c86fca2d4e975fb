package assign

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/territory-cli/internal/territory"
)

// Candidate is a boundary near a point, as reported by Locate.
type Candidate struct {
	Code       string  `json:"code"`
	Name       string  `json:"name"`
	ClassCode  string  `json:"class_code"`
	Contains   bool    `json:"contains"`
	DistanceKM float64 `json:"distance_km"`
	Chosen     bool    `json:"chosen"`
}

// Locate lists the nearest boundaries of either class around a coordinate and
// marks the one Run would assign. It reads only and is meant for diagnosing
// a single location.
func (e *Engine) Locate(ctx context.Context, lat, lon float64, topN int) ([]Candidate, error) {
	if !territory.InEnvelope(lat, lon) {
		return nil, eris.Errorf("assign: %.6f,%.6f is outside the coverage envelope", lat, lon)
	}
	order, ok := tieBreakOrder[e.tieBreak]
	if !ok {
		return nil, eris.Errorf("assign: unknown tie-break rule %q", e.tieBreak)
	}
	if topN <= 0 {
		topN = 3
	}

	query := fmt.Sprintf(`
		SELECT b.code, b.name, b.class_code,
			ST_Contains(b.geom, pt) AS contains,
			CASE WHEN ST_Contains(b.geom, pt) THEN 0
				ELSE ST_Distance(b.geom::geography, pt::geography) / 1000
			END AS distance_km
		FROM territory.boundaries b,
			ST_SetSRID(ST_MakePoint($1, $2), 4326) AS pt
		ORDER BY b.geom <-> pt, %s
		LIMIT $3`, order)

	rows, err := e.pool.Query(ctx, query, lon, lat, topN)
	if err != nil {
		return nil, eris.Wrap(err, "assign: locate query")
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.Code, &c.Name, &c.ClassCode, &c.Contains, &c.DistanceKM); err != nil {
			return nil, eris.Wrap(err, "assign: scan candidate")
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "assign: iterate candidates")
	}

	markChosen(out)
	return out, nil
}

// markChosen flags the first containing metropolitan candidate. Containing
// rows all sit at distance 0, so the query's secondary order is the tie-break.
func markChosen(cands []Candidate) {
	for i, c := range cands {
		if c.Contains && c.ClassCode == territory.ClassMetropolitan {
			cands[i].Chosen = true
			return
		}
	}
}
