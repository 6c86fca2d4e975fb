// Package mapexport renders the current assignment state as a single HTML map.
package mapexport

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"html/template"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/territory-cli/internal/db"
	"github.com/sells-group/territory-cli/internal/territory"
)

// DefaultTolerance is the simplification tolerance in degrees.
const DefaultTolerance = 0.01

// DefaultTitle heads the rendered page.
const DefaultTitle = "Store Territories by MSA"

//go:embed templates/map.html.tmpl
var mapTemplate string

var pageTmpl = template.Must(template.New("map").Parse(mapTemplate))

// Result summarizes an export.
type Result struct {
	Path       string        `json:"path"`
	Boundaries int           `json:"boundaries"`
	Stores     int           `json:"stores"`
	Assigned   int           `json:"assigned"`
	Bytes      int64         `json:"bytes"`
	Elapsed    time.Duration `json:"elapsed"`
}

// Exporter reads boundaries and stores and writes the map document.
type Exporter struct {
	pool      db.Pool
	tolerance float64
	title     string
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithTolerance sets the ST_SimplifyPreserveTopology tolerance. Zero keeps
// full detail; negative values are ignored.
func WithTolerance(t float64) Option {
	return func(x *Exporter) {
		if t >= 0 {
			x.tolerance = t
		}
	}
}

// WithTitle sets the page title.
func WithTitle(title string) Option {
	return func(x *Exporter) {
		if title != "" {
			x.title = title
		}
	}
}

// NewExporter creates an Exporter reading through pool.
func NewExporter(pool db.Pool, opts ...Option) *Exporter {
	x := &Exporter{pool: pool, tolerance: DefaultTolerance, title: DefaultTitle}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

type page struct {
	Title       string
	Generated   string
	Boundaries  int
	Stores      int
	Assigned    int
	Unassigned  int
	BoundaryGeo template.JS
	StoreGeo    template.JS
}

// Export writes the map document to dest, creating parent directories.
// Empty datasets still yield a valid document.
func (x *Exporter) Export(ctx context.Context, dest string) (*Result, error) {
	start := time.Now()
	log := zap.L().With(zap.String("component", "mapexport"), zap.String("dest", dest))

	boundaries, err := x.boundaryFeatures(ctx)
	if err != nil {
		return nil, err
	}
	stores, assigned, err := x.storeFeatures(ctx)
	if err != nil {
		return nil, err
	}

	boundaryJSON, err := json.Marshal(boundaries)
	if err != nil {
		return nil, eris.Wrap(err, "mapexport: encode boundary collection")
	}
	storeJSON, err := json.Marshal(stores)
	if err != nil {
		return nil, eris.Wrap(err, "mapexport: encode store collection")
	}

	var buf bytes.Buffer
	err = pageTmpl.Execute(&buf, page{
		Title:       x.title,
		Generated:   time.Now().UTC().Format(time.RFC3339),
		Boundaries:  len(boundaries.Features),
		Stores:      len(stores.Features),
		Assigned:    assigned,
		Unassigned:  len(stores.Features) - assigned,
		BoundaryGeo: template.JS(boundaryJSON), //nolint:gosec // json.Marshal escapes <, > and &
		StoreGeo:    template.JS(storeJSON),    //nolint:gosec // json.Marshal escapes <, > and &
	})
	if err != nil {
		return nil, eris.Wrap(err, "mapexport: render page")
	}

	if err := writeAtomic(dest, buf.Bytes()); err != nil {
		return nil, err
	}

	res := &Result{
		Path:       dest,
		Boundaries: len(boundaries.Features),
		Stores:     len(stores.Features),
		Assigned:   assigned,
		Bytes:      int64(buf.Len()),
		Elapsed:    time.Since(start),
	}
	log.Info("map exported",
		zap.Int("boundaries", res.Boundaries),
		zap.Int("stores", res.Stores),
		zap.Int("assigned", res.Assigned),
		zap.Int64("bytes", res.Bytes),
		zap.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

// boundaryFeatures reads simplified metropolitan boundaries with their
// assigned-store counts.
func (x *Exporter) boundaryFeatures(ctx context.Context) (*geojson.FeatureCollection, error) {
	rows, err := x.pool.Query(ctx, `
		SELECT b.code, b.name, COUNT(s.store_id) AS store_count,
			ST_AsEWKB(ST_SimplifyPreserveTopology(b.geom, $2)) AS geom
		FROM territory.boundaries b
		LEFT JOIN territory.stores s ON s.boundary_id = b.id
		WHERE b.class_code = $1
		GROUP BY b.id, b.code, b.name, b.geom
		ORDER BY b.code`, territory.ClassMetropolitan, x.tolerance)
	if err != nil {
		return nil, eris.Wrap(err, "mapexport: query boundaries")
	}
	defer rows.Close()

	fc := &geojson.FeatureCollection{Features: []*geojson.Feature{}}
	for rows.Next() {
		var (
			code, name string
			count      int64
			raw        []byte
		)
		if err := rows.Scan(&code, &name, &count, &raw); err != nil {
			return nil, eris.Wrap(err, "mapexport: scan boundary")
		}
		g, err := ewkb.Unmarshal(raw)
		if err != nil {
			return nil, eris.Wrapf(err, "mapexport: decode geometry for %s", code)
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:       code,
			Geometry: g,
			Properties: map[string]any{
				"code":        code,
				"name":        name,
				"store_count": count,
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "mapexport: iterate boundaries")
	}
	return fc, nil
}

// storeFeatures reads every store as a point feature; msa_name is null when
// the store is unassigned.
func (x *Exporter) storeFeatures(ctx context.Context) (*geojson.FeatureCollection, int, error) {
	rows, err := x.pool.Query(ctx, `
		SELECT store_id, name, city, state, latitude, longitude, boundary_id, boundary_name
		FROM territory.stores
		ORDER BY store_id`)
	if err != nil {
		return nil, 0, eris.Wrap(err, "mapexport: query stores")
	}
	defer rows.Close()

	fc := &geojson.FeatureCollection{Features: []*geojson.Feature{}}
	assigned := 0
	for rows.Next() {
		var st territory.Store
		if err := rows.Scan(&st.StoreID, &st.Name, &st.City, &st.State,
			&st.Latitude, &st.Longitude, &st.BoundaryID, &st.BoundaryName); err != nil {
			return nil, 0, eris.Wrap(err, "mapexport: scan store")
		}

		var msaName any
		if st.Assigned() {
			msaName = deref(st.BoundaryName)
			assigned++
		}

		fc.Features = append(fc.Features, &geojson.Feature{
			Geometry: st.Point(),
			Properties: map[string]any{
				"store_id":  st.StoreID,
				"name":      st.Name,
				"city":      deref(st.City),
				"state":     deref(st.State),
				"latitude":  st.Latitude,
				"longitude": st.Longitude,
				"msa_name":  msaName,
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, 0, eris.Wrap(err, "mapexport: iterate stores")
	}
	return fc, assigned, nil
}

func deref(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// writeAtomic writes data to a temp file beside dest and renames it into
// place, so readers never see a partial document.
func writeAtomic(dest string, data []byte) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "mapexport: create %s", dir)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*")
	if err != nil {
		return eris.Wrap(err, "mapexport: create temp file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return eris.Wrapf(err, "mapexport: write %s", tmpName)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return eris.Wrapf(err, "mapexport: sync %s", tmpName)
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrapf(err, "mapexport: close %s", tmpName)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return eris.Wrapf(err, "mapexport: chmod %s", tmpName)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return eris.Wrapf(err, "mapexport: rename to %s", dest)
	}
	return nil
}
