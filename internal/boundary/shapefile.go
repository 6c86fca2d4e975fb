package boundary

import (
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"go.uber.org/zap"

	"github.com/sells-group/territory-cli/internal/territory"
)

// Shapefile attribute names in the Census CBSA distribution.
const (
	fieldCode      = "CBSAFP"
	fieldName      = "NAME"
	fieldLongName  = "NAMELSAD"
	fieldClass     = "LSAD"
	fieldLandArea  = "ALAND"
	fieldWaterArea = "AWATER"
)

// ParseStats counts the records a parse dropped and why.
type ParseStats struct {
	Read          int `json:"read"`
	NoGeometry    int `json:"no_geometry"`
	MissingCode   int `json:"missing_code"`
	UnknownClass  int `json:"unknown_class"`
	DuplicateCode int `json:"duplicate_code"`
}

// Skipped is the total number of dropped records.
func (s ParseStats) Skipped() int {
	return s.NoGeometry + s.MissingCode + s.UnknownClass + s.DuplicateCode
}

// ParseShapefile reads a CBSA shapefile into Boundary records. Failures to
// open or read the file, missing required attributes, and coordinates that
// are not geographic all fail with ErrConversionFailed.
func ParseShapefile(shpPath string) ([]territory.Boundary, ParseStats, error) {
	var stats ParseStats
	log := zap.L().With(zap.String("component", "boundary.shapefile"))

	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, stats, eris.Wrapf(territory.ErrConversionFailed, "boundary: open shapefile %s: %v", shpPath, err)
	}
	defer func() { _ = reader.Close() }()

	if !geographic(reader.BBox()) {
		return nil, stats, eris.Wrapf(territory.ErrConversionFailed,
			"boundary: %s is not in geographic coordinates (bbox %v)", shpPath, reader.BBox())
	}

	idx := fieldIndexes(reader)
	for _, required := range []string{fieldCode, fieldName, fieldClass} {
		if idx[required] < 0 {
			return nil, stats, eris.Wrapf(territory.ErrConversionFailed,
				"boundary: required shapefile field %s not found", required)
		}
	}

	seen := make(map[string]bool)
	var out []territory.Boundary

	for reader.Next() {
		stats.Read++
		_, shape := reader.Shape()

		b := territory.Boundary{
			Code:      attr(reader, idx[fieldCode]),
			Name:      attr(reader, idx[fieldName]),
			LongName:  attr(reader, idx[fieldLongName]),
			ClassCode: strings.ToUpper(attr(reader, idx[fieldClass])),
			LandArea:  attrInt(reader, idx[fieldLandArea]),
			WaterArea: attrInt(reader, idx[fieldWaterArea]),
		}
		if b.LongName == "" {
			b.LongName = b.Name
		}

		switch {
		case b.Code == "":
			stats.MissingCode++
			continue
		case !territory.ValidClass(b.ClassCode):
			log.Debug("skipping boundary with unknown class code",
				zap.String("code", b.Code), zap.String("class_code", b.ClassCode))
			stats.UnknownClass++
			continue
		case seen[b.Code]:
			log.Warn("skipping duplicate boundary code", zap.String("code", b.Code))
			stats.DuplicateCode++
			continue
		}

		poly, ok := shape.(*shp.Polygon)
		if !ok {
			stats.NoGeometry++
			continue
		}
		b.Geometry = polygonToMultiPolygon(poly)
		if b.Geometry == nil {
			stats.NoGeometry++
			continue
		}

		seen[b.Code] = true
		out = append(out, b)
	}

	if err := reader.Err(); err != nil {
		return nil, stats, eris.Wrapf(territory.ErrConversionFailed, "boundary: read %s: %v", shpPath, err)
	}

	return out, stats, nil
}

// EncodeEWKB encodes a boundary geometry as little-endian EWKB with SRID 4326.
func EncodeEWKB(mp *geom.MultiPolygon) ([]byte, error) {
	if mp == nil {
		return nil, eris.New("boundary: nil geometry")
	}
	data, err := ewkb.Marshal(mp, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "boundary: encode EWKB")
	}
	return data, nil
}

// geographic reports whether a bounding box fits lon/lat degree ranges.
func geographic(b shp.Box) bool {
	return b.MinX >= -180 && b.MaxX <= 180 && b.MinY >= -90 && b.MaxY <= 90
}

// fieldIndexes maps each known attribute name to its column, or -1.
func fieldIndexes(reader *shp.Reader) map[string]int {
	idx := map[string]int{
		fieldCode: -1, fieldName: -1, fieldLongName: -1,
		fieldClass: -1, fieldLandArea: -1, fieldWaterArea: -1,
	}
	for i, f := range reader.Fields() {
		name := strings.ToUpper(strings.TrimRight(f.String(), "\x00"))
		if _, ok := idx[name]; ok {
			idx[name] = i
		}
	}
	return idx
}

func attr(reader *shp.Reader, i int) string {
	if i < 0 {
		return ""
	}
	return strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
}

func attrInt(reader *shp.Reader, i int) int64 {
	v := attr(reader, i)
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		// dBase numeric fields occasionally carry a decimal part.
		f, ferr := strconv.ParseFloat(v, 64)
		if ferr != nil {
			return 0
		}
		return int64(f)
	}
	return n
}

// polygonToMultiPolygon converts a shapefile Polygon to a closed go-geom
// MultiPolygon. Shapefile outer rings run clockwise and holes counter-clockwise;
// each hole is attached to the outer ring that precedes it. Files that wind
// every ring counter-clockwise get one polygon per ring.
func polygonToMultiPolygon(p *shp.Polygon) *geom.MultiPolygon {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	var rings [][]float64
	anyClockwise := false
	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		if start < 0 || end > int32(len(p.Points)) || end-start < 3 {
			continue
		}

		ring := closeRing(p.Points[start:end])
		if len(ring) < 8 {
			// A closed ring needs at least four positions.
			continue
		}
		if signedArea(ring) < 0 {
			anyClockwise = true
		}
		rings = append(rings, ring)
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(territory.SRID)
	var current []*geom.LinearRing

	flush := func() {
		if len(current) == 0 {
			return
		}
		poly := geom.NewPolygon(geom.XY)
		for _, lr := range current {
			if err := poly.Push(lr); err != nil {
				zap.L().Debug("boundary: skipping malformed ring", zap.Error(err))
			}
		}
		if poly.NumLinearRings() > 0 {
			if err := mp.Push(poly); err != nil {
				zap.L().Debug("boundary: skipping malformed polygon", zap.Error(err))
			}
		}
		current = nil
	}

	for _, ring := range rings {
		shell := !anyClockwise || signedArea(ring) < 0 || len(current) == 0
		if shell {
			flush()
		}
		current = append(current, geom.NewLinearRingFlat(geom.XY, ring))
	}
	flush()

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

// closeRing returns flat XY coordinates for pts, repeating the first point
// at the end when the ring is open.
func closeRing(pts []shp.Point) []float64 {
	flat := make([]float64, 0, (len(pts)+1)*2)
	for _, pt := range pts {
		flat = append(flat, pt.X, pt.Y)
	}
	first, last := pts[0], pts[len(pts)-1]
	if first.X != last.X || first.Y != last.Y {
		flat = append(flat, first.X, first.Y)
	}
	return flat
}

// signedArea is the shoelace area of a closed flat ring; negative means clockwise.
func signedArea(flat []float64) float64 {
	var sum float64
	for i := 0; i+3 < len(flat); i += 2 {
		sum += flat[i]*flat[i+3] - flat[i+2]*flat[i+1]
	}
	return sum / 2
}
