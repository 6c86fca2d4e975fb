package boundary

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/territory-cli/internal/territory"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fixture struct {
	code, name, longName, lsad string
	aland, awater              int
	rings                      [][]shp.Point
}

// square returns a clockwise ring with its lower-left corner at (x, y).
func square(x, y, size float64) []shp.Point {
	return []shp.Point{
		{X: x, Y: y},
		{X: x, Y: y + size},
		{X: x + size, Y: y + size},
		{X: x + size, Y: y},
		{X: x, Y: y},
	}
}

// reverse returns pts in the opposite winding order.
func reverse(pts []shp.Point) []shp.Point {
	out := make([]shp.Point, len(pts))
	for i, p := range pts {
		out[len(pts)-1-i] = p
	}
	return out
}

// writeShapefile writes a CBSA-shaped polygon shapefile into dir.
func writeShapefile(t *testing.T, dir string, recs []fixture, fields ...shp.Field) string {
	t.Helper()
	path := filepath.Join(dir, "tl_test_cbsa.shp")

	w, err := shp.Create(path, shp.POLYGON)
	require.NoError(t, err)

	if len(fields) == 0 {
		fields = []shp.Field{
			shp.StringField("CBSAFP", 5),
			shp.StringField("NAME", 100),
			shp.StringField("NAMELSAD", 120),
			shp.StringField("LSAD", 2),
			shp.NumberField("ALAND", 14),
			shp.NumberField("AWATER", 14),
		}
	}
	require.NoError(t, w.SetFields(fields))

	for i, r := range recs {
		poly := shp.Polygon(*shp.NewPolyLine(r.rings))
		w.Write(&poly)
		values := []any{r.code, r.name, r.longName, r.lsad, r.aland, r.awater}
		for f := range fields {
			require.NoError(t, w.WriteAttribute(i, f, values[f]))
		}
	}
	w.Close()

	// go-shp v0.1.1 names the attribute file "<base>dbf"; shp.Open wants "<base>.dbf".
	base := strings.TrimSuffix(path, ".shp")
	require.NoError(t, os.Rename(base+"dbf", base+".dbf"))
	return path
}

func sampleFixtures() []fixture {
	return []fixture{
		{
			code: "35620", name: "New York-Newark-Jersey City, NY-NJ",
			longName: "New York-Newark-Jersey City, NY-NJ Metro Area", lsad: "M1",
			aland: 21000000000, awater: 3000000000,
			rings: [][]shp.Point{square(-75, 40, 1)},
		},
		{
			code: "10100", name: "Aberdeen, SD", longName: "Aberdeen, SD Micro Area", lsad: "M2",
			aland: 7400000000, awater: 100000000,
			rings: [][]shp.Point{square(-99, 45, 1)},
		},
	}
}

func TestParseShapefile_Basic(t *testing.T) {
	path := writeShapefile(t, t.TempDir(), sampleFixtures())

	got, stats, err := ParseShapefile(path)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, 2, stats.Read)
	assert.Equal(t, 0, stats.Skipped())

	ny := got[0]
	assert.Equal(t, "35620", ny.Code)
	assert.Equal(t, "New York-Newark-Jersey City, NY-NJ", ny.Name)
	assert.Equal(t, "New York-Newark-Jersey City, NY-NJ Metro Area", ny.LongName)
	assert.Equal(t, territory.ClassMetropolitan, ny.ClassCode)
	assert.Equal(t, int64(21000000000), ny.LandArea)
	assert.Equal(t, int64(3000000000), ny.WaterArea)
	require.NotNil(t, ny.Geometry)
	assert.Equal(t, territory.SRID, ny.Geometry.SRID())
	assert.Equal(t, 1, ny.Geometry.NumPolygons())

	assert.Equal(t, territory.ClassMicropolitan, got[1].ClassCode)
}

func TestParseShapefile_SkipsUnknownClassAndDuplicates(t *testing.T) {
	recs := sampleFixtures()
	recs = append(recs,
		fixture{code: "99999", name: "Bogus", lsad: "XX", rings: [][]shp.Point{square(-90, 30, 1)}},
		fixture{code: "35620", name: "Duplicate", lsad: "M1", rings: [][]shp.Point{square(-91, 30, 1)}},
		fixture{code: "", name: "No code", lsad: "M1", rings: [][]shp.Point{square(-92, 30, 1)}},
	)
	path := writeShapefile(t, t.TempDir(), recs)

	got, stats, err := ParseShapefile(path)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 5, stats.Read)
	assert.Equal(t, 1, stats.UnknownClass)
	assert.Equal(t, 1, stats.DuplicateCode)
	assert.Equal(t, 1, stats.MissingCode)
	assert.Equal(t, 3, stats.Skipped())
}

func TestParseShapefile_LongNameFallsBackToName(t *testing.T) {
	recs := []fixture{{code: "12060", name: "Atlanta-Sandy Springs-Roswell, GA", lsad: "M1", rings: [][]shp.Point{square(-85, 33, 1)}}}
	path := writeShapefile(t, t.TempDir(), recs)

	got, _, err := ParseShapefile(path)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, got[0].Name, got[0].LongName)
}

func TestParseShapefile_MissingRequiredField(t *testing.T) {
	recs := []fixture{{code: "12060", name: "Atlanta", rings: [][]shp.Point{square(-85, 33, 1)}}}
	path := writeShapefile(t, t.TempDir(), recs,
		shp.StringField("CBSAFP", 5),
		shp.StringField("NAME", 100),
	)

	_, _, err := ParseShapefile(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, territory.ErrConversionFailed)
	assert.Contains(t, err.Error(), "LSAD")
}

func TestParseShapefile_ProjectedCoordinates(t *testing.T) {
	recs := []fixture{{code: "12060", name: "Atlanta", lsad: "M1", rings: [][]shp.Point{square(1500000, 1200000, 1000)}}}
	path := writeShapefile(t, t.TempDir(), recs)

	_, _, err := ParseShapefile(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, territory.ErrConversionFailed)
	assert.Contains(t, err.Error(), "geographic")
}

func TestParseShapefile_OpenError(t *testing.T) {
	_, _, err := ParseShapefile(filepath.Join(t.TempDir(), "nope.shp"))
	require.Error(t, err)
	assert.ErrorIs(t, err, territory.ErrConversionFailed)
}

func TestPolygonToMultiPolygon_HoleAttachesToShell(t *testing.T) {
	pl := shp.NewPolyLine([][]shp.Point{
		square(-80, 25, 4),
		reverse(square(-79, 26, 1)), // counter-clockwise hole
	})
	poly := shp.Polygon(*pl)

	mp := polygonToMultiPolygon(&poly)
	require.NotNil(t, mp)
	assert.Equal(t, 1, mp.NumPolygons())
	assert.Equal(t, 2, mp.Polygon(0).NumLinearRings())
}

func TestPolygonToMultiPolygon_MultipleShells(t *testing.T) {
	pl := shp.NewPolyLine([][]shp.Point{
		square(-80, 25, 1),
		square(-82, 27, 1),
	})
	poly := shp.Polygon(*pl)

	mp := polygonToMultiPolygon(&poly)
	require.NotNil(t, mp)
	assert.Equal(t, 2, mp.NumPolygons())
}

func TestPolygonToMultiPolygon_AllCounterClockwise(t *testing.T) {
	pl := shp.NewPolyLine([][]shp.Point{
		reverse(square(-80, 25, 1)),
		reverse(square(-82, 27, 1)),
	})
	poly := shp.Polygon(*pl)

	mp := polygonToMultiPolygon(&poly)
	require.NotNil(t, mp)
	assert.Equal(t, 2, mp.NumPolygons())
}

func TestPolygonToMultiPolygon_ClosesOpenRing(t *testing.T) {
	open := []shp.Point{{X: -80, Y: 25}, {X: -80, Y: 26}, {X: -79, Y: 26}, {X: -79, Y: 25}}
	pl := shp.NewPolyLine([][]shp.Point{open})
	poly := shp.Polygon(*pl)

	mp := polygonToMultiPolygon(&poly)
	require.NotNil(t, mp)
	ring := mp.Polygon(0).LinearRing(0)
	require.Equal(t, 5, ring.NumCoords())
	assert.Equal(t, ring.Coord(0), ring.Coord(4))
}

func TestPolygonToMultiPolygon_Empty(t *testing.T) {
	assert.Nil(t, polygonToMultiPolygon(nil))
	assert.Nil(t, polygonToMultiPolygon(&shp.Polygon{}))
}

func TestEncodeEWKB(t *testing.T) {
	pl := shp.NewPolyLine([][]shp.Point{square(-80, 25, 1)})
	poly := shp.Polygon(*pl)

	data, err := EncodeEWKB(polygonToMultiPolygon(&poly))
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	_, err = EncodeEWKB(nil)
	assert.Error(t, err)
}

func TestSignedArea_Orientation(t *testing.T) {
	cw := closeRing(square(0, 0, 1))
	ccw := closeRing(reverse(square(0, 0, 1)))
	assert.InDelta(t, -1.0, signedArea(cw), 1e-9)
	assert.InDelta(t, 1.0, signedArea(ccw), 1e-9)
}
