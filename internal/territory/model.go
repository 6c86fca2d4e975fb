// Package territory holds the canonical records shared by the territory
// assignment pipeline: MSA boundaries, retail stores, and the schema they live in.
package territory

import "github.com/twpayne/go-geom"

// SRID is the coordinate reference used for all stored geometry (WGS84 lon/lat).
const SRID = 4326

// Class codes, taken from the CBSA LSAD attribute.
const (
	ClassMetropolitan = "M1"
	ClassMicropolitan = "M2"
)

// Coverage envelope for store coordinates. Bounds are inclusive.
const (
	MinLatitude  = 17.0
	MaxLatitude  = 72.0
	MinLongitude = -180.0
	MaxLongitude = -60.0
)

// Table names.
const (
	Schema        = "territory"
	BoundaryTable = "boundaries"
	StoreTable    = "stores"
	StoresFQN     = Schema + "." + StoreTable
)

// ValidClass reports whether code is one of the two recognised class codes.
func ValidClass(code string) bool {
	return code == ClassMetropolitan || code == ClassMicropolitan
}

// ClassLabel returns a human-readable label for a class code.
func ClassLabel(code string) string {
	switch code {
	case ClassMetropolitan:
		return "metropolitan"
	case ClassMicropolitan:
		return "micropolitan"
	default:
		return "unknown"
	}
}

// InEnvelope reports whether a coordinate lies inside the coverage envelope.
func InEnvelope(lat, lon float64) bool {
	return lat >= MinLatitude && lat <= MaxLatitude &&
		lon >= MinLongitude && lon <= MaxLongitude
}

// Boundary is a Metropolitan or Micropolitan Statistical Area polygon.
type Boundary struct {
	ID        int                `json:"id"`
	Code      string             `json:"code"`
	Name      string             `json:"name"`
	LongName  string             `json:"long_name"`
	ClassCode string             `json:"class_code"`
	LandArea  int64              `json:"land_area"`
	WaterArea int64              `json:"water_area"`
	Geometry  *geom.MultiPolygon `json:"-"`
}

// Metropolitan reports whether the boundary can receive store assignments.
func (b *Boundary) Metropolitan() bool {
	return b.ClassCode == ClassMetropolitan
}

// Store is a physical retail location.
type Store struct {
	StoreID       string  `json:"store_id"`
	Name          string  `json:"name"`
	StoreType     *string `json:"store_type,omitempty"`
	StreetAddress *string `json:"street_address,omitempty"`
	City          *string `json:"city,omitempty"`
	State         *string `json:"state,omitempty"`
	Zip           *string `json:"zip,omitempty"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	BoundaryID    *int    `json:"boundary_id,omitempty"`
	BoundaryName  *string `json:"boundary_name,omitempty"`
}

// Point returns the store's derived point geometry.
func (s *Store) Point() *geom.Point {
	return geom.NewPointFlat(geom.XY, []float64{s.Longitude, s.Latitude}).SetSRID(SRID)
}

// Assigned reports whether the store currently has a boundary.
func (s *Store) Assigned() bool {
	return s.BoundaryID != nil
}
