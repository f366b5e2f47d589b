package domain

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidBoundingBox is returned for boxes with inverted or out-of-range edges.
var ErrInvalidBoundingBox = errors.New("invalid bounding box")

// GeoPoint represents a geographic coordinate (WGS 84).
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the point lies within WGS 84 ranges.
func (p GeoPoint) Valid() bool {
	return !math.IsNaN(p.Lat) && !math.IsNaN(p.Lon) &&
		p.Lat >= -90 && p.Lat <= 90 &&
		p.Lon >= -180 && p.Lon <= 180
}

// BoundingBox is a rectangular map region. Anti-meridian wraparound is not supported.
type BoundingBox struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

// Validate requires south < north, west < east and in-range edges.
func (b BoundingBox) Validate() error {
	for _, v := range []float64{b.South, b.West, b.North, b.East} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite edge", ErrInvalidBoundingBox)
		}
	}
	if b.South < -90 || b.North > 90 || b.West < -180 || b.East > 180 {
		return fmt.Errorf("%w: edges out of range", ErrInvalidBoundingBox)
	}
	if b.South >= b.North {
		return fmt.Errorf("%w: south %f must be below north %f", ErrInvalidBoundingBox, b.South, b.North)
	}
	if b.West >= b.East {
		return fmt.Errorf("%w: west %f must be below east %f", ErrInvalidBoundingBox, b.West, b.East)
	}
	return nil
}

// Contains reports whether p lies inside the box, edges included.
func (b BoundingBox) Contains(p GeoPoint) bool {
	return p.Lat >= b.South && p.Lat <= b.North && p.Lon >= b.West && p.Lon <= b.East
}

// Slices splits the box into n horizontal latitude bands, south to north.
func (b BoundingBox) Slices(n int) []BoundingBox {
	if n <= 1 {
		return []BoundingBox{b}
	}
	step := (b.North - b.South) / float64(n)
	out := make([]BoundingBox, n)
	for i := range out {
		out[i] = BoundingBox{
			South: b.South + float64(i)*step,
			West:  b.West,
			North: b.South + float64(i+1)*step,
			East:  b.East,
		}
	}
	out[n-1].North = b.North
	return out
}

// Equal compares edges exactly.
func (b BoundingBox) Equal(o BoundingBox) bool {
	return b.South == o.South && b.West == o.West && b.North == o.North && b.East == o.East
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", b.South, b.West, b.North, b.East)
}

// RegionDiffRequest asks for the records that changed between two boxes.
// A nil Previous means the initial load.
type RegionDiffRequest struct {
	Box      BoundingBox  `json:"box"`
	Previous *BoundingBox `json:"previous,omitempty"`
}

// RegionDiff holds the records entering and leaving the visible region.
type RegionDiff struct {
	Added   []POI `json:"added"`
	Removed []POI `json:"removed"`
}

// Extent returns the tightest box enclosing the route, or false for an empty route.
func (r *Route) Extent() (BoundingBox, bool) {
	if r == nil || len(r.Points) == 0 {
		return BoundingBox{}, false
	}
	box := BoundingBox{
		South: r.Points[0].Lat, North: r.Points[0].Lat,
		West: r.Points[0].Lon, East: r.Points[0].Lon,
	}
	for _, p := range r.Points[1:] {
		box.South = math.Min(box.South, p.Lat)
		box.North = math.Max(box.North, p.Lat)
		box.West = math.Min(box.West, p.Lon)
		box.East = math.Max(box.East, p.Lon)
	}
	return box, true
}

// Bounds returns the route extent padded by padMeters on every side, clamped
// to WGS 84 ranges.
func (r *Route) Bounds(padMeters float64) (BoundingBox, bool) {
	box, ok := r.Extent()
	if !ok {
		return box, false
	}
	latPad := padMeters / 111320.0
	midLat := (box.South + box.North) / 2 * math.Pi / 180
	lonPad := padMeters / (111320.0 * math.Max(math.Cos(midLat), 0.01))

	box.South = math.Max(-90, box.South-latPad)
	box.North = math.Min(90, box.North+latPad)
	box.West = math.Max(-180, box.West-lonPad)
	box.East = math.Min(180, box.East+lonPad)
	return box, true
}
