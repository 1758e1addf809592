// Package sample defines point-sampled measurements and loaders for the
// shapefile and spreadsheet formats field teams deliver them in.
package sample

import (
	"math"
	"sort"
	"strings"

	"github.com/twpayne/go-geom"
)

// Point is one sampling location in projected planar coordinates. A missing
// key or a non-finite value means the parameter was not measured there.
type Point struct {
	ID     string             `json:"id,omitempty"`
	X      float64            `json:"x"`
	Y      float64            `json:"y"`
	Values map[string]float64 `json:"values"`
}

// Value returns the measurement for parameter and whether it is usable.
func (p Point) Value(parameter string) (float64, bool) {
	v, ok := p.Values[parameter]
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Coords returns the planar coordinates of every point.
func Coords(points []Point) []geom.Coord {
	coords := make([]geom.Coord, 0, len(points))
	for _, p := range points {
		coords = append(coords, geom.Coord{p.X, p.Y})
	}
	return coords
}

// Parameters returns the sorted union of parameter names across points.
func Parameters(points []Point) []string {
	seen := make(map[string]bool)
	for _, p := range points {
		for name := range p.Values {
			seen[name] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CountValid returns how many points carry a usable value for parameter.
func CountValid(points []Point, parameter string) int {
	n := 0
	for _, p := range points {
		if _, ok := p.Value(parameter); ok {
			n++
		}
	}
	return n
}

// NormalizeName lower-cases and trims a parameter name so "Nitrate " and
// "nitrate" address the same surface and threshold.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
