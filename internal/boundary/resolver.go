// Package boundary resolves zone identifiers to polygon geometries from
// PostGIS or shapefiles, with an explicit cache owned by the caller.
package boundary

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/hydroindex/internal/zonal"
)

// Resolver turns zone ids into polygons. An empty id list resolves every zone
// the source holds.
type Resolver interface {
	Name() string
	Resolve(ctx context.Context, ids []string) ([]zonal.Polygon, error)
}

// ErrNotFound is returned when requested ids are missing from the source.
var ErrNotFound = eris.New("boundary: not found")

// NotFoundError lists the ids a source did not have.
type NotFoundError struct {
	Source string
	IDs    []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("boundary: %s has no zones %s", e.Source, strings.Join(e.IDs, ", "))
}

// Unwrap lets errors.Is match ErrNotFound.
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// missing returns the ids absent from got, sorted.
func missing(ids []string, got []zonal.Polygon) []string {
	seen := make(map[string]bool, len(got))
	for _, p := range got {
		seen[p.ID] = true
	}
	var out []string
	for _, id := range ids {
		if !seen[id] {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Merge combines zone polygons into one multipolygon suitable as a study area.
// It returns nil when no zone carries areal geometry.
func Merge(polys []zonal.Polygon) *geom.MultiPolygon {
	mp := geom.NewMultiPolygon(geom.XY)
	for _, p := range polys {
		switch g := p.Geometry.(type) {
		case *geom.Polygon:
			if g != nil {
				_ = mp.Push(toXY(g))
			}
		case *geom.MultiPolygon:
			if g == nil {
				continue
			}
			for i := 0; i < g.NumPolygons(); i++ {
				_ = mp.Push(toXY(g.Polygon(i)))
			}
		}
	}
	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

// toXY drops any Z or M ordinates so polygons from mixed sources can be
// pushed into one XY multipolygon.
func toXY(p *geom.Polygon) *geom.Polygon {
	if p.Layout() == geom.XY {
		return p
	}
	rings := make([][]geom.Coord, p.NumLinearRings())
	for i := range rings {
		for _, c := range p.LinearRing(i).Coords() {
			rings[i] = append(rings[i], geom.Coord{c.X(), c.Y()})
		}
	}
	return geom.NewPolygon(geom.XY).MustSetCoords(rings)
}
