package zonal

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/hydroindex/internal/raster"
)

// Polygon is a zone to aggregate over.
type Polygon struct {
	ID       string
	Geometry geom.T // *geom.Polygon or *geom.MultiPolygon
}

// ErrUnsupportedGeometry is returned for zone geometries that are not areal.
var ErrUnsupportedGeometry = eris.New("zonal: unsupported geometry")

// toOrb converts an areal go-geom geometry into an orb multipolygon.
func toOrb(g geom.T) (orb.MultiPolygon, error) {
	switch v := g.(type) {
	case *geom.Polygon:
		if v == nil {
			return nil, eris.Wrap(ErrUnsupportedGeometry, "zonal: nil polygon")
		}
		return orb.MultiPolygon{polygonToOrb(v)}, nil
	case *geom.MultiPolygon:
		if v == nil {
			return nil, eris.Wrap(ErrUnsupportedGeometry, "zonal: nil multipolygon")
		}
		mp := make(orb.MultiPolygon, 0, v.NumPolygons())
		for i := 0; i < v.NumPolygons(); i++ {
			mp = append(mp, polygonToOrb(v.Polygon(i)))
		}
		return mp, nil
	default:
		return nil, eris.Wrapf(ErrUnsupportedGeometry, "zonal: geometry type %T", g)
	}
}

func polygonToOrb(p *geom.Polygon) orb.Polygon {
	poly := make(orb.Polygon, 0, p.NumLinearRings())
	for i := 0; i < p.NumLinearRings(); i++ {
		coords := p.LinearRing(i).Coords()
		ring := make(orb.Ring, len(coords))
		for j, c := range coords {
			ring[j] = orb.Point{c.X(), c.Y()}
		}
		poly = append(poly, ring)
	}
	return poly
}

// cover calls fn for every cell of grid that belongs to mp. A cell belongs when
// its center lies inside mp, or with allTouched when the cell touches mp at all.
func cover(grid raster.Grid, mp orb.MultiPolygon, allTouched bool, fn func(row, col int)) {
	if len(mp) == 0 {
		return
	}
	b := mp.Bound()
	ext := grid.Extent()
	if b.Max[0] < ext.MinX || b.Min[0] > ext.MaxX || b.Max[1] < ext.MinY || b.Min[1] > ext.MaxY {
		return
	}

	c0 := clampIndex(int(math.Floor((b.Min[0]-grid.OriginX)/grid.CellWidth)), grid.Cols)
	c1 := clampIndex(int(math.Floor((b.Max[0]-grid.OriginX)/grid.CellWidth)), grid.Cols)
	r0 := clampIndex(int(math.Floor((grid.OriginY-b.Max[1])/grid.CellHeight)), grid.Rows)
	r1 := clampIndex(int(math.Floor((grid.OriginY-b.Min[1])/grid.CellHeight)), grid.Rows)

	for row := r0; row <= r1; row++ {
		for col := c0; col <= c1; col++ {
			x, y := grid.CellCenter(row, col)
			if planar.MultiPolygonContains(mp, orb.Point{x, y}) {
				fn(row, col)
				continue
			}
			if allTouched && touches(mp, cellBound(grid, row, col)) {
				fn(row, col)
			}
		}
	}
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

func cellBound(grid raster.Grid, row, col int) orb.Bound {
	minX := grid.OriginX + float64(col)*grid.CellWidth
	maxY := grid.OriginY - float64(row)*grid.CellHeight
	return orb.Bound{
		Min: orb.Point{minX, maxY - grid.CellHeight},
		Max: orb.Point{minX + grid.CellWidth, maxY},
	}
}

// touches reports whether any ring of mp crosses or lies within cell. The
// cell-inside-polygon case is handled by the center test in cover.
func touches(mp orb.MultiPolygon, cell orb.Bound) bool {
	for _, poly := range mp {
		for _, ring := range poly {
			for i := 0; i < len(ring); i++ {
				a := ring[i]
				if cell.Contains(a) {
					return true
				}
				if i+1 < len(ring) && segmentHitsBound(a, ring[i+1], cell) {
					return true
				}
			}
		}
	}
	return false
}

// segmentHitsBound clips segment ab against b (Liang-Barsky).
func segmentHitsBound(a, c orb.Point, b orb.Bound) bool {
	dx, dy := c[0]-a[0], c[1]-a[1]
	t0, t1 := 0.0, 1.0
	clip := func(p, q float64) bool {
		if p == 0 {
			return q >= 0
		}
		r := q / p
		if p < 0 {
			if r > t1 {
				return false
			}
			if r > t0 {
				t0 = r
			}
		} else {
			if r < t0 {
				return false
			}
			if r < t1 {
				t1 = r
			}
		}
		return true
	}
	return clip(-dx, a[0]-b.Min[0]) &&
		clip(dx, b.Max[0]-a[0]) &&
		clip(-dy, a[1]-b.Min[1]) &&
		clip(dy, b.Max[1]-a[1])
}

// Mask returns a copy of s with every cell outside area set to no-data. A nil
// area returns an unmodified copy.
func Mask(s *raster.Surface, area geom.T, allTouched bool) (*raster.Surface, error) {
	if area == nil {
		return s.Clone(), nil
	}
	mp, err := toOrb(area)
	if err != nil {
		return nil, err
	}
	out := raster.NewSurface(s.Grid)
	cover(s.Grid, mp, allTouched, func(row, col int) {
		out.Set(row, col, s.At(row, col))
	})
	return out, nil
}
