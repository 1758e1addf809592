package boundary

import (
	"context"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/hydroindex/internal/sample"
	"github.com/sells-group/hydroindex/internal/zonal"
)

// ShapefileResolver loads zone polygons from a POLYGON shapefile. The file is
// read on every Resolve; wrap it in a Cache to avoid repeated reads.
type ShapefileResolver struct {
	path    string
	idField string
}

// NewShapefileResolver returns a resolver reading path, identifying zones by
// the idField attribute.
func NewShapefileResolver(path, idField string) *ShapefileResolver {
	return &ShapefileResolver{path: path, idField: sample.NormalizeName(idField)}
}

// Name identifies the source in cache keys and errors.
func (r *ShapefileResolver) Name() string { return "shapefile:" + r.path }

// Resolve reads the requested zones. Every requested id must exist.
func (r *ShapefileResolver) Resolve(_ context.Context, ids []string) ([]zonal.Polygon, error) {
	reader, err := shp.Open(r.path)
	if err != nil {
		return nil, eris.Wrapf(err, "boundary: open shapefile %s", r.path)
	}
	defer func() { _ = reader.Close() }()

	idIdx := -1
	for i, f := range reader.Fields() {
		if sample.NormalizeName(strings.TrimRight(f.String(), "\x00")) == r.idField {
			idIdx = i
			break
		}
	}
	if idIdx < 0 {
		return nil, eris.Errorf("boundary: shapefile %s has no attribute %q", r.path, r.idField)
	}

	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	var out []zonal.Polygon
	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()
		id := strings.TrimSpace(strings.TrimRight(reader.Attribute(idIdx), "\x00"))
		if len(want) > 0 && !want[id] {
			continue
		}
		poly, ok := shape.(*shp.Polygon)
		if !ok {
			skipped++
			continue
		}
		mp := polygonToMultiPolygon(poly)
		if mp == nil {
			skipped++
			continue
		}
		out = append(out, zonal.Polygon{ID: id, Geometry: mp})
	}

	if skipped > 0 {
		zap.L().Debug("boundary: skipped non-polygon shapefile records",
			zap.String("path", r.path),
			zap.Int("skipped", skipped),
		)
	}
	if miss := missing(ids, out); len(miss) > 0 {
		return nil, &NotFoundError{Source: r.Name(), IDs: miss}
	}
	return out, nil
}

// polygonToMultiPolygon converts a shapefile Polygon to a geom.MultiPolygon.
// Clockwise rings start a new polygon; counter-clockwise rings are holes of
// the polygon before them.
func polygonToMultiPolygon(p *shp.Polygon) *geom.MultiPolygon {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY)
	var current *geom.Polygon
	flush := func() {
		if current == nil {
			return
		}
		if err := mp.Push(current); err != nil {
			zap.L().Debug("boundary: skipping malformed polygon", zap.Error(err))
		}
		current = nil
	}

	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		if end-start < 4 {
			zap.L().Debug("boundary: skipping degenerate ring", zap.Int32("part", i))
			continue
		}

		flat := make([]float64, 0, 2*(end-start))
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}
		ring := geom.NewLinearRingFlat(geom.XY, flat)

		if signedArea(flat) <= 0 || current == nil {
			flush()
			current = geom.NewPolygon(geom.XY)
		}
		if err := current.Push(ring); err != nil {
			zap.L().Debug("boundary: skipping malformed ring", zap.Int32("part", i), zap.Error(err))
		}
	}
	flush()

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

// signedArea is the shoelace area of a flat XY ring, negative when clockwise.
func signedArea(flat []float64) float64 {
	var a float64
	n := len(flat) / 2
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		a += flat[2*i]*flat[2*j+1] - flat[2*j]*flat[2*i+1]
	}
	return a / 2
}
