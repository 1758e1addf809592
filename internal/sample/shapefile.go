package sample

import (
	"math"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ShapefileOptions selects the attribute columns read from a point shapefile.
type ShapefileOptions struct {
	// IDField names the attribute holding the well or station id. Optional.
	IDField string
	// Parameters lists the attribute columns to load. Empty loads every
	// numeric-looking column other than IDField.
	Parameters []string
}

// LoadShapefile reads sample points from a POINT shapefile. Blank or
// non-numeric attribute values are left absent.
func LoadShapefile(path string, opts ShapefileOptions) ([]Point, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "sample: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	fieldIdx := make(map[string]int)
	var fieldNames []string
	for i, f := range reader.Fields() {
		name := NormalizeName(strings.TrimRight(f.String(), "\x00"))
		fieldIdx[name] = i
		fieldNames = append(fieldNames, name)
	}

	idField := NormalizeName(opts.IDField)
	params := make([]string, 0, len(opts.Parameters))
	for _, p := range opts.Parameters {
		name := NormalizeName(p)
		if _, ok := fieldIdx[name]; !ok {
			return nil, eris.Errorf("sample: shapefile %s has no attribute %q", path, p)
		}
		params = append(params, name)
	}
	if len(params) == 0 {
		for _, name := range fieldNames {
			if name != idField {
				params = append(params, name)
			}
		}
	}

	var points []Point
	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()
		pt, ok := shape.(*shp.Point)
		if !ok || pt == nil {
			skipped++
			continue
		}

		p := Point{X: pt.X, Y: pt.Y, Values: make(map[string]float64, len(params))}
		if idx, ok := fieldIdx[idField]; ok && idField != "" {
			p.ID = cleanAttr(reader.Attribute(idx))
		}
		for _, name := range params {
			if v, ok := parseValue(cleanAttr(reader.Attribute(fieldIdx[name]))); ok {
				p.Values[name] = v
			}
		}
		points = append(points, p)
	}

	if skipped > 0 {
		zap.L().Debug("sample: skipped non-point shapefile records",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}

	return points, nil
}

func cleanAttr(s string) string {
	return strings.TrimSpace(strings.TrimRight(s, "\x00"))
}

// parseValue parses a measurement cell. Empty strings and non-finite numbers
// are treated as missing.
func parseValue(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
