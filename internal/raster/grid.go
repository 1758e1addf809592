// Package raster holds the regular grid and surface types shared by the
// interpolation, index and zonal packages, plus the grid builder.
package raster

import (
	"fmt"
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// DefaultCellSize is the cell size in projected distance units used when a
// caller does not provide one.
const DefaultCellSize = 30.0

// ErrInvalidExtent is returned when a grid cannot be derived from the inputs.
var ErrInvalidExtent = eris.New("raster: invalid extent")

// InvalidExtentError carries the reason a grid configuration was rejected.
type InvalidExtentError struct {
	Reason string
}

func (e *InvalidExtentError) Error() string {
	return "raster: invalid extent: " + e.Reason
}

// Unwrap lets errors.Is match ErrInvalidExtent.
func (e *InvalidExtentError) Unwrap() error {
	return ErrInvalidExtent
}

// Grid describes a north-up raster. The origin is the top-left corner of the
// top-left cell, so rows grow southward and columns eastward.
type Grid struct {
	OriginX    float64 `json:"origin_x"`
	OriginY    float64 `json:"origin_y"`
	CellWidth  float64 `json:"cell_width"`
	CellHeight float64 `json:"cell_height"`
	Rows       int     `json:"rows"`
	Cols       int     `json:"cols"`
	CRS        string  `json:"crs,omitempty"`
}

// Size returns the number of cells in the grid.
func (g Grid) Size() int {
	return g.Rows * g.Cols
}

// CellCenter returns the planar coordinates of the center of a cell.
func (g Grid) CellCenter(row, col int) (x, y float64) {
	x = g.OriginX + (float64(col)+0.5)*g.CellWidth
	y = g.OriginY - (float64(row)+0.5)*g.CellHeight
	return x, y
}

// CellAt returns the cell containing (x, y). ok is false outside the grid.
func (g Grid) CellAt(x, y float64) (row, col int, ok bool) {
	col = int(math.Floor((x - g.OriginX) / g.CellWidth))
	row = int(math.Floor((g.OriginY - y) / g.CellHeight))
	if row < 0 || row >= g.Rows || col < 0 || col >= g.Cols {
		return 0, 0, false
	}
	return row, col, true
}

// Extent returns the outer bounds of the grid.
func (g Grid) Extent() Extent {
	return Extent{
		MinX: g.OriginX,
		MinY: g.OriginY - float64(g.Rows)*g.CellHeight,
		MaxX: g.OriginX + float64(g.Cols)*g.CellWidth,
		MaxY: g.OriginY,
	}
}

// Aligned reports whether two grids share shape and transform.
func (g Grid) Aligned(o Grid) bool {
	return g.Rows == o.Rows && g.Cols == o.Cols &&
		g.OriginX == o.OriginX && g.OriginY == o.OriginY &&
		g.CellWidth == o.CellWidth && g.CellHeight == o.CellHeight
}

// Extent is an axis-aligned planar bounding box.
type Extent struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

// EmptyExtent returns an extent that any point extends.
func EmptyExtent() Extent {
	return Extent{
		MinX: math.Inf(1), MinY: math.Inf(1),
		MaxX: math.Inf(-1), MaxY: math.Inf(-1),
	}
}

// IsEmpty reports whether nothing has extended the extent.
func (e Extent) IsEmpty() bool {
	return e.MinX > e.MaxX || e.MinY > e.MaxY
}

// ExtendPoint grows the extent to include (x, y).
func (e Extent) ExtendPoint(x, y float64) Extent {
	e.MinX = math.Min(e.MinX, x)
	e.MinY = math.Min(e.MinY, y)
	e.MaxX = math.Max(e.MaxX, x)
	e.MaxY = math.Max(e.MaxY, y)
	return e
}

// Union returns the smallest extent covering both.
func (e Extent) Union(o Extent) Extent {
	if o.IsEmpty() {
		return e
	}
	return e.ExtendPoint(o.MinX, o.MinY).ExtendPoint(o.MaxX, o.MaxY)
}

// GridOptions configures BuildGrid.
type GridOptions struct {
	CellSize float64
	CRS      string
}

// BuildGrid derives a grid covering the union of the study-area bounds and the
// sample coordinates, padded outward by one cell on every side so samples on
// the boundary are never clipped.
func BuildGrid(coords []geom.Coord, area geom.T, opts GridOptions) (Grid, error) {
	cell := opts.CellSize
	if !(cell > 0) || math.IsInf(cell, 0) {
		return Grid{}, &InvalidExtentError{Reason: fmt.Sprintf("cell size must be positive, got %v", cell)}
	}

	ext := EmptyExtent()
	for _, c := range coords {
		if len(c) < 2 || !finite(c[0]) || !finite(c[1]) {
			continue
		}
		ext = ext.ExtendPoint(c[0], c[1])
	}
	if area != nil {
		// Empty geometries report inverted bounds, which Union ignores.
		b := area.Bounds()
		ext = ext.Union(Extent{MinX: b.Min(0), MinY: b.Min(1), MaxX: b.Max(0), MaxY: b.Max(1)})
	}
	if ext.IsEmpty() {
		return Grid{}, &InvalidExtentError{Reason: "no sample points and no study area"}
	}

	ext = Extent{
		MinX: ext.MinX - cell,
		MinY: ext.MinY - cell,
		MaxX: ext.MaxX + cell,
		MaxY: ext.MaxY + cell,
	}

	return Grid{
		OriginX:    ext.MinX,
		OriginY:    ext.MaxY,
		CellWidth:  cell,
		CellHeight: cell,
		Rows:       cellCount(ext.MaxY-ext.MinY, cell),
		Cols:       cellCount(ext.MaxX-ext.MinX, cell),
		CRS:        opts.CRS,
	}, nil
}

// cellCount is ceil(span/cell) with a small tolerance so an exact multiple
// does not pick up an extra cell from floating-point noise.
func cellCount(span, cell float64) int {
	n := int(math.Ceil(span/cell - 1e-9))
	if n < 1 {
		n = 1
	}
	return n
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
