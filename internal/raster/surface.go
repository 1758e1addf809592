package raster

import (
	"math"

	"github.com/rotisserie/eris"
)

// NoData is the sentinel stored in cells without a value.
var NoData = math.NaN()

// IsNoData reports whether v is the no-data sentinel.
func IsNoData(v float64) bool {
	return math.IsNaN(v)
}

// Surface is a row-major array of values aligned to a Grid.
type Surface struct {
	Grid   Grid      `json:"grid"`
	Values []float64 `json:"-"`
}

// NewSurface returns a surface with every cell set to NoData.
func NewSurface(g Grid) *Surface {
	vals := make([]float64, g.Size())
	for i := range vals {
		vals[i] = NoData
	}
	return &Surface{Grid: g, Values: vals}
}

// NewSurfaceFrom wraps values laid out row-major for g.
func NewSurfaceFrom(g Grid, values []float64) (*Surface, error) {
	if len(values) != g.Size() {
		return nil, eris.Errorf("raster: %d values for a %dx%d grid", len(values), g.Rows, g.Cols)
	}
	return &Surface{Grid: g, Values: values}, nil
}

// At returns the value at a row and column.
func (s *Surface) At(row, col int) float64 {
	return s.Values[row*s.Grid.Cols+col]
}

// Set stores a value at a row and column.
func (s *Surface) Set(row, col int, v float64) {
	s.Values[row*s.Grid.Cols+col] = v
}

// Clone returns a deep copy.
func (s *Surface) Clone() *Surface {
	vals := make([]float64, len(s.Values))
	copy(vals, s.Values)
	return &Surface{Grid: s.Grid, Values: vals}
}

// Map returns a new surface with fn applied to every valid cell. No-data
// cells stay no-data.
func (s *Surface) Map(fn func(float64) float64) *Surface {
	out := NewSurface(s.Grid)
	for i, v := range s.Values {
		if IsNoData(v) {
			continue
		}
		out.Values[i] = fn(v)
	}
	return out
}

// Valid returns the values of all valid cells.
func (s *Surface) Valid() []float64 {
	vals := make([]float64, 0, len(s.Values))
	for _, v := range s.Values {
		if !IsNoData(v) {
			vals = append(vals, v)
		}
	}
	return vals
}

// ValidCount returns the number of cells holding a value.
func (s *Surface) ValidCount() int {
	n := 0
	for _, v := range s.Values {
		if !IsNoData(v) {
			n++
		}
	}
	return n
}

// AllNoData reports whether no cell holds a value.
func (s *Surface) AllNoData() bool {
	for _, v := range s.Values {
		if !IsNoData(v) {
			return false
		}
	}
	return true
}

// Summary is the min, max and mean of a surface's valid cells.
type Summary struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
}

// Summarize computes Summary. ok is false when no cell is valid.
func (s *Surface) Summarize() (sum Summary, ok bool) {
	sum.Min, sum.Max = math.Inf(1), math.Inf(-1)
	var total float64
	for _, v := range s.Values {
		if IsNoData(v) {
			continue
		}
		sum.Count++
		total += v
		sum.Min = math.Min(sum.Min, v)
		sum.Max = math.Max(sum.Max, v)
	}
	if sum.Count == 0 {
		return Summary{}, false
	}
	sum.Mean = total / float64(sum.Count)
	return sum, true
}
