// Package interpolate estimates continuous surfaces from point samples using
// k-d tree accelerated Inverse Distance Weighting.
package interpolate

import (
	"fmt"
	"math"
	"runtime"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/hydroindex/internal/raster"
	"github.com/sells-group/hydroindex/internal/sample"
)

// Mode selects which samples contribute to a cell estimate.
type Mode string

const (
	// ModeVariable uses the k nearest samples.
	ModeVariable Mode = "variable"
	// ModeFixed uses every sample within a radius.
	ModeFixed Mode = "fixed"
	// ModeGlobal uses every sample.
	ModeGlobal Mode = "global"
)

// Defaults applied to zero-valued Options fields.
const (
	DefaultPower     = 2.0
	DefaultNeighbors = 12
	DefaultChunkRows = 64
)

// MinSamples is the fewest valid samples a parameter needs to be interpolated.
const MinSamples = 3

// epsilon is the distance floor that keeps a cell sitting on a sample from
// dividing by zero.
const epsilon = 1e-10

// ParseMode converts a config string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeVariable, ModeFixed, ModeGlobal:
		return m, nil
	case "":
		return ModeVariable, nil
	default:
		return "", eris.Errorf("interpolate: unknown search mode %q", s)
	}
}

// ErrInsufficientSamples is returned when a parameter has fewer than
// MinSamples valid samples.
var ErrInsufficientSamples = eris.New("interpolate: insufficient samples")

// InsufficientSamplesError reports which parameter was short of samples.
type InsufficientSamplesError struct {
	Parameter string
	Valid     int
}

func (e *InsufficientSamplesError) Error() string {
	return fmt.Sprintf("interpolate: parameter %q has %d valid samples, need at least %d",
		e.Parameter, e.Valid, MinSamples)
}

// Unwrap lets errors.Is match ErrInsufficientSamples.
func (e *InsufficientSamplesError) Unwrap() error {
	return ErrInsufficientSamples
}

// Options configures IDW.
type Options struct {
	Power     float64 // distance exponent, default 2
	Mode      Mode    // default variable
	Neighbors int     // k for variable mode, default 12
	Radius    float64 // search radius for fixed mode
	ChunkRows int     // rows per work unit, default 64
	Workers   int     // concurrent work units, default GOMAXPROCS
}

func (o Options) withDefaults() Options {
	if o.Power == 0 {
		o.Power = DefaultPower
	}
	if o.Mode == "" {
		o.Mode = ModeVariable
	}
	if o.Neighbors == 0 {
		o.Neighbors = DefaultNeighbors
	}
	if o.ChunkRows <= 0 {
		o.ChunkRows = DefaultChunkRows
	}
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	return o
}

func (o Options) validate() error {
	if !(o.Power > 0) || math.IsInf(o.Power, 0) {
		return eris.Errorf("interpolate: power must be positive, got %v", o.Power)
	}
	switch o.Mode {
	case ModeVariable:
		if o.Neighbors < 1 {
			return eris.Errorf("interpolate: neighbors must be at least 1, got %d", o.Neighbors)
		}
	case ModeFixed:
		if !(o.Radius > 0) {
			return eris.Errorf("interpolate: fixed mode needs a positive radius, got %v", o.Radius)
		}
	case ModeGlobal:
	default:
		return eris.Errorf("interpolate: unknown search mode %q", o.Mode)
	}
	return nil
}

// IDW interpolates parameter over every cell of grid. The k-d tree is built
// once over the valid samples; each cell then takes the 1/d^p weighted mean
// of its contributing samples. Cells with no contributor are no-data.
func IDW(points []sample.Point, parameter string, grid raster.Grid, opts Options) (*raster.Surface, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if grid.Rows <= 0 || grid.Cols <= 0 || !(grid.CellWidth > 0) || !(grid.CellHeight > 0) {
		return nil, &raster.InvalidExtentError{Reason: fmt.Sprintf("grid %dx%d with cell %vx%v",
			grid.Rows, grid.Cols, grid.CellWidth, grid.CellHeight)}
	}

	valid := make(sites, 0, len(points))
	for _, p := range points {
		if v, ok := p.Value(parameter); ok {
			valid = append(valid, site{X: p.X, Y: p.Y, Value: v})
		}
	}
	if len(valid) < MinSamples {
		return nil, &InsufficientSamplesError{Parameter: parameter, Valid: len(valid)}
	}

	k := opts.Neighbors
	if k > len(valid) {
		k = len(valid)
	}

	ix := newIndex(valid)
	out := raster.NewSurface(grid)

	var g errgroup.Group
	g.SetLimit(opts.Workers)
	for start := 0; start < grid.Rows; start += opts.ChunkRows {
		end := min(start+opts.ChunkRows, grid.Rows)
		g.Go(func() error {
			est := estimator{ix: ix, power: opts.Power}
			for row := start; row < end; row++ {
				for col := 0; col < grid.Cols; col++ {
					x, y := grid.CellCenter(row, col)
					q := site{X: x, Y: y}
					switch opts.Mode {
					case ModeVariable:
						est.buf = ix.nearest(q, k, est.buf[:0])
					case ModeFixed:
						est.buf = ix.within(q, opts.Radius, est.buf[:0])
					case ModeGlobal:
						est.buf = est.all(q)
					}
					out.Set(row, col, est.weighted())
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "interpolate: estimate cells")
	}

	return out, nil
}

// estimator holds per-worker scratch space.
type estimator struct {
	ix    *index
	power float64
	buf   []neighbor
}

func (e *estimator) all(q site) []neighbor {
	buf := e.buf[:0]
	for _, s := range e.ix.all {
		buf = append(buf, neighbor{value: s.Value, dist2: s.Distance(q)})
	}
	return buf
}

// weighted returns the IDW estimate over e.buf, or no-data when empty.
// Weights are scaled by the nearest distance, (dmin/d)^p, which leaves the
// estimate unchanged and keeps every weight in (0, 1] for any power.
func (e *estimator) weighted() float64 {
	if len(e.buf) == 0 {
		return raster.NoData
	}
	dmin := math.Inf(1)
	for _, n := range e.buf {
		dmin = math.Min(dmin, math.Max(math.Sqrt(n.dist2), epsilon))
	}
	var num, den float64
	for _, n := range e.buf {
		d := math.Max(math.Sqrt(n.dist2), epsilon)
		w := math.Pow(dmin/d, e.power)
		num += w * n.value
		den += w
	}
	return num / den
}
