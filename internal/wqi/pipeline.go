// Package wqi combines per-parameter water-quality surfaces into a normalized
// composite index: concentration index, rank, weight, weighted overlay, and
// min-max normalization.
package wqi

import (
	"fmt"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/hydroindex/internal/interpolate"
	"github.com/sells-group/hydroindex/internal/raster"
)

// ErrNoValidParameters is returned when every parameter was excluded.
var ErrNoValidParameters = eris.New("wqi: no valid parameters")

// NoValidParametersError lists the exclusions that left nothing to combine.
type NoValidParametersError struct {
	Excluded []Exclusion
}

func (e *NoValidParametersError) Error() string {
	return fmt.Sprintf("wqi: no valid parameters (%d excluded)", len(e.Excluded))
}

// Unwrap lets errors.Is match ErrNoValidParameters.
func (e *NoValidParametersError) Unwrap() error {
	return ErrNoValidParameters
}

// Exclusion reasons.
const (
	ReasonNoData              = "surface has no valid cells"
	ReasonNoThreshold         = "no threshold"
	ReasonInsufficientSamples = "insufficient samples"
)

// Layer is one interpolated parameter surface.
type Layer struct {
	Parameter string
	Surface   *raster.Surface
	Samples   int // valid samples the surface was interpolated from
}

// Input is the full set of layers for one run.
type Input struct {
	Layers     []Layer
	Thresholds Thresholds         // defaults to DefaultThresholds
	Weights    map[string]float64 // caller-supplied weights replace computed ones
}

// Exclusion names a parameter left out of the composite and why.
type Exclusion struct {
	Parameter string `json:"parameter"`
	Reason    string `json:"reason"`
}

// ParameterResult holds the derived surfaces of one included parameter.
type ParameterResult struct {
	Parameter     string
	Concentration *raster.Surface
	Rank          *raster.Surface
	Weight        WeightRecord
}

// Result is the output of Run.
type Result struct {
	Parameters []ParameterResult // sorted by parameter
	Raw        *raster.Surface
	Composite  *raster.Surface
	Excluded   []Exclusion
}

// Weights returns the weight table in parameter order.
func (r *Result) Weights() []WeightRecord {
	out := make([]WeightRecord, len(r.Parameters))
	for i, p := range r.Parameters {
		out[i] = p.Weight
	}
	return out
}

// Run computes the composite index. Concentration and rank are computed per
// layer concurrently; weights and overlay run after every layer finishes.
// Layers without a threshold, with too few samples, or with no valid cells
// are excluded and reported. Layers must share one grid.
func Run(in Input) (*Result, error) {
	thresholds := in.Thresholds.Canonical()
	if in.Thresholds == nil {
		thresholds = DefaultThresholds()
	}
	weights := Thresholds(in.Weights).Canonical()
	log := zap.L().With(zap.String("component", "wqi"))

	var (
		eligible []Layer
		limits   []float64
		excluded []Exclusion
	)
	for _, l := range in.Layers {
		if l.Surface == nil {
			return nil, eris.Errorf("wqi: layer %q has no surface", l.Parameter)
		}
		if ref := in.Layers[0]; ref.Surface != nil && !ref.Surface.Grid.Aligned(l.Surface.Grid) {
			return nil, eris.Errorf("wqi: layer %q is not aligned with %q", l.Parameter, ref.Parameter)
		}
		t, ok := thresholds.Lookup(l.Parameter)
		switch {
		case !ok:
			excluded = append(excluded, Exclusion{Parameter: l.Parameter, Reason: ReasonNoThreshold})
		case l.Samples < interpolate.MinSamples:
			excluded = append(excluded, Exclusion{Parameter: l.Parameter, Reason: ReasonInsufficientSamples})
		case l.Surface.AllNoData():
			excluded = append(excluded, Exclusion{Parameter: l.Parameter, Reason: ReasonNoData})
		default:
			eligible = append(eligible, l)
			limits = append(limits, t)
		}
	}

	results := make([]ParameterResult, len(eligible))
	var g errgroup.Group
	for i, l := range eligible {
		g.Go(func() error {
			ci := Concentration(l.Surface, limits[i])
			results[i] = ParameterResult{
				Parameter:     l.Parameter,
				Concentration: ci,
				Rank:          Rank(ci),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "wqi: rank layers")
	}

	included := results[:0]
	for i, pr := range results {
		w, ok := Weight(pr.Parameter, eligible[i].Surface, pr.Rank, limits[i])
		if !ok {
			excluded = append(excluded, Exclusion{Parameter: pr.Parameter, Reason: ReasonNoData})
			continue
		}
		if supplied, ok := weights.Lookup(pr.Parameter); ok {
			w.Weight = supplied
			w.Supplied = true
		}
		pr.Weight = w
		included = append(included, pr)
	}

	for _, e := range excluded {
		log.Info("wqi: parameter excluded",
			zap.String("parameter", e.Parameter),
			zap.String("reason", e.Reason),
		)
	}
	sort.Slice(excluded, func(i, j int) bool { return excluded[i].Parameter < excluded[j].Parameter })
	if len(included) == 0 {
		return nil, &NoValidParametersError{Excluded: excluded}
	}
	sort.Slice(included, func(i, j int) bool { return included[i].Parameter < included[j].Parameter })

	ranks := make([]*raster.Surface, len(included))
	weights := make([]float64, len(included))
	for i, pr := range included {
		ranks[i] = pr.Rank
		weights[i] = pr.Weight.Weight
	}
	raw := Overlay(ranks, weights)
	if raw.AllNoData() {
		return nil, eris.Wrap(ErrNoValidParameters, "wqi: no cell received weight")
	}

	return &Result{
		Parameters: included,
		Raw:        raw,
		Composite:  Normalize(raw),
		Excluded:   excluded,
	}, nil
}
