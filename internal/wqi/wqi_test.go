package wqi

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/hydroindex/internal/raster"
)

var grid2x2 = raster.Grid{OriginX: 0, OriginY: 2, CellWidth: 1, CellHeight: 1, Rows: 2, Cols: 2}

func surface(t *testing.T, values ...float64) *raster.Surface {
	t.Helper()
	s, err := raster.NewSurfaceFrom(grid2x2, values)
	require.NoError(t, err)
	return s
}

func TestConcentrationAndRankBounds(t *testing.T) {
	var values []float64
	for v := 0.0; v <= 2000; v += 7.3 {
		values = append(values, v)
	}
	g := raster.Grid{OriginX: 0, OriginY: 1, CellWidth: 1, CellHeight: 1, Rows: 1, Cols: len(values)}
	s, err := raster.NewSurfaceFrom(g, values)
	require.NoError(t, err)

	ci := Concentration(s, 250)
	rank := Rank(ci)
	for i := range values {
		assert.GreaterOrEqual(t, ci.Values[i], -1.0)
		assert.LessOrEqual(t, ci.Values[i], 1.0)
		assert.GreaterOrEqual(t, rank.Values[i], 1.0)
		assert.LessOrEqual(t, rank.Values[i], 10.0)
	}
}

func TestRank_Endpoints(t *testing.T) {
	ci := surface(t, -1, 0, 1, math.NaN())
	r := Rank(ci)
	assert.InDelta(t, 1.0, r.Values[0], 1e-12)
	assert.InDelta(t, 5.0, r.Values[1], 1e-12)
	assert.InDelta(t, 10.0, r.Values[2], 1e-12)
	assert.True(t, raster.IsNoData(r.Values[3]))
}

func TestConcentration_ZeroDenominator(t *testing.T) {
	ci := Concentration(surface(t, -5, 5, math.NaN(), 15), 5)
	assert.True(t, raster.IsNoData(ci.Values[0]))
	assert.Equal(t, 0.0, ci.Values[1])
	assert.True(t, raster.IsNoData(ci.Values[2]))
	assert.InDelta(t, 0.5, ci.Values[3], 1e-12)
}

func TestAtThresholdEverywhere(t *testing.T) {
	s := surface(t, 10, 10, 10, 10)
	ci := Concentration(s, 10)
	rank := Rank(ci)
	for i := range s.Values {
		assert.Equal(t, 0.0, ci.Values[i])
		assert.Equal(t, 5.0, rank.Values[i])
	}

	w, ok := Weight("tds", s, rank, 10)
	require.True(t, ok)
	assert.Equal(t, 5.0, w.Weight)
	assert.False(t, w.Penalized, "mean equal to threshold is not penalized")
}

func TestWeight_PenalizedAboveThreshold(t *testing.T) {
	s := surface(t, 20, 30, 40, math.NaN())
	rank := Rank(Concentration(s, 10))

	w, ok := Weight("nitrate", s, rank, 10)
	require.True(t, ok)
	assert.True(t, w.Penalized)
	assert.InDelta(t, w.MeanRank+2, w.Weight, 1e-12)
	assert.InDelta(t, 30.0, w.MeanValue, 1e-12)
}

func TestNormalize(t *testing.T) {
	n := Normalize(surface(t, 40, 70, math.NaN(), 55))
	assert.Equal(t, 0.0, n.Values[0])
	assert.Equal(t, 1.0, n.Values[1])
	assert.True(t, raster.IsNoData(n.Values[2]))
	assert.InDelta(t, 0.5, n.Values[3], 1e-12)

	flat := Normalize(surface(t, 3, 3, 3, math.NaN()))
	assert.Equal(t, []float64{0.5, 0.5, 0.5}, flat.Valid())
}

func TestOverlay_SkipsMissingContributors(t *testing.T) {
	a := surface(t, 2, 4, math.NaN(), math.NaN())
	b := surface(t, 6, math.NaN(), 8, math.NaN())

	raw := Overlay([]*raster.Surface{a, b}, []float64{1, 3})
	assert.InDelta(t, 100-(2*1+6*3)/4.0, raw.Values[0], 1e-12)
	assert.InDelta(t, 96.0, raw.Values[1], 1e-12)
	assert.InDelta(t, 92.0, raw.Values[2], 1e-12)
	assert.True(t, raster.IsNoData(raw.Values[3]))
}

func TestRun_ExcludesNoDataLayer(t *testing.T) {
	res, err := Run(Input{
		Layers: []Layer{
			{Parameter: "tds", Surface: surface(t, 100, 600, 300, 900), Samples: 5},
			{Parameter: "nitrate", Surface: surface(t, math.NaN(), math.NaN(), math.NaN(), math.NaN()), Samples: 5},
		},
	})
	require.NoError(t, err)

	require.Len(t, res.Excluded, 1)
	assert.Equal(t, "nitrate", res.Excluded[0].Parameter)
	assert.Equal(t, ReasonNoData, res.Excluded[0].Reason)

	require.Len(t, res.Parameters, 1)
	assert.Equal(t, "tds", res.Parameters[0].Parameter)
	assert.Equal(t, 4, res.Composite.ValidCount())

	sum, ok := res.Composite.Summarize()
	require.True(t, ok)
	assert.InDelta(t, 0.0, sum.Min, 1e-12)
	assert.InDelta(t, 1.0, sum.Max, 1e-12)
	// Lowest concentration is the best water.
	assert.InDelta(t, 1.0, res.Composite.Values[0], 1e-12)
	assert.InDelta(t, 0.0, res.Composite.Values[3], 1e-12)
}

func TestRun_ExclusionReasons(t *testing.T) {
	res, err := Run(Input{
		Layers: []Layer{
			{Parameter: "tds", Surface: surface(t, 100, 200, 300, 400), Samples: 3},
			{Parameter: "turbidity", Surface: surface(t, 1, 2, 3, 4), Samples: 10},
			{Parameter: "iron", Surface: surface(t, 0.1, 0.2, 0.3, 0.4), Samples: 2},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []Exclusion{
		{Parameter: "iron", Reason: ReasonInsufficientSamples},
		{Parameter: "turbidity", Reason: ReasonNoThreshold},
	}, res.Excluded)
}

func TestRun_SuppliedWeights(t *testing.T) {
	res, err := Run(Input{
		Layers: []Layer{
			{Parameter: "tds", Surface: surface(t, 100, 200, 300, 400), Samples: 4},
			{Parameter: "Chloride", Surface: surface(t, 50, 60, 70, 80), Samples: 4},
		},
		Weights: map[string]float64{"chloride": 9},
	})
	require.NoError(t, err)

	weights := res.Weights()
	require.Len(t, weights, 2)
	assert.Equal(t, "Chloride", weights[0].Parameter)
	assert.Equal(t, 9.0, weights[0].Weight)
	assert.True(t, weights[0].Supplied)
	assert.False(t, weights[1].Supplied)
}

func TestRun_SuppliedWeightKeysAreNormalized(t *testing.T) {
	res, err := Run(Input{
		Layers: []Layer{
			{Parameter: "tds", Surface: surface(t, 100, 200, 300, 400), Samples: 4},
			{Parameter: "nitrate", Surface: surface(t, 10, 20, 30, 40), Samples: 4},
		},
		Thresholds: Thresholds{"TDS": 500, " Nitrate": 45},
		Weights:    map[string]float64{"TDS": 3, "Nitrate": 1},
	})
	require.NoError(t, err)
	require.Empty(t, res.Excluded)

	weights := res.Weights()
	require.Len(t, weights, 2)
	assert.Equal(t, "nitrate", weights[0].Parameter)
	assert.Equal(t, 1.0, weights[0].Weight)
	assert.True(t, weights[0].Supplied)
	assert.Equal(t, "tds", weights[1].Parameter)
	assert.Equal(t, 3.0, weights[1].Weight)
	assert.True(t, weights[1].Supplied)
}

func TestRun_CustomThresholds(t *testing.T) {
	res, err := Run(Input{
		Layers:     []Layer{{Parameter: "tds", Surface: surface(t, 10, 10, 10, 10), Samples: 4}},
		Thresholds: Thresholds{"tds": 10},
	})
	require.NoError(t, err)
	assert.Equal(t, 5.0, res.Parameters[0].Weight.Weight)
	assert.Equal(t, []float64{0.5, 0.5, 0.5, 0.5}, res.Composite.Values)
}

func TestRun_NoValidParameters(t *testing.T) {
	_, err := Run(Input{
		Layers: []Layer{
			{Parameter: "tds", Surface: surface(t, math.NaN(), math.NaN(), math.NaN(), math.NaN()), Samples: 4},
		},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoValidParameters))

	var nve *NoValidParametersError
	require.True(t, errors.As(err, &nve))
	assert.Equal(t, "tds", nve.Excluded[0].Parameter)

	_, err = Run(Input{})
	assert.True(t, errors.Is(err, ErrNoValidParameters))
}

func TestRun_MisalignedLayers(t *testing.T) {
	other := raster.NewSurface(raster.Grid{OriginX: 0, OriginY: 3, CellWidth: 1, CellHeight: 1, Rows: 3, Cols: 3})
	_, err := Run(Input{
		Layers: []Layer{
			{Parameter: "tds", Surface: surface(t, 1, 2, 3, 4), Samples: 4},
			{Parameter: "ph", Surface: other, Samples: 4},
		},
	})
	assert.Error(t, err)
}

func TestThresholds_Lookup(t *testing.T) {
	th := DefaultThresholds()
	v, ok := th.Lookup(" Nitrate")
	assert.True(t, ok)
	assert.Equal(t, 45.0, v)

	_, ok = th.Lookup("turbidity")
	assert.False(t, ok)

	v, ok = Thresholds{"Chloride": 250}.Lookup("chloride")
	assert.True(t, ok, "keys are matched by normalized name")
	assert.Equal(t, 250.0, v)
	assert.Equal(t, Thresholds{"chloride": 250}, Thresholds{" Chloride": 250}.Canonical())
	assert.Contains(t, th.Names(), "fluoride")
}

func TestLoadProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: district-survey
thresholds:
  TDS: 1000
  uranium: 0.03
weights:
  Nitrate: 4.5
`), 0o644))

	p, err := LoadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, "district-survey", p.Name)
	assert.Equal(t, 1000.0, p.Thresholds["tds"])
	assert.Equal(t, 0.03, p.Thresholds["uranium"])
	assert.Equal(t, 45.0, p.Thresholds["nitrate"], "defaults retained")
	assert.Equal(t, map[string]float64{"nitrate": 4.5}, p.Weights)
}

func TestLoadProfile_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadProfile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("thresholds: [1, 2"), 0o644))
	_, err = LoadProfile(bad)
	assert.Error(t, err)

	zero := filepath.Join(dir, "zero.yaml")
	require.NoError(t, os.WriteFile(zero, []byte("thresholds:\n  tds: 0\n"), 0o644))
	_, err = LoadProfile(zero)
	assert.Error(t, err)

	neg := filepath.Join(dir, "neg.yaml")
	require.NoError(t, os.WriteFile(neg, []byte("weights:\n  tds: -1\n"), 0o644))
	_, err = LoadProfile(neg)
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		score float64
		want  Class
	}{
		{1.0, ClassExcellent},
		{0.8, ClassExcellent},
		{0.79, ClassGood},
		{0.6, ClassGood},
		{0.45, ClassModerate},
		{0.2, ClassPoor},
		{0.0, ClassVeryPoor},
	}
	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.score))
		})
	}
}
