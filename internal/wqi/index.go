package wqi

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/hydroindex/internal/raster"
)

// Rank curve coefficients and the weight penalty for parameters whose
// area-average exceeds the limit.
const (
	rankA         = 0.5
	rankB         = 4.5
	rankC         = 5.0
	rankMin       = 1.0
	rankMax       = 10.0
	exceedPenalty = 2.0
)

// Concentration returns CI = (S-T)/(S+T) clamped to [-1,1]. Cells where
// S+T is zero or S is no-data are no-data.
func Concentration(s *raster.Surface, threshold float64) *raster.Surface {
	return s.Map(func(v float64) float64 {
		den := v + threshold
		if den == 0 {
			return raster.NoData
		}
		return clamp((v-threshold)/den, -1, 1)
	})
}

// Rank returns R = 0.5*CI^2 + 4.5*CI + 5 clamped to [1,10].
func Rank(ci *raster.Surface) *raster.Surface {
	return ci.Map(func(c float64) float64 {
		return clamp(rankA*c*c+rankB*c+rankC, rankMin, rankMax)
	})
}

// WeightRecord is the scalar weight of one parameter with the inputs it was
// derived from.
type WeightRecord struct {
	Parameter string  `json:"parameter"`
	Weight    float64 `json:"weight"`
	MeanRank  float64 `json:"mean_rank"`
	MeanValue float64 `json:"mean_value"`
	Threshold float64 `json:"threshold"`
	Penalized bool    `json:"penalized"`
	Supplied  bool    `json:"supplied"`
}

// Weight computes W = mean(R) + 2 when mean(S) > T, else mean(R). Both means
// are over valid cells. ok is false when either surface has no valid cell.
func Weight(parameter string, s, rank *raster.Surface, threshold float64) (WeightRecord, bool) {
	meanS, okS := meanValid(s)
	meanR, okR := meanValid(rank)
	if !okS || !okR {
		return WeightRecord{Parameter: parameter, Threshold: threshold}, false
	}
	rec := WeightRecord{
		Parameter: parameter,
		Weight:    meanR,
		MeanRank:  meanR,
		MeanValue: meanS,
		Threshold: threshold,
	}
	if meanS > threshold {
		rec.Weight += exceedPenalty
		rec.Penalized = true
	}
	return rec, true
}

// Overlay computes raw = 100 - sum(R*W)/sum(W) per cell over the layers whose
// rank is valid at that cell. Cells with no contributing weight are no-data.
// All ranks must share one grid.
func Overlay(ranks []*raster.Surface, weights []float64) *raster.Surface {
	out := raster.NewSurface(ranks[0].Grid)
	for i := range out.Values {
		var num, den float64
		for j, r := range ranks {
			v := r.Values[i]
			if raster.IsNoData(v) {
				continue
			}
			num += v * weights[j]
			den += weights[j]
		}
		if den > 0 {
			out.Values[i] = 100 - num/den
		}
	}
	return out
}

// Normalize rescales raw to [0,1] over its own valid range. A constant
// surface maps to 0.5.
func Normalize(raw *raster.Surface) *raster.Surface {
	sum, ok := raw.Summarize()
	if !ok {
		return raw.Clone()
	}
	span := sum.Max - sum.Min
	return raw.Map(func(v float64) float64 {
		if span == 0 {
			return 0.5
		}
		return clamp((v-sum.Min)/span, 0, 1)
	})
}

func meanValid(s *raster.Surface) (float64, bool) {
	vals := s.Valid()
	if len(vals) == 0 {
		return 0, false
	}
	return stat.Mean(vals, nil), true
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
