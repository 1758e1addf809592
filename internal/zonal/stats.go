package zonal

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Record holds the statistics of one zone. Statistics are nil when no valid
// pixel falls inside the zone.
type Record struct {
	ID     string   `json:"id"`
	Count  int      `json:"count"`
	Mean   *float64 `json:"mean"`
	Min    *float64 `json:"min"`
	Max    *float64 `json:"max"`
	Std    *float64 `json:"std"`
	Median *float64 `json:"median"`
}

// Empty reports whether the zone covered no valid pixels.
func (r Record) Empty() bool { return r.Count == 0 }

// summarize computes zone statistics over values. values is reordered.
func summarize(id string, values []float64) Record {
	rec := Record{ID: id, Count: len(values)}
	if len(values) == 0 {
		return rec
	}

	mean, variance := stat.MeanVariance(values, nil)
	n := float64(len(values))
	// MeanVariance is the sample variance; zones report the population std.
	std := 0.0
	if len(values) > 1 {
		std = math.Sqrt(variance * (n - 1) / n)
	}

	sort.Float64s(values)
	mid := len(values) / 2
	median := values[mid]
	if len(values)%2 == 0 {
		median = (values[mid-1] + values[mid]) / 2
	}

	lo, hi := floats.Min(values), floats.Max(values)
	rec.Mean = &mean
	rec.Min = &lo
	rec.Max = &hi
	rec.Std = &std
	rec.Median = &median
	return rec
}
