// Package zonal aggregates raster surfaces over polygon zones and masks
// surfaces to study areas.
package zonal

import (
	"context"
	"runtime"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/hydroindex/internal/raster"
)

// Batch and worker bounds.
const (
	MaxWorkers = 8
	MinBatch   = 1
	MaxBatch   = 256
)

// Options configures Aggregate.
type Options struct {
	AllTouched bool
	Workers    int // capped at MaxWorkers; default min(GOMAXPROCS, MaxWorkers)
	BatchSize  int // default ceil(total / (2 * workers)), clamped to [MinBatch, MaxBatch]
}

func (o Options) workers() int {
	w := o.Workers
	if w <= 0 {
		w = runtime.GOMAXPROCS(0)
	}
	return max(1, min(w, MaxWorkers))
}

// batchSize returns the number of zones per work unit for total zones.
func (o Options) batchSize(total, workers int) int {
	b := o.BatchSize
	if b <= 0 {
		b = (total + 2*workers - 1) / (2 * workers)
	}
	return max(MinBatch, min(b, MaxBatch))
}

// Aggregate computes per-zone statistics of s. Zones are processed in batches
// over a bounded worker pool; the order of the returned records is
// unspecified. A geometry that cannot be converted fails the whole call.
func Aggregate(ctx context.Context, s *raster.Surface, polygons []Polygon, opts Options) ([]Record, error) {
	if s == nil {
		return nil, eris.New("zonal: nil surface")
	}
	if len(polygons) == 0 {
		return nil, nil
	}

	workers := opts.workers()
	size := opts.batchSize(len(polygons), workers)
	log := zap.L().With(zap.String("component", "zonal"))
	log.Debug("zonal: aggregate",
		zap.Int("zones", len(polygons)),
		zap.Int("workers", workers),
		zap.Int("batch_size", size),
	)

	var (
		mu      sync.Mutex
		records = make([]Record, 0, len(polygons))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for start := 0; start < len(polygons); start += size {
		batch := polygons[start:min(start+size, len(polygons))]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out := make([]Record, 0, len(batch))
			for _, p := range batch {
				rec, err := zoneStats(s, p, opts.AllTouched)
				if err != nil {
					return eris.Wrapf(err, "zonal: zone %s", p.ID)
				}
				out = append(out, rec)
			}
			mu.Lock()
			records = append(records, out...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return records, nil
}

func zoneStats(s *raster.Surface, p Polygon, allTouched bool) (Record, error) {
	mp, err := toOrb(p.Geometry)
	if err != nil {
		return Record{}, err
	}
	var buf []float64
	cover(s.Grid, mp, allTouched, func(row, col int) {
		if v := s.At(row, col); !raster.IsNoData(v) {
			buf = append(buf, v)
		}
	})
	return summarize(p.ID, buf), nil
}
