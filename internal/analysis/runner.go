package analysis

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/hydroindex/internal/boundary"
	"github.com/sells-group/hydroindex/internal/interpolate"
	"github.com/sells-group/hydroindex/internal/metrics"
	"github.com/sells-group/hydroindex/internal/raster"
	"github.com/sells-group/hydroindex/internal/report"
	"github.com/sells-group/hydroindex/internal/sample"
	"github.com/sells-group/hydroindex/internal/session"
	"github.com/sells-group/hydroindex/internal/wqi"
	"github.com/sells-group/hydroindex/internal/zonal"
)

// Artifact names written into the session workspace.
const (
	CompositeArtifact  = "composite.asc"
	ReportJSONArtifact = "report.json"
	ReportXLSXArtifact = "report.xlsx"
	surfaceSuffix      = ".asc"
)

// Runner drives analysis runs against a session manager.
type Runner struct {
	sessions session.Manager
	zones    boundary.Resolver
	now      func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithZones sets the resolver for zonal statistics. Without one the run
// stops after the composite surface.
func WithZones(r boundary.Resolver) Option {
	return func(rn *Runner) { rn.zones = r }
}

// WithClock overrides the clock used for report timestamps and the
// remaining session TTL.
func WithClock(now func() time.Time) Option {
	return func(rn *Runner) { rn.now = now }
}

// NewRunner creates a Runner writing into sessions.
func NewRunner(sessions session.Manager, opts ...Option) *Runner {
	r := &Runner{sessions: sessions, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Input is the data of one run.
type Input struct {
	Samples []sample.Point
	// Area is the study area. When nil and zones are resolved, the union of
	// the zones is used.
	Area geom.T
	// SessionID reuses a live session instead of creating one.
	SessionID string
	// RefreshZones re-reads the zones from a caching source instead of
	// serving them from the cache.
	RefreshZones bool
}

// refresher is a zone source with a cache that can be bypassed.
type refresher interface {
	Refresh(ctx context.Context, ids ...string) ([]zonal.Polygon, error)
}

// Result is the output of one run.
type Result struct {
	Session   session.Session
	Remaining time.Duration
	Grid      raster.Grid
	Surfaces  map[string]*raster.Surface
	Composite *raster.Surface
	Weights   []wqi.WeightRecord
	Excluded  []wqi.Exclusion
	Zones     []zonal.Record
	Report    *report.Report
	Artifacts []string
}

// Run validates cfg and executes every stage. Stage failures are returned
// as is; the session and anything already written stay until its TTL.
func (r *Runner) Run(ctx context.Context, in Input, cfg Config) (*Result, error) {
	cfg, err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	if len(cfg.ZoneIDs) > 0 && r.zones == nil {
		return nil, eris.New("analysis: zone ids given without a zone source")
	}

	var polys []zonal.Polygon
	area := in.Area
	if r.zones != nil {
		if rf, ok := r.zones.(refresher); ok && in.RefreshZones {
			polys, err = rf.Refresh(ctx, cfg.ZoneIDs...)
		} else {
			polys, err = r.zones.Resolve(ctx, cfg.ZoneIDs)
		}
		if err != nil {
			return nil, eris.Wrapf(err, "analysis: resolve zones from %s", r.zones.Name())
		}
		if area == nil {
			if merged := boundary.Merge(polys); merged != nil {
				area = merged
			}
		}
	}

	sess, err := r.openSession(ctx, in.SessionID, cfg)
	if err != nil {
		return nil, err
	}
	log := zap.L().With(zap.String("component", "analysis"), zap.String("session_id", sess.ID))
	log.Info("analysis: starting run",
		zap.Int("samples", len(in.Samples)),
		zap.Int("zones", len(polys)),
	)

	res := &Result{Session: sess, Surfaces: make(map[string]*raster.Surface)}

	stage := func(name string, fn func() error) error {
		if err := ctx.Err(); err != nil {
			return eris.Wrapf(err, "analysis: %s", name)
		}
		start := time.Now()
		err := fn()
		metrics.ObserveStage(name, start)
		if err != nil {
			log.Error("analysis: stage failed",
				zap.String("stage", name),
				zap.Duration("duration", time.Since(start)),
				zap.Error(err),
			)
			return err
		}
		log.Debug("analysis: stage complete",
			zap.String("stage", name),
			zap.Duration("duration", time.Since(start)),
		)
		return nil
	}

	write := func(where session.Area, name string, data []byte) error {
		path, err := r.sessions.WriteArtifact(ctx, sess.ID, where, name, data)
		if err != nil {
			return eris.Wrapf(err, "analysis: write %s", name)
		}
		res.Artifacts = append(res.Artifacts, path)
		return nil
	}

	if err := stage(metrics.StageGrid, func() error {
		g, err := raster.BuildGrid(sample.Coords(in.Samples), area, raster.GridOptions{CellSize: cfg.CellSize, CRS: cfg.CRS})
		if err != nil {
			return eris.Wrap(err, "analysis: build grid")
		}
		res.Grid = g
		return nil
	}); err != nil {
		return nil, err
	}

	var layers []wqi.Layer
	if err := stage(metrics.StageInterpolate, func() error {
		params := cfg.Parameters
		if len(params) == 0 {
			params = sample.Parameters(in.Samples)
		}
		for _, p := range params {
			l, err := r.interpolate(in.Samples, p, res.Grid, area, cfg)
			if err != nil {
				return err
			}
			layers = append(layers, l)
			res.Surfaces[p] = l.Surface
			log.Debug("analysis: layer interpolated",
				zap.String("parameter", p),
				zap.Int("samples", l.Samples),
				zap.Int("valid_cells", l.Surface.ValidCount()),
			)
			ascii, err := raster.MarshalASCII(l.Surface)
			if err != nil {
				return err
			}
			if err := write(session.AreaTemp, p+surfaceSuffix, ascii); err != nil {
				return err
			}
		}
		if len(layers) == 0 {
			return &wqi.NoValidParametersError{}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	if err := stage(metrics.StageIndex, func() error {
		out, err := wqi.Run(wqi.Input{Layers: layers, Thresholds: cfg.thresholds(), Weights: cfg.Weights})
		if err != nil {
			var nv *wqi.NoValidParametersError
			if errors.As(err, &nv) {
				countExcluded(nv.Excluded)
			}
			return eris.Wrap(err, "analysis: composite index")
		}
		countExcluded(out.Excluded)
		res.Composite = out.Composite
		res.Weights = out.Weights()
		res.Excluded = out.Excluded
		ascii, err := raster.MarshalASCII(out.Composite)
		if err != nil {
			return err
		}
		return write(session.AreaOutput, CompositeArtifact, ascii)
	}); err != nil {
		return nil, err
	}

	if len(polys) > 0 {
		if err := stage(metrics.StageZonal, func() error {
			records, err := zonal.Aggregate(ctx, res.Composite, polys, cfg.zonal())
			if err != nil {
				return eris.Wrap(err, "analysis: zonal statistics")
			}
			res.Zones = records
			return nil
		}); err != nil {
			return nil, err
		}
	}

	if err := stage(metrics.StageReport, func() error {
		res.Report = report.New(sess.ID, r.now(), res.Composite, res.Weights, res.Excluded, res.Zones)
		js, err := report.JSON(res.Report)
		if err != nil {
			return err
		}
		if err := write(session.AreaOutput, ReportJSONArtifact, js); err != nil {
			return err
		}
		xl, err := report.XLSX(res.Report)
		if err != nil {
			return err
		}
		return write(session.AreaOutput, ReportXLSXArtifact, xl)
	}); err != nil {
		return nil, err
	}

	// Re-read for the access time and remaining TTL after the run.
	sess, err = r.sessions.Get(ctx, sess.ID)
	if err != nil {
		return nil, eris.Wrap(err, "analysis: refresh session")
	}
	res.Session = sess
	res.Remaining = sess.Remaining(r.now())

	log.Info("analysis: run complete",
		zap.Int("parameters", len(res.Weights)),
		zap.Int("excluded", len(res.Excluded)),
		zap.Int("zones", len(res.Zones)),
		zap.Int("artifacts", len(res.Artifacts)),
	)
	return res, nil
}

func (r *Runner) openSession(ctx context.Context, id string, cfg Config) (session.Session, error) {
	if id != "" {
		s, err := r.sessions.Get(ctx, id)
		if err != nil {
			return session.Session{}, eris.Wrap(err, "analysis: open session")
		}
		return s, nil
	}
	var opts []session.CreateOption
	if cfg.TTL > 0 {
		opts = append(opts, session.WithTTL(cfg.TTL))
	}
	s, err := r.sessions.Create(ctx, cfg.User, cfg.ContextKey, opts...)
	if err != nil {
		return session.Session{}, eris.Wrap(err, "analysis: create session")
	}
	return s, nil
}

// interpolate builds one masked layer. A parameter short of samples yields
// an empty layer, which the index stage reports as excluded.
func (r *Runner) interpolate(points []sample.Point, parameter string, g raster.Grid, area geom.T, cfg Config) (wqi.Layer, error) {
	l := wqi.Layer{Parameter: parameter, Samples: sample.CountValid(points, parameter)}
	surf, err := interpolate.IDW(points, parameter, g, cfg.interpolation())
	switch {
	case errors.Is(err, interpolate.ErrInsufficientSamples):
		l.Surface = raster.NewSurface(g)
		return l, nil
	case err != nil:
		return l, eris.Wrapf(err, "analysis: interpolate %s", parameter)
	}
	masked, err := zonal.Mask(surf, area, cfg.AllTouched)
	if err != nil {
		return l, eris.Wrapf(err, "analysis: mask %s", parameter)
	}
	l.Surface = masked
	return l, nil
}

func countExcluded(excluded []wqi.Exclusion) {
	for _, e := range excluded {
		metrics.ParametersExcluded.WithLabelValues(e.Reason).Inc()
	}
}
