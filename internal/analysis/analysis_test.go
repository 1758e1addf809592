package analysis

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/hydroindex/internal/boundary"
	"github.com/sells-group/hydroindex/internal/interpolate"
	"github.com/sells-group/hydroindex/internal/sample"
	"github.com/sells-group/hydroindex/internal/session"
	"github.com/sells-group/hydroindex/internal/wqi"
	"github.com/sells-group/hydroindex/internal/zonal"
)

var testNow = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func clock() time.Time { return testNow }

type staticZones struct {
	mu    sync.Mutex
	polys []zonal.Polygon
	calls int
}

func (s *staticZones) Name() string { return "static" }

func (s *staticZones) Resolve(_ context.Context, ids []string) ([]zonal.Polygon, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if len(ids) == 0 {
		return s.polys, nil
	}
	var out []zonal.Polygon
	for _, id := range ids {
		found := false
		for _, p := range s.polys {
			if p.ID == id {
				out = append(out, p)
				found = true
			}
		}
		if !found {
			return nil, &boundary.NotFoundError{Source: s.Name(), IDs: []string{id}}
		}
	}
	return out, nil
}

func rect(minX, minY, maxX, maxY float64) *geom.Polygon {
	return geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{
		{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY},
	}})
}

func testZones() *staticZones {
	return &staticZones{polys: []zonal.Polygon{
		{ID: "west", Geometry: rect(0, 0, 5, 10)},
		{ID: "east", Geometry: rect(5, 0, 10, 10)},
	}}
}

func testSamples() []sample.Point {
	return []sample.Point{
		{ID: "w1", X: 0, Y: 0, Values: map[string]float64{"tds": 400, "nitrate": 20, "colour": 3}},
		{ID: "w2", X: 10, Y: 0, Values: map[string]float64{"tds": 600, "nitrate": 60, "colour": 5}},
		{ID: "w3", X: 5, Y: 10, Values: map[string]float64{"tds": 450, "colour": 4}},
		{ID: "w4", X: 10, Y: 10, Values: map[string]float64{"tds": 520, "colour": 6}},
	}
}

func newTestRegistry(t *testing.T, fs afero.Fs) *session.Registry {
	t.Helper()
	r, err := session.Open(context.Background(), "/sessions",
		session.WithFs(fs),
		session.WithIndex(session.NewMemoryIndex()),
		session.WithClock(clock),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func testConfig() Config {
	cfg := DefaultConfig(2)
	cfg.Mode = string(interpolate.ModeGlobal)
	cfg.User = "analyst"
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*Config)
		field string
	}{
		{name: "defaults", edit: func(*Config) {}},
		{name: "zero power uses default", edit: func(c *Config) { c.Power = 0 }},
		{name: "missing cell size", edit: func(c *Config) { c.CellSize = 0 }, field: "CellSize"},
		{name: "negative power", edit: func(c *Config) { c.Power = -1 }, field: "Power"},
		{name: "unknown mode", edit: func(c *Config) { c.Mode = "nearest" }, field: "Mode"},
		{name: "negative neighbors", edit: func(c *Config) { c.Neighbors = -3 }, field: "Neighbors"},
		{name: "fixed without radius", edit: func(c *Config) { c.Mode = "fixed" }, field: "Radius"},
		{name: "fixed with radius", edit: func(c *Config) { c.Mode = "fixed"; c.Radius = 50 }},
		{name: "zero threshold", edit: func(c *Config) { c.Thresholds = map[string]float64{"tds": 0} }, field: "Thresholds[tds]"},
		{name: "negative weight", edit: func(c *Config) { c.Weights = map[string]float64{"tds": -1} }, field: "Weights[tds]"},
		{name: "context with slash", edit: func(c *Config) { c.ContextKey = "a/b" }, field: "ContextKey"},
		{name: "negative ttl", edit: func(c *Config) { c.TTL = -time.Minute }, field: "TTL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig(30)
			tt.edit(&cfg)
			got, err := cfg.Validate()
			if tt.field == "" {
				require.NoError(t, err)
				assert.Equal(t, interpolate.DefaultPower, got.Power)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
			var ce *ConfigError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestConfig_FirstInvalidFieldOnly(t *testing.T) {
	cfg := Config{CellSize: -1, Power: -1, Mode: "bogus"}
	_, err := cfg.Validate()
	var ce *ConfigError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "CellSize", ce.Field)
}

func TestConfig_NormalizesParametersWithoutAliasing(t *testing.T) {
	params := []string{" TDS ", "Nitrate"}
	cfg := DefaultConfig(10)
	cfg.Parameters = params
	got, err := cfg.Validate()
	require.NoError(t, err)
	assert.Equal(t, []string{"tds", "nitrate"}, got.Parameters)
	assert.Equal(t, " TDS ", params[0])
}

func TestConfig_NormalizesWeightAndThresholdKeys(t *testing.T) {
	weights := map[string]float64{"TDS": 3, "Nitrate": 1}
	cfg := DefaultConfig(10)
	cfg.Weights = weights
	cfg.Thresholds = map[string]float64{"Colour": 15}
	got, err := cfg.Validate()
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"tds": 3, "nitrate": 1}, got.Weights)
	assert.Equal(t, 15.0, got.thresholds()["colour"])
	assert.Contains(t, weights, "TDS", "caller map untouched")
}

func TestConfig_ThresholdsMergeOverDefaults(t *testing.T) {
	cfg := DefaultConfig(10)
	cfg.Thresholds = map[string]float64{"TDS": 1000, "colour": 15}
	th := cfg.thresholds()
	assert.Equal(t, 1000.0, th["tds"])
	assert.Equal(t, 15.0, th["colour"])
	assert.Equal(t, wqi.DefaultThresholds()["nitrate"], th["nitrate"])
}

func TestRun_EndToEnd(t *testing.T) {
	fs := afero.NewMemMapFs()
	reg := newTestRegistry(t, fs)
	zones := testZones()
	runner := NewRunner(reg, WithZones(zones), WithClock(clock))

	res, err := runner.Run(context.Background(), Input{Samples: testSamples()}, testConfig())
	require.NoError(t, err)

	assert.Equal(t, "analyst", res.Session.User)
	assert.Equal(t, session.DefaultTTL, res.Remaining)
	assert.Equal(t, 7, res.Grid.Rows)
	assert.Equal(t, 7, res.Grid.Cols)

	require.Len(t, res.Weights, 1)
	assert.Equal(t, "tds", res.Weights[0].Parameter)
	assert.ElementsMatch(t, []wqi.Exclusion{
		{Parameter: "colour", Reason: wqi.ReasonNoThreshold},
		{Parameter: "nitrate", Reason: wqi.ReasonInsufficientSamples},
	}, res.Excluded)

	require.NotNil(t, res.Composite)
	valid := res.Composite.Valid()
	require.NotEmpty(t, valid)
	for _, v := range valid {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
	assert.Less(t, len(valid), res.Grid.Size(), "cells outside the zones are masked")

	require.Len(t, res.Zones, 2)
	for _, z := range res.Zones {
		assert.Positive(t, z.Count, z.ID)
		require.NotNil(t, z.Mean)
	}
	require.NotNil(t, res.Report)
	assert.Equal(t, res.Session.ID, res.Report.SessionID)
	assert.Equal(t, testNow, res.Report.GeneratedAt)

	for _, p := range []string{
		filepath.Join(res.Session.TempDir, "tds.asc"),
		filepath.Join(res.Session.TempDir, "nitrate.asc"),
		filepath.Join(res.Session.OutputDir, CompositeArtifact),
		filepath.Join(res.Session.OutputDir, ReportJSONArtifact),
		filepath.Join(res.Session.OutputDir, ReportXLSXArtifact),
	} {
		ok, err := afero.Exists(fs, p)
		require.NoError(t, err)
		assert.True(t, ok, p)
		assert.Contains(t, res.Artifacts, p)
	}
}

func TestRun_SelectedParametersAndZones(t *testing.T) {
	reg := newTestRegistry(t, afero.NewMemMapFs())
	runner := NewRunner(reg, WithZones(testZones()), WithClock(clock))

	cfg := testConfig()
	cfg.Parameters = []string{"TDS"}
	cfg.ZoneIDs = []string{"east"}
	cfg.ContextKey = "2024"
	cfg.TTL = time.Hour

	res, err := runner.Run(context.Background(), Input{Samples: testSamples()}, cfg)
	require.NoError(t, err)

	assert.Contains(t, res.Surfaces, "tds")
	assert.NotContains(t, res.Surfaces, "nitrate")
	assert.Empty(t, res.Excluded)
	require.Len(t, res.Zones, 1)
	assert.Equal(t, "east", res.Zones[0].ID)
	assert.Equal(t, time.Hour, res.Remaining)
	assert.Equal(t, "2024", filepath.Base(res.Session.OutputDir))
}

func TestRun_WithoutZonesUsesArea(t *testing.T) {
	reg := newTestRegistry(t, afero.NewMemMapFs())
	runner := NewRunner(reg, WithClock(clock))

	res, err := runner.Run(context.Background(), Input{Samples: testSamples(), Area: rect(0, 0, 10, 10)}, testConfig())
	require.NoError(t, err)
	assert.Empty(t, res.Zones)
	assert.Empty(t, res.Report.Zones)
}

func TestRun_ReusesSession(t *testing.T) {
	reg := newTestRegistry(t, afero.NewMemMapFs())
	ctx := context.Background()
	s, err := reg.Create(ctx, "analyst", "")
	require.NoError(t, err)

	res, err := NewRunner(reg, WithClock(clock)).Run(ctx, Input{Samples: testSamples(), SessionID: s.ID}, testConfig())
	require.NoError(t, err)
	assert.Equal(t, s.ID, res.Session.ID)

	list, err := reg.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestRun_ExpiredSession(t *testing.T) {
	reg := newTestRegistry(t, afero.NewMemMapFs())
	ctx := context.Background()
	s, err := reg.Create(ctx, "analyst", "", session.WithTTL(0))
	require.NoError(t, err)

	_, err = NewRunner(reg).Run(ctx, Input{Samples: testSamples(), SessionID: s.ID}, testConfig())
	require.Error(t, err)
	assert.True(t, errors.Is(err, session.ErrSessionExpired))
}

func TestRun_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid config", func(t *testing.T) {
		reg := newTestRegistry(t, afero.NewMemMapFs())
		_, err := NewRunner(reg).Run(ctx, Input{Samples: testSamples()}, Config{})
		assert.True(t, errors.Is(err, ErrInvalidConfig))
		list, _ := reg.List(ctx)
		assert.Empty(t, list, "no session before validation passes")
	})

	t.Run("zone ids without source", func(t *testing.T) {
		reg := newTestRegistry(t, afero.NewMemMapFs())
		cfg := testConfig()
		cfg.ZoneIDs = []string{"west"}
		_, err := NewRunner(reg).Run(ctx, Input{Samples: testSamples()}, cfg)
		assert.Error(t, err)
	})

	t.Run("unknown zone", func(t *testing.T) {
		reg := newTestRegistry(t, afero.NewMemMapFs())
		cfg := testConfig()
		cfg.ZoneIDs = []string{"north"}
		_, err := NewRunner(reg, WithZones(testZones())).Run(ctx, Input{Samples: testSamples()}, cfg)
		assert.True(t, errors.Is(err, boundary.ErrNotFound))
	})

	t.Run("no valid parameters", func(t *testing.T) {
		reg := newTestRegistry(t, afero.NewMemMapFs())
		cfg := testConfig()
		cfg.Parameters = []string{"nitrate", "colour"}
		_, err := NewRunner(reg).Run(ctx, Input{Samples: testSamples()}, cfg)
		assert.True(t, errors.Is(err, wqi.ErrNoValidParameters))
	})

	t.Run("no samples and no area", func(t *testing.T) {
		reg := newTestRegistry(t, afero.NewMemMapFs())
		_, err := NewRunner(reg).Run(ctx, Input{}, testConfig())
		assert.Error(t, err)
	})

	t.Run("canceled", func(t *testing.T) {
		reg := newTestRegistry(t, afero.NewMemMapFs())
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := NewRunner(reg).Run(cctx, Input{Samples: testSamples()}, testConfig())
		assert.True(t, errors.Is(err, context.Canceled))
	})
}

func TestRun_CachedZonesResolveOnce(t *testing.T) {
	reg := newTestRegistry(t, afero.NewMemMapFs())
	zones := testZones()
	runner := NewRunner(reg, WithZones(boundary.NewCache(zones, 16, 0)), WithClock(clock))

	for i := 0; i < 2; i++ {
		_, err := runner.Run(context.Background(), Input{Samples: testSamples()}, testConfig())
		require.NoError(t, err)
	}
	assert.Equal(t, 1, zones.calls)

	_, err := runner.Run(context.Background(), Input{Samples: testSamples(), RefreshZones: true}, testConfig())
	require.NoError(t, err)
	assert.Equal(t, 2, zones.calls, "refresh bypasses the cache")
}
