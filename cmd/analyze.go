package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/hydroindex/internal/analysis"
	"github.com/sells-group/hydroindex/internal/boundary"
	"github.com/sells-group/hydroindex/internal/config"
	"github.com/sells-group/hydroindex/internal/raster"
	"github.com/sells-group/hydroindex/internal/sample"
	"github.com/sells-group/hydroindex/internal/wqi"
	"github.com/sells-group/hydroindex/internal/zonal"
)

var (
	analyzeSamples    string
	analyzeSheet      string
	analyzeXColumn    string
	analyzeYColumn    string
	analyzeIDField    string
	analyzeParams     []string
	analyzeZones      []string
	analyzeProfile    string
	analyzeUser       string
	analyzeContext    string
	analyzeSession    string
	analyzeTTL        time.Duration
	analyzeCellSize   float64
	analyzeMode       string
	analyzeAllTouched bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Interpolate samples and build the composite quality index",
	Long:  "Interpolates every parameter onto a grid, combines them into a composite quality index, summarizes it per zone and writes the surfaces and reports into a session workspace.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("analyze"); err != nil {
			return err
		}

		points, err := loadSamples(analyzeSamples, analyzeParams)
		if err != nil {
			return err
		}

		runCfg, err := buildRunConfig(cmd, cfg)
		if err != nil {
			return err
		}

		reg, err := openRegistry(ctx, cfg)
		if err != nil {
			return err
		}
		defer reg.Close() //nolint:errcheck

		zones, closeZones, err := zoneSource(ctx, cfg.Boundary)
		if err != nil {
			return err
		}
		defer closeZones()

		var opts []analysis.Option
		if zones != nil {
			opts = append(opts, analysis.WithZones(zones))
		}
		res, err := analysis.NewRunner(reg, opts...).Run(ctx, analysis.Input{
			Samples:   points,
			SessionID: analyzeSession,
		}, runCfg)
		if err != nil {
			return eris.Wrap(err, "analyze")
		}

		zap.L().Info("analysis complete",
			zap.String("session_id", res.Session.ID),
			zap.Duration("remaining", res.Remaining),
			zap.Int("artifacts", len(res.Artifacts)),
		)
		if cache, ok := zones.(*boundary.Cache); ok {
			st := cache.Stats()
			zap.L().Debug("zone cache",
				zap.Int("entries", st.Entries),
				zap.Int64("hits", st.Hits),
				zap.Int64("misses", st.Misses),
			)
		}
		return printJSON(os.Stdout, newAnalyzeView(res))
	},
}

func init() {
	f := analyzeCmd.Flags()
	f.StringVar(&analyzeSamples, "samples", "", "sample points file (.shp or .xlsx)")
	f.StringVar(&analyzeSheet, "sheet", "", "spreadsheet sheet name (default first sheet)")
	f.StringVar(&analyzeXColumn, "x", "x", "spreadsheet x coordinate column")
	f.StringVar(&analyzeYColumn, "y", "y", "spreadsheet y coordinate column")
	f.StringVar(&analyzeIDField, "id-field", "", "sample id attribute or column")
	f.StringSliceVar(&analyzeParams, "params", nil, "parameters to interpolate (default all)")
	f.StringSliceVar(&analyzeZones, "zones", nil, "zone ids to summarize (default all)")
	f.StringVar(&analyzeProfile, "profile", "", "threshold profile YAML (overrides index.profile)")
	f.StringVar(&analyzeUser, "user", "", "session owner")
	f.StringVar(&analyzeContext, "context", "", "output partition key")
	f.StringVar(&analyzeSession, "session", "", "reuse an existing session")
	f.DurationVar(&analyzeTTL, "ttl", 0, "session lifetime (default session.ttl_minutes)")
	f.Float64Var(&analyzeCellSize, "cell-size", 0, "grid cell size (overrides grid.cell_size)")
	f.StringVar(&analyzeMode, "mode", "", "neighbor search mode: variable, fixed or global (overrides interpolation.mode)")
	f.BoolVar(&analyzeAllTouched, "all-touched", false, "count every cell a zone touches")
	_ = analyzeCmd.MarkFlagRequired("samples")

	rootCmd.AddCommand(analyzeCmd)
}

// loadSamples reads sample points by file extension.
func loadSamples(path string, params []string) ([]sample.Point, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		return sample.LoadShapefile(path, sample.ShapefileOptions{IDField: analyzeIDField, Parameters: params})
	case ".xlsx":
		return sample.LoadXLSX(path, sample.XLSXOptions{
			SheetName:  analyzeSheet,
			XColumn:    analyzeXColumn,
			YColumn:    analyzeYColumn,
			IDColumn:   analyzeIDField,
			Parameters: params,
		})
	default:
		return nil, eris.Errorf("unsupported samples file %q (want .shp or .xlsx)", path)
	}
}

// buildRunConfig combines file configuration, the threshold profile and
// command flags into a run configuration.
func buildRunConfig(cmd *cobra.Command, c *config.Config) (analysis.Config, error) {
	rc := analysis.Config{
		User:         analyzeUser,
		ContextKey:   analyzeContext,
		CellSize:     c.Grid.CellSize,
		CRS:          c.Grid.CRS,
		Power:        c.Interpolation.Power,
		Mode:         c.Interpolation.Mode,
		Neighbors:    c.Interpolation.Neighbors,
		Radius:       c.Interpolation.Radius,
		ChunkRows:    c.Interpolation.ChunkRows,
		Parameters:   analyzeParams,
		ZoneIDs:      analyzeZones,
		AllTouched:   c.Zonal.AllTouched,
		ZonalWorkers: c.Zonal.MaxWorkers,
		TTL:          analyzeTTL,
	}
	if cmd.Flags().Changed("cell-size") {
		rc.CellSize = analyzeCellSize
	}
	if cmd.Flags().Changed("mode") {
		rc.Mode = analyzeMode
	}
	if cmd.Flags().Changed("all-touched") {
		rc.AllTouched = analyzeAllTouched
	}

	profilePath := c.Index.Profile
	if analyzeProfile != "" {
		profilePath = analyzeProfile
	}
	if profilePath != "" {
		p, err := wqi.LoadProfile(profilePath)
		if err != nil {
			return rc, err
		}
		rc.Thresholds = p.Thresholds
		rc.Weights = p.Weights
	}
	return rc, nil
}

// analyzeView is the printed summary of a run.
type analyzeView struct {
	SessionID string             `json:"session_id"`
	OutputDir string             `json:"output_dir"`
	Remaining string             `json:"remaining"`
	Grid      raster.Grid        `json:"grid"`
	Composite *raster.Summary    `json:"composite,omitempty"`
	Weights   []wqi.WeightRecord `json:"weights"`
	Excluded  []wqi.Exclusion    `json:"excluded"`
	Zones     []zonal.Record     `json:"zones"`
	Artifacts []string           `json:"artifacts"`
}

func newAnalyzeView(res *analysis.Result) analyzeView {
	v := analyzeView{
		SessionID: res.Session.ID,
		OutputDir: res.Session.OutputDir,
		Remaining: res.Remaining.Round(time.Second).String(),
		Grid:      res.Grid,
		Weights:   res.Weights,
		Excluded:  res.Excluded,
		Zones:     res.Zones,
		Artifacts: res.Artifacts,
	}
	if res.Report != nil {
		v.Composite = res.Report.Composite
	}
	return v
}
