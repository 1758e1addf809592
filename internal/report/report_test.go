package report

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/hydroindex/internal/raster"
	"github.com/sells-group/hydroindex/internal/wqi"
	"github.com/sells-group/hydroindex/internal/zonal"
)

func ptr(v float64) *float64 { return &v }

func sampleReport(t *testing.T) *Report {
	t.Helper()
	g := raster.Grid{OriginX: 0, OriginY: 1, CellWidth: 1, CellHeight: 1, Rows: 1, Cols: 2}
	composite, err := raster.NewSurfaceFrom(g, []float64{0.25, 0.75})
	require.NoError(t, err)

	return New("sess-1", time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC), composite,
		[]wqi.WeightRecord{{Parameter: "tds", Weight: 7.5, MeanRank: 5.5, MeanValue: 620, Threshold: 500, Penalized: true}},
		[]wqi.Exclusion{{Parameter: "nitrate", Reason: wqi.ReasonNoData}},
		[]zonal.Record{
			{ID: "z2", Count: 0},
			{ID: "z1", Count: 2, Mean: ptr(0.85), Min: ptr(0.8), Max: ptr(0.9), Std: ptr(0.05), Median: ptr(0.85)},
		},
	)
}

func TestNew(t *testing.T) {
	r := sampleReport(t)

	require.Len(t, r.Zones, 2)
	assert.Equal(t, "z1", r.Zones[0].ID)
	assert.Equal(t, wqi.ClassExcellent, r.Zones[0].Class)
	assert.Equal(t, wqi.Class(""), r.Zones[1].Class)
	require.NotNil(t, r.Composite)
	assert.Equal(t, 2, r.Composite.Count)
	assert.Equal(t, 2, r.Grid.Cols)
}

func TestJSON_EmptyZoneIsNull(t *testing.T) {
	data, err := JSON(sampleReport(t))
	require.NoError(t, err)

	var doc struct {
		SessionID string                   `json:"session_id"`
		Zones     []map[string]interface{} `json:"zones"`
		Excluded  []wqi.Exclusion          `json:"excluded"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "sess-1", doc.SessionID)
	require.Len(t, doc.Zones, 2)

	empty := doc.Zones[1]
	assert.Equal(t, "z2", empty["id"])
	assert.Contains(t, empty, "mean")
	assert.Nil(t, empty["mean"], "empty zones report null, not zero")
	assert.Equal(t, 0.85, doc.Zones[0]["mean"])
	assert.Equal(t, "nitrate", doc.Excluded[0].Parameter)
}

func TestJSON_EmptyTablesAreArrays(t *testing.T) {
	data, err := JSON(New("s", time.Now(), nil, nil, nil, nil))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"weights": []`)
	assert.Contains(t, string(data), `"excluded": []`)
	assert.NotContains(t, string(data), `"composite"`)
}

func TestXLSX(t *testing.T) {
	data, err := XLSX(sampleReport(t))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "report.xlsx")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)

	zones, ok := f.Sheet[SheetZones]
	require.True(t, ok)
	require.Len(t, zones.Rows, 3)
	assert.Equal(t, "id", zones.Rows[0].Cells[0].String())
	assert.Equal(t, "z1", zones.Rows[1].Cells[0].String())
	assert.Equal(t, "excellent", zones.Rows[1].Cells[7].String())
	assert.Equal(t, "", zones.Rows[2].Cells[2].String(), "empty statistics left blank")

	weights, ok := f.Sheet[SheetWeights]
	require.True(t, ok)
	require.Len(t, weights.Rows, 2)
	assert.Equal(t, "tds", weights.Rows[1].Cells[0].String())

	excluded, ok := f.Sheet[SheetExcluded]
	require.True(t, ok)
	assert.Equal(t, wqi.ReasonNoData, excluded.Rows[1].Cells[1].String())
}
