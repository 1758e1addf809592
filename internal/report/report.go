// Package report renders the zonal and weight tables of an analysis run as
// JSON and XLSX documents.
package report

import (
	"bytes"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/hydroindex/internal/raster"
	"github.com/sells-group/hydroindex/internal/wqi"
	"github.com/sells-group/hydroindex/internal/zonal"
)

// Zone is a zonal record with its quality class. Class is empty for zones
// without valid pixels.
type Zone struct {
	zonal.Record
	Class wqi.Class `json:"class,omitempty"`
}

// Report is the exported summary of one run.
type Report struct {
	SessionID   string             `json:"session_id"`
	GeneratedAt time.Time          `json:"generated_at"`
	Grid        raster.Grid        `json:"grid"`
	Composite   *raster.Summary    `json:"composite,omitempty"`
	Weights     []wqi.WeightRecord `json:"weights"`
	Excluded    []wqi.Exclusion    `json:"excluded"`
	Zones       []Zone             `json:"zones"`
}

// New builds a report. Zones are ordered by id and classified by their mean
// composite score.
func New(sessionID string, generated time.Time, composite *raster.Surface, weights []wqi.WeightRecord,
	excluded []wqi.Exclusion, records []zonal.Record) *Report {
	r := &Report{
		SessionID:   sessionID,
		GeneratedAt: generated.UTC(),
		Weights:     weights,
		Excluded:    excluded,
		Zones:       make([]Zone, 0, len(records)),
	}
	if r.Weights == nil {
		r.Weights = []wqi.WeightRecord{}
	}
	if r.Excluded == nil {
		r.Excluded = []wqi.Exclusion{}
	}
	if composite != nil {
		r.Grid = composite.Grid
		if sum, ok := composite.Summarize(); ok {
			r.Composite = &sum
		}
	}
	for _, rec := range records {
		z := Zone{Record: rec}
		if rec.Mean != nil {
			z.Class = wqi.Classify(*rec.Mean)
		}
		r.Zones = append(r.Zones, z)
	}
	sort.Slice(r.Zones, func(i, j int) bool { return r.Zones[i].ID < r.Zones[j].ID })
	return r
}

// JSON encodes the report as indented JSON.
func JSON(r *Report) ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "report: marshal json")
	}
	return data, nil
}

// Sheet names in the XLSX workbook.
const (
	SheetZones    = "zones"
	SheetWeights  = "weights"
	SheetExcluded = "excluded"
)

// XLSX encodes the report as a workbook with zones, weights and excluded
// sheets. Empty statistics are left blank.
func XLSX(r *Report) ([]byte, error) {
	f := xlsx.NewFile()

	zones, err := f.AddSheet(SheetZones)
	if err != nil {
		return nil, eris.Wrap(err, "report: add zones sheet")
	}
	addHeader(zones, "id", "count", "mean", "min", "max", "std", "median", "class")
	for _, z := range r.Zones {
		row := zones.AddRow()
		row.AddCell().SetString(z.ID)
		row.AddCell().SetInt(z.Count)
		for _, v := range []*float64{z.Mean, z.Min, z.Max, z.Std, z.Median} {
			cell := row.AddCell()
			if v != nil {
				cell.SetFloat(*v)
			}
		}
		row.AddCell().SetString(string(z.Class))
	}

	weights, err := f.AddSheet(SheetWeights)
	if err != nil {
		return nil, eris.Wrap(err, "report: add weights sheet")
	}
	addHeader(weights, "parameter", "weight", "mean_rank", "mean_value", "threshold", "penalized", "supplied")
	for _, w := range r.Weights {
		row := weights.AddRow()
		row.AddCell().SetString(w.Parameter)
		row.AddCell().SetFloat(w.Weight)
		row.AddCell().SetFloat(w.MeanRank)
		row.AddCell().SetFloat(w.MeanValue)
		row.AddCell().SetFloat(w.Threshold)
		row.AddCell().SetBool(w.Penalized)
		row.AddCell().SetBool(w.Supplied)
	}

	excluded, err := f.AddSheet(SheetExcluded)
	if err != nil {
		return nil, eris.Wrap(err, "report: add excluded sheet")
	}
	addHeader(excluded, "parameter", "reason")
	for _, e := range r.Excluded {
		row := excluded.AddRow()
		row.AddCell().SetString(e.Parameter)
		row.AddCell().SetString(e.Reason)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, eris.Wrap(err, "report: write xlsx")
	}
	return buf.Bytes(), nil
}

func addHeader(sheet *xlsx.Sheet, names ...string) {
	row := sheet.AddRow()
	for _, n := range names {
		row.AddCell().SetString(n)
	}
}
