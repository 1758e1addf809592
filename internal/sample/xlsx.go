package sample

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// XLSXOptions configures LoadXLSX. The first row of the sheet is the header.
type XLSXOptions struct {
	SheetName  string // defaults to the first sheet
	XColumn    string // defaults to "x"
	YColumn    string // defaults to "y"
	IDColumn   string // optional
	Parameters []string
}

// LoadXLSX reads sample points from a spreadsheet with one row per location.
// Rows whose coordinates do not parse are skipped.
func LoadXLSX(path string, opts XLSXOptions) ([]Point, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "sample: open xlsx")
	}

	var sheet *xlsx.Sheet
	switch {
	case opts.SheetName != "":
		s, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("sample: sheet %q not found", opts.SheetName)
		}
		sheet = s
	case len(f.Sheets) > 0:
		sheet = f.Sheets[0]
	default:
		return nil, eris.New("sample: workbook has no sheets")
	}
	if len(sheet.Rows) == 0 {
		return nil, nil
	}

	header := make(map[string]int)
	for i, cell := range sheet.Rows[0].Cells {
		header[NormalizeName(cell.String())] = i
	}

	col := func(name, fallback string) (int, error) {
		if name == "" {
			name = fallback
		}
		idx, ok := header[NormalizeName(name)]
		if !ok {
			return 0, eris.Errorf("sample: column %q not found", name)
		}
		return idx, nil
	}
	xIdx, err := col(opts.XColumn, "x")
	if err != nil {
		return nil, err
	}
	yIdx, err := col(opts.YColumn, "y")
	if err != nil {
		return nil, err
	}
	idIdx := -1
	if opts.IDColumn != "" {
		if idIdx, err = col(opts.IDColumn, ""); err != nil {
			return nil, err
		}
	}

	params := make(map[string]int)
	if len(opts.Parameters) > 0 {
		for _, p := range opts.Parameters {
			idx, err := col(p, "")
			if err != nil {
				return nil, err
			}
			params[NormalizeName(p)] = idx
		}
	} else {
		for name, idx := range header {
			if idx != xIdx && idx != yIdx && idx != idIdx && name != "" {
				params[name] = idx
			}
		}
	}

	var points []Point
	for _, row := range sheet.Rows[1:] {
		cell := func(idx int) string {
			if idx < 0 || idx >= len(row.Cells) {
				return ""
			}
			return cleanAttr(row.Cells[idx].String())
		}

		x, okX := parseValue(cell(xIdx))
		y, okY := parseValue(cell(yIdx))
		if !okX || !okY {
			continue
		}

		p := Point{X: x, Y: y, Values: make(map[string]float64, len(params))}
		if idIdx >= 0 {
			p.ID = cell(idIdx)
		}
		for name, idx := range params {
			if v, ok := parseValue(cell(idx)); ok {
				p.Values[name] = v
			}
		}
		points = append(points, p)
	}

	return points, nil
}
