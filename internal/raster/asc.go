package raster

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// ascNoData is the no-data marker written to ESRI ASCII grids.
const ascNoData = -9999.0

// EncodeASCII writes s as an ESRI ASCII grid. Non-square cells use the
// dx/dy header pair understood by GDAL.
func EncodeASCII(w io.Writer, s *Surface) error {
	g := s.Grid
	bw := bufio.NewWriter(w)

	ext := g.Extent()
	fmt.Fprintf(bw, "ncols %d\nnrows %d\n", g.Cols, g.Rows)
	fmt.Fprintf(bw, "xllcorner %s\nyllcorner %s\n", fmtFloat(ext.MinX), fmtFloat(ext.MinY))
	if g.CellWidth == g.CellHeight {
		fmt.Fprintf(bw, "cellsize %s\n", fmtFloat(g.CellWidth))
	} else {
		fmt.Fprintf(bw, "dx %s\ndy %s\n", fmtFloat(g.CellWidth), fmtFloat(g.CellHeight))
	}
	fmt.Fprintf(bw, "NODATA_value %s\n", fmtFloat(ascNoData))

	for row := 0; row < g.Rows; row++ {
		for col := 0; col < g.Cols; col++ {
			if col > 0 {
				_ = bw.WriteByte(' ')
			}
			v := s.At(row, col)
			if IsNoData(v) {
				v = ascNoData
			}
			_, _ = bw.WriteString(fmtFloat(v))
		}
		_ = bw.WriteByte('\n')
	}

	return eris.Wrap(bw.Flush(), "raster: flush ascii grid")
}

// MarshalASCII returns s encoded as an ESRI ASCII grid.
func MarshalASCII(s *Surface) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeASCII(&buf, s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeASCII reads an ESRI ASCII grid. The CRS is not part of the format and
// is left empty.
func DecodeASCII(r io.Reader) (*Surface, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 64*1024*1024)

	header := map[string]float64{}
	var firstData string
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		key := strings.ToLower(fields[0])
		if len(fields) != 2 || !isHeaderKey(key) {
			firstData = line
			break
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, eris.Wrapf(err, "raster: parse header %s", key)
		}
		header[key] = v
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "raster: read ascii grid")
	}

	g := Grid{Cols: int(header["ncols"]), Rows: int(header["nrows"])}
	if cs, ok := header["cellsize"]; ok {
		g.CellWidth, g.CellHeight = cs, cs
	} else {
		g.CellWidth, g.CellHeight = header["dx"], header["dy"]
	}
	if g.Cols <= 0 || g.Rows <= 0 || g.CellWidth <= 0 || g.CellHeight <= 0 {
		return nil, eris.New("raster: ascii grid header is incomplete")
	}
	g.OriginX = header["xllcorner"]
	g.OriginY = header["yllcorner"] + float64(g.Rows)*g.CellHeight

	nodata, hasNoData := header["nodata_value"]

	vals := make([]float64, 0, g.Size())
	consume := func(line string) error {
		for _, f := range strings.Fields(line) {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return eris.Wrapf(err, "raster: parse cell %q", f)
			}
			if hasNoData && v == nodata {
				v = NoData
			}
			vals = append(vals, v)
		}
		return nil
	}
	if firstData != "" {
		if err := consume(firstData); err != nil {
			return nil, err
		}
	}
	for sc.Scan() {
		if err := consume(sc.Text()); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "raster: read ascii grid")
	}

	return NewSurfaceFrom(g, vals)
}

func isHeaderKey(k string) bool {
	switch k {
	case "ncols", "nrows", "xllcorner", "yllcorner", "cellsize", "dx", "dy", "nodata_value":
		return true
	}
	return false
}

func fmtFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
