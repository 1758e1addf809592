package boundary

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"go.uber.org/zap"

	"github.com/sells-group/hydroindex/internal/db"
	"github.com/sells-group/hydroindex/internal/zonal"
)

// identPattern restricts table and column names interpolated into SQL.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// PostGISResolver loads zone polygons from a PostGIS table.
type PostGISResolver struct {
	pool       db.Pool
	table      pgx.Identifier
	idColumn   string
	geomColumn string
	srid       int
}

// PostGISOption configures a PostGISResolver.
type PostGISOption func(*PostGISResolver)

// WithColumns overrides the id and geometry column names (default "id" and
// "geom").
func WithColumns(id, geometry string) PostGISOption {
	return func(r *PostGISResolver) {
		r.idColumn = id
		r.geomColumn = geometry
	}
}

// WithSRID reprojects geometries to srid in the query. Zero keeps the stored
// projection.
func WithSRID(srid int) PostGISOption {
	return func(r *PostGISResolver) { r.srid = srid }
}

// NewPostGISResolver returns a resolver over table, written as "name" or
// "schema.name".
func NewPostGISResolver(pool db.Pool, table string, opts ...PostGISOption) (*PostGISResolver, error) {
	parts := strings.Split(table, ".")
	if len(parts) > 2 {
		return nil, eris.Errorf("boundary: invalid table name %q", table)
	}
	for _, p := range parts {
		if !identPattern.MatchString(p) {
			return nil, eris.Errorf("boundary: invalid table name %q", table)
		}
	}
	r := &PostGISResolver{
		pool:       pool,
		table:      pgx.Identifier(parts),
		idColumn:   "id",
		geomColumn: "geom",
	}
	for _, o := range opts {
		o(r)
	}
	for _, c := range []string{r.idColumn, r.geomColumn} {
		if !identPattern.MatchString(c) {
			return nil, eris.Errorf("boundary: invalid column name %q", c)
		}
	}
	if r.srid < 0 {
		return nil, eris.Errorf("boundary: invalid srid %d", r.srid)
	}
	return r, nil
}

// Name identifies the source in cache keys and errors.
func (r *PostGISResolver) Name() string {
	return "postgis:" + r.table.Sanitize()
}

func (r *PostGISResolver) query(filtered bool) string {
	geomExpr := pgx.Identifier{r.geomColumn}.Sanitize()
	if r.srid > 0 {
		geomExpr = fmt.Sprintf("ST_Transform(%s, %d)", geomExpr, r.srid)
	}
	idExpr := pgx.Identifier{r.idColumn}.Sanitize()
	q := fmt.Sprintf("SELECT %s::text, ST_AsEWKB(%s) FROM %s", idExpr, geomExpr, r.table.Sanitize())
	if filtered {
		q += fmt.Sprintf(" WHERE %s::text = ANY($1)", idExpr)
	}
	return q + fmt.Sprintf(" ORDER BY %s", idExpr)
}

// Resolve loads the requested zones. Every requested id must exist.
func (r *PostGISResolver) Resolve(ctx context.Context, ids []string) ([]zonal.Polygon, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if len(ids) == 0 {
		rows, err = r.pool.Query(ctx, r.query(false))
	} else {
		rows, err = r.pool.Query(ctx, r.query(true), ids)
	}
	if err != nil {
		return nil, eris.Wrap(err, "boundary: query zones")
	}
	defer rows.Close()

	var out []zonal.Polygon
	var skipped int
	for rows.Next() {
		var (
			id   string
			data []byte
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, eris.Wrap(err, "boundary: scan zone")
		}
		if len(data) == 0 {
			skipped++
			continue
		}
		g, err := ewkb.Unmarshal(data)
		if err != nil {
			return nil, eris.Wrapf(err, "boundary: decode zone %s", id)
		}
		out = append(out, zonal.Polygon{ID: id, Geometry: g})
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "boundary: iterate zones")
	}

	if skipped > 0 {
		zap.L().Debug("boundary: skipped zones without geometry",
			zap.String("source", r.Name()),
			zap.Int("skipped", skipped),
		)
	}
	if miss := missing(ids, out); len(miss) > 0 {
		return nil, &NotFoundError{Source: r.Name(), IDs: miss}
	}
	return out, nil
}
