package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/hydroindex/internal/boundary"
	"github.com/sells-group/hydroindex/internal/config"
)

// boundaryPool opens and pings the PostGIS connection pool.
func boundaryPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, eris.Wrap(err, "boundary: create connection pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "boundary: ping database")
	}
	return pool, nil
}

// zoneSource builds the configured zone resolver wrapped in a cache. PostGIS
// sources also retry transient failures. It
// returns a nil resolver when no zone source is configured. The returned
// close func is never nil.
func zoneSource(ctx context.Context, c config.BoundaryConfig) (boundary.Resolver, func(), error) {
	noop := func() {}

	var (
		src     boundary.Resolver
		closeFn = noop
	)
	switch {
	case c.DatabaseURL != "":
		pool, err := boundaryPool(ctx, c.DatabaseURL)
		if err != nil {
			return nil, noop, err
		}
		r, err := boundary.NewPostGISResolver(pool, c.Table,
			boundary.WithColumns(c.IDColumn, c.GeomColumn),
			boundary.WithSRID(c.SRID),
		)
		if err != nil {
			pool.Close()
			return nil, noop, err
		}
		src = boundary.NewRetrying(r, boundary.RetryConfig{
			MaxAttempts:    c.RetryAttempts,
			InitialBackoff: time.Duration(c.RetryBackoffMs) * time.Millisecond,
			JitterFraction: 0.25,
		})
		closeFn = pool.Close
	case c.Shapefile != "":
		src = boundary.NewShapefileResolver(c.Shapefile, c.IDField)
	default:
		return nil, noop, nil
	}

	zap.L().Debug("zone source configured", zap.String("source", src.Name()))
	if c.CacheEntries > 0 {
		src = boundary.NewCache(src, c.CacheEntries, time.Duration(c.CacheTTLMinutes)*time.Minute)
	}
	return src, closeFn, nil
}
