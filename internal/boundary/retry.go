package boundary

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"net"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/sells-group/hydroindex/internal/zonal"
)

// RetryConfig controls retries of a zone source with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first. 1
	// disables retries. Default: 3.
	MaxAttempts int
	// InitialBackoff is the delay before the first retry. Default: 250ms.
	InitialBackoff time.Duration
	// MaxBackoff caps the delay. Default: 5s.
	MaxBackoff time.Duration
	// JitterFraction spreads each delay by up to ±fraction. Default: 0.
	JitterFraction float64
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 250 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Second
	}
	if c.JitterFraction < 0 {
		c.JitterFraction = 0
	}
	return c
}

func (c RetryConfig) backoff(attempt int) time.Duration {
	delay := float64(c.InitialBackoff) * math.Pow(2, float64(attempt))
	if delay > float64(c.MaxBackoff) {
		delay = float64(c.MaxBackoff)
	}
	if c.JitterFraction > 0 {
		delay += (rand.Float64()*2 - 1) * delay * c.JitterFraction
	}
	return time.Duration(max(delay, 0))
}

// Retrying wraps a Resolver and retries transient database and network
// failures. Missing zones and other errors are returned at once.
type Retrying struct {
	source Resolver
	cfg    RetryConfig
	sleep  func(context.Context, time.Duration) error
}

// NewRetrying wraps source with cfg.
func NewRetrying(source Resolver, cfg RetryConfig) *Retrying {
	return &Retrying{source: source, cfg: cfg.withDefaults(), sleep: sleepCtx}
}

// Name reports the wrapped source.
func (r *Retrying) Name() string { return r.source.Name() }

// Resolve calls the source until it succeeds, fails permanently, runs out of
// attempts or ctx is done.
func (r *Retrying) Resolve(ctx context.Context, ids []string) ([]zonal.Polygon, error) {
	var lastErr error
	for attempt := 0; attempt < r.cfg.MaxAttempts; attempt++ {
		polys, err := r.source.Resolve(ctx, ids)
		if err == nil {
			return polys, nil
		}
		lastErr = err
		if ctx.Err() != nil || !IsTransient(err) || attempt == r.cfg.MaxAttempts-1 {
			break
		}

		zap.L().Warn("boundary: retrying zone source",
			zap.String("source", r.source.Name()),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		if err := r.sleep(ctx, r.cfg.backoff(attempt)); err != nil {
			break
		}
	}
	return nil, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// transientStates are SQLSTATE codes worth retrying: connection failures,
// serialization conflicts, deadlocks, shutdowns and connection limits.
var transientStates = map[string]bool{
	"08000": true, "08001": true, "08003": true, "08004": true, "08006": true,
	"40001": true, "40P01": true,
	"53300": true,
	"57P01": true, "57P02": true, "57P03": true,
}

// IsTransient reports whether err is a retryable database or network error.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, ErrNotFound) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return transientStates[pgErr.Code]
	}
	if pgconn.Timeout(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE)
}
