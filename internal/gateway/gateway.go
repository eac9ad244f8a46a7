// Package gateway fetches indicator snapshots for a symbol and timeframe.
package gateway

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	trerrors "signal-tracker/internal/errors"
	"signal-tracker/internal/logging"
	"signal-tracker/internal/metrics"
	"signal-tracker/internal/models"
	"signal-tracker/pkg/utils"
)

// Gateway returns the latest indicator values for a symbol on one timeframe.
// Implementations may fail transiently.
type Gateway interface {
	Fetch(ctx context.Context, symbol string, tf models.Timeframe) (models.Snapshot, error)
}

// Func adapts a plain function to Gateway.
type Func func(ctx context.Context, symbol string, tf models.Timeframe) (models.Snapshot, error)

// Fetch calls f.
func (f Func) Fetch(ctx context.Context, symbol string, tf models.Timeframe) (models.Snapshot, error) {
	return f(ctx, symbol, tf)
}

// RetryingGateway retries a Gateway under a bounded policy and wraps the
// final failure in a FetchError.
type RetryingGateway struct {
	next   Gateway
	cfg    utils.RetryConfig
	logger zerolog.Logger
}

// NewRetrying wraps next with the given retry policy.
func NewRetrying(next Gateway, cfg utils.RetryConfig, logger zerolog.Logger) *RetryingGateway {
	return &RetryingGateway{
		next:   next,
		cfg:    cfg,
		logger: logging.WithComponent(logger, "gateway"),
	}
}

// Fetch implements Gateway.
func (g *RetryingGateway) Fetch(ctx context.Context, symbol string, tf models.Timeframe) (models.Snapshot, error) {
	attempts := 0
	cfg := g.cfg
	cfg.OnRetry = func(attempt int, err error) {
		g.logger.Warn().
			Err(err).
			Str("symbol", symbol).
			Str("timeframe", string(tf)).
			Int("attempt", attempt).
			Dur("retry_in", g.cfg.InitialDelay).
			Msg("Indicator fetch failed, retrying")
	}

	snap, err := utils.RetryWithResult(ctx, cfg, func() (models.Snapshot, error) {
		attempts++
		start := time.Now()
		s, err := g.next.Fetch(ctx, symbol, tf)
		metrics.FetchLatency.WithLabelValues(string(tf)).Observe(time.Since(start).Seconds())
		metrics.FetchesTotal.WithLabelValues(string(tf), metrics.Result(err)).Inc()
		return s, err
	})
	if err != nil {
		if ctx.Err() != nil {
			return models.Snapshot{}, ctx.Err()
		}
		return models.Snapshot{}, trerrors.NewFetchError(symbol, string(tf), attempts, err)
	}
	return snap, nil
}
