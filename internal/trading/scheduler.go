package trading

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"signal-tracker/internal/clock"
	trerrors "signal-tracker/internal/errors"
	"signal-tracker/internal/logging"
	"signal-tracker/internal/metrics"
)

// Cycle is one recurring unit of scheduler work.
type Cycle struct {
	Name     string
	Interval time.Duration
	// Symbols returns the symbols to process on this pass.
	Symbols func(ctx context.Context) ([]string, error)
	// Process handles one symbol. Errors are logged and isolated to the symbol.
	Process func(ctx context.Context, symbol string) error
}

// Scheduler runs cycles on independent tickers. Each cycle runs once at
// start and then on every tick; a slow pass delays the next pass of the same
// cycle instead of overlapping it.
type Scheduler struct {
	clock  clock.Clock
	limit  int
	logger zerolog.Logger
	cycles []Cycle

	mu      sync.RWMutex
	lastRun map[string]time.Time
}

// NewScheduler creates a Scheduler. limit bounds per-cycle symbol fan-out.
func NewScheduler(clk clock.Clock, limit int, logger zerolog.Logger, cycles ...Cycle) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	return &Scheduler{
		clock:   clk,
		limit:   limit,
		logger:  logging.WithComponent(logger, "scheduler"),
		cycles:  cycles,
		lastRun: make(map[string]time.Time),
	}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, c := range s.cycles {
		c := c
		g.Go(func() error {
			s.loop(ctx, c)
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	return err
}

// LastRun returns when the named cycle last completed a pass.
func (s *Scheduler) LastRun(name string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRun[name]
}

func (s *Scheduler) loop(ctx context.Context, c Cycle) {
	ticker := s.clock.NewTicker(c.Interval)
	defer ticker.Stop()

	s.logger.Info().Str("cycle", c.Name).Dur("interval", c.Interval).Msg("Cycle started")

	for {
		s.RunOnce(ctx, c)

		select {
		case <-ctx.Done():
			s.logger.Info().Str("cycle", c.Name).Msg("Cycle stopped")
			return
		case <-ticker.C():
		}
	}
}

// RunOnce executes a single pass of c.
func (s *Scheduler) RunOnce(ctx context.Context, c Cycle) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	log := s.logger.With().Str("cycle", c.Name).Logger()

	symbols, err := c.Symbols(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Could not load symbols")
		return
	}

	_ = forEachSymbol(logging.WithLogger(ctx, log), symbols, s.limit, log, c.Process)

	metrics.CycleDuration.WithLabelValues(c.Name).Observe(time.Since(start).Seconds())
	s.mu.Lock()
	s.lastRun[c.Name] = s.clock.Now()
	s.mu.Unlock()

	log.Debug().Int("symbols", len(symbols)).Dur("took", time.Since(start)).Msg("Cycle pass complete")
}

// forEachSymbol runs fn for every symbol with at most limit in flight. A
// failing symbol never stops the others; the returned error is only the
// context's.
func forEachSymbol(ctx context.Context, symbols []string, limit int, logger zerolog.Logger, fn func(ctx context.Context, symbol string) error) error {
	if limit <= 0 {
		limit = 1
	}
	var g errgroup.Group
	g.SetLimit(limit)

	for _, sym := range symbols {
		if ctx.Err() != nil {
			break
		}
		sym := sym
		g.Go(func() error {
			if err := fn(ctx, sym); err != nil {
				LogSymbolError(logger, sym, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

// LogSymbolError logs a per-symbol failure at a level matching its kind.
func LogSymbolError(logger zerolog.Logger, symbol string, err error) {
	switch {
	case err == nil:
	case trerrors.IsConflict(err):
		metrics.ConflictsTotal.Inc()
		logger.Debug().Err(err).Str("symbol", symbol).Msg("Lost transition race")
	case trerrors.IsConsistency(err):
		var ce *trerrors.ConsistencyError
		if trerrors.As(err, &ce) {
			metrics.ConsistencyWarnings.WithLabelValues(ce.Check).Inc()
		}
		logging.LogConsistencyWarning(logger.With().Str("symbol", symbol).Logger(), err)
	case trerrors.IsFetch(err):
		logger.Warn().Err(err).Str("symbol", symbol).Msg("Indicator fetch failed, skipping until next pass")
	case trerrors.IsDelivery(err):
		logger.Error().Err(err).Str("symbol", symbol).Msg("Entry alert not delivered, position not opened")
	case trerrors.Is(err, context.Canceled):
		logger.Debug().Str("symbol", symbol).Msg("Cancelled")
	default:
		logger.Error().Err(err).Str("symbol", symbol).Msg("Symbol processing failed")
	}
}
