package trading

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"signal-tracker/internal/clock"
	trerrors "signal-tracker/internal/errors"
	"signal-tracker/internal/gateway"
	"signal-tracker/internal/logging"
	"signal-tracker/internal/metrics"
	"signal-tracker/internal/models"
	"signal-tracker/internal/store"
)

// DefaultCooldown is how long a position stays Suspended after TP1.
const DefaultCooldown = 2 * time.Hour

// Classify decides the final outcome of a Suspended position at price. The
// stop is tested first. Unknown means price sits between stop and TP1.
func Classify(p *models.Position, price float64) models.Outcome {
	if p.Direction == models.Short {
		switch {
		case price >= p.StopLoss:
			return models.OutcomeLose
		case price <= p.TP1():
			return models.OutcomeWin
		}
		return models.OutcomeUnknown
	}
	switch {
	case price <= p.StopLoss:
		return models.OutcomeLose
	case price >= p.TP1():
		return models.OutcomeWin
	}
	return models.OutcomeUnknown
}

// SuspensionTimer holds one cancellable finalization timer per Suspended
// symbol.
type SuspensionTimer struct {
	store      store.PositionStore
	gateway    gateway.Gateway
	clock      clock.Clock
	cooldown   time.Duration
	retryAfter time.Duration
	timeframe  models.Timeframe
	logger     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	timers  map[string]*armed
	seq     uint64
	stopped bool
}

type armed struct {
	timer clock.Timer
	id    uint64
	due   time.Time
}

// SuspensionConfig wires a SuspensionTimer.
type SuspensionConfig struct {
	Store   store.PositionStore
	Gateway gateway.Gateway
	Clock   clock.Clock
	// Cooldown defaults to DefaultCooldown.
	Cooldown time.Duration
	// RetryAfter is the delay before retrying a finalization whose price
	// fetch failed.
	RetryAfter time.Duration
	Timeframe  models.Timeframe
	Logger     zerolog.Logger
}

// NewSuspensionTimer creates an empty timer registry.
func NewSuspensionTimer(cfg SuspensionConfig) *SuspensionTimer {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = 5 * time.Minute
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = models.Timeframe5Min
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SuspensionTimer{
		store:      cfg.Store,
		gateway:    cfg.Gateway,
		clock:      cfg.Clock,
		cooldown:   cfg.Cooldown,
		retryAfter: cfg.RetryAfter,
		timeframe:  cfg.Timeframe,
		logger:     logging.WithComponent(cfg.Logger, "suspension"),
		ctx:        ctx,
		cancel:     cancel,
		timers:     make(map[string]*armed),
	}
}

// Schedule arms the finalization timer for symbol at suspendedAt + cooldown,
// replacing any timer already armed for it. A deadline in the past fires on
// the next clock tick.
func (s *SuspensionTimer) Schedule(symbol string, suspendedAt time.Time) {
	s.armAt(symbol, suspendedAt.Add(s.cooldown))
}

func (s *SuspensionTimer) armAt(symbol string, due time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	if prev, ok := s.timers[symbol]; ok {
		prev.timer.Stop()
	}
	delay := due.Sub(s.clock.Now())
	if delay < 0 {
		delay = 0
	}

	s.seq++
	id := s.seq
	s.timers[symbol] = &armed{
		id:  id,
		due: due,
		timer: s.clock.AfterFunc(delay, func() {
			s.fire(symbol, id)
		}),
	}
	metrics.PendingTimers.Set(float64(len(s.timers)))

	s.logger.Debug().Str("symbol", symbol).Time("due", due).Msg("Suspension timer armed")
}

// Cancel disarms the timer for symbol. It reports whether one was armed.
func (s *SuspensionTimer) Cancel(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.timers[symbol]
	if !ok {
		return false
	}
	a.timer.Stop()
	delete(s.timers, symbol)
	metrics.PendingTimers.Set(float64(len(s.timers)))
	return true
}

// Pending returns the armed symbols and their deadlines.
func (s *SuspensionTimer) Pending() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]time.Time, len(s.timers))
	for sym, a := range s.timers {
		out[sym] = a.due
	}
	return out
}

// Restore re-arms timers for every Suspended position in the store, keeping
// each position's original deadline.
func (s *SuspensionTimer) Restore(ctx context.Context) (int, error) {
	suspended, err := s.store.List(ctx, models.StateSuspended)
	if err != nil {
		return 0, fmt.Errorf("list suspended positions: %w", err)
	}
	for _, p := range suspended {
		at := p.SuspendedAt
		if at.IsZero() {
			at = s.clock.Now()
		}
		s.Schedule(p.Symbol, at)
	}
	if len(suspended) > 0 {
		s.logger.Info().Int("count", len(suspended)).Msg("Suspension timers restored")
	}
	return len(suspended), nil
}

// Stop disarms every timer and waits for in-flight finalizations to return.
func (s *SuspensionTimer) Stop() {
	s.mu.Lock()
	s.stopped = true
	for sym, a := range s.timers {
		a.timer.Stop()
		delete(s.timers, sym)
	}
	metrics.PendingTimers.Set(0)
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

// fire runs when a timer elapses. A timer superseded by a later Schedule or
// Cancel is ignored.
func (s *SuspensionTimer) fire(symbol string, id uint64) {
	s.mu.Lock()
	a, ok := s.timers[symbol]
	if !ok || a.id != id || s.stopped {
		s.mu.Unlock()
		return
	}
	delete(s.timers, symbol)
	metrics.PendingTimers.Set(float64(len(s.timers)))
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	if err := s.Finalize(s.ctx, symbol); err != nil {
		switch {
		case trerrors.IsConflict(err):
			s.logger.Debug().Err(err).Str("symbol", symbol).Msg("Finalization lost race")
		case s.ctx.Err() != nil:
		default:
			s.logger.Warn().
				Err(err).
				Str("symbol", symbol).
				Dur("retry_in", s.retryAfter).
				Msg("Finalization failed, re-arming")
			s.armAt(symbol, s.clock.Now().Add(s.retryAfter))
		}
	}
}

// Finalize closes a Suspended position with the outcome implied by the
// current price. A symbol that is no longer Suspended is left alone.
func (s *SuspensionTimer) Finalize(ctx context.Context, symbol string) error {
	p, err := s.store.Get(ctx, symbol)
	if err != nil {
		if trerrors.Is(err, trerrors.ErrPositionNotFound) {
			s.logger.Debug().Str("symbol", symbol).Msg("Suspended position gone, nothing to finalize")
			return nil
		}
		return err
	}
	if p.State != models.StateSuspended {
		return nil
	}

	snap, err := s.gateway.Fetch(ctx, symbol, s.timeframe)
	if err != nil {
		return err
	}
	price := snap.Close
	outcome := Classify(p, price)

	if outcome == models.OutcomeUnknown {
		cerr := trerrors.NewConsistencyError(symbol, "final_outcome",
			fmt.Sprintf("price %v between stop %v and TP1 %v at finalization", price, p.StopLoss, p.TP1()))
		logging.LogConsistencyWarning(s.logger, cerr)
		metrics.ConsistencyWarnings.WithLabelValues(cerr.Check).Inc()
	}

	now := s.clock.Now()
	if _, err := s.store.Transition(ctx, symbol, models.StateSuspended, models.StateClosed, func(rec *models.Position) {
		rec.Outcome = outcome
		rec.ExitPrice = price
		rec.ClosedAt = now
	}); err != nil {
		return err
	}

	metrics.TransitionsTotal.WithLabelValues(string(models.StateSuspended), string(models.StateClosed), string(outcome)).Inc()
	logging.LogTransition(s.logger, symbol, string(models.StateSuspended), string(models.StateClosed), string(outcome), price)
	return nil
}
