package trading

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"signal-tracker/internal/clock"
	trerrors "signal-tracker/internal/errors"
	"signal-tracker/internal/gateway"
	"signal-tracker/internal/logging"
	"signal-tracker/internal/metrics"
	"signal-tracker/internal/models"
	"signal-tracker/internal/notify"
	"signal-tracker/internal/store"
)

// Action is the monitor's verdict for a position at a price.
type Action int

const (
	HoldLong Action = iota
	HoldShort
	TakeProfitHit
	StopLossHit
)

func (a Action) String() string {
	switch a {
	case HoldLong:
		return "HoldLong"
	case HoldShort:
		return "HoldShort"
	case TakeProfitHit:
		return "TakeProfitHit"
	case StopLossHit:
		return "StopLossHit"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// Check classifies price against an Active position's TP1 and stop. TP1 is
// tested first.
func Check(p *models.Position, price float64) Action {
	if p.Direction == models.Short {
		switch {
		case price <= p.TP1():
			return TakeProfitHit
		case price >= p.StopLoss:
			return StopLossHit
		}
		return HoldShort
	}
	switch {
	case price >= p.TP1():
		return TakeProfitHit
	case price <= p.StopLoss:
		return StopLossHit
	}
	return HoldLong
}

// PositionMonitor checks Active positions against the latest price and
// drives their transitions.
type PositionMonitor struct {
	store     store.PositionStore
	gateway   gateway.Gateway
	notifier  notify.Notifier
	timers    *SuspensionTimer
	clock     clock.Clock
	timeframe models.Timeframe
	limit     int
	logger    zerolog.Logger
}

// MonitorConfig wires a PositionMonitor.
type MonitorConfig struct {
	Store    store.PositionStore
	Gateway  gateway.Gateway
	Notifier notify.Notifier
	Timers   *SuspensionTimer
	Clock    clock.Clock
	// Timeframe is the price resolution checked each pass (5m by default).
	Timeframe models.Timeframe
	// Concurrency bounds Pass fan-out.
	Concurrency int
	Logger      zerolog.Logger
}

// NewPositionMonitor creates a PositionMonitor.
func NewPositionMonitor(cfg MonitorConfig) *PositionMonitor {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = models.Timeframe5Min
	}
	return &PositionMonitor{
		store:     cfg.Store,
		gateway:   cfg.Gateway,
		notifier:  cfg.Notifier,
		timers:    cfg.Timers,
		clock:     cfg.Clock,
		timeframe: cfg.Timeframe,
		limit:     cfg.Concurrency,
		logger:    logging.WithComponent(cfg.Logger, "monitor"),
	}
}

// Symbols returns the symbols currently Active.
func (m *PositionMonitor) Symbols(ctx context.Context) ([]string, error) {
	active, err := m.store.List(ctx, models.StateActive)
	if err != nil {
		return nil, err
	}
	metrics.TrackedPositions.WithLabelValues(string(models.StateActive)).Set(float64(len(active)))
	symbols := make([]string, len(active))
	for i, p := range active {
		symbols[i] = p.Symbol
	}
	return symbols, nil
}

// Pass checks every Active position once. Per-symbol failures are logged and
// do not stop the pass.
func (m *PositionMonitor) Pass(ctx context.Context) error {
	symbols, err := m.Symbols(ctx)
	if err != nil {
		return fmt.Errorf("list active positions: %w", err)
	}
	return forEachSymbol(ctx, symbols, m.limit, m.logger, func(ctx context.Context, symbol string) error {
		_, err := m.CheckSymbol(ctx, symbol)
		return err
	})
}

// CheckSymbol fetches the current price for one Active symbol and applies the
// resulting transition. The transition is committed before the alert is sent,
// so a lost race never produces an alert.
func (m *PositionMonitor) CheckSymbol(ctx context.Context, symbol string) (Action, error) {
	p, err := m.store.Get(ctx, symbol)
	if err != nil {
		if trerrors.Is(err, trerrors.ErrPositionNotFound) {
			return HoldLong, nil
		}
		return HoldLong, err
	}
	hold := HoldLong
	if p.Direction == models.Short {
		hold = HoldShort
	}
	if p.State != models.StateActive {
		return hold, nil
	}

	snap, err := m.gateway.Fetch(ctx, symbol, m.timeframe)
	if err != nil {
		return hold, err
	}
	price := snap.Close

	action := Check(p, price)
	switch action {
	case TakeProfitHit:
		return action, m.suspend(ctx, p, price)
	case StopLossHit:
		return action, m.stopOut(ctx, p, price)
	}
	return action, nil
}

func (m *PositionMonitor) suspend(ctx context.Context, p *models.Position, price float64) error {
	now := m.clock.Now()
	updated, err := m.store.Transition(ctx, p.Symbol, models.StateActive, models.StateSuspended, func(rec *models.Position) {
		rec.SuspendedAt = now
		rec.ExitPrice = price
	})
	if err != nil {
		return err
	}

	metrics.TransitionsTotal.WithLabelValues(string(models.StateActive), string(models.StateSuspended), "").Inc()
	logging.LogTransition(m.logger, p.Symbol, string(models.StateActive), string(models.StateSuspended), "", price)

	if m.timers != nil {
		m.timers.Schedule(p.Symbol, now)
	}
	m.alert(ctx, notify.RenderTakeProfit(updated, price))
	return nil
}

func (m *PositionMonitor) stopOut(ctx context.Context, p *models.Position, price float64) error {
	now := m.clock.Now()
	closed, err := m.store.Transition(ctx, p.Symbol, models.StateActive, models.StateClosed, func(rec *models.Position) {
		rec.Outcome = models.OutcomeLose
		rec.ExitPrice = price
		rec.ClosedAt = now
	})
	if err != nil {
		return err
	}

	metrics.TransitionsTotal.WithLabelValues(string(models.StateActive), string(models.StateClosed), string(models.OutcomeLose)).Inc()
	logging.LogTransition(m.logger, p.Symbol, string(models.StateActive), string(models.StateClosed), string(models.OutcomeLose), price)

	m.alert(ctx, notify.RenderStopLoss(closed, price))
	return nil
}

// alert delivers a follow-up. The state change has already been committed, so
// a failure is only logged.
func (m *PositionMonitor) alert(ctx context.Context, msg notify.Message) {
	_, err := m.notifier.Send(ctx, msg)
	metrics.NotificationsTotal.WithLabelValues(string(msg.Kind), metrics.Result(err)).Inc()
	if err != nil {
		m.logger.Error().
			Err(err).
			Str("symbol", msg.Symbol).
			Str("kind", string(msg.Kind)).
			Msg("Follow-up alert not delivered")
	}
}
