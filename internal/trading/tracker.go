package trading

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"signal-tracker/internal/clock"
	trerrors "signal-tracker/internal/errors"
	"signal-tracker/internal/gateway"
	"signal-tracker/internal/logging"
	"signal-tracker/internal/models"
	"signal-tracker/internal/notify"
	"signal-tracker/internal/store"
	"signal-tracker/pkg/utils"
)

// Watchlist supplies the symbols scanned for entries. It is consulted on
// every entry pass.
type Watchlist interface {
	Symbols(ctx context.Context) ([]string, error)
}

// WatchlistFunc adapts a function to Watchlist.
type WatchlistFunc func(ctx context.Context) ([]string, error)

// Symbols calls f.
func (f WatchlistFunc) Symbols(ctx context.Context) ([]string, error) { return f(ctx) }

// StoreWatchlist reads a named list from a WatchlistStore.
type StoreWatchlist struct {
	Store store.WatchlistStore
	Name  string
}

// Symbols implements Watchlist.
func (w StoreWatchlist) Symbols(ctx context.Context) ([]string, error) {
	return w.Store.GetWatchlist(ctx, w.Name)
}

// TrackerConfig wires the whole signal lifecycle.
type TrackerConfig struct {
	Store     store.PositionStore
	Gateway   gateway.Gateway
	Notifier  notify.Notifier
	Watchlist Watchlist
	Clock     clock.Clock
	Rules     EntryRules
	Exchange  string

	EntryTimeframe   models.Timeframe
	MonitorTimeframe models.Timeframe
	EntryInterval    time.Duration
	MonitorInterval  time.Duration
	Cooldown         time.Duration
	Concurrency      int

	Logger zerolog.Logger
}

// Tracker owns the entry evaluator, position monitor, suspension timers and
// the scheduler that drives them.
type Tracker struct {
	cfg       TrackerConfig
	entry     *EntryEvaluator
	monitor   *PositionMonitor
	timers    *SuspensionTimer
	scheduler *Scheduler
	logger    zerolog.Logger
}

// Cycle names.
const (
	CycleEntry   = "entry"
	CycleMonitor = "monitor"
)

// NewTracker assembles a Tracker from cfg, filling in defaults.
func NewTracker(cfg TrackerConfig) *Tracker {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.EntryTimeframe == "" {
		cfg.EntryTimeframe = models.Timeframe1Min
	}
	if cfg.MonitorTimeframe == "" {
		cfg.MonitorTimeframe = models.Timeframe5Min
	}
	if cfg.EntryInterval <= 0 {
		cfg.EntryInterval = time.Minute
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = 5 * time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	t := &Tracker{cfg: cfg, logger: logging.WithComponent(cfg.Logger, "tracker")}

	t.timers = NewSuspensionTimer(SuspensionConfig{
		Store:      cfg.Store,
		Gateway:    cfg.Gateway,
		Clock:      cfg.Clock,
		Cooldown:   cfg.Cooldown,
		RetryAfter: cfg.MonitorInterval,
		Timeframe:  cfg.MonitorTimeframe,
		Logger:     cfg.Logger,
	})
	t.entry = NewEntryEvaluator(EntryConfig{
		Store:    cfg.Store,
		Gateway:  cfg.Gateway,
		Notifier: cfg.Notifier,
		Clock:    cfg.Clock,
		Rules:    cfg.Rules,
		Exchange: cfg.Exchange,
		Logger:   cfg.Logger,
	})
	t.monitor = NewPositionMonitor(MonitorConfig{
		Store:       cfg.Store,
		Gateway:     cfg.Gateway,
		Notifier:    cfg.Notifier,
		Timers:      t.timers,
		Clock:       cfg.Clock,
		Timeframe:   cfg.MonitorTimeframe,
		Concurrency: cfg.Concurrency,
		Logger:      cfg.Logger,
	})

	t.scheduler = NewScheduler(cfg.Clock, cfg.Concurrency, cfg.Logger,
		Cycle{
			Name:     CycleEntry,
			Interval: cfg.EntryInterval,
			Symbols:  t.watchSymbols,
			Process:  t.ScanSymbol,
		},
		Cycle{
			Name:     CycleMonitor,
			Interval: cfg.MonitorInterval,
			Symbols:  t.monitor.Symbols,
			Process: func(ctx context.Context, symbol string) error {
				_, err := t.monitor.CheckSymbol(ctx, symbol)
				return err
			},
		},
	)
	return t
}

// Run restores pending suspension timers and drives both cycles until ctx is
// cancelled. Timers are disarmed on return.
func (t *Tracker) Run(ctx context.Context) error {
	defer t.timers.Stop()

	if _, err := t.timers.Restore(ctx); err != nil {
		return err
	}
	t.logger.Info().
		Dur("entry_interval", t.cfg.EntryInterval).
		Dur("monitor_interval", t.cfg.MonitorInterval).
		Int("concurrency", t.cfg.Concurrency).
		Msg("Tracker running")

	return t.scheduler.Run(ctx)
}

// ScanSymbol fetches the entry-timeframe snapshot for symbol and evaluates it.
func (t *Tracker) ScanSymbol(ctx context.Context, symbol string) error {
	_, err := t.cfg.Store.Get(ctx, symbol)
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, trerrors.ErrPositionNotFound):
		return fmt.Errorf("check tracked %s: %w", symbol, err)
	}
	snap, err := t.cfg.Gateway.Fetch(ctx, symbol, t.cfg.EntryTimeframe)
	if err != nil {
		return err
	}
	_, err = t.entry.Evaluate(ctx, symbol, snap)
	return err
}

func (t *Tracker) watchSymbols(ctx context.Context) ([]string, error) {
	if t.cfg.Watchlist == nil {
		return nil, nil
	}
	symbols, err := t.cfg.Watchlist.Symbols(ctx)
	if err != nil {
		return nil, err
	}
	return utils.DedupeSymbols(symbols), nil
}

// Entry returns the entry evaluator.
func (t *Tracker) Entry() *EntryEvaluator { return t.entry }

// Monitor returns the position monitor.
func (t *Tracker) Monitor() *PositionMonitor { return t.monitor }

// Timers returns the suspension timer registry.
func (t *Tracker) Timers() *SuspensionTimer { return t.timers }

// Scheduler returns the cycle scheduler.
func (t *Tracker) Scheduler() *Scheduler { return t.scheduler }
