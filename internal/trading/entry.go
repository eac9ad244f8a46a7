// Package trading implements the signal lifecycle: entry evaluation, position
// monitoring, post-target suspension and the polling scheduler that drives them.
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
	"signal-tracker/pkg/utils"
)

// Signal is the result of evaluating a symbol for entry.
type Signal int

const (
	NoAction Signal = iota
	OpenLong
	OpenShort
)

func (s Signal) String() string {
	switch s {
	case OpenLong:
		return "OpenLong"
	case OpenShort:
		return "OpenShort"
	default:
		return "NoAction"
	}
}

// EntryRules holds the entry trigger thresholds.
type EntryRules struct {
	RSIOverbought float64
	RSIOversold   float64
	// MaxEMA200Distance bounds how far price may have run from EMA200,
	// as a fraction (0.017 = 1.7%).
	MaxEMA200Distance      float64
	ConfirmationTimeframes []models.Timeframe
	Levels                 LevelRules
}

// DefaultEntryRules returns the stock strategy thresholds.
func DefaultEntryRules() EntryRules {
	return EntryRules{
		RSIOverbought:          65,
		RSIOversold:            35,
		MaxEMA200Distance:      0.017,
		ConfirmationTimeframes: models.ConfirmationTimeframes(),
		Levels:                 DefaultLevelRules(),
	}
}

// LongTrigger reports whether a snapshot qualifies for a long entry.
func (r EntryRules) LongTrigger(s models.Snapshot) bool {
	if s.Close <= 0 {
		return false
	}
	return s.Close > s.EMA20 &&
		s.RSI > r.RSIOverbought &&
		(s.Close-s.EMA200)/s.Close <= r.MaxEMA200Distance
}

// ShortTrigger reports whether a snapshot qualifies for a short entry.
func (r EntryRules) ShortTrigger(s models.Snapshot) bool {
	if s.EMA200 <= 0 {
		return false
	}
	return s.Close < s.EMA20 &&
		s.RSI < r.RSIOversold &&
		(s.EMA200-s.Close)/s.EMA200 <= r.MaxEMA200Distance
}

// Confirms reports whether a higher-timeframe snapshot agrees with dir.
func Confirms(dir models.Direction, s models.Snapshot) bool {
	switch dir {
	case models.Long:
		return s.Close > s.EMA5 && s.EMA5 > s.EMA200
	case models.Short:
		return s.Close < s.EMA5 && s.EMA5 < s.EMA200
	}
	return false
}

// EntryEvaluator decides whether to open a position and, if so, announces
// and records it.
type EntryEvaluator struct {
	store    store.PositionStore
	gateway  gateway.Gateway
	notifier notify.Notifier
	clock    clock.Clock
	rules    EntryRules
	exchange string
	logger   zerolog.Logger
}

// EntryConfig wires an EntryEvaluator.
type EntryConfig struct {
	Store    store.PositionStore
	Gateway  gateway.Gateway
	Notifier notify.Notifier
	Clock    clock.Clock
	Rules    EntryRules
	// Exchange prefixes chart links.
	Exchange string
	Logger   zerolog.Logger
}

// NewEntryEvaluator creates an EntryEvaluator.
func NewEntryEvaluator(cfg EntryConfig) *EntryEvaluator {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Exchange == "" {
		cfg.Exchange = "BYBIT"
	}
	return &EntryEvaluator{
		store:    cfg.Store,
		gateway:  cfg.Gateway,
		notifier: cfg.Notifier,
		clock:    cfg.Clock,
		rules:    cfg.Rules,
		exchange: cfg.Exchange,
		logger:   logging.WithComponent(cfg.Logger, "entry"),
	}
}

// Evaluate runs the entry decision for one symbol against its entry-timeframe
// snapshot. A tracked symbol is never re-entered. The position is persisted
// only after the entry alert was delivered.
func (e *EntryEvaluator) Evaluate(ctx context.Context, symbol string, snap models.Snapshot) (Signal, error) {
	_, err := e.store.Get(ctx, symbol)
	switch {
	case err == nil:
		return NoAction, nil
	case !trerrors.Is(err, trerrors.ErrPositionNotFound):
		return NoAction, fmt.Errorf("check tracked %s: %w", symbol, err)
	}

	var dir models.Direction
	switch {
	case e.rules.LongTrigger(snap):
		dir = models.Long
	case e.rules.ShortTrigger(snap):
		dir = models.Short
	default:
		return NoAction, nil
	}

	log := logging.WithSymbol(e.logger, symbol)
	log.Debug().Str("direction", string(dir)).Float64("close", snap.Close).Float64("rsi", snap.RSI).Msg("Entry trigger fired")

	ok, err := e.confirm(ctx, symbol, dir)
	if err != nil || !ok {
		return NoAction, err
	}

	lv, err := ComputeLevels(symbol, dir, snap.Close, e.rules.Levels)
	if err != nil {
		return NoAction, err
	}

	pos := &models.Position{
		Symbol:      symbol,
		Direction:   dir,
		EntryPrice:  lv.Entry,
		StopLoss:    lv.StopLoss,
		TakeProfits: lv.TakeProfits,
	}

	chart := utils.ChartURL(e.exchange, symbol, models.Timeframe5Min.Minutes())
	ref, err := e.notifier.Send(ctx, notify.RenderEntry(pos, chart))
	metrics.NotificationsTotal.WithLabelValues(string(notify.KindEntry), metrics.Result(err)).Inc()
	if err != nil {
		if !trerrors.IsDelivery(err) {
			err = trerrors.NewDeliveryError("notifier", symbol, err)
		}
		return NoAction, err
	}

	pos.MessageRef = ref
	pos.OpenedAt = e.clock.Now()
	if err := e.store.Create(ctx, pos); err != nil {
		logging.LogEntryUntracked(log, symbol, string(dir), string(ref), err)
		_, nerr := e.notifier.Send(ctx, notify.RenderUntracked(pos))
		metrics.NotificationsTotal.WithLabelValues(string(notify.KindUntracked), metrics.Result(nerr)).Inc()
		if nerr != nil {
			log.Warn().Err(nerr).Str("message_ref", string(ref)).Msg("Failed to send untracked notice")
		}
		return NoAction, fmt.Errorf("store entry %s (alert %s already sent): %w", symbol, ref, err)
	}

	metrics.EntriesTotal.WithLabelValues(string(dir)).Inc()
	logging.LogEntry(log, symbol, string(dir), pos.EntryPrice, pos.StopLoss, pos.TP1())

	if dir == models.Long {
		return OpenLong, nil
	}
	return OpenShort, nil
}

// confirm checks each confirmation timeframe in order and stops at the first
// one that disagrees.
func (e *EntryEvaluator) confirm(ctx context.Context, symbol string, dir models.Direction) (bool, error) {
	for _, tf := range e.rules.ConfirmationTimeframes {
		s, err := e.gateway.Fetch(ctx, symbol, tf)
		if err != nil {
			return false, err
		}
		if !Confirms(dir, s) {
			e.logger.Debug().
				Str("symbol", symbol).
				Str("direction", string(dir)).
				Str("timeframe", string(tf)).
				Msg("Confirmation failed")
			return false, nil
		}
	}
	return true, nil
}
