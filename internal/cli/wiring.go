package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"signal-tracker/internal/clock"
	"signal-tracker/internal/config"
	trerrors "signal-tracker/internal/errors"
	"signal-tracker/internal/gateway"
	"signal-tracker/internal/metrics"
	"signal-tracker/internal/models"
	"signal-tracker/internal/notify"
	"signal-tracker/internal/resilience"
	"signal-tracker/internal/store"
	"signal-tracker/internal/trading"
	"signal-tracker/pkg/utils"
)

// Backend is a position store that also keeps watch-lists.
type Backend interface {
	store.PositionStore
	store.WatchlistStore
	store.Pinger
}

// openStore opens the configured position store.
func openStore(ctx context.Context, cfg *config.Config) (Backend, error) {
	switch strings.ToLower(cfg.Store.Driver) {
	case "memory":
		return store.NewMemoryStore(), nil
	case "sqlite":
		s, err := store.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", trerrors.ErrStoreUnavailable, err)
		}
		return s, nil
	case "redis":
		r := cfg.Store.Redis
		s, err := store.NewRedisStore(ctx, store.RedisConfig{
			Addr:     r.Addr,
			Password: r.Password,
			DB:       r.DB,
			Prefix:   r.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", trerrors.ErrStoreUnavailable, err)
		}
		return s, nil
	}
	return nil, fmt.Errorf("%w: unknown store driver %q", trerrors.ErrConfigInvalid, cfg.Store.Driver)
}

// newBreaker creates the scanner circuit breaker and publishes its state.
func newBreaker(cfg *config.Config, clk clock.Clock, logger zerolog.Logger) *resilience.CircuitBreaker {
	bc := resilience.DefaultCircuitBreakerConfig()
	if cfg.Scanner.BreakerFailures > 0 {
		bc.FailureThreshold = cfg.Scanner.BreakerFailures
	}
	if cfg.Scanner.BreakerTimeout > 0 {
		bc.Timeout = cfg.Scanner.BreakerTimeout
	}
	cb := resilience.NewCircuitBreaker("tradingview", bc, clk)
	metrics.CircuitState.WithLabelValues(cb.Name()).Set(0)
	cb.OnStateChange(func(name string, from, to resilience.CircuitState) {
		metrics.CircuitState.WithLabelValues(name).Set(circuitValue(to))
		logger.Warn().
			Str("breaker", name).
			Str("from", string(from)).
			Str("to", string(to)).
			Msg("Circuit breaker state changed")
	})
	return cb
}

func circuitValue(s resilience.CircuitState) float64 {
	switch s {
	case resilience.CircuitOpen:
		return 2
	case resilience.CircuitHalfOpen:
		return 1
	}
	return 0
}

// newGateway builds the retrying TradingView client.
func newGateway(cfg *config.Config, breaker *resilience.CircuitBreaker, logger zerolog.Logger) gateway.Gateway {
	tv := gateway.NewTradingView(gateway.TradingViewConfig{
		BaseURL:  cfg.Scanner.BaseURL,
		Exchange: cfg.Scanner.Exchange,
		Screener: cfg.Scanner.Screener,
		Timeout:  cfg.Scanner.Timeout,
	}, breaker, logger)
	return gateway.NewRetrying(tv, utils.FixedRetryConfig(cfg.Retry.Attempts, cfg.Retry.Delay), logger)
}

// newNotifier builds the alert channel. Telegram is primary when configured;
// otherwise alerts go to the terminal.
func newNotifier(cfg *config.Config, out io.Writer, logger zerolog.Logger) (notify.Notifier, error) {
	t := cfg.Notifications.Telegram
	if !cfg.TelegramReady() {
		if t.Enabled && !t.DryRun {
			logger.Warn().Msg("Telegram credentials missing, printing alerts to the terminal")
		}
		return notify.NewTerminalNotifier(out, logger), nil
	}

	tg, err := notify.NewTelegramNotifier(notify.TelegramConfig{
		BotToken: t.BotToken,
		ChatID:   t.ChatID,
		Timeout:  t.Timeout,
	}, logger)
	if err != nil {
		return nil, err
	}
	multi := notify.NewMultiNotifier(tg, logger)
	if cfg.Notifications.Terminal {
		multi.AddMirror(notify.NewTerminalNotifier(out, logger))
	}
	return multi, nil
}

// newWatchlist returns the symbols source for the entry cycle: the configured
// file when set, else the named list in the store.
func newWatchlist(cfg *config.Config, ws store.WatchlistStore) trading.Watchlist {
	if path := cfg.Scanner.WatchlistFile; path != "" {
		return trading.WatchlistFunc(func(ctx context.Context) ([]string, error) {
			return config.LoadWatchlistFile(path)
		})
	}
	return trading.StoreWatchlist{Store: ws, Name: cfg.Scanner.WatchlistName}
}

// entryRules maps the strategy section onto trading rules.
func entryRules(cfg *config.Config) trading.EntryRules {
	st := cfg.Strategy
	rules := trading.DefaultEntryRules()
	rules.RSIOverbought = st.RSIOverbought
	rules.RSIOversold = st.RSIOversold
	rules.MaxEMA200Distance = st.MaxEMA200Distance
	rules.ConfirmationTimeframes = st.Timeframes()
	rules.Levels.StopPercent = st.StopPercent
	copy(rules.Levels.TPMultiples[:], st.TPMultiples)
	return rules
}

// newTracker wires the tracker from configuration.
func newTracker(cfg *config.Config, st Backend, gw gateway.Gateway, n notify.Notifier, clk clock.Clock, logger zerolog.Logger) *trading.Tracker {
	return trading.NewTracker(trading.TrackerConfig{
		Store:            st,
		Gateway:          gw,
		Notifier:         n,
		Watchlist:        newWatchlist(cfg, st),
		Clock:            clk,
		Rules:            entryRules(cfg),
		Exchange:         cfg.Scanner.Exchange,
		EntryTimeframe:   models.Timeframe(cfg.Scanner.EntryTimeframe),
		MonitorTimeframe: models.Timeframe(cfg.Scanner.MonitorTimeframe),
		EntryInterval:    cfg.Scanner.EntryInterval,
		MonitorInterval:  cfg.Scanner.MonitorInterval,
		Cooldown:         cfg.Strategy.Cooldown,
		Concurrency:      cfg.Scanner.Concurrency,
		Logger:           logger,
	})
}
