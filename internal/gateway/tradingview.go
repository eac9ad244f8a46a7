package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	trerrors "signal-tracker/internal/errors"
	"signal-tracker/internal/logging"
	"signal-tracker/internal/models"
	"signal-tracker/internal/resilience"
	"signal-tracker/pkg/utils"
)

// DefaultScannerURL is the TradingView scanner endpoint root.
const DefaultScannerURL = "https://scanner.tradingview.com"

const userAgent = "signal-tracker/1.0"

// Indicator columns in the order they are requested and decoded.
var scannerColumns = []string{"close", "EMA5", "EMA10", "EMA20", "EMA50", "EMA200", "RSI"}

// TradingViewConfig configures the scanner client.
type TradingViewConfig struct {
	BaseURL  string
	Exchange string
	Screener string
	Timeout  time.Duration
}

// TradingView fetches indicator snapshots from the TradingView scanner API.
type TradingView struct {
	cfg     TradingViewConfig
	http    *http.Client
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger
}

// NewTradingView creates a scanner client. A nil breaker disables circuit
// breaking.
func NewTradingView(cfg TradingViewConfig, breaker *resilience.CircuitBreaker, logger zerolog.Logger) *TradingView {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultScannerURL
	}
	if cfg.Exchange == "" {
		cfg.Exchange = "BYBIT"
	}
	if cfg.Screener == "" {
		cfg.Screener = "crypto"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &TradingView{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		logger:  logging.WithComponent(logger, "tradingview"),
	}
}

// Fetch implements Gateway.
func (t *TradingView) Fetch(ctx context.Context, symbol string, tf models.Timeframe) (models.Snapshot, error) {
	if !tf.Valid() {
		return models.Snapshot{}, trerrors.NewValidationError("timeframe", tf, "unsupported timeframe")
	}
	if t.breaker == nil {
		return t.fetch(ctx, symbol, tf)
	}
	return resilience.ExecuteWithResult(ctx, t.breaker, func(ctx context.Context) (models.Snapshot, error) {
		return t.fetch(ctx, symbol, tf)
	})
}

type scanRequest struct {
	Symbols scanSymbols `json:"symbols"`
	Columns []string    `json:"columns"`
}

type scanSymbols struct {
	Tickers []string  `json:"tickers"`
	Query   scanQuery `json:"query"`
}

type scanQuery struct {
	Types []string `json:"types"`
}

func (t *TradingView) fetch(ctx context.Context, symbol string, tf models.Timeframe) (models.Snapshot, error) {
	ticker := utils.Ticker(t.cfg.Exchange, symbol)
	body, err := json.Marshal(scanRequest{
		Symbols: scanSymbols{Tickers: []string{ticker}, Query: scanQuery{Types: []string{}}},
		Columns: columnsFor(tf),
	})
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("encode scan request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/scan", t.cfg.BaseURL, t.cfg.Screener)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("build scan request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := t.http.Do(req)
	logging.LogAPICall(t.logger, http.MethodPost, url, time.Since(start), err)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("scan %s: %w", ticker, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("read scan response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return models.Snapshot{}, fmt.Errorf("scan %s: status %d", ticker, resp.StatusCode)
	}

	return parseSnapshot(ticker, raw)
}

// columnsFor suffixes each indicator column with the timeframe in minutes.
// The daily timeframe carries no suffix.
func columnsFor(tf models.Timeframe) []string {
	suffix := ""
	if tf != models.Timeframe1Day {
		suffix = "|" + strconv.Itoa(tf.Minutes())
	}
	cols := make([]string, len(scannerColumns))
	for i, c := range scannerColumns {
		cols[i] = c + suffix
	}
	return cols
}

func parseSnapshot(ticker string, raw []byte) (models.Snapshot, error) {
	if !gjson.ValidBytes(raw) {
		return models.Snapshot{}, fmt.Errorf("scan %s: invalid JSON response", ticker)
	}
	row := gjson.GetBytes(raw, "data.0")
	if !row.Exists() {
		return models.Snapshot{}, trerrors.Wrapf(trerrors.ErrNoData, "scan %s", ticker)
	}
	values := row.Get("d").Array()
	if len(values) != len(scannerColumns) {
		return models.Snapshot{}, trerrors.Wrapf(trerrors.ErrNoData, "scan %s: got %d columns", ticker, len(values))
	}
	for i, v := range values {
		if v.Type != gjson.Number {
			return models.Snapshot{}, trerrors.Wrapf(trerrors.ErrNoData, "scan %s: %s missing", ticker, scannerColumns[i])
		}
	}

	return models.Snapshot{
		Close:  values[0].Float(),
		EMA5:   values[1].Float(),
		EMA10:  values[2].Float(),
		EMA20:  values[3].Float(),
		EMA50:  values[4].Float(),
		EMA200: values[5].Float(),
		RSI:    values[6].Float(),
	}, nil
}
