package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Signal Tracker Configuration

[scanner]
# Exchange prefix used for TradingView tickers and chart links
exchange = "BYBIT"
# TradingView screener
screener = "crypto"
base_url = "https://scanner.tradingview.com"
timeout = "15s"
# Timeframe used for entry triggers and for position monitoring
entry_timeframe = "1m"
monitor_timeframe = "5m"
# Polling intervals for the two cycles
entry_interval = "60s"
monitor_interval = "300s"
# Symbols fetched in parallel per cycle
concurrency = 4
# Optional JSON file of the form {"coin_pairs": ["BTCUSDT", ...]}
# watchlist_file = "coin_pairs.json"
watchlist_name = "default"
# Scanner circuit breaker
breaker_failures = 10
breaker_timeout = "30s"

[strategy]
rsi_overbought = 65.0
rsi_oversold = 35.0
# Maximum distance from EMA200 as a fraction (0.017 = 1.7%)
max_ema200_distance = 0.017
confirmation_timeframes = ["15m", "30m", "1h", "4h"]
# Stop distance as a fraction of entry
stop_percent = 0.02
# Take-profit reward-to-risk multiples for TP1, TP2, TP3
tp_multiples = [1.68, 2.68, 3.68]
# Time a position stays suspended after TP1 before its outcome is recorded
cooldown = "2h"

[retry]
attempts = 3
delay = "5s"

[store]
# Position store: memory, sqlite or redis
driver = "sqlite"
# path = "~/.config/signal-tracker/tracker.db"

[store.redis]
addr = "localhost:6379"
password = ""
db = 0
prefix = "signal:"

[notifications]
# Mirror every alert to the terminal
terminal = false

[notifications.telegram]
enabled = true
# Prefer TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID in the environment or .env
# bot_token = ""
# chat_id = ""
timeout = "10s"
# Print alerts instead of sending them
dry_run = false

[logging]
# debug, info, warn, error
level = "info"
file = true
# file_path = "~/.config/signal-tracker/logs/tracker.log"

[metrics]
enabled = true
addr = ":9102"
`

// Template returns the commented default config.toml.
func Template() string {
	return configTemplate
}

func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	// May hold credentials once edited.
	if err := os.WriteFile(path, []byte(configTemplate), 0600); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}
	return nil
}
