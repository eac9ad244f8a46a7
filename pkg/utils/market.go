package utils

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeSymbol upper-cases a symbol and strips whitespace and any
// "EXCHANGE:" prefix.
func NormalizeSymbol(symbol string) string {
	symbol = strings.TrimSpace(symbol)
	if i := strings.LastIndex(symbol, ":"); i >= 0 {
		symbol = symbol[i+1:]
	}
	return strings.ToUpper(symbol)
}

// Ticker returns the fully qualified "EXCHANGE:SYMBOL" form.
func Ticker(exchange, symbol string) string {
	return strings.ToUpper(exchange) + ":" + NormalizeSymbol(symbol)
}

// ChartURL returns a TradingView chart link for the symbol at the given interval
// in minutes.
func ChartURL(exchange, symbol string, intervalMinutes int) string {
	return fmt.Sprintf("https://www.tradingview.com/chart/?symbol=%s&interval=%d",
		url.QueryEscape(Ticker(exchange, symbol)), intervalMinutes)
}

// DedupeSymbols normalizes symbols and removes duplicates, keeping first-seen order.
func DedupeSymbols(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = NormalizeSymbol(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
