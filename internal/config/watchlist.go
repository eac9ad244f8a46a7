package config

import (
	"fmt"

	"github.com/spf13/viper"

	"signal-tracker/pkg/utils"
)

// LoadWatchlistFile reads the symbols listed under "coin_pairs" in a JSON,
// TOML or YAML file. Symbols are normalized and de-duplicated.
func LoadWatchlistFile(path string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading watchlist %s: %w", path, err)
	}
	if !v.IsSet("coin_pairs") {
		return nil, fmt.Errorf("watchlist %s: missing coin_pairs", path)
	}
	return utils.DedupeSymbols(v.GetStringSlice("coin_pairs")), nil
}
