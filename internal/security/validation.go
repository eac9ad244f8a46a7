package security

import (
	"fmt"
	"regexp"
)

var (
	// Normalized pair symbols: upper-case letters and digits, e.g. BTCUSDT, 1000PEPEUSDT.
	symbolPattern = regexp.MustCompile(`^[A-Z0-9]{2,30}$`)

	// Watch-list names: alphanumeric with underscores and dashes.
	listNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,50}$`)
)

// ValidationError represents a rejected input.
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Message)
}

// ValidateSymbol checks a normalized pair symbol.
func ValidateSymbol(symbol string) error {
	if !symbolPattern.MatchString(symbol) {
		return &ValidationError{Field: "symbol", Value: symbol, Message: "must be 2-30 letters or digits"}
	}
	return nil
}

// ValidateListName checks a watch-list name.
func ValidateListName(name string) error {
	if !listNamePattern.MatchString(name) {
		return &ValidationError{Field: "watch-list name", Value: name, Message: "must be 1-50 letters, digits, '_' or '-'"}
	}
	return nil
}
