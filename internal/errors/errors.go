// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrPositionNotFound  = errors.New("position not found")
	ErrAlreadyTracked    = errors.New("symbol already tracked")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrNoData            = errors.New("no indicator data")
	ErrConfigInvalid     = errors.New("invalid configuration")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrNotifierDisabled  = errors.New("notifier disabled")
)

// FetchError is returned once an indicator fetch has exhausted its retry budget.
type FetchError struct {
	Symbol    string
	Timeframe string
	Attempts  int
	Err       error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch error [%s %s] after %d attempt(s): %v", e.Symbol, e.Timeframe, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError creates a new FetchError.
func NewFetchError(symbol, timeframe string, attempts int, err error) *FetchError {
	return &FetchError{
		Symbol:    symbol,
		Timeframe: timeframe,
		Attempts:  attempts,
		Err:       err,
	}
}

// DeliveryError represents a notification that could not be delivered.
type DeliveryError struct {
	Channel string
	Symbol  string
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery error [%s] %s: %v", e.Channel, e.Symbol, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// NewDeliveryError creates a new DeliveryError.
func NewDeliveryError(channel, symbol string, err error) *DeliveryError {
	return &DeliveryError{
		Channel: channel,
		Symbol:  symbol,
		Err:     err,
	}
}

// ConflictError is returned when a store operation loses a race: the symbol was not
// in the expected state when the write was attempted.
type ConflictError struct {
	Symbol   string
	Expected string
	Actual   string
}

func (e *ConflictError) Error() string {
	if e.Actual == "" {
		return fmt.Sprintf("conflict [%s]: expected %s, symbol not tracked", e.Symbol, e.Expected)
	}
	return fmt.Sprintf("conflict [%s]: expected %s, found %s", e.Symbol, e.Expected, e.Actual)
}

// NewConflictError creates a new ConflictError.
func NewConflictError(symbol, expected, actual string) *ConflictError {
	return &ConflictError{
		Symbol:   symbol,
		Expected: expected,
		Actual:   actual,
	}
}

// ConsistencyError flags data that violates the price-geometry invariants.
type ConsistencyError struct {
	Symbol  string
	Check   string
	Message string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("consistency error [%s] %s: %s", e.Symbol, e.Check, e.Message)
}

// NewConsistencyError creates a new ConsistencyError.
func NewConsistencyError(symbol, check, message string) *ConsistencyError {
	return &ConsistencyError{
		Symbol:  symbol,
		Check:   check,
		Message: message,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// IsFetch reports whether err is, or wraps, a FetchError.
func IsFetch(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}

// IsDelivery reports whether err is, or wraps, a DeliveryError.
func IsDelivery(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de)
}

// IsConflict reports whether err is, or wraps, a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsConsistency reports whether err is, or wraps, a ConsistencyError.
func IsConsistency(err error) bool {
	var ce *ConsistencyError
	return errors.As(err, &ce)
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
