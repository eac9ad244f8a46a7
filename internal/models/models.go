// Package models provides domain models for the signal tracker.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Direction represents the side of a tracked position.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// Title returns the capitalised direction, as used in alerts.
func (d Direction) Title() string {
	switch d {
	case Long:
		return "Long"
	case Short:
		return "Short"
	default:
		return string(d)
	}
}

// State represents the lifecycle partition a position lives in.
type State string

const (
	StateActive    State = "ACTIVE"
	StateSuspended State = "SUSPENDED"
	StateClosed    State = "CLOSED"
)

// ParseState parses a state name case-insensitively.
func ParseState(s string) (State, error) {
	switch State(strings.ToUpper(s)) {
	case StateActive:
		return StateActive, nil
	case StateSuspended:
		return StateSuspended, nil
	case StateClosed:
		return StateClosed, nil
	}
	return "", fmt.Errorf("unknown state %q", s)
}

// Outcome is the result recorded when a position is closed.
type Outcome string

const (
	OutcomeUnset Outcome = ""
	OutcomeWin   Outcome = "Win"
	OutcomeLose  Outcome = "Lose"
	// OutcomeUnknown is only recorded when price at finalization neither
	// confirms TP1 nor breaches the stop; it is always logged as a consistency warning.
	OutcomeUnknown Outcome = "Unknown"
)

// Timeframe is an indicator resolution.
type Timeframe string

const (
	Timeframe1Min  Timeframe = "1m"
	Timeframe5Min  Timeframe = "5m"
	Timeframe15Min Timeframe = "15m"
	Timeframe30Min Timeframe = "30m"
	Timeframe1Hour Timeframe = "1h"
	Timeframe4Hour Timeframe = "4h"
	Timeframe1Day  Timeframe = "1d"
)

var timeframeMinutes = map[Timeframe]int{
	Timeframe1Min:  1,
	Timeframe5Min:  5,
	Timeframe15Min: 15,
	Timeframe30Min: 30,
	Timeframe1Hour: 60,
	Timeframe4Hour: 240,
	Timeframe1Day:  1440,
}

// Minutes returns the length of the timeframe in minutes, or 0 if unknown.
func (tf Timeframe) Minutes() int {
	return timeframeMinutes[tf]
}

// Valid reports whether tf is a supported timeframe.
func (tf Timeframe) Valid() bool {
	_, ok := timeframeMinutes[tf]
	return ok
}

// ConfirmationTimeframes returns the default multi-timeframe confirmation set.
func ConfirmationTimeframes() []Timeframe {
	return []Timeframe{Timeframe15Min, Timeframe30Min, Timeframe1Hour, Timeframe4Hour}
}

// Snapshot is a point-in-time set of indicator values for one symbol and timeframe.
type Snapshot struct {
	Close  float64 `json:"close"`
	EMA5   float64 `json:"ema5"`
	EMA10  float64 `json:"ema10"`
	EMA20  float64 `json:"ema20"`
	EMA50  float64 `json:"ema50"`
	EMA200 float64 `json:"ema200"`
	RSI    float64 `json:"rsi"`
}

// MessageRef is an opaque handle to a delivered notification.
type MessageRef string

// Position is a hypothetical trade tracked from entry to closure.
type Position struct {
	ID          string     `json:"id,omitempty"`
	Symbol      string     `json:"symbol"`
	Direction   Direction  `json:"direction"`
	EntryPrice  float64    `json:"entry"`
	StopLoss    float64    `json:"stoploss"`
	TakeProfits [3]float64 `json:"tps"`
	MessageRef  MessageRef `json:"message_id"`
	State       State      `json:"state"`
	Outcome     Outcome    `json:"result,omitempty"`
	ExitPrice   float64    `json:"exit_price,omitempty"`
	OpenedAt    time.Time  `json:"opened_at"`
	SuspendedAt time.Time  `json:"suspended_at,omitempty"`
	ClosedAt    time.Time  `json:"closed_at,omitempty"`
}

// TP1 returns the first take-profit threshold, the only one that drives transitions.
func (p *Position) TP1() float64 {
	return p.TakeProfits[0]
}

// Tracked reports whether the position is still in the Active or Suspended partition.
func (p *Position) Tracked() bool {
	return p.State == StateActive || p.State == StateSuspended
}

// ValidLevels reports whether the stop and take-profits respect the price geometry
// for the position's direction.
func (p *Position) ValidLevels() bool {
	tp := p.TakeProfits
	switch p.Direction {
	case Long:
		return p.StopLoss < p.EntryPrice && p.EntryPrice < tp[0] && tp[0] < tp[1] && tp[1] < tp[2]
	case Short:
		return p.StopLoss > p.EntryPrice && p.EntryPrice > tp[0] && tp[0] > tp[1] && tp[1] > tp[2]
	}
	return false
}

// GainPercent returns the percentage move from entry in the position's favour.
func (p *Position) GainPercent(price float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	if p.Direction == Short {
		return (p.EntryPrice - price) / p.EntryPrice * 100
	}
	return (price - p.EntryPrice) / p.EntryPrice * 100
}
