// Package store provides position persistence interfaces and implementations.
package store

import (
	"context"

	trerrors "signal-tracker/internal/errors"
	"signal-tracker/internal/models"
)

// Mutation is applied to a position inside an atomic transition. It may set
// lifecycle fields (timestamps, outcome, exit price); immutable levels are
// restored by the store after it runs.
type Mutation func(p *models.Position)

// PositionStore is the durable mapping from symbol to position across the
// Active, Suspended and Closed partitions. It is the only component allowed to
// change a position's State or Outcome.
//
// All mutating operations are atomic with respect to concurrent callers.
type PositionStore interface {
	// Create inserts a new Active position. It fails with a ConflictError if
	// the symbol is already Active or Suspended.
	Create(ctx context.Context, p *models.Position) error

	// Get returns the tracked (Active or Suspended) position for symbol, or
	// ErrPositionNotFound.
	Get(ctx context.Context, symbol string) (*models.Position, error)

	// Transition moves symbol from one state to another, applying mutate to the
	// record. It fails with a ConflictError if the symbol is not currently in
	// from, and with ErrInvalidTransition for transitions the lifecycle forbids.
	// Transitions into Closed append the record to history.
	Transition(ctx context.Context, symbol string, from, to models.State, mutate Mutation) (*models.Position, error)

	// List returns the positions in one partition. Closed returns history in
	// append order.
	List(ctx context.Context, state models.State) ([]models.Position, error)

	// Remove drops a tracked position without recording history. History is
	// never removed.
	Remove(ctx context.Context, symbol string) error

	Close() error
}

// Pinger is implemented by stores that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// WatchlistStore persists named symbol lists.
type WatchlistStore interface {
	AddToWatchlist(ctx context.Context, symbol, listName string) error
	RemoveFromWatchlist(ctx context.Context, symbol, listName string) error
	GetWatchlist(ctx context.Context, listName string) ([]string, error)
}

// ValidTransition reports whether the lifecycle allows moving from one state to another.
func ValidTransition(from, to models.State) bool {
	switch from {
	case models.StateActive:
		return to == models.StateSuspended || to == models.StateClosed
	case models.StateSuspended:
		return to == models.StateClosed
	}
	return false
}

// applyMutation runs mutate on a copy of p and returns the result with the
// immutable fields and the target state enforced.
func applyMutation(p models.Position, to models.State, mutate Mutation) models.Position {
	next := p
	if mutate != nil {
		mutate(&next)
	}
	next.Symbol = p.Symbol
	next.Direction = p.Direction
	next.EntryPrice = p.EntryPrice
	next.StopLoss = p.StopLoss
	next.TakeProfits = p.TakeProfits
	next.MessageRef = p.MessageRef
	next.OpenedAt = p.OpenedAt
	next.State = to
	if to != models.StateClosed {
		next.Outcome = models.OutcomeUnset
	}
	return next
}

func checkTransition(symbol string, from, to models.State) error {
	if !ValidTransition(from, to) {
		return trerrors.Wrapf(trerrors.ErrInvalidTransition, "%s: %s -> %s", symbol, from, to)
	}
	return nil
}

func checkCreate(p *models.Position) error {
	if p == nil || p.Symbol == "" {
		return trerrors.NewValidationError("symbol", "", "position symbol is required")
	}
	if p.Direction != models.Long && p.Direction != models.Short {
		return trerrors.NewValidationError("direction", p.Direction, "must be long or short")
	}
	return nil
}
