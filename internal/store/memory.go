package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	trerrors "signal-tracker/internal/errors"
	"signal-tracker/internal/models"
)

// MemoryStore is an in-process PositionStore guarded by a single mutex.
type MemoryStore struct {
	mu         sync.RWMutex
	tracked    map[string]models.Position
	order      map[string]int
	seq        int
	history    []models.Position
	watchlists map[string][]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tracked:    make(map[string]models.Position),
		order:      make(map[string]int),
		watchlists: make(map[string][]string),
	}
}

// Create inserts a new Active position.
func (s *MemoryStore) Create(ctx context.Context, p *models.Position) error {
	if err := checkCreate(p); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.tracked[p.Symbol]; ok {
		return trerrors.NewConflictError(p.Symbol, "untracked", string(cur.State))
	}
	rec := *p
	rec.State = models.StateActive
	rec.Outcome = models.OutcomeUnset
	s.tracked[p.Symbol] = rec
	s.seq++
	s.order[p.Symbol] = s.seq
	p.State = models.StateActive
	return nil
}

// Get returns the tracked position for symbol.
func (s *MemoryStore) Get(ctx context.Context, symbol string) (*models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.tracked[symbol]
	if !ok {
		return nil, trerrors.ErrPositionNotFound
	}
	return &p, nil
}

// Transition atomically moves symbol between states.
func (s *MemoryStore) Transition(ctx context.Context, symbol string, from, to models.State, mutate Mutation) (*models.Position, error) {
	if err := checkTransition(symbol, from, to); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.tracked[symbol]
	if !ok {
		return nil, trerrors.NewConflictError(symbol, string(from), "")
	}
	if cur.State != from {
		return nil, trerrors.NewConflictError(symbol, string(from), string(cur.State))
	}

	next := applyMutation(cur, to, mutate)
	if to == models.StateClosed {
		if next.ID == "" {
			next.ID = uuid.NewString()
		}
		if next.ClosedAt.IsZero() {
			next.ClosedAt = time.Now()
		}
		s.history = append(s.history, next)
		delete(s.tracked, symbol)
		delete(s.order, symbol)
	} else {
		s.tracked[symbol] = next
	}
	return &next, nil
}

// List returns the positions in a partition.
func (s *MemoryStore) List(ctx context.Context, state models.State) ([]models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if state == models.StateClosed {
		out := make([]models.Position, len(s.history))
		copy(out, s.history)
		return out, nil
	}

	var out []models.Position
	for _, p := range s.tracked {
		if p.State == state {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return s.order[out[i].Symbol] < s.order[out[j].Symbol]
	})
	return out, nil
}

// Remove drops a tracked position.
func (s *MemoryStore) Remove(ctx context.Context, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tracked[symbol]; !ok {
		return trerrors.ErrPositionNotFound
	}
	delete(s.tracked, symbol)
	delete(s.order, symbol)
	return nil
}

// AddToWatchlist appends symbol to a named list.
func (s *MemoryStore) AddToWatchlist(ctx context.Context, symbol, listName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, x := range s.watchlists[listName] {
		if x == symbol {
			return nil
		}
	}
	s.watchlists[listName] = append(s.watchlists[listName], symbol)
	return nil
}

// RemoveFromWatchlist removes symbol from a named list.
func (s *MemoryStore) RemoveFromWatchlist(ctx context.Context, symbol, listName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.watchlists[listName]
	for i, x := range list {
		if x == symbol {
			s.watchlists[listName] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return nil
}

// GetWatchlist returns a named list.
func (s *MemoryStore) GetWatchlist(ctx context.Context, listName string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, len(s.watchlists[listName]))
	copy(out, s.watchlists[listName])
	return out, nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

var (
	_ PositionStore  = (*MemoryStore)(nil)
	_ WatchlistStore = (*MemoryStore)(nil)
)
