package trading

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"signal-tracker/internal/models"
	"signal-tracker/internal/notify"
	"signal-tracker/internal/store"
)

var testStart = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeGateway serves fixed snapshots keyed by symbol and timeframe.
type fakeGateway struct {
	mu    sync.Mutex
	snaps map[string]models.Snapshot
	errs  map[string][]error
	calls []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		snaps: make(map[string]models.Snapshot),
		errs:  make(map[string][]error),
	}
}

func gwKey(symbol string, tf models.Timeframe) string { return symbol + "@" + string(tf) }

func (g *fakeGateway) set(symbol string, tf models.Timeframe, s models.Snapshot) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.snaps[gwKey(symbol, tf)] = s
}

func (g *fakeGateway) setPrice(symbol string, tf models.Timeframe, price float64) {
	g.set(symbol, tf, models.Snapshot{Close: price})
}

// failNext queues errors returned before the snapshot is served.
func (g *fakeGateway) failNext(symbol string, tf models.Timeframe, errs ...error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	k := gwKey(symbol, tf)
	g.errs[k] = append(g.errs[k], errs...)
}

func (g *fakeGateway) Fetch(ctx context.Context, symbol string, tf models.Timeframe) (models.Snapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	k := gwKey(symbol, tf)
	g.calls = append(g.calls, k)
	if q := g.errs[k]; len(q) > 0 {
		g.errs[k] = q[1:]
		return models.Snapshot{}, q[0]
	}
	s, ok := g.snaps[k]
	if !ok {
		return models.Snapshot{}, fmt.Errorf("no snapshot for %s", k)
	}
	return s, nil
}

func (g *fakeGateway) called(symbol string, tf models.Timeframe) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		if c == gwKey(symbol, tf) {
			n++
		}
	}
	return n
}

// recordingNotifier hands out sequential refs and records every message.
type recordingNotifier struct {
	mu   sync.Mutex
	next int
	sent []notify.Message
	fail error
}

func (n *recordingNotifier) Send(ctx context.Context, msg notify.Message) (models.MessageRef, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		return "", n.fail
	}
	n.next++
	n.sent = append(n.sent, msg)
	return models.MessageRef(strconv.Itoa(1000 + n.next)), nil
}

func (n *recordingNotifier) messages(kind notify.Kind) []notify.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notify.Message
	for _, m := range n.sent {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

// brokenStore fails Create or Get with the configured errors and otherwise
// delegates to the embedded memory store.
type brokenStore struct {
	*store.MemoryStore
	createErr error
	getErr    error
}

func (s *brokenStore) Create(ctx context.Context, p *models.Position) error {
	if s.createErr != nil {
		return s.createErr
	}
	return s.MemoryStore.Create(ctx, p)
}

func (s *brokenStore) Get(ctx context.Context, symbol string) (*models.Position, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.MemoryStore.Get(ctx, symbol)
}

var errUnavailable = errors.New("scanner unavailable")

// qualifyingLong is a 1m snapshot that fires the long trigger.
func qualifyingLong() models.Snapshot {
	return models.Snapshot{Close: 100, EMA5: 99.8, EMA20: 99, EMA200: 99, RSI: 70}
}

// qualifyingShort is a 1m snapshot that fires the short trigger.
func qualifyingShort() models.Snapshot {
	return models.Snapshot{Close: 100, EMA5: 100.2, EMA20: 101, EMA200: 101, RSI: 30}
}

func confirmAll(g *fakeGateway, symbol string, dir models.Direction) {
	s := models.Snapshot{Close: 100, EMA5: 99.5, EMA200: 98}
	if dir == models.Short {
		s = models.Snapshot{Close: 100, EMA5: 100.5, EMA200: 102}
	}
	for _, tf := range models.ConfirmationTimeframes() {
		g.set(symbol, tf, s)
	}
}

func longPosition(symbol string) *models.Position {
	return &models.Position{
		Symbol:      symbol,
		Direction:   models.Long,
		EntryPrice:  100,
		StopLoss:    98,
		TakeProfits: [3]float64{103.36, 105.36, 107.36},
		MessageRef:  "900",
		OpenedAt:    testStart,
	}
}

func shortPosition(symbol string) *models.Position {
	return &models.Position{
		Symbol:      symbol,
		Direction:   models.Short,
		EntryPrice:  100,
		StopLoss:    102,
		TakeProfits: [3]float64{96.64, 94.64, 92.64},
		MessageRef:  "901",
		OpenedAt:    testStart,
	}
}
