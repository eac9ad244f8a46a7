package trading

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"signal-tracker/internal/clock"
	trerrors "signal-tracker/internal/errors"
	"signal-tracker/internal/models"
	"signal-tracker/internal/notify"
	"signal-tracker/internal/store"
)

type monitorFixture struct {
	store    *store.MemoryStore
	gateway  *fakeGateway
	notifier *recordingNotifier
	clock    *clock.Fake
	timers   *SuspensionTimer
	monitor  *PositionMonitor
}

func newMonitorFixture(t *testing.T) *monitorFixture {
	f := &monitorFixture{
		store:    store.NewMemoryStore(),
		gateway:  newFakeGateway(),
		notifier: &recordingNotifier{},
		clock:    clock.NewFake(testStart),
	}
	f.timers = NewSuspensionTimer(SuspensionConfig{
		Store:   f.store,
		Gateway: f.gateway,
		Clock:   f.clock,
		Logger:  zerolog.Nop(),
	})
	f.monitor = NewPositionMonitor(MonitorConfig{
		Store:       f.store,
		Gateway:     f.gateway,
		Notifier:    f.notifier,
		Timers:      f.timers,
		Clock:       f.clock,
		Concurrency: 4,
		Logger:      zerolog.Nop(),
	})
	t.Cleanup(f.timers.Stop)
	return f
}

func (f *monitorFixture) open(t *testing.T, p *models.Position) {
	t.Helper()
	if err := f.store.Create(context.Background(), p); err != nil {
		t.Fatalf("Create %s: %v", p.Symbol, err)
	}
}

func TestCheck(t *testing.T) {
	long := longPosition("BTCUSDT")
	short := shortPosition("ETHUSDT")

	tests := []struct {
		name  string
		p     *models.Position
		price float64
		want  Action
	}{
		{"long hold", long, 100, HoldLong},
		{"long at tp1", long, 103.36, TakeProfitHit},
		{"long above tp1", long, 103.4, TakeProfitHit},
		{"long at stop", long, 98, StopLossHit},
		{"long below stop", long, 97, StopLossHit},
		{"short hold", short, 100, HoldShort},
		{"short at tp1", short, 96.64, TakeProfitHit},
		{"short above stop", short, 103, StopLossHit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Check(tt.p, tt.price); got != tt.want {
				t.Errorf("Check(%v) = %v, want %v", tt.price, got, tt.want)
			}
		})
	}
}

func TestCheckTakeProfitPrecedence(t *testing.T) {
	// Degenerate levels where both conditions hold.
	p := longPosition("BTCUSDT")
	p.TakeProfits[0] = 95
	if got := Check(p, 96); got != TakeProfitHit {
		t.Errorf("Check = %v, want TakeProfitHit", got)
	}
}

func TestMonitorTakeProfitSuspends(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()
	f.open(t, longPosition("BTCUSDT"))
	f.gateway.setPrice("BTCUSDT", models.Timeframe5Min, 103.4)

	action, err := f.monitor.CheckSymbol(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("CheckSymbol: %v", err)
	}
	if action != TakeProfitHit {
		t.Fatalf("action = %v, want TakeProfitHit", action)
	}

	p, err := f.store.Get(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p.State != models.StateSuspended {
		t.Errorf("state = %s, want SUSPENDED", p.State)
	}
	if !p.SuspendedAt.Equal(testStart) {
		t.Errorf("SuspendedAt = %v", p.SuspendedAt)
	}
	if p.EntryPrice != 100 || p.TP1() != 103.36 {
		t.Errorf("levels changed: %+v", p)
	}

	due, ok := f.timers.Pending()["BTCUSDT"]
	if !ok {
		t.Fatal("no suspension timer armed")
	}
	if want := testStart.Add(DefaultCooldown); !due.Equal(want) {
		t.Errorf("due = %v, want %v", due, want)
	}

	sent := f.notifier.messages(notify.KindTakeProfit)
	if len(sent) != 1 {
		t.Fatalf("TP alerts = %d, want 1", len(sent))
	}
	if sent[0].ReplyTo != "900" {
		t.Errorf("ReplyTo = %q, want 900", sent[0].ReplyTo)
	}
	if !strings.Contains(sent[0].Text, "TP1 Hit") {
		t.Errorf("unexpected text %q", sent[0].Text)
	}
}

func TestMonitorStopLossCloses(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()
	f.open(t, longPosition("BTCUSDT"))
	f.gateway.setPrice("BTCUSDT", models.Timeframe5Min, 97)

	action, err := f.monitor.CheckSymbol(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("CheckSymbol: %v", err)
	}
	if action != StopLossHit {
		t.Fatalf("action = %v, want StopLossHit", action)
	}
	if _, err := f.store.Get(ctx, "BTCUSDT"); !errors.Is(err, trerrors.ErrPositionNotFound) {
		t.Errorf("expected untracked, got %v", err)
	}

	hist, _ := f.store.List(ctx, models.StateClosed)
	if len(hist) != 1 {
		t.Fatalf("history = %d, want 1", len(hist))
	}
	if hist[0].Outcome != models.OutcomeLose || hist[0].ExitPrice != 97 {
		t.Errorf("history record = %+v", hist[0])
	}
	if len(f.timers.Pending()) != 0 {
		t.Error("timer armed for stopped-out position")
	}
	if n := len(f.notifier.messages(notify.KindStopLoss)); n != 1 {
		t.Errorf("SL alerts = %d, want 1", n)
	}
}

func TestMonitorHoldLeavesPosition(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()
	f.open(t, shortPosition("ETHUSDT"))
	f.gateway.setPrice("ETHUSDT", models.Timeframe5Min, 99)

	action, err := f.monitor.CheckSymbol(ctx, "ETHUSDT")
	if err != nil || action != HoldShort {
		t.Fatalf("CheckSymbol = %v, %v; want HoldShort", action, err)
	}
	p, _ := f.store.Get(ctx, "ETHUSDT")
	if p.State != models.StateActive {
		t.Errorf("state = %s", p.State)
	}
	if len(f.notifier.sent) != 0 {
		t.Error("alert sent on hold")
	}
}

func TestMonitorAlertFailureKeepsTransition(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()
	f.open(t, longPosition("BTCUSDT"))
	f.gateway.setPrice("BTCUSDT", models.Timeframe5Min, 97)
	f.notifier.fail = errors.New("telegram down")

	if _, err := f.monitor.CheckSymbol(ctx, "BTCUSDT"); err != nil {
		t.Fatalf("CheckSymbol: %v", err)
	}
	hist, _ := f.store.List(ctx, models.StateClosed)
	if len(hist) != 1 {
		t.Errorf("history = %d, want 1", len(hist))
	}
}

func TestMonitorFetchFailureLeavesPosition(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()
	f.open(t, longPosition("BTCUSDT"))
	f.gateway.failNext("BTCUSDT", models.Timeframe5Min, trerrors.NewFetchError("BTCUSDT", "5m", 3, errUnavailable))

	_, err := f.monitor.CheckSymbol(ctx, "BTCUSDT")
	if !trerrors.IsFetch(err) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	p, _ := f.store.Get(ctx, "BTCUSDT")
	if p.State != models.StateActive {
		t.Errorf("state = %s, want ACTIVE", p.State)
	}
}

func TestMonitorPassIsolatesFailures(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()
	f.open(t, longPosition("BTCUSDT"))
	f.open(t, shortPosition("ETHUSDT"))
	f.gateway.failNext("BTCUSDT", models.Timeframe5Min, errUnavailable)
	f.gateway.setPrice("ETHUSDT", models.Timeframe5Min, 96)

	if err := f.monitor.Pass(ctx); err != nil {
		t.Fatalf("Pass: %v", err)
	}

	btc, _ := f.store.Get(ctx, "BTCUSDT")
	if btc == nil || btc.State != models.StateActive {
		t.Errorf("BTCUSDT = %+v, want ACTIVE", btc)
	}
	eth, _ := f.store.Get(ctx, "ETHUSDT")
	if eth == nil || eth.State != models.StateSuspended {
		t.Errorf("ETHUSDT = %+v, want SUSPENDED", eth)
	}
}

func TestMonitorConcurrentChecksAlertOnce(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()
	f.open(t, longPosition("BTCUSDT"))
	f.gateway.setPrice("BTCUSDT", models.Timeframe5Min, 104)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Losers either see the symbol already Suspended or lose the CAS.
			if _, err := f.monitor.CheckSymbol(ctx, "BTCUSDT"); err != nil && !trerrors.IsConflict(err) {
				t.Errorf("CheckSymbol: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := len(f.notifier.messages(notify.KindTakeProfit)); n != 1 {
		t.Errorf("TP alerts = %d, want 1", n)
	}
	p, _ := f.store.Get(ctx, "BTCUSDT")
	if p.State != models.StateSuspended {
		t.Errorf("state = %s", p.State)
	}
	if len(f.timers.Pending()) != 1 {
		t.Errorf("pending timers = %d, want 1", len(f.timers.Pending()))
	}
}

func TestMonitorIgnoresSuspended(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()
	f.open(t, longPosition("BTCUSDT"))
	if _, err := f.store.Transition(ctx, "BTCUSDT", models.StateActive, models.StateSuspended, func(p *models.Position) {
		p.SuspendedAt = testStart
	}); err != nil {
		t.Fatal(err)
	}
	f.gateway.setPrice("BTCUSDT", models.Timeframe5Min, 90)

	if _, err := f.monitor.CheckSymbol(ctx, "BTCUSDT"); err != nil {
		t.Fatalf("CheckSymbol: %v", err)
	}
	if f.gateway.called("BTCUSDT", models.Timeframe5Min) != 0 {
		t.Error("suspended position was priced by the monitor")
	}
	symbols, _ := f.monitor.Symbols(ctx)
	if len(symbols) != 0 {
		t.Errorf("Symbols = %v, want none", symbols)
	}
}
