package trading

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"

	"signal-tracker/internal/clock"
	trerrors "signal-tracker/internal/errors"
	"signal-tracker/internal/gateway"
	"signal-tracker/internal/models"
	"signal-tracker/internal/notify"
	"signal-tracker/internal/store"
	"signal-tracker/pkg/utils"
)

type entryFixture struct {
	store    *store.MemoryStore
	gateway  *fakeGateway
	notifier *recordingNotifier
	clock    *clock.Fake
	eval     *EntryEvaluator
}

func newEntryFixture() *entryFixture {
	f := &entryFixture{
		store:    store.NewMemoryStore(),
		gateway:  newFakeGateway(),
		notifier: &recordingNotifier{},
		clock:    clock.NewFake(testStart),
	}
	f.eval = NewEntryEvaluator(EntryConfig{
		Store:    f.store,
		Gateway:  f.gateway,
		Notifier: f.notifier,
		Clock:    f.clock,
		Rules:    DefaultEntryRules(),
		Exchange: "BYBIT",
		Logger:   zerolog.Nop(),
	})
	return f
}

func TestComputeLevels(t *testing.T) {
	tests := []struct {
		name  string
		dir   models.Direction
		close float64
		want  Levels
	}{
		{"long", models.Long, 100, Levels{Entry: 100, StopLoss: 98, TakeProfits: [3]float64{103.36, 105.36, 107.36}}},
		{"short", models.Short, 100, Levels{Entry: 100, StopLoss: 102, TakeProfits: [3]float64{96.64, 94.64, 92.64}}},
		{"long large", models.Long, 50000, Levels{Entry: 50000, StopLoss: 49000, TakeProfits: [3]float64{51680, 52680, 53680}}},
		// Risk comes from the raw close; a rounded entry of 1235 would give 1277/1302/1327.
		{"long non-round", models.Long, 1234.5678, Levels{Entry: 1234.5678, StopLoss: 1210, TakeProfits: [3]float64{1276, 1300, 1325}}},
		{"short non-round", models.Short, 1234.5678, Levels{Entry: 1234.5678, StopLoss: 1259, TakeProfits: [3]float64{1194, 1169, 1145}}},
		{"long small", models.Long, 2.34567, Levels{Entry: 2.34567, StopLoss: 2.299, TakeProfits: [3]float64{2.424, 2.471, 2.517}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ComputeLevels("BTCUSDT", tt.dir, tt.close, DefaultLevelRules())
			if err != nil {
				t.Fatalf("ComputeLevels: %v", err)
			}
			if got != tt.want {
				t.Errorf("ComputeLevels = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestComputeLevelsInvalidClose(t *testing.T) {
	for _, c := range []float64{0, -1} {
		_, err := ComputeLevels("BTCUSDT", models.Long, c, DefaultLevelRules())
		if !trerrors.IsConsistency(err) {
			t.Errorf("close %v: expected ConsistencyError, got %v", c, err)
		}
	}
}

func TestLevelRulesValidate(t *testing.T) {
	if err := DefaultLevelRules().Validate(); err != nil {
		t.Fatalf("default rules invalid: %v", err)
	}
	bad := DefaultLevelRules()
	bad.TPMultiples = [3]float64{2, 1, 3}
	if err := bad.Validate(); err == nil {
		t.Error("expected error for non-increasing multiples")
	}
	bad = DefaultLevelRules()
	bad.StopPercent = 0
	if err := bad.Validate(); err == nil {
		t.Error("expected error for zero stop")
	}
}

func TestProperty_LevelGeometry(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("levels are ordered for both directions", prop.ForAll(
		func(close float64, long bool) bool {
			dir := models.Short
			if long {
				dir = models.Long
			}
			lv, err := ComputeLevels("SYM", dir, close, DefaultLevelRules())
			if err != nil {
				return false
			}
			p := models.Position{Direction: dir, EntryPrice: lv.Entry, StopLoss: lv.StopLoss, TakeProfits: lv.TakeProfits}
			return p.ValidLevels() && lv.Entry == close
		},
		gen.Float64Range(0.01, 1000000),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestTriggers(t *testing.T) {
	r := DefaultEntryRules()
	tests := []struct {
		name        string
		snap        models.Snapshot
		long, short bool
	}{
		{"long", qualifyingLong(), true, false},
		{"short", qualifyingShort(), false, true},
		{"long rsi too low", models.Snapshot{Close: 100, EMA20: 99, EMA200: 99, RSI: 65}, false, false},
		{"long too far from ema200", models.Snapshot{Close: 100, EMA20: 99, EMA200: 98, RSI: 70}, false, false},
		{"short too far from ema200", models.Snapshot{Close: 100, EMA20: 101, EMA200: 102, RSI: 30}, false, false},
		{"below ema200 long allowed", models.Snapshot{Close: 100, EMA20: 99, EMA200: 105, RSI: 70}, true, false},
		{"empty", models.Snapshot{}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.LongTrigger(tt.snap); got != tt.long {
				t.Errorf("LongTrigger = %v, want %v", got, tt.long)
			}
			if got := r.ShortTrigger(tt.snap); got != tt.short {
				t.Errorf("ShortTrigger = %v, want %v", got, tt.short)
			}
		})
	}
}

func TestEvaluateOpensLong(t *testing.T) {
	f := newEntryFixture()
	confirmAll(f.gateway, "BTCUSDT", models.Long)

	sig, err := f.eval.Evaluate(context.Background(), "BTCUSDT", qualifyingLong())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if sig != OpenLong {
		t.Fatalf("signal = %v, want OpenLong", sig)
	}

	p, err := f.store.Get(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p.State != models.StateActive || p.Direction != models.Long {
		t.Errorf("unexpected position %+v", p)
	}
	if p.StopLoss != 98 || p.TP1() != 103.36 {
		t.Errorf("levels = stop %v tp1 %v", p.StopLoss, p.TP1())
	}
	if p.MessageRef != "1001" {
		t.Errorf("MessageRef = %q, want 1001", p.MessageRef)
	}
	if !p.OpenedAt.Equal(testStart) {
		t.Errorf("OpenedAt = %v", p.OpenedAt)
	}

	sent := f.notifier.messages(notify.KindEntry)
	if len(sent) != 1 {
		t.Fatalf("sent %d entry alerts, want 1", len(sent))
	}
	if !strings.Contains(sent[0].Text, "Long") || !strings.Contains(sent[0].ChartURL, "BYBIT%3ABTCUSDT") {
		t.Errorf("unexpected alert %+v", sent[0])
	}
}

func TestEvaluateShortFailsConfirmation(t *testing.T) {
	f := newEntryFixture()
	confirmAll(f.gateway, "ETHUSDT", models.Short)
	// 30m disagrees; later timeframes must not be fetched.
	f.gateway.set("ETHUSDT", models.Timeframe30Min, models.Snapshot{Close: 100, EMA5: 99, EMA200: 102})

	sig, err := f.eval.Evaluate(context.Background(), "ETHUSDT", qualifyingShort())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if sig != NoAction {
		t.Fatalf("signal = %v, want NoAction", sig)
	}
	if _, err := f.store.Get(context.Background(), "ETHUSDT"); !errors.Is(err, trerrors.ErrPositionNotFound) {
		t.Errorf("expected no position, got %v", err)
	}
	if len(f.notifier.sent) != 0 {
		t.Errorf("expected no alerts, got %d", len(f.notifier.sent))
	}
	if n := f.gateway.called("ETHUSDT", models.Timeframe1Hour); n != 0 {
		t.Errorf("1h fetched %d times after failed confirmation", n)
	}
	if n := f.gateway.called("ETHUSDT", models.Timeframe4Hour); n != 0 {
		t.Errorf("4h fetched %d times after failed confirmation", n)
	}
}

func TestEvaluateNoTrigger(t *testing.T) {
	f := newEntryFixture()
	sig, err := f.eval.Evaluate(context.Background(), "BTCUSDT", models.Snapshot{Close: 100, EMA20: 100, EMA200: 100, RSI: 50})
	if err != nil || sig != NoAction {
		t.Fatalf("Evaluate = %v, %v; want NoAction", sig, err)
	}
	if len(f.gateway.calls) != 0 {
		t.Errorf("confirmation fetched without trigger: %v", f.gateway.calls)
	}
}

func TestEvaluateNeverReenters(t *testing.T) {
	f := newEntryFixture()
	confirmAll(f.gateway, "BTCUSDT", models.Long)
	ctx := context.Background()

	if sig, err := f.eval.Evaluate(ctx, "BTCUSDT", qualifyingLong()); err != nil || sig != OpenLong {
		t.Fatalf("first Evaluate = %v, %v", sig, err)
	}
	sig, err := f.eval.Evaluate(ctx, "BTCUSDT", qualifyingLong())
	if err != nil || sig != NoAction {
		t.Fatalf("second Evaluate = %v, %v; want NoAction", sig, err)
	}

	active, _ := f.store.List(ctx, models.StateActive)
	if len(active) != 1 {
		t.Errorf("active = %d, want 1", len(active))
	}
	if n := len(f.notifier.messages(notify.KindEntry)); n != 1 {
		t.Errorf("entry alerts = %d, want 1", n)
	}
}

func TestEvaluateSkipsSuspended(t *testing.T) {
	f := newEntryFixture()
	ctx := context.Background()
	confirmAll(f.gateway, "BTCUSDT", models.Long)

	if err := f.store.Create(ctx, longPosition("BTCUSDT")); err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.Transition(ctx, "BTCUSDT", models.StateActive, models.StateSuspended, nil); err != nil {
		t.Fatal(err)
	}

	sig, err := f.eval.Evaluate(ctx, "BTCUSDT", qualifyingLong())
	if err != nil || sig != NoAction {
		t.Fatalf("Evaluate = %v, %v; want NoAction", sig, err)
	}
	if len(f.notifier.sent) != 0 {
		t.Error("alert sent for suspended symbol")
	}
}

func TestEvaluateDeliveryFailureDoesNotPersist(t *testing.T) {
	f := newEntryFixture()
	confirmAll(f.gateway, "BTCUSDT", models.Long)
	f.notifier.fail = errors.New("telegram down")

	sig, err := f.eval.Evaluate(context.Background(), "BTCUSDT", qualifyingLong())
	if sig != NoAction {
		t.Errorf("signal = %v, want NoAction", sig)
	}
	if !trerrors.IsDelivery(err) {
		t.Fatalf("expected DeliveryError, got %v", err)
	}
	if _, err := f.store.Get(context.Background(), "BTCUSDT"); !errors.Is(err, trerrors.ErrPositionNotFound) {
		t.Errorf("position persisted after failed delivery: %v", err)
	}
}

func TestEvaluateStoreFailureAfterAlert(t *testing.T) {
	f := newEntryFixture()
	confirmAll(f.gateway, "BTCUSDT", models.Long)
	diskFull := errors.New("disk full")
	f.eval.store = &brokenStore{MemoryStore: f.store, createErr: diskFull}

	sig, err := f.eval.Evaluate(context.Background(), "BTCUSDT", qualifyingLong())
	if sig != NoAction {
		t.Errorf("signal = %v, want NoAction", sig)
	}
	if !errors.Is(err, diskFull) {
		t.Fatalf("expected store error, got %v", err)
	}
	if !strings.Contains(err.Error(), "1001") {
		t.Errorf("error does not name the sent alert: %v", err)
	}

	if len(f.notifier.messages(notify.KindEntry)) != 1 {
		t.Fatalf("entry alerts = %d, want 1", len(f.notifier.messages(notify.KindEntry)))
	}
	untracked := f.notifier.messages(notify.KindUntracked)
	if len(untracked) != 1 || untracked[0].ReplyTo != "1001" {
		t.Errorf("untracked notices = %+v, want one reply to 1001", untracked)
	}
	if _, err := f.store.Get(context.Background(), "BTCUSDT"); !errors.Is(err, trerrors.ErrPositionNotFound) {
		t.Errorf("position persisted despite store failure: %v", err)
	}
}

func TestEvaluateConfirmationFetchFailure(t *testing.T) {
	f := newEntryFixture()
	confirmAll(f.gateway, "BTCUSDT", models.Long)
	f.gateway.failNext("BTCUSDT", models.Timeframe1Hour, errUnavailable, errUnavailable, errUnavailable)

	f.eval.gateway = gateway.NewRetrying(f.gateway, utils.FixedRetryConfig(3, 0), zerolog.Nop())

	sig, err := f.eval.Evaluate(context.Background(), "BTCUSDT", qualifyingLong())
	if sig != NoAction {
		t.Errorf("signal = %v, want NoAction", sig)
	}
	var fe *trerrors.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if fe.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", fe.Attempts)
	}
	if n := f.gateway.called("BTCUSDT", models.Timeframe4Hour); n != 0 {
		t.Errorf("4h fetched after 1h failure")
	}
	if len(f.notifier.sent) != 0 {
		t.Error("alert sent despite fetch failure")
	}
}

func TestProperty_ConfirmedTriggerOpensOnce(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("a confirmed long trigger opens exactly one position", prop.ForAll(
		func(close, rsi, aboveEMA20, belowEMA200 float64) bool {
			f := newEntryFixture()
			confirmAll(f.gateway, "SYMUSDT", models.Long)
			snap := models.Snapshot{
				Close:  close,
				EMA20:  close * (1 - aboveEMA20),
				EMA200: close * (1 - belowEMA200),
				RSI:    rsi,
			}
			ctx := context.Background()
			first, err := f.eval.Evaluate(ctx, "SYMUSDT", snap)
			if err != nil || first != OpenLong {
				return false
			}
			second, err := f.eval.Evaluate(ctx, "SYMUSDT", snap)
			if err != nil || second != NoAction {
				return false
			}
			active, _ := f.store.List(ctx, models.StateActive)
			return len(active) == 1 && len(f.notifier.sent) == 1
		},
		gen.Float64Range(1, 100000),
		gen.Float64Range(65.5, 100),
		gen.Float64Range(0.001, 0.05),
		gen.Float64Range(0, 0.016),
	))

	properties.TestingRun(t)
}
