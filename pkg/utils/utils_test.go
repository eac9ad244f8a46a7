package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestRoundPrice(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{1234.5, 1235},
		{123.456, 123.46},
		{12.3456, 12.346},
		{1.23456, 1.235},
		{0.123456, 0.12346},
		{0.0123456, 0.012346},
		{98, 98},
		{103.36000000000001, 103.36},
	}
	for _, tt := range tests {
		if got := RoundPrice(tt.in); got != tt.want {
			t.Errorf("RoundPrice(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestPricePrecision(t *testing.T) {
	tests := []struct {
		in   float64
		want int32
	}{
		{1000, 0},
		{999.99, 2},
		{100, 2},
		{99.9, 3},
		{10, 3},
		{1, 3},
		{0.99, 5},
		{0.1, 5},
		{0.09, 6},
	}
	for _, tt := range tests {
		if got := PricePrecision(tt.in); got != tt.want {
			t.Errorf("PricePrecision(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

// Property: rounding never moves a price by more than half a unit in the last kept place
// and is idempotent.
func TestProperty_RoundPriceBounded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("rounding is bounded and idempotent", prop.ForAll(
		func(v float64) bool {
			r := RoundPrice(v)
			unit := 1.0
			for i := int32(0); i < PricePrecision(v); i++ {
				unit /= 10
			}
			diff := r - v
			if diff < 0 {
				diff = -diff
			}
			return diff <= unit/2+1e-9 && RoundPrice(r) == r
		},
		gen.Float64Range(0.001, 100000),
	))

	properties.TestingRun(t)
}

func TestRetryWithResult(t *testing.T) {
	ctx := context.Background()
	cfg := FixedRetryConfig(3, time.Millisecond)

	calls := 0
	got, err := RetryWithResult(ctx, cfg, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	if err != nil || got != 42 {
		t.Fatalf("got (%d, %v), want (42, nil)", got, err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryExhausted(t *testing.T) {
	cfg := FixedRetryConfig(3, time.Millisecond)
	var retried []int
	cfg.OnRetry = func(attempt int, err error) {
		retried = append(retried, attempt)
	}

	calls := 0
	last := errors.New("attempt failed")
	err := Retry(context.Background(), cfg, func() error {
		calls++
		return last
	})
	if !errors.Is(err, last) {
		t.Fatalf("err = %v, want last error", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(retried) != 2 {
		t.Errorf("OnRetry called %d times, want 2", len(retried))
	}
}

func TestRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := FixedRetryConfig(5, time.Hour)

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- Retry(ctx, cfg, func() error {
			calls++
			return errors.New("fail")
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Retry did not return after cancellation")
	}
}

func TestChartURL(t *testing.T) {
	got := ChartURL("bybit", " btcusdt ", 5)
	want := "https://www.tradingview.com/chart/?symbol=BYBIT%3ABTCUSDT&interval=5"
	if got != want {
		t.Errorf("ChartURL = %q, want %q", got, want)
	}
}

func TestDedupeSymbols(t *testing.T) {
	got := DedupeSymbols([]string{"btcusdt", "BYBIT:ETHUSDT", "BTCUSDT", "", "solusdt"})
	want := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
