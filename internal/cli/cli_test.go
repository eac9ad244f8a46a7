package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"signal-tracker/internal/models"
	"signal-tracker/internal/store"
	"signal-tracker/internal/trading"
)

type cliEnv struct {
	dir    string
	dbPath string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	for _, k := range []string{
		"TELEGRAM_BOT_TOKEN", "TELEGRAM_CHAT_ID", "TRACKER_DRY_RUN",
		"TRACKER_STORE_DRIVER", "TRACKER_STORE_PATH", "TRACKER_REDIS_ADDR",
		"TRACKER_REDIS_PASSWORD", "TRACKER_LOG_LEVEL", "TRACKER_METRICS_ADDR",
	} {
		t.Setenv(k, "")
	}

	dir := t.TempDir()
	env := &cliEnv{dir: dir, dbPath: filepath.Join(dir, "tracker.db")}
	content := `
[store]
driver = "sqlite"
path = "` + filepath.ToSlash(env.dbPath) + `"

[metrics]
enabled = false
`
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return env
}

func (e *cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", e.dir}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (e *cliEnv) seed(t *testing.T, fn func(ctx context.Context, s *store.SQLiteStore)) {
	t.Helper()
	s, err := store.NewSQLiteStore(e.dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()
	fn(context.Background(), s)
}

func seededPosition(sym string) *models.Position {
	return &models.Position{
		Symbol:      sym,
		Direction:   models.Long,
		EntryPrice:  100,
		StopLoss:    98,
		TakeProfits: [3]float64{103.36, 105.36, 107.36},
		MessageRef:  "900",
		OpenedAt:    time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func closeWith(t *testing.T, ctx context.Context, s *store.SQLiteStore, sym string, outcome models.Outcome, exit float64) {
	t.Helper()
	if err := s.Create(ctx, seededPosition(sym)); err != nil {
		t.Fatalf("create %s: %v", sym, err)
	}
	_, err := s.Transition(ctx, sym, models.StateActive, models.StateClosed, func(p *models.Position) {
		p.Outcome = outcome
		p.ExitPrice = exit
		p.ClosedAt = time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC)
	})
	if err != nil {
		t.Fatalf("close %s: %v", sym, err)
	}
}

func TestVersionJSON(t *testing.T) {
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version", "--json"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	var got map[string]string
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("decode %q: %v", out.String(), err)
	}
	if got["version"] != Version {
		t.Errorf("version = %q", got["version"])
	}
}

func TestConfigValidate(t *testing.T) {
	env := newCLIEnv(t)
	out, err := env.run(t, "config", "validate", "--json")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out, `"valid": true`) {
		t.Errorf("output = %q", out)
	}
}

func TestConfigShowRedactsSecrets(t *testing.T) {
	env := newCLIEnv(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "123456:ABCDEFGHIJKLMNOP")
	out, err := env.run(t, "config", "show", "--json")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if strings.Contains(out, "ABCDEFGHIJKLMNOP") {
		t.Error("bot token leaked in config show")
	}
	if !strings.Contains(out, "1234***************MNOP") {
		t.Errorf("token not masked: %q", out)
	}
}

func TestWatchlistCommands(t *testing.T) {
	env := newCLIEnv(t)

	if _, err := env.run(t, "watchlist", "add", "btcusdt", "BYBIT:ETHUSDT", "BTCUSDT"); err != nil {
		t.Fatalf("add: %v", err)
	}
	out, err := env.run(t, "watchlist", "list", "--json")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var got struct {
		List    string   `json:"list"`
		Symbols []string `json:"symbols"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if got.List != "default" {
		t.Errorf("list = %q", got.List)
	}
	if strings.Join(got.Symbols, ",") != "BTCUSDT,ETHUSDT" {
		t.Errorf("symbols = %v", got.Symbols)
	}

	if _, err := env.run(t, "watchlist", "remove", "btcusdt"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	out, err = env.run(t, "watchlist", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if strings.TrimSpace(out) != "ETHUSDT" {
		t.Errorf("after remove = %q", out)
	}

	if _, err := env.run(t, "watchlist", "remove"); err == nil {
		t.Error("remove without symbol succeeded")
	}
	if _, err := env.run(t, "watchlist", "add", "BTC/USDT"); err == nil {
		t.Error("malformed symbol accepted")
	}
	if _, err := env.run(t, "watchlist", "list", "--name", "my list"); err == nil {
		t.Error("malformed list name accepted")
	}
}

func TestPositionsCommand(t *testing.T) {
	env := newCLIEnv(t)
	env.seed(t, func(ctx context.Context, s *store.SQLiteStore) {
		if err := s.Create(ctx, seededPosition("BTCUSDT")); err != nil {
			t.Fatal(err)
		}
		if err := s.Create(ctx, seededPosition("ETHUSDT")); err != nil {
			t.Fatal(err)
		}
		_, err := s.Transition(ctx, "ETHUSDT", models.StateActive, models.StateSuspended, func(p *models.Position) {
			p.SuspendedAt = time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC)
		})
		if err != nil {
			t.Fatal(err)
		}
	})

	out, err := env.run(t, "positions", "--json")
	if err != nil {
		t.Fatalf("positions: %v", err)
	}
	var all []models.Position
	if err := json.Unmarshal([]byte(out), &all); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d positions, want 2", len(all))
	}

	out, err = env.run(t, "positions", "--state", "suspended", "--json")
	if err != nil {
		t.Fatalf("positions --state: %v", err)
	}
	var suspended []models.Position
	if err := json.Unmarshal([]byte(out), &suspended); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(suspended) != 1 || suspended[0].Symbol != "ETHUSDT" {
		t.Errorf("suspended = %+v", suspended)
	}

	if _, err := env.run(t, "positions", "--state", "pending"); err == nil {
		t.Error("unknown state accepted")
	}

	out, err = env.run(t, "positions")
	if err != nil {
		t.Fatalf("positions table: %v", err)
	}
	if !strings.Contains(out, "BTCUSDT") || !strings.Contains(out, "SUSPENDED") {
		t.Errorf("table = %q", out)
	}
}

func TestHistoryCommand(t *testing.T) {
	env := newCLIEnv(t)
	env.seed(t, func(ctx context.Context, s *store.SQLiteStore) {
		closeWith(t, ctx, s, "BTCUSDT", models.OutcomeWin, 103.5)
		closeWith(t, ctx, s, "ETHUSDT", models.OutcomeLose, 97.9)
		closeWith(t, ctx, s, "SOLUSDT", models.OutcomeWin, 104)
		closeWith(t, ctx, s, "XRPUSDT", models.OutcomeUnknown, 101)
	})

	out, err := env.run(t, "history", "--json", "--limit", "2")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var got struct {
		Records []models.Position `json:"records"`
		Summary trading.Summary   `json:"summary"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(got.Records) != 2 || got.Records[0].Symbol != "SOLUSDT" || got.Records[1].Symbol != "XRPUSDT" {
		t.Errorf("records = %+v", got.Records)
	}
	s := got.Summary
	if s.Total != 4 || s.Wins != 2 || s.Losses != 1 || s.Unknown != 1 {
		t.Errorf("summary = %+v", s)
	}
	if s.WinRate < 66.6 || s.WinRate > 66.7 {
		t.Errorf("win rate = %v", s.WinRate)
	}

	out, err = env.run(t, "history", "--symbol", "ethusdt")
	if err != nil {
		t.Fatalf("history table: %v", err)
	}
	if !strings.Contains(out, "Lose") || strings.Contains(out, "BTCUSDT") {
		t.Errorf("table = %q", out)
	}
}

func TestUnknownStoreDriver(t *testing.T) {
	env := newCLIEnv(t)
	t.Setenv("TRACKER_STORE_DRIVER", "mongo")
	if _, err := env.run(t, "positions"); err == nil {
		t.Error("invalid driver accepted")
	}
}
