package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"signal-tracker/internal/clock"
	"signal-tracker/internal/metrics"
	"signal-tracker/internal/resilience"
	"signal-tracker/internal/trading"
)

func newRunCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the entry and monitor cycles",
		Long: `Start polling the watch-list for entries and tracking open signals.

Runs until interrupted. Suspended positions from a previous run get their
cool-down timers back on start.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dry, _ := cmd.Flags().GetBool("dry-run"); dry {
				app.Config.Notifications.Telegram.DryRun = true
			}
			return app.run(cmd.Context(), cmd)
		},
	}
	cmd.Flags().Bool("dry-run", false, "print alerts instead of sending them to Telegram")
	return cmd
}

func (app *App) run(ctx context.Context, cmd *cobra.Command) error {
	cfg := app.Config
	logger := app.Logger
	clk := clock.New()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	breaker := newBreaker(cfg, clk, logger)
	gw := newGateway(cfg, breaker, logger)
	notifier, err := newNotifier(cfg, cmd.OutOrStdout(), logger)
	if err != nil {
		return err
	}
	tracker := newTracker(cfg, st, gw, notifier, clk, logger)

	health := resilience.NewHealthMonitor(clk)
	health.RegisterComponent("store", resilience.DatabaseHealthCheck(st.Ping))
	health.RegisterComponent("scanner", resilience.BreakerHealthCheck(breaker))
	health.RegisterComponent("entry_cycle", resilience.FreshnessHealthCheck(clk, func() time.Time {
		return tracker.Scheduler().LastRun(trading.CycleEntry)
	}, 3*cfg.Scanner.EntryInterval))
	health.RegisterComponent("monitor_cycle", resilience.FreshnessHealthCheck(clk, func() time.Time {
		return tracker.Scheduler().LastRun(trading.CycleMonitor)
	}, 3*cfg.Scanner.MonitorInterval))

	logger.Info().
		Str("store", cfg.Store.Driver).
		Str("exchange", cfg.Scanner.Exchange).
		Bool("telegram", cfg.TelegramReady()).
		Msg("Signal tracker starting")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return tracker.Run(ctx)
	})

	if cfg.Metrics.Enabled {
		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           metrics.NewRouter(health.HealthHTTPHandler(), health.LivenessHTTPHandler()),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info().Str("addr", srv.Addr).Msg("Metrics server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		logger.Info().Msg("Signal tracker stopped")
		return nil
	}
	return err
}
