package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"signal-tracker/internal/models"
	"signal-tracker/internal/security"
	"signal-tracker/internal/store"
	"signal-tracker/internal/trading"
	"signal-tracker/pkg/utils"
)

// withStore opens the configured store for the duration of fn.
func (app *App) withStore(ctx context.Context, fn func(st Backend) error) error {
	st, err := openStore(ctx, app.Config)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st)
}

func newPositionsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "positions",
		Short: "List tracked positions",
		Long:  "List Active and Suspended positions, or one partition with --state.",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			stateFlag, _ := cmd.Flags().GetString("state")

			states := []models.State{models.StateActive, models.StateSuspended}
			if stateFlag != "" {
				s, err := models.ParseState(stateFlag)
				if err != nil {
					return err
				}
				states = []models.State{s}
			}

			return app.withStore(cmd.Context(), func(st Backend) error {
				var all []models.Position
				for _, s := range states {
					ps, err := st.List(cmd.Context(), s)
					if err != nil {
						return err
					}
					all = append(all, ps...)
				}

				if output.IsJSON() {
					if all == nil {
						all = []models.Position{}
					}
					return output.JSON(all)
				}
				if len(all) == 0 {
					output.Dim("No positions")
					return nil
				}

				table := NewTable(output, "Symbol", "Side", "State", "Entry", "Stop", "TP1", "TP2", "TP3", "Opened")
				for _, p := range all {
					table.AddRow(
						p.Symbol,
						output.Direction(p.Direction),
						output.State(p.State),
						utils.FormatPrice(p.EntryPrice),
						utils.FormatPrice(p.StopLoss),
						utils.FormatPrice(p.TakeProfits[0]),
						utils.FormatPrice(p.TakeProfits[1]),
						utils.FormatPrice(p.TakeProfits[2]),
						FormatTime(p.OpenedAt),
					)
				}
				table.Render()
				return nil
			})
		},
	}
	cmd.Flags().String("state", "", "only show one state: active, suspended or closed")
	return cmd
}

func newHistoryCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show closed positions and win rate",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			limit, _ := cmd.Flags().GetInt("limit")
			symbol, _ := cmd.Flags().GetString("symbol")
			symbol = utils.NormalizeSymbol(symbol)

			return app.withStore(cmd.Context(), func(st Backend) error {
				hist, err := st.List(cmd.Context(), models.StateClosed)
				if err != nil {
					return err
				}
				if symbol != "" {
					filtered := hist[:0]
					for _, p := range hist {
						if p.Symbol == symbol {
							filtered = append(filtered, p)
						}
					}
					hist = filtered
				}
				summary := trading.Summarize(hist)
				// Most recent last; keep the tail.
				if limit > 0 && len(hist) > limit {
					hist = hist[len(hist)-limit:]
				}

				if output.IsJSON() {
					if hist == nil {
						hist = []models.Position{}
					}
					return output.JSON(map[string]interface{}{
						"records": hist,
						"summary": summary,
					})
				}

				if len(hist) == 0 {
					output.Dim("No closed positions")
					return nil
				}
				table := NewTable(output, "Closed", "Symbol", "Side", "Entry", "Exit", "Move", "Result")
				for _, p := range hist {
					table.AddRow(
						FormatTime(p.ClosedAt),
						p.Symbol,
						output.Direction(p.Direction),
						utils.FormatPrice(p.EntryPrice),
						utils.FormatPrice(p.ExitPrice),
						output.FormatPercent(p.GainPercent(p.ExitPrice)),
						output.Outcome(p.Outcome),
					)
				}
				table.Render()
				output.Println()
				output.Printf("Total %d  Wins %d  Losses %d  Unknown %d  Win rate %.1f%%\n",
					summary.Total, summary.Wins, summary.Losses, summary.Unknown, summary.WinRate)
				return nil
			})
		},
	}
	cmd.Flags().Int("limit", 20, "show at most this many records (0 for all)")
	cmd.Flags().String("symbol", "", "only show one symbol")
	return cmd
}

func newWatchlistCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watchlist",
		Short: "Manage the scanned symbols",
		Long: `Manage the watch-list scanned by the entry cycle.

When scanner.watchlist_file is set, the file is scanned instead and these
commands only edit the stored list.`,
	}
	cmd.PersistentFlags().String("name", "", "watch-list name (default: scanner.watchlist_name)")

	listName := func(cmd *cobra.Command) (string, error) {
		name, _ := cmd.Flags().GetString("name")
		if name == "" {
			name = app.Config.Scanner.WatchlistName
		}
		return name, security.ValidateListName(name)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <symbol>...",
		Short: "Add symbols",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			name, err := listName(cmd)
			if err != nil {
				return err
			}
			added := utils.DedupeSymbols(args)
			for _, sym := range added {
				if err := security.ValidateSymbol(sym); err != nil {
					return err
				}
			}
			return app.withStore(cmd.Context(), func(st Backend) error {
				for _, sym := range added {
					if err := st.AddToWatchlist(cmd.Context(), sym, name); err != nil {
						return fmt.Errorf("add %s: %w", sym, err)
					}
				}
				if output.IsJSON() {
					return output.JSON(map[string]interface{}{"list": name, "added": added})
				}
				output.Success("Added %s to %s", strings.Join(added, ", "), name)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <symbol>",
		Short: "Remove a symbol",
		Args:  requireArgs(1, "tracker watchlist remove <symbol>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			name, err := listName(cmd)
			if err != nil {
				return err
			}
			sym := utils.NormalizeSymbol(args[0])
			if err := security.ValidateSymbol(sym); err != nil {
				return err
			}
			return app.withStore(cmd.Context(), func(st Backend) error {
				if err := st.RemoveFromWatchlist(cmd.Context(), sym, name); err != nil {
					return err
				}
				if output.IsJSON() {
					return output.JSON(map[string]string{"list": name, "removed": sym})
				}
				output.Success("Removed %s from %s", sym, name)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List symbols",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			name, err := listName(cmd)
			if err != nil {
				return err
			}
			return app.withStore(cmd.Context(), func(st Backend) error {
				symbols, err := listWatchlist(cmd.Context(), st, name)
				if err != nil {
					return err
				}
				if output.IsJSON() {
					return output.JSON(map[string]interface{}{"list": name, "symbols": symbols})
				}
				if len(symbols) == 0 {
					output.Dim("Watch-list %s is empty", name)
					return nil
				}
				for _, s := range symbols {
					output.Println(s)
				}
				return nil
			})
		},
	})

	return cmd
}

func listWatchlist(ctx context.Context, ws store.WatchlistStore, name string) ([]string, error) {
	symbols, err := ws.GetWatchlist(ctx, name)
	if err != nil {
		return nil, err
	}
	if symbols == nil {
		symbols = []string{}
	}
	return symbols, nil
}
