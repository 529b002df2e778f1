package cli

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"hot-crypto/internal/models"
	"hot-crypto/internal/store"
	"hot-crypto/pkg/utils"
)

func newStatusCmd(app *App) *cobra.Command {
	var (
		runID      int64
		tradeLimit int
		eventLimit int
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the most recent run, its trades and events",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			st, err := store.NewSQLiteStore(app.Config.Store.Path)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			var run store.Run
			if runID > 0 {
				run, err = st.GetRun(ctx, runID)
			} else {
				run, err = st.GetLastRun(ctx)
			}
			if err != nil {
				output.Warning("No runs recorded yet.")
				return nil
			}

			trades, err := st.GetTrades(ctx, store.TradeFilter{RunID: run.ID, Limit: tradeLimit})
			if err != nil {
				return fmt.Errorf("query trades: %w", err)
			}
			events, err := st.GetEvents(ctx, store.EventFilter{RunID: run.ID, Limit: eventLimit})
			if err != nil {
				return fmt.Errorf("query events: %w", err)
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"run":    runDoc(run),
					"trades": trades,
					"events": events,
				})
			}

			renderRun(output, run)
			renderTrades(output, trades)
			renderEvents(output, events)
			return nil
		},
	}

	cmd.Flags().Int64Var(&runID, "run", 0, "run ID to inspect (default: latest)")
	cmd.Flags().IntVar(&tradeLimit, "trades", 20, "max trades to show")
	cmd.Flags().IntVar(&eventLimit, "events", 20, "max events to show")

	return cmd
}

func runDoc(run store.Run) map[string]interface{} {
	doc := map[string]interface{}{
		"id":           run.ID,
		"mode":         run.Mode,
		"symbols":      run.Symbols,
		"timeframe":    run.Timeframe,
		"status":       run.Status,
		"started_at":   run.StartedAt,
		"initial_cash": run.InitialCash,
	}
	if !run.EndedAt.IsZero() {
		doc["ended_at"] = run.EndedAt
		doc["final_equity"] = run.FinalEquity
		doc["return_pct"] = returnPct(run)
	}
	return doc
}

func returnPct(run store.Run) float64 {
	if run.InitialCash <= 0 {
		return 0
	}
	return (run.FinalEquity - run.InitialCash) / run.InitialCash * 100
}

func renderRun(output *Output, run store.Run) {
	output.Bold("Run #%d (%s)", run.ID, run.Mode)

	t := table.NewWriter()
	t.SetOutputMirror(output.writer)
	t.SetStyle(table.StyleLight)
	t.AppendRows([]table.Row{
		{"Status", run.Status},
		{"Symbols", fmt.Sprintf("%v", run.Symbols)},
		{"Timeframe", run.Timeframe},
		{"Started", run.StartedAt.Format(time.RFC3339)},
	})
	if !run.EndedAt.IsZero() {
		t.AppendRows([]table.Row{
			{"Ended", run.EndedAt.Format(time.RFC3339)},
			{"Duration", utils.FormatDuration(run.EndedAt.Sub(run.StartedAt))},
			{"Initial cash", utils.FormatUSD(run.InitialCash)},
			{"Final equity", utils.FormatUSD(run.FinalEquity)},
			{"Return", output.Percent(returnPct(run))},
		})
	}
	t.Render()
	output.Println()
}

func renderTrades(output *Output, trades []models.TradeResult) {
	output.Bold("Trades (%d)", len(trades))
	if len(trades) == 0 {
		output.Dim("  none")
		output.Println()
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(output.writer)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Closed", "Symbol", "Strategy", "Side", "Qty", "Entry", "Exit", "PnL", "Reason"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Qty", Align: text.AlignRight},
		{Name: "Entry", Align: text.AlignRight},
		{Name: "Exit", Align: text.AlignRight},
		{Name: "PnL", Align: text.AlignRight},
	})
	for _, tr := range trades {
		t.AppendRow(table.Row{
			tr.ClosedAt.Format("01-02 15:04"),
			tr.Symbol,
			string(tr.Strategy),
			string(tr.Side),
			utils.FormatQty(tr.Qty),
			fmt.Sprintf("%.2f", tr.EntryPrice),
			fmt.Sprintf("%.2f", tr.ExitPrice),
			output.PnL(tr.PnL),
			tr.Reason,
		})
	}
	t.Render()
	output.Println()
}

func renderEvents(output *Output, events []store.Event) {
	output.Bold("Events (%d)", len(events))
	if len(events) == 0 {
		output.Dim("  none")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(output.writer)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Time", "Type", "Symbol", "Strategy", "Message"})
	for _, e := range events {
		t.AppendRow(table.Row{
			e.At.Format("01-02 15:04:05"),
			string(e.Type),
			e.Symbol,
			e.Strategy,
			e.Message,
		})
	}
	t.Render()
}
