package notify

import (
	"fmt"

	"github.com/alejandrodnm/polytrader/internal/application/portfolio"
	"github.com/alejandrodnm/polytrader/internal/application/ranking"
	"github.com/alejandrodnm/polytrader/internal/application/replay"
	"github.com/alejandrodnm/polytrader/internal/domain"
	"github.com/olekukonko/tablewriter"
)

// PrintResults imprime los resultados de un torneo en el orden de entrada.
func (c *Console) PrintResults(results []domain.ExperimentResult) error {
	if c.json {
		return c.PrintJSON(results)
	}
	table := tablewriter.NewWriter(c.out)
	table.Header("Tag", "Status", "Signals", "Fills", "Realized", "Unrealized", "Win%", "Cash", "Equity", "Error")
	failed := 0
	for _, r := range results {
		if r.Failed() {
			failed++
		}
		table.Append(
			r.Tag,
			r.Status,
			fmt.Sprintf("%d", r.SignalCount),
			fmt.Sprintf("%d", r.FillCount),
			fmt.Sprintf("$%.2f", r.RealizedPnL),
			fmt.Sprintf("$%.2f", r.UnrealizedPnL),
			fmt.Sprintf("%.0f%%", r.WinRate*100),
			fmt.Sprintf("$%.2f", r.Cash),
			fmt.Sprintf("$%.2f", r.Equity),
			truncate(r.Error, 40),
		)
	}
	if err := table.Render(); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "  %d experiments, %d failed\n", len(results), failed)
	return nil
}

// PrintLeaderboard imprime el ranking. La columna Value solo aparece si se
// ordenó por una métrica distinta del score.
func (c *Console) PrintLeaderboard(entries []ranking.Entry, opts ranking.Options) error {
	if c.json {
		return c.PrintJSON(entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(c.out, "No results to rank")
		return nil
	}

	byMetric := opts.By != "" && opts.By != ranking.MetricScore
	header := []any{"#", "Tag", "Status", "Score"}
	if byMetric {
		header = append(header, string(opts.By))
	}
	header = append(header, "Realized", "Unrealized", "Win%", "Signals", "Pareto")

	table := tablewriter.NewWriter(c.out)
	table.Header(header...)
	for _, e := range entries {
		r := e.Result
		row := []any{fmt.Sprintf("%d", e.Rank), r.Tag, r.Status, fmt.Sprintf("%.2f", e.Score)}
		if byMetric {
			row = append(row, fmt.Sprintf("%.4f", e.Value))
		}
		pareto := ""
		if e.Pareto {
			pareto = "*"
		}
		row = append(row,
			fmt.Sprintf("$%.2f", r.RealizedPnL),
			fmt.Sprintf("$%.2f", r.UnrealizedPnL),
			fmt.Sprintf("%.0f%%", r.WinRate*100),
			fmt.Sprintf("%d", r.SignalCount),
			pareto,
		)
		table.Append(row...)
	}
	if err := table.Render(); err != nil {
		return err
	}

	fmt.Fprintf(c.out, "  %s\n", opts.Weights.Formula())
	fmt.Fprintln(c.out, "  * = Pareto front")
	return nil
}

// PrintTimeline imprime el replay de fills de un experimento.
func (c *Console) PrintTimeline(tl replay.Timeline) error {
	if c.json {
		return c.PrintJSON(tl)
	}
	fmt.Fprintf(c.out, "\n%s | window %s\n", tl.Tag, tl.Window.String())
	if len(tl.Rows) == 0 {
		fmt.Fprintln(c.out, "  no fills in window")
		return nil
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Opened", "Market", "Side", "USD", "Shares", "Avg", "Status", "PnL", "Cum USD")
	for _, row := range tl.Rows {
		t := row.Trade
		pnl := "-"
		switch {
		case t.Status == domain.TradeClosed:
			pnl = fmt.Sprintf("$%+.2f", row.RealizedPnL)
		case row.Marked:
			pnl = fmt.Sprintf("$%+.2f @%.3f", row.UnrealizedPnL, row.Mark)
		}
		table.Append(
			fmt.Sprintf("%d", row.Seq),
			t.OpenedAt.Format("2006-01-02 15:04"),
			marketLabel(t.Question, t.Slug),
			string(t.Side),
			fmt.Sprintf("$%.2f", t.Fill.FilledUSD),
			fmt.Sprintf("%.2f", t.Fill.Shares),
			fmt.Sprintf("%.4f", t.Fill.AvgPrice),
			string(t.Status),
			pnl,
			fmt.Sprintf("$%.2f", row.CumulativeUSD),
		)
	}
	if err := table.Render(); err != nil {
		return err
	}

	tot := tl.Totals
	fmt.Fprintf(c.out, "  %d fills | $%.2f filled | %.2f shares | %d closed | realized $%+.2f | unrealized $%+.2f\n",
		tot.Fills, tot.FilledUSD, tot.Shares, tot.Closed, tot.RealizedPnL, tot.UnrealizedPnL)
	return nil
}

// PrintAccount imprime el estado de la cuenta de un experimento.
func (c *Console) PrintAccount(tag string, s domain.AccountSummary) error {
	if c.json {
		return c.PrintJSON(struct {
			Tag string `json:"tag"`
			domain.AccountSummary
		}{tag, s})
	}
	fmt.Fprintf(c.out, "\n  ACCOUNT %s\n", tag)
	fmt.Fprintf(c.out, "  Starting bankroll:  $%.2f\n", s.StartingBankroll)
	fmt.Fprintf(c.out, "  Cash:               $%.2f\n", s.Cash)
	fmt.Fprintf(c.out, "  Open positions:     %d (cost $%.2f, mark $%.2f)\n", s.OpenPositions, s.OpenCost, s.MarkValue)
	fmt.Fprintf(c.out, "  Equity:             $%.2f\n", s.Equity)
	fmt.Fprintf(c.out, "  Realized PnL:       $%+.2f\n", s.RealizedPnL)
	fmt.Fprintf(c.out, "  Unrealized PnL:     $%+.2f\n", s.UnrealizedPnL)
	fmt.Fprintf(c.out, "  Total PnL:          $%+.2f\n", s.TotalPnL)
	return nil
}

// PrintPositions imprime las posiciones abiertas marcadas a mercado.
func (c *Console) PrintPositions(positions []portfolio.Position) error {
	if c.json {
		return c.PrintJSON(positions)
	}
	if len(positions) == 0 {
		fmt.Fprintln(c.out, "No open positions")
		return nil
	}
	table := tablewriter.NewWriter(c.out)
	table.Header("Opened", "Market", "Side", "Shares", "Avg", "Mark", "Value", "uPnL", "uPnL%")
	for _, p := range positions {
		t := p.Trade
		mark := "-"
		if p.Marked {
			mark = fmt.Sprintf("%.3f", p.Mark)
		}
		table.Append(
			t.OpenedAt.Format("01-02 15:04"),
			marketLabel(t.Question, t.Slug),
			string(t.Side),
			fmt.Sprintf("%.2f", t.Fill.Shares),
			fmt.Sprintf("%.4f", t.Fill.AvgPrice),
			mark,
			fmt.Sprintf("$%.2f", p.MarkValue),
			fmt.Sprintf("$%+.2f", p.UnrealizedPnL),
			fmt.Sprintf("%+.1f%%", p.UnrealizedPct*100),
		)
	}
	return table.Render()
}

// PrintHistory imprime los trades cerrados y el win rate.
func (c *Console) PrintHistory(h portfolio.History) error {
	if c.json {
		return c.PrintJSON(h)
	}
	if len(h.Trades) == 0 {
		fmt.Fprintln(c.out, "No closed trades")
		return nil
	}
	table := tablewriter.NewWriter(c.out)
	table.Header("Closed", "Market", "Side", "Cost", "Exit", "PnL")
	for _, t := range h.Trades {
		closed := "-"
		if t.ClosedAt != nil {
			closed = t.ClosedAt.Format("2006-01-02 15:04")
		}
		table.Append(
			closed,
			marketLabel(t.Question, t.Slug),
			string(t.Side),
			fmt.Sprintf("$%.2f", t.Cost()),
			fmt.Sprintf("%.2f", t.ExitPrice),
			fmt.Sprintf("$%+.2f", t.RealizedPnL),
		)
	}
	if err := table.Render(); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "  %d wins / %d losses (%.0f%%) | realized $%+.2f\n",
		h.Wins, h.Losses, h.WinRate*100, h.RealizedPnL)
	return nil
}

// PrintResolved imprime los trades liquidados por `resolve`.
func (c *Console) PrintResolved(slug string, outcomeYes bool, closed []domain.PaperTrade) error {
	if c.json {
		return c.PrintJSON(struct {
			Slug       string              `json:"slug"`
			OutcomeYes bool                `json:"outcome_yes"`
			Closed     []domain.PaperTrade `json:"closed"`
		}{slug, outcomeYes, closed})
	}
	outcome := "NO"
	if outcomeYes {
		outcome = "YES"
	}
	fmt.Fprintf(c.out, "\n  %s resolved %s: %d trades closed\n", slug, outcome, len(closed))
	if len(closed) == 0 {
		return nil
	}
	var realized float64
	for _, t := range closed {
		realized += t.RealizedPnL
	}
	if err := c.tradesTable(closed); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "  realized $%+.2f\n", realized)
	return nil
}
