package notify

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/alejandrodnm/polytrader/internal/application/search"
	"github.com/alejandrodnm/polytrader/internal/domain"
	"github.com/alejandrodnm/polytrader/internal/strategy"
	"github.com/olekukonko/tablewriter"
)

// Console imprime el output de los comandos: tablas para humanos o JSON
// indentado para máquinas. Siempre escribe a out (stdout); los logs van a stderr.
type Console struct {
	out  io.Writer
	json bool
}

// NewConsole crea un Console que escribe a stdout.
func NewConsole(jsonOut bool) *Console {
	return &Console{out: os.Stdout, json: jsonOut}
}

// NewConsoleWriter crea un Console para tests.
func NewConsoleWriter(w io.Writer, jsonOut bool) *Console {
	return &Console{out: w, json: jsonOut}
}

// JSON indica si el Console está en modo máquina.
func (c *Console) JSON() bool { return c.json }

// PrintJSON escribe v como JSON indentado, sea cual sea el modo.
func (c *Console) PrintJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("notify.PrintJSON: %w", err)
	}
	return nil
}

// PrintMarkets imprime los snapshots devueltos por una búsqueda.
func (c *Console) PrintMarkets(snaps []domain.MarketSnapshot) error {
	if c.json {
		return c.PrintJSON(snaps)
	}
	if len(snaps) == 0 {
		fmt.Fprintln(c.out, "No markets found")
		return nil
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Market", "Yes", "No", "Liquidity", "Volume", "Ends")
	for i, s := range snaps {
		table.Append(
			fmt.Sprintf("%d", i+1),
			marketLabel(s.Question, s.Slug),
			fmt.Sprintf("%.3f", s.YesMid),
			fmt.Sprintf("%.3f", s.NoMid),
			fmt.Sprintf("$%.0f", s.Liquidity),
			fmt.Sprintf("$%.0f", s.Volume),
			endDateLabel(s),
		)
	}
	return table.Render()
}

// PrintScan imprime el resultado de un scan: resumen, señales y fills.
func (c *Console) PrintScan(o domain.ScanOutcome) error {
	if c.json {
		return c.PrintJSON(o)
	}
	r := o.Run
	fmt.Fprintf(c.out, "\n[%s] %s | model=%s sizer=%s query=%q\n",
		r.StartedAt.Format("15:04:05"), r.ExperimentTag, r.Model, r.Sizer, r.Query)
	fmt.Fprintf(c.out, "  markets: %d seen, %d scanned, %d filtered | signals: %d | fills: %d | cash $%.2f -> $%.2f\n",
		r.MarketsSeen, r.MarketsScanned, o.Filtered, r.SignalCount, r.FillCount, r.CashBefore, r.CashAfter)
	if len(o.Skipped) > 0 {
		fmt.Fprintf(c.out, "  skipped: %s\n", skippedLabel(o.Skipped))
	}

	if len(o.Signals) > 0 {
		table := tablewriter.NewWriter(c.out)
		table.Header("#", "Market", "Side", "Mkt", "Model", "Edge", "Conf")
		for i, s := range o.Signals {
			table.Append(
				fmt.Sprintf("%d", i+1),
				marketLabel("", s.Slug),
				string(s.Side),
				fmt.Sprintf("%.3f", s.MarketPrice),
				fmt.Sprintf("%.3f", s.ModelPrice),
				fmt.Sprintf("%+.4f", s.TradeEdge()),
				fmt.Sprintf("%.2f", s.Confidence),
			)
		}
		if err := table.Render(); err != nil {
			return err
		}
	}

	if len(o.Fills) > 0 {
		fmt.Fprintln(c.out, "  fills:")
		if err := c.tradesTable(o.Fills); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(c.out, "  no fills")
	}
	return nil
}

// PrintCatalog imprime los modelos o sizers registrados con sus parámetros.
func (c *Console) PrintCatalog(descs []strategy.Descriptor) error {
	if c.json {
		return c.PrintJSON(descs)
	}
	table := tablewriter.NewWriter(c.out)
	table.Header("Kind", "Name", "Params", "Inputs", "Doc")
	for _, d := range descs {
		params := make([]string, 0, len(d.Params))
		for _, p := range d.Params {
			if p.Default != nil {
				params = append(params, fmt.Sprintf("%s:%s=%v", p.Name, p.Type, p.Default))
			} else {
				params = append(params, fmt.Sprintf("%s:%s", p.Name, p.Type))
			}
		}
		table.Append(string(d.Kind), d.Name, strings.Join(params, " "), strings.Join(d.Inputs, ","), d.Doc)
	}
	return table.Render()
}

// PrintVariables imprime las rutas que acepta un search space.
func (c *Console) PrintVariables(vars []search.Variable) error {
	if c.json {
		return c.PrintJSON(vars)
	}
	table := tablewriter.NewWriter(c.out)
	table.Header("Path", "Type", "Default", "Plugin", "Doc")
	for _, v := range vars {
		def := ""
		if v.Default != nil {
			def = fmt.Sprint(v.Default)
		}
		table.Append(v.Path, v.Type, def, v.Plugin, v.Doc)
	}
	return table.Render()
}

// PrintRuns imprime los scans más recientes de un experimento.
func (c *Console) PrintRuns(runs []domain.ScanRun) error {
	if c.json {
		return c.PrintJSON(runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(c.out, "No runs yet")
		return nil
	}
	table := tablewriter.NewWriter(c.out)
	table.Header("Started", "Run", "Model", "Sizer", "Status", "Scanned", "Signals", "Fills", "Cash")
	for _, r := range runs {
		table.Append(
			r.StartedAt.Format("2006-01-02 15:04:05"),
			shortID(r.ID),
			r.Model,
			r.Sizer,
			string(r.Status),
			fmt.Sprintf("%d", r.MarketsScanned),
			fmt.Sprintf("%d", r.SignalCount),
			fmt.Sprintf("%d", r.FillCount),
			fmt.Sprintf("$%.2f", r.CashAfter),
		)
	}
	return table.Render()
}

func (c *Console) tradesTable(trades []domain.PaperTrade) error {
	table := tablewriter.NewWriter(c.out)
	table.Header("Opened", "Market", "Side", "USD", "Shares", "Avg", "Levels", "Slip bps")
	for _, t := range trades {
		table.Append(
			t.OpenedAt.Format("01-02 15:04"),
			marketLabel(t.Question, t.Slug),
			string(t.Side),
			fmt.Sprintf("$%.2f", t.Fill.FilledUSD),
			fmt.Sprintf("%.2f", t.Fill.Shares),
			fmt.Sprintf("%.4f", t.Fill.AvgPrice),
			fmt.Sprintf("%d", t.Fill.LevelsUsed),
			fmt.Sprintf("%.1f", t.Fill.SlippageBps),
		)
	}
	return table.Render()
}

func marketLabel(question, slug string) string {
	return truncate(domain.TruncateQuestion(question, slug, 60), 38)
}

func endDateLabel(s domain.MarketSnapshot) string {
	if s.EndDate.IsZero() {
		return "-"
	}
	hours := s.HoursToExpiry()
	if hours < 48 {
		return fmt.Sprintf("%s (!%.0fh)", s.EndDate.Format("01-02"), math.Round(hours))
	}
	return s.EndDate.Format("2006-01-02")
}

func skippedLabel(skipped map[string]int) string {
	keys := make([]string, 0, len(skipped))
	for k := range skipped {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, skipped[k])
	}
	return strings.Join(parts, " ")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
