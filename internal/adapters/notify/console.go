package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/stargazecap/optimus/internal/domain"
)

// Console implements ports.Notifier on stdout. Most events print one
// compact line; cycle summaries render the open book as a table.
type Console struct {
	out   io.Writer
	table bool
}

// NewConsole creates a notifier that writes to stdout.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table}
}

// NewConsoleWriter creates a notifier for tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table}
}

// Notify prints the event in the configured mode. Never returns an error:
// a console write failure is not actionable.
func (c *Console) Notify(_ context.Context, ev domain.Event) error {
	if ev.Kind == domain.EventCycleSummary && c.table {
		c.printCycle(ev)
		return nil
	}
	c.printLine(ev)
	return nil
}

// printLine prints the one-line form every event has.
func (c *Console) printLine(ev domain.Event) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s]%s %s", eventClock(ev), severityMark(ev.Severity), ev.Title)
	if ev.Asset != "" {
		fmt.Fprintf(&sb, " [%s]", ev.Asset)
	}
	if ev.PositionID != "" {
		fmt.Fprintf(&sb, " (%s)", shortID(ev.PositionID))
	}
	if ev.Detail != "" {
		fmt.Fprintf(&sb, " — %s", ev.Detail)
	}
	fmt.Fprintln(c.out, sb.String())
}

// printCycle renders the summary line, the open book and the running
// tally after each cycle.
func (c *Console) printCycle(ev domain.Event) {
	fmt.Fprintf(c.out, "\n[%s] %s — %s\n", eventClock(ev), ev.Title, ev.Detail)

	if len(ev.Positions) > 0 {
		c.printBook(ev.Positions)
	} else {
		fmt.Fprintln(c.out, "  no open positions")
	}

	if ev.Stats != nil && ev.Stats.Trades > 0 {
		s := ev.Stats
		fmt.Fprintf(c.out, "  closed: %d trades | win %.0f%% | PF %.2f | net $%.0f\n",
			s.Trades, s.WinRate()*100, s.ProfitFactor(), s.NetPnL)
	}
	fmt.Fprintln(c.out)
}

func (c *Console) printBook(positions []domain.Position) {
	table := tablewriter.NewWriter(c.out)
	table.Header("Asset", "Tier", "Qty", "Credit", "Value", "PnL$", "DTE", "Rolls", "Status")

	for _, p := range positions {
		table.Append(
			p.Underlying,
			tierLabel(p.Tier),
			fmt.Sprintf("%d", p.Contracts),
			fmt.Sprintf("%.2f", p.EntryCredit),
			fmt.Sprintf("%.2f", p.CurrentValue),
			fmt.Sprintf("%+.0f", p.UnrealizedPnL()),
			fmt.Sprintf("%d", p.RemainingDTE),
			fmt.Sprintf("%d", p.RollCount),
			string(p.Status),
		)
	}
	table.Render()
}

// --- helpers ---

func eventClock(ev domain.Event) string {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	return at.Format("15:04:05")
}

func severityMark(severity string) string {
	switch severity {
	case "critical":
		return " !!"
	case "warn":
		return " >>"
	}
	return ""
}

func tierLabel(t domain.Tier) string {
	if t == domain.TierUndefinedRisk {
		return "strangle"
	}
	return "condor"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
