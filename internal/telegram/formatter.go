package telegram

import (
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/trogers1052/drawdown-screener/internal/brokerage"
	"github.com/trogers1052/drawdown-screener/internal/models"
)

const helpText = `<b>Drawdown Screener</b>

/screen - top drawdown candidates
/drawdown SYMBOL - latest snapshot for one symbol
/portfolio - current positions
/monitor - profit target check (best 5 positions)
/account - live account summary
/health - latest run report
/run - start a screening run
/help - this message`

func pct(d decimal.Decimal) string {
	return d.StringFixed(2) + "%"
}

func money(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}

// FormatCandidates renders the top-N list
func FormatCandidates(candidates []models.RankedCandidate) string {
	if len(candidates) == 0 {
		return "No candidates yet. Send /run to start a screening run."
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("📉 <b>Top %d drawdowns</b> | %s\n\n", len(candidates), models.DateKey(candidates[0].RunDate)))
	for _, c := range candidates {
		b.WriteString(fmt.Sprintf("%d. <b>%s</b> %s\n", c.Rank, html.EscapeString(c.Symbol), pct(c.DrawdownPct)))
		b.WriteString(fmt.Sprintf("   %s from peak %s, %d days\n", money(c.CurrentPrice), money(c.PeakPrice), c.DaysSincePeak))
	}
	return b.String()
}

// FormatSnapshot renders one symbol's drawdown state
func FormatSnapshot(s *models.DrawdownSnapshot) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("<b>%s</b> | %s\n\n", html.EscapeString(s.Symbol), models.DateKey(s.RunDate)))
	b.WriteString(fmt.Sprintf("Drawdown: %s\n", pct(s.DrawdownPct)))
	if s.Rank > 0 {
		b.WriteString(fmt.Sprintf("Rank: #%d\n", s.Rank))
	}
	b.WriteString(fmt.Sprintf("Current: %s\n", money(s.CurrentPrice)))
	b.WriteString(fmt.Sprintf("Peak: %s on %s\n", money(s.PeakPrice), models.DateKey(s.PeakDate)))
	b.WriteString(fmt.Sprintf("Since peak: %d days (%d bars)\n", s.DaysSincePeak, s.BarsSincePeak))
	b.WriteString(fmt.Sprintf("History: %d bars, %s to %s\n", s.ObservationCount, models.DateKey(s.FirstDate), models.DateKey(s.LastDate)))
	return b.String()
}

// FormatLatestBar renders the last stored close of a symbol
func FormatLatestBar(b *models.Bar) string {
	return fmt.Sprintf("Last stored close: %s on %s\n", money(b.Close), models.DateKey(b.Date))
}

// FormatPortfolio renders positions sorted by unrealized return
func FormatPortfolio(positions []models.PortfolioPosition) string {
	if len(positions) == 0 {
		return "No open positions."
	}
	sorted := make([]models.PortfolioPosition, len(positions))
	copy(sorted, positions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].UnrealizedReturnPct.GreaterThan(sorted[j].UnrealizedReturnPct)
	})

	total := decimal.Zero
	pl := decimal.Zero
	var b strings.Builder
	b.WriteString(fmt.Sprintf("💼 <b>Portfolio</b> | %d positions\n\n", len(sorted)))
	for _, p := range sorted {
		total = total.Add(p.MarketValue)
		pl = pl.Add(p.UnrealizedPL)
		b.WriteString(fmt.Sprintf("<b>%s</b> %s sh @ %s → %s (%s)\n",
			html.EscapeString(p.Symbol), p.Quantity.String(), money(p.AvgEntryPrice), money(p.CurrentPrice), pct(p.UnrealizedReturnPct)))
	}
	b.WriteString(fmt.Sprintf("\nMarket value: %s\nUnrealized P/L: %s\n", money(total), money(pl)))
	return b.String()
}

// FormatProfitCheck renders the profit target evaluation
func FormatProfitCheck(check brokerage.ProfitCheck, n int, target decimal.Decimal) string {
	if !check.Evaluated {
		return fmt.Sprintf("Profit target needs at least %d positions, found %d.", n, check.Positions)
	}
	var b strings.Builder
	status := "⏳ not reached"
	if check.Reached {
		status = "🎯 reached"
	}
	b.WriteString(fmt.Sprintf("<b>Profit target %s</b>\n\n", status))
	b.WriteString(fmt.Sprintf("Average of best %d: %s (target %s)\n\n", n, pct(check.AveragePct), pct(target)))
	for _, p := range check.Best {
		b.WriteString(fmt.Sprintf("%s %s\n", html.EscapeString(p.Symbol), pct(p.UnrealizedReturnPct)))
	}
	return b.String()
}

// FormatAccount renders the live account summary
func FormatAccount(a *models.Account) string {
	var b strings.Builder
	b.WriteString("🏦 <b>Account</b>\n\n")
	b.WriteString(fmt.Sprintf("Status: %s\n", html.EscapeString(a.Status)))
	b.WriteString(fmt.Sprintf("Equity: %s\n", money(a.Equity)))
	b.WriteString(fmt.Sprintf("Cash: %s\n", money(a.Cash)))
	b.WriteString(fmt.Sprintf("Buying power: %s\n", money(a.BuyingPower)))
	return b.String()
}

// FormatRunReport renders the latest run for /health
func FormatRunReport(r *models.RunReport) string {
	icon := "✅"
	switch r.Status {
	case models.RunStatusPartial:
		icon = "⚠️"
	case models.RunStatusFailed:
		icon = "❌"
	case models.RunStatusRunning:
		icon = "🔄"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s <b>Last run %s</b> | %s\n\n", icon, r.Status, models.DateKey(r.RunDate)))
	b.WriteString(fmt.Sprintf("Started: %s UTC\n", r.StartedAt.UTC().Format("2006-01-02 15:04")))
	if d := r.Duration(); d > 0 {
		b.WriteString(fmt.Sprintf("Duration: %s\n", d.Round(time.Second)))
	}
	b.WriteString(fmt.Sprintf("Universe: %d, computed: %d, failed: %d\n", r.UniverseSize, r.Succeeded, r.Failed))
	if r.RateLimitPauses > 0 {
		b.WriteString(fmt.Sprintf("Rate limit pauses: %d\n", r.RateLimitPauses))
	}
	if r.BarsRejected > 0 {
		b.WriteString(fmt.Sprintf("Bars rejected: %d\n", r.BarsRejected))
	}
	if len(r.Skipped) > 0 {
		reasons := make([]string, 0, len(r.Skipped))
		for reason := range r.Skipped {
			reasons = append(reasons, string(reason))
		}
		sort.Strings(reasons)
		b.WriteString("Skipped:\n")
		for _, reason := range reasons {
			b.WriteString(fmt.Sprintf("  %s: %d\n", reason, r.Skipped[models.SkipReason(reason)]))
		}
	}
	if r.BestCandidate != "" && r.WorstDrawdownPct != nil {
		b.WriteString(fmt.Sprintf("Deepest: %s %s\n", html.EscapeString(r.BestCandidate), pct(*r.WorstDrawdownPct)))
	}
	if r.Error != "" {
		b.WriteString(fmt.Sprintf("Error: %s\n", html.EscapeString(r.Error)))
	}
	return b.String()
}
