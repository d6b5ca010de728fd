package brokerage

import (
	"sort"

	"github.com/shopspring/decimal"
	"github.com/trogers1052/drawdown-screener/internal/models"
)

const (
	// ProfitTargetPositions is how many of the best positions are averaged
	ProfitTargetPositions = 5
	// ProfitTargetPct is the average return that counts as target reached
	ProfitTargetPct = 100
)

// ProfitCheck is the outcome of the profit-target evaluation
type ProfitCheck struct {
	Evaluated  bool
	Reached    bool
	AveragePct decimal.Decimal
	Best       []models.PortfolioPosition
	Positions  int
}

// EvaluateProfitTarget averages the unrealized return of the best n
// positions. Fewer than n positions leaves the check unevaluated.
func EvaluateProfitTarget(positions []models.PortfolioPosition, n int, targetPct decimal.Decimal) ProfitCheck {
	check := ProfitCheck{Positions: len(positions)}
	if n <= 0 || len(positions) < n {
		return check
	}

	sorted := make([]models.PortfolioPosition, len(positions))
	copy(sorted, positions)
	sort.SliceStable(sorted, func(i, j int) bool {
		if c := sorted[i].UnrealizedReturnPct.Cmp(sorted[j].UnrealizedReturnPct); c != 0 {
			return c > 0
		}
		return sorted[i].Symbol < sorted[j].Symbol
	})

	best := sorted[:n]
	sum := decimal.Zero
	for _, p := range best {
		sum = sum.Add(p.UnrealizedReturnPct)
	}
	avg := sum.Div(decimal.NewFromInt(int64(n))).Round(2)

	check.Evaluated = true
	check.Best = best
	check.AveragePct = avg
	check.Reached = avg.GreaterThanOrEqual(targetPct)
	return check
}
