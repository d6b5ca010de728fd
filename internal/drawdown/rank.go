package drawdown

import (
	"sort"

	"github.com/trogers1052/drawdown-screener/internal/models"
)

// DefaultTopN is the size of the candidates view
const DefaultTopN = 10

// Rank orders snapshots from deepest drawdown to shallowest and assigns
// consecutive ranks starting at 1. Exact ties are broken by symbol so the
// result does not depend on input order. The input is not modified.
func Rank(snapshots []models.DrawdownSnapshot) []models.DrawdownSnapshot {
	ranked := make([]models.DrawdownSnapshot, len(snapshots))
	copy(ranked, snapshots)
	sort.SliceStable(ranked, func(i, j int) bool {
		if c := ranked[i].DrawdownPct.Cmp(ranked[j].DrawdownPct); c != 0 {
			return c < 0
		}
		return ranked[i].Symbol < ranked[j].Symbol
	})
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked
}

// Top projects the first n ranked snapshots onto candidates.
// A non-positive n uses DefaultTopN.
func Top(ranked []models.DrawdownSnapshot, n int) []models.RankedCandidate {
	if n <= 0 {
		n = DefaultTopN
	}
	if n > len(ranked) {
		n = len(ranked)
	}
	out := make([]models.RankedCandidate, n)
	for i := 0; i < n; i++ {
		out[i] = ranked[i].Candidate()
	}
	return out
}

// Snapshots collects the snapshots from a set of symbol results
func Snapshots(results []models.SymbolResult) []models.DrawdownSnapshot {
	var out []models.DrawdownSnapshot
	for _, r := range results {
		if r.Snapshot != nil {
			out = append(out, *r.Snapshot)
		}
	}
	return out
}
