package detect

import (
	"sort"
	"time"
)

// DetectSmurfing flags accounts showing structuring patterns: many
// counterparties in a short window with amounts kept below the reporting
// threshold. Both directions count — one account fanning out to many, and
// many accounts fanning in to one.
func DetectSmurfing(g *Graph, threshold float64, window time.Duration, minFanDegree int) map[string]struct{} {
	flagged := make(map[string]struct{})

	for node, stats := range g.Stats {
		if stats.OutDegree >= minFanDegree && smurfingPattern(g.Adj[node], threshold, window, minFanDegree) {
			flagged[node] = struct{}{}
		}
	}
	for node, stats := range g.Stats {
		if stats.InDegree >= minFanDegree && smurfingPattern(g.Rev[node], threshold, window, minFanDegree) {
			flagged[node] = struct{}{}
		}
	}
	return flagged
}

// smurfingPattern slides a window over the transactions and looks for a
// burst where at least 80% of the amounts stay below the threshold.
func smurfingPattern(txs []Transaction, threshold float64, window time.Duration, minBurst int) bool {
	if len(txs) == 0 {
		return false
	}
	sorted := append([]Transaction(nil), txs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	for i := range sorted {
		windowEnd := sorted[i].Timestamp.Add(window)
		inWindow := 0
		belowThreshold := 0
		for _, tx := range sorted[i:] {
			if tx.Timestamp.After(windowEnd) {
				break
			}
			inWindow++
			if tx.Amount < threshold {
				belowThreshold++
			}
		}
		if inWindow >= minBurst && float64(belowThreshold) >= float64(inWindow)*0.8 {
			return true
		}
	}
	return false
}
