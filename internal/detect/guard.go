package detect

// FilterFalsePositives suppresses flagged accounts whose activity matches a
// legitimate business pattern, and everything under the minimum score:
// merchants (many diverse senders), payroll (regular weekly or biweekly
// payouts) and exchange hubs (high balanced flow in both directions).
// Cycle members are never suppressed by the merchant or hub rules.
func FilterFalsePositives(scored map[string]AccountScore, g *Graph, cycleMembers map[string]struct{}, minScore float64) map[string]AccountScore {
	filtered := make(map[string]AccountScore, len(scored))
	for account, data := range scored {
		if data.SuspicionScore < minScore {
			continue
		}
		stats := g.Stats[account]
		if stats == nil {
			continue
		}
		if isMerchant(account, stats, cycleMembers) {
			continue
		}
		if isPayroll(account, g) {
			continue
		}
		if isExchangeHub(account, stats, cycleMembers) {
			continue
		}
		filtered[account] = data
	}
	return filtered
}

// isMerchant: high transaction count, broad unique-sender diversity, not in
// any cycle.
func isMerchant(account string, stats *NodeStats, cycleMembers map[string]struct{}) bool {
	if _, ok := cycleMembers[account]; ok {
		return false
	}
	if stats.TransactionCount < 50 || stats.InDegree < 20 {
		return false
	}
	return float64(len(stats.UniqueSenders))/float64(stats.InDegree) >= 0.7
}

// isPayroll: at least ten outgoing payments whose intervals mostly land on
// a weekly or biweekly cadence.
func isPayroll(account string, g *Graph) bool {
	outgoing := g.Adj[account]
	if len(outgoing) < 10 {
		return false
	}
	sorted := append([]Transaction(nil), outgoing...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].Timestamp.Before(sorted[j-1].Timestamp); j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}

	regular := 0
	intervals := 0
	for i := 1; i < len(sorted); i++ {
		days := int(sorted[i].Timestamp.Sub(sorted[i-1].Timestamp).Hours() / 24)
		intervals++
		if (days >= 6 && days <= 8) || (days >= 13 && days <= 15) {
			regular++
		}
	}
	if intervals == 0 {
		return false
	}
	return float64(regular)/float64(intervals) > 0.6
}

// isExchangeHub: heavy balanced flow in both directions, not in any cycle.
func isExchangeHub(account string, stats *NodeStats, cycleMembers map[string]struct{}) bool {
	if _, ok := cycleMembers[account]; ok {
		return false
	}
	if stats.InDegree < 15 || stats.OutDegree < 15 {
		return false
	}
	if stats.TotalReceived <= 0 {
		return false
	}
	ratio := stats.TotalSent / stats.TotalReceived
	return ratio >= 0.7 && ratio <= 1.3
}
