package detect

// Evidence flags attached to scored accounts.
const (
	FlagCycleMember     = "cycle_member"
	FlagFanInSmurfing   = "fan_in_smurfing"
	FlagFanOutSmurfing  = "fan_out_smurfing"
	FlagShellAccount    = "shell_account"
	FlagHighVelocity    = "high_velocity"
	FlagStructuring     = "below_threshold_structuring"
	FlagMultiplePattern = "multiple_patterns"
)

// AccountScore is the scored evidence for one flagged account.
type AccountScore struct {
	SuspicionScore    float64
	Flags             []string
	TotalTransactions int
	TotalSent         float64
	TotalReceived     float64
	ConnectedRings    []int
}

// ScoreAccounts rates every account flagged by any detection pass:
// +50 cycle membership, +30 per smurfing direction, +20 shell account,
// +10 high velocity, +20 structuring, +10 when three or more patterns
// stack, capped at 100.
func ScoreAccounts(g *Graph, cycleMembers, smurfing, shells map[string]struct{}, rings []Ring, threshold float64, minFanDegree int) map[string]AccountScore {
	flagged := make(map[string]struct{})
	for a := range cycleMembers {
		flagged[a] = struct{}{}
	}
	for a := range smurfing {
		flagged[a] = struct{}{}
	}
	for a := range shells {
		flagged[a] = struct{}{}
	}

	scores := make(map[string]AccountScore, len(flagged))
	for account := range flagged {
		score := 0.0
		var flags []string

		if _, ok := cycleMembers[account]; ok {
			score += 50.0
			flags = append(flags, FlagCycleMember)
		}

		if _, ok := smurfing[account]; ok {
			if stats := g.Stats[account]; stats != nil {
				if stats.InDegree >= minFanDegree {
					score += 30.0
					flags = append(flags, FlagFanInSmurfing)
				}
				if stats.OutDegree >= minFanDegree {
					score += 30.0
					flags = append(flags, FlagFanOutSmurfing)
				}
			}
		}

		if _, ok := shells[account]; ok {
			score += 20.0
			flags = append(flags, FlagShellAccount)
		}

		if accountVelocity(account, g) {
			score += 10.0
			flags = append(flags, FlagHighVelocity)
		}

		if structuring(account, g, threshold) {
			score += 20.0
			flags = append(flags, FlagStructuring)
		}

		if len(flags) >= 3 {
			score += 10.0
			flags = append(flags, FlagMultiplePattern)
		}

		if score > 100.0 {
			score = 100.0
		}

		var connected []int
		for i, ring := range rings {
			for _, m := range ring.Members {
				if m == account {
					connected = append(connected, i)
					break
				}
			}
		}

		stats := g.Stats[account]
		as := AccountScore{
			SuspicionScore: round2(score),
			Flags:          flags,
			ConnectedRings: connected,
		}
		if stats != nil {
			as.TotalTransactions = stats.TransactionCount
			as.TotalSent = round2(stats.TotalSent)
			as.TotalReceived = round2(stats.TotalReceived)
		}
		scores[account] = as
	}
	return scores
}

// accountVelocity reports a sustained rate of more than ten transactions
// per day over the account's active span.
func accountVelocity(account string, g *Graph) bool {
	stats := g.Stats[account]
	if stats == nil || stats.FirstTx.IsZero() || stats.LastTx.IsZero() {
		return false
	}
	spanDays := stats.LastTx.Sub(stats.FirstTx).Seconds() / 86400
	if spanDays == 0 {
		return true // all activity within one day
	}
	return float64(stats.TransactionCount)/spanDays > 10
}

// structuring reports whether most of the account's transactions sit below
// the reporting threshold.
func structuring(account string, g *Graph, threshold float64) bool {
	all := len(g.Adj[account]) + len(g.Rev[account])
	if all < 5 {
		return false
	}
	below := 0
	for _, e := range g.Adj[account] {
		if e.Amount < threshold {
			below++
		}
	}
	for _, e := range g.Rev[account] {
		if e.Amount < threshold {
			below++
		}
	}
	return float64(below)/float64(all) > 0.7
}
