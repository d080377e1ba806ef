package detect

const (
	shellMinChainLength = 3
	shellChainDepthCap  = 10
)

// DetectShells flags intermediary accounts: money in roughly equals money
// out, the account sits inside a transaction chain of three or more hops,
// and funds pass through quickly.
func DetectShells(g *Graph) map[string]struct{} {
	flagged := make(map[string]struct{})

	for node, stats := range g.Stats {
		if stats.InDegree == 0 || stats.OutDegree == 0 {
			continue
		}
		if stats.TotalReceived <= 0 {
			continue
		}
		passThrough := stats.TotalSent / stats.TotalReceived
		if passThrough < 0.8 || passThrough > 1.2 {
			continue
		}
		if !inChain(node, g) {
			continue
		}
		if highVelocity(node, g) {
			flagged[node] = struct{}{}
		}
	}
	return flagged
}

// inChain reports whether some upstream sender reaches node through a path
// of at least shellMinChainLength hops.
func inChain(node string, g *Graph) bool {
	for _, edge := range g.Rev[node] {
		if chainLength(edge.Sender, node, g, make(map[string]struct{}), 0) >= shellMinChainLength {
			return true
		}
	}
	return false
}

func chainLength(current, target string, g *Graph, visited map[string]struct{}, depth int) int {
	if depth > shellChainDepthCap {
		return 0
	}
	if current == target {
		return depth
	}
	if _, seen := visited[current]; seen {
		return 0
	}
	visited[current] = struct{}{}
	defer delete(visited, current)

	longest := 0
	for _, edge := range g.Adj[current] {
		if l := chainLength(edge.Receiver, target, g, visited, depth+1); l > longest {
			longest = l
		}
	}
	return longest
}

// highVelocity reports whether money leaves the account within a day of
// arriving, on average.
func highVelocity(node string, g *Graph) bool {
	incoming := g.Rev[node]
	outgoing := g.Adj[node]
	if len(incoming) == 0 || len(outgoing) == 0 {
		return false
	}

	var inSum, outSum float64
	for _, e := range incoming {
		inSum += float64(e.Timestamp.Unix())
	}
	for _, e := range outgoing {
		outSum += float64(e.Timestamp.Unix())
	}
	avgIn := inSum / float64(len(incoming))
	avgOut := outSum / float64(len(outgoing))

	diffHours := (avgOut - avgIn) / 3600
	if diffHours < 0 {
		diffHours = -diffHours
	}
	return diffHours < 24
}
