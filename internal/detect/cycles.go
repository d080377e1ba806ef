package detect

import (
	"sort"
	"strings"
)

// Cycle enumeration bounds. SCCs are processed smallest first since tight
// rings are the likelier fraud shape; everything is capped to keep the
// search bounded on dense graphs.
const (
	minCycleLength   = 3
	maxCycleLength   = 5
	maxCyclesPerSCC  = 100
	maxSCCs          = 20
	maxSCCStartNodes = 50
)

// Ring is one detected money cycle.
type Ring struct {
	Members          []string
	TotalFlow        float64
	TransactionCount int
	RiskScore        float64
	Length           int
}

// DetectCycles finds simple cycles of length 3–5 via Tarjan SCC
// decomposition followed by bounded DFS enumeration inside each component.
// Results are deduplicated by canonical rotation and sorted by risk score
// descending, capped at maxResults.
func DetectCycles(g *Graph, maxResults int) []Ring {
	sccs := tarjanSCC(g.Adj)

	var candidates [][]string // SCCs of size >= 2, as sorted member slices
	for _, scc := range sccs {
		if len(scc) >= 2 {
			candidates = append(candidates, scc)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return len(candidates[i]) < len(candidates[j]) })
	if len(candidates) > maxSCCs {
		candidates = candidates[:maxSCCs]
	}

	seen := make(map[string]struct{})
	var results []Ring
	for _, scc := range candidates {
		if len(results) >= maxResults {
			break
		}
		members := make(map[string]struct{}, len(scc))
		for _, n := range scc {
			members[n] = struct{}{}
		}
		for _, cycle := range cyclesInSCC(members, scc, g.Adj) {
			if len(results) >= maxResults {
				break
			}
			canon := canonicalize(cycle)
			if _, dup := seen[canon]; dup {
				continue
			}
			seen[canon] = struct{}{}

			totalFlow, txCount := cycleFlow(cycle, g)
			results = append(results, Ring{
				Members:          cycle,
				TotalFlow:        round2(totalFlow),
				TransactionCount: txCount,
				RiskScore:        round2(cycleRiskScore(cycle, g)),
				Length:           len(cycle),
			})
		}
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].RiskScore > results[j].RiskScore })
	return results
}

func tarjanSCC(adj map[string][]Transaction) [][]string {
	var (
		counter int
		stack   []string
		onStack = make(map[string]struct{})
		index   = make(map[string]int)
		lowlink = make(map[string]int)
		result  [][]string
	)

	var strongconnect func(v string)
	strongconnect = func(v string) {
		index[v] = counter
		lowlink[v] = counter
		counter++
		stack = append(stack, v)
		onStack[v] = struct{}{}

		for _, edge := range adj[v] {
			w := edge.Receiver
			if _, visited := index[w]; !visited {
				strongconnect(w)
				if lowlink[w] < lowlink[v] {
					lowlink[v] = lowlink[w]
				}
			} else if _, on := onStack[w]; on {
				if index[w] < lowlink[v] {
					lowlink[v] = index[w]
				}
			}
		}

		if lowlink[v] == index[v] {
			var component []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				delete(onStack, w)
				component = append(component, w)
				if w == v {
					break
				}
			}
			sort.Strings(component)
			result = append(result, component)
		}
	}

	roots := make([]string, 0, len(adj))
	for v := range adj {
		roots = append(roots, v)
	}
	sort.Strings(roots) // deterministic traversal order
	for _, v := range roots {
		if _, visited := index[v]; !visited {
			strongconnect(v)
		}
	}
	return result
}

// cyclesInSCC DFS-enumerates simple cycles within one component.
func cyclesInSCC(members map[string]struct{}, sorted []string, adj map[string][]Transaction) [][]string {
	var cycles [][]string
	starts := sorted
	if len(starts) > maxSCCStartNodes {
		starts = starts[:maxSCCStartNodes]
	}

	for _, start := range starts {
		if len(cycles) >= maxCyclesPerSCC {
			break
		}
		visited := make(map[string]struct{})
		var path []string

		var dfs func(node string, depth int)
		dfs = func(node string, depth int) {
			if len(cycles) >= maxCyclesPerSCC || depth > maxCycleLength {
				return
			}
			path = append(path, node)
			visited[node] = struct{}{}

			for _, edge := range adj[node] {
				nb := edge.Receiver
				if _, in := members[nb]; !in {
					continue
				}
				if nb == start && depth >= minCycleLength {
					cycles = append(cycles, append([]string(nil), path...))
					if len(cycles) >= maxCyclesPerSCC {
						return
					}
				} else if _, seen := visited[nb]; !seen {
					dfs(nb, depth+1)
				}
			}

			path = path[:len(path)-1]
			delete(visited, node)
		}

		dfs(start, 1)
	}
	return cycles
}

// canonicalize rotates the cycle so its smallest member is first, making
// rotations of the same ring compare equal.
func canonicalize(cycle []string) string {
	minIdx := 0
	for i, m := range cycle {
		if m < cycle[minIdx] {
			minIdx = i
		}
	}
	rotated := append(append([]string(nil), cycle[minIdx:]...), cycle[:minIdx]...)
	return strings.Join(rotated, "\x00")
}

func cycleFlow(cycle []string, g *Graph) (total float64, txCount int) {
	for i := range cycle {
		src := cycle[i]
		dst := cycle[(i+1)%len(cycle)]
		for _, e := range g.Edges[EdgeKey{From: src, To: dst}] {
			total += e.Amount
			txCount++
		}
	}
	return total, txCount
}

// cycleRiskScore rates one cycle on its flow characteristics: base 50 for
// being a cycle, +20 for tightly clustered amounts (structuring), +15 for
// heavy transaction volume, +10 for length >= 4, capped at 100.
func cycleRiskScore(cycle []string, g *Graph) float64 {
	var amounts []float64
	txCount := 0
	for i := range cycle {
		src := cycle[i]
		dst := cycle[(i+1)%len(cycle)]
		for _, e := range g.Edges[EdgeKey{From: src, To: dst}] {
			amounts = append(amounts, e.Amount)
			txCount++
		}
	}

	score := 50.0

	if len(amounts) > 0 {
		var sum float64
		for _, a := range amounts {
			sum += a
		}
		avg := sum / float64(len(amounts))
		if avg > 0 {
			var sq float64
			for _, a := range amounts {
				sq += (a - avg) * (a - avg)
			}
			varianceRatio := sq / (float64(len(amounts)) * avg * avg)
			if varianceRatio < 0.1 {
				score += 20.0
			}
		}
	}

	if txCount > len(cycle)*2 {
		score += 15.0
	}
	if len(cycle) >= 4 {
		score += 10.0
	}

	if score > 100.0 {
		score = 100.0
	}
	return score
}
