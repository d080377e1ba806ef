package detect

import "time"

// NodeStats aggregates per-account activity.
type NodeStats struct {
	TotalSent        float64
	TotalReceived    float64
	OutDegree        int
	InDegree         int
	UniqueReceivers  map[string]struct{}
	UniqueSenders    map[string]struct{}
	TransactionCount int
	FirstTx          time.Time
	LastTx           time.Time
}

// EdgeKey identifies the directed account pair a transaction moves between.
type EdgeKey struct {
	From string
	To   string
}

// Graph is the transaction graph with the indices the detection passes
// need: forward and reverse adjacency, a per-pair edge index and per-node
// stats.
type Graph struct {
	Adj     map[string][]Transaction
	Rev     map[string][]Transaction
	Edges   map[EdgeKey][]Transaction
	Nodes   map[string]struct{}
	Stats   map[string]*NodeStats
	TxCount int
}

// BuildGraph assembles the full graph from parsed transactions.
func BuildGraph(txs []Transaction) *Graph {
	g := &Graph{
		Adj:     make(map[string][]Transaction),
		Rev:     make(map[string][]Transaction),
		Edges:   make(map[EdgeKey][]Transaction),
		Nodes:   make(map[string]struct{}),
		Stats:   make(map[string]*NodeStats),
		TxCount: len(txs),
	}
	for _, tx := range txs {
		g.Adj[tx.Sender] = append(g.Adj[tx.Sender], tx)
		g.Rev[tx.Receiver] = append(g.Rev[tx.Receiver], tx)
		key := EdgeKey{From: tx.Sender, To: tx.Receiver}
		g.Edges[key] = append(g.Edges[key], tx)
		g.Nodes[tx.Sender] = struct{}{}
		g.Nodes[tx.Receiver] = struct{}{}
		g.updateStats(tx)
	}
	return g
}

func (g *Graph) updateStats(tx Transaction) {
	sender := g.stats(tx.Sender)
	sender.TotalSent += tx.Amount
	sender.OutDegree++
	sender.UniqueReceivers[tx.Receiver] = struct{}{}
	sender.TransactionCount++
	sender.observe(tx.Timestamp)

	receiver := g.stats(tx.Receiver)
	receiver.TotalReceived += tx.Amount
	receiver.InDegree++
	receiver.UniqueSenders[tx.Sender] = struct{}{}
	receiver.TransactionCount++
	receiver.observe(tx.Timestamp)
}

func (g *Graph) stats(node string) *NodeStats {
	s, ok := g.Stats[node]
	if !ok {
		s = &NodeStats{
			UniqueReceivers: make(map[string]struct{}),
			UniqueSenders:   make(map[string]struct{}),
		}
		g.Stats[node] = s
	}
	return s
}

func (s *NodeStats) observe(ts time.Time) {
	if s.FirstTx.IsZero() || ts.Before(s.FirstTx) {
		s.FirstTx = ts
	}
	if s.LastTx.IsZero() || ts.After(s.LastTx) {
		s.LastTx = ts
	}
}
