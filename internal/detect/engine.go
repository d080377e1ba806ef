package detect

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/ringsight/ringsight/pkg/models"
)

// Config holds the tunable detection thresholds.
type Config struct {
	// SmurfingThreshold is the reporting threshold structuring tries to
	// stay below.
	SmurfingThreshold float64
	// SmurfingWindow is the burst window for fan-in/fan-out detection.
	SmurfingWindow time.Duration
	// MinFanDegree is the minimum counterparty count for a fan pattern.
	MinFanDegree int
	// MinSuspicionScore drops accounts scoring below it from the output.
	MinSuspicionScore float64
	// MaxCycleResults caps the number of reported fraud rings.
	MaxCycleResults int
}

// DefaultConfig returns the balanced thresholds.
func DefaultConfig() Config {
	return Config{
		SmurfingThreshold: 10000.0,
		SmurfingWindow:    72 * time.Hour,
		MinFanDegree:      5,
		MinSuspicionScore: 40.0,
		MaxCycleResults:   50,
	}
}

// AggressiveConfig catches more fraud at the cost of more false positives.
func AggressiveConfig() Config {
	cfg := DefaultConfig()
	cfg.MinSuspicionScore = 25.0
	cfg.MinFanDegree = 4
	return cfg
}

// ConservativeConfig reports fewer false positives but may miss some fraud.
func ConservativeConfig() Config {
	cfg := DefaultConfig()
	cfg.MinSuspicionScore = 60.0
	cfg.MinFanDegree = 7
	return cfg
}

// Engine runs the full detection pipeline over an uploaded artifact. It is
// stateless and safe for concurrent use; each Detect call is independent.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Detect parses the CSV, builds the graph and runs the four detection
// passes. The context is checked between passes so a caller-imposed
// deadline aborts the run instead of burning the remaining passes.
func (e *Engine) Detect(ctx context.Context, input []byte) (*models.DetectionResult, error) {
	txs, err := ParseCSV(input)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g := BuildGraph(txs)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rings := DetectCycles(g, e.cfg.MaxCycleResults)
	cycleMembers := make(map[string]struct{})
	for _, ring := range rings {
		for _, m := range ring.Members {
			cycleMembers[m] = struct{}{}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	smurfing := DetectSmurfing(g, e.cfg.SmurfingThreshold, e.cfg.SmurfingWindow, e.cfg.MinFanDegree)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	shells := DetectShells(g)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	scored := ScoreAccounts(g, cycleMembers, smurfing, shells, rings, e.cfg.SmurfingThreshold, e.cfg.MinFanDegree)
	filtered := FilterFalsePositives(scored, g, cycleMembers, e.cfg.MinSuspicionScore)

	return buildResult(filtered, rings, g), nil
}

// buildResult assembles the output payload: accounts by score descending,
// rings numbered in detection order, plus summary totals.
func buildResult(scored map[string]AccountScore, rings []Ring, g *Graph) *models.DetectionResult {
	accounts := make([]models.SuspiciousAccount, 0, len(scored))
	var flaggedVolume float64
	for id, data := range scored {
		accounts = append(accounts, models.SuspiciousAccount{
			AccountID:         id,
			SuspicionScore:    data.SuspicionScore,
			Flags:             data.Flags,
			TotalTransactions: data.TotalTransactions,
			TotalSent:         data.TotalSent,
			TotalReceived:     data.TotalReceived,
			ConnectedRings:    data.ConnectedRings,
		})
		flaggedVolume += data.TotalSent + data.TotalReceived
	}
	sort.Slice(accounts, func(i, j int) bool {
		if accounts[i].SuspicionScore != accounts[j].SuspicionScore {
			return accounts[i].SuspicionScore > accounts[j].SuspicionScore
		}
		return accounts[i].AccountID < accounts[j].AccountID
	})

	ringsOut := make([]models.FraudRing, 0, len(rings))
	for i, ring := range rings {
		ringsOut = append(ringsOut, models.FraudRing{
			RingID:           i,
			Members:          ring.Members,
			TotalFlow:        ring.TotalFlow,
			TransactionCount: ring.TransactionCount,
			RiskScore:        ring.RiskScore,
			CycleLength:      ring.Length,
		})
	}

	return &models.DetectionResult{
		SuspiciousAccounts: accounts,
		FraudRings:         ringsOut,
		Summary: models.DetectionSummary{
			TotalAccounts:           len(g.Nodes),
			TotalTransactions:       g.TxCount,
			SuspiciousAccountsCount: len(accounts),
			FraudRingsDetected:      len(ringsOut),
			TotalFlaggedVolume:      round2(flaggedVolume),
			AnalysisTimestamp:       time.Now().UTC().Format(time.RFC3339),
		},
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
