package models

// SuspiciousAccount is one flagged account with its score and evidence flags.
type SuspiciousAccount struct {
	AccountID         string   `json:"account_id"`
	SuspicionScore    float64  `json:"suspicion_score"`
	Flags             []string `json:"flags"`
	TotalTransactions int      `json:"total_transactions"`
	TotalSent         float64  `json:"total_sent"`
	TotalReceived     float64  `json:"total_received"`
	ConnectedRings    []int    `json:"connected_rings"`
}

// FraudRing is a detected money cycle.
type FraudRing struct {
	RingID           int      `json:"ring_id"`
	Members          []string `json:"members"`
	TotalFlow        float64  `json:"total_flow"`
	TransactionCount int      `json:"transaction_count"`
	RiskScore        float64  `json:"risk_score"`
	CycleLength      int      `json:"cycle_length"`
}

// DetectionSummary aggregates one analysis run.
type DetectionSummary struct {
	TotalAccounts           int     `json:"total_accounts"`
	TotalTransactions       int     `json:"total_transactions"`
	SuspiciousAccountsCount int     `json:"suspicious_accounts_count"`
	FraudRingsDetected      int     `json:"fraud_rings_detected"`
	TotalFlaggedVolume      float64 `json:"total_flagged_volume"`
	AnalysisTimestamp       string  `json:"analysis_timestamp"`
}

// DetectionResult is the terminal payload of a completed job.
type DetectionResult struct {
	SuspiciousAccounts []SuspiciousAccount `json:"suspicious_accounts"`
	FraudRings         []FraudRing         `json:"fraud_rings"`
	Summary            DetectionSummary    `json:"summary"`
}
