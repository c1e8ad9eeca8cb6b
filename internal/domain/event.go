package domain

import "time"

// ManagerEventKind classifies indexer history events for a margin manager.
type ManagerEventKind string

const (
	EventManagerCreated ManagerEventKind = "manager_created"
	EventCollateral     ManagerEventKind = "collateral"
	EventLoanBorrowed   ManagerEventKind = "loan_borrowed"
	EventLoanRepaid     ManagerEventKind = "loan_repaid"
	EventLiquidation    ManagerEventKind = "liquidation"
)

// ManagerEvent is one history entry for a margin manager.
type ManagerEvent struct {
	Kind         ManagerEventKind
	Digest       string
	Sender       string
	ManagerID    string
	MarginPoolID string
	Direction    string // Deposit / Withdraw for collateral events
	AssetType    string
	Amount       float64
	RiskRatio    float64
	Checkpoint   int64
	Timestamp    time.Time
}

// EventQuery filters history lookups.
type EventQuery struct {
	MarginPoolID string
	Start        *time.Time
	End          *time.Time
	Limit        int
}
