package domain

import "context"

// ExecutionLayer builds, signs and submits venue transactions. A nil error
// means the transaction was accepted; its digest can then be awaited.
type ExecutionLayer interface {
	Submit(ctx context.Context, req ActionRequest) (TxResult, error)
	Liquidate(ctx context.Context, req LiquidationRequest) (TxResult, error)
}

// TxWaiter blocks until a submitted transaction is final.
type TxWaiter interface {
	WaitForTransaction(ctx context.Context, digest string) error
}

// BalanceSource reads on-chain wallet balances in whole units.
type BalanceSource interface {
	WalletBalance(ctx context.Context, owner, coinType string, decimals int) (float64, error)
}
