package domain

// ActionKind names a state-changing operation on a margin account.
type ActionKind string

const (
	ActionCreateManager   ActionKind = "create_manager"
	ActionDeposit         ActionKind = "deposit"
	ActionWithdraw        ActionKind = "withdraw"
	ActionBorrow          ActionKind = "borrow"
	ActionRepay           ActionKind = "repay"
	ActionLimitOrder      ActionKind = "limit_order"
	ActionMarketOrder     ActionKind = "market_order"
	ActionCancelOrder     ActionKind = "cancel_order"
	ActionCancelAllOrders ActionKind = "cancel_all_orders"
	ActionWithdrawSettled ActionKind = "withdraw_settled"
	ActionLiquidate       ActionKind = "liquidate"
)

// TouchesCollateral reports whether a successful action changes balances the
// position reader reports, so the snapshot must be refreshed.
func (k ActionKind) TouchesCollateral() bool {
	switch k {
	case ActionDeposit, ActionWithdraw, ActionBorrow, ActionRepay, ActionWithdrawSettled, ActionLiquidate:
		return true
	}
	return false
}

// TouchesWallet reports whether a successful action moves funds between the
// wallet and the margin account.
func (k ActionKind) TouchesWallet() bool {
	switch k {
	case ActionDeposit, ActionWithdraw, ActionLiquidate:
		return true
	}
	return false
}

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderRequest describes a margin order. Price is zero for market orders.
type OrderRequest struct {
	Side           OrderSide
	Quantity       float64
	Price          float64
	ReferencePrice float64 // used to value market buys; zero skips the notional check
	PayWithDeep    bool
	ClientOrderID  string
}

// ActionRequest is a user-confirmed action addressed to one margin account.
type ActionRequest struct {
	Kind      ActionKind
	Network   Network
	Account   string
	PoolKey   string
	ManagerID string
	Asset     AssetSide
	Amount    float64
	Order     *OrderRequest
	OrderID   string
}

// LiquidationRequest is a prepared liquidation ready for the execution layer.
type LiquidationRequest struct {
	ManagerID   string
	PoolKey     string
	DebtIsBase  bool
	RepayAmount float64
	RepayRaw    uint64
	CoinType    string
	CoinScalar  uint64
}

// TxResult is the execution layer's answer to a submitted transaction.
type TxResult struct {
	Digest    string
	ManagerID string // set for create_manager
}
