package model

import "time"

// WithdrawalState tracks an ERC20 withdrawal through its lifecycle.
type WithdrawalState string

const (
	WithdrawalStatePending   WithdrawalState = "pending"
	WithdrawalStateWithdrawn WithdrawalState = "withdrawn"
)

// Withdrawal is a pending or completed ERC20 payout from a pool to a user.
type Withdrawal struct {
	ID           string          `json:"id"`
	Sub          string          `json:"sub"`
	PoolID       string          `json:"pool_id"`
	WalletID     string          `json:"wallet_id,omitempty"`
	Beneficiary  string          `json:"beneficiary"`
	Amount       string          `json:"amount"` // wei, decimal string
	State        WithdrawalState `json:"state"`
	Transactions []string        `json:"transactions"`
	CreatedAt    time.Time       `json:"created_at"`
}
