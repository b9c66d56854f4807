package model

import "time"

// Wallet is a user's Safe multisig wallet. The address is predicted
// deterministically before deployment, so a record may reference an address
// that has no code yet (lazy deploy).
type Wallet struct {
	ID          string    `json:"id"`
	Sub         string    `json:"sub"`
	ChainID     uint64    `json:"chain_id"`
	Address     string    `json:"address"`
	SafeVersion string    `json:"safe_version"`
	Owners      []string  `json:"owners"` // backend default account plus the user's EOA
	Threshold   int       `json:"threshold"`
	CreatedAt   time.Time `json:"created_at"`
}

// SafeDeployJob queues a wallet whose inline Safe deployment failed and must
// be retried by the background worker. Deploys are idempotent by address.
type SafeDeployJob struct {
	WalletID  string    `json:"wallet_id"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
}
