package model

import "time"

// SafeOperation is the Safe transaction operation kind.
type SafeOperation uint8

const (
	SafeOperationCall         SafeOperation = 0
	SafeOperationDelegateCall SafeOperation = 1
)

// SafeConfirmation is one owner's signature over a proposal hash. An owner
// can confirm at most once; the collection behaves as a set keyed by owner.
type SafeConfirmation struct {
	Owner     string `json:"owner"`
	Signature string `json:"signature"`
}

// SafeProposal is a multisig transaction waiting for owner confirmations.
// Execution is permitted only once the confirmation count reaches the
// wallet's threshold.
type SafeProposal struct {
	SafeTxHash    string             `json:"safe_tx_hash"`
	WalletAddress string             `json:"wallet_address"`
	ChainID       uint64             `json:"chain_id"`
	To            string             `json:"to"`
	Value         string             `json:"value"`
	Data          string             `json:"data"`
	Operation     SafeOperation      `json:"operation"`
	SafeTxGas     uint64             `json:"safe_tx_gas"`
	BaseGas       uint64             `json:"base_gas"`
	GasPrice      string             `json:"gas_price"`
	GasToken      string             `json:"gas_token"`
	RefundReceiver string            `json:"refund_receiver"`
	Nonce         uint64             `json:"nonce"`
	Confirmations []SafeConfirmation `json:"confirmations"`
	Executed      bool               `json:"executed"`
	ExecutionTxID string             `json:"execution_tx_id,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
}

// ConfirmedBy reports whether the owner already confirmed the proposal.
func (p *SafeProposal) ConfirmedBy(owner string) bool {
	for _, c := range p.Confirmations {
		if c.Owner == owner {
			return true
		}
	}
	return false
}
