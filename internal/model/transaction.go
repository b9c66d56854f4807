package model

import (
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
)

// TransactionState tracks a transaction record through its lifecycle.
type TransactionState string

const (
	// TransactionStateQueued means the record exists but was not broadcast yet.
	TransactionStateQueued TransactionState = "queued"
	// TransactionStateSent means the transaction was broadcast and awaits a receipt.
	TransactionStateSent TransactionState = "sent"
	// TransactionStateMined means a successful receipt was observed. Terminal.
	TransactionStateMined TransactionState = "mined"
	// TransactionStateFailed means broadcast failed or execution reverted. Terminal.
	TransactionStateFailed TransactionState = "failed"
)

// Terminal reports whether no further transition is allowed out of the state.
func (s TransactionState) Terminal() bool {
	return s == TransactionStateMined || s == TransactionStateFailed
}

// CallbackDescriptor identifies the domain mutation to run once the
// transaction mines. It is persisted as JSON on the record so in-flight
// transactions survive a process restart.
type CallbackDescriptor struct {
	Type string          `json:"type"`
	Args json.RawMessage `json:"args"`
}

// TransactionRecord is the persisted intent and outcome of a single chain
// transaction. Records are never deleted; they form the audit trail.
type TransactionRecord struct {
	ID         string              `json:"id"`
	ChainID    uint64              `json:"chain_id"`
	To         string              `json:"to"` // empty for contract deploys
	Data       string              `json:"data"`
	State      TransactionState    `json:"state"`
	TxHash     string              `json:"tx_hash"`
	Receipt    *types.Receipt      `json:"receipt,omitempty"`
	Callback   *CallbackDescriptor `json:"callback,omitempty"`
	FailReason string              `json:"fail_reason,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
}
