// Package store defines the persistence contracts for the relayer. The
// transaction record collection is the single shared mutable resource across
// poller instances, so every transition out of a non-terminal state is a
// conditional update.
package store

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Phlame68/monorepo/internal/model"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// TransactionStore persists transaction records. Records are never deleted.
type TransactionStore interface {
	CreateTransaction(ctx context.Context, rec *model.TransactionRecord) error
	GetTransaction(ctx context.Context, id string) (*model.TransactionRecord, error)

	// SetTransactionSent moves a queued record to sent and stores the hash
	// of the signed transaction. Called before the broadcast response is
	// awaited, so a crash mid-broadcast still leaves a reconcilable record.
	SetTransactionSent(ctx context.Context, id, txHash string) error

	// TransitionTransaction atomically moves a record from one state to
	// another and reports whether this caller won the transition. It is the
	// guard that makes callback invocation at-most-once under concurrent
	// pollers.
	TransitionTransaction(ctx context.Context, id string, from, to model.TransactionState, receipt *types.Receipt, failReason string) (bool, error)

	ListTransactionsByState(ctx context.Context, chainID uint64, state model.TransactionState, limit int) ([]*model.TransactionRecord, error)
	ChainIDsWithTransactionState(ctx context.Context, state model.TransactionState) ([]uint64, error)
}

// WalletStore persists Safe wallets.
type WalletStore interface {
	CreateWallet(ctx context.Context, w *model.Wallet) error
	GetWallet(ctx context.Context, id string) (*model.Wallet, error)
	GetWalletByAddress(ctx context.Context, address string) (*model.Wallet, error)
	ListWalletsBySub(ctx context.Context, sub string) ([]*model.Wallet, error)

	// MigrateWalletRefs re-keys child records from the given wallet ids to
	// the target wallet id and returns the number of updated records.
	// Offline maintenance operation.
	MigrateWalletRefs(ctx context.Context, fromWalletIDs []string, toWalletID string) (int64, error)
}

// PoolStore persists campaign pools.
type PoolStore interface {
	CreatePool(ctx context.Context, p *model.Pool) error
	GetPool(ctx context.Context, id string) (*model.Pool, error)
	SetPoolAddress(ctx context.Context, id, address string) error
	AddPoolTransaction(ctx context.Context, id, txID string) error
}

// TokenContractStore persists reward token contracts.
type TokenContractStore interface {
	CreateTokenContract(ctx context.Context, c *model.TokenContract) error
	GetTokenContract(ctx context.Context, id string) (*model.TokenContract, error)
	SetTokenContractAddress(ctx context.Context, id, address string) error
	AddTokenContractTransaction(ctx context.Context, id, txID string) error
}

// TokenStore persists minted NFTs.
type TokenStore interface {
	CreateToken(ctx context.Context, t *model.Token) error
	GetToken(ctx context.Context, id string) (*model.Token, error)
	MarkTokenMinted(ctx context.Context, id string, tokenID uint64, recipient string) error
	AddTokenTransaction(ctx context.Context, id, txID string) error
}

// WithdrawalStore persists ERC20 withdrawals.
type WithdrawalStore interface {
	CreateWithdrawal(ctx context.Context, w *model.Withdrawal) error
	GetWithdrawal(ctx context.Context, id string) (*model.Withdrawal, error)
	MarkWithdrawalComplete(ctx context.Context, id string) error
	AddWithdrawalTransaction(ctx context.Context, id, txID string) error
}

// SafeProposalStore persists multisig proposals and their confirmation sets.
type SafeProposalStore interface {
	CreateSafeProposal(ctx context.Context, p *model.SafeProposal) error
	GetSafeProposal(ctx context.Context, safeTxHash string) (*model.SafeProposal, error)

	// AddSafeConfirmation adds an owner's signature as a set union: a
	// duplicate confirmation by the same owner is a no-op.
	AddSafeConfirmation(ctx context.Context, safeTxHash, owner, signature string) error

	MarkSafeProposalExecuted(ctx context.Context, safeTxHash, txID string) error
	CountSafeProposals(ctx context.Context, walletAddress string) (uint64, error)
}

// DeployJobStore persists the queue of deferred Safe deployments.
type DeployJobStore interface {
	EnqueueDeployJob(ctx context.Context, walletID string) error
	ListDeployJobs(ctx context.Context, limit int) ([]*model.SafeDeployJob, error)
	RemoveDeployJob(ctx context.Context, walletID string) error
	BumpDeployJob(ctx context.Context, walletID string) error
}

// Store aggregates all persistence contracts.
type Store interface {
	TransactionStore
	WalletStore
	PoolStore
	TokenContractStore
	TokenStore
	WithdrawalStore
	SafeProposalStore
	DeployJobStore
}
