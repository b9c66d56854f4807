// Package callback runs the domain mutation attached to a mined transaction
// record. Every handler is idempotent: replaying a callback against a record
// whose effect was already applied writes the same values again.
package callback

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/Phlame68/monorepo/internal/contracts"
	"github.com/Phlame68/monorepo/internal/events"
	"github.com/Phlame68/monorepo/internal/model"
	"github.com/Phlame68/monorepo/internal/store"
)

// Callback type tags. The dispatcher switch over these is exhaustive; an
// unlisted tag is rejected as UnknownCallbackError.
const (
	TypePoolDeploy       = "poolDeployCallback"
	TypeERC20Deploy      = "erc20DeployCallback"
	TypeERC721Deploy     = "erc721DeployCallback"
	TypeERC1155Deploy    = "erc1155DeployCallback"
	TypeERC721TokenMint  = "erc721TokenMintCallback"
	TypeERC1155TokenMint = "erc1155TokenMintCallback"
	TypeWithdrawal       = "withdrawalCallback"
)

// PoolDeployArgs references the pool waiting for its contract address.
type PoolDeployArgs struct {
	PoolID string `json:"pool_id"`
}

// TokenDeployArgs references the token contract record being deployed.
type TokenDeployArgs struct {
	ContractID string `json:"contract_id"`
}

// TokenMintArgs references the token record being minted.
type TokenMintArgs struct {
	TokenID string `json:"token_id"`
}

// WithdrawalArgs references the withdrawal being paid out.
type WithdrawalArgs struct {
	WithdrawalID string `json:"withdrawal_id"`
}

// UnknownCallbackError signals a callback tag no handler exists for, which
// means the record was written by a newer or incompatible version.
type UnknownCallbackError struct {
	Type string
}

func (e *UnknownCallbackError) Error() string {
	return fmt.Sprintf("unknown callback type %q", e.Type)
}

// Dispatcher maps callback descriptors to their handlers.
type Dispatcher struct {
	store store.Store
	log   *zap.Logger
}

func NewDispatcher(st store.Store, log *zap.Logger) *Dispatcher {
	return &Dispatcher{store: st, log: log}
}

// Invoke runs the callback attached to a mined record. Records without a
// callback are a no-op.
func (d *Dispatcher) Invoke(ctx context.Context, rec *model.TransactionRecord) error {
	if rec.Callback == nil {
		return nil
	}
	if rec.Receipt == nil {
		return fmt.Errorf("callback %s: record %s has no receipt", rec.Callback.Type, rec.ID)
	}

	switch rec.Callback.Type {
	case TypePoolDeploy:
		return d.poolDeploy(ctx, rec)
	case TypeERC20Deploy, TypeERC721Deploy, TypeERC1155Deploy:
		return d.tokenContractDeploy(ctx, rec)
	case TypeERC721TokenMint:
		return d.tokenMint(ctx, rec, "ERC721Minted")
	case TypeERC1155TokenMint:
		return d.tokenMint(ctx, rec, "ERC1155Minted")
	case TypeWithdrawal:
		return d.withdrawal(ctx, rec)
	default:
		return &UnknownCallbackError{Type: rec.Callback.Type}
	}
}

func (d *Dispatcher) poolDeploy(ctx context.Context, rec *model.TransactionRecord) error {
	var args PoolDeployArgs
	if err := json.Unmarshal(rec.Callback.Args, &args); err != nil {
		return fmt.Errorf("parse args: %w", err)
	}

	factoryABI, err := contracts.PoolFactoryABI()
	if err != nil {
		return err
	}
	ev, err := events.AssertEvent("DiamondDeployed", events.ParseLogs(factoryABI, rec.Receipt.Logs))
	if err != nil {
		return err
	}
	diamond, ok := ev.Args["diamond"].(common.Address)
	if !ok {
		return fmt.Errorf("DiamondDeployed event has no diamond address")
	}

	if err := d.store.SetPoolAddress(ctx, args.PoolID, diamond.Hex()); err != nil {
		return fmt.Errorf("set pool address: %w", err)
	}
	d.log.Info("pool deployed",
		zap.String("pool", args.PoolID),
		zap.String("address", diamond.Hex()),
	)
	return nil
}

func (d *Dispatcher) tokenContractDeploy(ctx context.Context, rec *model.TransactionRecord) error {
	var args TokenDeployArgs
	if err := json.Unmarshal(rec.Callback.Args, &args); err != nil {
		return fmt.Errorf("parse args: %w", err)
	}

	address := rec.Receipt.ContractAddress
	if address == (common.Address{}) {
		return fmt.Errorf("deploy receipt for record %s carries no contract address", rec.ID)
	}

	tokenABI, err := contracts.TokenABI()
	if err != nil {
		return err
	}
	evs := events.ParseLogs(tokenABI, rec.Receipt.Logs)
	if events.FindEvent("OwnershipTransferred", evs) == nil && events.FindEvent("Transfer", evs) == nil {
		return &events.ExpectedEventNotFoundError{Event: "Transfer or OwnershipTransferred"}
	}

	if err := d.store.SetTokenContractAddress(ctx, args.ContractID, address.Hex()); err != nil {
		return fmt.Errorf("set contract address: %w", err)
	}
	d.log.Info("token contract deployed",
		zap.String("contract", args.ContractID),
		zap.String("address", address.Hex()),
	)
	return nil
}

func (d *Dispatcher) tokenMint(ctx context.Context, rec *model.TransactionRecord, eventName string) error {
	var args TokenMintArgs
	if err := json.Unmarshal(rec.Callback.Args, &args); err != nil {
		return fmt.Errorf("parse args: %w", err)
	}

	diamondABI, err := contracts.PoolDiamondABI()
	if err != nil {
		return err
	}
	ev, err := events.AssertEvent(eventName, events.ParseLogs(diamondABI, rec.Receipt.Logs))
	if err != nil {
		return err
	}
	tokenID, ok := ev.Args["tokenId"].(*big.Int)
	if !ok {
		return fmt.Errorf("%s event has no tokenId", eventName)
	}
	if !tokenID.IsUint64() {
		return fmt.Errorf("%s event tokenId %s overflows uint64", eventName, tokenID)
	}
	recipient, ok := ev.Args["recipient"].(common.Address)
	if !ok {
		return fmt.Errorf("%s event has no recipient", eventName)
	}

	if err := d.store.MarkTokenMinted(ctx, args.TokenID, tokenID.Uint64(), recipient.Hex()); err != nil {
		return fmt.Errorf("mark token minted: %w", err)
	}
	d.log.Info("token minted",
		zap.String("token", args.TokenID),
		zap.Uint64("token_id", tokenID.Uint64()),
		zap.String("recipient", recipient.Hex()),
	)
	return nil
}

func (d *Dispatcher) withdrawal(ctx context.Context, rec *model.TransactionRecord) error {
	var args WithdrawalArgs
	if err := json.Unmarshal(rec.Callback.Args, &args); err != nil {
		return fmt.Errorf("parse args: %w", err)
	}

	diamondABI, err := contracts.PoolDiamondABI()
	if err != nil {
		return err
	}
	if _, err := events.AssertEvent("Withdrawn", events.ParseLogs(diamondABI, rec.Receipt.Logs)); err != nil {
		return err
	}

	if err := d.store.MarkWithdrawalComplete(ctx, args.WithdrawalID); err != nil {
		return fmt.Errorf("mark withdrawal complete: %w", err)
	}
	d.log.Info("withdrawal complete", zap.String("withdrawal", args.WithdrawalID))
	return nil
}

// Descriptor builds a persisted callback descriptor from a tag and its args.
func Descriptor(callbackType string, args any) (*model.CallbackDescriptor, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal callback args: %w", err)
	}
	return &model.CallbackDescriptor{Type: callbackType, Args: raw}, nil
}
