package tx

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/Phlame68/monorepo/internal/model"
	"github.com/Phlame68/monorepo/internal/store"
)

// CallbackInvoker runs the domain mutation attached to a mined record.
// Implementations must be idempotent: the invoker may be called again for a
// record whose callback already ran if the process dies mid-dispatch.
type CallbackInvoker interface {
	Invoke(ctx context.Context, rec *model.TransactionRecord) error
}

// resolver settles sent records against their receipts. The state transition
// is a compare-and-swap, so when a blocking submitter and the poller observe
// the same receipt only one of them runs the callback.
type resolver struct {
	store   store.Store
	invoker CallbackInvoker
	log     *zap.Logger
}

func newResolver(st store.Store, invoker CallbackInvoker, log *zap.Logger) *resolver {
	return &resolver{store: st, invoker: invoker, log: log}
}

func (r *resolver) applyReceipt(ctx context.Context, backend Backend, rec *model.TransactionRecord, receipt *types.Receipt) (*model.TransactionRecord, error) {
	if receipt.Status != types.ReceiptStatusSuccessful {
		return r.markReverted(ctx, backend, rec, receipt)
	}

	won, err := r.store.TransitionTransaction(ctx, rec.ID, model.TransactionStateSent, model.TransactionStateMined, receipt, "")
	if err != nil {
		return nil, fmt.Errorf("transition to mined: %w", err)
	}
	rec.State = model.TransactionStateMined
	rec.Receipt = receipt
	if !won {
		// someone else settled it first; they own the callback
		return r.store.GetTransaction(ctx, rec.ID)
	}

	r.log.Info("transaction mined",
		zap.String("id", rec.ID),
		zap.Uint64("chain", rec.ChainID),
		zap.String("tx_hash", rec.TxHash),
		zap.Uint64("block", receipt.BlockNumber.Uint64()),
	)

	if rec.Callback != nil && r.invoker != nil {
		if err := r.invoker.Invoke(ctx, rec); err != nil {
			r.log.Error("callback failed",
				zap.String("id", rec.ID),
				zap.String("callback", rec.Callback.Type),
				zap.Error(err),
			)
			return rec, fmt.Errorf("callback %s: %w", rec.Callback.Type, err)
		}
	}
	return rec, nil
}

func (r *resolver) markReverted(ctx context.Context, backend Backend, rec *model.TransactionRecord, receipt *types.Receipt) (*model.TransactionRecord, error) {
	var toAddr *common.Address
	if rec.To != "" {
		a := common.HexToAddress(rec.To)
		toAddr = &a
	}
	reason := backend.RevertReason(ctx, toAddr, common.FromHex(rec.Data), receipt.BlockNumber)
	if reason == "" {
		reason = "execution reverted"
	}

	won, err := r.store.TransitionTransaction(ctx, rec.ID, model.TransactionStateSent, model.TransactionStateFailed, receipt, reason)
	if err != nil {
		return nil, fmt.Errorf("transition to failed: %w", err)
	}
	if won {
		r.log.Warn("transaction reverted",
			zap.String("id", rec.ID),
			zap.Uint64("chain", rec.ChainID),
			zap.String("tx_hash", rec.TxHash),
			zap.String("reason", reason),
		)
	}
	rec.State = model.TransactionStateFailed
	rec.Receipt = receipt
	rec.FailReason = reason
	return rec, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, ethereum.NotFound)
}
