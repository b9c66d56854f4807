package tx

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/Phlame68/monorepo/internal/model"
	"github.com/Phlame68/monorepo/internal/store"
)

// PollerOptions tunes the background receipt poller.
type PollerOptions struct {
	Interval      time.Duration
	BatchSize     int
	MaxPendingAge time.Duration
}

func (o PollerOptions) withDefaults() PollerOptions {
	if o.Interval <= 0 {
		o.Interval = 10 * time.Second
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 10
	}
	if o.MaxPendingAge <= 0 {
		o.MaxPendingAge = 15 * time.Minute
	}
	return o
}

// Poller periodically settles sent records whose receipts have appeared.
// Ticks never overlap: a tick that is still running when the next fires
// simply keeps the next one from starting.
type Poller struct {
	store    store.Store
	backends BackendRegistry
	resolver *resolver
	opts     PollerOptions
	log      *zap.Logger

	busy atomic.Bool
}

func NewPoller(st store.Store, backends BackendRegistry, invoker CallbackInvoker, opts PollerOptions, log *zap.Logger) *Poller {
	return &Poller{
		store:    st,
		backends: backends,
		resolver: newResolver(st, invoker, log),
		opts:     opts.withDefaults(),
		log:      log,
	}
}

// Run ticks until the context is canceled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick settles one batch of sent records per chain. Safe to call directly
// from tests; concurrent calls after the first are no-ops.
func (p *Poller) Tick(ctx context.Context) {
	if !p.busy.CompareAndSwap(false, true) {
		return
	}
	defer p.busy.Store(false)

	chainIDs, err := p.store.ChainIDsWithTransactionState(ctx, model.TransactionStateSent)
	if err != nil {
		p.log.Error("list pending chains", zap.Error(err))
		return
	}
	for _, chainID := range chainIDs {
		p.settleChain(ctx, chainID)
	}
}

func (p *Poller) settleChain(ctx context.Context, chainID uint64) {
	backend, err := p.backends.Backend(ctx, chainID)
	if err != nil {
		p.log.Error("chain backend unavailable", zap.Uint64("chain", chainID), zap.Error(err))
		return
	}

	recs, err := p.store.ListTransactionsByState(ctx, chainID, model.TransactionStateSent, p.opts.BatchSize)
	if err != nil {
		p.log.Error("list sent transactions", zap.Uint64("chain", chainID), zap.Error(err))
		return
	}

	for _, rec := range recs {
		if ctx.Err() != nil {
			return
		}
		receipt, err := backend.TransactionReceipt(ctx, common.HexToHash(rec.TxHash))
		if err != nil {
			if isNotFound(err) {
				if age := time.Since(rec.CreatedAt); age > p.opts.MaxPendingAge {
					p.log.Warn("transaction pending beyond max age",
						zap.String("id", rec.ID),
						zap.Uint64("chain", chainID),
						zap.String("tx_hash", rec.TxHash),
						zap.Duration("age", age),
					)
				}
				continue
			}
			p.log.Error("get receipt", zap.String("id", rec.ID), zap.Error(err))
			continue
		}
		if _, err := p.resolver.applyReceipt(ctx, backend, rec, receipt); err != nil {
			p.log.Error("settle transaction", zap.String("id", rec.ID), zap.Error(err))
		}
	}
}
