// Package tx drives the transaction lifecycle: records move from queued
// through sent to a terminal mined or failed state, and the domain callback
// attached to a record runs exactly once when it mines.
package tx

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Phlame68/monorepo/internal/model"
	"github.com/Phlame68/monorepo/internal/store"
)

// Backend is the chain access a submitter needs for one network.
type Backend interface {
	ChainID() uint64
	DefaultAccount() common.Address
	PrepareCall(ctx context.Context, to *common.Address, data []byte, value *big.Int) (*types.Transaction, error)
	Broadcast(ctx context.Context, signed *types.Transaction) error
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	WaitMined(ctx context.Context, hash common.Hash, interval, timeout time.Duration) (*types.Receipt, error)
	RevertReason(ctx context.Context, to *common.Address, data []byte, blockNumber *big.Int) string
}

// BackendRegistry resolves the Backend for a chain id.
type BackendRegistry interface {
	Backend(ctx context.Context, chainID uint64) (Backend, error)
}

// RegistryFunc adapts a function to the BackendRegistry interface.
type RegistryFunc func(ctx context.Context, chainID uint64) (Backend, error)

func (f RegistryFunc) Backend(ctx context.Context, chainID uint64) (Backend, error) {
	return f(ctx, chainID)
}

// Options tunes submitter timing. Zero values fall back to defaults.
type Options struct {
	ReceiptInterval time.Duration
	ReceiptTimeout  time.Duration
	MaxRetries      int
	RetryBackoff    time.Duration
}

func (o Options) withDefaults() Options {
	if o.ReceiptInterval <= 0 {
		o.ReceiptInterval = 500 * time.Millisecond
	}
	if o.ReceiptTimeout <= 0 {
		o.ReceiptTimeout = 60 * time.Second
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 500 * time.Millisecond
	}
	return o
}

// Submitter creates transaction records, broadcasts them, and settles the
// synchronous ones. Asynchronous records are settled later by the Poller.
type Submitter struct {
	store    store.Store
	backends BackendRegistry
	resolver *resolver
	opts     Options
	log      *zap.Logger

	// one lock per chain so concurrent sends from the same account cannot
	// race over the pending nonce
	mu     sync.Mutex
	chains map[uint64]*sync.Mutex
}

func NewSubmitter(st store.Store, backends BackendRegistry, invoker CallbackInvoker, opts Options, log *zap.Logger) *Submitter {
	return &Submitter{
		store:    st,
		backends: backends,
		resolver: newResolver(st, invoker, log),
		opts:     opts.withDefaults(),
		log:      log,
		chains:   make(map[uint64]*sync.Mutex),
	}
}

func (s *Submitter) chainLock(chainID uint64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.chains[chainID]
	if !ok {
		lock = &sync.Mutex{}
		s.chains[chainID] = lock
	}
	return lock
}

// Send broadcasts the call and blocks until the transaction settles in a
// terminal state. The returned record is mined or failed.
func (s *Submitter) Send(ctx context.Context, chainID uint64, to string, data []byte, callback *model.CallbackDescriptor) (*model.TransactionRecord, error) {
	return s.submit(ctx, chainID, to, data, nil, callback, true)
}

// SendAsync broadcasts the call and returns once the record is sent. The
// background poller settles it. With forceSync set the call behaves like
// Send, which callers use when the result is needed in-request.
func (s *Submitter) SendAsync(ctx context.Context, chainID uint64, to string, data []byte, callback *model.CallbackDescriptor, forceSync bool) (*model.TransactionRecord, error) {
	return s.submit(ctx, chainID, to, data, nil, callback, forceSync)
}

func (s *Submitter) submit(ctx context.Context, chainID uint64, to string, data []byte, value *big.Int, callback *model.CallbackDescriptor, blocking bool) (*model.TransactionRecord, error) {
	backend, err := s.backends.Backend(ctx, chainID)
	if err != nil {
		return nil, err
	}

	rec := &model.TransactionRecord{
		ID:        uuid.NewString(),
		ChainID:   chainID,
		To:        to,
		Data:      common.Bytes2Hex(data),
		State:     model.TransactionStateQueued,
		Callback:  callback,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateTransaction(ctx, rec); err != nil {
		return nil, fmt.Errorf("create transaction record: %w", err)
	}

	signed, err := s.broadcast(ctx, backend, rec, data, value)
	if err != nil {
		// the record may be queued (prepare failed) or sent (broadcast
		// failed after the hash was persisted); fail it from either state
		reason := err.Error()
		won, terr := s.store.TransitionTransaction(ctx, rec.ID, model.TransactionStateSent, model.TransactionStateFailed, nil, reason)
		if terr == nil && !won {
			_, terr = s.store.TransitionTransaction(ctx, rec.ID, model.TransactionStateQueued, model.TransactionStateFailed, nil, reason)
		}
		if terr != nil {
			s.log.Error("mark transaction failed", zap.String("id", rec.ID), zap.Error(terr))
		}
		rec.State = model.TransactionStateFailed
		rec.FailReason = reason
		return rec, fmt.Errorf("broadcast: %w", err)
	}
	rec.State = model.TransactionStateSent
	rec.TxHash = signed.Hash().Hex()

	s.log.Info("transaction sent",
		zap.String("id", rec.ID),
		zap.Uint64("chain", chainID),
		zap.String("tx_hash", rec.TxHash),
		zap.Bool("blocking", blocking),
	)

	if !blocking {
		return rec, nil
	}

	receipt, err := backend.WaitMined(ctx, signed.Hash(), s.opts.ReceiptInterval, s.opts.ReceiptTimeout)
	if err != nil {
		return rec, fmt.Errorf("wait mined: %w", err)
	}
	return s.resolver.applyReceipt(ctx, backend, rec, receipt)
}

// broadcast prepares, persists the hash, and submits the transaction. The
// hash is written before the broadcast so a crash in between leaves a record
// the poller can still find on chain.
func (s *Submitter) broadcast(ctx context.Context, backend Backend, rec *model.TransactionRecord, data []byte, value *big.Int) (*types.Transaction, error) {
	lock := s.chainLock(rec.ChainID)
	lock.Lock()
	defer lock.Unlock()

	var toAddr *common.Address
	if rec.To != "" {
		a := common.HexToAddress(rec.To)
		toAddr = &a
	}

	signed, err := backend.PrepareCall(ctx, toAddr, data, value)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetTransactionSent(ctx, rec.ID, signed.Hash().Hex()); err != nil {
		return nil, fmt.Errorf("mark transaction sent: %w", err)
	}

	err = broadcastWithRetry(ctx, s.opts.MaxRetries, s.opts.RetryBackoff, func(ctx context.Context) error {
		return backend.Broadcast(ctx, signed)
	})
	if err != nil {
		return nil, err
	}
	return signed, nil
}

// QueryReceipt settles a single sent record if its receipt is available, and
// returns the current record either way. Terminal records are returned as-is.
func (s *Submitter) QueryReceipt(ctx context.Context, id string) (*model.TransactionRecord, error) {
	rec, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.State != model.TransactionStateSent {
		return rec, nil
	}

	backend, err := s.backends.Backend(ctx, rec.ChainID)
	if err != nil {
		return nil, err
	}
	receipt, err := backend.TransactionReceipt(ctx, common.HexToHash(rec.TxHash))
	if err != nil {
		if isNotFound(err) {
			return rec, nil
		}
		return nil, fmt.Errorf("get receipt: %w", err)
	}
	return s.resolver.applyReceipt(ctx, backend, rec, receipt)
}
