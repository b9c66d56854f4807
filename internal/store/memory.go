package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Phlame68/monorepo/internal/model"
)

// Memory is an in-memory Store. It backs unit tests and local development
// runs without a database; the conditional-update semantics match the
// Postgres implementation.
type Memory struct {
	mu           sync.Mutex
	transactions map[string]*model.TransactionRecord
	wallets      map[string]*model.Wallet
	pools        map[string]*model.Pool
	contracts    map[string]*model.TokenContract
	tokens       map[string]*model.Token
	withdrawals  map[string]*model.Withdrawal
	proposals    map[string]*model.SafeProposal
	deployJobs   map[string]*model.SafeDeployJob
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		transactions: make(map[string]*model.TransactionRecord),
		wallets:      make(map[string]*model.Wallet),
		pools:        make(map[string]*model.Pool),
		contracts:    make(map[string]*model.TokenContract),
		tokens:       make(map[string]*model.Token),
		withdrawals:  make(map[string]*model.Withdrawal),
		proposals:    make(map[string]*model.SafeProposal),
		deployJobs:   make(map[string]*model.SafeDeployJob),
	}
}

var _ Store = (*Memory)(nil)

func (m *Memory) CreateTransaction(_ context.Context, rec *model.TransactionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.transactions[rec.ID] = &cp
	return nil
}

func (m *Memory) GetTransaction(_ context.Context, id string) (*model.TransactionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.transactions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *Memory) SetTransactionSent(_ context.Context, id, txHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.transactions[id]
	if !ok || rec.State != model.TransactionStateQueued {
		return ErrNotFound
	}
	rec.TxHash = txHash
	rec.State = model.TransactionStateSent
	return nil
}

func (m *Memory) TransitionTransaction(_ context.Context, id string, from, to model.TransactionState, receipt *types.Receipt, failReason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.transactions[id]
	if !ok {
		return false, ErrNotFound
	}
	if rec.State != from {
		return false, nil
	}
	rec.State = to
	rec.Receipt = receipt
	rec.FailReason = failReason
	return true, nil
}

func (m *Memory) ListTransactionsByState(_ context.Context, chainID uint64, state model.TransactionState, limit int) ([]*model.TransactionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.TransactionRecord
	for _, rec := range m.transactions {
		if rec.ChainID == chainID && rec.State == state {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ChainIDsWithTransactionState(_ context.Context, state model.TransactionState) ([]uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[uint64]struct{})
	for _, rec := range m.transactions {
		if rec.State == state {
			seen[rec.ChainID] = struct{}{}
		}
	}
	out := make([]uint64, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *Memory) CreateWallet(_ context.Context, w *model.Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *w
	cp.Owners = append([]string(nil), w.Owners...)
	m.wallets[w.ID] = &cp
	return nil
}

func (m *Memory) GetWallet(_ context.Context, id string) (*model.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneWallet(w), nil
}

func (m *Memory) GetWalletByAddress(_ context.Context, address string) (*model.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.wallets {
		if w.Address == address {
			return cloneWallet(w), nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ListWalletsBySub(_ context.Context, sub string) ([]*model.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Wallet
	for _, w := range m.wallets {
		if w.Sub == sub {
			out = append(out, cloneWallet(w))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) MigrateWalletRefs(_ context.Context, fromWalletIDs []string, toWalletID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	from := make(map[string]struct{}, len(fromWalletIDs))
	for _, id := range fromWalletIDs {
		from[id] = struct{}{}
	}
	var updated int64
	for _, t := range m.tokens {
		if _, ok := from[t.WalletID]; ok {
			t.WalletID = toWalletID
			updated++
		}
	}
	for _, w := range m.withdrawals {
		if _, ok := from[w.WalletID]; ok {
			w.WalletID = toWalletID
			updated++
		}
	}
	return updated, nil
}

func (m *Memory) CreatePool(_ context.Context, p *model.Pool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	cp.Transactions = append([]string(nil), p.Transactions...)
	m.pools[p.ID] = &cp
	return nil
}

func (m *Memory) GetPool(_ context.Context, id string) (*model.Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	cp.Transactions = append([]string(nil), p.Transactions...)
	return &cp, nil
}

func (m *Memory) SetPoolAddress(_ context.Context, id, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[id]
	if !ok {
		return ErrNotFound
	}
	p.Address = address
	return nil
}

func (m *Memory) AddPoolTransaction(_ context.Context, id, txID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[id]
	if !ok {
		return ErrNotFound
	}
	p.Transactions = append(p.Transactions, txID)
	return nil
}

func (m *Memory) CreateTokenContract(_ context.Context, c *model.TokenContract) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	cp.Transactions = append([]string(nil), c.Transactions...)
	m.contracts[c.ID] = &cp
	return nil
}

func (m *Memory) GetTokenContract(_ context.Context, id string) (*model.TokenContract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contracts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	cp.Transactions = append([]string(nil), c.Transactions...)
	return &cp, nil
}

func (m *Memory) SetTokenContractAddress(_ context.Context, id, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contracts[id]
	if !ok {
		return ErrNotFound
	}
	c.Address = address
	return nil
}

func (m *Memory) AddTokenContractTransaction(_ context.Context, id, txID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contracts[id]
	if !ok {
		return ErrNotFound
	}
	c.Transactions = append(c.Transactions, txID)
	return nil
}

func (m *Memory) CreateToken(_ context.Context, t *model.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	cp.Transactions = append([]string(nil), t.Transactions...)
	m.tokens[t.ID] = &cp
	return nil
}

func (m *Memory) GetToken(_ context.Context, id string) (*model.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	cp.Transactions = append([]string(nil), t.Transactions...)
	return &cp, nil
}

func (m *Memory) MarkTokenMinted(_ context.Context, id string, tokenID uint64, recipient string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[id]
	if !ok {
		return ErrNotFound
	}
	t.State = model.TokenStateMinted
	t.TokenID = tokenID
	t.Recipient = recipient
	return nil
}

func (m *Memory) AddTokenTransaction(_ context.Context, id, txID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[id]
	if !ok {
		return ErrNotFound
	}
	t.Transactions = append(t.Transactions, txID)
	return nil
}

func (m *Memory) CreateWithdrawal(_ context.Context, w *model.Withdrawal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *w
	cp.Transactions = append([]string(nil), w.Transactions...)
	m.withdrawals[w.ID] = &cp
	return nil
}

func (m *Memory) GetWithdrawal(_ context.Context, id string) (*model.Withdrawal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.withdrawals[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *w
	cp.Transactions = append([]string(nil), w.Transactions...)
	return &cp, nil
}

func (m *Memory) MarkWithdrawalComplete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.withdrawals[id]
	if !ok {
		return ErrNotFound
	}
	w.State = model.WithdrawalStateWithdrawn
	return nil
}

func (m *Memory) AddWithdrawalTransaction(_ context.Context, id, txID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.withdrawals[id]
	if !ok {
		return ErrNotFound
	}
	w.Transactions = append(w.Transactions, txID)
	return nil
}

func (m *Memory) CreateSafeProposal(_ context.Context, p *model.SafeProposal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.proposals[p.SafeTxHash] = cloneProposal(p)
	return nil
}

func (m *Memory) GetSafeProposal(_ context.Context, safeTxHash string) (*model.SafeProposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proposals[safeTxHash]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneProposal(p), nil
}

func (m *Memory) AddSafeConfirmation(_ context.Context, safeTxHash, owner, signature string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proposals[safeTxHash]
	if !ok {
		return ErrNotFound
	}
	if p.ConfirmedBy(owner) {
		return nil
	}
	p.Confirmations = append(p.Confirmations, model.SafeConfirmation{Owner: owner, Signature: signature})
	return nil
}

func (m *Memory) MarkSafeProposalExecuted(_ context.Context, safeTxHash, txID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proposals[safeTxHash]
	if !ok {
		return ErrNotFound
	}
	p.Executed = true
	p.ExecutionTxID = txID
	return nil
}

func (m *Memory) CountSafeProposals(_ context.Context, walletAddress string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n uint64
	for _, p := range m.proposals {
		if p.WalletAddress == walletAddress {
			n++
		}
	}
	return n, nil
}

func (m *Memory) EnqueueDeployJob(_ context.Context, walletID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.deployJobs[walletID]; ok {
		return nil
	}
	m.deployJobs[walletID] = &model.SafeDeployJob{WalletID: walletID, CreatedAt: time.Now().UTC()}
	return nil
}

func (m *Memory) ListDeployJobs(_ context.Context, limit int) ([]*model.SafeDeployJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.SafeDeployJob
	for _, j := range m.deployJobs {
		cp := *j
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) RemoveDeployJob(_ context.Context, walletID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.deployJobs, walletID)
	return nil
}

func (m *Memory) BumpDeployJob(_ context.Context, walletID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.deployJobs[walletID]
	if !ok {
		return ErrNotFound
	}
	j.Attempts++
	return nil
}

func cloneWallet(w *model.Wallet) *model.Wallet {
	cp := *w
	cp.Owners = append([]string(nil), w.Owners...)
	return &cp
}

func cloneProposal(p *model.SafeProposal) *model.SafeProposal {
	cp := *p
	cp.Confirmations = append([]model.SafeConfirmation(nil), p.Confirmations...)
	return &cp
}
