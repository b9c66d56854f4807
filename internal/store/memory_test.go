package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Phlame68/monorepo/internal/model"
)

func newSentRecord(t *testing.T, m *Memory, id string) *model.TransactionRecord {
	t.Helper()
	ctx := context.Background()
	rec := &model.TransactionRecord{
		ID:        id,
		ChainID:   137,
		To:        "0x1111111111111111111111111111111111111111",
		State:     model.TransactionStateQueued,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.CreateTransaction(ctx, rec); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := m.SetTransactionSent(ctx, id, "0xabc"); err != nil {
		t.Fatalf("set sent: %v", err)
	}
	return rec
}

func TestTransitionTransactionCAS(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	newSentRecord(t, m, "tx-1")

	receipt := &types.Receipt{Status: types.ReceiptStatusSuccessful}

	const workers = 8
	var wg sync.WaitGroup
	wins := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := m.TransitionTransaction(ctx, "tx-1", model.TransactionStateSent, model.TransactionStateMined, receipt, "")
			if err != nil {
				t.Errorf("transition: %v", err)
				return
			}
			wins <- won
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for won := range wins {
		if won {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}

	rec, err := m.GetTransaction(ctx, "tx-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.State != model.TransactionStateMined {
		t.Fatalf("unexpected state: %s", rec.State)
	}
	if rec.Receipt == nil {
		t.Fatalf("receipt not persisted")
	}
}

func TestTransitionTransactionRejectsWrongFromState(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	newSentRecord(t, m, "tx-1")

	won, err := m.TransitionTransaction(ctx, "tx-1", model.TransactionStateQueued, model.TransactionStateFailed, nil, "nope")
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if won {
		t.Fatalf("transition from wrong state must not win")
	}

	rec, err := m.GetTransaction(ctx, "tx-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.State != model.TransactionStateSent {
		t.Fatalf("state changed unexpectedly: %s", rec.State)
	}
}

func TestSetTransactionSentOnlyFromQueued(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	newSentRecord(t, m, "tx-1")

	if err := m.SetTransactionSent(ctx, "tx-1", "0xdef"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for non-queued record, got %v", err)
	}
}

func TestListTransactionsByState(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	newSentRecord(t, m, "tx-1")
	newSentRecord(t, m, "tx-2")

	recs, err := m.ListTransactionsByState(ctx, 137, model.TransactionStateSent, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}

	chains, err := m.ChainIDsWithTransactionState(ctx, model.TransactionStateSent)
	if err != nil {
		t.Fatalf("chains: %v", err)
	}
	if len(chains) != 1 || chains[0] != 137 {
		t.Fatalf("unexpected chains: %v", chains)
	}
}

func TestAddSafeConfirmationSetUnion(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	proposal := &model.SafeProposal{
		SafeTxHash:    "0xhash",
		WalletAddress: "0x1111111111111111111111111111111111111111",
		ChainID:       137,
		CreatedAt:     time.Now().UTC(),
	}
	if err := m.CreateSafeProposal(ctx, proposal); err != nil {
		t.Fatalf("create proposal: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := m.AddSafeConfirmation(ctx, "0xhash", "0xOwner", "0xsig"); err != nil {
			t.Fatalf("add confirmation: %v", err)
		}
	}
	got, err := m.GetSafeProposal(ctx, "0xhash")
	if err != nil {
		t.Fatalf("get proposal: %v", err)
	}
	if len(got.Confirmations) != 1 {
		t.Fatalf("duplicate confirmations stored: %d", len(got.Confirmations))
	}
}

func TestEnqueueDeployJobIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	for i := 0; i < 3; i++ {
		if err := m.EnqueueDeployJob(ctx, "wallet-1"); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	jobs, err := m.ListDeployJobs(ctx, 10)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected a single job, got %d", len(jobs))
	}

	if err := m.BumpDeployJob(ctx, "wallet-1"); err != nil {
		t.Fatalf("bump: %v", err)
	}
	jobs, _ = m.ListDeployJobs(ctx, 10)
	if jobs[0].Attempts != 1 {
		t.Fatalf("attempts not bumped: %d", jobs[0].Attempts)
	}

	if err := m.RemoveDeployJob(ctx, "wallet-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	jobs, _ = m.ListDeployJobs(ctx, 10)
	if len(jobs) != 0 {
		t.Fatalf("job not removed")
	}
}

func TestMigrateWalletRefs(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	tokens := []*model.Token{
		{ID: "t1", WalletID: "old-1", State: model.TokenStatePending, CreatedAt: time.Now().UTC()},
		{ID: "t2", WalletID: "old-2", State: model.TokenStatePending, CreatedAt: time.Now().UTC()},
		{ID: "t3", WalletID: "keep", State: model.TokenStatePending, CreatedAt: time.Now().UTC()},
	}
	for _, tok := range tokens {
		if err := m.CreateToken(ctx, tok); err != nil {
			t.Fatalf("create token: %v", err)
		}
	}
	w := &model.Withdrawal{ID: "w1", WalletID: "old-1", State: model.WithdrawalStatePending, CreatedAt: time.Now().UTC()}
	if err := m.CreateWithdrawal(ctx, w); err != nil {
		t.Fatalf("create withdrawal: %v", err)
	}

	updated, err := m.MigrateWalletRefs(ctx, []string{"old-1", "old-2"}, "new")
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if updated != 3 {
		t.Fatalf("expected 3 updates, got %d", updated)
	}

	tok, _ := m.GetToken(ctx, "t3")
	if tok.WalletID != "keep" {
		t.Fatalf("unrelated token re-keyed: %s", tok.WalletID)
	}
	tok, _ = m.GetToken(ctx, "t1")
	if tok.WalletID != "new" {
		t.Fatalf("token not re-keyed: %s", tok.WalletID)
	}
}
