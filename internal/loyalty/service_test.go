package loyalty

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Phlame68/monorepo/internal/callback"
	"github.com/Phlame68/monorepo/internal/config"
	"github.com/Phlame68/monorepo/internal/contracts"
	"github.com/Phlame68/monorepo/internal/model"
	"github.com/Phlame68/monorepo/internal/store"
)

func testConfig() config.Config {
	return config.Config{
		Networks: []config.Network{
			{
				ChainID:     137,
				PoolFactory: "0x7777777777777777777777777777777777777777",
			},
		},
	}
}

// fakeSubmitter persists records like the real submitter and, when a receipt
// is staged, settles them through the real dispatcher so domain callbacks
// run against the store.
type fakeSubmitter struct {
	store      store.Store
	dispatcher *callback.Dispatcher
	mu         sync.Mutex
	receipts   []*types.Receipt
}

func newFakeSubmitter(st store.Store) *fakeSubmitter {
	return &fakeSubmitter{
		store:      st,
		dispatcher: callback.NewDispatcher(st, zap.NewNop()),
	}
}

func (f *fakeSubmitter) stageReceipt(receipt *types.Receipt) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts = append(f.receipts, receipt)
}

func (f *fakeSubmitter) nextReceipt() *types.Receipt {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.receipts) == 0 {
		return nil
	}
	receipt := f.receipts[0]
	f.receipts = f.receipts[1:]
	return receipt
}

func (f *fakeSubmitter) Send(ctx context.Context, chainID uint64, to string, data []byte, cb *model.CallbackDescriptor) (*model.TransactionRecord, error) {
	return f.SendAsync(ctx, chainID, to, data, cb, true)
}

func (f *fakeSubmitter) SendAsync(ctx context.Context, chainID uint64, to string, data []byte, cb *model.CallbackDescriptor, forceSync bool) (*model.TransactionRecord, error) {
	rec := &model.TransactionRecord{
		ID:        uuid.NewString(),
		ChainID:   chainID,
		To:        to,
		Data:      common.Bytes2Hex(data),
		State:     model.TransactionStateQueued,
		TxHash:    "0x" + uuid.NewString(),
		Callback:  cb,
		CreatedAt: time.Now().UTC(),
	}
	if err := f.store.CreateTransaction(ctx, rec); err != nil {
		return nil, err
	}
	if err := f.store.SetTransactionSent(ctx, rec.ID, rec.TxHash); err != nil {
		return nil, err
	}
	rec.State = model.TransactionStateSent
	if !forceSync {
		return rec, nil
	}
	return f.settle(ctx, rec)
}

func (f *fakeSubmitter) QueryReceipt(ctx context.Context, id string) (*model.TransactionRecord, error) {
	rec, err := f.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.State != model.TransactionStateSent {
		return rec, nil
	}
	return f.settle(ctx, rec)
}

func (f *fakeSubmitter) settle(ctx context.Context, rec *model.TransactionRecord) (*model.TransactionRecord, error) {
	receipt := f.nextReceipt()
	if receipt == nil {
		return rec, nil
	}
	won, err := f.store.TransitionTransaction(ctx, rec.ID, model.TransactionStateSent, model.TransactionStateMined, receipt, "")
	if err != nil {
		return nil, err
	}
	rec.State = model.TransactionStateMined
	rec.Receipt = receipt
	if won {
		if err := f.dispatcher.Invoke(ctx, rec); err != nil {
			return rec, err
		}
	}
	return rec, nil
}

func erc1155MintedReceipt(t *testing.T, recipient common.Address, tokenID int64) *types.Receipt {
	t.Helper()
	diamondABI, err := contracts.PoolDiamondABI()
	if err != nil {
		t.Fatalf("load abi: %v", err)
	}
	ev := diamondABI.Events["ERC1155Minted"]
	data, err := ev.Inputs.Pack(recipient, big.NewInt(tokenID), big.NewInt(1))
	if err != nil {
		t.Fatalf("pack event: %v", err)
	}
	return &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		BlockNumber: big.NewInt(3),
		Logs:        []*types.Log{{Topics: []common.Hash{ev.ID}, Data: data}},
	}
}

func seedPoolAndContract(t *testing.T, st store.Store, kind model.TokenKind) (*model.Pool, *model.TokenContract) {
	t.Helper()
	ctx := context.Background()
	pool := &model.Pool{
		ID:        "pool-1",
		Sub:       "sub-1",
		ChainID:   137,
		Title:     "Summer Rewards",
		Address:   "0x5555555555555555555555555555555555555555",
		CreatedAt: time.Now().UTC(),
	}
	if err := st.CreatePool(ctx, pool); err != nil {
		t.Fatalf("create pool: %v", err)
	}
	contract := &model.TokenContract{
		ID:        "contract-1",
		Sub:       "sub-1",
		ChainID:   137,
		Kind:      kind,
		Name:      "Rewards",
		Symbol:    "RWD",
		Address:   "0x6666666666666666666666666666666666666666",
		CreatedAt: time.Now().UTC(),
	}
	if err := st.CreateTokenContract(ctx, contract); err != nil {
		t.Fatalf("create contract: %v", err)
	}
	return pool, contract
}

func TestMintERC1155ForceSync(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	sub := newFakeSubmitter(st)
	svc := NewService(st, sub, testConfig(), zap.NewNop())
	seedPoolAndContract(t, st, model.TokenKindERC1155)

	recipient := common.HexToAddress("0x4444444444444444444444444444444444444444")
	sub.stageReceipt(erc1155MintedReceipt(t, recipient, 12))

	token, err := svc.MintERC1155(ctx, "sub-1", "contract-1", "pool-1", "", "meta-1", recipient.Hex(), big.NewInt(1), true)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if token.State != model.TokenStateMinted {
		t.Fatalf("token not minted: %s", token.State)
	}
	if token.TokenID != 12 {
		t.Fatalf("tokenId not populated: %d", token.TokenID)
	}
	if len(token.Transactions) != 1 {
		t.Fatalf("transaction not linked: %v", token.Transactions)
	}
}

func TestMintAsyncStaysPendingUntilQueried(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	sub := newFakeSubmitter(st)
	svc := NewService(st, sub, testConfig(), zap.NewNop())
	seedPoolAndContract(t, st, model.TokenKindERC721)

	recipient := common.HexToAddress("0x4444444444444444444444444444444444444444")
	token, err := svc.MintERC721(ctx, "sub-1", "contract-1", "pool-1", "", "meta-1", recipient.Hex(), false)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if token.State != model.TokenStatePending {
		t.Fatalf("token settled without a receipt: %s", token.State)
	}

	// Token() refreshes from the pending transaction once a receipt exists
	diamondABI, err := contracts.PoolDiamondABI()
	if err != nil {
		t.Fatalf("load abi: %v", err)
	}
	ev := diamondABI.Events["ERC721Minted"]
	data, err := ev.Inputs.Pack(recipient, big.NewInt(4))
	if err != nil {
		t.Fatalf("pack event: %v", err)
	}
	sub.stageReceipt(&types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		BlockNumber: big.NewInt(5),
		Logs:        []*types.Log{{Topics: []common.Hash{ev.ID}, Data: data}},
	})

	refreshed, err := svc.Token(ctx, token.ID)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if refreshed.State != model.TokenStateMinted || refreshed.TokenID != 4 {
		t.Fatalf("token not refreshed: %+v", refreshed)
	}
}

func TestMintRequiresDeployedPool(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	svc := NewService(st, newFakeSubmitter(st), testConfig(), zap.NewNop())

	pool := &model.Pool{ID: "pool-1", Sub: "sub-1", ChainID: 137, CreatedAt: time.Now().UTC()}
	if err := st.CreatePool(ctx, pool); err != nil {
		t.Fatalf("create pool: %v", err)
	}
	contract := &model.TokenContract{
		ID: "contract-1", Sub: "sub-1", ChainID: 137,
		Kind:    model.TokenKindERC1155,
		Address: "0x6666666666666666666666666666666666666666",
		CreatedAt: time.Now().UTC(),
	}
	if err := st.CreateTokenContract(ctx, contract); err != nil {
		t.Fatalf("create contract: %v", err)
	}

	_, err := svc.MintERC1155(ctx, "sub-1", "contract-1", "pool-1", "", "meta", "0x4444444444444444444444444444444444444444", big.NewInt(1), false)
	if err == nil {
		t.Fatalf("expected error for undeployed pool")
	}
}

func TestWithdrawCompletes(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	sub := newFakeSubmitter(st)
	svc := NewService(st, sub, testConfig(), zap.NewNop())
	seedPoolAndContract(t, st, model.TokenKindERC20)

	beneficiary := common.HexToAddress("0x9999999999999999999999999999999999999999")
	diamondABI, err := contracts.PoolDiamondABI()
	if err != nil {
		t.Fatalf("load abi: %v", err)
	}
	ev := diamondABI.Events["Withdrawn"]
	data, err := ev.Inputs.NonIndexed().Pack(big.NewInt(1000))
	if err != nil {
		t.Fatalf("pack event: %v", err)
	}
	sub.stageReceipt(&types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		BlockNumber: big.NewInt(6),
		Logs: []*types.Log{{
			Topics: []common.Hash{ev.ID, common.BytesToHash(common.LeftPadBytes(beneficiary.Bytes(), 32))},
			Data:   data,
		}},
	})

	wd, err := svc.Withdraw(ctx, "sub-1", "pool-1", "", beneficiary.Hex(), big.NewInt(1000), true)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if wd.State != model.WithdrawalStateWithdrawn {
		t.Fatalf("withdrawal not completed: %s", wd.State)
	}
	if wd.Amount != "1000" {
		t.Fatalf("unexpected amount: %s", wd.Amount)
	}
}

func TestDeployPoolQueuesCallback(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	sub := newFakeSubmitter(st)
	svc := NewService(st, sub, testConfig(), zap.NewNop())

	pool, err := svc.DeployPool(ctx, "sub-1", 137, "Summer Rewards", nil)
	if err != nil {
		t.Fatalf("deploy pool: %v", err)
	}
	if pool.Deployed() {
		t.Fatalf("pool address set before the deploy mined")
	}
	if len(pool.Transactions) != 1 {
		t.Fatalf("deploy transaction not linked")
	}

	rec, err := st.GetTransaction(ctx, pool.Transactions[0])
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if rec.Callback == nil || rec.Callback.Type != callback.TypePoolDeploy {
		t.Fatalf("pool deploy callback missing: %+v", rec.Callback)
	}
	if rec.To != "0x7777777777777777777777777777777777777777" {
		t.Fatalf("deploy not addressed to the pool factory: %s", rec.To)
	}
}
