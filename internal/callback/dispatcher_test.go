package callback

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/Phlame68/monorepo/internal/contracts"
	"github.com/Phlame68/monorepo/internal/events"
	"github.com/Phlame68/monorepo/internal/model"
	"github.com/Phlame68/monorepo/internal/store"
)

func mustArgs(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal args: %v", err)
	}
	return raw
}

func mintedReceipt(t *testing.T, eventName string, recipient common.Address, tokenID *big.Int) *types.Receipt {
	t.Helper()
	diamondABI, err := contracts.PoolDiamondABI()
	if err != nil {
		t.Fatalf("load abi: %v", err)
	}
	ev := diamondABI.Events[eventName]

	var data []byte
	switch eventName {
	case "ERC721Minted":
		data, err = ev.Inputs.Pack(recipient, tokenID)
	case "ERC1155Minted":
		data, err = ev.Inputs.Pack(recipient, tokenID, big.NewInt(1))
	default:
		t.Fatalf("unsupported event %s", eventName)
	}
	if err != nil {
		t.Fatalf("pack event: %v", err)
	}

	return &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		BlockNumber: big.NewInt(7),
		Logs:        []*types.Log{{Topics: []common.Hash{ev.ID}, Data: data}},
	}
}

func withdrawnReceipt(t *testing.T, beneficiary common.Address) *types.Receipt {
	t.Helper()
	diamondABI, err := contracts.PoolDiamondABI()
	if err != nil {
		t.Fatalf("load abi: %v", err)
	}
	ev := diamondABI.Events["Withdrawn"]
	data, err := ev.Inputs.NonIndexed().Pack(big.NewInt(100))
	if err != nil {
		t.Fatalf("pack event: %v", err)
	}
	return &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		BlockNumber: big.NewInt(7),
		Logs: []*types.Log{{
			Topics: []common.Hash{ev.ID, common.BytesToHash(common.LeftPadBytes(beneficiary.Bytes(), 32))},
			Data:   data,
		}},
	}
}

func deployedReceipt(t *testing.T, diamond common.Address) *types.Receipt {
	t.Helper()
	factoryABI, err := contracts.PoolFactoryABI()
	if err != nil {
		t.Fatalf("load abi: %v", err)
	}
	ev := factoryABI.Events["DiamondDeployed"]
	data, err := ev.Inputs.Pack(diamond)
	if err != nil {
		t.Fatalf("pack event: %v", err)
	}
	return &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		BlockNumber: big.NewInt(7),
		Logs:        []*types.Log{{Topics: []common.Hash{ev.ID}, Data: data}},
	}
}

func ownershipTransferredLog(t *testing.T, newOwner common.Address) *types.Log {
	t.Helper()
	tokenABI, err := contracts.TokenABI()
	if err != nil {
		t.Fatalf("load abi: %v", err)
	}
	ev := tokenABI.Events["OwnershipTransferred"]
	return &types.Log{Topics: []common.Hash{
		ev.ID,
		common.BytesToHash(common.LeftPadBytes(common.Address{}.Bytes(), 32)),
		common.BytesToHash(common.LeftPadBytes(newOwner.Bytes(), 32)),
	}}
}

func TestInvokeTokenMint(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	d := NewDispatcher(st, zap.NewNop())

	token := &model.Token{
		ID:        "token-1",
		State:     model.TokenStatePending,
		CreatedAt: time.Now().UTC(),
	}
	if err := st.CreateToken(ctx, token); err != nil {
		t.Fatalf("create token: %v", err)
	}

	recipient := common.HexToAddress("0x4444444444444444444444444444444444444444")
	rec := &model.TransactionRecord{
		ID:      "tx-1",
		State:   model.TransactionStateMined,
		Receipt: mintedReceipt(t, "ERC1155Minted", recipient, big.NewInt(9)),
		Callback: &model.CallbackDescriptor{
			Type: TypeERC1155TokenMint,
			Args: mustArgs(t, TokenMintArgs{TokenID: "token-1"}),
		},
	}

	// idempotent: replaying the callback leaves the same result
	for i := 0; i < 2; i++ {
		if err := d.Invoke(ctx, rec); err != nil {
			t.Fatalf("invoke (pass %d): %v", i+1, err)
		}
	}

	got, err := st.GetToken(ctx, "token-1")
	if err != nil {
		t.Fatalf("get token: %v", err)
	}
	if got.State != model.TokenStateMinted {
		t.Fatalf("token not minted: %s", got.State)
	}
	if got.TokenID != 9 {
		t.Fatalf("tokenId not populated: %d", got.TokenID)
	}
	if got.Recipient != recipient.Hex() {
		t.Fatalf("recipient not populated: %s", got.Recipient)
	}
}

func TestInvokeTokenMintRejectsOverflowingTokenID(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	d := NewDispatcher(st, zap.NewNop())

	if err := st.CreateToken(ctx, &model.Token{ID: "token-1", State: model.TokenStatePending, CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("create token: %v", err)
	}

	huge := new(big.Int).Lsh(big.NewInt(1), 64)
	rec := &model.TransactionRecord{
		ID:      "tx-1",
		State:   model.TransactionStateMined,
		Receipt: mintedReceipt(t, "ERC721Minted", common.HexToAddress("0x4444444444444444444444444444444444444444"), huge),
		Callback: &model.CallbackDescriptor{
			Type: TypeERC721TokenMint,
			Args: mustArgs(t, TokenMintArgs{TokenID: "token-1"}),
		},
	}

	if err := d.Invoke(ctx, rec); err == nil {
		t.Fatalf("expected error for tokenId above uint64 range")
	}

	got, _ := st.GetToken(ctx, "token-1")
	if got.State != model.TokenStatePending {
		t.Fatalf("token mutated despite rejected tokenId: %s", got.State)
	}
}

func TestInvokeMissingEventFails(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	d := NewDispatcher(st, zap.NewNop())

	if err := st.CreateToken(ctx, &model.Token{ID: "token-1", State: model.TokenStatePending, CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("create token: %v", err)
	}

	rec := &model.TransactionRecord{
		ID:      "tx-1",
		State:   model.TransactionStateMined,
		Receipt: &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(7)},
		Callback: &model.CallbackDescriptor{
			Type: TypeERC721TokenMint,
			Args: mustArgs(t, TokenMintArgs{TokenID: "token-1"}),
		},
	}

	err := d.Invoke(ctx, rec)
	var notFound *events.ExpectedEventNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ExpectedEventNotFoundError, got %v", err)
	}

	got, _ := st.GetToken(ctx, "token-1")
	if got.State != model.TokenStatePending {
		t.Fatalf("token mutated despite missing event: %s", got.State)
	}
}

func TestInvokeUnknownTypeFails(t *testing.T) {
	ctx := context.Background()
	d := NewDispatcher(store.NewMemory(), zap.NewNop())

	rec := &model.TransactionRecord{
		ID:      "tx-1",
		State:   model.TransactionStateMined,
		Receipt: &types.Receipt{Status: types.ReceiptStatusSuccessful},
		Callback: &model.CallbackDescriptor{
			Type: "legacyCallback",
			Args: json.RawMessage(`{}`),
		},
	}

	err := d.Invoke(ctx, rec)
	var unknown *UnknownCallbackError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownCallbackError, got %v", err)
	}
	if unknown.Type != "legacyCallback" {
		t.Fatalf("wrong type in error: %s", unknown.Type)
	}
}

func TestInvokePoolDeploy(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	d := NewDispatcher(st, zap.NewNop())

	if err := st.CreatePool(ctx, &model.Pool{ID: "pool-1", ChainID: 137, CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("create pool: %v", err)
	}

	diamond := common.HexToAddress("0x7777777777777777777777777777777777777777")
	rec := &model.TransactionRecord{
		ID:      "tx-1",
		State:   model.TransactionStateMined,
		Receipt: deployedReceipt(t, diamond),
		Callback: &model.CallbackDescriptor{
			Type: TypePoolDeploy,
			Args: mustArgs(t, PoolDeployArgs{PoolID: "pool-1"}),
		},
	}
	if err := d.Invoke(ctx, rec); err != nil {
		t.Fatalf("invoke: %v", err)
	}

	pool, err := st.GetPool(ctx, "pool-1")
	if err != nil {
		t.Fatalf("get pool: %v", err)
	}
	if pool.Address != diamond.Hex() {
		t.Fatalf("pool address not set: %s", pool.Address)
	}
}

func TestInvokeTokenContractDeploy(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	d := NewDispatcher(st, zap.NewNop())

	if err := st.CreateTokenContract(ctx, &model.TokenContract{ID: "contract-1", Kind: model.TokenKindERC1155, CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("create contract: %v", err)
	}

	deployed := common.HexToAddress("0x8888888888888888888888888888888888888888")
	rec := &model.TransactionRecord{
		ID:    "tx-1",
		State: model.TransactionStateMined,
		Receipt: &types.Receipt{
			Status:          types.ReceiptStatusSuccessful,
			BlockNumber:     big.NewInt(7),
			ContractAddress: deployed,
			Logs:            []*types.Log{ownershipTransferredLog(t, deployed)},
		},
		Callback: &model.CallbackDescriptor{
			Type: TypeERC1155Deploy,
			Args: mustArgs(t, TokenDeployArgs{ContractID: "contract-1"}),
		},
	}
	if err := d.Invoke(ctx, rec); err != nil {
		t.Fatalf("invoke: %v", err)
	}

	contract, err := st.GetTokenContract(ctx, "contract-1")
	if err != nil {
		t.Fatalf("get contract: %v", err)
	}
	if contract.Address != deployed.Hex() {
		t.Fatalf("contract address not set: %s", contract.Address)
	}
}

func TestInvokeTokenContractDeployMissingEvent(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	d := NewDispatcher(st, zap.NewNop())

	if err := st.CreateTokenContract(ctx, &model.TokenContract{ID: "contract-1", Kind: model.TokenKindERC721, CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("create contract: %v", err)
	}

	rec := &model.TransactionRecord{
		ID:    "tx-1",
		State: model.TransactionStateMined,
		Receipt: &types.Receipt{
			Status:          types.ReceiptStatusSuccessful,
			BlockNumber:     big.NewInt(7),
			ContractAddress: common.HexToAddress("0x8888888888888888888888888888888888888888"),
		},
		Callback: &model.CallbackDescriptor{
			Type: TypeERC721Deploy,
			Args: mustArgs(t, TokenDeployArgs{ContractID: "contract-1"}),
		},
	}

	err := d.Invoke(ctx, rec)
	var notFound *events.ExpectedEventNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ExpectedEventNotFoundError, got %v", err)
	}

	contract, err := st.GetTokenContract(ctx, "contract-1")
	if err != nil {
		t.Fatalf("get contract: %v", err)
	}
	if contract.Address != "" {
		t.Fatalf("contract address set despite missing event: %s", contract.Address)
	}
}

func TestInvokeWithdrawal(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	d := NewDispatcher(st, zap.NewNop())

	if err := st.CreateWithdrawal(ctx, &model.Withdrawal{ID: "wd-1", State: model.WithdrawalStatePending, CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("create withdrawal: %v", err)
	}

	beneficiary := common.HexToAddress("0x9999999999999999999999999999999999999999")
	rec := &model.TransactionRecord{
		ID:      "tx-1",
		State:   model.TransactionStateMined,
		Receipt: withdrawnReceipt(t, beneficiary),
		Callback: &model.CallbackDescriptor{
			Type: TypeWithdrawal,
			Args: mustArgs(t, WithdrawalArgs{WithdrawalID: "wd-1"}),
		},
	}
	if err := d.Invoke(ctx, rec); err != nil {
		t.Fatalf("invoke: %v", err)
	}

	wd, err := st.GetWithdrawal(ctx, "wd-1")
	if err != nil {
		t.Fatalf("get withdrawal: %v", err)
	}
	if wd.State != model.WithdrawalStateWithdrawn {
		t.Fatalf("withdrawal not completed: %s", wd.State)
	}
}
