package events

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Phlame68/monorepo/internal/contracts"
)

func mintLog(t *testing.T, recipient common.Address, tokenID, amount int64) *types.Log {
	t.Helper()
	diamondABI, err := contracts.PoolDiamondABI()
	if err != nil {
		t.Fatalf("load abi: %v", err)
	}
	ev := diamondABI.Events["ERC1155Minted"]
	data, err := ev.Inputs.Pack(recipient, big.NewInt(tokenID), big.NewInt(amount))
	if err != nil {
		t.Fatalf("pack event data: %v", err)
	}
	return &types.Log{
		Topics: []common.Hash{ev.ID},
		Data:   data,
	}
}

func withdrawnLog(t *testing.T, beneficiary common.Address, amount int64) *types.Log {
	t.Helper()
	diamondABI, err := contracts.PoolDiamondABI()
	if err != nil {
		t.Fatalf("load abi: %v", err)
	}
	ev := diamondABI.Events["Withdrawn"]
	data, err := ev.Inputs.NonIndexed().Pack(big.NewInt(amount))
	if err != nil {
		t.Fatalf("pack event data: %v", err)
	}
	return &types.Log{
		Topics: []common.Hash{ev.ID, common.BytesToHash(common.LeftPadBytes(beneficiary.Bytes(), 32))},
		Data:   data,
	}
}

func TestParseLogsDecodesArguments(t *testing.T) {
	diamondABI, err := contracts.PoolDiamondABI()
	if err != nil {
		t.Fatalf("load abi: %v", err)
	}
	recipient := common.HexToAddress("0x1111111111111111111111111111111111111111")

	evs := ParseLogs(diamondABI, []*types.Log{mintLog(t, recipient, 3, 1)})
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	if evs[0].Name != "ERC1155Minted" {
		t.Fatalf("unexpected event name: %s", evs[0].Name)
	}
	got, ok := evs[0].Args["recipient"].(common.Address)
	if !ok || got != recipient {
		t.Fatalf("recipient mismatch: %v", evs[0].Args["recipient"])
	}
	tokenID, ok := evs[0].Args["tokenId"].(*big.Int)
	if !ok || tokenID.Int64() != 3 {
		t.Fatalf("tokenId mismatch: %v", evs[0].Args["tokenId"])
	}
}

func TestParseLogsDecodesIndexedTopics(t *testing.T) {
	diamondABI, err := contracts.PoolDiamondABI()
	if err != nil {
		t.Fatalf("load abi: %v", err)
	}
	beneficiary := common.HexToAddress("0x2222222222222222222222222222222222222222")

	evs := ParseLogs(diamondABI, []*types.Log{withdrawnLog(t, beneficiary, 500)})
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	got, ok := evs[0].Args["beneficiary"].(common.Address)
	if !ok || got != beneficiary {
		t.Fatalf("beneficiary mismatch: %v", evs[0].Args["beneficiary"])
	}
	amount, ok := evs[0].Args["amount"].(*big.Int)
	if !ok || amount.Int64() != 500 {
		t.Fatalf("amount mismatch: %v", evs[0].Args["amount"])
	}
}

func TestParseLogsPreservesOrderAndSkipsUnknown(t *testing.T) {
	diamondABI, err := contracts.PoolDiamondABI()
	if err != nil {
		t.Fatalf("load abi: %v", err)
	}
	recipient := common.HexToAddress("0x3333333333333333333333333333333333333333")

	logs := []*types.Log{
		withdrawnLog(t, recipient, 1),
		{Topics: []common.Hash{common.HexToHash("0xdead")}}, // not in the ABI
		mintLog(t, recipient, 7, 1),
		nil,
	}
	evs := ParseLogs(diamondABI, logs)
	if len(evs) != 2 {
		t.Fatalf("expected 2 events, got %d", len(evs))
	}
	if evs[0].Name != "Withdrawn" || evs[1].Name != "ERC1155Minted" {
		t.Fatalf("order not preserved: %s, %s", evs[0].Name, evs[1].Name)
	}
}

func TestFindAndAssertEvent(t *testing.T) {
	evs := []Event{{Name: "A"}, {Name: "B"}}

	if ev := FindEvent("B", evs); ev == nil || ev.Name != "B" {
		t.Fatalf("FindEvent failed: %+v", ev)
	}
	if ev := FindEvent("C", evs); ev != nil {
		t.Fatalf("expected nil for missing event, got %+v", ev)
	}

	if _, err := AssertEvent("A", evs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := AssertEvent("C", evs)
	var notFound *ExpectedEventNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ExpectedEventNotFoundError, got %v", err)
	}
	if notFound.Event != "C" {
		t.Fatalf("wrong event in error: %s", notFound.Event)
	}
}
