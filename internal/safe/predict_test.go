package safe

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	testFactory      = common.HexToAddress("0xa6B71E26C5e0845f74c812102Ca7114b6a896AB2")
	testSingleton    = common.HexToAddress("0xd9Db270c1B5E3Bd161E8c8503c55cEABeE709552")
	testCreationCode = common.FromHex("0x608060405234801561001057600080fd5b50604051610173380380610173833981016040819052")
)

func TestPredictAddressDeterministic(t *testing.T) {
	initializer := []byte{0x01, 0x02, 0x03}
	salt := big.NewInt(42)

	a := PredictAddress(testFactory, testSingleton, testCreationCode, initializer, salt)
	b := PredictAddress(testFactory, testSingleton, testCreationCode, initializer, salt)
	if a != b {
		t.Fatalf("prediction not deterministic: %s != %s", a.Hex(), b.Hex())
	}
	if a == (common.Address{}) {
		t.Fatalf("zero address predicted")
	}
}

func TestPredictAddressVariesWithInputs(t *testing.T) {
	initializer := []byte{0x01, 0x02, 0x03}
	base := PredictAddress(testFactory, testSingleton, testCreationCode, initializer, big.NewInt(1))

	if got := PredictAddress(testFactory, testSingleton, testCreationCode, initializer, big.NewInt(2)); got == base {
		t.Fatalf("salt nonce not committed to")
	}
	if got := PredictAddress(testFactory, testSingleton, testCreationCode, []byte{0x04}, big.NewInt(1)); got == base {
		t.Fatalf("initializer not committed to")
	}
	if got := PredictAddress(testFactory, testSingleton, append([]byte{0x00}, testCreationCode...), initializer, big.NewInt(1)); got == base {
		t.Fatalf("creation code not committed to")
	}
}

func TestSaltNonceDerivedFromWalletID(t *testing.T) {
	a := SaltNonce("wallet-1")
	b := SaltNonce("wallet-1")
	if a.Cmp(b) != 0 {
		t.Fatalf("salt nonce not deterministic")
	}
	if a.Cmp(SaltNonce("wallet-2")) == 0 {
		t.Fatalf("distinct wallets share a salt nonce")
	}
}

func TestTransactionHashCommitsToFields(t *testing.T) {
	wallet := common.HexToAddress("0x5555555555555555555555555555555555555555")
	base := TxParams{
		To:    common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Value: big.NewInt(0),
		Data:  []byte{0xde, 0xad},
		Nonce: big.NewInt(0),
	}

	h := TransactionHash(137, wallet, base)
	if h != TransactionHash(137, wallet, base) {
		t.Fatalf("hash not deterministic")
	}

	bumped := base
	bumped.Nonce = big.NewInt(1)
	if TransactionHash(137, wallet, bumped) == h {
		t.Fatalf("nonce not committed to")
	}
	if TransactionHash(80002, wallet, base) == h {
		t.Fatalf("chain id not committed to")
	}
	other := base
	other.Data = []byte{0xbe, 0xef}
	if TransactionHash(137, wallet, other) == h {
		t.Fatalf("data not committed to")
	}
}
