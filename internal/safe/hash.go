package safe

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Phlame68/monorepo/internal/model"
)

// EIP-712 type hashes from the Safe v1.3.0 contracts.
var (
	safeTxTypehash          = common.HexToHash("0xbb8310d486368db6bd6f849402fdd73ad53d316b5a4b2644ad6efe0f941286d8")
	domainSeparatorTypehash = common.HexToHash("0x47e79534a245952e8b16893a336b85a3d9ea9fa8c573f3d803afb92a79469218")
)

// TxParams are the fields committed to by a Safe transaction hash.
type TxParams struct {
	To             common.Address
	Value          *big.Int
	Data           []byte
	Operation      uint8
	SafeTxGas      *big.Int
	BaseGas        *big.Int
	GasPrice       *big.Int
	GasToken       common.Address
	RefundReceiver common.Address
	Nonce          *big.Int
}

// TransactionHash computes the EIP-712 digest owners sign to confirm a Safe
// transaction.
func TransactionHash(chainID uint64, safeAddress common.Address, p TxParams) common.Hash {
	domain := crypto.Keccak256(
		domainSeparatorTypehash.Bytes(),
		uintWord(new(big.Int).SetUint64(chainID)),
		addressWord(safeAddress),
	)

	structHash := crypto.Keccak256(
		safeTxTypehash.Bytes(),
		addressWord(p.To),
		uintWord(p.Value),
		crypto.Keccak256(p.Data),
		uintWord(new(big.Int).SetUint64(uint64(p.Operation))),
		uintWord(p.SafeTxGas),
		uintWord(p.BaseGas),
		uintWord(p.GasPrice),
		addressWord(p.GasToken),
		addressWord(p.RefundReceiver),
		uintWord(p.Nonce),
	)

	return common.BytesToHash(crypto.Keccak256([]byte{0x19, 0x01}, domain, structHash))
}

// ProposalHash recomputes the transaction hash for a stored proposal.
func ProposalHash(p *model.SafeProposal) (common.Hash, error) {
	params, err := proposalParams(p)
	if err != nil {
		return common.Hash{}, err
	}
	return TransactionHash(p.ChainID, common.HexToAddress(p.WalletAddress), params), nil
}

func proposalParams(p *model.SafeProposal) (TxParams, error) {
	value, err := decimalBig(p.Value)
	if err != nil {
		return TxParams{}, fmt.Errorf("parse value: %w", err)
	}
	gasPrice, err := decimalBig(p.GasPrice)
	if err != nil {
		return TxParams{}, fmt.Errorf("parse gas price: %w", err)
	}
	return TxParams{
		To:             common.HexToAddress(p.To),
		Value:          value,
		Data:           common.FromHex(p.Data),
		Operation:      uint8(p.Operation),
		SafeTxGas:      new(big.Int).SetUint64(p.SafeTxGas),
		BaseGas:        new(big.Int).SetUint64(p.BaseGas),
		GasPrice:       gasPrice,
		GasToken:       common.HexToAddress(p.GasToken),
		RefundReceiver: common.HexToAddress(p.RefundReceiver),
		Nonce:          new(big.Int).SetUint64(p.Nonce),
	}, nil
}

func decimalBig(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("not a decimal integer: %q", s)
	}
	return v, nil
}

func uintWord(v *big.Int) []byte {
	if v == nil {
		v = new(big.Int)
	}
	return common.LeftPadBytes(v.Bytes(), 32)
}

func addressWord(a common.Address) []byte {
	return common.LeftPadBytes(a.Bytes(), 32)
}
