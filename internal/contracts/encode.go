package contracts

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// FacetCut describes one facet wired into a diamond on deploy. Field names
// match the ABI tuple components.
type FacetCut struct {
	FacetAddress      common.Address
	Action            uint8
	FunctionSelectors [][4]byte
}

// MinterRole is the role hash checked by the token contracts' grantRole.
func MinterRole() [32]byte {
	var role [32]byte
	copy(role[:], crypto.Keccak256([]byte("MINTER_ROLE")))
	return role
}

// EncodePoolDeploy encodes the factory deploy call for a new pool diamond.
func EncodePoolDeploy(cuts []FacetCut) ([]byte, error) {
	factoryABI, err := PoolFactoryABI()
	if err != nil {
		return nil, err
	}
	data, err := factoryABI.Pack("deploy", cuts)
	if err != nil {
		return nil, fmt.Errorf("encode pool deploy: %w", err)
	}
	return data, nil
}

// EncodeMintERC721 encodes the pool facet call minting an ERC721 token.
func EncodeMintERC721(token, recipient common.Address, metadataID string) ([]byte, error) {
	diamondABI, err := PoolDiamondABI()
	if err != nil {
		return nil, err
	}
	data, err := diamondABI.Pack("mintForERC721", token, recipient, metadataID)
	if err != nil {
		return nil, fmt.Errorf("encode mintForERC721: %w", err)
	}
	return data, nil
}

// EncodeMintERC1155 encodes the pool facet call minting ERC1155 tokens.
func EncodeMintERC1155(token, recipient common.Address, amount *big.Int, metadataID string) ([]byte, error) {
	diamondABI, err := PoolDiamondABI()
	if err != nil {
		return nil, err
	}
	data, err := diamondABI.Pack("mintForERC1155", token, recipient, amount, metadataID)
	if err != nil {
		return nil, fmt.Errorf("encode mintForERC1155: %w", err)
	}
	return data, nil
}

// EncodeWithdrawFor encodes the pool facet call paying out an ERC20 amount.
func EncodeWithdrawFor(beneficiary common.Address, amount *big.Int) ([]byte, error) {
	diamondABI, err := PoolDiamondABI()
	if err != nil {
		return nil, err
	}
	data, err := diamondABI.Pack("withdrawFor", beneficiary, amount)
	if err != nil {
		return nil, fmt.Errorf("encode withdrawFor: %w", err)
	}
	return data, nil
}

// EncodeGrantMinterRole encodes grantRole(MINTER_ROLE, account) on a token.
func EncodeGrantMinterRole(account common.Address) ([]byte, error) {
	token, err := TokenABI()
	if err != nil {
		return nil, err
	}
	data, err := token.Pack("grantRole", MinterRole(), account)
	if err != nil {
		return nil, fmt.Errorf("encode grantRole: %w", err)
	}
	return data, nil
}

// EncodeSafeSetup encodes the Safe setup initializer for a new wallet.
func EncodeSafeSetup(owners []common.Address, threshold int64, fallbackHandler common.Address) ([]byte, error) {
	safe, err := SafeABI()
	if err != nil {
		return nil, err
	}
	data, err := safe.Pack("setup",
		owners,
		big.NewInt(threshold),
		common.Address{},
		[]byte{},
		fallbackHandler,
		common.Address{},
		big.NewInt(0),
		common.Address{},
	)
	if err != nil {
		return nil, fmt.Errorf("encode safe setup: %w", err)
	}
	return data, nil
}

// EncodeCreateProxyWithNonce encodes the Safe factory deploy call.
func EncodeCreateProxyWithNonce(singleton common.Address, initializer []byte, saltNonce *big.Int) ([]byte, error) {
	factory, err := SafeProxyFactoryABI()
	if err != nil {
		return nil, err
	}
	data, err := factory.Pack("createProxyWithNonce", singleton, initializer, saltNonce)
	if err != nil {
		return nil, fmt.Errorf("encode createProxyWithNonce: %w", err)
	}
	return data, nil
}

// EncodeSwapOwner encodes the Safe owner swap call. prevOwner is the owner
// preceding oldOwner in the Safe's internal linked list.
func EncodeSwapOwner(prevOwner, oldOwner, newOwner common.Address) ([]byte, error) {
	safe, err := SafeABI()
	if err != nil {
		return nil, err
	}
	data, err := safe.Pack("swapOwner", prevOwner, oldOwner, newOwner)
	if err != nil {
		return nil, fmt.Errorf("encode swapOwner: %w", err)
	}
	return data, nil
}

// ExecTransactionParams mirrors the Safe execTransaction argument list.
type ExecTransactionParams struct {
	To             common.Address
	Value          *big.Int
	Data           []byte
	Operation      uint8
	SafeTxGas      *big.Int
	BaseGas        *big.Int
	GasPrice       *big.Int
	GasToken       common.Address
	RefundReceiver common.Address
	Signatures     []byte
}

// EncodeExecTransaction encodes the Safe execTransaction call.
func EncodeExecTransaction(p ExecTransactionParams) ([]byte, error) {
	safe, err := SafeABI()
	if err != nil {
		return nil, err
	}
	data, err := safe.Pack("execTransaction",
		p.To, p.Value, p.Data, p.Operation,
		p.SafeTxGas, p.BaseGas, p.GasPrice,
		p.GasToken, p.RefundReceiver, p.Signatures,
	)
	if err != nil {
		return nil, fmt.Errorf("encode execTransaction: %w", err)
	}
	return data, nil
}
