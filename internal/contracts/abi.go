// Package contracts holds the ABIs of the platform contracts: the diamond
// pool factory, the pool facets, the reward token contracts and the Safe
// multisig contracts.
package contracts

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const poolFactoryABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "internalType": "address", "name": "diamond", "type": "address"}
    ],
    "name": "DiamondDeployed",
    "type": "event"
  },
  {
    "inputs": [
      {
        "components": [
          {"internalType": "address", "name": "facetAddress", "type": "address"},
          {"internalType": "uint8", "name": "action", "type": "uint8"},
          {"internalType": "bytes4[]", "name": "functionSelectors", "type": "bytes4[]"}
        ],
        "internalType": "struct IDiamondCut.FacetCut[]",
        "name": "_diamondCut",
        "type": "tuple[]"
      }
    ],
    "name": "deploy",
    "outputs": [{"internalType": "address", "name": "", "type": "address"}],
    "stateMutability": "nonpayable",
    "type": "function"
  }
]`

const poolDiamondABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "internalType": "address", "name": "recipient", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "tokenId", "type": "uint256"}
    ],
    "name": "ERC721Minted",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "internalType": "address", "name": "recipient", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "tokenId", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"}
    ],
    "name": "ERC1155Minted",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "beneficiary", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"}
    ],
    "name": "Withdrawn",
    "type": "event"
  },
  {
    "inputs": [
      {"internalType": "address", "name": "_token", "type": "address"},
      {"internalType": "address", "name": "_recipient", "type": "address"},
      {"internalType": "string", "name": "_metadataId", "type": "string"}
    ],
    "name": "mintForERC721",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "address", "name": "_token", "type": "address"},
      {"internalType": "address", "name": "_recipient", "type": "address"},
      {"internalType": "uint256", "name": "_amount", "type": "uint256"},
      {"internalType": "string", "name": "_metadataId", "type": "string"}
    ],
    "name": "mintForERC1155",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "address", "name": "_beneficiary", "type": "address"},
      {"internalType": "uint256", "name": "_amount", "type": "uint256"}
    ],
    "name": "withdrawFor",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  }
]`

const tokenABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "from", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "to", "type": "address"},
      {"indexed": true, "internalType": "uint256", "name": "tokenId", "type": "uint256"}
    ],
    "name": "Transfer",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "previousOwner", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "newOwner", "type": "address"}
    ],
    "name": "OwnershipTransferred",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "bytes32", "name": "role", "type": "bytes32"},
      {"indexed": true, "internalType": "address", "name": "account", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "sender", "type": "address"}
    ],
    "name": "RoleGranted",
    "type": "event"
  },
  {
    "inputs": [
      {"internalType": "bytes32", "name": "role", "type": "bytes32"},
      {"internalType": "address", "name": "account", "type": "address"}
    ],
    "name": "grantRole",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  }
]`

const safeABIJSON = `[
  {
    "inputs": [
      {"internalType": "address[]", "name": "_owners", "type": "address[]"},
      {"internalType": "uint256", "name": "_threshold", "type": "uint256"},
      {"internalType": "address", "name": "to", "type": "address"},
      {"internalType": "bytes", "name": "data", "type": "bytes"},
      {"internalType": "address", "name": "fallbackHandler", "type": "address"},
      {"internalType": "address", "name": "paymentToken", "type": "address"},
      {"internalType": "uint256", "name": "payment", "type": "uint256"},
      {"internalType": "address payable", "name": "paymentReceiver", "type": "address"}
    ],
    "name": "setup",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "address", "name": "to", "type": "address"},
      {"internalType": "uint256", "name": "value", "type": "uint256"},
      {"internalType": "bytes", "name": "data", "type": "bytes"},
      {"internalType": "uint8", "name": "operation", "type": "uint8"},
      {"internalType": "uint256", "name": "safeTxGas", "type": "uint256"},
      {"internalType": "uint256", "name": "baseGas", "type": "uint256"},
      {"internalType": "uint256", "name": "gasPrice", "type": "uint256"},
      {"internalType": "address", "name": "gasToken", "type": "address"},
      {"internalType": "address payable", "name": "refundReceiver", "type": "address"},
      {"internalType": "bytes", "name": "signatures", "type": "bytes"}
    ],
    "name": "execTransaction",
    "outputs": [{"internalType": "bool", "name": "success", "type": "bool"}],
    "stateMutability": "payable",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "address", "name": "prevOwner", "type": "address"},
      {"internalType": "address", "name": "oldOwner", "type": "address"},
      {"internalType": "address", "name": "newOwner", "type": "address"}
    ],
    "name": "swapOwner",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "nonce",
    "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "getOwners",
    "outputs": [{"internalType": "address[]", "name": "", "type": "address[]"}],
    "stateMutability": "view",
    "type": "function"
  }
]`

const safeProxyFactoryABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "internalType": "contract GnosisSafeProxy", "name": "proxy", "type": "address"},
      {"indexed": false, "internalType": "address", "name": "singleton", "type": "address"}
    ],
    "name": "ProxyCreation",
    "type": "event"
  },
  {
    "inputs": [
      {"internalType": "address", "name": "_singleton", "type": "address"},
      {"internalType": "bytes", "name": "initializer", "type": "bytes"},
      {"internalType": "uint256", "name": "saltNonce", "type": "uint256"}
    ],
    "name": "createProxyWithNonce",
    "outputs": [{"internalType": "contract GnosisSafeProxy", "name": "proxy", "type": "address"}],
    "stateMutability": "nonpayable",
    "type": "function"
  }
]`

var (
	poolFactoryABI         abi.ABI
	poolFactoryABIOnce     sync.Once
	poolFactoryABIErr      error
	poolDiamondABI         abi.ABI
	poolDiamondABIOnce     sync.Once
	poolDiamondABIErr      error
	tokenABI               abi.ABI
	tokenABIOnce           sync.Once
	tokenABIErr            error
	safeABI                abi.ABI
	safeABIOnce            sync.Once
	safeABIErr             error
	safeProxyFactoryABI    abi.ABI
	safeProxyFactoryOnce   sync.Once
	safeProxyFactoryABIErr error
)

// PoolFactoryABI returns the parsed diamond factory ABI.
func PoolFactoryABI() (abi.ABI, error) {
	poolFactoryABIOnce.Do(func() {
		poolFactoryABI, poolFactoryABIErr = abi.JSON(strings.NewReader(poolFactoryABIJSON))
	})
	return poolFactoryABI, poolFactoryABIErr
}

// PoolDiamondABI returns the parsed pool facet ABI.
func PoolDiamondABI() (abi.ABI, error) {
	poolDiamondABIOnce.Do(func() {
		poolDiamondABI, poolDiamondABIErr = abi.JSON(strings.NewReader(poolDiamondABIJSON))
	})
	return poolDiamondABI, poolDiamondABIErr
}

// TokenABI returns the parsed reward token ABI, shared by the ERC20, ERC721
// and ERC1155 contracts for the events and admin calls the relayer needs.
func TokenABI() (abi.ABI, error) {
	tokenABIOnce.Do(func() {
		tokenABI, tokenABIErr = abi.JSON(strings.NewReader(tokenABIJSON))
	})
	return tokenABI, tokenABIErr
}

// SafeABI returns the parsed Safe singleton ABI.
func SafeABI() (abi.ABI, error) {
	safeABIOnce.Do(func() {
		safeABI, safeABIErr = abi.JSON(strings.NewReader(safeABIJSON))
	})
	return safeABI, safeABIErr
}

// SafeProxyFactoryABI returns the parsed Safe proxy factory ABI.
func SafeProxyFactoryABI() (abi.ABI, error) {
	safeProxyFactoryOnce.Do(func() {
		safeProxyFactoryABI, safeProxyFactoryABIErr = abi.JSON(strings.NewReader(safeProxyFactoryABIJSON))
	})
	return safeProxyFactoryABI, safeProxyFactoryABIErr
}
