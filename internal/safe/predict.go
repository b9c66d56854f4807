// Package safe orchestrates the 2-of-2 multisig wallets: deterministic
// address prediction, proxy deployment, and the propose/confirm/execute
// transaction flow.
package safe

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SentinelOwner heads the Safe's internal owner linked list.
var SentinelOwner = common.HexToAddress("0x0000000000000000000000000000000000000001")

// PredictAddress computes the CREATE2 address the proxy factory will deploy
// to for the given initializer and salt nonce. The prediction matches
// SafeProxyFactory.createProxyWithNonce: the salt commits to the initializer
// hash, and the deployment data is the proxy creation code with the
// singleton address appended as a 32-byte word.
func PredictAddress(factory, singleton common.Address, proxyCreationCode, initializer []byte, saltNonce *big.Int) common.Address {
	salt := crypto.Keccak256(
		crypto.Keccak256(initializer),
		common.LeftPadBytes(saltNonce.Bytes(), 32),
	)

	deploymentData := make([]byte, 0, len(proxyCreationCode)+32)
	deploymentData = append(deploymentData, proxyCreationCode...)
	deploymentData = append(deploymentData, common.LeftPadBytes(singleton.Bytes(), 32)...)

	return crypto.CreateAddress2(factory, [32]byte(salt), crypto.Keccak256(deploymentData))
}

// SaltNonce derives the deterministic salt nonce for a wallet record, so the
// deploy worker can reproduce the predicted address from the record alone.
func SaltNonce(walletID string) *big.Int {
	return new(big.Int).SetBytes(crypto.Keccak256([]byte(walletID)))
}
