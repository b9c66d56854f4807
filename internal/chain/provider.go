// Package chain wraps the per-network go-ethereum clients and the backend
// signing account.
package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/Phlame68/monorepo/internal/config"
)

// Provider is the connection to one chain: a read RPC client plus the
// backend's signing account and gas configuration.
type Provider struct {
	chainID         uint64
	rpcClient       *rpc.Client
	ethClient       *ethclient.Client
	key             *ecdsa.PrivateKey
	defaultAccount  common.Address
	minimumGasLimit uint64
}

// NewProvider dials the network RPC and verifies the chain id matches the
// configuration.
func NewProvider(ctx context.Context, network config.Network, key *ecdsa.PrivateKey, minimumGasLimit uint64) (*Provider, error) {
	rpcClient, err := rpc.DialContext(ctx, network.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc %s: %w", network.RPCURL, err)
	}
	ethClient := ethclient.NewClient(rpcClient)

	chainID, err := ethClient.ChainID(ctx)
	if err != nil {
		rpcClient.Close()
		return nil, fmt.Errorf("get chain id: %w", err)
	}
	if !chainID.IsUint64() || chainID.Uint64() != network.ChainID {
		rpcClient.Close()
		return nil, fmt.Errorf("rpc chain id %s does not match configured chain id %d", chainID, network.ChainID)
	}

	return &Provider{
		chainID:         network.ChainID,
		rpcClient:       rpcClient,
		ethClient:       ethClient,
		key:             key,
		defaultAccount:  crypto.PubkeyToAddress(key.PublicKey),
		minimumGasLimit: minimumGasLimit,
	}, nil
}

// Close closes the underlying RPC client.
func (p *Provider) Close() {
	if p.rpcClient != nil {
		p.rpcClient.Close()
	}
}

// ChainID returns the chain id this provider is connected to.
func (p *Provider) ChainID() uint64 {
	return p.chainID
}

// DefaultAccount returns the backend signing account address.
func (p *Provider) DefaultAccount() common.Address {
	return p.defaultAccount
}

// SignHash signs a 32-byte digest with the backend key. The returned
// signature is in [R || S || V] format with V in {0, 1}.
func (p *Provider) SignHash(digest []byte) ([]byte, error) {
	return crypto.Sign(digest, p.key)
}

// PrepareCall builds and signs a transaction for the encoded call without
// broadcasting it. Gas is estimated with the configured floor applied, since
// some chains underestimate and revert.
func (p *Provider) PrepareCall(ctx context.Context, to *common.Address, data []byte, value *big.Int) (*types.Transaction, error) {
	if value == nil {
		value = new(big.Int)
	}

	nonce, err := p.ethClient.PendingNonceAt(ctx, p.defaultAccount)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}

	gasPrice, err := p.ethClient.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}

	gas, err := p.ethClient.EstimateGas(ctx, ethereum.CallMsg{
		From:  p.defaultAccount,
		To:    to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return nil, fmt.Errorf("estimate gas: %w", err)
	}
	if gas < p.minimumGasLimit {
		gas = p.minimumGasLimit
	}

	unsigned := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       to,
		Value:    value,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})

	signer := types.LatestSignerForChainID(new(big.Int).SetUint64(p.chainID))
	signed, err := types.SignTx(unsigned, signer, p.key)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return signed, nil
}

// Broadcast submits a signed transaction to the network.
func (p *Provider) Broadcast(ctx context.Context, signed *types.Transaction) error {
	return p.ethClient.SendTransaction(ctx, signed)
}

// TransactionReceipt returns the receipt for a transaction hash, or
// ethereum.NotFound while the transaction is still pending.
func (p *Provider) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return p.ethClient.TransactionReceipt(ctx, hash)
}

// WaitMined polls for the receipt until it appears or the timeout elapses.
// Chain subscriptions are deliberately not used; the RPC providers in use do
// not support them reliably.
func (p *Provider) WaitMined(ctx context.Context, hash common.Hash, interval, timeout time.Duration) (*types.Receipt, error) {
	deadline := time.Now().Add(timeout)
	for {
		receipt, err := p.ethClient.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if err != ethereum.NotFound {
			return nil, fmt.Errorf("get receipt: %w", err)
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("transaction %s not mined after %s", hash.Hex(), timeout)
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// CodeAt returns the contract code at the given address.
func (p *Provider) CodeAt(ctx context.Context, addr common.Address) ([]byte, error) {
	return p.ethClient.CodeAt(ctx, addr, nil)
}

// CallContract performs an eth_call for a contract method.
func (p *Provider) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return p.ethClient.CallContract(ctx, msg, blockNumber)
}

// RevertReason replays a reverted call at the given block and returns the
// node's error string, or empty when the reason is not decodable.
func (p *Provider) RevertReason(ctx context.Context, to *common.Address, data []byte, blockNumber *big.Int) string {
	_, err := p.ethClient.CallContract(ctx, ethereum.CallMsg{
		From: p.defaultAccount,
		To:   to,
		Data: data,
	}, blockNumber)
	if err != nil {
		return err.Error()
	}
	return ""
}
