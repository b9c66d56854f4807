package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Phlame68/monorepo/internal/config"
)

// Registry constructs providers on demand from network configuration and
// caches them per chain id.
type Registry struct {
	cfg config.Config
	key *ecdsa.PrivateKey

	mu        sync.Mutex
	providers map[uint64]*Provider
}

// NewRegistry parses the backend signing key and prepares the registry. No
// network connection is made until a provider is requested.
func NewRegistry(cfg config.Config) (*Registry, error) {
	if cfg.PrivateKey == "" {
		return nil, fmt.Errorf("private key is required")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &Registry{
		cfg:       cfg,
		key:       key,
		providers: make(map[uint64]*Provider),
	}, nil
}

// Provider returns the cached provider for a chain id, dialing it first if
// needed.
func (r *Registry) Provider(ctx context.Context, chainID uint64) (*Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.providers[chainID]; ok {
		return p, nil
	}

	network, err := r.cfg.Network(chainID)
	if err != nil {
		return nil, err
	}
	p, err := NewProvider(ctx, network, r.key, r.cfg.MinimumGasLimit)
	if err != nil {
		return nil, err
	}
	r.providers[chainID] = p
	return p, nil
}

// Close closes all dialed providers.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.providers {
		p.Close()
	}
	r.providers = make(map[uint64]*Provider)
}
