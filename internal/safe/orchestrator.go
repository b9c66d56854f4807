package safe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Phlame68/monorepo/internal/config"
	"github.com/Phlame68/monorepo/internal/contracts"
	"github.com/Phlame68/monorepo/internal/model"
	"github.com/Phlame68/monorepo/internal/store"
)

var (
	// ErrThresholdNotMet is returned by Execute when the proposal has fewer
	// confirmations than the wallet threshold.
	ErrThresholdNotMet = errors.New("confirmation threshold not met")
	// ErrNotAnOwner is returned when a confirmation does not come from a
	// wallet owner.
	ErrNotAnOwner = errors.New("signer is not a wallet owner")
)

// Backend is the chain access the orchestrator needs for one network.
type Backend interface {
	DefaultAccount() common.Address
	SignHash(digest []byte) ([]byte, error)
	CodeAt(ctx context.Context, addr common.Address) ([]byte, error)
}

// BackendRegistry resolves the Backend for a chain id.
type BackendRegistry interface {
	Backend(ctx context.Context, chainID uint64) (Backend, error)
}

// RegistryFunc adapts a function to the BackendRegistry interface.
type RegistryFunc func(ctx context.Context, chainID uint64) (Backend, error)

func (f RegistryFunc) Backend(ctx context.Context, chainID uint64) (Backend, error) {
	return f(ctx, chainID)
}

// Sender broadcasts a call and blocks until it settles.
type Sender interface {
	Send(ctx context.Context, chainID uint64, to string, data []byte, callback *model.CallbackDescriptor) (*model.TransactionRecord, error)
}

// Orchestrator manages Safe wallets: creation with a predicted address,
// proxy deployment, and the propose/confirm/execute flow. The backend
// account is always an owner and co-signs every proposal, so a wallet with
// threshold 2 needs exactly one user confirmation to execute.
type Orchestrator struct {
	store    store.Store
	backends BackendRegistry
	sender   Sender
	cfg      config.Config
	log      *zap.Logger
}

func NewOrchestrator(st store.Store, backends BackendRegistry, sender Sender, cfg config.Config, log *zap.Logger) *Orchestrator {
	return &Orchestrator{
		store:    st,
		backends: backends,
		sender:   sender,
		cfg:      cfg,
		log:      log,
	}
}

// Create predicts the wallet address, persists the record, and deploys the
// proxy. When the inline deploy fails the wallet is queued for the deploy
// worker instead; the predicted address is valid either way.
func (o *Orchestrator) Create(ctx context.Context, sub string, chainID uint64, ownerAddress string) (*model.Wallet, error) {
	network, err := o.cfg.Network(chainID)
	if err != nil {
		return nil, err
	}
	backend, err := o.backends.Backend(ctx, chainID)
	if err != nil {
		return nil, err
	}

	existing, err := o.store.ListWalletsBySub(ctx, sub)
	if err != nil {
		return nil, err
	}
	for _, w := range existing {
		if w.ChainID == chainID {
			return w, nil
		}
	}

	owners := []common.Address{backend.DefaultAccount()}
	threshold := 1
	if ownerAddress != "" {
		owners = append(owners, common.HexToAddress(ownerAddress))
		threshold = 2
	}

	walletID := uuid.NewString()
	initializer, err := setupInitializer(network, owners, threshold)
	if err != nil {
		return nil, err
	}
	predicted := PredictAddress(
		common.HexToAddress(network.Safe.ProxyFactory),
		common.HexToAddress(network.Safe.Singleton),
		common.FromHex(network.Safe.ProxyCreationCode),
		initializer,
		SaltNonce(walletID),
	)

	ownerHexes := make([]string, len(owners))
	for i, owner := range owners {
		ownerHexes[i] = owner.Hex()
	}
	wallet := &model.Wallet{
		ID:          walletID,
		Sub:         sub,
		ChainID:     chainID,
		Address:     predicted.Hex(),
		SafeVersion: network.Safe.Version,
		Owners:      ownerHexes,
		Threshold:   threshold,
		CreatedAt:   time.Now().UTC(),
	}
	if err := o.store.CreateWallet(ctx, wallet); err != nil {
		return nil, fmt.Errorf("create wallet: %w", err)
	}

	if err := o.DeployWallet(ctx, wallet); err != nil {
		o.log.Warn("inline safe deploy failed, queueing",
			zap.String("wallet", wallet.ID),
			zap.String("address", wallet.Address),
			zap.Error(err),
		)
		if qerr := o.store.EnqueueDeployJob(ctx, wallet.ID); qerr != nil {
			return nil, fmt.Errorf("enqueue deploy job: %w", qerr)
		}
	}
	return wallet, nil
}

// DeployWallet deploys the wallet proxy. Deploys are idempotent by address:
// a wallet whose predicted address already has code is a no-op.
func (o *Orchestrator) DeployWallet(ctx context.Context, wallet *model.Wallet) error {
	network, err := o.cfg.Network(wallet.ChainID)
	if err != nil {
		return err
	}
	backend, err := o.backends.Backend(ctx, wallet.ChainID)
	if err != nil {
		return err
	}

	code, err := backend.CodeAt(ctx, common.HexToAddress(wallet.Address))
	if err != nil {
		return fmt.Errorf("check code: %w", err)
	}
	if len(code) > 0 {
		return nil
	}

	owners := make([]common.Address, len(wallet.Owners))
	for i, owner := range wallet.Owners {
		owners[i] = common.HexToAddress(owner)
	}
	initializer, err := setupInitializer(network, owners, wallet.Threshold)
	if err != nil {
		return err
	}
	data, err := contracts.EncodeCreateProxyWithNonce(
		common.HexToAddress(network.Safe.Singleton),
		initializer,
		SaltNonce(wallet.ID),
	)
	if err != nil {
		return err
	}

	rec, err := o.sender.Send(ctx, wallet.ChainID, network.Safe.ProxyFactory, data, nil)
	if err != nil {
		return fmt.Errorf("deploy proxy: %w", err)
	}
	if rec.State != model.TransactionStateMined {
		return fmt.Errorf("deploy proxy: transaction %s %s: %s", rec.ID, rec.State, rec.FailReason)
	}

	o.log.Info("safe deployed",
		zap.String("wallet", wallet.ID),
		zap.String("address", wallet.Address),
		zap.Uint64("chain", wallet.ChainID),
	)
	return nil
}

// ProposeTransaction stores a new proposal co-signed by the backend account
// and mirrors it to the network's transaction service when one is
// configured. The proposal nonce is the count of prior proposals for the
// wallet.
func (o *Orchestrator) ProposeTransaction(ctx context.Context, walletID, to string, value *big.Int, data []byte, operation model.SafeOperation) (*model.SafeProposal, error) {
	wallet, err := o.store.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	backend, err := o.backends.Backend(ctx, wallet.ChainID)
	if err != nil {
		return nil, err
	}

	nonce, err := o.store.CountSafeProposals(ctx, wallet.Address)
	if err != nil {
		return nil, fmt.Errorf("count proposals: %w", err)
	}
	if value == nil {
		value = new(big.Int)
	}

	proposal := &model.SafeProposal{
		WalletAddress:  wallet.Address,
		ChainID:        wallet.ChainID,
		To:             to,
		Value:          value.String(),
		Data:           common.Bytes2Hex(data),
		Operation:      operation,
		GasPrice:       "0",
		GasToken:       (common.Address{}).Hex(),
		RefundReceiver: (common.Address{}).Hex(),
		Nonce:          nonce,
		CreatedAt:      time.Now().UTC(),
	}
	hash, err := ProposalHash(proposal)
	if err != nil {
		return nil, err
	}
	proposal.SafeTxHash = hash.Hex()

	sig, err := backend.SignHash(hash.Bytes())
	if err != nil {
		return nil, fmt.Errorf("sign proposal: %w", err)
	}
	sigHex := hexutil.Encode(normalizeSig(sig))
	proposal.Confirmations = []model.SafeConfirmation{{
		Owner:     backend.DefaultAccount().Hex(),
		Signature: sigHex,
	}}

	if err := o.store.CreateSafeProposal(ctx, proposal); err != nil {
		return nil, fmt.Errorf("store proposal: %w", err)
	}
	o.mirrorProposal(ctx, wallet, proposal, backend.DefaultAccount().Hex(), sigHex)

	o.log.Info("safe transaction proposed",
		zap.String("wallet", wallet.ID),
		zap.String("safe_tx_hash", proposal.SafeTxHash),
		zap.Uint64("nonce", nonce),
	)
	return proposal, nil
}

// Confirm records an owner signature on a proposal. The signature must
// recover to a wallet owner. Duplicate confirmations are no-ops. When the
// confirmation set reaches the wallet threshold the proposal executes.
func (o *Orchestrator) Confirm(ctx context.Context, safeTxHash, signature string) (*model.SafeProposal, error) {
	proposal, err := o.store.GetSafeProposal(ctx, safeTxHash)
	if err != nil {
		return nil, err
	}
	if proposal.Executed {
		return proposal, nil
	}
	wallet, err := o.store.GetWalletByAddress(ctx, proposal.WalletAddress)
	if err != nil {
		return nil, err
	}

	sig, err := hexutil.Decode(signature)
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}
	signer, err := recoverSigner(common.HexToHash(safeTxHash), sig)
	if err != nil {
		return nil, fmt.Errorf("recover signer: %w", err)
	}
	if !isOwner(wallet, signer) {
		return nil, fmt.Errorf("%w: %s", ErrNotAnOwner, signer.Hex())
	}

	// Relay first. A transaction service failure must not leave a local
	// confirmation the service never saw.
	sigHex := hexutil.Encode(normalizeSig(sig))
	if err := o.relayConfirmation(ctx, wallet, safeTxHash, sigHex); err != nil {
		return nil, fmt.Errorf("relay confirmation: %w", err)
	}
	if err := o.store.AddSafeConfirmation(ctx, safeTxHash, signer.Hex(), sigHex); err != nil {
		return nil, fmt.Errorf("add confirmation: %w", err)
	}
	proposal, err = o.store.GetSafeProposal(ctx, safeTxHash)
	if err != nil {
		return nil, err
	}

	if len(proposal.Confirmations) >= wallet.Threshold {
		if _, err := o.Execute(ctx, safeTxHash); err != nil {
			return nil, err
		}
		return o.store.GetSafeProposal(ctx, safeTxHash)
	}
	return proposal, nil
}

// Execute submits the confirmed proposal through the Safe. Signatures are
// concatenated in ascending owner address order, as the contract requires.
func (o *Orchestrator) Execute(ctx context.Context, safeTxHash string) (*model.TransactionRecord, error) {
	proposal, err := o.store.GetSafeProposal(ctx, safeTxHash)
	if err != nil {
		return nil, err
	}
	if proposal.Executed {
		return o.store.GetTransaction(ctx, proposal.ExecutionTxID)
	}
	wallet, err := o.store.GetWalletByAddress(ctx, proposal.WalletAddress)
	if err != nil {
		return nil, err
	}
	if len(proposal.Confirmations) < wallet.Threshold {
		return nil, fmt.Errorf("%w: have %d of %d", ErrThresholdNotMet, len(proposal.Confirmations), wallet.Threshold)
	}

	sigBlob, err := signatureBlob(proposal.Confirmations)
	if err != nil {
		return nil, err
	}
	params, err := proposalParams(proposal)
	if err != nil {
		return nil, err
	}
	data, err := contracts.EncodeExecTransaction(contracts.ExecTransactionParams{
		To:             params.To,
		Value:          params.Value,
		Data:           params.Data,
		Operation:      params.Operation,
		SafeTxGas:      params.SafeTxGas,
		BaseGas:        params.BaseGas,
		GasPrice:       params.GasPrice,
		GasToken:       params.GasToken,
		RefundReceiver: params.RefundReceiver,
		Signatures:     sigBlob,
	})
	if err != nil {
		return nil, err
	}

	rec, err := o.sender.Send(ctx, proposal.ChainID, proposal.WalletAddress, data, nil)
	if err != nil {
		return rec, fmt.Errorf("execute proposal: %w", err)
	}
	if rec.State != model.TransactionStateMined {
		return rec, fmt.Errorf("execute proposal: transaction %s %s: %s", rec.ID, rec.State, rec.FailReason)
	}

	if err := o.store.MarkSafeProposalExecuted(ctx, safeTxHash, rec.ID); err != nil {
		return rec, fmt.Errorf("mark executed: %w", err)
	}
	o.log.Info("safe transaction executed",
		zap.String("safe_tx_hash", safeTxHash),
		zap.String("tx_id", rec.ID),
	)
	return rec, nil
}

// ProposeSwapOwner proposes replacing oldOwner with newOwner on the wallet.
// The previous owner in the Safe's linked list is derived from the stored
// owner order.
func (o *Orchestrator) ProposeSwapOwner(ctx context.Context, walletID, oldOwner, newOwner string) (*model.SafeProposal, error) {
	wallet, err := o.store.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}

	prev := SentinelOwner
	found := false
	for i, owner := range wallet.Owners {
		if strings.EqualFold(owner, oldOwner) {
			if i > 0 {
				prev = common.HexToAddress(wallet.Owners[i-1])
			}
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrNotAnOwner, oldOwner)
	}

	data, err := contracts.EncodeSwapOwner(prev, common.HexToAddress(oldOwner), common.HexToAddress(newOwner))
	if err != nil {
		return nil, err
	}
	return o.ProposeTransaction(ctx, walletID, wallet.Address, nil, data, model.SafeOperationCall)
}

func (o *Orchestrator) mirrorProposal(ctx context.Context, wallet *model.Wallet, proposal *model.SafeProposal, sender, signature string) {
	network, err := o.cfg.Network(wallet.ChainID)
	if err != nil || network.SafeTxServiceURL == "" {
		return
	}
	client := NewServiceClient(network.SafeTxServiceURL)
	mtx := &MultisigTransaction{
		Safe:           proposal.WalletAddress,
		To:             proposal.To,
		Value:          proposal.Value,
		Data:           "0x" + proposal.Data,
		Operation:      int(proposal.Operation),
		SafeTxGas:      int(proposal.SafeTxGas),
		BaseGas:        int(proposal.BaseGas),
		GasPrice:       proposal.GasPrice,
		GasToken:       proposal.GasToken,
		RefundReceiver: proposal.RefundReceiver,
		Nonce:          int(proposal.Nonce),
		SafeTxHash:     proposal.SafeTxHash,
	}
	if err := client.ProposeTransaction(ctx, common.HexToAddress(wallet.Address), mtx, sender, signature); err != nil {
		o.log.Warn("mirror proposal to transaction service",
			zap.String("safe_tx_hash", proposal.SafeTxHash),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) relayConfirmation(ctx context.Context, wallet *model.Wallet, safeTxHash, signature string) error {
	network, err := o.cfg.Network(wallet.ChainID)
	if err != nil || network.SafeTxServiceURL == "" {
		return nil
	}
	client := NewServiceClient(network.SafeTxServiceURL)
	hash := common.HexToHash(safeTxHash)
	// The service rejects confirmations on executed transactions.
	executed, _, err := client.IsTransactionExecuted(ctx, hash)
	if err == nil && executed {
		return nil
	}
	return client.ConfirmTransaction(ctx, hash, signature)
}

func setupInitializer(network config.Network, owners []common.Address, threshold int) ([]byte, error) {
	return contracts.EncodeSafeSetup(owners, int64(threshold), common.HexToAddress(network.Safe.FallbackHandler))
}

func isOwner(wallet *model.Wallet, addr common.Address) bool {
	for _, owner := range wallet.Owners {
		if common.HexToAddress(owner) == addr {
			return true
		}
	}
	return false
}

// normalizeSig returns the signature with V shifted into the {27, 28} range
// the Safe contract checks for ECDSA confirmations.
func normalizeSig(sig []byte) []byte {
	out := make([]byte, len(sig))
	copy(out, sig)
	if len(out) == 65 && out[64] < 27 {
		out[64] += 27
	}
	return out
}

func recoverSigner(hash common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}
	cp := make([]byte, 65)
	copy(cp, sig)
	if cp[64] >= 27 {
		cp[64] -= 27
	}
	pub, err := crypto.SigToPub(hash.Bytes(), cp)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// signatureBlob concatenates confirmations in ascending owner address order.
func signatureBlob(confirmations []model.SafeConfirmation) ([]byte, error) {
	sorted := make([]model.SafeConfirmation, len(confirmations))
	copy(sorted, confirmations)
	sort.Slice(sorted, func(i, j int) bool {
		a := common.HexToAddress(sorted[i].Owner)
		b := common.HexToAddress(sorted[j].Owner)
		return bytes.Compare(a.Bytes(), b.Bytes()) < 0
	})

	var blob []byte
	for _, c := range sorted {
		sig, err := hexutil.Decode(c.Signature)
		if err != nil {
			return nil, fmt.Errorf("decode signature for %s: %w", c.Owner, err)
		}
		blob = append(blob, normalizeSig(sig)...)
	}
	return blob, nil
}
