// Package loyalty implements the reward flows built on top of the
// transaction submitter: pool deploys, token mints, and withdrawals. Every
// flow persists its domain record first, attaches a callback to the chain
// transaction, and lets the settlement path complete the record.
package loyalty

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Phlame68/monorepo/internal/callback"
	"github.com/Phlame68/monorepo/internal/config"
	"github.com/Phlame68/monorepo/internal/contracts"
	"github.com/Phlame68/monorepo/internal/events"
	"github.com/Phlame68/monorepo/internal/model"
	"github.com/Phlame68/monorepo/internal/store"
)

// Submitter is the transaction lifecycle entry point the service needs.
type Submitter interface {
	Send(ctx context.Context, chainID uint64, to string, data []byte, cb *model.CallbackDescriptor) (*model.TransactionRecord, error)
	SendAsync(ctx context.Context, chainID uint64, to string, data []byte, cb *model.CallbackDescriptor, forceSync bool) (*model.TransactionRecord, error)
	QueryReceipt(ctx context.Context, id string) (*model.TransactionRecord, error)
}

// Service drives the loyalty domain flows.
type Service struct {
	store     store.Store
	submitter Submitter
	cfg       config.Config
	log       *zap.Logger
}

func NewService(st store.Store, submitter Submitter, cfg config.Config, log *zap.Logger) *Service {
	return &Service{store: st, submitter: submitter, cfg: cfg, log: log}
}

// DeployPool creates the pool record and queues the deploy through the
// network's pool factory. The pool address is filled in by the deploy
// callback once the transaction mines.
func (s *Service) DeployPool(ctx context.Context, sub string, chainID uint64, title string, cuts []contracts.FacetCut) (*model.Pool, error) {
	network, err := s.cfg.Network(chainID)
	if err != nil {
		return nil, err
	}
	pool := &model.Pool{
		ID:        uuid.NewString(),
		Sub:       sub,
		ChainID:   chainID,
		Title:     title,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreatePool(ctx, pool); err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	data, err := contracts.EncodePoolDeploy(cuts)
	if err != nil {
		return nil, err
	}
	cb, err := callback.Descriptor(callback.TypePoolDeploy, callback.PoolDeployArgs{PoolID: pool.ID})
	if err != nil {
		return nil, err
	}

	rec, err := s.submitter.SendAsync(ctx, chainID, network.PoolFactory, data, cb, false)
	if err != nil {
		return nil, err
	}
	if err := s.store.AddPoolTransaction(ctx, pool.ID, rec.ID); err != nil {
		return nil, fmt.Errorf("link pool transaction: %w", err)
	}
	pool.Transactions = append(pool.Transactions, rec.ID)
	return pool, nil
}

// DeployTokenContract creates the contract record and queues the raw
// deployment. bytecode is the full creation code including constructor
// arguments.
func (s *Service) DeployTokenContract(ctx context.Context, contract *model.TokenContract, bytecode []byte) (*model.TokenContract, error) {
	if contract.ID == "" {
		contract.ID = uuid.NewString()
	}
	if contract.CreatedAt.IsZero() {
		contract.CreatedAt = time.Now().UTC()
	}
	if err := s.store.CreateTokenContract(ctx, contract); err != nil {
		return nil, fmt.Errorf("create token contract: %w", err)
	}

	var callbackType string
	switch contract.Kind {
	case model.TokenKindERC20:
		callbackType = callback.TypeERC20Deploy
	case model.TokenKindERC721:
		callbackType = callback.TypeERC721Deploy
	case model.TokenKindERC1155:
		callbackType = callback.TypeERC1155Deploy
	default:
		return nil, fmt.Errorf("unknown token kind %q", contract.Kind)
	}
	cb, err := callback.Descriptor(callbackType, callback.TokenDeployArgs{ContractID: contract.ID})
	if err != nil {
		return nil, err
	}

	rec, err := s.submitter.SendAsync(ctx, contract.ChainID, "", bytecode, cb, false)
	if err != nil {
		return nil, err
	}
	if err := s.store.AddTokenContractTransaction(ctx, contract.ID, rec.ID); err != nil {
		return nil, fmt.Errorf("link contract transaction: %w", err)
	}
	contract.Transactions = append(contract.Transactions, rec.ID)
	return contract, nil
}

// MintERC721 creates a pending token record and queues the mint through the
// pool. With forceSync set the call blocks until the token is minted.
func (s *Service) MintERC721(ctx context.Context, sub, contractID, poolID, walletID, metadataID, recipient string, forceSync bool) (*model.Token, error) {
	return s.mint(ctx, mintRequest{
		sub:        sub,
		contractID: contractID,
		poolID:     poolID,
		walletID:   walletID,
		metadataID: metadataID,
		recipient:  recipient,
		forceSync:  forceSync,
	})
}

// MintERC1155 is MintERC721 for ERC1155 contracts, with an amount.
func (s *Service) MintERC1155(ctx context.Context, sub, contractID, poolID, walletID, metadataID, recipient string, amount *big.Int, forceSync bool) (*model.Token, error) {
	return s.mint(ctx, mintRequest{
		sub:        sub,
		contractID: contractID,
		poolID:     poolID,
		walletID:   walletID,
		metadataID: metadataID,
		recipient:  recipient,
		amount:     amount,
		forceSync:  forceSync,
	})
}

type mintRequest struct {
	sub        string
	contractID string
	poolID     string
	walletID   string
	metadataID string
	recipient  string
	amount     *big.Int // nil for ERC721
	forceSync  bool
}

func (s *Service) mint(ctx context.Context, req mintRequest) (*model.Token, error) {
	contract, err := s.store.GetTokenContract(ctx, req.contractID)
	if err != nil {
		return nil, fmt.Errorf("load token contract: %w", err)
	}
	if contract.Address == "" {
		return nil, fmt.Errorf("token contract %s is not deployed yet", contract.ID)
	}
	pool, err := s.store.GetPool(ctx, req.poolID)
	if err != nil {
		return nil, fmt.Errorf("load pool: %w", err)
	}
	if !pool.Deployed() {
		return nil, fmt.Errorf("pool %s is not deployed yet", pool.ID)
	}

	token := &model.Token{
		ID:         uuid.NewString(),
		Sub:        req.sub,
		ContractID: contract.ID,
		PoolID:     pool.ID,
		WalletID:   req.walletID,
		MetadataID: req.metadataID,
		Recipient:  req.recipient,
		State:      model.TokenStatePending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.CreateToken(ctx, token); err != nil {
		return nil, fmt.Errorf("create token: %w", err)
	}

	var (
		data         []byte
		callbackType string
	)
	tokenAddr := common.HexToAddress(contract.Address)
	recipientAddr := common.HexToAddress(req.recipient)
	switch contract.Kind {
	case model.TokenKindERC721:
		data, err = contracts.EncodeMintERC721(tokenAddr, recipientAddr, req.metadataID)
		callbackType = callback.TypeERC721TokenMint
	case model.TokenKindERC1155:
		amount := req.amount
		if amount == nil {
			amount = big.NewInt(1)
		}
		data, err = contracts.EncodeMintERC1155(tokenAddr, recipientAddr, amount, req.metadataID)
		callbackType = callback.TypeERC1155TokenMint
	default:
		return nil, fmt.Errorf("contract %s kind %q is not mintable through the pool", contract.ID, contract.Kind)
	}
	if err != nil {
		return nil, err
	}

	cb, err := callback.Descriptor(callbackType, callback.TokenMintArgs{TokenID: token.ID})
	if err != nil {
		return nil, err
	}
	rec, err := s.submitter.SendAsync(ctx, pool.ChainID, pool.Address, data, cb, req.forceSync)
	if err != nil {
		return nil, err
	}
	if err := s.store.AddTokenTransaction(ctx, token.ID, rec.ID); err != nil {
		return nil, fmt.Errorf("link token transaction: %w", err)
	}

	return s.store.GetToken(ctx, token.ID)
}

// Withdraw creates a pending withdrawal and queues the payout through the
// pool.
func (s *Service) Withdraw(ctx context.Context, sub, poolID, walletID, beneficiary string, amount *big.Int, forceSync bool) (*model.Withdrawal, error) {
	pool, err := s.store.GetPool(ctx, poolID)
	if err != nil {
		return nil, fmt.Errorf("load pool: %w", err)
	}
	if !pool.Deployed() {
		return nil, fmt.Errorf("pool %s is not deployed yet", pool.ID)
	}

	withdrawal := &model.Withdrawal{
		ID:          uuid.NewString(),
		Sub:         sub,
		PoolID:      pool.ID,
		WalletID:    walletID,
		Beneficiary: beneficiary,
		Amount:      amount.String(),
		State:       model.WithdrawalStatePending,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateWithdrawal(ctx, withdrawal); err != nil {
		return nil, fmt.Errorf("create withdrawal: %w", err)
	}

	data, err := contracts.EncodeWithdrawFor(common.HexToAddress(beneficiary), amount)
	if err != nil {
		return nil, err
	}
	cb, err := callback.Descriptor(callback.TypeWithdrawal, callback.WithdrawalArgs{WithdrawalID: withdrawal.ID})
	if err != nil {
		return nil, err
	}

	rec, err := s.submitter.SendAsync(ctx, pool.ChainID, pool.Address, data, cb, forceSync)
	if err != nil {
		return nil, err
	}
	if err := s.store.AddWithdrawalTransaction(ctx, withdrawal.ID, rec.ID); err != nil {
		return nil, fmt.Errorf("link withdrawal transaction: %w", err)
	}

	return s.store.GetWithdrawal(ctx, withdrawal.ID)
}

// AddMinter grants the pool the minter role on the token contract. The call
// blocks and fails hard when the receipt carries no RoleGranted event.
func (s *Service) AddMinter(ctx context.Context, contractID, poolID string) error {
	contract, err := s.store.GetTokenContract(ctx, contractID)
	if err != nil {
		return fmt.Errorf("load token contract: %w", err)
	}
	if contract.Address == "" {
		return fmt.Errorf("token contract %s is not deployed yet", contract.ID)
	}
	pool, err := s.store.GetPool(ctx, poolID)
	if err != nil {
		return fmt.Errorf("load pool: %w", err)
	}
	if !pool.Deployed() {
		return fmt.Errorf("pool %s is not deployed yet", pool.ID)
	}

	data, err := contracts.EncodeGrantMinterRole(common.HexToAddress(pool.Address))
	if err != nil {
		return err
	}
	rec, err := s.submitter.Send(ctx, contract.ChainID, contract.Address, data, nil)
	if err != nil {
		return err
	}
	if rec.State != model.TransactionStateMined {
		return fmt.Errorf("grant minter role: transaction %s %s: %s", rec.ID, rec.State, rec.FailReason)
	}

	tokenABI, err := contracts.TokenABI()
	if err != nil {
		return err
	}
	if _, err := events.AssertEvent("RoleGranted", events.ParseLogs(tokenABI, rec.Receipt.Logs)); err != nil {
		return err
	}

	s.log.Info("minter role granted",
		zap.String("contract", contract.ID),
		zap.String("pool", pool.ID),
	)
	return nil
}

// Token returns the token record, refreshing it from its latest pending
// transaction first so read paths see mints settled between poller ticks.
func (s *Service) Token(ctx context.Context, id string) (*model.Token, error) {
	token, err := s.store.GetToken(ctx, id)
	if err != nil {
		return nil, err
	}
	if token.State == model.TokenStatePending && len(token.Transactions) > 0 {
		if _, err := s.submitter.QueryReceipt(ctx, token.Transactions[len(token.Transactions)-1]); err != nil {
			return nil, err
		}
		return s.store.GetToken(ctx, id)
	}
	return token, nil
}

// Pool returns the pool record, refreshing a pending deploy first.
func (s *Service) Pool(ctx context.Context, id string) (*model.Pool, error) {
	pool, err := s.store.GetPool(ctx, id)
	if err != nil {
		return nil, err
	}
	if !pool.Deployed() && len(pool.Transactions) > 0 {
		if _, err := s.submitter.QueryReceipt(ctx, pool.Transactions[len(pool.Transactions)-1]); err != nil {
			return nil, err
		}
		return s.store.GetPool(ctx, id)
	}
	return pool, nil
}

// Withdrawal returns the withdrawal record, refreshing a pending payout
// first.
func (s *Service) Withdrawal(ctx context.Context, id string) (*model.Withdrawal, error) {
	withdrawal, err := s.store.GetWithdrawal(ctx, id)
	if err != nil {
		return nil, err
	}
	if withdrawal.State == model.WithdrawalStatePending && len(withdrawal.Transactions) > 0 {
		if _, err := s.submitter.QueryReceipt(ctx, withdrawal.Transactions[len(withdrawal.Transactions)-1]); err != nil {
			return nil, err
		}
		return s.store.GetWithdrawal(ctx, id)
	}
	return withdrawal, nil
}
