// Package postgres provides the pgx-backed Store implementation.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Phlame68/monorepo/internal/model"
	"github.com/Phlame68/monorepo/internal/store"
)

//go:embed schema.sql
var schema string

// Store provides Postgres persistence for the relayer.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the relayer tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Store) CreateTransaction(ctx context.Context, rec *model.TransactionRecord) error {
	callbackJSON, err := marshalNullable(rec.Callback)
	if err != nil {
		return fmt.Errorf("marshal callback: %w", err)
	}
	receiptJSON, err := marshalNullable(rec.Receipt)
	if err != nil {
		return fmt.Errorf("marshal receipt: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO transactions (id, chain_id, to_address, data, state, tx_hash, receipt, callback, fail_reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		rec.ID,
		int64(rec.ChainID),
		rec.To,
		rec.Data,
		string(rec.State),
		rec.TxHash,
		receiptJSON,
		callbackJSON,
		rec.FailReason,
		rec.CreatedAt,
	)
	return err
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*model.TransactionRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, chain_id, to_address, data, state, tx_hash, receipt, callback, fail_reason, created_at
		FROM transactions WHERE id = $1
	`, id)
	return scanTransaction(row)
}

func (s *Store) SetTransactionSent(ctx context.Context, id, txHash string) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE transactions SET tx_hash = $2, state = $3
		WHERE id = $1 AND state = $4
	`, id, txHash, string(model.TransactionStateSent), string(model.TransactionStateQueued))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// TransitionTransaction is a compare-and-swap on the record state: the row is
// updated only when the persisted state still equals the expected one, so two
// pollers racing over the same record cannot both win.
func (s *Store) TransitionTransaction(ctx context.Context, id string, from, to model.TransactionState, receipt *types.Receipt, failReason string) (bool, error) {
	receiptJSON, err := marshalNullable(receipt)
	if err != nil {
		return false, fmt.Errorf("marshal receipt: %w", err)
	}
	ct, err := s.pool.Exec(ctx, `
		UPDATE transactions SET state = $3, receipt = $4, fail_reason = $5
		WHERE id = $1 AND state = $2
	`, id, string(from), string(to), receiptJSON, failReason)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (s *Store) ListTransactionsByState(ctx context.Context, chainID uint64, state model.TransactionState, limit int) ([]*model.TransactionRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, chain_id, to_address, data, state, tx_hash, receipt, callback, fail_reason, created_at
		FROM transactions
		WHERE chain_id = $1 AND state = $2
		ORDER BY created_at
		LIMIT $3
	`, int64(chainID), string(state), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.TransactionRecord
	for rows.Next() {
		rec, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) ChainIDsWithTransactionState(ctx context.Context, state model.TransactionState) ([]uint64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT chain_id FROM transactions WHERE state = $1 ORDER BY chain_id
	`, string(state))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []uint64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, uint64(id))
	}
	return out, rows.Err()
}

func (s *Store) CreateWallet(ctx context.Context, w *model.Wallet) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO wallets (id, sub, chain_id, address, safe_version, owners, threshold, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, w.ID, w.Sub, int64(w.ChainID), w.Address, w.SafeVersion, w.Owners, w.Threshold, w.CreatedAt)
	return err
}

func (s *Store) GetWallet(ctx context.Context, id string) (*model.Wallet, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, sub, chain_id, address, safe_version, owners, threshold, created_at
		FROM wallets WHERE id = $1
	`, id)
	return scanWallet(row)
}

func (s *Store) GetWalletByAddress(ctx context.Context, address string) (*model.Wallet, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, sub, chain_id, address, safe_version, owners, threshold, created_at
		FROM wallets WHERE address = $1
	`, address)
	return scanWallet(row)
}

func (s *Store) ListWalletsBySub(ctx context.Context, sub string) ([]*model.Wallet, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, sub, chain_id, address, safe_version, owners, threshold, created_at
		FROM wallets WHERE sub = $1 ORDER BY created_at
	`, sub)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) MigrateWalletRefs(ctx context.Context, fromWalletIDs []string, toWalletID string) (int64, error) {
	var updated int64
	for _, table := range []string{"tokens", "withdrawals"} {
		ct, err := s.pool.Exec(ctx,
			fmt.Sprintf(`UPDATE %s SET wallet_id = $1 WHERE wallet_id = ANY($2)`, table),
			toWalletID, fromWalletIDs)
		if err != nil {
			return updated, fmt.Errorf("migrate %s: %w", table, err)
		}
		updated += ct.RowsAffected()
	}
	return updated, nil
}

func (s *Store) CreatePool(ctx context.Context, p *model.Pool) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pools (id, sub, chain_id, title, address, transactions, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.ID, p.Sub, int64(p.ChainID), p.Title, p.Address, p.Transactions, p.CreatedAt)
	return err
}

func (s *Store) GetPool(ctx context.Context, id string) (*model.Pool, error) {
	var p model.Pool
	var chainID int64
	err := s.pool.QueryRow(ctx, `
		SELECT id, sub, chain_id, title, address, transactions, created_at
		FROM pools WHERE id = $1
	`, id).Scan(&p.ID, &p.Sub, &chainID, &p.Title, &p.Address, &p.Transactions, &p.CreatedAt)
	if err != nil {
		return nil, mapNotFound(err)
	}
	p.ChainID = uint64(chainID)
	return &p, nil
}

func (s *Store) SetPoolAddress(ctx context.Context, id, address string) error {
	return execOne(ctx, s.pool, `UPDATE pools SET address = $2 WHERE id = $1`, id, address)
}

func (s *Store) AddPoolTransaction(ctx context.Context, id, txID string) error {
	return execOne(ctx, s.pool, `UPDATE pools SET transactions = array_append(transactions, $2) WHERE id = $1`, id, txID)
}

func (s *Store) CreateTokenContract(ctx context.Context, c *model.TokenContract) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO token_contracts (id, sub, chain_id, kind, name, symbol, base_url, address, transactions, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, c.ID, c.Sub, int64(c.ChainID), string(c.Kind), c.Name, c.Symbol, c.BaseURL, c.Address, c.Transactions, c.CreatedAt)
	return err
}

func (s *Store) GetTokenContract(ctx context.Context, id string) (*model.TokenContract, error) {
	var c model.TokenContract
	var chainID int64
	var kind string
	err := s.pool.QueryRow(ctx, `
		SELECT id, sub, chain_id, kind, name, symbol, base_url, address, transactions, created_at
		FROM token_contracts WHERE id = $1
	`, id).Scan(&c.ID, &c.Sub, &chainID, &kind, &c.Name, &c.Symbol, &c.BaseURL, &c.Address, &c.Transactions, &c.CreatedAt)
	if err != nil {
		return nil, mapNotFound(err)
	}
	c.ChainID = uint64(chainID)
	c.Kind = model.TokenKind(kind)
	return &c, nil
}

func (s *Store) SetTokenContractAddress(ctx context.Context, id, address string) error {
	return execOne(ctx, s.pool, `UPDATE token_contracts SET address = $2 WHERE id = $1`, id, address)
}

func (s *Store) AddTokenContractTransaction(ctx context.Context, id, txID string) error {
	return execOne(ctx, s.pool, `UPDATE token_contracts SET transactions = array_append(transactions, $2) WHERE id = $1`, id, txID)
}

func (s *Store) CreateToken(ctx context.Context, t *model.Token) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tokens (id, sub, contract_id, pool_id, wallet_id, metadata_id, recipient, state, token_id, transactions, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, t.ID, t.Sub, t.ContractID, t.PoolID, t.WalletID, t.MetadataID, t.Recipient, string(t.State), int64(t.TokenID), t.Transactions, t.CreatedAt)
	return err
}

func (s *Store) GetToken(ctx context.Context, id string) (*model.Token, error) {
	var t model.Token
	var state string
	var tokenID int64
	err := s.pool.QueryRow(ctx, `
		SELECT id, sub, contract_id, pool_id, wallet_id, metadata_id, recipient, state, token_id, transactions, created_at
		FROM tokens WHERE id = $1
	`, id).Scan(&t.ID, &t.Sub, &t.ContractID, &t.PoolID, &t.WalletID, &t.MetadataID, &t.Recipient, &state, &tokenID, &t.Transactions, &t.CreatedAt)
	if err != nil {
		return nil, mapNotFound(err)
	}
	t.State = model.TokenState(state)
	t.TokenID = uint64(tokenID)
	return &t, nil
}

func (s *Store) MarkTokenMinted(ctx context.Context, id string, tokenID uint64, recipient string) error {
	return execOne(ctx, s.pool, `
		UPDATE tokens SET state = $2, token_id = $3, recipient = $4 WHERE id = $1
	`, id, string(model.TokenStateMinted), int64(tokenID), recipient)
}

func (s *Store) AddTokenTransaction(ctx context.Context, id, txID string) error {
	return execOne(ctx, s.pool, `UPDATE tokens SET transactions = array_append(transactions, $2) WHERE id = $1`, id, txID)
}

func (s *Store) CreateWithdrawal(ctx context.Context, w *model.Withdrawal) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO withdrawals (id, sub, pool_id, wallet_id, beneficiary, amount, state, transactions, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, w.ID, w.Sub, w.PoolID, w.WalletID, w.Beneficiary, w.Amount, string(w.State), w.Transactions, w.CreatedAt)
	return err
}

func (s *Store) GetWithdrawal(ctx context.Context, id string) (*model.Withdrawal, error) {
	var w model.Withdrawal
	var state string
	err := s.pool.QueryRow(ctx, `
		SELECT id, sub, pool_id, wallet_id, beneficiary, amount, state, transactions, created_at
		FROM withdrawals WHERE id = $1
	`, id).Scan(&w.ID, &w.Sub, &w.PoolID, &w.WalletID, &w.Beneficiary, &w.Amount, &state, &w.Transactions, &w.CreatedAt)
	if err != nil {
		return nil, mapNotFound(err)
	}
	w.State = model.WithdrawalState(state)
	return &w, nil
}

func (s *Store) MarkWithdrawalComplete(ctx context.Context, id string) error {
	return execOne(ctx, s.pool, `UPDATE withdrawals SET state = $2 WHERE id = $1`, id, string(model.WithdrawalStateWithdrawn))
}

func (s *Store) AddWithdrawalTransaction(ctx context.Context, id, txID string) error {
	return execOne(ctx, s.pool, `UPDATE withdrawals SET transactions = array_append(transactions, $2) WHERE id = $1`, id, txID)
}

func (s *Store) CreateSafeProposal(ctx context.Context, p *model.SafeProposal) error {
	batch := &pgx.Batch{}
	batch.Queue(`
		INSERT INTO safe_proposals (
			safe_tx_hash, wallet_address, chain_id, to_address, value, data, operation,
			safe_tx_gas, base_gas, gas_price, gas_token, refund_receiver, nonce,
			executed, execution_tx_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`,
		p.SafeTxHash, p.WalletAddress, int64(p.ChainID), p.To, p.Value, p.Data, int16(p.Operation),
		int64(p.SafeTxGas), int64(p.BaseGas), p.GasPrice, p.GasToken, p.RefundReceiver, int64(p.Nonce),
		p.Executed, p.ExecutionTxID, p.CreatedAt,
	)
	for _, c := range p.Confirmations {
		batch.Queue(`
			INSERT INTO safe_confirmations (safe_tx_hash, owner, signature)
			VALUES ($1, $2, $3)
			ON CONFLICT (safe_tx_hash, owner) DO NOTHING
		`, p.SafeTxHash, c.Owner, c.Signature)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < 1+len(p.Confirmations); i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetSafeProposal(ctx context.Context, safeTxHash string) (*model.SafeProposal, error) {
	var p model.SafeProposal
	var chainID, safeTxGas, baseGas, nonce int64
	var operation int16
	err := s.pool.QueryRow(ctx, `
		SELECT safe_tx_hash, wallet_address, chain_id, to_address, value, data, operation,
		       safe_tx_gas, base_gas, gas_price, gas_token, refund_receiver, nonce,
		       executed, execution_tx_id, created_at
		FROM safe_proposals WHERE safe_tx_hash = $1
	`, safeTxHash).Scan(
		&p.SafeTxHash, &p.WalletAddress, &chainID, &p.To, &p.Value, &p.Data, &operation,
		&safeTxGas, &baseGas, &p.GasPrice, &p.GasToken, &p.RefundReceiver, &nonce,
		&p.Executed, &p.ExecutionTxID, &p.CreatedAt,
	)
	if err != nil {
		return nil, mapNotFound(err)
	}
	p.ChainID = uint64(chainID)
	p.Operation = model.SafeOperation(operation)
	p.SafeTxGas = uint64(safeTxGas)
	p.BaseGas = uint64(baseGas)
	p.Nonce = uint64(nonce)

	rows, err := s.pool.Query(ctx, `
		SELECT owner, signature FROM safe_confirmations
		WHERE safe_tx_hash = $1 ORDER BY created_at
	`, safeTxHash)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var c model.SafeConfirmation
		if err := rows.Scan(&c.Owner, &c.Signature); err != nil {
			return nil, err
		}
		p.Confirmations = append(p.Confirmations, c)
	}
	return &p, rows.Err()
}

func (s *Store) AddSafeConfirmation(ctx context.Context, safeTxHash, owner, signature string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO safe_confirmations (safe_tx_hash, owner, signature)
		VALUES ($1, $2, $3)
		ON CONFLICT (safe_tx_hash, owner) DO NOTHING
	`, safeTxHash, owner, signature)
	return err
}

func (s *Store) MarkSafeProposalExecuted(ctx context.Context, safeTxHash, txID string) error {
	return execOne(ctx, s.pool, `
		UPDATE safe_proposals SET executed = true, execution_tx_id = $2 WHERE safe_tx_hash = $1
	`, safeTxHash, txID)
}

func (s *Store) CountSafeProposals(ctx context.Context, walletAddress string) (uint64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM safe_proposals WHERE wallet_address = $1
	`, walletAddress).Scan(&n)
	if err != nil {
		return 0, err
	}
	return uint64(n), nil
}

func (s *Store) EnqueueDeployJob(ctx context.Context, walletID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO safe_deploy_jobs (wallet_id) VALUES ($1)
		ON CONFLICT (wallet_id) DO NOTHING
	`, walletID)
	return err
}

func (s *Store) ListDeployJobs(ctx context.Context, limit int) ([]*model.SafeDeployJob, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT wallet_id, attempts, created_at FROM safe_deploy_jobs
		ORDER BY created_at LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.SafeDeployJob
	for rows.Next() {
		var j model.SafeDeployJob
		if err := rows.Scan(&j.WalletID, &j.Attempts, &j.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &j)
	}
	return out, rows.Err()
}

func (s *Store) RemoveDeployJob(ctx context.Context, walletID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM safe_deploy_jobs WHERE wallet_id = $1`, walletID)
	return err
}

func (s *Store) BumpDeployJob(ctx context.Context, walletID string) error {
	return execOne(ctx, s.pool, `UPDATE safe_deploy_jobs SET attempts = attempts + 1 WHERE wallet_id = $1`, walletID)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*model.TransactionRecord, error) {
	var rec model.TransactionRecord
	var chainID int64
	var state string
	var receiptJSON, callbackJSON []byte
	err := row.Scan(&rec.ID, &chainID, &rec.To, &rec.Data, &state, &rec.TxHash, &receiptJSON, &callbackJSON, &rec.FailReason, &rec.CreatedAt)
	if err != nil {
		return nil, mapNotFound(err)
	}
	rec.ChainID = uint64(chainID)
	rec.State = model.TransactionState(state)
	if len(receiptJSON) > 0 {
		var receipt types.Receipt
		if err := json.Unmarshal(receiptJSON, &receipt); err != nil {
			return nil, fmt.Errorf("parse receipt: %w", err)
		}
		rec.Receipt = &receipt
	}
	if len(callbackJSON) > 0 {
		var cb model.CallbackDescriptor
		if err := json.Unmarshal(callbackJSON, &cb); err != nil {
			return nil, fmt.Errorf("parse callback: %w", err)
		}
		rec.Callback = &cb
	}
	return &rec, nil
}

func scanWallet(row rowScanner) (*model.Wallet, error) {
	var w model.Wallet
	var chainID int64
	err := row.Scan(&w.ID, &w.Sub, &chainID, &w.Address, &w.SafeVersion, &w.Owners, &w.Threshold, &w.CreatedAt)
	if err != nil {
		return nil, mapNotFound(err)
	}
	w.ChainID = uint64(chainID)
	return &w, nil
}

func marshalNullable(v any) ([]byte, error) {
	switch value := v.(type) {
	case *types.Receipt:
		if value == nil {
			return nil, nil
		}
	case *model.CallbackDescriptor:
		if value == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

func execOne(ctx context.Context, pool *pgxpool.Pool, sql string, args ...any) error {
	ct, err := pool.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func mapNotFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}
