package safe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ServiceClient talks to a Safe Transaction Service instance. Proposals are
// mirrored to the service so owner wallets can discover and confirm them;
// the local store stays the source of truth for execution.
type ServiceClient struct {
	serviceURL string
	httpClient *http.Client
}

func NewServiceClient(serviceURL string) *ServiceClient {
	return &ServiceClient{
		serviceURL: serviceURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// MultisigTransaction is the service's view of a Safe transaction.
type MultisigTransaction struct {
	Safe            string         `json:"safe"`
	To              string         `json:"to"`
	Value           string         `json:"value"`
	Data            string         `json:"data"`
	Operation       int            `json:"operation"`
	SafeTxGas       int            `json:"safeTxGas"`
	BaseGas         int            `json:"baseGas"`
	GasPrice        string         `json:"gasPrice"`
	GasToken        string         `json:"gasToken"`
	RefundReceiver  string         `json:"refundReceiver"`
	Nonce           int            `json:"nonce"`
	SafeTxHash      string         `json:"safeTxHash"`
	TransactionHash *string        `json:"transactionHash"`
	IsExecuted      bool           `json:"isExecuted"`
	Confirmations   []Confirmation `json:"confirmations"`
}

// Confirmation is one owner signature on a proposed transaction.
type Confirmation struct {
	Owner     string `json:"owner"`
	Signature string `json:"signature"`
}

type proposeRequest struct {
	To             string `json:"to"`
	Value          string `json:"value"`
	Data           string `json:"data"`
	Operation      int    `json:"operation"`
	SafeTxGas      string `json:"safeTxGas"`
	BaseGas        string `json:"baseGas"`
	GasPrice       string `json:"gasPrice"`
	GasToken       string `json:"gasToken"`
	RefundReceiver string `json:"refundReceiver"`
	Nonce          string `json:"nonce"`
	ContractTxHash string `json:"contractTransactionHash"`
	Sender         string `json:"sender"`
	Signature      string `json:"signature"`
}

// GetTransaction retrieves a Safe transaction by its hash.
func (c *ServiceClient) GetTransaction(ctx context.Context, safeTxHash common.Hash) (*MultisigTransaction, error) {
	url := fmt.Sprintf("%s/api/v1/multisig-transactions/%s/", c.serviceURL, safeTxHash.Hex())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body))
	}

	var mtx MultisigTransaction
	if err := json.NewDecoder(resp.Body).Decode(&mtx); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &mtx, nil
}

// IsTransactionExecuted reports whether the service has seen the transaction
// execute on chain, and its execution hash when it has.
func (c *ServiceClient) IsTransactionExecuted(ctx context.Context, safeTxHash common.Hash) (bool, *common.Hash, error) {
	mtx, err := c.GetTransaction(ctx, safeTxHash)
	if err != nil {
		return false, nil, err
	}
	if mtx.IsExecuted && mtx.TransactionHash != nil {
		ethTxHash := common.HexToHash(*mtx.TransactionHash)
		return true, &ethTxHash, nil
	}
	return false, nil, nil
}

// ProposeTransaction publishes a proposal with the sender's confirmation.
func (c *ServiceClient) ProposeTransaction(ctx context.Context, safeAddress common.Address, mtx *MultisigTransaction, sender, signature string) error {
	url := fmt.Sprintf("%s/api/v1/safes/%s/multisig-transactions/", c.serviceURL, safeAddress.Hex())

	payload := proposeRequest{
		To:             mtx.To,
		Value:          mtx.Value,
		Data:           mtx.Data,
		Operation:      mtx.Operation,
		SafeTxGas:      fmt.Sprintf("%d", mtx.SafeTxGas),
		BaseGas:        fmt.Sprintf("%d", mtx.BaseGas),
		GasPrice:       mtx.GasPrice,
		GasToken:       mtx.GasToken,
		RefundReceiver: mtx.RefundReceiver,
		Nonce:          fmt.Sprintf("%d", mtx.Nonce),
		ContractTxHash: mtx.SafeTxHash,
		Sender:         sender,
		Signature:      signature,
	}
	return c.post(ctx, url, payload)
}

// ConfirmTransaction publishes an owner confirmation for a known proposal.
func (c *ServiceClient) ConfirmTransaction(ctx context.Context, safeTxHash common.Hash, signature string) error {
	url := fmt.Sprintf("%s/api/v1/multisig-transactions/%s/confirmations/", c.serviceURL, safeTxHash.Hex())
	return c.post(ctx, url, map[string]string{"signature": signature})
}

func (c *ServiceClient) post(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
