package model

import "time"

// TokenState tracks an NFT mint through its lifecycle.
type TokenState string

const (
	TokenStatePending TokenState = "pending"
	TokenStateMinted  TokenState = "minted"
)

// TokenContract is a reward token contract (ERC20, ERC721 or ERC1155)
// deployed for a tenant. The address stays empty until the deploy
// transaction mines.
type TokenContract struct {
	ID           string    `json:"id"`
	Sub          string    `json:"sub"`
	ChainID      uint64    `json:"chain_id"`
	Kind         TokenKind `json:"kind"`
	Name         string    `json:"name"`
	Symbol       string    `json:"symbol"`
	BaseURL      string    `json:"base_url,omitempty"`
	Address      string    `json:"address"`
	Transactions []string  `json:"transactions"`
	CreatedAt    time.Time `json:"created_at"`
}

// TokenKind discriminates the token standard of a TokenContract.
type TokenKind string

const (
	TokenKindERC20   TokenKind = "erc20"
	TokenKindERC721  TokenKind = "erc721"
	TokenKindERC1155 TokenKind = "erc1155"
)

// Token is a single minted (or pending) NFT issued to a user.
type Token struct {
	ID           string     `json:"id"`
	Sub          string     `json:"sub"`
	ContractID   string     `json:"contract_id"`
	PoolID       string     `json:"pool_id"`
	WalletID     string     `json:"wallet_id,omitempty"`
	MetadataID   string     `json:"metadata_id,omitempty"`
	Recipient    string     `json:"recipient"`
	State        TokenState `json:"state"`
	TokenID      uint64     `json:"token_id,omitempty"`
	Transactions []string   `json:"transactions"`
	CreatedAt    time.Time  `json:"created_at"`
}
