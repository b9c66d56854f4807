package model

import "time"

// Pool is a tenant's loyalty campaign, backed by an on-chain diamond proxy.
// The address stays empty until the deploy transaction mines.
type Pool struct {
	ID           string    `json:"id"`
	Sub          string    `json:"sub"`
	ChainID      uint64    `json:"chain_id"`
	Title        string    `json:"title"`
	Address      string    `json:"address"`
	Transactions []string  `json:"transactions"`
	CreatedAt    time.Time `json:"created_at"`
}

// Deployed reports whether the pool contract address is known.
func (p *Pool) Deployed() bool {
	return p.Address != ""
}
