package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Chain is a registered EVM network. Immutable after creation except Active.
type Chain struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	NetworkID   int64     `json:"network_id"`
	RPCURL      string    `json:"rpc_url"`
	Symbol      string    `json:"symbol"`
	PriceID     string    `json:"price_id"`
	ExplorerURL string    `json:"explorer_url"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

// ErrChainNotFound reports a missing chain row. Retrying will not fix it.
var ErrChainNotFound = errors.New("chain not found")

const chainColumns = `id, name, network_id, rpc_url, symbol, price_id, COALESCE(explorer_url,''), active, created_at`

// GetChain returns a single chain by ID.
func (s *Store) GetChain(ctx context.Context, id int64) (*Chain, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+chainColumns+` FROM chains WHERE id = $1`, id)

	var c Chain
	err := row.Scan(&c.ID, &c.Name, &c.NetworkID, &c.RPCURL, &c.Symbol,
		&c.PriceID, &c.ExplorerURL, &c.Active, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("chain %d: %w", id, ErrChainNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get chain %d: %w", id, err)
	}
	return &c, nil
}

// ListActiveChains returns all active chains ordered by creation.
func (s *Store) ListActiveChains(ctx context.Context) ([]*Chain, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+chainColumns+` FROM chains WHERE active ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list chains: %w", err)
	}
	defer rows.Close()

	var chains []*Chain
	for rows.Next() {
		var c Chain
		if err := rows.Scan(&c.ID, &c.Name, &c.NetworkID, &c.RPCURL, &c.Symbol,
			&c.PriceID, &c.ExplorerURL, &c.Active, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chain: %w", err)
		}
		chains = append(chains, &c)
	}
	return chains, rows.Err()
}

// SetChainActive flips a chain's active flag.
func (s *Store) SetChainActive(ctx context.Context, id int64, active bool) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE chains SET active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("set chain %d active: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("chain %d: %w", id, ErrChainNotFound)
	}
	return nil
}

// EnsureDefaultChains seeds the Avalanche mainnet and Fuji testnet rows
// if no chains exist yet.
func (s *Store) EnsureDefaultChains(ctx context.Context) error {
	defaults := []Chain{
		{
			Name:        "Avalanche C-Chain",
			NetworkID:   43114,
			RPCURL:      "https://api.avax.network/ext/bc/C/rpc",
			Symbol:      "AVAX",
			PriceID:     "avalanche-2",
			ExplorerURL: "https://snowtrace.io",
			Active:      true,
		},
		{
			Name:        "Avalanche Fuji",
			NetworkID:   43113,
			RPCURL:      "https://api.avax-test.network/ext/bc/C/rpc",
			Symbol:      "AVAX",
			PriceID:     "avalanche-2",
			ExplorerURL: "https://testnet.snowtrace.io",
			Active:      true,
		},
	}

	for _, c := range defaults {
		_, err := s.db.Exec(ctx, `
			INSERT INTO chains (name, network_id, rpc_url, symbol, price_id, explorer_url, active)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (name) DO NOTHING`,
			c.Name, c.NetworkID, c.RPCURL, c.Symbol, c.PriceID, c.ExplorerURL, c.Active,
		)
		if err != nil {
			return fmt.Errorf("seed chain %s: %w", c.Name, err)
		}
	}
	return nil
}
