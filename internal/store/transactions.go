package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Transaction statuses.
const (
	TxStatusSuccess = "success"
	TxStatusFailed  = "failed"
)

// TransactionRecord is an append-only record of a submitted (or failed)
// transaction. Never mutated after creation.
type TransactionRecord struct {
	Hash      string         `json:"hash"`
	Type      string         `json:"type"`
	Amount    float64        `json:"amount"`
	Status    string         `json:"status"`
	GasUsed   *float64       `json:"gas_used,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	ChainID   int64          `json:"chain_id"`
	Timestamp time.Time      `json:"timestamp"`
}

// RecordTransaction appends a transaction record.
func (s *Store) RecordTransaction(ctx context.Context, tx *TransactionRecord) error {
	details, err := json.Marshal(tx.Details)
	if err != nil {
		return fmt.Errorf("marshal tx details: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO transactions (hash, type, amount, status, gas_used, details, chain_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		tx.Hash, tx.Type, tx.Amount, tx.Status, tx.GasUsed, details, tx.ChainID,
	)
	if err != nil {
		return fmt.Errorf("record transaction %s: %w", tx.Hash, err)
	}
	return nil
}

// RecentTransactions returns the newest transactions first.
func (s *Store) RecentTransactions(ctx context.Context, limit int) ([]*TransactionRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(ctx, `
		SELECT hash, type, amount, status, gas_used, details, chain_id, timestamp
		FROM transactions ORDER BY timestamp DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var txs []*TransactionRecord
	for rows.Next() {
		var tx TransactionRecord
		var details []byte
		if err := rows.Scan(&tx.Hash, &tx.Type, &tx.Amount, &tx.Status,
			&tx.GasUsed, &details, &tx.ChainID, &tx.Timestamp); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		_ = json.Unmarshal(details, &tx.Details)
		txs = append(txs, &tx)
	}
	return txs, rows.Err()
}
