package store

import (
	"context"
	"fmt"
	"time"
)

// DecisionRecord is an append-only audit entry for one verdict from the
// decision service.
type DecisionRecord struct {
	ID              int64     `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	DecisionType    string    `json:"decision_type"`
	Confidence      float64   `json:"confidence"`
	Reasoning       string    `json:"reasoning"`
	ChainID         int64     `json:"chain_id"`
	TransactionHash *string   `json:"transaction_hash,omitempty"`
}

// RecordDecision appends a decision audit record.
func (s *Store) RecordDecision(ctx context.Context, d *DecisionRecord) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO ai_decisions (decision_type, confidence, reasoning, chain_id, transaction_hash)
		VALUES ($1, $2, $3, $4, $5)`,
		d.DecisionType, d.Confidence, d.Reasoning, d.ChainID, d.TransactionHash,
	)
	if err != nil {
		return fmt.Errorf("record decision: %w", err)
	}
	return nil
}

// RecentDecisions returns the newest decisions first.
func (s *Store) RecentDecisions(ctx context.Context, limit int) ([]*DecisionRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, timestamp, decision_type, confidence, COALESCE(reasoning,''), chain_id, transaction_hash
		FROM ai_decisions ORDER BY timestamp DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var decisions []*DecisionRecord
	for rows.Next() {
		var d DecisionRecord
		if err := rows.Scan(&d.ID, &d.Timestamp, &d.DecisionType, &d.Confidence,
			&d.Reasoning, &d.ChainID, &d.TransactionHash); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		decisions = append(decisions, &d)
	}
	return decisions, rows.Err()
}
