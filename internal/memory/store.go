package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Recognized memory types.
const (
	TypeTransactionPattern = "transaction_pattern"
	TypeUserPreference     = "user_preference"
	TypeCommandPattern     = "command_pattern"
)

// Record is one stored memory, identified by (memory_type, key).
type Record struct {
	MemoryType   string         `json:"memory_type"`
	Key          string         `json:"key"`
	Value        map[string]any `json:"value"`
	Confidence   float64        `json:"confidence"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	LastAccessed time.Time      `json:"last_accessed"`
}

// Store handles durable memory with confidence dynamics.
type Store struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewStore creates a memory store over a shared connection pool.
func NewStore(db *pgxpool.Pool, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Put upserts a memory by (type, key), clamping confidence into
// [0.1, 1.0] and bumping the updated timestamp.
func (s *Store) Put(ctx context.Context, memType, key string, value map[string]any, confidence float64) error {
	if value == nil {
		return fmt.Errorf("memory value must not be nil")
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal memory value: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO memories (memory_type, key, value, confidence)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (memory_type, key) DO UPDATE SET
			value = EXCLUDED.value,
			confidence = EXCLUDED.confidence,
			updated_at = NOW()`,
		memType, key, data, clampConfidence(confidence),
	)
	if err != nil {
		return fmt.Errorf("store memory %s/%s: %w", memType, key, err)
	}
	return nil
}

// Get returns a memory value by (type, key) and touches last_accessed.
// A missing memory returns nil, not an error.
func (s *Store) Get(ctx context.Context, memType, key string) (map[string]any, error) {
	var data []byte
	row := s.db.QueryRow(ctx, `
		UPDATE memories SET last_accessed = NOW()
		WHERE memory_type = $1 AND key = $2
		RETURNING value`,
		memType, key)
	err := row.Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get memory %s/%s: %w", memType, key, err)
	}

	var value map[string]any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("decode memory %s/%s: %w", memType, key, err)
	}
	return value, nil
}

// List returns memories of a type ordered most trusted, most recently
// used first. The head of this sequence is treated as the best evidence.
func (s *Store) List(ctx context.Context, memType string, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(ctx, `
		SELECT memory_type, key, value, confidence, created_at, updated_at, last_accessed
		FROM memories WHERE memory_type = $1
		ORDER BY confidence DESC, last_accessed DESC
		LIMIT $2`,
		memType, limit)
	if err != nil {
		return nil, fmt.Errorf("list memories %s: %w", memType, err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var rec Record
		var data []byte
		if err := rows.Scan(&rec.MemoryType, &rec.Key, &data, &rec.Confidence,
			&rec.CreatedAt, &rec.UpdatedAt, &rec.LastAccessed); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		if err := json.Unmarshal(data, &rec.Value); err != nil {
			return nil, fmt.Errorf("decode memory %s/%s: %w", rec.MemoryType, rec.Key, err)
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// Reinforce updates a pattern's outcome counters and recomputes its
// confidence. Absence of the record is a no-op, not an error.
func (s *Store) Reinforce(ctx context.Context, memType, key string, success bool) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var data []byte
	row := tx.QueryRow(ctx, `
		SELECT value FROM memories
		WHERE memory_type = $1 AND key = $2
		FOR UPDATE`,
		memType, key)
	err = row.Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load memory %s/%s: %w", memType, key, err)
	}

	var value map[string]any
	if err := json.Unmarshal(data, &value); err != nil {
		return fmt.Errorf("decode memory %s/%s: %w", memType, key, err)
	}

	stats := statsFromValue(value)
	stats.Record(success)
	confidence := stats.Confidence(success)
	value["stats"] = stats.toValue()

	updated, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal memory value: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE memories SET value = $3, confidence = $4, updated_at = NOW()
		WHERE memory_type = $1 AND key = $2`,
		memType, key, updated, confidence); err != nil {
		return fmt.Errorf("reinforce memory %s/%s: %w", memType, key, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit reinforce: %w", err)
	}

	s.logger.Debug("pattern reinforced",
		zap.String("type", memType),
		zap.String("key", key),
		zap.Bool("success", success),
		zap.Float64("confidence", confidence))
	return nil
}

// Cleanup deletes stale low-confidence memories. Returns the number of
// rows removed.
func (s *Store) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	tag, err := s.db.Exec(ctx, `
		DELETE FROM memories WHERE updated_at < $1 AND confidence < 0.3`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup memories: %w", err)
	}
	return tag.RowsAffected(), nil
}
