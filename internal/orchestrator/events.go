package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EventBus publishes cycle outcomes to a Redis stream for UI and
// monitoring consumers. Optional at runtime; a nil bus is a no-op.
type EventBus struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewEventBus creates a Redis-backed event bus.
func NewEventBus(redisURL string, logger *zap.Logger) (*EventBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &EventBus{rdb: rdb, logger: logger}, nil
}

// CycleEvent describes one chain's outcome in a cycle.
type CycleEvent struct {
	ID        string    `json:"id"`
	ChainID   int64     `json:"chain_id"`
	Chain     string    `json:"chain"`
	Executed  bool      `json:"executed"`
	TxHash    string    `json:"tx_hash,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const cycleStream = "chainmind:cycle"

// Publish appends an event to the cycle stream.
func (b *EventBus) Publish(ctx context.Context, ev *CycleEvent) error {
	if b == nil {
		return nil
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	ev.Timestamp = time.Now().UTC()

	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: cycleStream,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish cycle event: %w", err)
	}

	b.logger.Debug("cycle event published",
		zap.String("chain", ev.Chain),
		zap.Bool("executed", ev.Executed))
	return nil
}

// Subscribe listens for cycle events. Cancel the context to stop.
func (b *EventBus) Subscribe(ctx context.Context) <-chan *CycleEvent {
	ch := make(chan *CycleEvent, 16)

	go func() {
		defer close(ch)
		lastID := "$"

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			results, err := b.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{cycleStream, lastID},
				Count:   10,
				Block:   time.Second * 2,
			}).Result()

			if err != nil {
				if err == context.Canceled || err == context.DeadlineExceeded {
					return
				}
				continue
			}

			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var ev CycleEvent
					if json.Unmarshal([]byte(data), &ev) == nil {
						ch <- &ev
					}
				}
			}
		}
	}()

	return ch
}

// Close shuts down the Redis connection.
func (b *EventBus) Close() error {
	if b == nil {
		return nil
	}
	return b.rdb.Close()
}
