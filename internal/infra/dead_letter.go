package infra

// dead_letter.go: dead letter queue for ledger postings
// Postings the ledger rejected or never answered are parked here until the
// replay task re-posts them. Uses one Redis list per source: dlq:{source}

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	DLQPrefix           = "dlq:"
	StockMovementsQueue = "stock_movements"
)

// DeadLetter wraps a failed posting with metadata for replay and audit.
type DeadLetter struct {
	Key      string               `json:"key"`
	BatchID  string               `json:"batch_id"`
	Payload  StockMovementRequest `json:"payload"`
	Reason   string               `json:"reason"`
	FailedAt string               `json:"failed_at"` // ISO 8601
	Attempts int                  `json:"attempts"`
}

// RedisDeadLetters keeps failed postings in a Redis list. New entries are
// pushed on the left and replay pops from the right, so replay is FIFO.
type RedisDeadLetters struct {
	rdb   *redis.Client
	queue string
}

func NewRedisDeadLetters(rdb *redis.Client, queue string) *RedisDeadLetters {
	if queue == "" {
		queue = StockMovementsQueue
	}
	return &RedisDeadLetters{rdb: rdb, queue: queue}
}

func (d *RedisDeadLetters) key() string { return DLQPrefix + d.queue }

// Push parks a failed posting.
func (d *RedisDeadLetters) Push(ctx context.Context, entry DeadLetter) error {
	if entry.FailedAt == "" {
		entry.FailedAt = time.Now().UTC().Format(time.RFC3339)
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("dlq: marshal entry: %w", err)
	}
	if err := d.rdb.LPush(ctx, d.key(), data).Err(); err != nil {
		return fmt.Errorf("dlq: push to %s: %w", d.key(), err)
	}

	log.Warn().
		Str("dlq_key", d.key()).
		Str("posting_key", entry.Key).
		Str("reason", entry.Reason).
		Int("attempts", entry.Attempts).
		Msg("dlq: posting moved to dead letter queue")
	return nil
}

// Pop removes the oldest entry; nil when the list is empty.
func (d *RedisDeadLetters) Pop(ctx context.Context) (*DeadLetter, error) {
	raw, err := d.rdb.RPop(ctx, d.key()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dlq: pop from %s: %w", d.key(), err)
	}
	var entry DeadLetter
	if err := json.Unmarshal(raw, &entry); err != nil {
		log.Error().Err(err).Str("dlq_key", d.key()).Msg("dlq: dropping unreadable entry")
		return nil, fmt.Errorf("dlq: decode entry: %w", err)
	}
	return &entry, nil
}

// List returns up to limit entries without removing them, newest first.
func (d *RedisDeadLetters) List(ctx context.Context, limit int64) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.rdb.LRange(ctx, d.key(), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("dlq: list %s: %w", d.key(), err)
	}
	out := make([]DeadLetter, 0, len(rows))
	for _, row := range rows {
		var entry DeadLetter
		if err := json.Unmarshal([]byte(row), &entry); err != nil {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

// Len returns the number of parked postings for monitoring.
func (d *RedisDeadLetters) Len(ctx context.Context) (int64, error) {
	return d.rdb.LLen(ctx, d.key()).Result()
}
