package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores the ledger as a Redis list of JSON-encoded entries.
// Appends are guarded with WATCH on the list key, so a concurrent writer on
// another process causes ErrTailMoved instead of a fork.
type RedisBackend struct {
	rdb          *redis.Client
	instanceName string
}

// NewRedisBackend creates a backend for the given instance. The backend owns the
// client and closes it on Close.
func NewRedisBackend(rdb *redis.Client, instanceName string) (*RedisBackend, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}
	return &RedisBackend{rdb: rdb, instanceName: instanceName}, nil
}

func (r *RedisBackend) key() string {
	return LedgerKey(r.instanceName)
}

func (r *RedisBackend) Tail(ctx context.Context) (Entry, bool, error) {
	return tailOf(ctx, r.rdb, r.key())
}

type listIndexer interface {
	LIndex(ctx context.Context, key string, index int64) *redis.StringCmd
}

func tailOf(ctx context.Context, c listIndexer, key string) (Entry, bool, error) {
	raw, err := c.LIndex(ctx, key, -1).Result()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to read ledger tail from Redis: %w", err)
	}
	var e Entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return Entry{}, false, fmt.Errorf("failed to decode ledger tail: %w", err)
	}
	return e, true, nil
}

func (r *RedisBackend) Append(ctx context.Context, entry Entry, expectedPrev string) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry %d: %w", entry.Sequence, err)
	}

	key := r.key()
	err = r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		tail, ok, err := tailOf(ctx, tx, key)
		if err != nil {
			return err
		}
		current := GenesisHash
		if ok {
			current = tail.Hash
		}
		if current != expectedPrev {
			return ErrTailMoved
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.RPush(ctx, key, data)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return ErrTailMoved
	}
	if err != nil && !errors.Is(err, ErrTailMoved) {
		return fmt.Errorf("failed to append entry %d to Redis: %w", entry.Sequence, err)
	}
	return err
}

func (r *RedisBackend) Range(ctx context.Context, start, end uint64) ([]Entry, error) {
	if start >= end {
		return []Entry{}, nil
	}
	raws, err := r.rdb.LRange(ctx, r.key(), int64(start), int64(end)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger range from Redis: %w", err)
	}
	out := make([]Entry, 0, len(raws))
	for i, raw := range raws {
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("failed to decode ledger entry %d: %w", start+uint64(i), err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *RedisBackend) Len(ctx context.Context) (uint64, error) {
	n, err := r.rdb.LLen(ctx, r.key()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read ledger length from Redis: %w", err)
	}
	return uint64(n), nil
}

// Ping verifies Redis connectivity.
func (r *RedisBackend) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (r *RedisBackend) Close() error {
	return r.rdb.Close()
}
