package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKey = "bridge:generations"

// RedisLedger keeps a capped list of JSON records, newest at the head.
type RedisLedger struct {
	client     *redis.Client
	key        string
	maxRecords int
}

func NewRedisLedger(client *redis.Client, key string, maxRecords int) *RedisLedger {
	if key == "" {
		key = defaultRedisKey
	}
	return &RedisLedger{client: client, key: key, maxRecords: maxRecords}
}

func (r *RedisLedger) Record(ctx context.Context, g Generation) error {
	b, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("marshal generation: %w", err)
	}
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, r.key, b)
	if r.maxRecords > 0 {
		pipe.LTrim(ctx, r.key, 0, int64(r.maxRecords-1))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save generation: %w", err)
	}
	return nil
}

func (r *RedisLedger) Recent(ctx context.Context, limit int) ([]Generation, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	items, err := r.client.LRange(ctx, r.key, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query generations: %w", err)
	}
	out := make([]Generation, 0, len(items))
	for _, item := range items {
		var g Generation
		if err := json.Unmarshal([]byte(item), &g); err != nil {
			continue
		}
		out = append(out, g)
	}
	return out, nil
}

func (r *RedisLedger) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisLedger) Close() error {
	return r.client.Close()
}
