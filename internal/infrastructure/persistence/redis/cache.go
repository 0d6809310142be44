package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"chunk-rerank-proxy/internal/infrastructure/cache"
)

var cacheTracer = otel.Tracer("redis.cache")

const (
	fieldInsertedAt = "inserted_at"
	fieldPayload    = "payload"

	scanBatch = 500
)

// Store 以 Redis hash 保存响应缓存，过期交给 PEXPIRE
type Store struct {
	client *Client
	prefix string
}

var _ cache.Store = (*Store)(nil)

// NewStore 创建 Redis 缓存存储
func NewStore(client *Client, prefix string) *Store {
	if prefix == "" {
		prefix = "rerank"
	}
	return &Store{client: client, prefix: prefix + ":resp:"}
}

// redisKey 逻辑 key 可能包含完整请求体，统一取摘要
func (s *Store) redisKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return s.prefix + hex.EncodeToString(sum[:])
}

// Get 读取缓存条目
func (s *Store) Get(ctx context.Context, key string) (cache.Entry, bool, error) {
	rk := s.redisKey(key)
	ctx, span := cacheTracer.Start(ctx, "cache.Get",
		trace.WithAttributes(attribute.String("cache.key", rk)))
	defer span.End()

	vals, err := s.client.rdb.HMGet(ctx, rk, fieldInsertedAt, fieldPayload).Result()
	if err != nil {
		span.RecordError(err)
		return cache.Entry{}, false, fmt.Errorf("redis hmget: %w", err)
	}

	insertedRaw, ok1 := vals[0].(string)
	payload, ok2 := vals[1].(string)
	if !ok1 || !ok2 {
		span.SetAttributes(attribute.Bool("cache.hit", false))
		return cache.Entry{}, false, nil
	}

	ms, err := strconv.ParseInt(insertedRaw, 10, 64)
	if err != nil {
		span.RecordError(err)
		return cache.Entry{}, false, fmt.Errorf("corrupt cache entry %s: %w", rk, err)
	}

	span.SetAttributes(attribute.Bool("cache.hit", true))
	return cache.Entry{Payload: []byte(payload), InsertedAt: time.UnixMilli(ms)}, true, nil
}

// Set 写入条目并设置过期时间
func (s *Store) Set(ctx context.Context, key string, entry cache.Entry, ttl time.Duration) error {
	rk := s.redisKey(key)
	ctx, span := cacheTracer.Start(ctx, "cache.Set",
		trace.WithAttributes(
			attribute.String("cache.key", rk),
			attribute.Int64("cache.ttl_ms", ttl.Milliseconds()),
		))
	defer span.End()

	pipe := s.client.rdb.TxPipeline()
	pipe.HSet(ctx, rk,
		fieldInsertedAt, strconv.FormatInt(entry.InsertedAt.UnixMilli(), 10),
		fieldPayload, entry.Payload,
	)
	if ttl > 0 {
		pipe.PExpire(ctx, rk, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete 删除条目
func (s *Store) Delete(ctx context.Context, key string) error {
	ctx, span := cacheTracer.Start(ctx, "cache.Delete")
	defer span.End()

	if err := s.client.rdb.Del(ctx, s.redisKey(key)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Purge 删除本实例前缀下的所有条目
func (s *Store) Purge(ctx context.Context) error {
	ctx, span := cacheTracer.Start(ctx, "cache.Purge")
	defer span.End()

	var cursor uint64
	for {
		keys, next, err := s.client.rdb.Scan(ctx, cursor, s.prefix+"*", scanBatch).Result()
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			if err := s.client.rdb.Del(ctx, keys...).Err(); err != nil {
				span.RecordError(err)
				return fmt.Errorf("redis del: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Stats 统计前缀下的条目数
func (s *Store) Stats(ctx context.Context) (cache.Stats, error) {
	ctx, span := cacheTracer.Start(ctx, "cache.Stats")
	defer span.End()

	count := 0
	iter := s.client.rdb.Scan(ctx, 0, s.prefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		span.RecordError(err)
		return cache.Stats{Backend: "redis", Entries: -1}, fmt.Errorf("redis scan: %w", err)
	}
	return cache.Stats{Backend: "redis", Entries: count}, nil
}
