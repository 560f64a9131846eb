// Package dedup 使用 Redis SETNX 记录已使用过的幂等键。
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "taskmanager:idempotency:"

// Deduplicator 判断同一个幂等键是否在窗口期内被使用过。
type Deduplicator struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewDeduplicator 创建去重器，ttl<=0 时窗口为 10 分钟。
func NewDeduplicator(rdb *redis.Client, ttl time.Duration) *Deduplicator {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Deduplicator{
		rdb: rdb,
		ttl: ttl,
	}
}

// IsDuplicate 占用 scope 下的 key，已被占用时返回 true。
//
// scope 用来隔离不同用户，同一个 Idempotency-Key 在不同用户之间互不影响。
func (d *Deduplicator) IsDuplicate(ctx context.Context, scope, key string) (bool, error) {
	if d == nil || d.rdb == nil || key == "" {
		return false, nil
	}
	ok, err := d.rdb.SetNX(ctx, redisKey(scope, key), "1", d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup setnx: %w", err)
	}
	return !ok, nil
}

// Delete 释放 key，用于请求失败后允许客户端重试。
func (d *Deduplicator) Delete(ctx context.Context, scope, key string) error {
	if d == nil || d.rdb == nil || key == "" {
		return nil
	}
	if err := d.rdb.Del(ctx, redisKey(scope, key)).Err(); err != nil {
		return fmt.Errorf("dedup del: %w", err)
	}
	return nil
}

func redisKey(scope, key string) string {
	sum := sha256.Sum256([]byte(scope + "\x00" + key))
	return keyPrefix + hex.EncodeToString(sum[:])
}
