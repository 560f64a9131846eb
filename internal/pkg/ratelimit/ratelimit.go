// Package ratelimit 基于 Redis 的令牌桶限流，按 key 独立计数，多实例共享。
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrRateLimitTimeout = errors.New("rate limit wait timeout")

const keyPrefix = "taskmanager:ratelimit:"

const tokenBucketLua = `
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])

if rate <= 0 or burst <= 0 then
  return {1, 0, burst}
end

local data = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(data[1])
local ts = tonumber(data[2])
if tokens == nil then
  tokens = burst
end
if ts == nil then
  ts = now
end

local delta = math.max(0, now - ts)
tokens = math.min(burst, tokens + (delta * rate) / 1000.0)

local allowed = tokens >= requested
local wait_ms = 0
if allowed then
  tokens = tokens - requested
else
  wait_ms = math.ceil((requested - tokens) * 1000.0 / rate)
end

redis.call("HMSET", key, "tokens", tokens, "ts", now)
redis.call("PEXPIRE", key, math.ceil((burst / rate) * 1000.0 * 2))

return {allowed and 1 or 0, wait_ms}
`

// Limiter 是按 key 划分的令牌桶限流器。rate 或 burst 不大于 0 时不限流。
type Limiter struct {
	rdb    *redis.Client
	rate   float64
	burst  float64
	logger *slog.Logger
	script *redis.Script
}

// NewLimiter 创建限流器。
//
// 参数:
//   - rdb: Redis 客户端
//   - logger: 日志记录器（可为 nil）
//   - rate: 每秒补充的令牌数
//   - burst: 桶容量
func NewLimiter(rdb *redis.Client, logger *slog.Logger, rate float64, burst float64) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		rdb:    rdb,
		rate:   rate,
		burst:  burst,
		logger: logger,
		script: redis.NewScript(tokenBucketLua),
	}
}

// Enabled 判断限流是否生效。
func (l *Limiter) Enabled() bool {
	return l != nil && l.rdb != nil && l.rate > 0 && l.burst > 0
}

// Allow 尝试为 key 取一个令牌，不等待。
//
// 返回值:
//   - bool: 是否放行
//   - time.Duration: 未放行时建议的重试间隔
//   - error: Redis 调用失败
func (l *Limiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	if !l.Enabled() {
		return true, 0, nil
	}
	allowed, waitMs, err := l.take(ctx, key)
	if err != nil {
		return false, 0, err
	}
	return allowed, time.Duration(waitMs) * time.Millisecond, nil
}

// Wait 阻塞直到为 key 取得令牌，ctx 结束时返回 ErrRateLimitTimeout。
func (l *Limiter) Wait(ctx context.Context, key string) error {
	if !l.Enabled() {
		return nil
	}

	const jitterMax = 10 * time.Millisecond
	for {
		allowed, waitMs, err := l.take(ctx, key)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		wait := time.Duration(waitMs) * time.Millisecond
		if wait <= 0 {
			wait = 50 * time.Millisecond
		}
		wait += time.Duration(rand.Int63n(int64(jitterMax)))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			l.logger.Debug("rate limit wait aborted", slog.String("key", key))
			return ErrRateLimitTimeout
		case <-timer.C:
		}
	}
}

func (l *Limiter) take(ctx context.Context, key string) (bool, int64, error) {
	now := time.Now().UnixMilli()
	res, err := l.script.Run(ctx, l.rdb, []string{keyPrefix + key}, l.rate, l.burst, now, 1).Result()
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit eval: %w", err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) < 2 {
		return false, 0, fmt.Errorf("ratelimit invalid result")
	}
	return toInt64(values[0]) == 1, toInt64(values[1]), nil
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if parsed, err := strconv.ParseInt(t, 10, 64); err == nil {
			return parsed
		}
	}
	return 0
}
