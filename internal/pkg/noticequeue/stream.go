// Package noticequeue 基于 Redis Streams 投递通知消息，支持消费者组、重试与死信队列。
package noticequeue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
)

// DefaultStream 是默认的 Stream 名称。
const DefaultStream = "taskmanager:notice:stream"

// Stream 封装单个 Redis Stream 的读写。
type Stream struct {
	rdb    *redis.Client
	logger *slog.Logger
	name   string
}

// NewStream 创建 Stream，name 为空时使用 DefaultStream。
func NewStream(rdb *redis.Client, logger *slog.Logger, name string) *Stream {
	if name == "" {
		name = DefaultStream
	}
	return &Stream{
		rdb:    rdb,
		logger: logger,
		name:   name,
	}
}

// Name 返回 Stream 名称。
func (s *Stream) Name() string {
	return s.name
}

// Publish 发布一条通知消息（XADD）。
func (s *Stream) Publish(ctx context.Context, msg *NoticeMessage) error {
	if msg == nil {
		return fmt.Errorf("message is nil")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return s.publishRaw(ctx, s.name, map[string]interface{}{
		"data": string(data),
	})
}

func (s *Stream) publishRaw(ctx context.Context, stream string, values map[string]interface{}) error {
	msgID, err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: 100000,
		Approx: true,
		Values: values,
	}).Result()
	if err != nil {
		return fmt.Errorf("xadd failed: %w", err)
	}

	s.logger.Debug("notice message published",
		slog.String("stream", stream),
		slog.String("msg_id", msgID))
	return nil
}

// CreateGroup 创建消费者组（已存在时忽略）。
func (s *Stream) CreateGroup(ctx context.Context, group string) error {
	err := s.rdb.XGroupCreateMkStream(ctx, s.name, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

// Len 返回 Stream 中的消息数量。
func (s *Stream) Len(ctx context.Context) (int64, error) {
	length, err := s.rdb.XLen(ctx, s.name).Result()
	if err != nil {
		return 0, fmt.Errorf("xlen failed: %w", err)
	}
	return length, nil
}

func parseMessage(data string) (*NoticeMessage, error) {
	var msg NoticeMessage
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}
	return &msg, nil
}
