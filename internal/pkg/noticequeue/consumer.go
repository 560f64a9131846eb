package noticequeue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"taskmanager/internal/pkg/metrics"
)

// FailureAction 表示失败消息的处理方式。
type FailureAction string

const (
	FailureActionNone  FailureAction = "none"
	FailureActionRetry FailureAction = "retry"
	FailureActionDLQ   FailureAction = "dlq"
)

// Consumer 以消费者组方式读取通知消息。
//
// 先通过 XAUTOCLAIM 认领其它消费者长时间未确认的消息，没有时再读新消息。
type Consumer struct {
	stream           *Stream
	logger           *slog.Logger
	group            string
	consumerID       string
	blockTime        time.Duration
	batchSize        int64
	pendingIdle      time.Duration
	pendingStart     string
	deadLetterStream string
	maxRetry         int
}

// ConsumerOption 消费者配置选项。
type ConsumerOption func(*Consumer)

// WithBlockTime 设置 XREADGROUP 阻塞等待时间。
func WithBlockTime(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.blockTime = d
	}
}

// WithBatchSize 设置每次读取的消息数量。
func WithBatchSize(size int64) ConsumerOption {
	return func(c *Consumer) {
		c.batchSize = size
	}
}

// WithMaxRetry 设置最大重试次数。
func WithMaxRetry(maxRetry int) ConsumerOption {
	return func(c *Consumer) {
		c.maxRetry = maxRetry
	}
}

// NewConsumer 创建消费者并确保消费者组存在。
//
// 参数:
//   - rdb: Redis 客户端
//   - logger: 日志记录器
//   - streamName: Stream 名称
//   - group: 消费者组名称
//   - consumerID: 消费者唯一标识
//   - opts: 可选配置
func NewConsumer(ctx context.Context, rdb *redis.Client, logger *slog.Logger, streamName, group, consumerID string, opts ...ConsumerOption) (*Consumer, error) {
	if group == "" {
		return nil, fmt.Errorf("group name is required")
	}
	if consumerID == "" {
		return nil, fmt.Errorf("consumer id is required")
	}

	stream := NewStream(rdb, logger, streamName)
	c := &Consumer{
		stream:           stream,
		logger:           logger,
		group:            group,
		consumerID:       consumerID,
		blockTime:        time.Second,
		batchSize:        10,
		pendingIdle:      time.Minute,
		pendingStart:     "0-0",
		deadLetterStream: stream.Name() + ":dlq",
		maxRetry:         3,
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := stream.CreateGroup(ctx, group); err != nil {
		return nil, err
	}
	c.logger.Info("notice consumer ready",
		slog.String("stream", stream.Name()),
		slog.String("group", group),
		slog.String("consumer_id", consumerID))
	return c, nil
}

// DeadLetterStream 返回死信 Stream 名称。
func (c *Consumer) DeadLetterStream() string {
	return c.deadLetterStream
}

// Delivery 是读取到的一条消息。
type Delivery struct {
	ID      string
	Message *NoticeMessage
}

// Read 读取一批消息，优先返回认领到的 Pending 消息。
func (c *Consumer) Read(ctx context.Context) ([]*Delivery, error) {
	pending, err := c.readPending(ctx)
	if err != nil {
		return nil, err
	}
	if len(pending) > 0 {
		return pending, nil
	}
	return c.readNew(ctx)
}

func (c *Consumer) readPending(ctx context.Context) ([]*Delivery, error) {
	messages, next, err := c.stream.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.stream.name,
		Group:    c.group,
		Consumer: c.consumerID,
		MinIdle:  c.pendingIdle,
		Start:    c.pendingStart,
		Count:    c.batchSize,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xautoclaim failed: %w", err)
	}
	if next != "" {
		c.pendingStart = next
	}
	if len(messages) > 0 {
		metrics.NoticeAutoClaimTotal.Add(float64(len(messages)))
	}
	return c.parse(ctx, messages), nil
}

func (c *Consumer) readNew(ctx context.Context) ([]*Delivery, error) {
	streams, err := c.stream.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumerID,
		Streams:  []string{c.stream.name, ">"},
		Count:    c.batchSize,
		Block:    c.blockTime,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup failed: %w", err)
	}

	var messages []redis.XMessage
	for _, s := range streams {
		messages = append(messages, s.Messages...)
	}
	return c.parse(ctx, messages), nil
}

// parse 解析消息，无法解析的消息直接进入死信队列并确认。
func (c *Consumer) parse(ctx context.Context, messages []redis.XMessage) []*Delivery {
	if len(messages) == 0 {
		return nil
	}
	out := make([]*Delivery, 0, len(messages))
	for _, m := range messages {
		data, ok := m.Values["data"].(string)
		if !ok || data == "" {
			c.poison(ctx, m.ID, fmt.Sprintf("%v", m.Values["data"]), "invalid message format")
			continue
		}
		msg, err := parseMessage(data)
		if err != nil {
			c.poison(ctx, m.ID, data, err.Error())
			continue
		}
		out = append(out, &Delivery{ID: m.ID, Message: msg})
	}
	return out
}

// Ack 确认消息已处理。
func (c *Consumer) Ack(ctx context.Context, msgID string) error {
	acked, err := c.stream.rdb.XAck(ctx, c.stream.name, c.group, msgID).Result()
	if err != nil {
		return fmt.Errorf("xack failed: %w", err)
	}
	if acked == 0 {
		c.logger.Warn("message not acked (may already be acked)", slog.String("msg_id", msgID))
	}
	return nil
}

// HandleFailure 根据重试次数重新发布消息或放入死信队列，随后确认原消息。
func (c *Consumer) HandleFailure(ctx context.Context, d *Delivery, cause error) (FailureAction, error) {
	if d == nil || d.Message == nil {
		return FailureActionNone, fmt.Errorf("message is nil")
	}

	d.Message.Retry++
	if d.Message.Retry > c.maxRetry {
		if err := c.publishDeadLetter(ctx, d.ID, d.Message, cause); err != nil {
			return FailureActionDLQ, err
		}
		metrics.NoticeDLQTotal.Inc()
		return FailureActionDLQ, c.Ack(ctx, d.ID)
	}

	if err := c.stream.Publish(ctx, d.Message); err != nil {
		return FailureActionRetry, err
	}
	return FailureActionRetry, c.Ack(ctx, d.ID)
}

func (c *Consumer) poison(ctx context.Context, msgID, payload, reason string) {
	c.logger.Warn("poison notice message", slog.String("msg_id", msgID), slog.String("reason", reason))
	if err := c.publishDeadLetter(ctx, msgID, payload, errors.New(reason)); err != nil {
		c.logger.Error("publish dead letter failed", slog.String("msg_id", msgID), slog.String("error", err.Error()))
	}
	metrics.NoticeDLQTotal.Inc()
	if err := c.Ack(ctx, msgID); err != nil {
		c.logger.Error("ack poison message failed", slog.String("msg_id", msgID), slog.String("error", err.Error()))
	}
}

func (c *Consumer) publishDeadLetter(ctx context.Context, msgID string, payload interface{}, cause error) error {
	raw := payload
	if msg, ok := payload.(*NoticeMessage); ok {
		if data, err := json.Marshal(msg); err == nil {
			raw = string(data)
		}
	}
	return c.stream.publishRaw(ctx, c.deadLetterStream, map[string]interface{}{
		"original_id": msgID,
		"payload":     raw,
		"reason":      cause.Error(),
		"failed_at":   time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// Pending 返回消费者组中尚未确认的消息数量。
func (c *Consumer) Pending(ctx context.Context) (int64, error) {
	info, err := c.stream.rdb.XPending(ctx, c.stream.name, c.group).Result()
	if err != nil {
		return 0, fmt.Errorf("xpending failed: %w", err)
	}
	return info.Count, nil
}
