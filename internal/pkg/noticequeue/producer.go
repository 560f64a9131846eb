package noticequeue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"taskmanager/internal/model"
)

// Producer 在 API 侧把已落库的通知发布到 Stream。
type Producer struct {
	stream *Stream
	logger *slog.Logger
}

// NewProducer 创建通知生产者。
func NewProducer(rdb *redis.Client, logger *slog.Logger, streamName string) *Producer {
	return &Producer{
		stream: NewStream(rdb, logger, streamName),
		logger: logger,
	}
}

// PublishNotice 发布一条通知。
//
// 参数:
//   - ctx: 上下文
//   - task: 通知关联的任务（已落库）
//   - notice: 通知（已落库）
//
// 返回值:
//   - error: 发布失败时返回错误
func (p *Producer) PublishNotice(ctx context.Context, task *model.Task, notice *model.Notice) error {
	if task == nil || notice == nil || notice.ID == 0 {
		return fmt.Errorf("invalid notice")
	}
	msg := NewNoticeMessage(task, notice)
	if err := p.stream.Publish(ctx, msg); err != nil {
		return err
	}
	p.logger.Debug("notice submitted",
		slog.Uint64("notice_id", uint64(notice.ID)),
		slog.Int("recipients", len(msg.Recipients)))
	return nil
}

// QueueLength 返回当前 Stream 长度。
func (p *Producer) QueueLength(ctx context.Context) (int64, error) {
	return p.stream.Len(ctx)
}
