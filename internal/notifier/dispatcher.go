// Package notifier 从通知 Stream 读取消息，向成员发送邮件。
package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"taskmanager/internal/model"
	"taskmanager/internal/pkg/metrics"
	"taskmanager/internal/pkg/noticequeue"
	"taskmanager/internal/pkg/notify"
	"taskmanager/internal/pkg/queue"
)

// Source 是通知消息来源（Redis Stream 消费者）。
type Source interface {
	Read(ctx context.Context) ([]*noticequeue.Delivery, error)
	Ack(ctx context.Context, msgID string) error
	HandleFailure(ctx context.Context, d *noticequeue.Delivery, cause error) (noticequeue.FailureAction, error)
}

// Directory 解析接收人。
type Directory interface {
	FindUsersByIDs(ctx context.Context, ids []uint) ([]model.User, error)
}

// Throttle 限制邮件发送速率。
type Throttle interface {
	Wait(ctx context.Context, key string) error
}

// Dispatcher 把 Stream 中的消息派发到 worker 池发送。
type Dispatcher struct {
	source   Source
	users    Directory
	notifier notify.Notifier
	throttle Throttle
	queue    *queue.Queue
	logger   *slog.Logger
	backoff  time.Duration
}

// NewDispatcher 创建派发器。
//
// 参数:
//
//	source: 消息来源
//	users: 用户目录
//	notifier: 发送通道
//	throttle: 发送限速（可为 nil）
//	logger: 日志记录器
//	workers: 并发发送的 worker 数
//	capacity: 内存队列容量
//
// 返回值:
//
//	*Dispatcher: 派发器实例
func NewDispatcher(source Source, users Directory, notifier notify.Notifier, throttle Throttle, logger *slog.Logger, workers, capacity int) *Dispatcher {
	q := queue.NewQueue(logger, workers, capacity)
	q.SetErrorHandler(func(err error) {
		logger.Error("notice delivery failed", slog.String("error", err.Error()))
	})
	metrics.NotifierWorkers.Set(float64(q.Workers()))
	return &Dispatcher{
		source:   source,
		users:    users,
		notifier: notifier,
		throttle: throttle,
		queue:    q,
		logger:   logger,
		backoff:  time.Second,
	}
}

// Run 持续读取并派发消息，直到 ctx 被取消。
//
// 退出前会等待已入队的发送任务完成。
func (d *Dispatcher) Run(ctx context.Context) error {
	// 发送任务在关闭阶段仍需完成确认，不随 ctx 取消
	jobCtx := context.WithoutCancel(ctx)
	d.queue.Start(jobCtx)
	defer d.queue.Shutdown()

	d.logger.Info("notice dispatcher started", slog.Int("workers", d.queue.Workers()))
	for {
		if ctx.Err() != nil {
			d.logger.Info("notice dispatcher stopping")
			return nil
		}

		deliveries, err := d.source.Read(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			d.logger.Error("read notices failed", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
			case <-time.After(d.backoff):
			}
			continue
		}

		for _, delivery := range deliveries {
			delivery := delivery
			if err := d.queue.EnqueueBlocking(ctx, func(ctx context.Context) error {
				return d.deliver(ctx, delivery)
			}); err != nil {
				// 未入队的消息保持 pending，之后由 XAUTOCLAIM 重新认领
				d.logger.Warn("enqueue notice failed",
					slog.String("msg_id", delivery.ID),
					slog.String("error", err.Error()))
			}
		}
	}
}

// deliver 向消息中的全部接收人发送邮件。
//
// 已停用或找不到的用户会被跳过；发送失败的接收人会随重试消息重新投递，
// 成功的不会重复发送。
func (d *Dispatcher) deliver(ctx context.Context, delivery *noticequeue.Delivery) error {
	msg := delivery.Message
	users, err := d.users.FindUsersByIDs(ctx, msg.Recipients)
	if err != nil {
		return d.fail(ctx, delivery, fmt.Errorf("resolve recipients: %w", err))
	}

	var failed []uint
	var lastErr error
	for _, u := range users {
		if !u.IsActive || u.Email == "" {
			continue
		}
		if d.throttle != nil {
			if err := d.throttle.Wait(ctx, "smtp"); err != nil {
				failed = append(failed, u.ID)
				lastErr = err
				continue
			}
		}
		err := d.notifier.Send(ctx, notify.Message{
			To:        u.Email,
			Name:      u.Name,
			TaskID:    msg.TaskID,
			TaskTitle: msg.TaskTitle,
			Text:      msg.Text,
		})
		if err != nil {
			metrics.NoticeDeliveryTotal.WithLabelValues("failed").Inc()
			failed = append(failed, u.ID)
			lastErr = err
			continue
		}
		metrics.NoticeDeliveryTotal.WithLabelValues("sent").Inc()
	}

	if len(failed) > 0 {
		msg.Recipients = failed
		return d.fail(ctx, delivery, lastErr)
	}
	if err := d.source.Ack(ctx, delivery.ID); err != nil {
		return err
	}
	d.logger.Debug("notice delivered",
		slog.Uint64("notice_id", uint64(msg.NoticeID)),
		slog.Int("recipients", len(users)))
	return nil
}

func (d *Dispatcher) fail(ctx context.Context, delivery *noticequeue.Delivery, cause error) error {
	action, err := d.source.HandleFailure(ctx, delivery, cause)
	if err != nil {
		return fmt.Errorf("handle failure (%s): %w", action, err)
	}
	d.logger.Warn("notice delivery will not complete now",
		slog.String("msg_id", delivery.ID),
		slog.String("action", string(action)),
		slog.String("cause", cause.Error()))
	return cause
}
