// Package queue 提供有界的内存任务队列与固定大小的 worker 池。
package queue

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// ErrClosed 表示队列已关闭。
var ErrClosed = errors.New("queue is closed")

// Job 表示一个可执行的异步任务。
type Job func(ctx context.Context) error

// ErrorHandler 在任务返回错误或 panic 时被调用。
type ErrorHandler func(err error)

// Queue 是固定 worker 数的任务队列，关闭时会等待已入队任务执行完。
type Queue struct {
	logger       *slog.Logger
	workers      int
	jobs         chan Job
	errorHandler ErrorHandler

	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool

	enqueued  atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	panics    atomic.Int64
}

// Stats 队列统计信息快照。
type Stats struct {
	Enqueued  int64 // 总入队任务数
	Succeeded int64 // 成功任务数
	Failed    int64 // 失败任务数（含 panic）
	Panics    int64 // Panic 次数
	Pending   int   // 当前排队中的任务数
}

// NewQueue 创建一个新的任务队列。
//
// 参数:
//   - logger: 日志记录器
//   - workers: worker 数量（至少为 1）
//   - capacity: 队列容量（至少为 1）
func NewQueue(logger *slog.Logger, workers int, capacity int) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		logger:  logger,
		workers: workers,
		jobs:    make(chan Job, capacity),
	}
}

// SetErrorHandler 设置错误处理回调函数，需在 Start 之前调用。
func (q *Queue) SetErrorHandler(handler ErrorHandler) {
	q.errorHandler = handler
}

// Workers 返回 worker 数量。
func (q *Queue) Workers() int {
	return q.workers
}

// Start 启动 worker 池。ctx 会传给每个任务；worker 在队列关闭并排空后退出。
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()
	for job := range q.jobs {
		q.run(ctx, job, id)
	}
	q.logger.Debug("worker exit", slog.Int("worker_id", id))
}

func (q *Queue) run(ctx context.Context, job Job, workerID int) {
	defer func() {
		if r := recover(); r != nil {
			q.panics.Add(1)
			q.failed.Add(1)
			q.logger.Error("job panic recovered",
				slog.Int("worker_id", workerID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			if q.errorHandler != nil {
				q.errorHandler(errors.New("job panicked"))
			}
		}
	}()

	if err := job(ctx); err != nil {
		q.failed.Add(1)
		q.logger.Warn("job failed",
			slog.Int("worker_id", workerID),
			slog.String("error", err.Error()))
		if q.errorHandler != nil {
			q.errorHandler(err)
		}
		return
	}
	q.succeeded.Add(1)
}

// Enqueue 非阻塞入队，队列满或已关闭时返回 false。
func (q *Queue) Enqueue(job Job) bool {
	if job == nil {
		return false
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	select {
	case q.jobs <- job:
		q.enqueued.Add(1)
		return true
	default:
		q.logger.Warn("queue full, drop job", slog.Int("capacity", cap(q.jobs)))
		return false
	}
}

// EnqueueBlocking 阻塞式入队，直到成功或 ctx 被取消。
func (q *Queue) EnqueueBlocking(ctx context.Context, job Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.jobs <- job:
		q.enqueued.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown 拒绝新任务并等待已入队任务全部执行完毕。可重复调用。
func (q *Queue) Shutdown() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	q.wg.Wait()
	q.logger.Info("queue shutdown completed")
}

// Stats 获取队列统计信息的快照。
func (q *Queue) Stats() Stats {
	return Stats{
		Enqueued:  q.enqueued.Load(),
		Succeeded: q.succeeded.Load(),
		Failed:    q.failed.Load(),
		Panics:    q.panics.Load(),
		Pending:   len(q.jobs),
	}
}
