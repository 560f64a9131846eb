// Package dashboard 汇总任务工作集，生成仪表盘统计。
package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"taskmanager/internal/model"
	"taskmanager/internal/pkg/metrics"
	"taskmanager/internal/store"
)

// DefaultRecentLimit 是最近任务与最近用户的默认条数。
const DefaultRecentLimit = 10

// TaskLister 返回按最新在前排序、成员已填充的任务列表。
type TaskLister interface {
	ListTasks(ctx context.Context, filter store.TaskFilter) ([]model.Task, error)
}

// UserLister 返回最近创建的活跃用户。
type UserLister interface {
	RecentActiveUsers(ctx context.Context, limit int) ([]model.User, error)
}

// Summary 是一次仪表盘汇总的结果。
type Summary struct {
	TotalTasks        int
	RecentTasks       []model.Task
	RecentUsers       []model.User
	GroupedByStage    *Counts
	GroupedByPriority []NameTotal
}

// Aggregator 生成仪表盘汇总。
type Aggregator struct {
	tasks  TaskLister
	users  UserLister
	logger *slog.Logger
	limit  int
}

// NewAggregator 创建汇总器，limit<=0 时使用 DefaultRecentLimit。
func NewAggregator(tasks TaskLister, users UserLister, logger *slog.Logger, limit int) *Aggregator {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	return &Aggregator{tasks: tasks, users: users, logger: logger, limit: limit}
}

// Summarize 为调用方生成仪表盘汇总。
//
// 工作集只查询一次，阶段与优先级分组在同一次遍历中完成；
// 非管理员的 RecentUsers 恒为空列表。
//
// 参数:
//
//	ctx: 上下文
//	policy: 本次请求的可见性策略
//
// 返回值:
//
//	*Summary: 汇总结果
//	error: 查询失败返回错误
func (a *Aggregator) Summarize(ctx context.Context, policy Policy) (*Summary, error) {
	start := time.Now()
	defer func() {
		metrics.DashboardBuildDuration.WithLabelValues(string(policy.Scope)).Observe(time.Since(start).Seconds())
	}()

	tasks, err := a.tasks.ListTasks(ctx, policy.TaskFilter())
	if err != nil {
		return nil, fmt.Errorf("load working set: %w", err)
	}

	summary := fold(tasks, a.limit)

	summary.RecentUsers = []model.User{}
	if policy.IncludeUsers {
		users, err := a.users.RecentActiveUsers(ctx, a.limit)
		if err != nil {
			return nil, fmt.Errorf("load recent users: %w", err)
		}
		summary.RecentUsers = users
	}

	a.logger.Debug("dashboard summarized",
		slog.String("scope", string(policy.Scope)),
		slog.Int("total", summary.TotalTasks))
	return summary, nil
}

// fold 对已排序的工作集做一次遍历，同时累计阶段与优先级分组。
func fold(tasks []model.Task, limit int) *Summary {
	byStage := NewCounts()
	byPriority := NewCounts()
	for i := range tasks {
		byStage.Add(string(tasks[i].Stage))
		byPriority.Add(string(tasks[i].Priority))
	}

	recent := tasks
	if len(recent) > limit {
		recent = recent[:limit]
	}
	if recent == nil {
		recent = []model.Task{}
	}

	return &Summary{
		TotalTasks:        len(tasks),
		RecentTasks:       recent,
		GroupedByStage:    byStage,
		GroupedByPriority: byPriority.Pairs(),
	}
}
