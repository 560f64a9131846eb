// Package lifecycle 实现任务的创建、复制、活动记录、更新与回收站流转。
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"taskmanager/internal/model"
	"taskmanager/internal/pkg/apperr"
	"taskmanager/internal/pkg/metrics"
	"taskmanager/internal/store"
)

// DefaultTimeout 是单次操作的默认超时时间。
const DefaultTimeout = 5 * time.Second

// TaskStore 定义生命周期服务依赖的任务存储。
type TaskStore interface {
	CreateTaskWithNotice(ctx context.Context, task *model.Task, notice *model.Notice) error
	GetTask(ctx context.Context, id uint) (*model.Task, error)
	ListTasks(ctx context.Context, filter store.TaskFilter) ([]model.Task, error)
	AppendActivity(ctx context.Context, taskID uint, activity *model.Activity) error
	AppendSubTask(ctx context.Context, taskID uint, sub *model.SubTask) error
	ReplaceTask(ctx context.Context, task *model.Task) error
	SetTrashed(ctx context.Context, id uint, trashed bool) error
	RestoreTrashed(ctx context.Context) (int64, error)
	DeleteTask(ctx context.Context, id uint) (bool, error)
	DeleteTrashed(ctx context.Context) (int64, error)
}

// UserDirectory 用于校验任务成员。
type UserDirectory interface {
	FindUsersByIDs(ctx context.Context, ids []uint) ([]model.User, error)
}

// NoticePublisher 在通知落库后负责对外投递（例如发送邮件）。
type NoticePublisher interface {
	PublishNotice(ctx context.Context, task *model.Task, notice *model.Notice) error
}

// Action 是 DeleteOrRestore 支持的动作。
type Action string

const (
	ActionDelete     Action = "delete"
	ActionDeleteAll  Action = "deleteAll"
	ActionRestore    Action = "restore"
	ActionRestoreAll Action = "restoreAll"
)

// ParseAction 校验动作类型（区分大小写）。
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.TrimSpace(s)); a {
	case ActionDelete, ActionDeleteAll, ActionRestore, ActionRestoreAll:
		return a, nil
	}
	return "", apperr.Validation("Invalid action type %q.", s)
}

// CreateInput 是创建任务的参数。
type CreateInput struct {
	Title    string
	Team     []uint
	Stage    string
	Priority string
	Date     time.Time
}

// UpdateInput 是整体更新任务的参数，所有字段都会覆盖原值。
type UpdateInput struct {
	Title    string
	Team     []uint
	Stage    string
	Priority string
	Date     time.Time
	Assets   []string
}

// SubTaskInput 是追加子任务的参数。
type SubTaskInput struct {
	Title string
	Tag   string
	Date  *time.Time
}

// Service 编排任务生命周期操作。
type Service struct {
	tasks     TaskStore
	users     UserDirectory
	publisher NoticePublisher
	logger    *slog.Logger
	timeout   time.Duration
	now       func() time.Time
}

// NewService 创建生命周期服务。
//
// 参数:
//
//	tasks: 任务存储
//	users: 用户目录
//	publisher: 通知投递（可为 nil，表示只落库不投递）
//	logger: 日志记录器
//	timeout: 单次操作超时，<=0 时使用 DefaultTimeout
func NewService(tasks TaskStore, users UserDirectory, publisher NoticePublisher, logger *slog.Logger, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Service{
		tasks:     tasks,
		users:     users,
		publisher: publisher,
		logger:    logger,
		timeout:   timeout,
		now:       time.Now,
	}
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// Create 创建任务并生成分配通知。
//
// 成员必须全部能在用户目录中解析，否则整个请求被拒绝且不写入任何数据。
// 任务（含一条 assigned 活动）与通知在同一事务中写入。
//
// 参数:
//
//	ctx: 上下文
//	caller: 当前调用方，记为初始活动的操作人
//	in: 创建参数
//
// 返回值:
//
//	*model.Task: 已创建的任务（Team 按请求顺序排列）
//	error: 参数非法返回 ValidationError，其它为内部错误
func (s *Service) Create(ctx context.Context, caller model.Caller, in CreateInput) (task *model.Task, err error) {
	defer func() { metrics.ObserveOperation("create", err) }()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	title := strings.TrimSpace(in.Title)
	if title == "" || len(in.Team) == 0 || in.Stage == "" || in.Priority == "" || in.Date.IsZero() {
		return nil, apperr.Validation("Missing required fields")
	}
	stage, priority, err := parseEnums(in.Stage, in.Priority)
	if err != nil {
		return nil, err
	}
	team, err := s.resolveTeam(ctx, in.Team)
	if err != nil {
		return nil, err
	}

	text := AssignmentMessage(team, priority, in.Date)
	task = &model.Task{
		Title:    title,
		Team:     team,
		Stage:    stage,
		Priority: priority,
		Date:     in.Date,
		Assets:   []string{},
		Activities: []model.Activity{{
			Type:      model.ActivityAssigned,
			Activity:  text,
			ByID:      caller.UserID,
			Timestamp: s.now(),
		}},
	}
	notice := &model.Notice{Team: team, Text: text}
	if err := s.tasks.CreateTaskWithNotice(ctx, task, notice); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	s.afterNotice(ctx, task, notice)
	s.logger.Info("task created",
		slog.Uint64("task_id", uint64(task.ID)),
		slog.Uint64("actor", uint64(caller.UserID)),
		slog.Int("team", len(team)))
	return task, nil
}

// Duplicate 复制任务。
//
// 新任务标题追加 " - Duplicate"，复制成员、子任务、附件、阶段、优先级与截止日期，
// 活动记录只保留一条新的 assigned。返回新任务。
func (s *Service) Duplicate(ctx context.Context, caller model.Caller, id uint) (task *model.Task, err error) {
	defer func() { metrics.ObserveOperation("duplicate", err) }()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	src, err := s.tasks.GetTask(ctx, id)
	if err != nil {
		return nil, taskErr(err, id)
	}

	subTasks := make([]model.SubTask, 0, len(src.SubTasks))
	for _, st := range src.SubTasks {
		subTasks = append(subTasks, model.SubTask{Title: st.Title, Date: st.Date, Tag: st.Tag})
	}
	assets := append([]string{}, src.Assets...)

	text := AssignmentMessage(src.Team, src.Priority, src.Date)
	task = &model.Task{
		Title:    src.Title + " - Duplicate",
		Team:     src.Team,
		Stage:    src.Stage,
		Priority: src.Priority,
		Date:     src.Date,
		Assets:   assets,
		SubTasks: subTasks,
		Activities: []model.Activity{{
			Type:      model.ActivityAssigned,
			Activity:  text,
			ByID:      caller.UserID,
			Timestamp: s.now(),
		}},
	}
	notice := &model.Notice{Team: src.Team, Text: text}
	if err := s.tasks.CreateTaskWithNotice(ctx, task, notice); err != nil {
		return nil, fmt.Errorf("duplicate task: %w", err)
	}

	s.afterNotice(ctx, task, notice)
	s.logger.Info("task duplicated",
		slog.Uint64("source_id", uint64(id)),
		slog.Uint64("task_id", uint64(task.ID)))
	return task, nil
}

// PostActivity 向任务追加一条活动记录。已有记录不会被改写。
func (s *Service) PostActivity(ctx context.Context, caller model.Caller, id uint, activityType, text string) (activity *model.Activity, err error) {
	defer func() { metrics.ObserveOperation("activity", err) }()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	activityType = strings.TrimSpace(activityType)
	if activityType == "" {
		return nil, apperr.Validation("Activity type is required.")
	}
	activity = &model.Activity{
		Type:      activityType,
		Activity:  text,
		ByID:      caller.UserID,
		Timestamp: s.now(),
	}
	if err := s.tasks.AppendActivity(ctx, id, activity); err != nil {
		return nil, taskErr(err, id)
	}
	return activity, nil
}

// AddSubTask 追加子任务，标题不要求唯一。
func (s *Service) AddSubTask(ctx context.Context, id uint, in SubTaskInput) (sub *model.SubTask, err error) {
	defer func() { metrics.ObserveOperation("subtask", err) }()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, apperr.Validation("Sub-task title is required.")
	}
	sub = &model.SubTask{Title: title, Tag: strings.TrimSpace(in.Tag), Date: in.Date}
	if err := s.tasks.AppendSubTask(ctx, id, sub); err != nil {
		return nil, taskErr(err, id)
	}
	return sub, nil
}

// Update 整体覆盖任务的标题、日期、成员、阶段、优先级与附件。
//
// 没有部分更新语义：未提供的附件会被清空。阶段与优先级先规范化为小写再保存。
func (s *Service) Update(ctx context.Context, id uint, in UpdateInput) (task *model.Task, err error) {
	defer func() { metrics.ObserveOperation("update", err) }()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	title := strings.TrimSpace(in.Title)
	if title == "" || len(in.Team) == 0 || in.Stage == "" || in.Priority == "" || in.Date.IsZero() {
		return nil, apperr.Validation("Missing required fields")
	}
	stage, priority, err := parseEnums(in.Stage, in.Priority)
	if err != nil {
		return nil, err
	}
	team, err := s.resolveTeam(ctx, in.Team)
	if err != nil {
		return nil, err
	}
	assets := in.Assets
	if assets == nil {
		assets = []string{}
	}

	replacement := &model.Task{
		ID:       id,
		Title:    title,
		Team:     team,
		Stage:    stage,
		Priority: priority,
		Date:     in.Date,
		Assets:   assets,
	}
	if err := s.tasks.ReplaceTask(ctx, replacement); err != nil {
		return nil, taskErr(err, id)
	}
	updated, err := s.tasks.GetTask(ctx, id)
	if err != nil {
		return nil, taskErr(err, id)
	}
	return updated, nil
}

// Trash 将任务移入回收站，不影响已有通知。
func (s *Service) Trash(ctx context.Context, id uint) (err error) {
	defer func() { metrics.ObserveOperation("trash", err) }()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.tasks.SetTrashed(ctx, id, true); err != nil {
		return taskErr(err, id)
	}
	s.logger.Info("task trashed", slog.Uint64("task_id", uint64(id)))
	return nil
}

// DeleteOrRestore 执行回收站动作。
//
// delete / restore 作用于单个任务，任务不存在时静默成功；delete 只删除已在回收站中的任务。
// deleteAll / restoreAll 作用于回收站中的全部任务。四种动作重复执行都没有额外效果。
//
// 返回值:
//
//	int64: 受影响的任务数量
//	error: 动作非法或缺少任务 ID 时返回 ValidationError
func (s *Service) DeleteOrRestore(ctx context.Context, id uint, action Action) (affected int64, err error) {
	defer func() { metrics.ObserveOperation(string(action), err) }()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	switch action {
	case ActionDelete:
		if id == 0 {
			return 0, apperr.Validation("Task id is required.")
		}
		deleted, err := s.tasks.DeleteTask(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return 0, nil
		}
		if err != nil {
			return 0, fmt.Errorf("delete task: %w", err)
		}
		if !deleted {
			return 0, apperr.Validation("Task must be trashed before it can be deleted.")
		}
		affected = 1
	case ActionRestore:
		if id == 0 {
			return 0, apperr.Validation("Task id is required.")
		}
		err := s.tasks.SetTrashed(ctx, id, false)
		if errors.Is(err, store.ErrNotFound) {
			return 0, nil
		}
		if err != nil {
			return 0, fmt.Errorf("restore task: %w", err)
		}
		affected = 1
	case ActionDeleteAll:
		affected, err = s.tasks.DeleteTrashed(ctx)
		if err != nil {
			return 0, fmt.Errorf("delete trashed: %w", err)
		}
	case ActionRestoreAll:
		affected, err = s.tasks.RestoreTrashed(ctx)
		if err != nil {
			return 0, fmt.Errorf("restore trashed: %w", err)
		}
	default:
		return 0, apperr.Validation("Invalid action type %q.", action)
	}

	s.logger.Info("trash action performed",
		slog.String("action", string(action)),
		slog.Uint64("task_id", uint64(id)),
		slog.Int64("affected", affected))
	return affected, nil
}

// Get 读取单个任务（成员与活动操作人已填充）。
func (s *Service) Get(ctx context.Context, id uint) (*model.Task, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	task, err := s.tasks.GetTask(ctx, id)
	if err != nil {
		return nil, taskErr(err, id)
	}
	return task, nil
}

// List 按条件列出任务，最新的在前。
func (s *Service) List(ctx context.Context, filter store.TaskFilter) ([]model.Task, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tasks, err := s.tasks.ListTasks(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// resolveTeam 按请求顺序解析成员，重复 ID 只保留一次。
func (s *Service) resolveTeam(ctx context.Context, ids []uint) ([]model.User, error) {
	seen := make(map[uint]struct{}, len(ids))
	unique := make([]uint, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	found, err := s.users.FindUsersByIDs(ctx, unique)
	if err != nil {
		return nil, fmt.Errorf("resolve team: %w", err)
	}
	if len(found) == 0 {
		return nil, apperr.Validation("No valid users found. Please select valid team members.")
	}
	if len(found) != len(unique) {
		return nil, apperr.Validation("Some selected users are invalid.")
	}

	byID := make(map[uint]model.User, len(found))
	for _, u := range found {
		byID[u.ID] = u
	}
	team := make([]model.User, 0, len(unique))
	for _, id := range unique {
		u, ok := byID[id]
		if !ok {
			return nil, apperr.Validation("Some selected users are invalid.")
		}
		team = append(team, u)
	}
	return team, nil
}

func (s *Service) afterNotice(ctx context.Context, task *model.Task, notice *model.Notice) {
	metrics.NoticesCreatedTotal.Inc()
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishNotice(ctx, task, notice); err != nil {
		s.logger.Warn("publish notice failed",
			slog.Uint64("notice_id", uint64(notice.ID)),
			slog.String("error", err.Error()))
	}
}

func parseEnums(stageIn, priorityIn string) (model.Stage, model.Priority, error) {
	stage, ok := model.ParseStage(stageIn)
	if !ok {
		return "", "", apperr.Validation("Invalid stage %q.", stageIn)
	}
	priority, ok := model.ParsePriority(priorityIn)
	if !ok {
		return "", "", apperr.Validation("Invalid priority %q.", priorityIn)
	}
	return stage, priority, nil
}

func taskErr(err error, id uint) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound("task", id)
	}
	return err
}
