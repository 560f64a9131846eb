package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"taskmanager/internal/api/middleware"
	"taskmanager/internal/dashboard"
	"taskmanager/internal/lifecycle"
	"taskmanager/internal/model"
	"taskmanager/internal/pkg/apperr"
	"taskmanager/internal/pkg/metrics"
	"taskmanager/internal/store"
)

// IdempotencyHeader 是创建任务时用于去重的请求头。
const IdempotencyHeader = "Idempotency-Key"

type createTaskRequest struct {
	Title    string `json:"title"`
	Team     []uint `json:"team"`
	Stage    string `json:"stage"`
	Date     string `json:"date"`
	Priority string `json:"priority"`
}

type updateTaskRequest struct {
	Title    string   `json:"title"`
	Team     []uint   `json:"team"`
	Stage    string   `json:"stage"`
	Date     string   `json:"date"`
	Priority string   `json:"priority"`
	Assets   []string `json:"assets"`
}

type activityRequest struct {
	Type     string `json:"type"`
	Activity string `json:"activity"`
}

type subTaskRequest struct {
	Title string `json:"title"`
	Tag   string `json:"tag"`
	Date  string `json:"date"`
}

// handleCreateTask 创建任务。
//
// 携带 Idempotency-Key 时，同一用户在去重窗口内重复提交同一个 key 会返回 409；
// 创建失败时释放该 key，允许客户端重试。
func (s *Server) handleCreateTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, apperr.Validation("Missing required fields"))
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		s.respondError(c, err)
		return
	}
	caller := middleware.CallerFrom(c)
	ctx := c.Request.Context()

	key := strings.TrimSpace(c.GetHeader(IdempotencyHeader))
	scope := "user:" + strconv.FormatUint(uint64(caller.UserID), 10)
	if key != "" && s.deduper != nil {
		dup, err := s.deduper.IsDuplicate(ctx, scope, key)
		if err != nil {
			s.logger.Error("idempotency check failed", slog.String("error", err.Error()), slog.String("key", key))
		} else if dup {
			s.logger.Info("task creation replayed", slog.String("key", key), slog.Uint64("user_id", uint64(caller.UserID)))
			metrics.IdempotentReplayTotal.Inc()
			c.JSON(http.StatusConflict, gin.H{"status": false, "message": "Duplicate request. This task has already been submitted."})
			return
		}
	}

	task, err := s.tasks.Create(ctx, caller, lifecycle.CreateInput{
		Title:    req.Title,
		Team:     req.Team,
		Stage:    req.Stage,
		Priority: req.Priority,
		Date:     date,
	})
	if err != nil {
		if key != "" && s.deduper != nil {
			if delErr := s.deduper.Delete(ctx, scope, key); delErr != nil {
				s.logger.Warn("release idempotency key failed", slog.String("error", delErr.Error()))
			}
		}
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": true, "task": newTaskView(task), "message": "Task created successfully."})
}

func (s *Server) handleDuplicateTask(c *gin.Context) {
	id, ok := s.taskID(c)
	if !ok {
		return
	}
	task, err := s.tasks.Duplicate(c.Request.Context(), middleware.CallerFrom(c), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": true, "task": newTaskView(task), "message": "Task duplicated successfully."})
}

func (s *Server) handleAllTasks(c *gin.Context) {
	tasks, err := s.tasks.List(c.Request.Context(), store.TaskFilter{})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": true, "tasks": newTaskViews(tasks), "message": "All tasks fetched successfully."})
}

// handleListTasks 按阶段与回收站状态筛选任务，未指定 isTrashed 时只返回未删除的任务。
func (s *Server) handleListTasks(c *gin.Context) {
	trashed := false
	if raw := c.Query("isTrashed"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			s.respondError(c, apperr.Validation("Invalid isTrashed value."))
			return
		}
		trashed = v
	}
	filter := store.TaskFilter{Trashed: &trashed}
	if raw := c.Query("stage"); raw != "" {
		stage, ok := model.ParseStage(raw)
		if !ok {
			s.respondError(c, apperr.Validation("Invalid stage %q.", raw))
			return
		}
		filter.Stage = stage
	}

	tasks, err := s.tasks.List(c.Request.Context(), filter)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": true, "tasks": newTaskViews(tasks)})
}

func (s *Server) handleDashboard(c *gin.Context) {
	summary, err := s.dashboard.Summarize(c.Request.Context(), dashboard.PolicyFor(middleware.CallerFrom(c)))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":     true,
		"message":    "Successfully",
		"totalTasks": summary.TotalTasks,
		"last10Task": newTaskViews(summary.RecentTasks),
		"users":      newUserViews(summary.RecentUsers),
		"tasks":      summary.GroupedByStage,
		"graphData":  summary.GroupedByPriority,
	})
}

func (s *Server) handleGetTask(c *gin.Context) {
	id, ok := s.taskID(c)
	if !ok {
		return
	}
	task, err := s.tasks.Get(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": true, "task": newTaskView(task)})
}

func (s *Server) handlePostActivity(c *gin.Context) {
	id, ok := s.taskID(c)
	if !ok {
		return
	}
	var req activityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, apperr.Validation("Missing required fields"))
		return
	}
	activity, err := s.tasks.PostActivity(c.Request.Context(), middleware.CallerFrom(c), id, req.Type, req.Activity)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": true, "activity": activity, "message": "Activity posted successfully."})
}

func (s *Server) handleAddSubTask(c *gin.Context) {
	id, ok := s.taskID(c)
	if !ok {
		return
	}
	var req subTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, apperr.Validation("Missing required fields"))
		return
	}
	in := lifecycle.SubTaskInput{Title: req.Title, Tag: req.Tag}
	if strings.TrimSpace(req.Date) != "" {
		date, err := parseDate(req.Date)
		if err != nil {
			s.respondError(c, err)
			return
		}
		in.Date = &date
	}
	sub, err := s.tasks.AddSubTask(c.Request.Context(), id, in)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": true, "subTask": sub, "message": "SubTask added successfully."})
}

func (s *Server) handleUpdateTask(c *gin.Context) {
	id, ok := s.taskID(c)
	if !ok {
		return
	}
	var req updateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, apperr.Validation("Missing required fields"))
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		s.respondError(c, err)
		return
	}
	task, err := s.tasks.Update(c.Request.Context(), id, lifecycle.UpdateInput{
		Title:    req.Title,
		Team:     req.Team,
		Stage:    req.Stage,
		Priority: req.Priority,
		Date:     date,
		Assets:   req.Assets,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": true, "task": newTaskView(task), "message": "Task updated successfully."})
}

func (s *Server) handleTrashTask(c *gin.Context) {
	id, ok := s.taskID(c)
	if !ok {
		return
	}
	if err := s.tasks.Trash(c.Request.Context(), id); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": true, "message": "Task trashed successfully."})
}

// handleDeleteRestore 执行回收站动作。
//
// 单任务动作（delete / restore）从路径取 ID；批量动作（deleteAll / restoreAll）忽略 ID。
func (s *Server) handleDeleteRestore(c *gin.Context) {
	action, err := lifecycle.ParseAction(c.Query("actionType"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	var id uint
	if raw := c.Param("id"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			s.respondError(c, apperr.Validation("Invalid task id."))
			return
		}
		id = uint(v)
	}

	affected, err := s.tasks.DeleteOrRestore(c.Request.Context(), id, action)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": true, "affected": affected, "message": "Operation performed successfully."})
}

// taskID 解析路径中的任务 ID，非法时直接写入 400 响应。
func (s *Server) taskID(c *gin.Context) (uint, bool) {
	v, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || v == 0 {
		s.respondError(c, apperr.Validation("Invalid task id."))
		return 0, false
	}
	return uint(v), true
}

// respondError 将错误映射为状态码与消息。业务错误按原文返回，其余错误只记录日志。
func (s *Server) respondError(c *gin.Context, err error) {
	status, message := apperr.Status(err)
	if !apperr.IsExpected(err) {
		s.logger.Error("request failed",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.String("error", err.Error()))
	}
	c.JSON(status, gin.H{"status": false, "message": message})
}

var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

// parseDate 解析截止日期，支持 RFC 3339 与 yyyy-mm-dd。空字符串返回零值。
func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, apperr.Validation("Invalid date %q.", raw)
}
