package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"taskmanager/internal/api/auth"
	"taskmanager/internal/api/middleware"
	"taskmanager/internal/config"
	"taskmanager/internal/dashboard"
	"taskmanager/internal/lifecycle"
	"taskmanager/internal/model"
	"taskmanager/internal/pkg/dedup"
	"taskmanager/internal/pkg/metrics"
	"taskmanager/internal/pkg/noticequeue"
	"taskmanager/internal/pkg/ratelimit"
	"taskmanager/internal/store"
)

// Server 封装了 API 服务所需的依赖和路由处理。
//
// 它持有数据库连接、Redis 客户端、任务生命周期服务、仪表盘汇总器以及 Gin 路由引擎。
type Server struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *gorm.DB
	rdb       *redis.Client
	router    *gin.Engine
	store     *store.Store
	auth      *auth.Handler
	tasks     TaskService
	dashboard DashboardBuilder
	deduper   Deduper
	limiter   middleware.Limiter
}

// TaskService 是任务路由依赖的生命周期操作。
type TaskService interface {
	Create(ctx context.Context, caller model.Caller, in lifecycle.CreateInput) (*model.Task, error)
	Duplicate(ctx context.Context, caller model.Caller, id uint) (*model.Task, error)
	PostActivity(ctx context.Context, caller model.Caller, id uint, activityType, text string) (*model.Activity, error)
	AddSubTask(ctx context.Context, id uint, in lifecycle.SubTaskInput) (*model.SubTask, error)
	Update(ctx context.Context, id uint, in lifecycle.UpdateInput) (*model.Task, error)
	Trash(ctx context.Context, id uint) error
	DeleteOrRestore(ctx context.Context, id uint, action lifecycle.Action) (int64, error)
	Get(ctx context.Context, id uint) (*model.Task, error)
	List(ctx context.Context, filter store.TaskFilter) ([]model.Task, error)
}

// DashboardBuilder 生成仪表盘汇总。
type DashboardBuilder interface {
	Summarize(ctx context.Context, policy dashboard.Policy) (*dashboard.Summary, error)
}

// Deduper 记录已使用的 Idempotency-Key。
type Deduper interface {
	IsDuplicate(ctx context.Context, scope, key string) (bool, error)
	Delete(ctx context.Context, scope, key string) error
}

// NewServer 初始化 API 服务器。
//
// 它负责：
// 1. 连接数据库并执行自动迁移
// 2. 连接 Redis
// 3. 组装生命周期服务、仪表盘、幂等去重与限流
// 4. 初始化 Gin 路由引擎
//
// 参数:
//
//	ctx: 上下文
//	cfg: 配置对象
//	logger: 日志记录器
//
// 返回值:
//
//	*Server: 初始化完成的服务器实例
//	error: 初始化失败返回错误
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	st := store.New(db)

	// 通知投递默认关闭，此时通知只落库
	var publisher lifecycle.NoticePublisher
	if cfg.Notifier.Enabled {
		publisher = noticequeue.NewProducer(rdb, logger, cfg.Notifier.Stream)
	}

	// 初始化 Prometheus 指标
	metrics.InitMetrics()

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		rdb:       rdb,
		store:     st,
		auth:      auth.NewHandler(st, cfg.Security.JWTSecret, cfg.Security.TokenTTL, cfg.Security.InviteCode, cfg.App.Env == "prod", logger),
		tasks:     lifecycle.NewService(st, st, publisher, logger, cfg.App.OperationTimeout),
		dashboard: dashboard.NewAggregator(st, st, logger, cfg.App.RecentLimit),
		deduper:   dedup.NewDeduplicator(rdb, cfg.App.IdempotencyWindow),
		limiter:   ratelimit.NewLimiter(rdb, logger, cfg.App.RateLimit, cfg.App.RateBurst),
	}

	gin.SetMode(gin.ReleaseMode)
	s.router = s.newRouter()
	return s, nil
}

// newRouter 创建 Gin 引擎并注册全部路由。
func (s *Server) newRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(s.logger))
	s.registerRoutes(r)
	return r
}

// registerRoutes 注册 HTTP 路由。
//
// 创建、复制、子任务、更新与回收站相关操作只允许管理员；
// 查询与发表活动只要求登录。
func (s *Server) registerRoutes(r *gin.Engine) {
	r.GET("/healthz", s.handleHealthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authMw := middleware.AuthMiddleware(s.cfg.Security.JWTSecret, s.store)
	limitMw := middleware.RateLimit(s.limiter, s.logger)
	adminMw := middleware.AdminOnly()

	user := r.Group("/api/user")
	{
		user.POST("/register", s.auth.Register)
		user.POST("/login", s.auth.Login)
		user.POST("/logout", s.auth.Logout)

		authed := user.Group("", authMw, limitMw)
		authed.GET("/get-team", adminMw, s.auth.TeamList)
		authed.GET("/notifications", s.auth.Notifications)
		authed.PUT("/read-noti", s.auth.MarkNotificationRead)
		authed.PUT("/profile", s.auth.UpdateProfile)
		authed.PUT("/change-password", s.auth.ChangePassword)
		authed.PUT("/:id", adminMw, s.auth.SetActive)
	}

	task := r.Group("/api/task", authMw, limitMw)
	{
		task.POST("/create", adminMw, s.handleCreateTask)
		task.POST("/duplicate/:id", adminMw, s.handleDuplicateTask)
		task.GET("/alltasks", s.handleAllTasks)
		task.GET("/dashboard", s.handleDashboard)
		task.GET("", s.handleListTasks)
		task.GET("/:id", s.handleGetTask)
		task.POST("/:id/activity", s.handlePostActivity)
		task.POST("/:id/subtask", adminMw, s.handleAddSubTask)
		task.PUT("/:id", adminMw, s.handleUpdateTask)
		task.PUT("/:id/trash", adminMw, s.handleTrashTask)
		task.DELETE("/:id", adminMw, s.handleDeleteRestore)
		task.PUT("/delete-restore/:id", adminMw, s.handleDeleteRestore)
		task.DELETE("/delete-restore", adminMw, s.handleDeleteRestore)
	}
}

// Run 启动 HTTP 服务器并开始监听请求。
func (s *Server) Run() error {
	s.logger.Info("api server listening", slog.String("addr", s.cfg.App.HTTPAddr))
	return s.router.Run(s.cfg.App.HTTPAddr)
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// Store 返回数据存储，供启动阶段初始化数据使用。
func (s *Server) Store() *store.Store {
	return s.store
}

// Close 释放 Redis 与数据库连接。
func (s *Server) Close() error {
	var firstErr error
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			firstErr = err
		}
	}
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		} else if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// handleHealthz 检查数据库与 Redis 是否可用。
func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.db != nil {
		if err := s.db.WithContext(ctx).Exec("SELECT 1").Error; err != nil {
			s.logger.Warn("health check db failed", slog.String("error", err.Error()))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "component": "database"})
			return
		}
	}
	if s.rdb != nil {
		if err := s.rdb.Ping(ctx).Err(); err != nil {
			s.logger.Warn("health check redis failed", slog.String("error", err.Error()))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "component": "redis"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
