package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// TaskOperationsTotal 任务生命周期操作计数（按操作与结果）。
	TaskOperationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskmanager_task_operations_total",
		Help: "Task lifecycle operations by operation and result.",
	}, []string{"operation", "result"})

	// NoticesCreatedTotal 已创建的通知数量。
	NoticesCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "taskmanager_notices_created_total",
		Help: "Notices persisted alongside task assignment.",
	})

	// DashboardBuildDuration 仪表盘汇总耗时。
	DashboardBuildDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "taskmanager_dashboard_build_seconds",
		Help:    "Time spent building dashboard summaries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"scope"})

	// HTTPRequestsTotal HTTP 请求计数。
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskmanager_http_requests_total",
		Help: "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	// HTTPRequestDuration HTTP 请求耗时。
	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "taskmanager_http_request_seconds",
		Help:    "HTTP request latency by method and route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	// RateLimitRejectedTotal 被限流拒绝的请求数。
	RateLimitRejectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "taskmanager_ratelimit_rejected_total",
		Help: "Requests rejected by the per-user rate limiter.",
	})

	// IdempotentReplayTotal 因 Idempotency-Key 重复而被拒绝的创建请求数。
	IdempotentReplayTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "taskmanager_idempotent_replay_total",
		Help: "Task creations rejected because the idempotency key was already used.",
	})

	// NoticeDeliveryTotal 通知邮件投递结果计数。
	NoticeDeliveryTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskmanager_notice_delivery_total",
		Help: "Notice e-mail deliveries by result.",
	}, []string{"result"})

	// NoticeDLQTotal 进入死信队列的通知消息数。
	NoticeDLQTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "taskmanager_notice_dlq_total",
		Help: "Notice stream messages moved to the dead letter stream.",
	})

	// NoticeAutoClaimTotal 通过 XAUTOCLAIM 重新认领的消息数。
	NoticeAutoClaimTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "taskmanager_notice_autoclaim_total",
		Help: "Pending notice messages reclaimed from idle consumers.",
	})

	// NotifierWorkers 通知投递 worker 数量。
	NotifierWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "taskmanager_notifier_workers",
		Help: "Configured notice delivery worker pool size.",
	})
)

var registerOnce sync.Once

// InitMetrics 注册全部指标，可重复调用。
func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			TaskOperationsTotal,
			NoticesCreatedTotal,
			DashboardBuildDuration,
			HTTPRequestsTotal,
			HTTPRequestDuration,
			RateLimitRejectedTotal,
			IdempotentReplayTotal,
			NoticeDeliveryTotal,
			NoticeDLQTotal,
			NoticeAutoClaimTotal,
			NotifierWorkers,
		)
	})
}

// ObserveOperation 记录一次生命周期操作的结果。
func ObserveOperation(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	TaskOperationsTotal.WithLabelValues(operation, result).Inc()
}
