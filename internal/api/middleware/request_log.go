package middleware

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"taskmanager/internal/pkg/metrics"
)

// RequestIDHeader 是请求 ID 的请求/响应头。
const RequestIDHeader = "X-Request-ID"

// RequestLogger 记录请求元信息并上报 HTTP 指标。
//
// 请求未携带 X-Request-ID 时生成一个新的 UUID，并在响应头中回传。
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("requestID", requestID)
		c.Header(RequestIDHeader, requestID)

		c.Next()

		status := c.Writer.Status()
		latency := time.Since(start)
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method

		metrics.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(method, route).Observe(latency.Seconds())

		if logger != nil {
			logger.Info("http request",
				slog.String("request_id", requestID),
				slog.String("method", method),
				slog.String("path", c.Request.URL.Path),
				slog.Int("status", status),
				slog.String("client_ip", c.ClientIP()),
				slog.String("latency", latency.String()),
			)
		}
	}
}
