package logger

import (
	"log/slog"
	"os"
	"strings"
)

// NewForEnv 按运行环境创建日志记录器：prod 输出 JSON，其余输出文本。
func NewForEnv(env, level string) *slog.Logger {
	if strings.EqualFold(strings.TrimSpace(env), "prod") {
		return New("json", level)
	}
	return New("text", level)
}

// New 创建日志记录器。
//
// 参数:
//
//	format: "json" 使用 JSON 输出，其余使用文本输出
//	level: debug / info / warn / error，无法识别时为 info
func New(format string, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var h slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(h)
}

// ParseLevel 解析日志级别字符串。
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
