package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
)

// Config 保存应用程序配置。
type Config struct {
	App      AppConfig      `json:"app"`
	Database DatabaseConfig `json:"database"`
	Redis    RedisConfig    `json:"redis"`
	Email    EmailConfig    `json:"email"`
	Security SecurityConfig `json:"security"`
	Notifier NotifierConfig `json:"notifier"`
}

// AppConfig 应用程序基础配置。
type AppConfig struct {
	Env               string        `json:"env"`                // 运行环境: local / prod
	LogLevel          string        `json:"log_level"`          // 日志级别: debug / info / warn / error
	HTTPAddr          string        `json:"http_addr"`          // API 服务监听地址
	OperationTimeout  time.Duration `json:"operation_timeout"`  // 单次业务操作的超时时间（如 "5s"）
	IdempotencyWindow time.Duration `json:"idempotency_window"` // Idempotency-Key 有效期（如 "10m"）
	RateLimit         float64       `json:"rate_limit"`         // 每个用户的限流速率（token/s），0 表示关闭
	RateBurst         float64       `json:"rate_burst"`         // 限流桶容量
	RecentLimit       int           `json:"recent_limit"`       // 仪表盘最近任务/用户条数
}

// DatabaseConfig 数据库配置。
type DatabaseConfig struct {
	Driver string `json:"driver"` // mysql / sqlite
	DSN    string `json:"dsn"`    // 数据库连接字符串
}

// RedisConfig Redis 配置。
type RedisConfig struct {
	Addr     string `json:"addr"`     // Redis 地址 (host:port)
	Password string `json:"password"` // Redis 密码
}

// EmailConfig 邮件通知配置。
type EmailConfig struct {
	SMTPHost  string `json:"smtp_host"`
	SMTPPort  int    `json:"smtp_port"`
	SMTPUser  string `json:"smtp_user"`
	SMTPPass  string `json:"smtp_pass"`
	FromEmail string `json:"from_email"`
}

// SecurityConfig 安全相关配置。
type SecurityConfig struct {
	JWTSecret     string        `json:"jwt_secret"`     // JWT 签名密钥
	TokenTTL      time.Duration `json:"token_ttl"`      // 令牌有效期
	InviteCode    string        `json:"invite_code"`    // 注册邀请码（为空表示关闭注册）
	AdminName     string        `json:"admin_name"`     // 启动时确保存在的管理员姓名
	AdminEmail    string        `json:"admin_email"`    // 启动时确保存在的管理员邮箱（为空表示跳过）
	AdminPassword string        `json:"admin_password"` // 管理员初始密码
}

// NotifierConfig 通知投递（Redis Streams）配置。
type NotifierConfig struct {
	Enabled       bool    `json:"enabled"`        // 是否把通知发布到 Stream（开关）
	Stream        string  `json:"stream"`         // Redis Stream 名称
	Group         string  `json:"group"`          // Consumer Group 名称
	Workers       int     `json:"workers"`        // 投递 worker 数
	QueueCapacity int     `json:"queue_capacity"` // 内存队列容量
	MaxRetry      int     `json:"max_retry"`      // 最大重试次数，超过后进入死信队列
	SendRate      float64 `json:"send_rate"`      // SMTP 发送速率（封/秒），0 表示不限速
	SendBurst     float64 `json:"send_burst"`     // SMTP 发送突发容量
	MetricsAddr   string  `json:"metrics_addr"`   // 指标端口
}

// Load 从 JSON 文件加载配置。
//
// 它会尝试读取 configs/config.json 文件，如果不存在则使用默认值。
// 环境变量始终优先于文件中的值。
//
// 参数:
//
//	configPath: 配置文件路径（如果为空则使用默认路径 "configs/config.json"）
//
// 返回值:
//
//	*Config: 加载完成的配置对象
//	error: 加载失败返回错误
func Load(configPath ...string) (*Config, error) {
	path := "configs/config.json"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	// 如果配置文件不存在，使用默认配置
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := getDefaultConfig()
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// getDefaultConfig 返回默认配置。
func getDefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:               "local",
			LogLevel:          "info",
			HTTPAddr:          ":8800",
			OperationTimeout:  5 * time.Second,
			IdempotencyWindow: 10 * time.Minute,
			RateLimit:         20,
			RateBurst:         40,
			RecentLimit:       10,
		},
		Database: DatabaseConfig{
			Driver: "mysql",
			DSN:    "root:password@tcp(localhost:3306)/taskmanager?parseTime=true&loc=UTC",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
		},
		Email: EmailConfig{
			SMTPHost: "smtp.gmail.com",
			SMTPPort: 587,
		},
		Security: SecurityConfig{
			JWTSecret: "dev_secret_change_me",
			TokenTTL:  24 * time.Hour,
			AdminName: "Administrator",
		},
		Notifier: NotifierConfig{
			Enabled:       false,
			Stream:        "taskmanager:notice:stream",
			Group:         "notifier_group",
			Workers:       4,
			QueueCapacity: 100,
			MaxRetry:      3,
			SendRate:      5,
			SendBurst:     10,
			MetricsAddr:   ":2112",
		},
	}
}

// applyDefaults 对未设置的字段应用默认值。
func applyDefaults(cfg *Config) {
	defaults := getDefaultConfig()

	if cfg.App.Env == "" {
		cfg.App.Env = defaults.App.Env
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = defaults.App.LogLevel
	}
	if cfg.App.HTTPAddr == "" {
		cfg.App.HTTPAddr = defaults.App.HTTPAddr
	}
	if cfg.App.OperationTimeout == 0 {
		cfg.App.OperationTimeout = defaults.App.OperationTimeout
	}
	if cfg.App.IdempotencyWindow == 0 {
		cfg.App.IdempotencyWindow = defaults.App.IdempotencyWindow
	}
	if cfg.App.RateBurst == 0 {
		cfg.App.RateBurst = defaults.App.RateBurst
	}
	if cfg.App.RecentLimit == 0 {
		cfg.App.RecentLimit = defaults.App.RecentLimit
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = defaults.Database.Driver
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == defaults.Database.Driver {
		cfg.Database.DSN = defaults.Database.DSN
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = defaults.Redis.Addr
	}
	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = defaults.Email.SMTPPort
	}
	if cfg.Security.JWTSecret == "" {
		cfg.Security.JWTSecret = defaults.Security.JWTSecret
	}
	if cfg.Security.TokenTTL == 0 {
		cfg.Security.TokenTTL = defaults.Security.TokenTTL
	}
	if cfg.Security.AdminName == "" {
		cfg.Security.AdminName = defaults.Security.AdminName
	}
	if cfg.Notifier.Stream == "" {
		cfg.Notifier.Stream = defaults.Notifier.Stream
	}
	if cfg.Notifier.Group == "" {
		cfg.Notifier.Group = defaults.Notifier.Group
	}
	if cfg.Notifier.Workers == 0 {
		cfg.Notifier.Workers = defaults.Notifier.Workers
	}
	if cfg.Notifier.QueueCapacity == 0 {
		cfg.Notifier.QueueCapacity = defaults.Notifier.QueueCapacity
	}
	if cfg.Notifier.MaxRetry == 0 {
		cfg.Notifier.MaxRetry = defaults.Notifier.MaxRetry
	}
	if cfg.Notifier.SendBurst == 0 {
		cfg.Notifier.SendBurst = defaults.Notifier.SendBurst
	}
	if cfg.Notifier.MetricsAddr == "" {
		cfg.Notifier.MetricsAddr = defaults.Notifier.MetricsAddr
	}
}

func applyEnvOverrides(cfg *Config) {
	viper.AutomaticEnv()

	_ = viper.BindEnv("db_host", "DB_HOST")
	_ = viper.BindEnv("db_password", "DB_PASSWORD")
	_ = viper.BindEnv("redis_addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis_password", "REDIS_PASSWORD")
	_ = viper.BindEnv("smtp_pass", "SMTP_PASS")
	_ = viper.BindEnv("jwt_secret", "JWT_SECRET")
	_ = viper.BindEnv("invite_code", "INVITE_CODE")
	_ = viper.BindEnv("admin_password", "ADMIN_PASSWORD")

	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := os.Getenv("APP_LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
	}
	if v := os.Getenv("APP_HTTP_ADDR"); v != "" {
		cfg.App.HTTPAddr = v
	}
	if v := os.Getenv("APP_OPERATION_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.OperationTimeout = d
		}
	}
	if v := os.Getenv("APP_IDEMPOTENCY_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.IdempotencyWindow = d
		}
	}
	if v := os.Getenv("APP_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.App.RateLimit = f
		}
	}
	if v := os.Getenv("APP_RATE_BURST"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.App.RateBurst = f
		}
	}
	if v := os.Getenv("APP_RECENT_LIMIT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.RecentLimit = i
		}
	}

	if v := viper.GetString("jwt_secret"); v != "" {
		cfg.Security.JWTSecret = v
	}
	if v := os.Getenv("APP_TOKEN_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Security.TokenTTL = d
		}
	}
	if v := viper.GetString("invite_code"); v != "" {
		cfg.Security.InviteCode = v
	}
	if v := os.Getenv("ADMIN_NAME"); v != "" {
		cfg.Security.AdminName = v
	}
	if v := os.Getenv("ADMIN_EMAIL"); v != "" {
		cfg.Security.AdminEmail = v
	}
	if v := viper.GetString("admin_password"); v != "" {
		cfg.Security.AdminPassword = v
	}

	if v := os.Getenv("DB_DRIVER"); v != "" {
		cfg.Database.Driver = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.Database.DSN = v
	} else if cfg.Database.Driver == "mysql" && (hasAnyEnv("DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME") || viper.GetString("db_host") != "" || viper.GetString("db_password") != "") {
		parsed := parseMySQLDSN(cfg.Database.DSN)
		if v := viper.GetString("db_host"); v != "" {
			port := getenvDefault("DB_PORT", parsed.Addr, "3306")
			parsed.Addr = v + ":" + port
		} else if v := os.Getenv("DB_PORT"); v != "" {
			host := parsed.Addr
			if strings.Contains(host, ":") {
				host = strings.Split(host, ":")[0]
			}
			parsed.Addr = host + ":" + v
		}
		if v := os.Getenv("DB_USER"); v != "" {
			parsed.User = v
		}
		if v := viper.GetString("db_password"); v != "" {
			parsed.Passwd = v
		}
		if v := os.Getenv("DB_NAME"); v != "" {
			parsed.DBName = v
		}
		cfg.Database.DSN = parsed.FormatDSN()
	}

	if v := viper.GetString("redis_addr"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := viper.GetString("redis_password"); v != "" {
		cfg.Redis.Password = v
	}

	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.Email.SMTPHost = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Email.SMTPPort = i
		}
	}
	if v := os.Getenv("SMTP_USER"); v != "" {
		cfg.Email.SMTPUser = v
	}
	if v := viper.GetString("smtp_pass"); v != "" {
		cfg.Email.SMTPPass = v
	}
	if v := os.Getenv("SMTP_FROM"); v != "" {
		cfg.Email.FromEmail = v
	}

	if v := os.Getenv("NOTIFIER_ENABLED"); v != "" {
		cfg.Notifier.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("NOTIFIER_STREAM"); v != "" {
		cfg.Notifier.Stream = v
	}
	if v := os.Getenv("NOTIFIER_GROUP"); v != "" {
		cfg.Notifier.Group = v
	}
	if v := os.Getenv("NOTIFIER_WORKERS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Notifier.Workers = i
		}
	}
	if v := os.Getenv("NOTIFIER_MAX_RETRY"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Notifier.MaxRetry = i
		}
	}
	if v := os.Getenv("NOTIFIER_SEND_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Notifier.SendRate = f
		}
	}
	if v := os.Getenv("NOTIFIER_METRICS_ADDR"); v != "" {
		cfg.Notifier.MetricsAddr = v
	}
}

func hasAnyEnv(keys ...string) bool {
	for _, key := range keys {
		if os.Getenv(key) != "" {
			return true
		}
	}
	return false
}

func getenvDefault(envKey, fallbackAddr, defaultValue string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if fallbackAddr == "" {
		return defaultValue
	}
	if strings.Contains(fallbackAddr, ":") {
		parts := strings.Split(fallbackAddr, ":")
		if len(parts) == 2 && parts[1] != "" {
			return parts[1]
		}
	}
	return defaultValue
}

func parseMySQLDSN(dsn string) *mysql.Config {
	fallback := func() *mysql.Config {
		return &mysql.Config{
			User:   "root",
			Net:    "tcp",
			Addr:   "localhost:3306",
			DBName: "taskmanager",
			Params: map[string]string{
				"parseTime": "true",
				"loc":       "UTC",
			},
		}
	}
	if dsn == "" {
		return fallback()
	}
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return fallback()
	}
	return parsed
}

// UnmarshalJSON 自定义 JSON 解析，支持时间 Duration 字符串。
func (a *AppConfig) UnmarshalJSON(data []byte) error {
	type Alias AppConfig
	aux := &struct {
		OperationTimeout  string `json:"operation_timeout"`
		IdempotencyWindow string `json:"idempotency_window"`
		*Alias
	}{
		Alias: (*Alias)(a),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.OperationTimeout != "" {
		d, err := time.ParseDuration(aux.OperationTimeout)
		if err != nil {
			return fmt.Errorf("invalid operation_timeout format: %w", err)
		}
		a.OperationTimeout = d
	}
	if aux.IdempotencyWindow != "" {
		d, err := time.ParseDuration(aux.IdempotencyWindow)
		if err != nil {
			return fmt.Errorf("invalid idempotency_window format: %w", err)
		}
		a.IdempotencyWindow = d
	}
	return nil
}

// MarshalJSON 自定义 JSON 序列化，将 Duration 转为字符串。
func (a AppConfig) MarshalJSON() ([]byte, error) {
	type Alias AppConfig
	return json.Marshal(&struct {
		OperationTimeout  string `json:"operation_timeout"`
		IdempotencyWindow string `json:"idempotency_window"`
		*Alias
	}{
		OperationTimeout:  a.OperationTimeout.String(),
		IdempotencyWindow: a.IdempotencyWindow.String(),
		Alias:             (*Alias)(&a),
	})
}

// UnmarshalJSON 支持 token_ttl 使用 Duration 字符串。
func (s *SecurityConfig) UnmarshalJSON(data []byte) error {
	type Alias SecurityConfig
	aux := &struct {
		TokenTTL string `json:"token_ttl"`
		*Alias
	}{
		Alias: (*Alias)(s),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.TokenTTL != "" {
		d, err := time.ParseDuration(aux.TokenTTL)
		if err != nil {
			return fmt.Errorf("invalid token_ttl format: %w", err)
		}
		s.TokenTTL = d
	}
	return nil
}
