package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// 事件流传输方式
const (
	TransportWebSocket = "websocket"
	TransportMQTT      = "mqtt"
	TransportRedis     = "redis"
)

// 会话角色：主管接收全部员工事件，员工只订阅自己的 id
const (
	RoleSupervisor = "supervisor"
	RoleEmployee   = "employee"
)

// 本地 KV 存储后端
const (
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
)

// Config 主管看板（wisefido-supervisor）配置
type Config struct {
	Redis RedisConfig `yaml:"redis"`
	MQTT  MQTTConfig  `yaml:"mqtt"`

	// Data Service（REST）配置
	DataService struct {
		BaseURL    string `yaml:"base_url"`
		Timeout    int    `yaml:"timeout"`     // 请求超时（秒），默认 10 秒
		RetryCount int    `yaml:"retry_count"` // 失败重试次数，默认 3
	} `yaml:"data_service"`

	// 事件流配置
	Stream struct {
		Transport string `yaml:"transport"` // "websocket"、"mqtt" 或 "redis"
		URL       string `yaml:"url"`       // WebSocket 地址，如 "ws://localhost:8080/ws"

		// MQTT 主题前缀，实际主题为 {prefix}/vitals/{user_id}、{prefix}/alerts/{user_id}
		TopicPrefix string `yaml:"topic_prefix"`

		// Redis Streams 配置
		RedisStream   string `yaml:"redis_stream"`   // 事件流名称，如 "wearables:events"
		ConsumerGroup string `yaml:"consumer_group"` // 消费者组前缀，每个看板使用独占的 {prefix}-{uuid} 组
		BatchSize     int    `yaml:"batch_size"`     // 批量读取大小，默认 10

		MaxBackoff int `yaml:"max_backoff"` // 重连最大退避（秒），默认 30 秒
	} `yaml:"stream"`

	// 会话配置
	Session struct {
		Role              string `yaml:"role"`               // "supervisor" 或 "employee"
		UserID            string `yaml:"user_id"`            // employee 角色必填
		RefreshInterval   int    `yaml:"refresh_interval"`   // 快照刷新间隔（秒），默认 60 秒
		RecomputeInterval int    `yaml:"recompute_interval"` // 状态重算间隔（秒），默认 30 秒
		PageSize          int    `yaml:"page_size"`          // 默认每页 12 人
		HistorySize       int    `yaml:"history_size"`       // 个人趋势窗口，默认 20 条
		HistoryHours      int    `yaml:"history_hours"`      // 历史查询回溯小时数，默认 24
		AlertCapacity     int    `yaml:"alert_capacity"`     // 报警列表上限，默认 500
	} `yaml:"session"`

	Store struct {
		Backend    string `yaml:"backend"`     // "redis" 或 "sqlite"
		SQLitePath string `yaml:"sqlite_path"` // sqlite 文件路径
	} `yaml:"store"`

	Metrics struct {
		Addr string `yaml:"addr"` // 为空则不启动 /metrics
	} `yaml:"metrics"`

	Export struct {
		Path string `yaml:"path"` // 收到 SIGHUP 时导出花名册的 xlsx 路径
	} `yaml:"export"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Default 返回默认配置
func Default() *Config {
	cfg := &Config{}

	cfg.Redis.Addr = "localhost:6379"
	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.QoS = 1

	cfg.DataService.BaseURL = "http://localhost:8080"
	cfg.DataService.Timeout = 10
	cfg.DataService.RetryCount = 3

	cfg.Stream.Transport = TransportWebSocket
	cfg.Stream.URL = "ws://localhost:8080/ws"
	cfg.Stream.TopicPrefix = "wearables"
	cfg.Stream.RedisStream = "wearables:events"
	cfg.Stream.ConsumerGroup = "supervisor"
	cfg.Stream.BatchSize = 10
	cfg.Stream.MaxBackoff = 30

	cfg.Session.Role = RoleSupervisor
	cfg.Session.RefreshInterval = 60
	cfg.Session.RecomputeInterval = 30
	cfg.Session.PageSize = 12
	cfg.Session.HistorySize = 20
	cfg.Session.HistoryHours = 24
	cfg.Session.AlertCapacity = 500

	cfg.Store.Backend = StoreRedis
	cfg.Store.SQLitePath = "supervisor.db"

	cfg.Log.Level = "info"
	cfg.Log.Format = "json"

	return cfg
}

// Load 加载配置
// 优先级：环境变量 > CONFIG_FILE 指定的 YAML 文件 > 默认值
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Redis.LoadFromEnv("REDIS")
	c.MQTT.LoadFromEnv("MQTT")

	c.DataService.BaseURL = getEnv("DATA_SERVICE_URL", c.DataService.BaseURL)
	c.DataService.Timeout = getEnvInt("DATA_SERVICE_TIMEOUT", c.DataService.Timeout)
	c.DataService.RetryCount = getEnvInt("DATA_SERVICE_RETRY", c.DataService.RetryCount)

	c.Stream.Transport = getEnv("STREAM_TRANSPORT", c.Stream.Transport)
	c.Stream.URL = getEnv("STREAM_URL", c.Stream.URL)
	c.Stream.TopicPrefix = getEnv("STREAM_TOPIC_PREFIX", c.Stream.TopicPrefix)
	c.Stream.RedisStream = getEnv("STREAM_REDIS_STREAM", c.Stream.RedisStream)
	c.Stream.ConsumerGroup = getEnv("STREAM_CONSUMER_GROUP", c.Stream.ConsumerGroup)
	c.Stream.BatchSize = getEnvInt("STREAM_BATCH_SIZE", c.Stream.BatchSize)
	c.Stream.MaxBackoff = getEnvInt("STREAM_MAX_BACKOFF", c.Stream.MaxBackoff)

	c.Session.Role = getEnv("SESSION_ROLE", c.Session.Role)
	c.Session.UserID = getEnv("SESSION_USER_ID", c.Session.UserID)
	c.Session.RefreshInterval = getEnvInt("SESSION_REFRESH_INTERVAL", c.Session.RefreshInterval)
	c.Session.RecomputeInterval = getEnvInt("SESSION_RECOMPUTE_INTERVAL", c.Session.RecomputeInterval)
	c.Session.PageSize = getEnvInt("SESSION_PAGE_SIZE", c.Session.PageSize)
	c.Session.HistorySize = getEnvInt("SESSION_HISTORY_SIZE", c.Session.HistorySize)
	c.Session.HistoryHours = getEnvInt("SESSION_HISTORY_HOURS", c.Session.HistoryHours)
	c.Session.AlertCapacity = getEnvInt("SESSION_ALERT_CAPACITY", c.Session.AlertCapacity)

	c.Store.Backend = getEnv("STORE_BACKEND", c.Store.Backend)
	c.Store.SQLitePath = getEnv("STORE_SQLITE_PATH", c.Store.SQLitePath)

	c.Metrics.Addr = getEnv("METRICS_ADDR", c.Metrics.Addr)
	c.Export.Path = getEnv("EXPORT_PATH", c.Export.Path)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
}

// Validate 校验配置
func (c *Config) Validate() error {
	switch c.Stream.Transport {
	case TransportWebSocket, TransportMQTT, TransportRedis:
	default:
		return fmt.Errorf("unsupported stream transport: %s", c.Stream.Transport)
	}

	switch c.Session.Role {
	case RoleSupervisor:
	case RoleEmployee:
		if c.Session.UserID == "" {
			return fmt.Errorf("user_id is required for employee sessions, please set SESSION_USER_ID")
		}
	default:
		return fmt.Errorf("unsupported session role: %s", c.Session.Role)
	}

	switch c.Store.Backend {
	case StoreRedis, StoreSQLite:
	default:
		return fmt.Errorf("unsupported store backend: %s", c.Store.Backend)
	}

	if c.Session.RefreshInterval <= 0 || c.Session.RecomputeInterval <= 0 {
		return fmt.Errorf("refresh and recompute intervals must be positive")
	}
	if c.Session.PageSize <= 0 {
		return fmt.Errorf("page_size must be positive")
	}
	return nil
}

// RefreshEvery 快照刷新间隔
func (c *Config) RefreshEvery() time.Duration {
	return time.Duration(c.Session.RefreshInterval) * time.Second
}

// RecomputeEvery 状态重算间隔
func (c *Config) RecomputeEvery() time.Duration {
	return time.Duration(c.Session.RecomputeInterval) * time.Second
}

// Broadcast 主管会话接收所有员工的事件
func (c *Config) Broadcast() bool {
	return c.Session.Role == RoleSupervisor
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return defaultValue
}
