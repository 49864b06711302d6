package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/multierr"
)

const (
	// EnvironmentMainnet 为 Hyperliquid 主网。
	EnvironmentMainnet = "mainnet"
	// EnvironmentTestnet 为 Hyperliquid 测试网。
	EnvironmentTestnet = "testnet"

	// ExecutorSimple 是目前唯一内置的执行器实现。
	ExecutorSimple = "simple"
)

// Config 聚合了执行器运行所需的全部配置项。
type Config struct {
	Executor    string            `mapstructure:"executor"`
	Feed        FeedConfig        `mapstructure:"feed"`
	Hyperliquid HyperliquidConfig `mapstructure:"hyperliquid"`
	Journal     JournalConfig     `mapstructure:"journal"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Monitor     MonitorConfig     `mapstructure:"monitor"`
}

// FeedConfig 描述指令推送 WebSocket 的连接参数。
type FeedConfig struct {
	URL              string        `mapstructure:"url"`
	Token            string        `mapstructure:"token"`
	Path             string        `mapstructure:"path"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	PongWait         time.Duration `mapstructure:"pong_wait"`
	Backoff          BackoffConfig `mapstructure:"backoff"`
}

// Endpoint 返回完整的执行器订阅地址。
func (f FeedConfig) Endpoint() string {
	base := strings.TrimRight(f.URL, "/")
	path := f.Path
	if path == "" {
		path = "/ws/executor/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

// BackoffConfig 控制断线重连的指数退避。
type BackoffConfig struct {
	MinDelay   time.Duration `mapstructure:"min_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
	Multiplier float64       `mapstructure:"multiplier"`
}

// HyperliquidConfig 描述本地执行所需的交易所参数。
type HyperliquidConfig struct {
	PrivateKey    string          `mapstructure:"private_key"`
	PublicAddress string          `mapstructure:"public_address"`
	Environment   string          `mapstructure:"environment"`
	Slippage      float64         `mapstructure:"slippage"`
	RateLimit     RateLimitConfig `mapstructure:"rate_limit"`
	Retry         RetryConfig     `mapstructure:"retry"`
}

// HasCredentials 判断是否配置了完整的本地签名凭证。
func (h HyperliquidConfig) HasCredentials() bool {
	return h.PrivateKey != "" && h.PublicAddress != ""
}

// Testnet 判断是否连接测试网。
func (h HyperliquidConfig) Testnet() bool {
	return strings.EqualFold(h.Environment, EnvironmentTestnet)
}

// RateLimitConfig 限制本地下单频率。
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// JournalConfig 控制动作日志的持久化。
type JournalConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string        `mapstructure:"level"`
	Encoding         string        `mapstructure:"encoding"`
	Development      bool          `mapstructure:"development"`
	OutputPaths      []string      `mapstructure:"output_paths"`
	ErrorOutputPaths []string      `mapstructure:"error_output_paths"`
	File             LogFileConfig `mapstructure:"file"`
}

// LogFileConfig 描述滚动日志文件，Path 为空时不写文件。
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// MonitorConfig 控制本地监控接口，Port 为 0 时关闭。
type MonitorConfig struct {
	Port int `mapstructure:"port"`
}

var validLevels = map[string]struct{}{
	"debug":  {},
	"info":   {},
	"warn":   {},
	"error":  {},
	"dpanic": {},
	"panic":  {},
	"fatal":  {},
}

// NormalizeLevel 将命令行或环境变量中的日志级别统一为 zap 级别名称。
func NormalizeLevel(level string) string {
	switch l := strings.ToLower(strings.TrimSpace(level)); l {
	case "warning":
		return "warn"
	case "critical":
		return "fatal"
	default:
		return l
	}
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.Executor != ExecutorSimple {
		err = multierr.Append(err, fmt.Errorf("executor 不支持 %q，仅支持 %q", c.Executor, ExecutorSimple))
	}

	if c.Feed.URL == "" {
		err = multierr.Append(err, errors.New("feed.url 不能为空 (FRAC_WS_URL)"))
	} else if u, parseErr := url.Parse(c.Feed.URL); parseErr != nil {
		err = multierr.Append(err, fmt.Errorf("feed.url 无法解析: %w", parseErr))
	} else if u.Scheme != "ws" && u.Scheme != "wss" {
		err = multierr.Append(err, fmt.Errorf("feed.url 协议必须为 ws 或 wss，当前为 %q", u.Scheme))
	}
	if c.Feed.Token == "" {
		err = multierr.Append(err, errors.New("feed.token 不能为空 (FRAC_USER_TOKEN)"))
	}
	if c.Feed.HandshakeTimeout <= 0 {
		err = multierr.Append(err, errors.New("feed.handshake_timeout 必须大于0"))
	}
	if c.Feed.PingInterval <= 0 || c.Feed.PongWait <= 0 {
		err = multierr.Append(err, errors.New("feed.ping_interval 与 feed.pong_wait 必须大于0"))
	}
	if c.Feed.Backoff.MinDelay <= 0 || c.Feed.Backoff.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("feed.backoff.delay 必须为正"))
	}
	if c.Feed.Backoff.MinDelay > c.Feed.Backoff.MaxDelay {
		err = multierr.Append(err, errors.New("feed.backoff.min_delay 不能大于 max_delay"))
	}
	if c.Feed.Backoff.Multiplier < 1 {
		err = multierr.Append(err, errors.New("feed.backoff.multiplier 不能小于1"))
	}

	env := strings.ToLower(c.Hyperliquid.Environment)
	if env != EnvironmentMainnet && env != EnvironmentTestnet {
		err = multierr.Append(err, fmt.Errorf("hyperliquid.environment 必须为 mainnet 或 testnet，当前为 %q", c.Hyperliquid.Environment))
	}
	if (c.Hyperliquid.PrivateKey == "") != (c.Hyperliquid.PublicAddress == "") {
		err = multierr.Append(err, errors.New("hyperliquid 需要同时配置 private_key 与 public_address"))
	}
	if c.Hyperliquid.Slippage < 0 || c.Hyperliquid.Slippage > 0.2 {
		err = multierr.Append(err, errors.New("hyperliquid.slippage 应位于[0,0.2]"))
	}
	if c.Hyperliquid.RateLimit.RequestsPerSecond < 0 {
		err = multierr.Append(err, errors.New("hyperliquid.rate_limit.requests_per_second 不能为负"))
	}
	if c.Hyperliquid.RateLimit.RequestsPerSecond > 0 && c.Hyperliquid.RateLimit.Burst <= 0 {
		err = multierr.Append(err, errors.New("hyperliquid.rate_limit.burst 必须大于0"))
	}
	if c.Hyperliquid.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("hyperliquid.retry.max_attempts 必须大于0"))
	}
	if c.Hyperliquid.Retry.MinDelay > c.Hyperliquid.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("hyperliquid.retry.min_delay 不能大于 max_delay"))
	}

	if c.Journal.Enabled {
		if c.Database.Path == "" && !c.Database.InMemory {
			err = multierr.Append(err, errors.New("database.path 不能为空"))
		}
		if c.Database.MaxOpenConns <= 0 {
			err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
		}
		if c.Database.MaxIdleConns < 0 {
			err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
		}
		if c.Database.ConnMaxLifetime < 0 {
			err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
		}
	}

	if _, ok := validLevels[NormalizeLevel(c.Logging.Level)]; !ok {
		err = multierr.Append(err, fmt.Errorf("logging.level 不支持 %q", c.Logging.Level))
	}
	if c.Logging.Encoding != "console" && c.Logging.Encoding != "json" {
		err = multierr.Append(err, fmt.Errorf("logging.encoding 必须为 console 或 json，当前为 %q", c.Logging.Encoding))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	if c.Monitor.Port < 0 || c.Monitor.Port > 65535 {
		err = multierr.Append(err, errors.New("monitor.port 必须位于[0,65535]"))
	}
	if c.Monitor.Port > 0 && !c.Journal.Enabled {
		err = multierr.Append(err, errors.New("monitor.port 需要开启 journal.enabled"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
