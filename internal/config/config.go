package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "executor"
)

// legacyEnv 保持与原有部署脚本一致的环境变量名称。
var legacyEnv = map[string]string{
	"feed.url":                   "FRAC_WS_URL",
	"feed.token":                 "FRAC_USER_TOKEN",
	"hyperliquid.private_key":    "HYPERLIQUID_PRIVATE_KEY",
	"hyperliquid.public_address": "HYPERLIQUID_PUBLIC_ADDRESS",
	"hyperliquid.environment":    "HYPERLIQUID_ENV",
	"logging.level":              "LOGLEVEL",
}

// Overrides 为命令行传入、优先级最高的配置项。
type Overrides struct {
	LogLevel string
	Executor string
}

// Load 读取配置文件并结合环境变量返回 Config。
// path 为空时配置文件是可选的，仅依赖默认值与环境变量即可运行。
func Load(path string, overrides Overrides) (*Config, error) {
	v := viper.New()

	explicit := path != ""
	if !explicit {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	for key, env := range legacyEnv {
		if err := v.BindEnv(key, strings.ToUpper(envPrefix)+"_"+replacer.Replace(strings.ToUpper(key)), env); err != nil {
			return nil, fmt.Errorf("绑定环境变量 %s 失败: %w", env, err)
		}
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case !explicit && (errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)):
		case errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		default:
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	if overrides.LogLevel != "" {
		v.Set("logging.level", overrides.LogLevel)
	}
	if overrides.Executor != "" {
		v.Set("executor", overrides.Executor)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.Logging.Level = NormalizeLevel(cfg.Logging.Level)
	cfg.Hyperliquid.Environment = strings.ToLower(strings.TrimSpace(cfg.Hyperliquid.Environment))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("executor", ExecutorSimple)

	v.SetDefault("feed.path", "/ws/executor/")
	v.SetDefault("feed.handshake_timeout", "10s")
	v.SetDefault("feed.ping_interval", "20s")
	v.SetDefault("feed.pong_wait", "20s")
	v.SetDefault("feed.backoff.min_delay", "1s")
	v.SetDefault("feed.backoff.max_delay", "30s")
	v.SetDefault("feed.backoff.multiplier", 2.0)

	v.SetDefault("hyperliquid.environment", EnvironmentMainnet)
	v.SetDefault("hyperliquid.slippage", 0.05)
	v.SetDefault("hyperliquid.rate_limit.requests_per_second", 5)
	v.SetDefault("hyperliquid.rate_limit.burst", 5)
	v.SetDefault("hyperliquid.retry.max_attempts", 3)
	v.SetDefault("hyperliquid.retry.min_delay", "500ms")
	v.SetDefault("hyperliquid.retry.max_delay", "5s")

	v.SetDefault("journal.enabled", true)

	v.SetDefault("database.path", "data/executor.db")
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})
	v.SetDefault("logging.file.max_size_mb", 100)
	v.SetDefault("logging.file.max_backups", 5)
	v.SetDefault("logging.file.max_age_days", 14)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("monitor.port", 0)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
