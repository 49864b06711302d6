package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"fractrade-executor/internal/app"
	"fractrade-executor/internal/config"
	"fractrade-executor/internal/log"
	"fractrade-executor/internal/store"
)

const defaultEnvFile = ".env"

type options struct {
	configPath     string
	envFile        string
	envFileChanged bool
	logLevel       string
	executor       string
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("executor", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "配置文件路径，默认尝试 configs/config.yaml")
	fs.StringVar(&opts.envFile, "env-file", defaultEnvFile, "启动前加载的环境变量文件")
	fs.StringVar(&opts.logLevel, "log-level", "", "日志级别 (DEBUG, INFO, WARNING, ERROR, CRITICAL)")
	fs.StringVar(&opts.executor, "executor", "", "执行器实现，默认 "+config.ExecutorSimple)
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	opts.envFileChanged = fs.Changed("env-file")
	return opts, nil
}

// loadEnvFile 加载 .env；仅默认文件允许缺失，显式指定的文件必须存在。
func loadEnvFile(path string, explicit bool) error {
	if err := godotenv.Load(path); err != nil {
		if !explicit && os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("加载环境变量文件 %q 失败: %w", path, err)
	}
	return nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "解析参数失败: %v\n", err)
		os.Exit(2)
	}

	if err := loadEnvFile(opts.envFile, opts.envFileChanged); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cfg, err := config.Load(opts.configPath, config.Overrides{LogLevel: opts.logLevel, Executor: opts.executor})
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger, err := log.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer func(logger *zap.Logger) {
		_ = logger.Sync()
	}(logger)

	if code := run(cfg, logger); code != 0 {
		_ = logger.Sync()
		os.Exit(code)
	}
	logger.Info("执行器已安全退出")
}

func run(cfg *config.Config, logger *zap.Logger) int {
	var sqliteStore *store.Store
	if cfg.Journal.Enabled {
		st, err := store.NewSQLite(cfg.Database)
		if err != nil {
			logger.Error("初始化数据库失败", zap.Error(err))
			return 1
		}
		sqliteStore = st
		defer func() {
			if closeErr := sqliteStore.Close(); closeErr != nil {
				logger.Warn("关闭数据库失败", zap.Error(closeErr))
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.New(cfg, logger, sqliteStore).Run(ctx); err != nil {
		logger.Error("执行器运行异常", zap.Error(err))
		return 1
	}
	return 0
}
