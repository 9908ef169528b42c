package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/any-hub/shell-cache/internal/config"
)

// InitLogger 构建 JSON 结构化日志：配置了 LogFilePath 时写入滚动文件，
// 否则或文件不可用时写入 console（为 nil 时使用 os.Stdout）。
// 每条日志都会带上 origin 字段，便于多实例共用日志管道时区分来源。
func InitLogger(cfg config.GlobalConfig, console io.Writer) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("无法解析日志级别: %w", err)
	}
	if console == nil {
		console = os.Stdout
	}

	output, outErr := openLogFile(cfg)
	if output == nil {
		output = console
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(output)
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	if cfg.Origin != "" {
		logger.AddHook(originHook(cfg.Origin))
	}

	logrus.SetFormatter(logger.Formatter)
	logrus.SetOutput(logger.Out)
	logrus.SetLevel(logger.GetLevel())

	if outErr != nil {
		logger.WithFields(logrus.Fields{
			"action": "logger_fallback",
			"path":   cfg.LogFilePath,
		}).Warn(outErr.Error())
	}
	return logger, nil
}

// openLogFile 返回滚动文件 Writer；未配置路径时返回 nil, nil。
func openLogFile(cfg config.GlobalConfig) (io.Writer, error) {
	if cfg.LogFilePath == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogFilePath), 0o755); err != nil {
		return nil, fmt.Errorf("创建日志目录失败: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   cfg.LogFilePath,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
		Compress:   cfg.LogCompress,
		LocalTime:  true,
	}, nil
}

// originHook 为未显式设置 origin 的日志补上该字段。
type originHook string

func (h originHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h originHook) Fire(entry *logrus.Entry) error {
	if _, ok := entry.Data["origin"]; !ok {
		entry.Data["origin"] = string(h)
	}
	return nil
}
