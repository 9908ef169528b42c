package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/any-hub/shell-cache/internal/config"
)

func TestInitLoggerDefaultsToConsole(t *testing.T) {
	logger, err := InitLogger(config.GlobalConfig{LogLevel: "info"}, nil)
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	if logger.Out != os.Stdout {
		t.Fatalf("未指定文件与 console 时应输出到 stdout")
	}

	console := &bytes.Buffer{}
	logger, err = InitLogger(config.GlobalConfig{LogLevel: "info"}, console)
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	if logger.Out != console {
		t.Fatalf("未指定文件时应写入 console")
	}
}

func TestInitLoggerFallbackOnPermissionDenied(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root 不受目录权限限制")
	}
	dir := t.TempDir()
	blocked := filepath.Join(dir, "blocked")
	if err := os.Mkdir(blocked, 0o755); err != nil {
		t.Fatalf("创建目录失败: %v", err)
	}
	if err := os.Chmod(blocked, 0o000); err != nil {
		t.Fatalf("设置目录权限失败: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(blocked, 0o755) })

	console := &bytes.Buffer{}
	cfg := config.GlobalConfig{
		LogLevel:    "info",
		LogFilePath: filepath.Join(blocked, "sub", "shell-cache.log"),
	}
	logger, err := InitLogger(cfg, console)
	if err != nil {
		t.Fatalf("初始化不应失败: %v", err)
	}
	if logger.Out != console {
		t.Fatalf("fallback 时应退回 console")
	}
	if !bytes.Contains(console.Bytes(), []byte(`"action":"logger_fallback"`)) {
		t.Fatalf("fallback 应记录告警: %s", console.String())
	}
}

func TestInitLoggerWritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shell-cache.log")
	cfg := config.GlobalConfig{LogLevel: "debug", LogFilePath: path}
	logger, err := InitLogger(cfg, nil)
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	logger.Info("test")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("预期创建日志文件: %v", err)
	}
}

func TestInitLoggerTagsOrigin(t *testing.T) {
	console := &bytes.Buffer{}
	logger, err := InitLogger(config.GlobalConfig{LogLevel: "info", Origin: "https://quiz.example.com"}, console)
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	logger.WithField("action", "proxy").Info("proxy_complete")

	var entry map[string]any
	if err := json.Unmarshal(console.Bytes(), &entry); err != nil {
		t.Fatalf("日志不是合法 JSON: %v", err)
	}
	if entry["origin"] != "https://quiz.example.com" {
		t.Fatalf("每条日志都应带 origin: %v", entry)
	}

	console.Reset()
	logger.WithField("origin", "override").Info("explicit")
	if !bytes.Contains(console.Bytes(), []byte(`"origin":"override"`)) {
		t.Fatalf("显式 origin 不应被覆盖: %s", console.String())
	}
}

func TestInitLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := InitLogger(config.GlobalConfig{LogLevel: "loud"}, nil); err == nil {
		t.Fatalf("未知日志级别应返回错误")
	}
}
