package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述全局运行时行为：监听、日志、origin 与生命周期参数。
type GlobalConfig struct {
	ListenPort          int      `mapstructure:"ListenPort"`
	LogLevel            string   `mapstructure:"LogLevel"`
	LogFilePath         string   `mapstructure:"LogFilePath"`
	LogMaxSize          int      `mapstructure:"LogMaxSize"`
	LogMaxBackups       int      `mapstructure:"LogMaxBackups"`
	LogCompress         bool     `mapstructure:"LogCompress"`
	Origin              string   `mapstructure:"Origin"`
	ManifestPath        string   `mapstructure:"ManifestPath"`
	UpstreamTimeout     Duration `mapstructure:"UpstreamTimeout"`
	AutoActivate        bool     `mapstructure:"AutoActivate"`
	DownloadConcurrency int      `mapstructure:"DownloadConcurrency"`
}

// StoreConfig 决定缓存后端以及三个命名 Store 的名称。
type StoreConfig struct {
	Backend          string `mapstructure:"Backend"`
	Path             string `mapstructure:"Path"`
	Compress         bool   `mapstructure:"Compress"`
	CompressionLevel int    `mapstructure:"CompressionLevel"`
	RedisAddr        string `mapstructure:"RedisAddr"`
	RedisDB          int    `mapstructure:"RedisDB"`
	RedisPassword    string `mapstructure:"RedisPassword"`
	RedisPrefix      string `mapstructure:"RedisPrefix"`
	ContentName      string `mapstructure:"ContentName"`
	StagingName      string `mapstructure:"StagingName"`
	ManifestName     string `mapstructure:"ManifestName"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Store  StoreConfig  `mapstructure:"Store"`
}

// StoreNames 返回内容缓存、暂存区与 Manifest Store 的名称，供日志输出。
func (c *Config) StoreNames() []string {
	return []string{c.Store.ContentName, c.Store.StagingName, c.Store.ManifestName}
}
