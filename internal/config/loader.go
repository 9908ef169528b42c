package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyStoreDefaults(&cfg.Store)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absManifest, err := filepath.Abs(cfg.Global.ManifestPath)
	if err != nil {
		return nil, fmt.Errorf("无法解析 Manifest 路径: %w", err)
	}
	cfg.Global.ManifestPath = absManifest
	if cfg.Store.Backend == "fs" {
		absStorage, err := filepath.Abs(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("无法解析缓存目录: %w", err)
		}
		cfg.Store.Path = absStorage
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("ManifestPath", "./manifest.json")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("AutoActivate", true)
	v.SetDefault("DownloadConcurrency", 4)

	v.SetDefault("Store.Backend", "fs")
	v.SetDefault("Store.Path", "./storage")
	v.SetDefault("Store.Compress", true)
	v.SetDefault("Store.CompressionLevel", 2)
	v.SetDefault("Store.RedisDB", 0)
	v.SetDefault("Store.RedisPrefix", "shell-cache")
	v.SetDefault("Store.ContentName", "app-cache")
	v.SetDefault("Store.StagingName", "temp-cache")
	v.SetDefault("Store.ManifestName", "app-manifest")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	if g.DownloadConcurrency == 0 {
		g.DownloadConcurrency = 4
	}
	g.Origin = strings.TrimSuffix(strings.TrimSpace(g.Origin), "/")
}

func applyStoreDefaults(s *StoreConfig) {
	s.Backend = strings.ToLower(strings.TrimSpace(s.Backend))
	if s.Backend == "" {
		s.Backend = "fs"
	}
	if s.ContentName == "" {
		s.ContentName = "app-cache"
	}
	if s.StagingName == "" {
		s.StagingName = "temp-cache"
	}
	if s.ManifestName == "" {
		s.ManifestName = "app-manifest"
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
