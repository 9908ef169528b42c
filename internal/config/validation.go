package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

var supportedBackends = map[string]struct{}{
	"fs":     {},
	"memory": {},
	"redis":  {},
}

const supportedBackendList = "fs|memory|redis"

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
		return newFieldError("Global.LogLevel", "无法识别的日志级别")
	}
	if err := validateOrigin(g.Origin); err != nil {
		return fmt.Errorf("Global.Origin: %w", err)
	}
	if strings.TrimSpace(g.ManifestPath) == "" {
		return newFieldError("Global.ManifestPath", "不能为空")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.DownloadConcurrency <= 0 {
		return newFieldError("Global.DownloadConcurrency", "必须大于 0")
	}

	return c.Store.validate()
}

func (s StoreConfig) validate() error {
	if _, ok := supportedBackends[s.Backend]; !ok {
		return newFieldError(storeField("Backend"), "仅支持 "+supportedBackendList)
	}
	switch s.Backend {
	case "fs":
		if strings.TrimSpace(s.Path) == "" {
			return newFieldError(storeField("Path"), "fs 后端必须配置缓存目录")
		}
		if s.Compress && (s.CompressionLevel < 1 || s.CompressionLevel > 3) {
			return newFieldError(storeField("CompressionLevel"), "必须在 1-3")
		}
	case "redis":
		if strings.TrimSpace(s.RedisAddr) == "" {
			return newFieldError(storeField("RedisAddr"), "redis 后端必须配置地址")
		}
		if s.RedisDB < 0 {
			return newFieldError(storeField("RedisDB"), "不能为负数")
		}
	}

	seen := map[string]string{}
	for _, item := range []struct{ field, name string }{
		{"ContentName", s.ContentName},
		{"StagingName", s.StagingName},
		{"ManifestName", s.ManifestName},
	} {
		if strings.ContainsAny(item.name, `/\`) || item.name == "." || item.name == ".." {
			return newFieldError(storeField(item.field), "不允许包含路径分隔符")
		}
		if other, dup := seen[item.name]; dup {
			return newFieldError(storeField(item.field), "与 "+other+" 重复")
		}
		seen[item.name] = item.field
	}
	return nil
}

func validateOrigin(raw string) error {
	if raw == "" {
		return errors.New("缺少 origin 地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，origin: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("origin 缺少 Host: %s", raw)
	}
	if parsed.RawQuery != "" || parsed.Fragment != "" {
		return fmt.Errorf("origin 不允许包含查询串或锚点: %s", raw)
	}
	return nil
}
