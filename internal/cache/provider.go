package cache

import (
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

// Backend 名称与配置中的 Store.Backend 一致。
const (
	BackendFS     = "fs"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Options 汇总构建 Provider 所需的全部参数，由 main 从配置映射而来。
type Options struct {
	Backend          string
	Path             string
	Compress         bool
	CompressionLevel int
	RedisAddr        string
	RedisDB          int
	RedisPassword    string
	RedisPrefix      string
}

// NewProvider 根据 Backend 选择具体实现。
func NewProvider(opts Options) (Provider, error) {
	switch opts.Backend {
	case BackendFS, "":
		return NewFSProvider(opts.Path, FSOptions{
			Compress:         opts.Compress,
			CompressionLevel: opts.CompressionLevel,
		})
	case BackendMemory:
		return NewMemoryProvider(), nil
	case BackendRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     opts.RedisAddr,
			DB:       opts.RedisDB,
			Password: opts.RedisPassword,
		})
		return NewRedisProvider(RedisOptions{
			Client:      client,
			Prefix:      opts.RedisPrefix,
			CloseClient: true,
		})
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", opts.Backend)
	}
}
