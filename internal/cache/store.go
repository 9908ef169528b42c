package cache

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Store 是一个以请求标识为键的缓存空间，所有实现必须支持并发访问。
type Store interface {
	// Name 返回打开该 Store 时使用的名称。
	Name() string

	// Keys 枚举当前全部条目的键，顺序不作保证。
	Keys(ctx context.Context) ([]string, error)

	// Get 返回指定键的条目。若不存在则返回 ErrNotFound。
	Get(ctx context.Context, key string) (*Entry, error)

	// Put 以 entry.Key 为键写入（覆盖）条目。
	Put(ctx context.Context, entry Entry) error

	// Delete 删除单个条目，键不存在时不报错。
	Delete(ctx context.Context, key string) error

	// Clear 删除整个 Store 的内容；句柄在 Clear 之后仍可继续使用。
	Clear(ctx context.Context) error
}

// Provider 按名称打开 Store，对应缓存的 open-by-name 能力。
type Provider interface {
	Open(ctx context.Context, name string) (Store, error)
	Close() error
}

// Entry 表示一次被缓存的响应：请求标识、状态码、响应头与正文。
type Entry struct {
	Key      string              `msgpack:"key"`
	Status   int                 `msgpack:"status"`
	Header   map[string][]string `msgpack:"header,omitempty"`
	Body     []byte              `msgpack:"body"`
	StoredAt time.Time           `msgpack:"stored_at"`
}

// HTTPHeader 以 http.Header 形式返回条目头部的副本。
func (e Entry) HTTPHeader() http.Header {
	header := make(http.Header, len(e.Header))
	for key, values := range e.Header {
		header[key] = append([]string(nil), values...)
	}
	return header
}

var (
	// ErrNotFound 表示缓存不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrKeyRequired 表示写入的条目缺少键。
	ErrKeyRequired = errors.New("cache entry key required")
)
