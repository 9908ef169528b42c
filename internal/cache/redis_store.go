package cache

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

// ErrNilClient 表示未注入 Redis 客户端。
var ErrNilClient = errors.New("redis provider: nil client")

// RedisOptions 描述 Redis 后端；每个 Store 存放在 <Prefix>:<name> 哈希中。
type RedisOptions struct {
	Client      goredis.UniversalClient
	Prefix      string
	CloseClient bool
}

// NewRedisProvider 基于 Redis 哈希实现 Provider，HDEL/HSET 均为单键幂等写入。
func NewRedisProvider(opts RedisOptions) (Provider, error) {
	if opts.Client == nil {
		return nil, ErrNilClient
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "shell-cache"
	}
	return &redisProvider{rdb: opts.Client, prefix: prefix, closeClient: opts.CloseClient}, nil
}

type redisProvider struct {
	rdb         goredis.UniversalClient
	prefix      string
	closeClient bool
}

func (p *redisProvider) Open(ctx context.Context, name string) (Store, error) {
	if err := validStoreName(name); err != nil {
		return nil, err
	}
	return &redisStore{rdb: p.rdb, name: name, hash: p.prefix + ":" + name}, nil
}

// Close 仅在 Provider 独占客户端时关闭连接。
func (p *redisProvider) Close() error {
	if !p.closeClient {
		return nil
	}
	if err := p.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
		return err
	}
	return nil
}

type redisStore struct {
	rdb  goredis.UniversalClient
	name string
	hash string
}

func (s *redisStore) Name() string {
	return s.name
}

func (s *redisStore) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.rdb.HKeys(ctx, s.hash).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hkeys %s: %w", s.hash, err)
	}
	return keys, nil
}

func (s *redisStore) Get(ctx context.Context, key string) (*Entry, error) {
	data, err := s.rdb.HGet(ctx, s.hash, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis hget %s: %w", s.hash, err)
	}
	return decodeEntry(data)
}

func (s *redisStore) Put(ctx context.Context, entry Entry) error {
	if entry.Key == "" {
		return ErrKeyRequired
	}
	data, err := encodeEntry(entry)
	if err != nil {
		return err
	}
	if err := s.rdb.HSet(ctx, s.hash, entry.Key, data).Err(); err != nil {
		return fmt.Errorf("redis hset %s: %w", s.hash, err)
	}
	return nil
}

func (s *redisStore) Delete(ctx context.Context, key string) error {
	if err := s.rdb.HDel(ctx, s.hash, key).Err(); err != nil {
		return fmt.Errorf("redis hdel %s: %w", s.hash, err)
	}
	return nil
}

func (s *redisStore) Clear(ctx context.Context) error {
	if err := s.rdb.Del(ctx, s.hash).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", s.hash, err)
	}
	return nil
}
