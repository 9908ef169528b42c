package cache

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	entrySuffix = ".entry"
	// hashedSuffix 标记以 sha256 命名的条目，原始键只保存在条目内部。
	hashedSuffix = ".h" + entrySuffix
	// maxEncodedKey 受文件名长度（通常 255 字节）限制。
	maxEncodedKey = 240
)

// FSOptions 控制磁盘缓存的压缩行为。
type FSOptions struct {
	Compress         bool
	CompressionLevel int
}

// NewFSProvider 以 basePath 为根目录构建磁盘缓存，每个 Store 对应 basePath/<name>。
func NewFSProvider(basePath string, opts FSOptions) (Provider, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	codec, err := newCompressor(opts.CompressionLevel, opts.Compress)
	if err != nil {
		return nil, err
	}

	return &fsProvider{
		basePath: abs,
		codec:    codec,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fsProvider 通过 entryLock 避免同一条目并发写入，所有 Store 共享锁表与压缩器。
type fsProvider struct {
	basePath string
	codec    *compressor

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (p *fsProvider) Open(ctx context.Context, name string) (Store, error) {
	if err := validStoreName(name); err != nil {
		return nil, err
	}
	dir := filepath.Join(p.basePath, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("open store %s: %w", name, err)
	}
	return &fileStore{provider: p, name: name, dir: dir}, nil
}

func (p *fsProvider) Close() error {
	p.codec.close()
	return nil
}

func (p *fsProvider) lockEntry(key string) func() {
	p.mu.Lock()
	lock := p.locks[key]
	if lock == nil {
		lock = &entryLock{}
		p.locks[key] = lock
	}
	lock.refs++
	p.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		p.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(p.locks, key)
		}
		p.mu.Unlock()
	}
}

type fileStore struct {
	provider *fsProvider
	name     string
	dir      string
}

func (s *fileStore) Name() string {
	return s.name
}

func (s *fileStore) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	items, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	keys := make([]string, 0, len(items))
	for _, item := range items {
		name := item.Name()
		if item.IsDir() || !strings.HasSuffix(name, entrySuffix) {
			continue
		}
		if strings.HasSuffix(name, hashedSuffix) {
			entry, err := s.readEntry(filepath.Join(s.dir, name))
			if err != nil {
				continue
			}
			keys = append(keys, entry.Key)
			continue
		}
		key, err := decodeFileName(name)
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (s *fileStore) Get(ctx context.Context, key string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filePath, err := s.entryPath(key)
	if err != nil {
		return nil, err
	}
	entry, err := s.readEntry(filePath)
	if err != nil {
		return nil, err
	}
	if entry.Key != key {
		return nil, ErrNotFound
	}
	return entry, nil
}

func (s *fileStore) readEntry(filePath string) (*Entry, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	raw, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	data, err := s.provider.codec.decompress(raw)
	if err != nil {
		return nil, err
	}
	return decodeEntry(data)
}

func (s *fileStore) Put(ctx context.Context, entry Entry) error {
	if entry.Key == "" {
		return ErrKeyRequired
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	filePath, err := s.entryPath(entry.Key)
	if err != nil {
		return err
	}
	data, err := encodeEntry(entry)
	if err != nil {
		return err
	}
	data = s.provider.codec.compress(data)

	unlock := s.provider.lockEntry(filePath)
	defer unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(s.dir, ".cache-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(data)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func (s *fileStore) Delete(ctx context.Context, key string) error {
	filePath, err := s.entryPath(key)
	if err != nil {
		return err
	}

	unlock := s.provider.lockEntry(filePath)
	defer unlock()

	if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *fileStore) Clear(ctx context.Context) error {
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("clear store %s: %w", s.name, err)
	}
	return nil
}

func (s *fileStore) entryPath(key string) (string, error) {
	if key == "" {
		return "", ErrKeyRequired
	}
	encoded := base64.RawURLEncoding.EncodeToString([]byte(key))
	if len(encoded) > maxEncodedKey {
		sum := sha256.Sum256([]byte(key))
		return filepath.Join(s.dir, hex.EncodeToString(sum[:])+hashedSuffix), nil
	}
	return filepath.Join(s.dir, encoded+entrySuffix), nil
}

func decodeFileName(name string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSuffix(name, entrySuffix))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func validStoreName(name string) error {
	switch {
	case name == "":
		return errors.New("store name required")
	case strings.ContainsAny(name, `/\`), name == ".", name == "..":
		return fmt.Errorf("invalid store name: %s", name)
	}
	return nil
}
