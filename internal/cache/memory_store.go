package cache

import (
	"context"
	"sync"
)

// NewMemoryProvider 返回进程内的 Provider，同名 Open 总是得到同一个 Store。
func NewMemoryProvider() Provider {
	return &memoryProvider{stores: make(map[string]*memoryStore)}
}

type memoryProvider struct {
	mu     sync.Mutex
	stores map[string]*memoryStore
}

func (p *memoryProvider) Open(ctx context.Context, name string) (Store, error) {
	if err := validStoreName(name); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	store := p.stores[name]
	if store == nil {
		store = &memoryStore{name: name, entries: make(map[string]Entry)}
		p.stores[name] = store
	}
	return store, nil
}

func (p *memoryProvider) Close() error {
	return nil
}

type memoryStore struct {
	name string

	mu      sync.RWMutex
	entries map[string]Entry
}

func (s *memoryStore) Name() string {
	return s.name
}

func (s *memoryStore) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	return keys, nil
}

func (s *memoryStore) Get(ctx context.Context, key string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	cloned := cloneEntry(entry)
	return &cloned, nil
}

func (s *memoryStore) Put(ctx context.Context, entry Entry) error {
	if entry.Key == "" {
		return ErrKeyRequired
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.entries[entry.Key] = cloneEntry(entry)
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.entries = make(map[string]Entry)
	s.mu.Unlock()
	return nil
}

// cloneEntry 断开调用方与存储之间的切片共享。
func cloneEntry(entry Entry) Entry {
	cloned := entry
	cloned.Body = append([]byte(nil), entry.Body...)
	if entry.Header != nil {
		cloned.Header = make(map[string][]string, len(entry.Header))
		for key, values := range entry.Header {
			cloned.Header[key] = append([]string(nil), values...)
		}
	}
	return cloned
}
