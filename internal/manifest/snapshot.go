package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/any-hub/shell-cache/internal/cache"
)

// SnapshotKey 是 Manifest Store 中唯一的快照名称。
const SnapshotKey = "manifest"

// Snapshots 在 cache.Store 中读写当前生效的 Manifest 快照。
type Snapshots struct {
	store cache.Store
	now   func() time.Time
}

// NewSnapshots 构造快照存取器，默认使用 time.Now 作为时钟。
func NewSnapshots(store cache.Store) *Snapshots {
	return &Snapshots{store: store, now: time.Now}
}

// Load 返回已发布的 Manifest；从未发布时返回 (nil, nil)。
func (s *Snapshots) Load(ctx context.Context) (*Manifest, error) {
	entry, err := s.store.Get(ctx, SnapshotKey)
	if errors.Is(err, cache.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load manifest snapshot: %w", err)
	}
	var resources map[string]string
	if err := json.Unmarshal(entry.Body, &resources); err != nil {
		return nil, fmt.Errorf("decode manifest snapshot: %w", err)
	}
	return New(resources), nil
}

// Save 以 JSON 形式覆盖写入快照。
func (s *Snapshots) Save(ctx context.Context, m *Manifest) error {
	body, err := json.Marshal(m.Resources())
	if err != nil {
		return fmt.Errorf("encode manifest snapshot: %w", err)
	}
	entry := cache.Entry{
		Key:      SnapshotKey,
		Status:   http.StatusOK,
		Header:   map[string][]string{"Content-Type": {"application/json"}},
		Body:     body,
		StoredAt: s.now().UTC(),
	}
	if err := s.store.Put(ctx, entry); err != nil {
		return fmt.Errorf("save manifest snapshot: %w", err)
	}
	return nil
}

// Clear 删除整个 Manifest Store。
func (s *Snapshots) Clear(ctx context.Context) error {
	return s.store.Clear(ctx)
}
