// Package manifest models the content-addressed resource table published by
// the application build: resource key → fingerprint, plus the core shell file
// list. It also owns request-address normalization so that the reconciler and
// the router derive resource keys the same way, and persists the active
// snapshot in a cache.Store.
package manifest

import (
	"sort"
	"strings"
)

// RootKey 是保留的根键，对应 origin 根路径与页内锚点路由。
const RootKey = "/"

// Manifest 是发布后不可变的 资源键 → 指纹 映射。
type Manifest struct {
	resources map[string]string
}

// New 复制并规范化 resources 的键，返回新的 Manifest。
func New(resources map[string]string) *Manifest {
	normalized := make(map[string]string, len(resources))
	for key, fingerprint := range resources {
		normalized[CanonicalKey(key)] = fingerprint
	}
	return &Manifest{resources: normalized}
}

// Fingerprint 返回 key 对应的指纹。
func (m *Manifest) Fingerprint(key string) (string, bool) {
	if m == nil {
		return "", false
	}
	fingerprint, ok := m.resources[key]
	return fingerprint, ok
}

// Has 表示 key 是否属于该 Manifest。
func (m *Manifest) Has(key string) bool {
	_, ok := m.Fingerprint(key)
	return ok
}

// Len 返回资源数量。
func (m *Manifest) Len() int {
	if m == nil {
		return 0
	}
	return len(m.resources)
}

// Keys 按字典序返回全部资源键。
func (m *Manifest) Keys() []string {
	if m == nil {
		return nil
	}
	keys := make([]string, 0, len(m.resources))
	for key := range m.resources {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Resources 返回映射副本，用于序列化。
func (m *Manifest) Resources() map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m.resources))
	for key, fingerprint := range m.resources {
		out[key] = fingerprint
	}
	return out
}

// Equal 以精确字符串比较两个 Manifest。
func (m *Manifest) Equal(other *Manifest) bool {
	if m.Len() != other.Len() {
		return false
	}
	for key, fingerprint := range m.Resources() {
		if got, ok := other.Fingerprint(key); !ok || got != fingerprint {
			return false
		}
	}
	return true
}

// CanonicalKey 将构建表中的路径统一为带前导斜杠的形式，空串视为根键。
func CanonicalKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" || key == RootKey {
		return RootKey
	}
	return "/" + strings.TrimLeft(key, "/")
}
