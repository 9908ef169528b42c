package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Table 是构建流程产出的资源表：新 Manifest 与需要强制刷新的核心文件集合。
type Table struct {
	Manifest *Manifest
	Core     []string
}

type tableFile struct {
	Resources map[string]string `json:"resources"`
	Core      []string          `json:"core"`
}

// LoadTable 读取 JSON 资源表文件。
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest table: %w", err)
	}
	table, err := ParseTable(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return table, nil
}

// ParseTable 解析资源表，规范化全部键并去重核心文件列表。
func ParseTable(data []byte) (*Table, error) {
	var raw tableFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode manifest table: %w", err)
	}
	if len(raw.Resources) == 0 {
		return nil, errors.New("manifest table has no resources")
	}
	for key, fingerprint := range raw.Resources {
		if fingerprint == "" {
			return nil, fmt.Errorf("resource %s has an empty fingerprint", key)
		}
	}

	seen := make(map[string]struct{}, len(raw.Core))
	core := make([]string, 0, len(raw.Core))
	for _, key := range raw.Core {
		canonical := CanonicalKey(key)
		if _, dup := seen[canonical]; dup {
			continue
		}
		seen[canonical] = struct{}{}
		core = append(core, canonical)
	}

	table := &Table{Manifest: New(raw.Resources), Core: core}
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return table, nil
}

// Validate 要求每个核心文件都出现在资源表中，否则暂存后会残留在内容缓存里。
func (t *Table) Validate() error {
	if t == nil || t.Manifest.Len() == 0 {
		return errors.New("manifest table has no resources")
	}
	for _, key := range t.Core {
		if !t.Manifest.Has(key) {
			return fmt.Errorf("core resource %s is not listed in resources", key)
		}
	}
	return nil
}
