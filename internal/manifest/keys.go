package manifest

import "strings"

// cacheBustMarker 之后的部分视为缓存破坏参数并被截断。
const cacheBustMarker = "?v="

// Identity 去掉 origin 前缀与锚点，得到内容缓存使用的请求标识（保留查询串）。
func Identity(origin, raw string) string {
	rel := stripOrigin(origin, raw)
	if idx := strings.IndexByte(rel, '#'); idx >= 0 {
		rel = rel[:idx]
	}
	if rel == "" {
		return RootKey
	}
	if !strings.HasPrefix(rel, "/") {
		rel = "/" + rel
	}
	return rel
}

// LogicalKey 将缓存中的请求标识映射回资源键，只做根键规范化。
// 对账与离线下载都依赖该规则，必须与 Manifest 键的写法保持一致。
func LogicalKey(identity string) string {
	if identity == "" {
		return RootKey
	}
	return identity
}

// RequestKey 将请求地址规范化为资源键：去掉 origin，截断 "?v=" 后缀，
// origin 根、空路径与 "/#" 锚点路由均映射为 RootKey。
func RequestKey(origin, raw string) string {
	rel := stripOrigin(origin, raw)
	if rel == "" || strings.HasPrefix(rel, "/#") || strings.HasPrefix(rel, "#") {
		return RootKey
	}
	key := rel
	if idx := strings.Index(key, cacheBustMarker); idx >= 0 {
		key = key[:idx]
	}
	return CanonicalKey(key)
}

func stripOrigin(origin, raw string) string {
	origin = strings.TrimSuffix(origin, "/")
	if origin == "" || !strings.HasPrefix(raw, origin) {
		return raw
	}
	rest := raw[len(origin):]
	if rest != "" && !strings.ContainsRune("/?#", rune(rest[0])) {
		// "https://app.example" 不应吞掉 "https://app.example.org/..."
		return raw
	}
	return rest
}
