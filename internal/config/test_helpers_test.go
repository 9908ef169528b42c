package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testOrigin = "https://quiz.example.com"

// testConfigPath 指向 testdata 下的配置样例。
func testConfigPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join("testdata", name)
}

// writeTempConfig 写入一份以 testOrigin 为源站的配置，body 追加在 Origin 之后。
func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	content := "Origin = \"" + testOrigin + "\"\n" + strings.TrimSpace(body) + "\n"
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}
	return path
}
