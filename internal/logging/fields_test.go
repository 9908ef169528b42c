package logging

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestRequestFieldsRenderAsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})

	fields := RequestFields("GET", "/app.css?v=3", "/app.css", "cache-first", true)
	fields["action"] = "proxy"
	logger.WithFields(fields).Info("proxy_complete")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("日志应为 JSON: %v", err)
	}
	if entry["key"] != "/app.css" || entry["identity"] != "/app.css?v=3" || entry["cache_hit"] != true {
		t.Fatalf("请求字段缺失: %v", entry)
	}
	if entry["action"] != "proxy" || entry["msg"] != "proxy_complete" {
		t.Fatalf("action/msg 字段不正确: %v", entry)
	}
}

func TestLifecycleAndBaseFields(t *testing.T) {
	lifecycle := LifecycleFields("reconcile", 12)
	if lifecycle["action"] != "reconcile" || lifecycle["resources"] != 12 {
		t.Fatalf("生命周期字段不正确: %v", lifecycle)
	}
	base := BaseFields("startup", "/etc/shell-cache.toml")
	if base["configPath"] != "/etc/shell-cache.toml" {
		t.Fatalf("基础字段不正确: %v", base)
	}
}
