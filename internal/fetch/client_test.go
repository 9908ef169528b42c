package fetch

import (
	"net/http"
	"testing"
	"time"

	"github.com/any-hub/shell-cache/internal/config"
)

func TestNewClientSizing(t *testing.T) {
	cfg := &config.Config{
		Global: config.GlobalConfig{
			UpstreamTimeout:     config.Duration(45 * time.Second),
			DownloadConcurrency: 8,
		},
	}

	client := NewClient(cfg)
	if client.Timeout != 45*time.Second {
		t.Fatalf("expected timeout 45s, got %s", client.Timeout)
	}
	transport := client.Transport.(*http.Transport)
	if transport.MaxIdleConnsPerHost != 16 {
		t.Fatalf("idle pool should follow download concurrency, got %d", transport.MaxIdleConnsPerHost)
	}
	if !transport.DisableCompression {
		t.Fatalf("bodies must be cached as the origin sent them")
	}

	fallback := NewClient(nil)
	if fallback.Timeout != defaultUpstreamTimeout {
		t.Fatalf("nil config should fall back to %s", defaultUpstreamTimeout)
	}
	if fallback.Transport.(*http.Transport).MaxIdleConnsPerHost != minOriginConns {
		t.Fatalf("nil config should keep the minimum pool")
	}
}

func TestCopyHeadersSkipsHopByHop(t *testing.T) {
	src := http.Header{}
	src.Add("Connection", "keep-alive, X-Session-Hint")
	src.Add("Keep-Alive", "timeout=5")
	src.Add("X-Session-Hint", "abc")
	src.Add("X-Test-Header", "1")
	src.Add("x-test-header", "2")

	dst := http.Header{}
	CopyHeaders(dst, src)

	for _, key := range []string{"Connection", "Keep-Alive", "X-Session-Hint"} {
		if _, exists := dst[key]; exists {
			t.Fatalf("%s should not be copied", key)
		}
	}
	if got := dst.Values("X-Test-Header"); len(got) != 2 {
		t.Fatalf("expected 2 values, got %v", got)
	}
}
