package cache

import (
	"bytes"
	"context"
	"errors"
	"os"
	"sort"
	"strings"
	"testing"
	"time"
)

func TestStorePutAndGet(t *testing.T) {
	for name, provider := range testProviders(t) {
		t.Run(name, func(t *testing.T) {
			store := openTestStore(t, provider, "app-cache")

			storedAt := time.Now().Add(-time.Hour).UTC().Truncate(time.Millisecond)
			payload := []byte("payload")
			entry := Entry{
				Key:      "/main.dart.js",
				Status:   200,
				Header:   map[string][]string{"Content-Type": {"text/javascript"}},
				Body:     payload,
				StoredAt: storedAt,
			}
			if err := store.Put(context.Background(), entry); err != nil {
				t.Fatalf("put error: %v", err)
			}

			got, err := store.Get(context.Background(), "/main.dart.js")
			if err != nil {
				t.Fatalf("get error: %v", err)
			}
			if !bytes.Equal(got.Body, payload) {
				t.Fatalf("cached payload mismatch: %s", string(got.Body))
			}
			if got.Status != 200 {
				t.Fatalf("status mismatch: %d", got.Status)
			}
			if ct := got.HTTPHeader().Get("Content-Type"); ct != "text/javascript" {
				t.Fatalf("header mismatch: %q", ct)
			}
			if !got.StoredAt.Equal(storedAt) {
				t.Fatalf("stored_at mismatch: expected %v got %v", storedAt, got.StoredAt)
			}
		})
	}
}

func TestStoreGetMissing(t *testing.T) {
	for name, provider := range testProviders(t) {
		t.Run(name, func(t *testing.T) {
			store := openTestStore(t, provider, "app-cache")
			_, err := store.Get(context.Background(), "/missing")
			if err == nil || err != ErrNotFound {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestStoreDelete(t *testing.T) {
	for name, provider := range testProviders(t) {
		t.Run(name, func(t *testing.T) {
			store := openTestStore(t, provider, "app-cache")
			if err := store.Put(context.Background(), Entry{Key: "/remove", Body: []byte("data")}); err != nil {
				t.Fatalf("put error: %v", err)
			}
			if err := store.Delete(context.Background(), "/remove"); err != nil {
				t.Fatalf("delete error: %v", err)
			}
			if _, err := store.Get(context.Background(), "/remove"); err == nil || err != ErrNotFound {
				t.Fatalf("expected not found after delete, got %v", err)
			}
			if err := store.Delete(context.Background(), "/remove"); err != nil {
				t.Fatalf("deleting a missing key should succeed: %v", err)
			}
		})
	}
}

func TestStoreKeysAndClear(t *testing.T) {
	for name, provider := range testProviders(t) {
		t.Run(name, func(t *testing.T) {
			store := openTestStore(t, provider, "app-cache")
			other := openTestStore(t, provider, "temp-cache")
			ctx := context.Background()

			for _, key := range []string{"/", "/app.css?v=3", "/assets/fonts/MaterialIcons-Regular.otf"} {
				if err := store.Put(ctx, Entry{Key: key, Body: []byte(key)}); err != nil {
					t.Fatalf("put %s: %v", key, err)
				}
			}
			if err := other.Put(ctx, Entry{Key: "/index.html", Body: []byte("shell")}); err != nil {
				t.Fatalf("put staging: %v", err)
			}

			keys, err := store.Keys(ctx)
			if err != nil {
				t.Fatalf("keys error: %v", err)
			}
			sort.Strings(keys)
			want := "/,/app.css?v=3,/assets/fonts/MaterialIcons-Regular.otf"
			if got := strings.Join(keys, ","); got != want {
				t.Fatalf("keys mismatch: %s", got)
			}

			if err := store.Clear(ctx); err != nil {
				t.Fatalf("clear error: %v", err)
			}
			keys, err = store.Keys(ctx)
			if err != nil {
				t.Fatalf("keys after clear: %v", err)
			}
			if len(keys) != 0 {
				t.Fatalf("expected empty store after clear, got %v", keys)
			}

			// 句柄在 Clear 之后仍然可用，且不影响其它 Store。
			if err := store.Put(ctx, Entry{Key: "/after", Body: []byte("x")}); err != nil {
				t.Fatalf("put after clear: %v", err)
			}
			if _, err := other.Get(ctx, "/index.html"); err != nil {
				t.Fatalf("clear leaked into another store: %v", err)
			}
		})
	}
}

func TestStoreRejectsEmptyKey(t *testing.T) {
	for name, provider := range testProviders(t) {
		t.Run(name, func(t *testing.T) {
			store := openTestStore(t, provider, "app-cache")
			if err := store.Put(context.Background(), Entry{}); err != ErrKeyRequired {
				t.Fatalf("expected ErrKeyRequired, got %v", err)
			}
		})
	}
}

func TestFSStoreCompressesLargeEntries(t *testing.T) {
	provider, err := NewFSProvider(t.TempDir(), FSOptions{Compress: true, CompressionLevel: 2})
	if err != nil {
		t.Fatalf("provider error: %v", err)
	}
	t.Cleanup(func() { provider.Close() })
	store := openTestStore(t, provider, "app-cache")

	payload := bytes.Repeat([]byte("flutter "), 2048)
	if err := store.Put(context.Background(), Entry{Key: "/main.dart.js", Body: payload}); err != nil {
		t.Fatalf("put error: %v", err)
	}

	fileStore := store.(*fileStore)
	filePath, err := fileStore.entryPath("/main.dart.js")
	if err != nil {
		t.Fatalf("path error: %v", err)
	}
	raw, err := os.ReadFile(filePath)
	if err != nil {
		t.Fatalf("read raw entry: %v", err)
	}
	if !bytes.HasPrefix(raw, zstdMagic) {
		t.Fatalf("expected zstd frame on disk")
	}
	if len(raw) >= len(payload) {
		t.Fatalf("expected compressed file smaller than payload: %d >= %d", len(raw), len(payload))
	}

	got, err := store.Get(context.Background(), "/main.dart.js")
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if !bytes.Equal(got.Body, payload) {
		t.Fatalf("decompressed payload mismatch")
	}
}

func TestFSStoreIgnoresDirectories(t *testing.T) {
	provider := newFSTestProvider(t)
	store := openTestStore(t, provider, "app-cache")

	fileStore, ok := store.(*fileStore)
	if !ok {
		t.Fatalf("unexpected store type %T", store)
	}

	filePath, err := fileStore.entryPath("/assets")
	if err != nil {
		t.Fatalf("path error: %v", err)
	}
	if err := os.MkdirAll(filePath, 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}

	if _, err := store.Get(context.Background(), "/assets"); err == nil || err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for directory, got %v", err)
	}
	keys, err := store.Keys(context.Background())
	if err != nil {
		t.Fatalf("keys error: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("directories must not be listed as keys: %v", keys)
	}
}

func TestFSStoreLongKeyRoundTrip(t *testing.T) {
	store := openTestStore(t, newFSTestProvider(t), "app-cache")
	ctx := context.Background()
	long := "/assets/" + strings.Repeat("a", 400) + ".js?v=3"
	short := "/index.html"

	for _, key := range []string{long, short} {
		if err := store.Put(ctx, Entry{Key: key, Status: 200, Body: []byte(key)}); err != nil {
			t.Fatalf("put %q: %v", key, err)
		}
	}
	got, err := store.Get(ctx, long)
	if err != nil {
		t.Fatalf("long key should be cached: %v", err)
	}
	if got.Key != long || string(got.Body) != long {
		t.Fatalf("unexpected entry: %q", got.Key)
	}

	keys, err := store.Keys(ctx)
	if err != nil {
		t.Fatalf("keys error: %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != long || keys[1] != short {
		t.Fatalf("keys should include the long identity: %v", keys)
	}

	if err := store.Delete(ctx, long); err != nil {
		t.Fatalf("delete error: %v", err)
	}
	if _, err := store.Get(ctx, long); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestProviderRejectsInvalidStoreName(t *testing.T) {
	for name, provider := range testProviders(t) {
		t.Run(name, func(t *testing.T) {
			for _, bad := range []string{"", "..", "a/b"} {
				if _, err := provider.Open(context.Background(), bad); err == nil {
					t.Fatalf("expected error for store name %q", bad)
				}
			}
		})
	}
}

func testProviders(t *testing.T) map[string]Provider {
	t.Helper()
	providers := map[string]Provider{
		"fs":     newFSTestProvider(t),
		"memory": NewMemoryProvider(),
	}
	if redis := newRedisTestProvider(t); redis != nil {
		providers["redis"] = redis
	}
	return providers
}

// newFSTestProvider returns a Provider backed by a temporary directory.
func newFSTestProvider(t *testing.T) Provider {
	t.Helper()
	provider, err := NewFSProvider(t.TempDir(), FSOptions{})
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	t.Cleanup(func() { provider.Close() })
	return provider
}

func openTestStore(t *testing.T, provider Provider, name string) Store {
	t.Helper()
	store, err := provider.Open(context.Background(), name)
	if err != nil {
		t.Fatalf("open store %s: %v", name, err)
	}
	return store
}
