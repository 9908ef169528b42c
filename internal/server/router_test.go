package server

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
)

func TestRouterForwardsRequestToProxy(t *testing.T) {
	app, recorder := newTestApp(t)

	req := httptest.NewRequest("GET", "http://quiz.local/main.dart.js?v=2", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 204 status, got %d (body=%s)", resp.StatusCode, string(body))
	}
	if recorder.uri != "/main.dart.js?v=2" {
		t.Fatalf("proxy saw unexpected uri %q", recorder.uri)
	}
	reqID := resp.Header.Get("X-Request-ID")
	if reqID == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
	if recorder.requestID != reqID {
		t.Fatalf("request id mismatch: %s vs %s", recorder.requestID, reqID)
	}
}

func TestRouterSkipsProxyForDiagnostics(t *testing.T) {
	app, recorder := newTestApp(t)
	app.Get("/-/ping", func(c fiber.Ctx) error {
		return c.SendString("pong")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/-/ping", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != fiber.StatusOK || string(body) != "pong" {
		t.Fatalf("unexpected diagnostics response: %d %s", resp.StatusCode, string(body))
	}
	if recorder.calls != 0 {
		t.Fatalf("diagnostics path must not reach the proxy")
	}
}

func TestRouterRecoversFromPanic(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	app, err := NewApp(AppOptions{
		Logger:     logger,
		ListenPort: 5000,
		Proxy: ProxyHandlerFunc(func(c fiber.Ctx) error {
			panic("boom")
		}),
	})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}
	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("expected 500 after panic, got %d", resp.StatusCode)
	}
}

func TestNewAppValidatesOptions(t *testing.T) {
	logger := logrus.New()
	proxy := ProxyHandlerFunc(func(c fiber.Ctx) error { return nil })
	cases := []struct {
		name string
		opts AppOptions
	}{
		{"missing logger", AppOptions{Proxy: proxy, ListenPort: 5000}},
		{"missing proxy", AppOptions{Logger: logger, ListenPort: 5000}},
		{"invalid port", AppOptions{Logger: logger, Proxy: proxy}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewApp(tc.opts); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

type proxyRecorder struct {
	calls     int
	uri       string
	requestID string
}

func newTestApp(t *testing.T) (*fiber.App, *proxyRecorder) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	recorder := &proxyRecorder{}
	app, err := NewApp(AppOptions{
		Logger:     logger,
		ListenPort: 5000,
		Proxy: ProxyHandlerFunc(func(c fiber.Ctx) error {
			recorder.calls++
			recorder.uri = string(c.Request().RequestURI())
			recorder.requestID = RequestID(c)
			return c.SendStatus(fiber.StatusNoContent)
		}),
	})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}
	return app, recorder
}
