package proxy

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/shell-cache/internal/fetch"
	"github.com/any-hub/shell-cache/internal/logging"
	"github.com/any-hub/shell-cache/internal/router"
	"github.com/any-hub/shell-cache/internal/server"
)

// Response headers describing how a request was served.
const (
	HeaderPolicy   = "X-Shell-Cache-Policy"
	HeaderCacheHit = "X-Shell-Cache-Hit"
)

// Router 抽象请求路由决策，便于测试注入。
type Router interface {
	Route(ctx context.Context, req fetch.Request) (*router.Outcome, error)
}

// Handler 将 Fiber 请求转换为路由请求：命中策略的请求由 Router 处理，
// 直通请求原样回源，结果统一写回客户端并输出结构化日志。
type Handler struct {
	router  Router
	fetcher fetch.Fetcher
	logger  *logrus.Logger
}

// NewHandler constructs a proxy handler around the router and the origin fetcher.
func NewHandler(r Router, fetcher fetch.Fetcher, logger *logrus.Logger) (*Handler, error) {
	switch {
	case r == nil:
		return nil, errors.New("router is required")
	case fetcher == nil:
		return nil, errors.New("fetcher is required")
	case logger == nil:
		return nil, errors.New("logger is required")
	}
	return &Handler{router: r, fetcher: fetcher, logger: logger}, nil
}

// Handle 执行路由、必要时直通回源，并写回响应；回源失败返回 502。
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := server.RequestID(c)

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	req := fetch.Request{
		Method:   c.Method(),
		Identity: string(c.Request().RequestURI()),
		Header:   fiberHeadersAsHTTP(c),
		Body:     append([]byte(nil), c.Body()...),
	}

	outcome, err := h.router.Route(ctx, req)
	if err != nil {
		h.logResult(req, nil, requestID, 0, started, err)
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}

	resp := outcome.Response
	if outcome.Passthrough {
		req.Identity = outcome.Identity
		resp, err = h.fetcher.Fetch(ctx, req)
		if err != nil {
			h.logResult(req, outcome, requestID, 0, started, err)
			return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
		}
	}

	copyResponseHeaders(c, resp.Header)
	c.Set(HeaderPolicy, string(outcome.Policy))
	c.Set(HeaderCacheHit, strconv.FormatBool(outcome.CacheHit))
	c.Status(resp.Status)
	h.logResult(req, outcome, requestID, resp.Status, started, nil)
	if req.Method == http.MethodHead {
		return nil
	}
	return c.Send(resp.Body)
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	req fetch.Request,
	outcome *router.Outcome,
	requestID string,
	status int,
	started time.Time,
	err error,
) {
	var key, policy string
	var cacheHit bool
	if outcome != nil {
		key, policy, cacheHit = outcome.Key, string(outcome.Policy), outcome.CacheHit
	}
	fields := logging.RequestFields(req.Method, req.Identity, key, policy, cacheHit)
	fields["action"] = "proxy"
	fields["upstream_status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

// copyResponseHeaders 跳过 hop-by-hop 头与 Content-Length，长度由 Fiber 按实际 body 计算。
func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if fetch.IsHopByHopHeader(key) || http.CanonicalHeaderKey(key) == fiber.HeaderContentLength {
			continue
		}
		for _, value := range values {
			c.Response().Header.Add(key, value)
		}
	}
}
