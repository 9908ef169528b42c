// Package fetch is the network side of the cache: it turns origin-relative
// request descriptors into live HTTP requests against the application origin
// and buffers the responses so they can be both returned and cached.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Request 描述一次回源请求；Identity 为 origin 相对的 RequestURI。
type Request struct {
	Method   string
	Identity string
	Header   http.Header
	Body     []byte
	// Reload 对应强制刷新：绕过中间缓存直接取最新内容。
	Reload bool
}

// Response 是完整缓冲后的上游响应。
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// OK 表示 2xx 成功状态。
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

// Fetcher 是回源能力的抽象，仅在网络层失败时返回 error。
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*Response, error)
}

// ErrBadStatus 表示上游返回了非 2xx 状态，由需要成功状态的调用方包装使用。
var ErrBadStatus = errors.New("upstream returned non-success status")

// HTTPFetcher 通过共享 http.Client 访问 origin。
type HTTPFetcher struct {
	client *http.Client
	origin *url.URL
}

// NewHTTPFetcher 解析 origin 并构造 Fetcher。
func NewHTTPFetcher(client *http.Client, origin string) (*HTTPFetcher, error) {
	if client == nil {
		return nil, errors.New("http client is required")
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("invalid origin: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("origin must be absolute: %s", origin)
	}
	return &HTTPFetcher{client: client, origin: parsed}, nil
}

// Origin 返回规范化后的 origin 字符串（不含结尾斜杠）。
func (f *HTTPFetcher) Origin() string {
	return strings.TrimSuffix(f.origin.String(), "/")
}

func (f *HTTPFetcher) Fetch(ctx context.Context, req Request) (*Response, error) {
	target, err := f.resolve(req.Identity)
	if err != nil {
		return nil, err
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader = http.NoBody
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, err
	}
	if req.Header != nil {
		CopyHeaders(httpReq.Header, req.Header)
	}
	httpReq.Header.Del("Host")
	// 交给 Transport 透明解压，缓存中只保存明文正文。
	httpReq.Header.Del("Accept-Encoding")
	httpReq.Host = target.Host
	if req.Reload {
		httpReq.Header.Set("Cache-Control", "no-cache")
		httpReq.Header.Set("Pragma", "no-cache")
		httpReq.Header.Del("If-None-Match")
		httpReq.Header.Del("If-Modified-Since")
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}

	header := http.Header{}
	CopyHeaders(header, resp.Header)
	return &Response{Status: resp.StatusCode, Header: header, Body: payload}, nil
}

func (f *HTTPFetcher) resolve(identity string) (*url.URL, error) {
	if identity == "" {
		identity = "/"
	}
	ref, err := url.Parse(identity)
	if err != nil {
		return nil, fmt.Errorf("invalid request identity %q: %w", identity, err)
	}
	if ref.IsAbs() {
		return nil, fmt.Errorf("request identity must be origin-relative: %s", identity)
	}
	rel, rawRel := ref.Path, ref.EscapedPath()
	if !strings.HasPrefix(rel, "/") {
		rel, rawRel = "/"+rel, "/"+rawRel
	}
	// origin 可以带路径前缀（例如部署在 /app 下）；转义形式单独拼接，保留 %2F 等编码。
	target := *f.origin
	target.Path = strings.TrimSuffix(f.origin.Path, "/") + rel
	target.RawPath = strings.TrimSuffix(f.origin.EscapedPath(), "/") + rawRel
	target.RawQuery = ref.RawQuery
	target.Fragment = ""
	return &target, nil
}
