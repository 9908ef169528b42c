// Package router decides, per intercepted request, whether to pass it through
// to the origin, serve it cache-first, or serve it online-first, and performs
// the bulk offline download of every manifest resource missing from the cache.
package router

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/shell-cache/internal/cache"
	"github.com/any-hub/shell-cache/internal/fetch"
	"github.com/any-hub/shell-cache/internal/logging"
	"github.com/any-hub/shell-cache/internal/manifest"
)

// Policy 标识一次请求采用的服务策略。
type Policy string

const (
	PolicyPassthrough Policy = "passthrough"
	PolicyCacheFirst  Policy = "cache-first"
	PolicyOnlineFirst Policy = "online-first"
)

// ManifestSource 提供当前生效的 Manifest；尚未激活时返回 nil。
type ManifestSource interface {
	Active() *manifest.Manifest
}

// Outcome 描述路由结果。Passthrough 为 true 时 Response 为空，调用方应原样转发。
type Outcome struct {
	Policy      Policy
	Key         string
	Identity    string
	Response    *fetch.Response
	CacheHit    bool
	Passthrough bool
}

// Router 基于生效 Manifest 与内容缓存处理请求。
type Router struct {
	origin    string
	manifests ManifestSource
	content   cache.Store
	fetcher   fetch.Fetcher
	logger    *logrus.Logger
	now       func() time.Time
}

// Options 汇总 Router 的依赖。
type Options struct {
	Origin    string
	Manifests ManifestSource
	Content   cache.Store
	Fetcher   fetch.Fetcher
	Logger    *logrus.Logger
}

// New 构造 Router。
func New(opts Options) (*Router, error) {
	switch {
	case opts.Manifests == nil:
		return nil, errors.New("manifest source is required")
	case opts.Content == nil:
		return nil, errors.New("content cache is required")
	case opts.Fetcher == nil:
		return nil, errors.New("fetcher is required")
	case opts.Logger == nil:
		return nil, errors.New("logger is required")
	}
	return &Router{
		origin:    opts.Origin,
		manifests: opts.Manifests,
		content:   opts.Content,
		fetcher:   opts.Fetcher,
		logger:    opts.Logger,
		now:       time.Now,
	}, nil
}

// Route 对被拦截的请求执行路由策略。
func (r *Router) Route(ctx context.Context, req fetch.Request) (*Outcome, error) {
	identity := manifest.Identity(r.origin, req.Identity)
	req.Identity = identity
	if req.Method != http.MethodGet {
		return &Outcome{Policy: PolicyPassthrough, Identity: identity, Passthrough: true}, nil
	}

	key := manifest.RequestKey(r.origin, identity)
	active := r.manifests.Active()
	if !active.Has(key) {
		return &Outcome{Policy: PolicyPassthrough, Key: key, Identity: identity, Passthrough: true}, nil
	}

	if key == manifest.RootKey {
		return r.onlineFirst(ctx, key, req)
	}
	return r.cacheFirst(ctx, key, req)
}

// OnlineFirst 先回源，失败时回退到该请求标识的缓存副本。
func (r *Router) OnlineFirst(ctx context.Context, req fetch.Request) (*Outcome, error) {
	req.Identity = manifest.Identity(r.origin, req.Identity)
	return r.onlineFirst(ctx, manifest.RequestKey(r.origin, req.Identity), req)
}

func (r *Router) onlineFirst(ctx context.Context, key string, req fetch.Request) (*Outcome, error) {
	outcome := &Outcome{Policy: PolicyOnlineFirst, Key: key, Identity: req.Identity}

	resp, fetchErr := r.fetcher.Fetch(ctx, req)
	if fetchErr == nil {
		if resp.OK() {
			r.store(ctx, req.Identity, resp)
		}
		outcome.Response = resp
		return outcome, nil
	}

	cached, err := r.lookup(ctx, req.Identity)
	if err != nil || cached == nil {
		return nil, fetchErr
	}
	r.logger.WithFields(logging.RequestFields(req.Method, req.Identity, key, string(PolicyOnlineFirst), true)).
		WithError(fetchErr).
		Warn("online_first_fallback")
	outcome.Response = cached
	outcome.CacheHit = true
	return outcome, nil
}

func (r *Router) cacheFirst(ctx context.Context, key string, req fetch.Request) (*Outcome, error) {
	outcome := &Outcome{Policy: PolicyCacheFirst, Key: key, Identity: req.Identity}

	cached, err := r.lookup(ctx, req.Identity)
	if err == nil && cached != nil {
		outcome.Response = cached
		outcome.CacheHit = true
		return outcome, nil
	}

	resp, err := r.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.OK() {
		r.store(ctx, req.Identity, resp)
	}
	outcome.Response = resp
	return outcome, nil
}

// lookup 返回缓存命中；未命中返回 (nil, nil)，存储故障按未命中处理并记录日志。
func (r *Router) lookup(ctx context.Context, identity string) (*fetch.Response, error) {
	entry, err := r.content.Get(ctx, identity)
	switch {
	case err == nil:
		return responseFromEntry(entry), nil
	case errors.Is(err, cache.ErrNotFound):
		return nil, nil
	default:
		r.logger.WithError(err).WithFields(logrus.Fields{"action": "cache_get", "identity": identity}).
			Warn("cache_get_failed")
		return nil, err
	}
}

// store 写入失败不影响本次响应，仅记录日志。
func (r *Router) store(ctx context.Context, identity string, resp *fetch.Response) {
	if err := r.content.Put(ctx, EntryFromResponse(identity, resp, r.now())); err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{"action": "cache_put", "identity": identity}).
			Warn("cache_put_failed")
	}
}

// EntryFromResponse 将上游响应复制为以 identity 为键的缓存条目。
func EntryFromResponse(identity string, resp *fetch.Response, now time.Time) cache.Entry {
	header := make(map[string][]string, len(resp.Header))
	for key, values := range resp.Header {
		header[key] = append([]string(nil), values...)
	}
	return cache.Entry{
		Key:      identity,
		Status:   resp.Status,
		Header:   header,
		Body:     append([]byte(nil), resp.Body...),
		StoredAt: now.UTC(),
	}
}

func responseFromEntry(entry *cache.Entry) *fetch.Response {
	status := entry.Status
	if status == 0 {
		status = http.StatusOK
	}
	return &fetch.Response{
		Status: status,
		Header: entry.HTTPHeader(),
		Body:   entry.Body,
	}
}
