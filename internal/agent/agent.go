// Package agent coordinates the cache lifecycle: it installs the core set of a
// freshly loaded manifest table into the staging cache, activates it through
// the reconciler, and exposes the active manifest to the request router.
// Every lifecycle signal can be dispatched as a Task and awaited.
package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/sync/singleflight"

	"github.com/any-hub/shell-cache/internal/cache"
	"github.com/any-hub/shell-cache/internal/fetch"
	"github.com/any-hub/shell-cache/internal/logging"
	"github.com/any-hub/shell-cache/internal/manifest"
	"github.com/any-hub/shell-cache/internal/reconcile"
	"github.com/any-hub/shell-cache/internal/router"
)

// ErrNotInstalled 表示激活前没有已安装、等待激活的 Manifest。
var ErrNotInstalled = errors.New("no installed manifest waiting for activation")

// State 描述 Agent 当前所处的生命周期阶段。
type State string

const (
	StateNew        State = "new"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateFailed     State = "failed"
)

// Reconciler 抽象对账能力，便于测试注入。
type Reconciler interface {
	Reconcile(ctx context.Context, old, next *manifest.Manifest) (reconcile.Result, error)
}

// TableLoader 读取构建产出的资源表。
type TableLoader func() (*manifest.Table, error)

// Options 汇总 Agent 依赖；Reconciler 为空时基于三个 Store 自动构建。
type Options struct {
	Origin              string
	Content             cache.Store
	Staging             cache.Store
	Snapshots           *manifest.Snapshots
	Reconciler          Reconciler
	Fetcher             fetch.Fetcher
	Logger              *logrus.Logger
	LoadTable           TableLoader
	AutoActivate        bool
	DownloadConcurrency int
}

// Status 是对外暴露的生命周期快照。
type Status struct {
	State            State  `json:"state"`
	ActiveResources  int    `json:"active_resources"`
	PendingResources int    `json:"pending_resources"`
	CoreResources    int    `json:"core_resources"`
	AutoActivate     bool   `json:"auto_activate"`
	LastError        string `json:"last_error,omitempty"`
	UpdatedAt        string `json:"updated_at,omitempty"`
}

// Agent 持有生效 Manifest，并串行化 install 与 activate。
type Agent struct {
	staging     cache.Store
	snapshots   *manifest.Snapshots
	reconciler  Reconciler
	fetcher     fetch.Fetcher
	router      *router.Router
	logger      *logrus.Logger
	loadTable   TableLoader
	auto        bool
	concurrency int

	active    atomic.Pointer[manifest.Manifest]
	lifecycle sync.Mutex
	activate  singleflight.Group

	mu        sync.Mutex
	state     State
	pending   *manifest.Table
	lastErr   error
	updatedAt time.Time
}

// New 校验依赖并构造 Agent 及其 Router。
func New(opts Options) (*Agent, error) {
	switch {
	case opts.Content == nil || opts.Staging == nil:
		return nil, errors.New("content and staging caches are required")
	case opts.Snapshots == nil:
		return nil, errors.New("manifest snapshots are required")
	case opts.Fetcher == nil:
		return nil, errors.New("fetcher is required")
	case opts.Logger == nil:
		return nil, errors.New("logger is required")
	case opts.LoadTable == nil:
		return nil, errors.New("manifest table loader is required")
	}
	if opts.Reconciler == nil {
		opts.Reconciler = reconcile.New(opts.Content, opts.Staging, opts.Snapshots, opts.Logger)
	}
	if opts.DownloadConcurrency <= 0 {
		opts.DownloadConcurrency = 1
	}

	a := &Agent{
		staging:     opts.Staging,
		snapshots:   opts.Snapshots,
		reconciler:  opts.Reconciler,
		fetcher:     opts.Fetcher,
		logger:      opts.Logger,
		loadTable:   opts.LoadTable,
		auto:        opts.AutoActivate,
		concurrency: opts.DownloadConcurrency,
		state:       StateNew,
	}
	r, err := router.New(router.Options{
		Origin:    opts.Origin,
		Manifests: a,
		Content:   opts.Content,
		Fetcher:   opts.Fetcher,
		Logger:    opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	a.router = r
	return a, nil
}

// Active 返回当前生效的 Manifest，尚未激活时为 nil。
func (a *Agent) Active() *manifest.Manifest {
	return a.active.Load()
}

// Router 返回绑定到该 Agent 的请求路由器。
func (a *Agent) Router() *router.Router {
	return a.router
}

// Status 返回生命周期快照。
func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	status := Status{State: a.state, AutoActivate: a.auto}
	if active := a.Active(); active != nil {
		status.ActiveResources = active.Len()
	}
	if a.pending != nil {
		status.PendingResources = a.pending.Manifest.Len()
		status.CoreResources = len(a.pending.Core)
	}
	if a.lastErr != nil {
		status.LastError = a.lastErr.Error()
	}
	if !a.updatedAt.IsZero() {
		status.UpdatedAt = a.updatedAt.UTC().Format(time.RFC3339Nano)
	}
	return status
}

// Restore 将持久化的快照恢复为生效 Manifest，使离线启动时仍可从缓存提供服务。
func (a *Agent) Restore(ctx context.Context) error {
	m, err := a.snapshots.Load(ctx)
	if err != nil {
		return err
	}
	if m == nil {
		return nil
	}
	a.active.Store(m)
	a.setState(StateActivated, nil)
	a.logger.WithFields(logging.LifecycleFields("restore", m.Len())).Info("manifest_restored")
	return nil
}

// Install 读取资源表并以强制刷新方式抓取全部核心文件。
// 任何一个核心文件失败都会放弃整个安装，暂存区被清空，生效 Manifest 保持不变。
func (a *Agent) Install(ctx context.Context) error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	table, err := a.loadTable()
	if err == nil {
		err = table.Validate()
	}
	if err != nil {
		err = fmt.Errorf("load manifest table: %w", err)
		a.fail("install", err)
		return err
	}
	a.setState(StateInstalling, nil)

	started := time.Now()
	entries, err := a.fetchCore(ctx, table.Core)
	if err == nil {
		err = a.stage(ctx, entries)
	}
	if err != nil {
		if clearErr := a.staging.Clear(context.WithoutCancel(ctx)); clearErr != nil {
			err = errors.Join(err, fmt.Errorf("drop staging cache: %w", clearErr))
		}
		a.mu.Lock()
		a.pending = nil
		a.mu.Unlock()
		a.fail("install", err)
		return err
	}

	a.mu.Lock()
	a.pending = table
	a.mu.Unlock()
	a.setState(StateInstalled, nil)

	fields := logging.LifecycleFields("install", table.Manifest.Len())
	fields["core"] = len(table.Core)
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	a.logger.WithFields(fields).Info("install_complete")
	return nil
}

func (a *Agent) fetchCore(ctx context.Context, core []string) ([]cache.Entry, error) {
	entries := make([]cache.Entry, len(core))
	if len(core) == 0 {
		return entries, nil
	}
	now := time.Now()
	p := pool.New().WithMaxGoroutines(a.concurrency).WithContext(ctx).WithCancelOnError()
	for i, key := range core {
		p.Go(func(ctx context.Context) error {
			resp, err := a.fetcher.Fetch(ctx, fetch.Request{Method: http.MethodGet, Identity: key, Reload: true})
			if err != nil {
				return fmt.Errorf("fetch core %s: %w", key, err)
			}
			if !resp.OK() {
				return fmt.Errorf("fetch core %s: %w (status %d)", key, fetch.ErrBadStatus, resp.Status)
			}
			// 每个 goroutine 只写自己的槽位
			entries[i] = router.EntryFromResponse(key, resp, now)
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

// stage 先清空旧的暂存内容，再写入本次安装的核心文件。
func (a *Agent) stage(ctx context.Context, entries []cache.Entry) error {
	if err := a.staging.Clear(ctx); err != nil {
		return fmt.Errorf("drop staging cache: %w", err)
	}
	for _, entry := range entries {
		if err := a.staging.Put(ctx, entry); err != nil {
			return fmt.Errorf("stage %s: %w", entry.Key, err)
		}
	}
	return nil
}

// Activate 对已安装的 Manifest 执行一次对账；并发调用共享同一次运行的结果。
func (a *Agent) Activate(ctx context.Context) error {
	ch := a.activate.DoChan("activate", func() (any, error) {
		return nil, a.runActivate(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SkipWaiting 立即激活等待中的 Manifest。
func (a *Agent) SkipWaiting(ctx context.Context) error {
	a.logger.WithFields(logging.LifecycleFields("skip_waiting", 0)).Info("skip_waiting_received")
	return a.Activate(ctx)
}

func (a *Agent) runActivate(ctx context.Context) error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	a.mu.Lock()
	table := a.pending
	a.mu.Unlock()
	if table == nil {
		return ErrNotInstalled
	}
	a.setState(StateActivating, nil)

	old, err := a.snapshots.Load(ctx)
	if err != nil {
		// 快照不可读时按首次运行处理，执行完整重建。
		a.logger.WithError(err).WithFields(logging.LifecycleFields("activate", table.Manifest.Len())).
			Warn("snapshot_unreadable")
		old = nil
	}

	result, err := a.reconciler.Reconcile(ctx, old, table.Manifest)
	if err != nil {
		if errors.Is(err, reconcile.ErrReconcileInProgress) {
			a.setState(StateInstalled, err)
			return err
		}
		// 对账失败后三个 Store 已被清空，所有请求直通直到下一次激活。
		a.active.Store(nil)
		a.mu.Lock()
		a.pending = nil
		a.mu.Unlock()
		a.fail("activate", err)
		return err
	}

	a.active.Store(result.Manifest)
	a.mu.Lock()
	a.pending = nil
	a.mu.Unlock()
	a.setState(StateActivated, nil)

	fields := logging.LifecycleFields("activate", result.Manifest.Len())
	fields["full_rebuild"] = result.FullRebuild
	a.logger.WithFields(fields).Info("activate_complete")
	return nil
}

// DownloadOffline 抓取生效 Manifest 中尚未缓存的全部资源。
func (a *Agent) DownloadOffline(ctx context.Context) (router.DownloadReport, error) {
	return a.router.DownloadAll(ctx, a.concurrency)
}

// Reload 重新读取资源表并安装，AutoActivate 时紧接着激活。
func (a *Agent) Reload(ctx context.Context) error {
	if err := a.Install(ctx); err != nil {
		return err
	}
	if !a.auto {
		return nil
	}
	return a.Activate(ctx)
}

// Start 派发启动任务：恢复快照、安装并在 AutoActivate 时激活。
// 快照恢复失败只记录日志，安装仍会继续。
func (a *Agent) Start(ctx context.Context) *Task {
	return a.Dispatch(ctx, "start", func(ctx context.Context) error {
		if err := a.Restore(ctx); err != nil {
			a.logger.WithError(err).WithFields(logging.LifecycleFields("restore", 0)).Warn("manifest_restore_failed")
		}
		return a.Reload(ctx)
	})
}

// Dispatch 在独立 goroutine 中执行 fn，并返回可等待的 Task。
func (a *Agent) Dispatch(ctx context.Context, name string, fn func(context.Context) error) *Task {
	task := newTask(name)
	go func() {
		task.finish(fn(ctx))
	}()
	return task
}

func (a *Agent) setState(state State, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = state
	a.lastErr = err
	a.updatedAt = time.Now()
}

func (a *Agent) fail(action string, err error) {
	a.setState(StateFailed, err)
	fields := logging.LifecycleFields(action, 0)
	fields["error"] = err.Error()
	a.logger.WithFields(fields).Error(action + "_failed")
}
