// Package reconcile brings the content cache in line with a newly published
// manifest. Entries survive only when the new manifest still wants the exact
// content the old manifest recorded; staged core files always overwrite.
// Any failure wipes the content, staging and manifest stores so the next
// activation performs a full rebuild.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/shell-cache/internal/cache"
	"github.com/any-hub/shell-cache/internal/logging"
	"github.com/any-hub/shell-cache/internal/manifest"
)

// ErrReconcileInProgress 表示已有一次对账正在执行。
var ErrReconcileInProgress = errors.New("reconcile already in progress")

// Result 汇总一次对账的结果。
type Result struct {
	Manifest    *manifest.Manifest
	FullRebuild bool
	Evicted     int
	Kept        int
	Copied      int
}

// Reconciler 持有三个 Store 句柄；同一时间只允许一次运行。
type Reconciler struct {
	content   cache.Store
	staging   cache.Store
	snapshots *manifest.Snapshots
	logger    *logrus.Logger

	running atomic.Bool
}

// New 构造 Reconciler，所有依赖均由调用方注入。
func New(content, staging cache.Store, snapshots *manifest.Snapshots, logger *logrus.Logger) *Reconciler {
	return &Reconciler{
		content:   content,
		staging:   staging,
		snapshots: snapshots,
		logger:    logger,
	}
}

// Reconcile 将内容缓存从 old 迁移到 next 并发布 next。old 为 nil 表示首次运行。
// 失败时三个 Store 全部清空，返回的 error 描述原始失败原因。
func (r *Reconciler) Reconcile(ctx context.Context, old, next *manifest.Manifest) (Result, error) {
	if next == nil {
		return Result{}, errors.New("new manifest is required")
	}
	if !r.running.CompareAndSwap(false, true) {
		return Result{}, ErrReconcileInProgress
	}
	defer r.running.Store(false)

	started := time.Now()
	result, err := r.run(ctx, old, next)
	if err != nil {
		r.reset(ctx, err)
		return Result{}, err
	}

	fields := logging.LifecycleFields("reconcile", next.Len())
	fields["full_rebuild"] = result.FullRebuild
	fields["evicted"] = result.Evicted
	fields["kept"] = result.Kept
	fields["copied"] = result.Copied
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	r.logger.WithFields(fields).Info("reconcile_complete")
	return result, nil
}

func (r *Reconciler) run(ctx context.Context, old, next *manifest.Manifest) (Result, error) {
	result := Result{Manifest: next, FullRebuild: old == nil}

	if old == nil {
		if err := r.content.Clear(ctx); err != nil {
			return result, fmt.Errorf("clear content cache: %w", err)
		}
	} else {
		evicted, kept, err := r.evictStale(ctx, old, next)
		if err != nil {
			return result, err
		}
		result.Evicted, result.Kept = evicted, kept
	}

	copied, err := r.mergeStaged(ctx)
	if err != nil {
		return result, err
	}
	result.Copied = copied

	if err := r.staging.Clear(ctx); err != nil {
		return result, fmt.Errorf("clear staging cache: %w", err)
	}
	if err := r.snapshots.Save(ctx, next); err != nil {
		return result, err
	}
	return result, nil
}

// evictStale 删除 next 中不存在、或指纹与 old 记录不一致的条目。
// 比较的是 old 中记录的指纹而不是重新计算的哈希。
func (r *Reconciler) evictStale(ctx context.Context, old, next *manifest.Manifest) (int, int, error) {
	keys, err := r.content.Keys(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("list content cache: %w", err)
	}

	evicted, kept := 0, 0
	for _, identity := range keys {
		key := manifest.LogicalKey(identity)
		want, inNext := next.Fingerprint(key)
		had, inOld := old.Fingerprint(key)
		if inNext && inOld && want == had {
			kept++
			continue
		}
		if err := r.content.Delete(ctx, identity); err != nil {
			return evicted, kept, fmt.Errorf("evict %s: %w", identity, err)
		}
		evicted++
	}
	return evicted, kept, nil
}

// mergeStaged 将暂存区全部条目复制到内容缓存，覆盖同键的保留条目。
func (r *Reconciler) mergeStaged(ctx context.Context) (int, error) {
	keys, err := r.staging.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("list staging cache: %w", err)
	}
	for i, key := range keys {
		entry, err := r.staging.Get(ctx, key)
		if err != nil {
			return i, fmt.Errorf("read staged %s: %w", key, err)
		}
		if err := r.content.Put(ctx, *entry); err != nil {
			return i, fmt.Errorf("copy staged %s: %w", key, err)
		}
	}
	return len(keys), nil
}

// reset 在失败后清空全部 Store，使下一次激活执行完整重建。
// 使用脱离取消的 context，确保调用方放弃请求时清理仍会完成。
func (r *Reconciler) reset(ctx context.Context, cause error) {
	ctx = context.WithoutCancel(ctx)
	errs := []error{
		r.content.Clear(ctx),
		r.staging.Clear(ctx),
		r.snapshots.Clear(ctx),
	}
	fields := logging.LifecycleFields("reconcile_reset", 0)
	fields["error"] = cause.Error()
	if err := errors.Join(errs...); err != nil {
		fields["reset_error"] = err.Error()
	}
	r.logger.WithFields(fields).Error("reconcile_failed")
}
