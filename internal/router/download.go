package router

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"github.com/any-hub/shell-cache/internal/fetch"
	"github.com/any-hub/shell-cache/internal/logging"
	"github.com/any-hub/shell-cache/internal/manifest"
)

// ErrNoActiveManifest 表示尚未激活任何 Manifest。
var ErrNoActiveManifest = errors.New("no active manifest")

// DownloadReport 汇总一次离线下载：缺失的键、成功写入的键与失败的键。
type DownloadReport struct {
	Missing []string `json:"missing"`
	Stored  []string `json:"stored"`
	Failed  []string `json:"failed"`
}

// DownloadAll 抓取生效 Manifest 中所有尚未缓存的资源。
// 采用 best-effort 语义：每个成功的资源独立写入，所有失败汇总为一个 error 返回。
func (r *Router) DownloadAll(ctx context.Context, concurrency int) (DownloadReport, error) {
	active := r.manifests.Active()
	if active == nil {
		return DownloadReport{}, ErrNoActiveManifest
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	identities, err := r.content.Keys(ctx)
	if err != nil {
		return DownloadReport{}, fmt.Errorf("list content cache: %w", err)
	}
	present := make(map[string]struct{}, len(identities))
	for _, identity := range identities {
		present[manifest.LogicalKey(identity)] = struct{}{}
	}

	report := DownloadReport{Missing: []string{}, Stored: []string{}, Failed: []string{}}
	for _, key := range active.Keys() {
		if _, ok := present[key]; !ok {
			report.Missing = append(report.Missing, key)
		}
	}
	if len(report.Missing) == 0 {
		return report, nil
	}

	var mu sync.Mutex
	p := pool.New().WithMaxGoroutines(concurrency).WithContext(ctx)
	for _, key := range report.Missing {
		p.Go(func(ctx context.Context) error {
			err := r.downloadOne(ctx, key)
			mu.Lock()
			if err != nil {
				report.Failed = append(report.Failed, key)
			} else {
				report.Stored = append(report.Stored, key)
			}
			mu.Unlock()
			return err
		})
	}
	err = p.Wait()
	sort.Strings(report.Stored)
	sort.Strings(report.Failed)

	fields := logging.LifecycleFields("download_offline", active.Len())
	fields["missing"] = len(report.Missing)
	fields["stored"] = len(report.Stored)
	fields["failed"] = len(report.Failed)
	if err != nil {
		fields["error"] = err.Error()
		r.logger.WithFields(fields).Warn("download_offline_partial")
		return report, err
	}
	r.logger.WithFields(fields).Info("download_offline_complete")
	return report, nil
}

func (r *Router) downloadOne(ctx context.Context, key string) error {
	resp, err := r.fetcher.Fetch(ctx, fetch.Request{Method: http.MethodGet, Identity: key})
	if err != nil {
		return fmt.Errorf("fetch %s: %w", key, err)
	}
	if !resp.OK() {
		return fmt.Errorf("fetch %s: %w (status %d)", key, fetch.ErrBadStatus, resp.Status)
	}
	if err := r.content.Put(ctx, EntryFromResponse(key, resp, r.now())); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}
