package routes

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/shell-cache/internal/agent"
	"github.com/any-hub/shell-cache/internal/reconcile"
	"github.com/any-hub/shell-cache/internal/router"
)

// Lifecycle 是生命周期路由依赖的 Agent 能力集合。
type Lifecycle interface {
	Status() agent.Status
	SkipWaiting(ctx context.Context) error
	DownloadOffline(ctx context.Context) (router.DownloadReport, error)
	Reload(ctx context.Context) error
	Dispatch(ctx context.Context, name string, fn func(context.Context) error) *agent.Task
}

// RegisterLifecycleRoutes 暴露 /-/ 下的状态查询与 skip-waiting、离线下载、重新加载信号。
// 信号以 Task 形式派发，客户端断开不会中止正在执行的任务。
func RegisterLifecycleRoutes(app *fiber.App, lc Lifecycle, logger *logrus.Logger) {
	if app == nil || lc == nil {
		return
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		return c.JSON(lc.Status())
	})

	app.Post("/-/skip-waiting", func(c fiber.Ctx) error {
		err := dispatch(c, lc, "skip_waiting", lc.SkipWaiting)
		switch {
		case err == nil:
			return c.JSON(lc.Status())
		case errors.Is(err, agent.ErrNotInstalled):
			return writeError(c, fiber.StatusConflict, "not_installed")
		case errors.Is(err, reconcile.ErrReconcileInProgress):
			return writeError(c, fiber.StatusConflict, "reconcile_in_progress")
		default:
			logSignalFailure(logger, "skip_waiting", err)
			return writeError(c, fiber.StatusInternalServerError, "activate_failed")
		}
	})

	app.Post("/-/download-offline", func(c fiber.Ctx) error {
		var report router.DownloadReport
		err := dispatch(c, lc, "download_offline", func(ctx context.Context) error {
			var err error
			report, err = lc.DownloadOffline(ctx)
			return err
		})
		switch {
		case err == nil:
			return c.JSON(report)
		case errors.Is(err, router.ErrNoActiveManifest):
			return writeError(c, fiber.StatusConflict, "no_active_manifest")
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return writeError(c, fiber.StatusGatewayTimeout, "download_pending")
		default:
			logSignalFailure(logger, "download_offline", err)
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"error":  "download_incomplete",
				"report": report,
			})
		}
	})

	app.Post("/-/reload", func(c fiber.Ctx) error {
		err := dispatch(c, lc, "reload", lc.Reload)
		switch {
		case err == nil:
			return c.JSON(lc.Status())
		case errors.Is(err, reconcile.ErrReconcileInProgress):
			return writeError(c, fiber.StatusConflict, "reconcile_in_progress")
		default:
			logSignalFailure(logger, "reload", err)
			return writeError(c, fiber.StatusBadGateway, "reload_failed")
		}
	})
}

// dispatch 派发任务并等待其完成或请求结束。
func dispatch(c fiber.Ctx, lc Lifecycle, name string, fn func(context.Context) error) error {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	task := lc.Dispatch(context.WithoutCancel(ctx), name, fn)
	return task.Wait(ctx)
}

func writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func logSignalFailure(logger *logrus.Logger, action string, err error) {
	if logger == nil {
		return
	}
	logger.WithFields(logrus.Fields{"action": action, "error": err.Error()}).Warn("signal_failed")
}
