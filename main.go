package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/shell-cache/internal/agent"
	"github.com/any-hub/shell-cache/internal/cache"
	"github.com/any-hub/shell-cache/internal/config"
	"github.com/any-hub/shell-cache/internal/fetch"
	"github.com/any-hub/shell-cache/internal/logging"
	"github.com/any-hub/shell-cache/internal/manifest"
	"github.com/any-hub/shell-cache/internal/proxy"
	"github.com/any-hub/shell-cache/internal/server"
	"github.com/any-hub/shell-cache/internal/server/routes"
	"github.com/any-hub/shell-cache/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global, stdOut)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["origin"] = cfg.Global.Origin
		fields["store_backend"] = cfg.Store.Backend
		fields["stores"] = cfg.StoreNames()
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// CLI 启动遵循“配置 → 缓存后端 → Agent/Router → Fiber server”顺序，
	// 所有请求共享同一组 Store 句柄与生效 Manifest。
	svc, err := newService(context.Background(), cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化服务失败: %v\n", err)
		return 1
	}
	defer svc.Close()

	fields := logging.BaseFields("startup", opts.configPath)
	fields["origin"] = cfg.Global.Origin
	fields["listen_port"] = cfg.Global.ListenPort
	fields["store_backend"] = cfg.Store.Backend
	fields["auto_activate"] = cfg.Global.AutoActivate
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	svc.Start(context.Background())

	if err := startHTTPServer(cfg, svc.app, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// service 持有运行期组件，Close 负责释放缓存后端。
type service struct {
	app      *fiber.App
	agent    *agent.Agent
	provider cache.Provider
	logger   *logrus.Logger
}

func newService(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*service, error) {
	provider, err := cache.NewProvider(cache.Options{
		Backend:          cfg.Store.Backend,
		Path:             cfg.Store.Path,
		Compress:         cfg.Store.Compress,
		CompressionLevel: cfg.Store.CompressionLevel,
		RedisAddr:        cfg.Store.RedisAddr,
		RedisDB:          cfg.Store.RedisDB,
		RedisPassword:    cfg.Store.RedisPassword,
		RedisPrefix:      cfg.Store.RedisPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化缓存后端失败: %w", err)
	}

	stores := make([]cache.Store, 0, 3)
	for _, name := range cfg.StoreNames() {
		store, err := provider.Open(ctx, name)
		if err != nil {
			_ = provider.Close()
			return nil, fmt.Errorf("打开 Store %s 失败: %w", name, err)
		}
		stores = append(stores, store)
	}

	fetcher, err := fetch.NewHTTPFetcher(fetch.NewClient(cfg), cfg.Global.Origin)
	if err != nil {
		_ = provider.Close()
		return nil, err
	}

	manifestPath := cfg.Global.ManifestPath
	ag, err := agent.New(agent.Options{
		Origin:              cfg.Global.Origin,
		Content:             stores[0],
		Staging:             stores[1],
		Snapshots:           manifest.NewSnapshots(stores[2]),
		Fetcher:             fetcher,
		Logger:              logger,
		LoadTable:           func() (*manifest.Table, error) { return manifest.LoadTable(manifestPath) },
		AutoActivate:        cfg.Global.AutoActivate,
		DownloadConcurrency: cfg.Global.DownloadConcurrency,
	})
	if err != nil {
		_ = provider.Close()
		return nil, err
	}

	handler, err := proxy.NewHandler(ag.Router(), fetcher, logger)
	if err != nil {
		_ = provider.Close()
		return nil, err
	}
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Proxy:      handler,
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		_ = provider.Close()
		return nil, err
	}
	routes.RegisterLifecycleRoutes(app, ag, logger)

	return &service{app: app, agent: ag, provider: provider, logger: logger}, nil
}

// Start 派发启动任务；失败只记录日志，服务继续以直通或离线快照模式运行。
func (s *service) Start(ctx context.Context) *agent.Task {
	task := s.agent.Start(ctx)
	go func() {
		if err := task.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.WithFields(logging.LifecycleFields("startup", 0)).
				WithError(err).
				Warn("startup_signal_failed")
		}
	}()
	return task
}

func (s *service) Close() error {
	return s.provider.Close()
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("shell-cache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 SHELL_CACHE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("SHELL_CACHE_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

func startHTTPServer(cfg *config.Config, app *fiber.App, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
