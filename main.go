package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/webimage/webimage/internal/cache"
	"github.com/webimage/webimage/internal/cachedir"
	"github.com/webimage/webimage/internal/config"
	"github.com/webimage/webimage/internal/downloader"
	"github.com/webimage/webimage/internal/loader"
	"github.com/webimage/webimage/internal/logging"
	"github.com/webimage/webimage/internal/server"
	"github.com/webimage/webimage/internal/version"
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

	logger, err := logging.InitLogger(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["cache_path"] = cfg.CachePath
		fields["recheck_age"] = cfg.RecheckAge.DurationValue().String()
		fields["expiration_age"] = cfg.ExpirationAge.DurationValue().String()
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动遵循"配置 → 缓存目录（含旧目录迁移）→ 两级缓存 → 下载器 →
	// 加载服务 → Fiber server"顺序，保证所有请求共享同一套缓存实例。
	service, err := buildService(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存服务失败: %v\n", err)
		return 1
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.ListenPort
	fields["cache_path"] = cfg.CachePath
	fields["sweep_interval"] = cfg.SweepInterval.DurationValue().String()
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if interval := cfg.SweepInterval.DurationValue(); interval > 0 {
		go sweepLoop(service, cfg.ExpirationAge.DurationValue(), interval)
	}

	if err := startHTTPServer(cfg, service, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// buildService 组装两级缓存、下载器与加载服务。
func buildService(cfg *config.Config, logger *logrus.Logger) (*loader.Service, error) {
	dir, err := cachedir.Provision(cfg.CachePath, cfg.LegacyCachePath, logger)
	if err != nil {
		return nil, err
	}

	disk, err := cache.NewDiskTier(dir, cfg.RecheckAge.DurationValue(), logger)
	if err != nil {
		return nil, err
	}
	memory := cache.NewMemoryTier()

	dl := downloader.New(disk, logger, downloader.Options{
		Timeout:      cfg.UpstreamTimeout.DurationValue(),
		MaxBytes:     cfg.MaxImageBytes,
		AllowedHosts: cfg.AllowedHosts,
	})

	return loader.NewService(memory, disk, dl, nil, logger)
}

// sweepLoop 按配置节奏触发过期清扫；每轮的结果由服务内部记录日志。
func sweepLoop(service *loader.Service, maxAge, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		_, _ = service.SweepExpired(maxAge)
	}
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("webimage", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 WEBIMAGE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("WEBIMAGE_CONFIG")
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

func startHTTPServer(cfg *config.Config, service *loader.Service, logger *logrus.Logger) error {
	app, err := server.NewApp(server.AppOptions{
		Logger:        logger,
		Service:       service,
		ListenPort:    cfg.ListenPort,
		ExpirationAge: cfg.ExpirationAge.DurationValue(),
	})
	if err != nil {
		return err
	}
	return app.Listen(fmt.Sprintf(":%d", cfg.ListenPort))
}
