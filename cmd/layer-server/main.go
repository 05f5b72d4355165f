package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/himgis/webgis/internal/api"
	"github.com/himgis/webgis/internal/bootstrap"
	"github.com/himgis/webgis/internal/cache"
	"github.com/himgis/webgis/internal/catalog"
	"github.com/himgis/webgis/internal/core/config"
	"github.com/himgis/webgis/internal/core/httpclient"
	"github.com/himgis/webgis/internal/core/server"
	"github.com/himgis/webgis/internal/events"
	"github.com/himgis/webgis/internal/ingest"
	"github.com/himgis/webgis/internal/logger"
	h3mapper "github.com/himgis/webgis/internal/mapper/h3"
	"github.com/himgis/webgis/internal/metrics"
	"github.com/himgis/webgis/internal/order"
	"github.com/himgis/webgis/internal/registry"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	envFile := flag.String("env", ".env", "optional dotenv file")
	flag.Parse()
	_ = godotenv.Load(*envFile)

	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Service:   "webgis",
		Component: "layer-server",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	provider, err := metrics.Init(metrics.Config{
		Build: metrics.BuildInfo{
			Version:   Version,
			Revision:  os.Getenv("BUILD_REVISION"),
			Branch:    os.Getenv("BUILD_BRANCH"),
			BuildDate: os.Getenv("BUILD_DATE"),
		},
	})
	if err != nil {
		appLog.Error("metrics setup failed", "err", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		appLog.Error("upload dir", "dir", cfg.UploadDir, "err", err)
		return 1
	}

	orders, err := order.Open(ctx, cfg, appLog)
	if err != nil {
		appLog.Error("order store setup failed", "err", err)
		return 1
	}
	defer func() { _ = orders.Close() }()

	// extraction dirs live under a dot dir so bootstrap never mistakes them for archives
	scratch := filepath.Join(cfg.UploadDir, ".scratch")
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		appLog.Error("scratch dir", "dir", scratch, "err", err)
		return 1
	}
	reg := registry.New()
	ingestor := ingest.New(ingest.Options{
		ScratchDir: scratch,
		Opacity:    cfg.LayerOpacity,
		Logger:     appLog,
	})

	hub := events.NewHub(appLog)
	defer hub.Close()
	pubs := events.Fanout{hub}
	if cfg.Events.KafkaEnabled {
		sink, err := events.NewKafkaSink(cfg.Events.Brokers, cfg.Events.Topic, cfg.Events.Queue, appLog)
		if err != nil {
			appLog.Error("kafka sink setup failed", "brokers", cfg.Events.Brokers, "err", err)
			return 1
		}
		defer func() { _ = sink.Close() }()
		pubs = append(pubs, sink)
	}

	svc := catalog.New(catalog.Options{
		Registry:  reg,
		Orders:    orders,
		Ingestor:  ingestor,
		Events:    pubs,
		Mapper:    h3mapper.New(),
		UploadDir: cfg.UploadDir,
		Workers:   cfg.IngestWorkers,
		H3Res:     cfg.H3Res,
		Logger:    appLog,
	})
	h := api.New(svc, cache.NewEncoded(cfg.EncodedCacheSize), cfg.MaxUploadBytes, appLog)

	loader := bootstrap.New(bootstrap.Options{
		Client:        httpclient.NewOutbound(),
		Dir:           cfg.UploadDir,
		Sources:       cfg.Bootstrap,
		Timeout:       cfg.BootstrapTimeout,
		ReingestLocal: cfg.ReingestLocal,
		Workers:       cfg.IngestWorkers,
		Ingestor:      ingestor,
		Registry:      reg,
		Orders:        orders,
		Logger:        appLog,
	})
	// readyz stays 503 until this returns
	go loader.Run(ctx)

	if cfg.AdminToken == "" {
		appLog.Warn("ADMIN_TOKEN not set; uploads, deletes and reordering are disabled")
	}
	appLog.Info("starting layer server",
		"addr", cfg.Addr,
		"version", Version,
		"order_backend", orders.Backend(),
		"upload_dir", cfg.UploadDir)

	handler := server.NewRouter(server.Deps{
		Logger:     appLog,
		AdminToken: cfg.AdminToken,
		Routes:     h.Routes,
		Metrics:    provider.Handler(),
		Events:     hub,
		Ready:      loader.Ready,
		Layers:     reg.Len,
	})
	if err := server.Run(ctx, cfg.Addr, handler, appLog); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
