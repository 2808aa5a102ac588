package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mohammed-shakir/h3-netplan/internal/audit"
	"github.com/mohammed-shakir/h3-netplan/internal/cache"
	_ "github.com/mohammed-shakir/h3-netplan/internal/cache/lrustore"
	_ "github.com/mohammed-shakir/h3-netplan/internal/cache/memstore"
	_ "github.com/mohammed-shakir/h3-netplan/internal/cache/redisstore"
	"github.com/mohammed-shakir/h3-netplan/internal/core/config"
	"github.com/mohammed-shakir/h3-netplan/internal/core/health"
	"github.com/mohammed-shakir/h3-netplan/internal/core/httpclient"
	"github.com/mohammed-shakir/h3-netplan/internal/core/observability"
	"github.com/mohammed-shakir/h3-netplan/internal/core/router"
	"github.com/mohammed-shakir/h3-netplan/internal/core/server"
	"github.com/mohammed-shakir/h3-netplan/internal/decision/simple"
	"github.com/mohammed-shakir/h3-netplan/internal/engine"
	"github.com/mohammed-shakir/h3-netplan/internal/examples"
	"github.com/mohammed-shakir/h3-netplan/internal/geostore"
	"github.com/mohammed-shakir/h3-netplan/internal/hotness/expdecay"
	"github.com/mohammed-shakir/h3-netplan/internal/hotness/metricswrap"
	"github.com/mohammed-shakir/h3-netplan/internal/logger"
	"github.com/mohammed-shakir/h3-netplan/internal/metrics"
	"github.com/mohammed-shakir/h3-netplan/internal/pipeline"
	"github.com/mohammed-shakir/h3-netplan/internal/spatial/backend"
	"github.com/mohammed-shakir/h3-netplan/internal/transform"
	"github.com/mohammed-shakir/h3-netplan/internal/transport/ws"
	invkafka "github.com/mohammed-shakir/h3-netplan/pkg/invalidation/kafka"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func run() int {
	envFile := flag.String("env", ".env", "dotenv file loaded before reading the environment")
	addr := flag.String("addr", "", "listen address (overrides ADDR)")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", *envFile, err)
		return 1
	}

	cfg, cfgErr := config.Load()
	if *addr != "" {
		cfg.Addr = strings.TrimSpace(*addr)
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   envInt("LOG_SAMPLE_N", 0),
		Instance:  cfg.Instance,
		Component: "planner",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	if cfgErr != nil {
		appLog.Error("config load failed", "err", cfgErr)
		return 1
	}

	p := metrics.Init(metrics.Config{
		Build: metrics.BuildInfo{
			Version:   Version,
			Revision:  os.Getenv("BUILD_REVISION"),
			BuildDate: os.Getenv("BUILD_DATE"),
		},
		RuntimeMetrics: envInt("METRICS_RUNTIME", 0) == 1,
	})
	observability.Init(p.Registerer())

	appLog.Info("starting planner",
		"addr", cfg.Addr,
		"version", Version,
		"spatial", cfg.SpatialBackend,
		"cache", cfg.CacheBackend)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := geostore.Open(ctx, cfg.GeoDBPath)
	if err != nil {
		appLog.Error("geostore open failed", "path", cfg.GeoDBPath, "err", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	idx, err := backend.Open(ctx, cfg.SpatialBackend, cfg.H3Res, store)
	if err != nil {
		appLog.Error("spatial index setup failed", "backend", cfg.SpatialBackend, "err", err)
		return 1
	}

	results, err := cache.New(ctx, cfg.CacheBackend, cfg, appLog)
	if err != nil {
		appLog.Error("cache setup failed", "backend", cfg.CacheBackend, "err", err)
		return 1
	}
	if c, ok := results.(interface{ Close() error }); ok {
		defer func() { _ = c.Close() }()
	}

	recorder, closeAudit, err := buildAudit(cfg, appLog)
	if err != nil {
		appLog.Error("audit setup failed", "err", err)
		return 1
	}
	defer closeAudit()

	algos, err := engine.FromSpecs(cfg.Engines, httpclient.NewOutbound(0))
	if err != nil {
		appLog.Error("engine table invalid", "err", err)
		return 1
	}
	runner, err := engine.NewRunner(algos,
		engine.WithTimeout(cfg.EngineTimeout),
		engine.WithRecorder(recorder),
		engine.WithLogger(appLog),
	)
	if err != nil {
		appLog.Error("engine runner setup failed", "err", err)
		return 1
	}
	appLog.Info("engines registered", "algorithms", runner.Names())

	plOpts := []pipeline.Option{pipeline.WithLogger(appLog)}
	if cfg.AdmitThreshold > 0 {
		tracker := expdecay.New(cfg.HotHalfLife)
		hot := metricswrap.New(tracker, appLog, cfg.AdmitThreshold, cfg.HotLogSample)
		plOpts = append(plOpts, pipeline.WithAdmission(hot, &simple.Engine{Hot: hot, Threshold: cfg.AdmitThreshold}))
		go pruneHotness(ctx, tracker, cfg.HotHalfLife, appLog)
		appLog.Info("cache admission enabled", "threshold", cfg.AdmitThreshold, "half_life", cfg.HotHalfLife)
	}
	pl := pipeline.New(transform.New(idx, cfg.LookupConcurrency), runner, results, plOpts...)
	// runs after server.Run returns and before the audit sink closes
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if err := pl.Drain(dctx); err != nil {
			appLog.Warn("engine runs cancelled at shutdown", "err", err)
		}
	}()

	ex, err := examples.Load(cfg.ExamplesDir)
	if err != nil {
		appLog.Warn("examples not loaded", "dir", cfg.ExamplesDir, "err", err)
	}

	plans := &router.Handlers{
		Log:          appLog,
		Planner:      pl,
		Boundary:     store,
		Examples:     ex,
		MaxBodyBytes: cfg.MaxBodyBytes,
	}
	wsh := &ws.Handler{
		Log:            appLog,
		Planner:        pl,
		Boundary:       plans.BoundaryFor,
		OriginPatterns: cfg.WSOrigins,
		MaxInFlight:    cfg.WSMaxInFlight,
		ReadLimit:      cfg.MaxBodyBytes,
	}

	ready := map[string]health.Check{"geostore": store.Ping}
	if pinger, ok := results.(interface{ Ping(context.Context) error }); ok {
		ready["cache"] = pinger.Ping
	}

	inval := invkafka.New(invkafka.FromConfig(cfg.Invalidation), pl, invkafka.Options{
		Logger:   appLog,
		Register: p.Registerer(),
	})
	if err := inval.Start(ctx); err != nil {
		appLog.Error("invalidation runner start failed", "err", err)
		return 1
	}
	defer inval.Stop()
	if inval.Active() {
		ready["invalidation"] = health.Consumer(inval)
	}

	if err := server.Run(ctx, cfg, appLog, server.Deps{
		Plans:   plans,
		WS:      wsh,
		Metrics: p.Handler(),
		Ready:   ready,
	}); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}

const drainTimeout = 15 * time.Second

// pruneHotness drops fingerprints whose score decayed to noise, once per
// half-life.
func pruneHotness(ctx context.Context, t *expdecay.Tracker, every time.Duration, log *slog.Logger) {
	tick := time.NewTicker(every)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if n := t.Prune(0.01); n > 0 {
				log.Debug("hotness pruned", "keys", n, "remaining", t.Size())
				observability.SetHotKeys(t.Size())
			}
		}
	}
}

func buildAudit(cfg config.Config, log *slog.Logger) (audit.Recorder, func(), error) {
	rec := audit.Multi{audit.LogRecorder{Log: log}}
	if !cfg.Audit.Enabled {
		return rec, func() {}, nil
	}
	pub, err := audit.NewPublisher(splitBrokers(cfg.Audit.Brokers), cfg.Audit.Topic, cfg.Audit.Queue, log)
	if err != nil {
		return nil, nil, err
	}
	log.Info("engine audit publishing enabled", "topic", cfg.Audit.Topic)
	closeFn := func() {
		if err := pub.Close(); err != nil {
			log.Warn("audit publisher close", "err", err)
		}
	}
	return append(rec, pub), closeFn, nil
}

func splitBrokers(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if x := strings.TrimSpace(p); x != "" {
			out = append(out, x)
		}
	}
	return out
}
