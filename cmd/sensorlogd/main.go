// sensorlogd is the sensor collector daemon. It polls the configured
// sampler on a fixed cadence, writes every batch to the sample store and
// serves the query API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/sensorlog/internal/api"
	"github.com/xtxerr/sensorlog/internal/collector"
	"github.com/xtxerr/sensorlog/internal/loader"
	"github.com/xtxerr/sensorlog/internal/logging"
	"github.com/xtxerr/sensorlog/internal/metrics"
	"github.com/xtxerr/sensorlog/internal/sampler"
	"github.com/xtxerr/sensorlog/internal/server"
	"github.com/xtxerr/sensorlog/internal/storage"
	"github.com/xtxerr/sensorlog/internal/storage/query"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// CLI flags
	cfgPath := flag.String("config", "config.yaml", "config file path")
	listen := flag.String("listen", "", "API listen address (overrides config)")
	dbPath := flag.String("db", "", "sample store path (overrides config)")
	driver := flag.String("driver", "", "storage driver: sqlite, duckdb, badger (overrides config)")
	samplerDriver := flag.String("sampler", "", "sampler driver: modbus, snmp, mock (overrides config)")
	once := flag.Bool("once", false, "poll and write once, then exit")
	readOnly := flag.Bool("readonly", false, "serve the API from an existing store without collecting")
	noAPI := flag.Bool("no-api", false, "collect without serving the API")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (overrides config)")
	logJSON := flag.Bool("log-json", false, "log as JSON")
	flag.Parse()

	// Load config
	cfg, err := loader.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 2
	}

	// CLI overrides
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *dbPath != "" {
		cfg.Storage.Path = *dbPath
	}
	if *driver != "" {
		cfg.Storage.Driver = *driver
	}
	if *samplerDriver != "" {
		cfg.Sampler.Driver = *samplerDriver
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logJSON {
		cfg.Log.Format = "json"
	}

	if err := loader.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		return 2
	}

	level, _ := logging.ParseLevel(cfg.Log.Level)
	logging.Init(level, strings.EqualFold(cfg.Log.Format, "json"))
	log := logging.Component("main")
	log.Info("sensorlogd starting", "version", Version, "config", *cfgPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *readOnly {
		return serveReadOnly(ctx, cfg)
	}

	// =========================================================================
	// Initialize Store
	// =========================================================================

	store, err := storage.Open(loader.ToStorageConfig(cfg))
	if err != nil {
		log.Error("open store", "error", err)
		return 1
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("close store", "error", err)
		}
	}()

	// =========================================================================
	// Initialize Sampler and Collector
	// =========================================================================

	smp, err := sampler.New(loader.ToSamplerConfig(cfg))
	if err != nil {
		log.Error("create sampler", "error", err)
		return 1
	}
	col := collector.New(smp, store, loader.ToCollectorConfig(cfg))

	if *once {
		if err := col.RunOnce(ctx); err != nil {
			log.Error("poll failed", "error", err)
			return 1
		}
		log.Info("poll written", "samples", col.Stats().SamplesWritten)
		return 0
	}

	// =========================================================================
	// Run
	// =========================================================================

	m := metrics.New()
	col.OnTick(m.ObserveTick)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return col.Run(gctx)
	})
	if !*noAPI {
		srv := newServer(cfg, store, m)
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		log.Error("stopped with error", "error", err)
		return 1
	}

	stats := col.Stats()
	log.Info("sensorlogd stopped",
		"ticks", stats.Ticks,
		"successes", stats.Successes,
		"samples_written", stats.SamplesWritten)
	return 0
}

// serveReadOnly serves the API from a store written by another process.
func serveReadOnly(ctx context.Context, cfg *loader.Config) int {
	log := logging.Component("main")

	store, err := storage.OpenReader(loader.ToStorageConfig(cfg))
	if err != nil {
		log.Error("open store", "error", err)
		return 1
	}
	defer store.Close()

	if err := newServer(cfg, store, metrics.New()).Run(ctx); err != nil {
		log.Error("server stopped with error", "error", err)
		return 1
	}
	return 0
}

func newServer(cfg *loader.Config, store storage.Reader, m *metrics.Metrics) *server.Server {
	svc := query.New(store, loader.ToQueryConfig(cfg))
	m.WatchQueries(svc)

	a := api.New(svc, &api.Config{
		StreamInterval:      cfg.Query.StreamInterval.Duration(),
		MaxStreamsPerClient: cfg.API.MaxStreamsPerClient,
		Metrics:             m,
		Health: func(ctx context.Context) error {
			return storage.Health(ctx, store)
		},
	})

	return server.New(&server.Config{
		Listen:          cfg.Listen,
		TLSCertFile:     cfg.TLS.CertFile,
		TLSKeyFile:      cfg.TLS.KeyFile,
		ShutdownTimeout: cfg.ShutdownTimeout.Duration(),
	}, a.Handler())
}
