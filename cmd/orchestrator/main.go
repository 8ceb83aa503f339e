// Command orchestrator runs process O: it consumes FileEvents, drives
// the per-file ingestion pipeline against the Store and Catalog, and
// exposes Prometheus metrics. It also performs the startup inventory
// sweep so files that arrived while no watcher was running get picked up.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yinguobing/dwarf/internal/broker"
	"github.com/yinguobing/dwarf/internal/catalog"
	"github.com/yinguobing/dwarf/internal/config"
	"github.com/yinguobing/dwarf/internal/logging"
	"github.com/yinguobing/dwarf/internal/orchestrator"
	"github.com/yinguobing/dwarf/internal/store"
)

func main() {
	logger := logging.New("orchestrator")

	cfgPath := "config.yml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}

	// ── Infrastructure ───────────────────────────────────────────────

	st := store.New(cfg.Dirs.Barn, cfg.Dirs.Warehouse)
	if err := st.EnsureBarn(); err != nil {
		logger.Error("barn check failed", "error", err)
		os.Exit(1)
	}

	rabbitURL := fmt.Sprintf("amqp://%s:%d", cfg.RabbitMQ.Host, cfg.RabbitMQ.Port)

	consumer, err := broker.NewConsumer(rabbitURL, cfg.RabbitMQ.Queue)
	if err != nil {
		logger.Error("rabbitmq consumer connect failed", "error", err)
		os.Exit(1)
	}

	pub, err := broker.NewPublisher(rabbitURL, cfg.RabbitMQ.Queue)
	if err != nil {
		logger.Error("rabbitmq publisher connect failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mongoURI := fmt.Sprintf("mongodb://%s:%s@%s:%d",
		cfg.MongoDB.Username, cfg.MongoDB.Password, cfg.MongoDB.Host, cfg.MongoDB.Port)

	cat, err := catalog.Dial(ctx, mongoURI, cfg.MongoDB.Name)
	if err != nil {
		logger.Error("mongodb connect failed", "error", err)
		os.Exit(1)
	}

	for _, col := range []string{cfg.MongoDB.Collections.Images, cfg.MongoDB.Collections.Videos} {
		if err := cat.EnsureIndexes(ctx, col); err != nil {
			logger.Error("index setup failed", "collection", col, "error", err)
			os.Exit(1)
		}
	}

	// ── Metrics endpoint ─────────────────────────────────────────────

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: ":9090", Handler: mux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	// ── Startup inventory sweep ──────────────────────────────────────

	if n, err := st.CheckInventory(ctx, pub); err != nil {
		logger.Error("startup inventory sweep failed", "error", err)
	} else {
		logger.Info("startup inventory sweep complete", "files", n)
	}

	// ── Run ──────────────────────────────────────────────────────────

	orcCfg := orchestrator.Config{
		Barn:               cfg.Dirs.Barn,
		VideoTypes:         cfg.VideoTypes,
		ImageTypes:         cfg.ImageTypes,
		ImagesCollection:   cfg.MongoDB.Collections.Images,
		VideosCollection:   cfg.MongoDB.Collections.Videos,
		MaxNumTry:          cfg.Monitor.MaxNumTry,
		Timeout:            time.Duration(cfg.Monitor.Timeout) * time.Second,
		DestroyOnDuplicate: cfg.Orchestrator.DestroyOnDuplicate,
	}

	orc := orchestrator.New(orcCfg, consumer, pub, st, cat)
	if err := orc.Run(ctx); err != nil {
		logger.Error("orchestrator error", "error", err)
	}

	// ── Graceful shutdown ────────────────────────────────────────────

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	metricsSrv.Shutdown(httpCtx)

	consumer.Close()
	pub.Close()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer closeCancel()
	cat.Close(closeCtx)

	logger.Info("orchestrator stopped")
}
