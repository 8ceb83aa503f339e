// Command watcher runs process W: it observes the barn for closed files
// and publishes a FileEvent per file onto the durable queue. It does not
// touch the warehouse or the catalog.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/yinguobing/dwarf/internal/broker"
	"github.com/yinguobing/dwarf/internal/config"
	"github.com/yinguobing/dwarf/internal/logging"
	"github.com/yinguobing/dwarf/internal/watcher"
)

func main() {
	logger := logging.New("watcher")

	cfgPath := "config.yml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}

	rabbitURL := rabbitURL(cfg)
	pub, err := broker.NewPublisher(rabbitURL, cfg.RabbitMQ.Queue)
	if err != nil {
		logger.Error("rabbitmq connect failed", "error", err)
		os.Exit(1)
	}
	defer pub.Close()

	w, err := watcher.New(cfg.Dirs.Barn, pub)
	if err != nil {
		logger.Error("watcher init failed", "barn", cfg.Dirs.Barn, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("watcher ready", "barn", cfg.Dirs.Barn)

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")
	w.Stop()
	<-done

	logger.Info("watcher stopped")
}

func rabbitURL(cfg *config.Config) string {
	return fmt.Sprintf("amqp://%s:%d", cfg.RabbitMQ.Host, cfg.RabbitMQ.Port)
}
