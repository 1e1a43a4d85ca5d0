package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/orderqueue/internal/config"
	"github.com/prudhivi99/Distributed-Systems/orderqueue/internal/logging"
	"github.com/prudhivi99/Distributed-Systems/orderqueue/internal/messaging"
	"github.com/prudhivi99/Distributed-Systems/orderqueue/internal/models"
	"github.com/prudhivi99/Distributed-Systems/orderqueue/internal/publisher"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to YAML config file")
	count := flag.Int("count", 0, "number of orders to publish (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}
	if err := cfg.Broker.RequireShared(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid broker: %v\n", err)
		return 1
	}
	if *count > 0 {
		cfg.Producer.Count = *count
	}

	logger, err := logging.New(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to the broker
	dialCtx, cancel := context.WithTimeout(ctx, cfg.Broker.DialTimeout)
	transport, err := messaging.Dial(dialCtx, cfg.Broker, logger)
	cancel()
	if err != nil {
		logger.Error("failed to connect to broker", zap.Error(err))
		return 1
	}
	defer transport.Close()

	generator, err := publisher.NewOrderGenerator(ctx, transport, publisher.GeneratorConfigFrom(cfg), logger)
	if err != nil {
		logger.Error("failed to create order generator", zap.Error(err))
		return 1
	}

	report, err := generator.GenerateAndPublish(ctx, cfg.Producer.Count, models.Catalog(cfg.Producer.Catalog))
	if err != nil {
		var pubErr *publisher.PublishError
		if errors.As(err, &pubErr) {
			logger.Error("batch stopped",
				zap.Int("published", pubErr.Published),
				zap.Int("failed_order_id", pubErr.OrderID),
				zap.Error(err),
			)
		} else {
			logger.Error("batch interrupted", zap.Int("published", report.Published), zap.Error(err))
		}
		return 1
	}

	logger.Info("batch published",
		zap.Int("published", report.Published),
		zap.String("queue", cfg.Queue.Name),
		zap.Duration("elapsed", report.Elapsed),
	)
	return 0
}
