package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/orderqueue/internal/cache"
	"github.com/prudhivi99/Distributed-Systems/orderqueue/internal/config"
	"github.com/prudhivi99/Distributed-Systems/orderqueue/internal/consumer"
	"github.com/prudhivi99/Distributed-Systems/orderqueue/internal/db"
	"github.com/prudhivi99/Distributed-Systems/orderqueue/internal/discovery"
	"github.com/prudhivi99/Distributed-Systems/orderqueue/internal/handlers"
	"github.com/prudhivi99/Distributed-Systems/orderqueue/internal/logging"
	"github.com/prudhivi99/Distributed-Systems/orderqueue/internal/messaging"
	"github.com/prudhivi99/Distributed-Systems/orderqueue/internal/pipeline"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to YAML config file")
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

	reporter := consumer.NewReporter(logger)
	opts := []consumer.Option{consumer.WithReporter(reporter)}

	// Optional inventory backend
	var inventory pipeline.InventoryChecker
	var inventoryRepo *db.InventoryRepository
	if cfg.Postgres.Enabled {
		database, err := db.NewPostgresDB(ctx, cfg.Postgres, logger)
		if err != nil {
			logger.Error("failed to connect to database", zap.Error(err))
			return 1
		}
		defer database.Close()
		inventoryRepo = db.NewInventoryRepository(database.Conn)
		inventory = inventoryRepo
	}

	if cfg.Redis.Enabled {
		redisCache, err := cache.NewRedisCache(ctx, cfg.Redis, logger)
		if err != nil {
			logger.Error("failed to connect to Redis", zap.Error(err))
			return 1
		}
		defer redisCache.Close()

		if inventoryRepo != nil {
			inventory = db.NewCachedInventoryRepository(inventoryRepo, redisCache, logger)
		}
		if cfg.Consumer.AckMode == config.AckAfterSuccess {
			opts = append(opts, consumer.WithDeduplicator(cache.NewProcessedSet(redisCache, cfg.Consumer.DedupTTL)))
		}
	}

	steps := pipeline.NewBuilder(cfg.Consumer.ShippingRate, inventory, logger).Build(pipeline.StepsFromConfig(cfg.Consumer))
	orderPipeline := pipeline.New(steps, logger)
	orderConsumer := consumer.NewOrderConsumer(transport, consumer.ConsumerConfigFrom(cfg), logger, opts...)

	// Status API
	statusHandler := handlers.NewStatusHandler(cfg.Consul.ServiceName, cfg.Queue.Name, string(cfg.Consumer.AckMode), reporter.Stats())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Consumer.HTTPPort),
		Handler:           handlers.NewRouter(statusHandler, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("status API listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status API failed", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("status API shutdown", zap.Error(err))
		}
	}()

	// Register with Consul
	if cfg.Consul.Enabled {
		consul, err := discovery.NewConsulClient(cfg.Consul, logger)
		if err != nil {
			logger.Warn("service registration skipped", zap.Error(err))
		} else if err := consul.Register(discovery.ServiceConfigFrom(cfg)); err != nil {
			logger.Warn("service registration failed", zap.Error(err))
		} else {
			defer func() {
				if err := consul.Deregister(cfg.Consul.ServiceID); err != nil {
					logger.Warn("service deregistration failed", zap.Error(err))
				}
			}()
		}
	}

	if err := orderConsumer.Run(ctx, orderPipeline); err != nil {
		logger.Error("consumer stopped", zap.Error(err))
		return 1
	}
	logger.Info("shutting down")
	return 0
}
