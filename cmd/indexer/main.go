package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/paygate/internal/config"
	kafkax "github.com/ariefcatur/paygate/internal/kafka"
	"github.com/ariefcatur/paygate/internal/ledger"
	"github.com/ariefcatur/paygate/internal/payments"
	"github.com/ariefcatur/paygate/internal/redisx"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

// indexer feeds the Redis transfer index from the chain indexer's Kafka stream.
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	cfg.ServiceName += "-indexer"
	logger := config.NewLogger(os.Stdout, cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := redisx.Ping(ctx, rdb); err != nil {
		logger.Error("redis unavailable", "err", err)
		os.Exit(1)
	}

	index := ledger.NewIndex(rdb, cfg.MinConfirmations, logger)
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.IndexerGroup, payments.TopicTransfersObserved, cfg.IndexerWorkers, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("transfer consumer started", "group", cfg.IndexerGroup, "workers", cfg.IndexerWorkers)
		return cons.Start(gctx, index.HandleTransferObserved)
	})
	if err := g.Wait(); err != nil {
		logger.Error("consumer exit", "err", err)
		os.Exit(1)
	}
	logger.Info("indexer stopped")
}
