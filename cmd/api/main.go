package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/paygate/internal/checkout"
	"github.com/ariefcatur/paygate/internal/config"
	"github.com/ariefcatur/paygate/internal/httpx"
	kafkax "github.com/ariefcatur/paygate/internal/kafka"
	"github.com/ariefcatur/paygate/internal/ledger"
	"github.com/ariefcatur/paygate/internal/notify"
	"github.com/ariefcatur/paygate/internal/payments"
	"github.com/ariefcatur/paygate/internal/postgres"
	"github.com/ariefcatur/paygate/internal/rates"
	"github.com/ariefcatur/paygate/internal/reconcile"
	"github.com/ariefcatur/paygate/internal/redisx"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := config.NewLogger(os.Stdout, cfg)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("exit", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresMax)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		return err
	}
	store := &payments.Repo{DB: db}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := redisx.Ping(ctx, rdb); err != nil {
		return err
	}

	// Kafka producer for notifications
	prod := kafkax.NewProducer(cfg.KafkaBrokers, payments.TopicPaymentEvents, logger)
	defer prod.Close()

	loopOpts := []reconcile.Option{
		reconcile.WithNotifier(&notify.Kafka{Producer: prod, Service: cfg.ServiceName, Lookup: store.GetPayment}),
		reconcile.WithLease(redisx.NewLease(rdb, "reconcile", cfg.InstanceID, cfg.LeaseTTL)),
		reconcile.WithLogger(logger),
	}
	// without RATES no snapshot is captured
	if cfg.Rates != "" {
		static, err := rates.ParseStatic("static", cfg.Rates)
		if err != nil {
			return err
		}
		loopOpts = append(loopOpts, reconcile.WithRates(&rates.Cached{Next: static, Redis: rdb, TTL: cfg.RateCacheTTL, Logger: logger}))
	}
	index := ledger.NewIndex(rdb, cfg.MinConfirmations, logger)

	svc, err := checkout.NewService(store, cfg.ReservationTTL,
		checkout.WithLedger(index),
		checkout.WithStatusCache(&checkout.RedisStatusCache{Redis: rdb, Logger: logger}),
		checkout.WithLogger(logger),
		checkout.WithAsset(cfg.Asset),
	)
	if err != nil {
		return err
	}

	loop, err := reconcile.New(svc, store, index, reconcile.Config{
		Interval:        cfg.SweepInterval,
		LedgerTimeout:   cfg.LedgerTimeout,
		TaskMaxAttempts: cfg.TaskMaxAttempts,
		TaskBackoff:     cfg.TaskBackoff,
		Asset:           cfg.Asset,
		QuoteCurrency:   cfg.QuoteCurrency,
	}, loopOpts...)
	if err != nil {
		return err
	}
	if err := loop.Start(ctx); err != nil {
		return fmt.Errorf("start reconciliation: %w", err)
	}

	router := httpx.NewRouter(
		httpx.Dependency{Name: "postgres", Ping: db.Ping},
		httpx.Dependency{Name: "redis", Ping: func(ctx context.Context) error { return redisx.Ping(ctx, rdb) }},
	)
	(&httpx.PaymentsHandler{Checkout: svc, Logger: logger}).Register(router)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
		return loop.Shutdown(sctx)
	})
	return g.Wait()
}
