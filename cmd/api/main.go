package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/congo-pay/fedwallet/internal/config"
	"github.com/congo-pay/fedwallet/internal/domain"
	"github.com/congo-pay/fedwallet/internal/federation"
	"github.com/congo-pay/fedwallet/internal/infra"
	"github.com/congo-pay/fedwallet/internal/logging"
	"github.com/congo-pay/fedwallet/internal/notification"
	"github.com/congo-pay/fedwallet/internal/routes"
	"github.com/congo-pay/fedwallet/internal/server"
	"github.com/congo-pay/fedwallet/internal/store"
	"github.com/congo-pay/fedwallet/internal/wallet"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.AppName)
	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
	logger.Info("server exited cleanly")
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backends, err := infra.OpenStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer backends.Close(logger)

	fedKey, err := domain.DeriveKeypair([]byte(cfg.FederationKeySeed), "federation/issuance")
	if err != nil {
		return fmt.Errorf("federation key: %w", err)
	}
	brokenKey, err := domain.DeriveKeypair([]byte(cfg.BrokenFederationKeySeed), "federation/issuance")
	if err != nil {
		return fmt.Errorf("broken federation key: %w", err)
	}

	sim := federation.NewSimulator(federation.SimulatorConfig{
		IssuanceKey: fedKey.PublicKey(),
		Delay:       cfg.SimulatorDelay,
		State:       store.WithPrefix(backends.DB, "federation/"),
	}, logger)
	defer sim.Close()
	if _, err := sim.Restore(ctx); err != nil {
		return fmt.Errorf("restore federation: %w", err)
	}

	module, err := wallet.New(store.WithPrefix(backends.DB, "wallet/"), sim, wallet.Config{
		RootSecret:          cfg.RootSecret,
		FederationKey:       fedKey,
		BrokenFederationKey: brokenKey,
		TxFee:               domain.Amount(cfg.TxFee),
		ReceiveTimeout:      cfg.ReceiveTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("build wallet: %w", err)
	}
	defer module.Close()
	if err := module.Init(ctx); err != nil {
		return err
	}
	logger.Info("wallet_ready",
		slog.String("account", module.Account().String()),
		slog.String("store", cfg.StoreBackend),
	)

	var notifier notification.Notifier = notification.NewLoggerNotifier(logger)
	var kafkaNotifier *notification.KafkaNotifier
	if len(cfg.KafkaBrokers) > 0 {
		kafkaNotifier, err = notification.NewKafkaNotifier(notification.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		}, logger)
		if err != nil {
			return fmt.Errorf("kafka notifier: %w", err)
		}
		if err := kafkaNotifier.Start(ctx); err != nil {
			return err
		}
		notifier = kafkaNotifier
	}

	srv, err := server.New(routes.Deps{
		Cfg:    cfg,
		Wallet: module,
		DB:     backends.Pool,
		Cache:  backends.Cache,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Listen()
	})
	g.Go(func() error {
		err := notification.NewRelay(module, notifier, logger).Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		if kafkaNotifier != nil {
			if err := kafkaNotifier.Stop(shutdownCtx); err != nil {
				logger.Warn("stop kafka notifier", "error", err)
			}
		}
		return nil
	})

	return g.Wait()
}
