package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Aidin1998/tradecore/api"
	"github.com/Aidin1998/tradecore/internal/audit"
	"github.com/Aidin1998/tradecore/internal/config"
	"github.com/Aidin1998/tradecore/internal/database"
	"github.com/Aidin1998/tradecore/internal/marketdata"
	"github.com/Aidin1998/tradecore/internal/messaging"
	"github.com/Aidin1998/tradecore/internal/trading"
	"github.com/Aidin1998/tradecore/internal/trading/repository"
	"github.com/Aidin1998/tradecore/internal/trading/trigger"
	"github.com/Aidin1998/tradecore/internal/ws"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, WebSocket hub and market data fan-out",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, zapLogger, err := bootstrap(opts)
			if err != nil {
				return err
			}
			defer zapLogger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, zapLogger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	shutdownTracing, err := setupTracing(cfg.Tracing)
	if err != nil {
		return err
	}

	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		return err
	}
	if err := database.Migrate(db); err != nil {
		return err
	}
	go database.ReportPoolStats(ctx, db, cfg.Database.Driver, 15*time.Second)

	hubCfg := ws.DefaultConfig()
	if cfg.MarketData.ReplaySize > 0 {
		hubCfg.ReplaySize = cfg.MarketData.ReplaySize
	}
	if cfg.MarketData.SendBuffer > 0 {
		hubCfg.SendBuffer = cfg.MarketData.SendBuffer
	}
	hub := ws.NewHub(hubCfg, logger)
	go hub.Run(ctx)

	notifiers := messaging.Multi{messaging.NewHubNotifier(hub, logger)}
	var kafkaPublisher *messaging.KafkaPublisher
	if cfg.Messaging.Kafka.Enabled {
		kafkaPublisher = messaging.NewKafkaPublisher(messaging.KafkaConfig{
			Brokers:     cfg.Messaging.Kafka.Brokers,
			OrdersTopic: cfg.Messaging.Kafka.OrdersTopic,
			TradesTopic: cfg.Messaging.Kafka.TradesTopic,
		}, logger)
		notifiers = append(notifiers, kafkaPublisher)
	}

	repo := repository.NewRepository(db, logger)
	tradingSvc := trading.NewService(repo, audit.NewRecorder(db, logger), notifiers, trading.Config{
		CommissionRate:     cfg.Trading.Commission(),
		DefaultTimeInForce: cfg.Trading.DefaultTimeInForce,
	}, logger)

	store := marketdata.NewStore(db)
	simulator := marketdata.NewSimulator(cfg.MarketData.Symbols, cfg.MarketData.StartPrices, cfg.MarketData.TickInterval, logger)
	var fanout *marketdata.Fanout
	if cfg.MarketData.Source == "bridge" {
		bridge := marketdata.NewBridge(marketdata.BridgeConfig{
			URL:         cfg.MarketData.BridgeURL,
			Symbols:     cfg.MarketData.Symbols,
			DialTimeout: cfg.MarketData.DialTimeout,
		}, logger)
		fanout = marketdata.NewFanout(store, hub, logger, bridge, simulator)
	} else {
		fanout = marketdata.NewFanout(store, hub, logger, simulator, nil)
	}

	var monitor *trigger.Monitor
	if cfg.Trading.MonitorEnabled {
		monitor = trigger.NewMonitor(tradingSvc, cfg.Trading.SweepInterval, logger)
		tradingSvc.SetWatcher(monitor)
		fanout.AddListener(monitor)
		if err := monitor.Start(ctx); err != nil {
			return err
		}
	}

	if cfg.Redis.Enabled {
		relay := marketdata.NewRedisRelay(marketdata.NewRedisClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB), logger)
		fanout.AddListener(relay)
		go relay.Run(ctx)
	}

	if err := fanout.Start(ctx); err != nil {
		return err
	}

	server := api.NewServer(logger, tradingSvc, store, hub, api.Options{
		ServiceName:  cfg.Tracing.ServiceName,
		AllowOrigins: cfg.Server.AllowedOrigins,
		HistoryLimit: cfg.MarketData.HistoryLimit,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(cfg.Server.Addr())
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			logger.Error("API server failed", zap.Error(err))
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("API server shutdown failed", zap.Error(err))
	}
	if monitor != nil {
		if err := monitor.Stop(); err != nil {
			logger.Warn("Trigger monitor stop failed", zap.Error(err))
		}
	}
	if kafkaPublisher != nil {
		if err := kafkaPublisher.Close(); err != nil {
			logger.Warn("Kafka publisher close failed", zap.Error(err))
		}
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("Tracer shutdown failed", zap.Error(err))
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	logger.Info("Server exited")
	return nil
}
