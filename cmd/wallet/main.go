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
	"golang.org/x/sync/errgroup"

	"github.com/Bop4yH/wallet/api"
	"github.com/Bop4yH/wallet/internal/accounts"
	"github.com/Bop4yH/wallet/internal/config"
	"github.com/Bop4yH/wallet/internal/database"
	"github.com/Bop4yH/wallet/internal/fraud"
	"github.com/Bop4yH/wallet/internal/locking"
	"github.com/Bop4yH/wallet/internal/messaging"
	"github.com/Bop4yH/wallet/internal/redis"
	"github.com/Bop4yH/wallet/internal/transfer"
	"github.com/Bop4yH/wallet/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "wallet: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	zapLogger, err := logger.NewLogger(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer zapLogger.Sync()

	// Connect to PostgreSQL
	db, err := database.NewPostgresDB(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
	if err != nil {
		return err
	}
	defer database.Close(db)

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(db, zapLogger); err != nil {
			return err
		}
	}

	// Redis only backs fraud dedup; the wallet runs without it
	redisCfg := redis.DefaultConfig()
	redisCfg.Addr = cfg.Redis.Addr
	redisCfg.Password = cfg.Redis.Password
	redisCfg.DB = cfg.Redis.DB
	redisClient, err := redis.NewClient(redisCfg, zapLogger)
	if err != nil {
		zapLogger.Warn("Redis unavailable, fraud dedup disabled", zap.Error(err))
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	// Kafka
	kafkaCfg := messaging.DefaultKafkaConfig()
	kafkaCfg.Brokers = cfg.Kafka.Brokers
	kafkaCfg.WriteTimeout = cfg.Kafka.WriteTimeout
	kafkaCfg.ConsumerGroupPrefix = cfg.Kafka.ConsumerGroupPrefix

	topicCtx, cancelTopics := context.WithTimeout(context.Background(), 10*time.Second)
	if err := messaging.EnsureTopics(topicCtx, kafkaCfg.Brokers, messaging.DefaultTopics(cfg.Kafka.AlertPartitions)); err != nil {
		zapLogger.Warn("Could not ensure kafka topics", zap.Error(err))
	}
	cancelTopics()

	producer := messaging.NewKafkaProducer(kafkaCfg, zapLogger)
	consumer := messaging.NewKafkaConsumer(kafkaCfg, zapLogger)
	bus := messaging.NewMessageBus(producer, consumer, zapLogger)
	publisher := messaging.NewEventPublisher(producer, messaging.RetryPolicy{
		MaxAttempts: cfg.Publisher.MaxAttempts,
		BaseDelay:   cfg.Publisher.BaseDelay,
		MaxDelay:    cfg.Publisher.MaxDelay,
	}, messaging.NewDBDeadLetterSink(db), zapLogger)

	// Core services
	accountRepo := accounts.NewRepository(db)
	accountSvc := accounts.NewService(accountRepo, accounts.BonusPolicy{
		MaxAttempts: cfg.Bonus.MaxAttempts,
		Backoff:     cfg.Bonus.Backoff,
	}, zapLogger)
	locks := locking.NewCoordinator(accountRepo, zapLogger)
	transferSvc := transfer.NewService(db, accountRepo, locks, publisher, transfer.Policy{
		FeePercent:   config.MustDecimal(cfg.Transfer.FeePercent),
		MinFee:       config.MustDecimal(cfg.Transfer.MinFee),
		DailyLimit:   config.MustDecimal(cfg.Transfer.DailyLimit),
		CancelWindow: cfg.Transfer.CancelWindow,
	}, transfer.SystemClock, zapLogger)

	// Fraud pipeline
	thresholds := fraud.Thresholds{
		Medium:         cfg.Fraud.ScoreThresholdMedium,
		High:           cfg.Fraud.ScoreThresholdHigh,
		VelocityWindow: time.Duration(cfg.Fraud.VelocityTimeMinutes) * time.Minute,
		VelocityLimit:  cfg.Fraud.VelocityLimitCount,
		HighAmount:     int64(cfg.Fraud.HighAmountThreshold),
		MidAmount:      int64(cfg.Fraud.MidAmountThreshold),
	}
	analyzer := fraud.NewAnalyzer(accountRepo, fraud.DefaultRules(transferSvc, thresholds), thresholds,
		transfer.SystemClock.Now, zapLogger)
	var dedup fraud.Deduplicator
	if redisClient != nil {
		dedup = fraud.NewRedisDeduplicator(redisClient.GetClient(), cfg.Redis.DedupTTL)
	}
	monitor := fraud.NewMonitor(analyzer, transferSvc, publisher, dedup, zapLogger)

	// Consumer groups
	bus.RegisterHandler(messaging.MsgTransferCompleted, messaging.GroupFraud, monitor.MessageHandler())
	messaging.NewSMSNotifier(cfg.Operators.SMSDelay, zapLogger).Register(bus)
	messaging.NewOperatorPool(cfg.Operators.Count, cfg.Operators.CallDuration, zapLogger).Register(bus)

	// HTTP
	checks := map[string]api.HealthCheck{
		"database": func(ctx context.Context) error { return database.Ping(ctx, db) },
		"messaging": func(context.Context) error {
			return bus.HealthCheck()
		},
	}
	if redisClient != nil {
		checks["redis"] = redisClient.Health
	}
	httpServer := api.NewServer(zapLogger, accountSvc, transferSvc, checks).HTTPServer(cfg.HTTP.Addr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zapLogger.Info("Starting API server", zap.String("addr", cfg.HTTP.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return bus.Run(gctx)
	})
	g.Go(func() error {
		database.CollectPoolStats(gctx, db, "postgres", 30*time.Second)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		zapLogger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	runErr := g.Wait()

	// Transfers committed before shutdown still get their notification or a dead letter
	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := publisher.Shutdown(drainCtx); err != nil {
		zapLogger.Warn("Pending events were dead-lettered on shutdown", zap.Error(err))
	}
	if err := bus.Stop(); err != nil {
		zapLogger.Error("Failed to stop message bus", zap.Error(err))
	}

	zapLogger.Info("Server exited properly")
	return runErr
}
