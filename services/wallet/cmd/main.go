// Wallet Service — авторитетный владелец балансов.
// Слушает события создания кошельков, транзакций и запросов баланса;
// применение транзакций идемпотентно (ведомость processed_events),
// производные события BALANCE_UPDATED публикуются через Outbox Relay.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"example.com/wallet-system/pkg/config"
	dbpkg "example.com/wallet-system/pkg/db"
	"example.com/wallet-system/pkg/dedup"
	"example.com/wallet-system/pkg/events"
	"example.com/wallet-system/pkg/healthcheck"
	"example.com/wallet-system/pkg/kafka"
	"example.com/wallet-system/pkg/logger"
	"example.com/wallet-system/pkg/metrics"
	"example.com/wallet-system/pkg/outbox"
	"example.com/wallet-system/pkg/tracing"
	"example.com/wallet-system/services/wallet/internal/consumer"
	"example.com/wallet-system/services/wallet/internal/repository"
	"example.com/wallet-system/services/wallet/internal/service"
)

// consumerRetries — количество повторов обработки сообщения до DLQ.
const consumerRetries = 3

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	logger.Init(logger.Config{
		Level:  cfg.App.LogLevel,
		Pretty: cfg.App.LogPretty,
	})

	log := logger.With().Str("service", "wallet-service").Logger()

	log.Info().
		Str("env", cfg.App.Env).
		Msg("Запуск Wallet Service")

	// === Observability: Tracing ===

	shutdownTracing, err := tracing.InitTracer(tracing.Config{
		ServiceName:    "wallet-service",
		JaegerEndpoint: cfg.Jaeger.OTLPEndpoint(),
		Enabled:        cfg.Jaeger.Enabled,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Не удалось инициализировать tracing")
	}

	// === Подключение к зависимостям ===

	db, err := dbpkg.ConnectMySQL(cfg.MySQL, cfg.IsDevelopment())
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка подключения к MySQL")
	}
	log.Info().Msg("Подключение к MySQL установлено")

	producer, err := kafka.NewProducer(kafka.Config{Brokers: cfg.Kafka.Brokers})
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка создания Kafka Producer")
	}
	defer func() {
		if err := producer.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия Kafka Producer")
		}
	}()

	readinessCheck := healthcheck.Composite(
		func(ctx context.Context) error { return healthcheck.CheckMySQL(ctx, db) },
		func(ctx context.Context) error { return healthcheck.CheckKafka(ctx, cfg.Kafka.Brokers[0]) },
	)

	// === Observability: Metrics ===

	var metricsServer *metrics.Server
	var metricsWg sync.WaitGroup
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(
			cfg.Metrics.Addr(),
			"wallet-service",
			metrics.WithReadinessCheck(readinessCheck),
		)
		metricsWg.Add(1)
		go func() {
			defer metricsWg.Done()
			if err := metricsServer.Start(); err != nil {
				log.Error().Err(err).Msg("Ошибка Metrics Server")
			}
		}()
	}

	// === Инициализация бизнес-логики ===

	dedupRepo := dedup.NewRepository(db, "wallet-service")
	outboxRepo := outbox.NewRepository(db, cfg.Outbox.ClaimTimeout)
	outboxWriter := outbox.NewWriter(outboxRepo)

	walletRepo := repository.NewWalletRepository(db, dedupRepo, outboxWriter)
	walletService := service.NewWalletService(walletRepo, dedupRepo)
	handler := consumer.NewHandler(walletService, producer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runCtx := logger.WithLogger(ctx, log)

	var wg sync.WaitGroup

	// === Outbox Relay ===

	relay := outbox.NewRelay(outboxRepo, producer, outbox.RelayConfig{
		PollInterval: cfg.Outbox.PollInterval,
		BatchSize:    cfg.Outbox.BatchSize,
		MaxRetries:   cfg.Outbox.MaxRetries,
		Retention:    cfg.Outbox.Retention,
	}, "wallet")

	wg.Add(1)
	go func() {
		defer wg.Done()
		relay.Run(runCtx)
	}()

	// === Консьюмеры ===

	topics := map[string]kafka.MessageHandler{
		events.RoutingKeyWalletCreate:      handler.HandleWalletCreate,
		events.RoutingKeyTransactionCreate: handler.HandleTransactionCreated,
		events.RoutingKeyBalanceRequest:    handler.HandleBalanceRequest,
	}

	consumers := make([]*kafka.Consumer, 0, len(topics))
	for topic, msgHandler := range topics {
		c, err := kafka.NewConsumer(kafka.Config{Brokers: cfg.Kafka.Brokers}, topic, "wallet-service")
		if err != nil {
			log.Fatal().Err(err).Str("topic", topic).Msg("Ошибка создания Kafka Consumer")
		}
		c.SetDLQProducer(producer)
		consumers = append(consumers, c)

		wg.Add(1)
		go func(c *kafka.Consumer, topic string, msgHandler kafka.MessageHandler) {
			defer wg.Done()
			if err := c.ConsumeWithRetry(runCtx, msgHandler, consumerRetries); err != nil &&
				!errors.Is(err, context.Canceled) {
				log.Error().Err(err).Str("topic", topic).Msg("Consumer завершился с ошибкой")
			}
		}(c, topic, msgHandler)
	}

	// Ожидаем сигнал завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Получен сигнал завершения, останавливаем сервис...")

	cancel()
	wg.Wait()

	for _, c := range consumers {
		if err := c.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия Consumer")
		}
	}

	if sqlDB, err := db.DB(); err == nil && sqlDB != nil {
		if err := sqlDB.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия MySQL")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Ошибка остановки Metrics Server")
		}
		metricsWg.Wait()
	}

	if shutdownTracing != nil {
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Ошибка остановки Tracing")
		}
	}

	log.Info().Msg("Wallet Service остановлен")
}
