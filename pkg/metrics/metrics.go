// Package metrics предоставляет Prometheus метрики для всех сервисов.
// Содержит счётчики outbox/консьюмеров/кэша и HTTP server для /metrics.
//
// Использование:
//
//	srv := metrics.NewServer(":9090", "wallet-service")
//	go srv.Start()
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/wallet-system/pkg/logger"
)

// =============================================================================
// Метрики
// =============================================================================

var (
	// OutboxPublishedTotal — успешно опубликованные события outbox.
	// PromQL пример: rate(outbox_published_total{service="wallet"}[5m])
	OutboxPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_published_total",
			Help: "Количество событий outbox, опубликованных в Kafka",
		},
		[]string{"service"},
	)

	// OutboxPublishFailedTotal — неудачные попытки публикации (будут повторены).
	OutboxPublishFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_publish_failed_total",
			Help: "Количество неудачных попыток публикации событий outbox",
		},
		[]string{"service"},
	)

	// OutboxDeadLetteredTotal — события, переведённые в failed и ушедшие в DLQ.
	OutboxDeadLetteredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_dead_lettered_total",
			Help: "Количество событий outbox, отправленных в DLQ после исчерпания повторов",
		},
		[]string{"service"},
	)

	// RelayCycleDuration — длительность цикла Outbox Relay.
	// PromQL: histogram_quantile(0.95, rate(outbox_relay_cycle_seconds_bucket[5m]))
	RelayCycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "outbox_relay_cycle_seconds",
			Help:    "Длительность одного цикла Outbox Relay в секундах",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"service"},
	)

	// EventsConsumedTotal — обработанные консьюмерами события.
	EventsConsumedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_consumed_total",
			Help: "Количество обработанных событий по сервису, типу и статусу",
		},
		[]string{"service", "event_type", "status"},
	)

	// DuplicateEventsTotal — повторные доставки, погашенные дедупликацией.
	// Норма для at-least-once, не ошибка.
	DuplicateEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duplicate_events_total",
			Help: "Количество повторных доставок, отсечённых по processed_events",
		},
		[]string{"service"},
	)

	// BalanceCacheTotal — обращения к кэшу балансов (hit/miss).
	BalanceCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "balance_cache_total",
			Help: "Обращения к кэшу балансов по результату (hit/miss)",
		},
		[]string{"service", "result"},
	)
)

// RecordConsumed записывает метрику обработки события.
// status — "success", "error" или "duplicate".
func RecordConsumed(service, eventType, status string) {
	EventsConsumedTotal.WithLabelValues(service, eventType, status).Inc()
}

// RecordCache записывает обращение к кэшу балансов.
func RecordCache(service string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	BalanceCacheTotal.WithLabelValues(service, result).Inc()
}

// =============================================================================
// HTTP Server для /metrics endpoint
// =============================================================================

// ReadinessChecker — проверка готовности сервиса.
// nil = готов принимать трафик.
type ReadinessChecker func(ctx context.Context) error

// Server — HTTP сервер для экспорта метрик Prometheus и проб Kubernetes.
type Server struct {
	httpServer     *http.Server
	service        string
	readinessCheck ReadinessChecker
}

// Option — функциональная опция для настройки Server.
type Option func(*Server)

// WithReadinessCheck добавляет проверку готовности для /readyz endpoint.
// Если checker возвращает ошибку — /readyz отвечает 503.
func WithReadinessCheck(checker ReadinessChecker) Option {
	return func(s *Server) {
		s.readinessCheck = checker
	}
}

// NewServer создаёт новый metrics server.
func NewServer(addr, service string, opts ...Option) *Server {
	s := &Server{
		service: service,
	}

	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()

	// /metrics — endpoint для Prometheus.
	mux.Handle("/metrics", promhttp.Handler())

	// /healthz — liveness probe: процесс жив, если сервер отвечает.
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"alive"}`))
	})

	// /readyz — readiness probe: все зависимости доступны.
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if s.readinessCheck == nil {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ready"}`))
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := s.readinessCheck(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			// Детали ошибки наружу не отдаём
			_, _ = w.Write([]byte(`{"status":"not_ready"}`))
			logger.Warn().Err(err).Str("service", s.service).Msg("Readiness check failed")
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

// Start запускает HTTP сервер метрик. Блокирующий вызов — запускать в горутине.
func (s *Server) Start() error {
	log := logger.With().Str("service", s.service).Logger()
	log.Info().Str("addr", s.httpServer.Addr).Msg("Запуск Metrics Server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully останавливает сервер.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
