package outbox

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"example.com/wallet-system/pkg/events"
	"example.com/wallet-system/pkg/kafka"
	"example.com/wallet-system/pkg/logger"
	"example.com/wallet-system/pkg/metrics"
)

// Publisher — интерфейс отправки сообщений в брокер.
// Позволяет замокать kafka.Producer в unit-тестах (Dependency Inversion).
type Publisher interface {
	SendMessage(ctx context.Context, msg *kafka.Message) error
	SendToDLQ(ctx context.Context, msg *kafka.Message, processingError error) error
}

// RelayConfig — настройки Outbox Relay.
type RelayConfig struct {
	// PollInterval — интервал между опросами таблицы outbox.
	PollInterval time.Duration

	// BatchSize — максимум записей, захватываемых за один цикл.
	BatchSize int

	// MaxRetries — количество попыток отправки, после которых запись
	// переводится в failed и уходит в DLQ.
	MaxRetries int

	// Retention — срок хранения обработанных записей до очистки.
	Retention time.Duration
}

// DefaultRelayConfig возвращает конфигурацию по умолчанию.
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		PollInterval: 5 * time.Second,
		BatchSize:    100,
		MaxRetries:   5,
		Retention:    7 * 24 * time.Hour,
	}
}

// cleanupInterval — интервал очистки обработанных записей outbox.
const cleanupInterval = 1 * time.Hour

// Relay читает захваченные записи outbox и отправляет их в Kafka.
// Гарантия at-least-once: запись помечается processed только после
// подтверждённой отправки; любая ошибка возвращает её в pending.
//
// Записи цикла группируются по (aggregate_type, aggregate_id) и
// отправляются в порядке sequence_number; при первой ошибке группа
// останавливается, чтобы не нарушить порядок событий агрегата.
// Остальные группы обрабатываются независимо — одна ядовитая запись
// не блокирует чужие события. Между инстансами порядок держит захват:
// ClaimPending не отдаёт агрегат, пока его запись in-flight у другого
// relay.
type Relay struct {
	repo     Repository
	producer Publisher
	cfg      RelayConfig
	name     string // Имя сервиса для логов и метрик
	tracer   trace.Tracer

	// inFlight — single-flight guard: цикл не стартует, пока не
	// завершился предыдущий (долгий цикл не наслаивается на тик).
	inFlight atomic.Bool
}

// NewRelay создаёт новый Outbox Relay.
// name — имя сервиса (например, "user" или "wallet").
func NewRelay(repo Repository, producer Publisher, cfg RelayConfig, name string) *Relay {
	return &Relay{
		repo:     repo,
		producer: producer,
		cfg:      cfg,
		name:     name,
		tracer:   otel.Tracer("wallet-system/outbox-relay"),
	}
}

// Run запускает Relay. Блокирует выполнение до отмены контекста.
func (r *Relay) Run(ctx context.Context) {
	log := logger.FromContext(ctx)
	log.Info().
		Str("name", r.name).
		Dur("poll_interval", r.cfg.PollInterval).
		Int("batch_size", r.cfg.BatchSize).
		Int("max_retries", r.cfg.MaxRetries).
		Msg("Запуск Outbox Relay")

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	cleanupTicker := time.NewTicker(cleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("name", r.name).Msg("Остановка Outbox Relay")
			return
		case <-ticker.C:
			r.processOutbox(ctx)
		case <-cleanupTicker.C:
			r.cleanupProcessed(ctx)
		}
	}
}

// processOutbox обрабатывает одну пачку захваченных записей.
func (r *Relay) processOutbox(ctx context.Context) {
	log := logger.FromContext(ctx)

	if !r.inFlight.CompareAndSwap(false, true) {
		log.Warn().Str("name", r.name).Msg("Предыдущий цикл Relay ещё выполняется, тик пропущен")
		return
	}
	defer r.inFlight.Store(false)

	start := time.Now()
	defer func() {
		metrics.RelayCycleDuration.WithLabelValues(r.name).Observe(time.Since(start).Seconds())
	}()

	entries, err := r.repo.ClaimPending(ctx, r.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Str("name", r.name).Msg("Ошибка захвата записей outbox")
		return
	}

	if len(entries) == 0 {
		return
	}

	log.Debug().Int("count", len(entries)).Str("name", r.name).Msg("Обработка записей outbox")

	for _, group := range groupByAggregate(entries) {
		r.processGroup(ctx, group)
	}
}

// groupByAggregate разбивает записи на группы по агрегату,
// внутри группы — по возрастанию sequence_number.
func groupByAggregate(entries []*Entry) [][]*Entry {
	byKey := make(map[string][]*Entry)
	var order []string
	for _, e := range entries {
		key := e.AggregateKey()
		if _, ok := byKey[key]; !ok {
			order = append(order, key)
		}
		byKey[key] = append(byKey[key], e)
	}

	groups := make([][]*Entry, 0, len(order))
	for _, key := range order {
		group := byKey[key]
		sort.Slice(group, func(i, j int) bool {
			return group[i].SequenceNumber < group[j].SequenceNumber
		})
		groups = append(groups, group)
	}
	return groups
}

// processGroup отправляет события одного агрегата в порядке sequence_number.
// Первая ошибка останавливает группу: событие N+1 не должно уйти раньше N.
func (r *Relay) processGroup(ctx context.Context, group []*Entry) {
	for i, entry := range group {
		select {
		case <-ctx.Done():
			// Отданные назад записи дойдут на следующем цикле.
			r.releaseRemaining(ctx, group[i:])
			return
		default:
		}

		if err := r.publishEntry(ctx, entry); err != nil {
			r.handleFailure(ctx, entry, err)
			r.releaseRemaining(ctx, group[i+1:])
			return
		}
	}
}

// releaseRemaining возвращает неотправленный хвост группы в pending.
// Хвост не отправлялся, поэтому retry_count записей не увеличивается:
// бюджет повторов тратят только реальные походы в брокер.
func (r *Relay) releaseRemaining(ctx context.Context, rest []*Entry) {
	log := logger.FromContext(ctx)
	for _, entry := range rest {
		if err := r.repo.ReleaseSkipped(ctx, entry.ID); err != nil {
			log.Error().Err(err).Str("outbox_id", entry.ID).Msg("Ошибка возврата записи в pending")
		}
	}
}

// publishEntry отправляет одно событие и помечает запись processed.
func (r *Relay) publishEntry(ctx context.Context, entry *Entry) error {
	ctx, span := r.tracer.Start(ctx, "PublishOutboxEntry", trace.WithAttributes(
		attribute.String("outbox.id", entry.ID),
		attribute.String("outbox.event_id", entry.EventID),
		attribute.String("outbox.event_type", string(entry.EventType)),
		attribute.String("outbox.topic", entry.Topic),
		attribute.Int64("outbox.sequence_number", entry.SequenceNumber),
		attribute.Int("outbox.retry_count", entry.RetryCount),
	))
	defer span.End()

	// Проверяем, что payload разбирается в нативную форму события.
	// Ядовитая запись отсекается до похода в брокер.
	if _, err := events.Decode(entry.EventType, entry.Payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("некорректный payload: %w", err)
	}

	headers := make(map[string]string, len(entry.Headers)+2)
	for k, v := range entry.Headers {
		headers[k] = v
	}
	headers[kafka.HeaderEventID] = entry.EventID
	headers[kafka.HeaderEventType] = string(entry.EventType)

	// Прокидываем контекст трассировки в headers сообщения.
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(headers))

	msg := &kafka.Message{
		Topic:   entry.Topic,
		Key:     []byte(entry.MessageKey),
		Value:   entry.Payload,
		Headers: headers,
	}

	if err := r.producer.SendMessage(ctx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := r.repo.MarkProcessed(ctx, entry.ID); err != nil {
		// Событие уже в брокере: при падении здесь оно уйдёт повторно
		// на следующем цикле — at-least-once, дубль погасит консьюмер.
		span.RecordError(err)
		return fmt.Errorf("ошибка пометки записи processed: %w", err)
	}

	metrics.OutboxPublishedTotal.WithLabelValues(r.name).Inc()

	logger.Ctx(ctx).Debug().
		Str("outbox_id", entry.ID).
		Str("event_id", entry.EventID).
		Str("topic", entry.Topic).
		Int64("sequence_number", entry.SequenceNumber).
		Msg("Событие outbox опубликовано")

	return nil
}

// handleFailure возвращает запись в pending или, после исчерпания
// повторов, переводит в failed и отправляет payload в DLQ.
func (r *Relay) handleFailure(ctx context.Context, entry *Entry, cause error) {
	log := logger.FromContext(ctx)
	metrics.OutboxPublishFailedTotal.WithLabelValues(r.name).Inc()

	if entry.RetryCount+1 < r.cfg.MaxRetries {
		log.Error().
			Err(cause).
			Str("outbox_id", entry.ID).
			Str("topic", entry.Topic).
			Int("retry_count", entry.RetryCount+1).
			Msg("Ошибка публикации события, запись вернётся в pending")

		if err := r.repo.Release(ctx, entry.ID, cause); err != nil {
			log.Error().Err(err).Str("outbox_id", entry.ID).Msg("Ошибка возврата записи в pending")
		}
		return
	}

	log.Warn().
		Err(cause).
		Str("outbox_id", entry.ID).
		Str("event_type", string(entry.EventType)).
		Str("aggregate_id", entry.AggregateID).
		Int("retry_count", entry.RetryCount+1).
		Msg("Исчерпаны попытки отправки, запись переводится в failed")

	if err := r.repo.MarkFailed(ctx, entry.ID, cause); err != nil {
		log.Error().Err(err).Str("outbox_id", entry.ID).Msg("Ошибка пометки записи failed")
		return
	}

	dlqMsg := &kafka.Message{
		Topic:   entry.Topic,
		Key:     []byte(entry.MessageKey),
		Value:   entry.Payload,
		Headers: entry.Headers,
	}
	if err := r.producer.SendToDLQ(ctx, dlqMsg, cause); err != nil {
		// Запись уже failed и видна для ручного разбора в таблице.
		log.Error().Err(err).Str("outbox_id", entry.ID).Msg("Ошибка отправки в DLQ")
		return
	}

	metrics.OutboxDeadLetteredTotal.WithLabelValues(r.name).Inc()
}

// cleanupProcessed удаляет обработанные записи старше Retention.
func (r *Relay) cleanupProcessed(ctx context.Context) {
	log := logger.FromContext(ctx)

	before := time.Now().Add(-r.cfg.Retention)
	deleted, err := r.repo.DeleteProcessedBefore(ctx, before)
	if err != nil {
		log.Error().Err(err).Str("name", r.name).Msg("Ошибка очистки outbox")
		return
	}

	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Str("name", r.name).Msg("Очистка обработанных записей outbox")
	}
}
