package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"example.com/wallet-system/pkg/events"
	"example.com/wallet-system/pkg/kafka"
)

// Writer добавляет записи outbox внутри бизнес-транзакции вызывающего.
// Никаких побочных эффектов кроме INSERT: брокера Writer не касается,
// commit/rollback остаётся за вызывающим. Либо бизнес-изменение и событие
// фиксируются вместе, либо не фиксируется ничего.
type Writer struct {
	repo Repository
}

// NewWriter создаёт новый Writer.
func NewWriter(repo Repository) *Writer {
	return &Writer{repo: repo}
}

// Record добавляет одну запись outbox на транзакционном handle tx.
//   - sequence_number = 1 + max по агрегату (1, если записей ещё нет);
//   - event_id — свежий UUID на каждый вызов;
//   - status = pending, created_at = now.
//
// trace_id и correlation_id из контекста попадают в headers сообщения.
func (w *Writer) Record(ctx context.Context, tx *gorm.DB, aggregateType, aggregateID string, eventType events.Type, payload any) (*Entry, error) {
	topic := eventType.RoutingKey()
	if topic == "" {
		return nil, fmt.Errorf("нет routing key для типа события %s", eventType)
	}

	data, err := events.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации payload: %w", err)
	}

	seq, err := w.repo.NextSequenceNumber(tx, aggregateType, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("ошибка вычисления sequence_number: %w", err)
	}

	eventID := uuid.NewString()

	headers := map[string]string{
		kafka.HeaderEventID:   eventID,
		kafka.HeaderEventType: string(eventType),
	}
	if traceID := kafka.TraceIDFromContext(ctx); traceID != "" {
		headers[kafka.HeaderTraceID] = traceID
	}
	if correlationID := kafka.CorrelationIDFromContext(ctx); correlationID != "" {
		headers[kafka.HeaderCorrelationID] = correlationID
	}

	entry := &Entry{
		ID:            uuid.NewString(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Topic:         topic,
		// Партиционирование по aggregate_id: события одного агрегата
		// попадают в одну партицию и сохраняют порядок.
		MessageKey:     aggregateID,
		Payload:        data,
		Headers:        headers,
		SequenceNumber: seq,
		EventID:        eventID,
		Status:         StatusPending,
		CreatedAt:      time.Now(),
	}

	if err := w.repo.CreateInTx(tx, entry); err != nil {
		return nil, fmt.Errorf("ошибка записи в outbox: %w", err)
	}

	return entry, nil
}
