// Package kafka предоставляет обёртки над kafka-go для обмена интеграционными
// событиями между сервисами. Включает Producer и Consumer с поддержкой
// headers, DLQ и graceful shutdown.
package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/wallet-system/pkg/logger"
)

// TopicDLQ — Dead Letter Queue для сообщений, которые не удалось
// обработать или доставить после исчерпания повторов.
const TopicDLQ = "dlq.wallet-system"

// Ключи headers сообщений Kafka.
const (
	// HeaderTraceID — идентификатор трассировки для distributed tracing.
	HeaderTraceID = "trace_id"

	// HeaderCorrelationID — идентификатор корреляции связанных сообщений.
	HeaderCorrelationID = "correlation_id"

	// HeaderEventID — глобально уникальный идентификатор события (UUID).
	// Консьюмеры используют его для дедупликации при повторной доставке.
	HeaderEventID = "event_id"

	// HeaderEventType — логическое имя события (WALLET_CREATE и т.д.).
	HeaderEventType = "event_type"

	// HeaderReplyTo — топик для ответа в request/reply сценариях
	// (запрос баланса с асинхронным ответом).
	HeaderReplyTo = "reply_to"

	// HeaderTimestamp — временная метка создания сообщения.
	HeaderTimestamp = "timestamp"
)

// Config содержит настройки подключения к Kafka.
type Config struct {
	// Brokers — список адресов брокеров.
	Brokers []string

	// ConsumerGroup — имя consumer group по умолчанию.
	ConsumerGroup string
}

// Message представляет сообщение Kafka с метаданными.
type Message struct {
	// Key — ключ сообщения для партиционирования (обычно aggregate_id,
	// чтобы события одного агрегата попадали в одну партицию).
	Key []byte

	// Value — тело сообщения (JSON payload).
	Value []byte

	// Topic — топик сообщения (routing key события).
	Topic string

	// Partition и Offset — позиция сообщения, заполняется при чтении.
	Partition int
	Offset    int64

	// Headers — заголовки сообщения (trace_id, event_id, reply_to и т.д.).
	Headers map[string]string

	// Time — временная метка сообщения.
	Time time.Time
}

// EventID возвращает event_id из headers, пустую строку если его нет.
func (m *Message) EventID() string {
	return m.Headers[HeaderEventID]
}

// ReplyTo возвращает reply_to из headers, пустую строку если его нет.
func (m *Message) ReplyTo() string {
	return m.Headers[HeaderReplyTo]
}

// fromKafkaMessage конвертирует kafka.Message в Message.
func fromKafkaMessage(m kafka.Message) *Message {
	headers := make(map[string]string, len(m.Headers))
	for _, h := range m.Headers {
		headers[h.Key] = string(h.Value)
	}

	return &Message{
		Key:       m.Key,
		Value:     m.Value,
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Headers:   headers,
		Time:      m.Time,
	}
}

// toKafkaMessage конвертирует Message в kafka.Message.
func (m *Message) toKafkaMessage() kafka.Message {
	headers := make([]kafka.Header, 0, len(m.Headers))
	for k, v := range m.Headers {
		headers = append(headers, kafka.Header{
			Key:   k,
			Value: []byte(v),
		})
	}

	return kafka.Message{
		Key:     m.Key,
		Value:   m.Value,
		Topic:   m.Topic,
		Headers: headers,
		Time:    m.Time,
	}
}

// TraceIDFromContext извлекает trace_id из context.
// Делегирует в pkg/logger для единообразной работы с контекстом.
func TraceIDFromContext(ctx context.Context) string {
	return logger.TraceIDFromContext(ctx)
}

// CorrelationIDFromContext извлекает correlation_id из context.
func CorrelationIDFromContext(ctx context.Context) string {
	return logger.CorrelationIDFromContext(ctx)
}

// ContextWithTraceID добавляет trace_id в context.
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return logger.WithTraceID(ctx, traceID)
}

// ContextWithCorrelationID добавляет correlation_id в context.
func ContextWithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return logger.WithCorrelationID(ctx, correlationID)
}
