package logger

import (
	"context"

	"github.com/rs/zerolog"
)

// Приватный тип ключей контекста — защита от коллизий с другими пакетами.
type ctxKey string

const (
	// traceIDKey — ключ для trace_id: сквозной идентификатор запроса
	// через все сервисы (переносится в headers сообщений Kafka).
	traceIDKey ctxKey = "trace_id"

	// correlationIDKey — ключ для correlation_id: связывает сообщения
	// одной бизнес-операции (например, транзакцию и обновление баланса).
	correlationIDKey ctxKey = "correlation_id"

	// loggerKey — ключ для настроенного логгера в контексте.
	loggerKey ctxKey = "logger"
)

// WithTraceID добавляет trace_id в контекст.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceIDFromContext извлекает trace_id из контекста.
// Возвращает пустую строку, если trace_id не установлен.
func TraceIDFromContext(ctx context.Context) string {
	if traceID, ok := ctx.Value(traceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// WithCorrelationID добавляет correlation_id в контекст.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

// CorrelationIDFromContext извлекает correlation_id из контекста.
// Возвращает пустую строку, если correlation_id не установлен.
func CorrelationIDFromContext(ctx context.Context) string {
	if correlationID, ok := ctx.Value(correlationIDKey).(string); ok {
		return correlationID
	}
	return ""
}

// WithLogger добавляет настроенный логгер в контекст.
// Пример:
//
//	l := logger.With().Str("service", "wallet").Logger()
//	ctx = logger.WithLogger(ctx, l)
func WithLogger(ctx context.Context, l zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext извлекает логгер из контекста и дополняет его
// trace_id и correlation_id, если они присутствуют.
// Если логгер не был добавлен явно — возвращает глобальный.
// Основной способ получения логгера в сервисах и обработчиках.
func FromContext(ctx context.Context) zerolog.Logger {
	var l zerolog.Logger
	if ctxLogger, ok := ctx.Value(loggerKey).(zerolog.Logger); ok {
		l = ctxLogger
	} else {
		l = log
	}

	if traceID := TraceIDFromContext(ctx); traceID != "" {
		l = l.With().Str("trace_id", traceID).Logger()
	}

	if correlationID := CorrelationIDFromContext(ctx); correlationID != "" {
		l = l.With().Str("correlation_id", correlationID).Logger()
	}

	return l
}

// Ctx возвращает указатель на логгер из контекста, совместимо с zerolog.Ctx().
func Ctx(ctx context.Context) *zerolog.Logger {
	l := FromContext(ctx)
	return &l
}

// NewContextWithIDs добавляет оба идентификатора в контекст, пропуская пустые.
func NewContextWithIDs(ctx context.Context, traceID, correlationID string) context.Context {
	if traceID != "" {
		ctx = WithTraceID(ctx, traceID)
	}
	if correlationID != "" {
		ctx = WithCorrelationID(ctx, correlationID)
	}
	return ctx
}
