// Package outbox реализует Outbox Pattern для гарантированной доставки
// интеграционных событий в Kafka. Бизнес-данные и запись outbox пишутся
// в одной транзакции БД (Writer), отдельный Relay читает таблицу и
// отправляет события в брокер с гарантией at-least-once.
package outbox

import (
	"encoding/json"
	"time"

	"example.com/wallet-system/pkg/events"
)

// Status — статус записи outbox.
type Status string

const (
	// StatusPending — начальный статус, запись ждёт отправки.
	StatusPending Status = "pending"

	// StatusProcessing — запись захвачена relay-инстансом.
	// Защита от двойной отправки при горизонтальном масштабировании.
	StatusProcessing Status = "processing"

	// StatusProcessed — терминальный успех, событие опубликовано.
	StatusProcessed Status = "processed"

	// StatusFailed — терминальная ошибка после исчерпания повторов,
	// payload отправлен в DLQ для ручного разбора.
	StatusFailed Status = "failed"
)

// Entry — запись в таблице outbox: одно доменное событие.
type Entry struct {
	ID            string            // UUID записи (суррогатный ключ)
	AggregateType string            // Тип агрегата (User / Wallet / Transaction)
	AggregateID   string            // ID агрегата
	EventType     events.Type       // Логическое имя события
	Topic         string            // Routing key (топик Kafka)
	MessageKey    string            // Ключ партиционирования (aggregate_id)
	Payload       []byte            // JSON payload события
	Headers       map[string]string // Headers для Kafka (trace_id, event_id)

	// SequenceNumber строго возрастает внутри пары
	// (aggregate_type, aggregate_id) — порядок событий агрегата.
	SequenceNumber int64

	// EventID — глобально уникальный UUID события, переносится в headers
	// сообщения и используется консьюмерами для дедупликации.
	EventID string

	Status      Status
	CreatedAt   time.Time  // Время создания, неизменяемо
	UpdatedAt   time.Time  // Время последнего перехода статуса
	ProcessedAt *time.Time // Время первой успешной отправки (ровно один раз)
	RetryCount  int        // Количество неудачных попыток отправки
	LastError   *string    // Текст последней ошибки
}

// AggregateKey возвращает ключ группировки записей по агрегату.
func (e *Entry) AggregateKey() string {
	return e.AggregateType + "/" + e.AggregateID
}

// HeadersJSON возвращает headers в формате JSON для БД.
func (e *Entry) HeadersJSON() ([]byte, error) {
	if e.Headers == nil {
		return nil, nil
	}
	return json.Marshal(e.Headers)
}

// SetHeadersFromJSON устанавливает headers из JSON.
func (e *Entry) SetHeadersFromJSON(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, &e.Headers)
}
