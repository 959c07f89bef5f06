package outbox

import (
	"time"

	"example.com/wallet-system/pkg/events"
)

// EntryModel — GORM модель для таблицы outbox.
type EntryModel struct {
	ID             string     `gorm:"column:id;type:varchar(36);primaryKey"`
	AggregateType  string     `gorm:"column:aggregate_type;type:varchar(50);not null;index:idx_outbox_aggregate;uniqueIndex:uniq_outbox_sequence"`
	AggregateID    string     `gorm:"column:aggregate_id;type:varchar(36);not null;index:idx_outbox_aggregate;uniqueIndex:uniq_outbox_sequence"`
	EventType      string     `gorm:"column:event_type;type:varchar(100);not null"`
	Topic          string     `gorm:"column:topic;type:varchar(100);not null"`
	MessageKey     string     `gorm:"column:message_key;type:varchar(100);not null"`
	Payload        []byte     `gorm:"column:payload;type:json;not null"`
	Headers        []byte     `gorm:"column:headers;type:json"`
	SequenceNumber int64      `gorm:"column:sequence_number;not null;uniqueIndex:uniq_outbox_sequence"`
	EventID        string     `gorm:"column:event_id;type:varchar(36);not null;uniqueIndex:uniq_outbox_event_id"`
	Status         string     `gorm:"column:status;type:varchar(20);not null;default:pending;index:idx_outbox_status"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime"`
	ProcessedAt    *time.Time `gorm:"column:processed_at"`
	RetryCount     int        `gorm:"column:retry_count;not null;default:0"`
	LastError      *string    `gorm:"column:last_error;type:text"`
}

// TableName возвращает имя таблицы в БД.
func (EntryModel) TableName() string {
	return "outbox"
}

// ToDomain конвертирует GORM модель в доменную сущность.
func (m *EntryModel) ToDomain() *Entry {
	e := &Entry{
		ID:             m.ID,
		AggregateType:  m.AggregateType,
		AggregateID:    m.AggregateID,
		EventType:      events.Type(m.EventType),
		Topic:          m.Topic,
		MessageKey:     m.MessageKey,
		Payload:        m.Payload,
		SequenceNumber: m.SequenceNumber,
		EventID:        m.EventID,
		Status:         Status(m.Status),
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
		ProcessedAt:    m.ProcessedAt,
		RetryCount:     m.RetryCount,
		LastError:      m.LastError,
	}

	if len(m.Headers) > 0 {
		_ = e.SetHeadersFromJSON(m.Headers)
	}

	return e
}

// ModelFromDomain конвертирует доменную сущность в GORM модель.
func ModelFromDomain(e *Entry) *EntryModel {
	model := &EntryModel{
		ID:             e.ID,
		AggregateType:  e.AggregateType,
		AggregateID:    e.AggregateID,
		EventType:      string(e.EventType),
		Topic:          e.Topic,
		MessageKey:     e.MessageKey,
		Payload:        e.Payload,
		SequenceNumber: e.SequenceNumber,
		EventID:        e.EventID,
		Status:         string(e.Status),
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
		ProcessedAt:    e.ProcessedAt,
		RetryCount:     e.RetryCount,
		LastError:      e.LastError,
	}

	if e.Headers != nil {
		if data, err := e.HeadersJSON(); err == nil {
			model.Headers = data
		}
	}

	return model
}
