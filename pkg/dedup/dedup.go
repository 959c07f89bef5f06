// Package dedup реализует идемпотентную обработку событий.
//
// Каждый консьюмер перед бизнес-логикой проверяет event_id входящего
// сообщения по таблице processed_events. Вставка event_id происходит
// в той же транзакции, что и бизнес-изменения: если транзакция
// откатывается, пометка исчезает вместе с эффектом, и повторная
// доставка обработается заново. Уникальный ключ (event_id, consumer)
// гасит гонку конкурентной доставки одного сообщения.
package dedup

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

// ErrDuplicateEvent — событие с таким event_id уже обработано этим консьюмером.
var ErrDuplicateEvent = errors.New("событие уже обработано")

// ProcessedEventModel — GORM модель ведомости обработанных событий.
type ProcessedEventModel struct {
	EventID     string    `gorm:"column:event_id;type:varchar(36);primaryKey"`
	Consumer    string    `gorm:"column:consumer;type:varchar(64);primaryKey"`
	EventType   string    `gorm:"column:event_type;type:varchar(64);not null"`
	ProcessedAt time.Time `gorm:"column:processed_at;autoCreateTime"`
}

// TableName задает имя таблицы в БД.
func (ProcessedEventModel) TableName() string {
	return "processed_events"
}

// Repository — ведомость дедупликации для одного консьюмера.
type Repository interface {
	// AlreadyProcessed проверяет, обработано ли событие.
	// Быстрая проверка до открытия транзакции, дубль гасится без работы.
	AlreadyProcessed(ctx context.Context, eventID string) (bool, error)

	// MarkProcessed помечает событие обработанным внутри транзакции tx.
	// Возвращает ErrDuplicateEvent, если конкурентная доставка успела раньше.
	MarkProcessed(tx *gorm.DB, eventID, eventType string) error
}

type gormRepository struct {
	db       *gorm.DB
	consumer string
}

// NewRepository создаёт репозиторий дедупликации.
// consumer — имя консьюмера (например "wallet-service").
func NewRepository(db *gorm.DB, consumer string) Repository {
	return &gormRepository{db: db, consumer: consumer}
}

func (r *gormRepository) AlreadyProcessed(ctx context.Context, eventID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&ProcessedEventModel{}).
		Where("event_id = ? AND consumer = ?", eventID, r.consumer).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *gormRepository) MarkProcessed(tx *gorm.DB, eventID, eventType string) error {
	record := &ProcessedEventModel{
		EventID:   eventID,
		Consumer:  r.consumer,
		EventType: eventType,
	}

	if err := tx.Create(record).Error; err != nil {
		// MySQL error 1062 — конкурентная доставка вставила запись первой
		if isDuplicateKeyError(err) {
			return ErrDuplicateEvent
		}
		return err
	}
	return nil
}

// isDuplicateKeyError проверяет, является ли ошибка дубликатом ключа.
// MySQL возвращает ошибку с кодом 1062 при попытке вставить дубликат.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	// GORM v2 имеет ErrDuplicatedKey, также проверяем текст ошибки MySQL
	errMsg := err.Error()
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(errMsg, "Duplicate entry") ||
		strings.Contains(errMsg, "1062")
}
