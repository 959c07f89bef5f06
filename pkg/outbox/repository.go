package outbox

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrEntryNotFound — запись outbox не найдена или уже в другом статусе.
var ErrEntryNotFound = errors.New("запись outbox не найдена")

// Repository определяет методы работы с таблицей outbox.
// Интерфейс для тестируемости (Dependency Inversion).
type Repository interface {
	// CreateInTx создаёт запись outbox на переданном транзакционном
	// handle. Вызывается Writer-ом внутри бизнес-транзакции — отдельного
	// commit/rollback не выполняет.
	CreateInTx(tx *gorm.DB, entry *Entry) error

	// NextSequenceNumber возвращает следующий sequence_number для пары
	// (aggregate_type, aggregate_id) на транзакционном handle.
	// Блокирует существующие записи агрегата (FOR UPDATE), чтобы два
	// параллельных writer-а не получили один номер.
	NextSequenceNumber(tx *gorm.DB, aggregateType, aggregateID string) (int64, error)

	// ClaimPending захватывает пачку записей для отправки: переводит
	// pending (и зависшие processing) в processing под блокировкой
	// FOR UPDATE SKIP LOCKED. Два relay-инстанса не получат одну запись
	// и не разберут события одного агрегата параллельно.
	ClaimPending(ctx context.Context, limit int) ([]*Entry, error)

	// MarkProcessed помечает захваченную запись как отправленную,
	// processed_at выставляется ровно один раз.
	MarkProcessed(ctx context.Context, id string) error

	// Release возвращает запись в pending после неудачной отправки,
	// увеличивая retry_count и сохраняя текст ошибки.
	Release(ctx context.Context, id string, cause error) error

	// ReleaseSkipped возвращает запись в pending без увеличения
	// retry_count: попытка не предпринималась (хвост остановленной
	// группы), в бюджет повторов входят только реальные отправки.
	ReleaseSkipped(ctx context.Context, id string) error

	// MarkFailed переводит запись в терминальный статус failed
	// после исчерпания повторов.
	MarkFailed(ctx context.Context, id string, cause error) error

	// DeleteProcessedBefore удаляет обработанные записи старше указанного
	// времени. Возвращает количество удалённых записей.
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
}

// repository — GORM реализация Repository.
type repository struct {
	db *gorm.DB

	// claimTimeout — через сколько зависшая processing-запись
	// (упавший relay) снова доступна для захвата.
	claimTimeout time.Duration
}

// NewRepository создаёт новый репозиторий outbox.
func NewRepository(db *gorm.DB, claimTimeout time.Duration) Repository {
	return &repository{db: db, claimTimeout: claimTimeout}
}

// CreateInTx создаёт запись outbox на транзакционном handle вызывающего.
func (r *repository) CreateInTx(tx *gorm.DB, entry *Entry) error {
	model := ModelFromDomain(entry)
	if err := tx.Create(model).Error; err != nil {
		return err
	}
	entry.CreatedAt = model.CreatedAt
	entry.UpdatedAt = model.UpdatedAt
	return nil
}

// NextSequenceNumber вычисляет 1 + max(sequence_number) для агрегата.
func (r *repository) NextSequenceNumber(tx *gorm.DB, aggregateType, aggregateID string) (int64, error) {
	var maxSeq int64
	err := tx.Raw(
		`SELECT COALESCE(MAX(sequence_number), 0) FROM outbox
		 WHERE aggregate_type = ? AND aggregate_id = ? FOR UPDATE`,
		aggregateType, aggregateID,
	).Scan(&maxSeq).Error
	if err != nil {
		return 0, err
	}
	return maxSeq + 1, nil
}

// ClaimPending захватывает пачку записей в одной транзакции:
// SELECT ... FOR UPDATE SKIP LOCKED + перевод в processing.
// Сортировка по sequence_number сохраняет порядок внутри агрегата.
// Агрегаты со свежей processing-записью (in-flight у другого relay)
// не захватываются: событие N+1 не уйдёт, пока чужой инстанс держит N.
func (r *repository) ClaimPending(ctx context.Context, limit int) ([]*Entry, error) {
	var claimed []*Entry

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		staleBefore := time.Now().Add(-r.claimTimeout)

		var models []EntryModel
		if err := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("(status = ? OR (status = ? AND updated_at < ?))"+
				" AND NOT EXISTS (SELECT 1 FROM outbox busy"+
				" WHERE busy.aggregate_type = outbox.aggregate_type"+
				" AND busy.aggregate_id = outbox.aggregate_id"+
				" AND busy.status = ? AND busy.updated_at >= ?)",
				string(StatusPending), string(StatusProcessing), staleBefore,
				string(StatusProcessing), staleBefore).
			Order("sequence_number ASC, created_at ASC").
			Limit(limit).
			Find(&models).Error; err != nil {
			return err
		}

		if len(models) == 0 {
			return nil
		}

		ids := make([]string, len(models))
		for i := range models {
			ids[i] = models[i].ID
		}

		now := time.Now()
		if err := tx.Model(&EntryModel{}).
			Where("id IN ?", ids).
			Updates(map[string]any{
				"status":     string(StatusProcessing),
				"updated_at": now,
			}).Error; err != nil {
			return err
		}

		claimed = make([]*Entry, len(models))
		for i := range models {
			entry := models[i].ToDomain()
			entry.Status = StatusProcessing
			entry.UpdatedAt = now
			claimed[i] = entry
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return claimed, nil
}

// MarkProcessed помечает запись как отправленную.
// Условие по статусу гарантирует, что processed_at выставляется один раз.
func (r *repository) MarkProcessed(ctx context.Context, id string) error {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&EntryModel{}).
		Where("id = ? AND status = ?", id, string(StatusProcessing)).
		Updates(map[string]any{
			"status":       string(StatusProcessed),
			"processed_at": now,
			"updated_at":   now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// Release возвращает запись в pending для повтора на следующем цикле.
func (r *repository) Release(ctx context.Context, id string, cause error) error {
	errStr := cause.Error()
	result := r.db.WithContext(ctx).Model(&EntryModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":      string(StatusPending),
			"retry_count": gorm.Expr("retry_count + 1"),
			"last_error":  errStr,
			"updated_at":  time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// ReleaseSkipped возвращает неотправленную запись в pending.
// retry_count и last_error не трогаем — отправки не было.
func (r *repository) ReleaseSkipped(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Model(&EntryModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     string(StatusPending),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// MarkFailed переводит запись в терминальный статус failed.
func (r *repository) MarkFailed(ctx context.Context, id string, cause error) error {
	errStr := cause.Error()
	result := r.db.WithContext(ctx).Model(&EntryModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     string(StatusFailed),
			"last_error": errStr,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// DeleteProcessedBefore удаляет обработанные записи пачками по 1000,
// чтобы не держать длинные блокировки.
func (r *repository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status = ? AND processed_at < ?", string(StatusProcessed), before).
		Limit(1000).
		Delete(&EntryModel{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
