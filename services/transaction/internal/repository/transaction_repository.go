// Package repository содержит реализацию доступа к данным Transaction Service.
package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"example.com/wallet-system/pkg/events"
	"example.com/wallet-system/pkg/outbox"
	"example.com/wallet-system/services/transaction/internal/domain"
)

// TransactionRepository определяет интерфейс для работы с транзакциями в БД.
type TransactionRepository interface {
	// Create сохраняет транзакцию и запись outbox TRANSACTION_CREATED
	// в одной транзакции БД.
	Create(ctx context.Context, txn *domain.Transaction) error

	// GetByID возвращает транзакцию по ID.
	GetByID(ctx context.Context, id string) (*domain.Transaction, error)

	// ListByUserID возвращает транзакции пользователя, новые первыми.
	ListByUserID(ctx context.Context, userID string, limit int) ([]*domain.Transaction, error)
}

// TransactionModel — GORM модель для таблицы transactions.
type TransactionModel struct {
	ID        string    `gorm:"column:id;type:varchar(36);primaryKey"`
	UserID    string    `gorm:"column:user_id;type:varchar(36);index:idx_transactions_user;not null"`
	USDAmount float64   `gorm:"column:usd_amount;not null"`
	BTCAmount float64   `gorm:"column:btc_amount;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName возвращает имя таблицы в БД.
func (TransactionModel) TableName() string {
	return "transactions"
}

// toDomain конвертирует GORM модель в доменную сущность.
func (m *TransactionModel) toDomain() *domain.Transaction {
	return &domain.Transaction{
		ID:        m.ID,
		UserID:    m.UserID,
		USDAmount: m.USDAmount,
		BTCAmount: m.BTCAmount,
		CreatedAt: m.CreatedAt,
	}
}

// fromDomain конвертирует доменную сущность в GORM модель.
func fromDomain(t *domain.Transaction) *TransactionModel {
	return &TransactionModel{
		ID:        t.ID,
		UserID:    t.UserID,
		USDAmount: t.USDAmount,
		BTCAmount: t.BTCAmount,
		CreatedAt: t.CreatedAt,
	}
}

// transactionRepository — GORM реализация TransactionRepository.
type transactionRepository struct {
	db     *gorm.DB
	outbox *outbox.Writer
}

// NewTransactionRepository создаёт новый репозиторий транзакций.
func NewTransactionRepository(db *gorm.DB, outboxWriter *outbox.Writer) TransactionRepository {
	return &transactionRepository{db: db, outbox: outboxWriter}
}

// Create сохраняет транзакцию и событие TRANSACTION_CREATED атомарно.
func (r *transactionRepository) Create(ctx context.Context, txn *domain.Transaction) error {
	model := fromDomain(txn)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(model).Error; err != nil {
			return err
		}

		// Агрегат события — пользователь: порядок изменений баланса
		// одного пользователя сохраняется и в outbox, и в партиции Kafka
		_, err := r.outbox.Record(ctx, tx, "User", txn.UserID, events.TypeTransactionCreated, events.TransactionCreated{
			TransactionID: txn.ID,
			UserID:        txn.UserID,
			USDAmount:     txn.USDAmount,
			BTCAmount:     txn.BTCAmount,
		})
		return err
	})
	if err != nil {
		return err
	}

	txn.CreatedAt = model.CreatedAt

	return nil
}

// GetByID возвращает транзакцию по ID.
func (r *transactionRepository) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	var model TransactionModel

	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

// ListByUserID возвращает транзакции пользователя.
func (r *transactionRepository) ListByUserID(ctx context.Context, userID string, limit int) ([]*domain.Transaction, error) {
	var models []TransactionModel

	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	txns := make([]*domain.Transaction, 0, len(models))
	for i := range models {
		txns = append(txns, models[i].toDomain())
	}
	return txns, nil
}
