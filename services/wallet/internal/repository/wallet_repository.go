// Package repository содержит реализацию доступа к данным для Wallet Service.
package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/wallet-system/pkg/dedup"
	"example.com/wallet-system/pkg/events"
	"example.com/wallet-system/pkg/outbox"
	"example.com/wallet-system/services/wallet/internal/domain"
)

// WalletRepository определяет интерфейс для работы с кошельками в БД.
type WalletRepository interface {
	// CreateIfAbsent создаёт кошелёк, если у пользователя его ещё нет.
	// Возвращает false без ошибки, если кошелёк уже существует —
	// повторная доставка WALLET_CREATE безопасна сама по себе.
	CreateIfAbsent(ctx context.Context, wallet *domain.Wallet) (created bool, err error)

	// GetByUserID возвращает кошелёк пользователя.
	GetByUserID(ctx context.Context, userID string) (*domain.Wallet, error)

	// ApplyTransaction применяет дельты транзакции к балансу.
	// В одной транзакции БД: пометка event_id в ведомости дедупликации,
	// изменение баланса под блокировкой строки и запись outbox
	// BALANCE_UPDATED. Повторная доставка возвращает dedup.ErrDuplicateEvent,
	// и никакой из эффектов не применяется второй раз.
	ApplyTransaction(ctx context.Context, eventID string, event events.TransactionCreated) (*domain.Wallet, error)
}

// WalletModel — GORM модель для таблицы wallets.
type WalletModel struct {
	ID         string    `gorm:"column:id;type:varchar(36);primaryKey"`
	UserID     string    `gorm:"column:user_id;type:varchar(36);uniqueIndex:uniq_wallet_user;not null"`
	USDBalance float64   `gorm:"column:usd_balance;not null;default:0"`
	BTCBalance float64   `gorm:"column:btc_balance;not null;default:0"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName возвращает имя таблицы в БД.
func (WalletModel) TableName() string {
	return "wallets"
}

// toDomain конвертирует GORM модель в доменную сущность.
func (m *WalletModel) toDomain() *domain.Wallet {
	return &domain.Wallet{
		ID:         m.ID,
		UserID:     m.UserID,
		USDBalance: m.USDBalance,
		BTCBalance: m.BTCBalance,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

// fromDomain конвертирует доменную сущность в GORM модель.
func fromDomain(w *domain.Wallet) *WalletModel {
	return &WalletModel{
		ID:         w.ID,
		UserID:     w.UserID,
		USDBalance: w.USDBalance,
		BTCBalance: w.BTCBalance,
		CreatedAt:  w.CreatedAt,
		UpdatedAt:  w.UpdatedAt,
	}
}

// walletRepository — GORM реализация WalletRepository.
type walletRepository struct {
	db     *gorm.DB
	dedup  dedup.Repository
	outbox *outbox.Writer
}

// NewWalletRepository создаёт новый репозиторий кошельков.
func NewWalletRepository(db *gorm.DB, dedupRepo dedup.Repository, outboxWriter *outbox.Writer) WalletRepository {
	return &walletRepository{
		db:     db,
		dedup:  dedupRepo,
		outbox: outboxWriter,
	}
}

// CreateIfAbsent создаёт кошелёк, если его ещё нет.
func (r *walletRepository) CreateIfAbsent(ctx context.Context, wallet *domain.Wallet) (bool, error) {
	model := fromDomain(wallet)

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		// Дубликат user_id — кошелёк уже создан предыдущей доставкой
		if isDuplicateKeyError(err) {
			return false, nil
		}
		return false, err
	}

	wallet.CreatedAt = model.CreatedAt
	wallet.UpdatedAt = model.UpdatedAt

	return true, nil
}

// GetByUserID возвращает кошелёк пользователя.
func (r *walletRepository) GetByUserID(ctx context.Context, userID string) (*domain.Wallet, error) {
	var model WalletModel

	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrWalletNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

// ApplyTransaction атомарно применяет транзакцию к балансу кошелька.
func (r *walletRepository) ApplyTransaction(ctx context.Context, eventID string, event events.TransactionCreated) (*domain.Wallet, error) {
	var updated *domain.Wallet

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Пометка дедупликации первой: конкурентный дубль упирается
		// в уникальный ключ и откатывается, не тронув баланс.
		if err := r.dedup.MarkProcessed(tx, eventID, string(events.TypeTransactionCreated)); err != nil {
			return err
		}

		// Блокировка строки кошелька до конца транзакции
		var model WalletModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", event.UserID).
			First(&model).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrWalletNotFound
			}
			return err
		}

		wallet := model.toDomain()
		wallet.Apply(event.USDAmount, event.BTCAmount)
		wallet.UpdatedAt = time.Now()

		if err := tx.Model(&WalletModel{}).
			Where("id = ?", model.ID).
			Updates(map[string]interface{}{
				"usd_balance": wallet.USDBalance,
				"btc_balance": wallet.BTCBalance,
				"updated_at":  wallet.UpdatedAt,
			}).Error; err != nil {
			return err
		}

		// Производное событие для реплик балансов (кэши, read models)
		_, err := r.outbox.Record(ctx, tx, "Wallet", wallet.UserID, events.TypeBalanceUpdated, events.BalanceUpdated{
			UserID:    wallet.UserID,
			USDAmount: wallet.USDBalance,
			BTCAmount: wallet.BTCBalance,
			UpdatedAt: wallet.UpdatedAt,
		})
		if err != nil {
			return err
		}

		updated = wallet
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// isDuplicateKeyError проверяет, является ли ошибка дубликатом ключа.
// MySQL возвращает ошибку с кодом 1062 при попытке вставить дубликат.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	errMsg := err.Error()
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(errMsg, "Duplicate entry") ||
		strings.Contains(errMsg, "1062")
}
