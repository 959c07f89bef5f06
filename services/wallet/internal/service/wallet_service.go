// Package service содержит бизнес-логику Wallet Service.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"example.com/wallet-system/pkg/dedup"
	"example.com/wallet-system/pkg/events"
	"example.com/wallet-system/pkg/logger"
	"example.com/wallet-system/pkg/metrics"
	"example.com/wallet-system/services/wallet/internal/domain"
	"example.com/wallet-system/services/wallet/internal/repository"
)

// WalletService определяет интерфейс бизнес-логики кошельков.
type WalletService interface {
	// CreateWallet создаёт кошелёк для нового пользователя.
	// Идемпотентна: повторное событие WALLET_CREATE — no-op.
	CreateWallet(ctx context.Context, event events.WalletCreate) error

	// ApplyTransaction применяет транзакцию к балансу кошелька.
	// Идемпотентна по event_id: дубль не меняет баланс второй раз.
	ApplyTransaction(ctx context.Context, eventID string, event events.TransactionCreated) error

	// GetBalance возвращает авторитетный баланс пользователя.
	GetBalance(ctx context.Context, userID string) (*domain.Wallet, error)
}

// walletService — реализация WalletService.
type walletService struct {
	repo  repository.WalletRepository
	dedup dedup.Repository
}

// NewWalletService создаёт новый сервис кошельков.
func NewWalletService(repo repository.WalletRepository, dedupRepo dedup.Repository) WalletService {
	return &walletService{
		repo:  repo,
		dedup: dedupRepo,
	}
}

// CreateWallet создаёт кошелёк для пользователя.
func (s *walletService) CreateWallet(ctx context.Context, event events.WalletCreate) error {
	log := logger.FromContext(ctx)

	if event.UserID == "" {
		return domain.ErrEmptyUserID
	}

	wallet := &domain.Wallet{
		ID:         uuid.New().String(),
		UserID:     event.UserID,
		USDBalance: event.InitialBalance,
	}

	created, err := s.repo.CreateIfAbsent(ctx, wallet)
	if err != nil {
		log.Error().Err(err).Str("user_id", event.UserID).Msg("Ошибка создания кошелька")
		return fmt.Errorf("ошибка создания кошелька: %w", err)
	}

	if !created {
		// Создание естественно идемпотентно, ведомость дедупликации не нужна
		log.Info().Str("user_id", event.UserID).Msg("Кошелёк уже существует, повторная доставка пропущена")
		metrics.DuplicateEventsTotal.WithLabelValues("wallet").Inc()
		return nil
	}

	log.Info().
		Str("wallet_id", wallet.ID).
		Str("user_id", wallet.UserID).
		Float64("initial_balance", wallet.USDBalance).
		Msg("Кошелёк создан")

	return nil
}

// ApplyTransaction применяет транзакцию к балансу.
func (s *walletService) ApplyTransaction(ctx context.Context, eventID string, event events.TransactionCreated) error {
	log := logger.FromContext(ctx)

	if eventID == "" {
		return domain.ErrEmptyEventID
	}
	if event.UserID == "" {
		return domain.ErrEmptyUserID
	}

	// Быстрая проверка до открытия транзакции: известный дубль
	// гасится без блокировок.
	processed, err := s.dedup.AlreadyProcessed(ctx, eventID)
	if err != nil {
		return fmt.Errorf("ошибка проверки дедупликации: %w", err)
	}
	if processed {
		log.Info().Str("event_id", eventID).Msg("Событие уже обработано, повторная доставка пропущена")
		metrics.DuplicateEventsTotal.WithLabelValues("wallet").Inc()
		return nil
	}

	wallet, err := s.repo.ApplyTransaction(ctx, eventID, event)
	if err != nil {
		// Конкурентный дубль проиграл гонку за уникальный ключ — no-op
		if errors.Is(err, dedup.ErrDuplicateEvent) {
			log.Info().Str("event_id", eventID).Msg("Конкурентная доставка уже применила событие")
			metrics.DuplicateEventsTotal.WithLabelValues("wallet").Inc()
			return nil
		}
		return err
	}

	log.Info().
		Str("event_id", eventID).
		Str("user_id", event.UserID).
		Str("transaction_id", event.TransactionID).
		Float64("usd_balance", wallet.USDBalance).
		Float64("btc_balance", wallet.BTCBalance).
		Msg("Транзакция применена к балансу")

	return nil
}

// GetBalance возвращает баланс пользователя.
func (s *walletService) GetBalance(ctx context.Context, userID string) (*domain.Wallet, error) {
	return s.repo.GetByUserID(ctx, userID)
}
