// Package service содержит бизнес-логику Transaction Service.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"example.com/wallet-system/pkg/events"
	"example.com/wallet-system/pkg/kafka"
	"example.com/wallet-system/pkg/logger"
	"example.com/wallet-system/pkg/metrics"
	"example.com/wallet-system/services/transaction/internal/cache"
	"example.com/wallet-system/services/transaction/internal/domain"
	"example.com/wallet-system/services/transaction/internal/repository"
)

// Publisher — интерфейс отправки сообщений в брокер.
// Позволяет замокать kafka.Producer в unit-тестах.
type Publisher interface {
	SendMessage(ctx context.Context, msg *kafka.Message) error
}

// TransactionService определяет интерфейс бизнес-логики транзакций.
type TransactionService interface {
	// CreateTransaction фиксирует транзакцию; событие TRANSACTION_CREATED
	// попадает в outbox той же транзакцией БД.
	CreateTransaction(ctx context.Context, userID string, usdAmount, btcAmount float64) (*domain.Transaction, error)

	// GetBalance возвращает снимок баланса по схеме cache-aside:
	// попадание — значение из Redis; промах — нулевой снимок и
	// асинхронный запрос к wallet-сервису.
	GetBalance(ctx context.Context, userID string) (*domain.Balance, error)

	// GetTransaction возвращает транзакцию по ID.
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)
}

// transactionService — реализация TransactionService.
type transactionService struct {
	repo       repository.TransactionRepository
	cache      *cache.BalanceCache
	publisher  Publisher
	replyTopic string // Топик для ответов wallet-сервиса этому инстансу
}

// NewTransactionService создаёт новый сервис транзакций.
func NewTransactionService(
	repo repository.TransactionRepository,
	balanceCache *cache.BalanceCache,
	publisher Publisher,
	replyTopic string,
) TransactionService {
	return &transactionService{
		repo:       repo,
		cache:      balanceCache,
		publisher:  publisher,
		replyTopic: replyTopic,
	}
}

// CreateTransaction фиксирует новую транзакцию.
func (s *transactionService) CreateTransaction(ctx context.Context, userID string, usdAmount, btcAmount float64) (*domain.Transaction, error) {
	log := logger.FromContext(ctx)

	txn := &domain.Transaction{
		ID:        uuid.New().String(),
		UserID:    userID,
		USDAmount: usdAmount,
		BTCAmount: btcAmount,
	}

	if err := txn.Validate(); err != nil {
		log.Warn().Str("user_id", userID).Err(err).Msg("Ошибка валидации транзакции")
		return nil, err
	}

	if err := s.repo.Create(ctx, txn); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Ошибка создания транзакции")
		return nil, fmt.Errorf("ошибка создания транзакции: %w", err)
	}

	log.Info().
		Str("transaction_id", txn.ID).
		Str("user_id", userID).
		Float64("usd_amount", usdAmount).
		Float64("btc_amount", btcAmount).
		Msg("Транзакция зафиксирована, событие запланировано в outbox")

	return txn, nil
}

// GetBalance возвращает снимок баланса пользователя.
func (s *transactionService) GetBalance(ctx context.Context, userID string) (*domain.Balance, error) {
	balance, hit, err := s.cache.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if hit {
		metrics.RecordCache("transaction", true)
		return balance, nil
	}

	metrics.RecordCache("transaction", false)

	// Промах: запрашиваем авторитетный баланс асинхронно.
	// Ответа не ждём — вызывающий получает нулевой снимок, кэш
	// сойдётся к ответу wallet-сервиса к следующему чтению.
	s.requestBalance(ctx, userID)

	return &domain.Balance{UserID: userID}, nil
}

// requestBalance публикует BALANCE_REQUEST, если запрос по пользователю
// ещё не в полёте. Ошибки не прерывают чтение — тихая деградация.
func (s *transactionService) requestBalance(ctx context.Context, userID string) {
	log := logger.FromContext(ctx)

	first, err := s.cache.TryMarkRequested(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("Ошибка маркера запроса баланса, запрос пропущен")
		return
	}
	if !first {
		log.Debug().Str("user_id", userID).Msg("Запрос баланса уже в полёте, повторный промах погашен")
		return
	}

	data, err := events.Marshal(events.BalanceRequest{
		UserID:  userID,
		ReplyTo: s.replyTopic,
	})
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Ошибка сериализации запроса баланса")
		return
	}

	msg := &kafka.Message{
		Topic: events.RoutingKeyBalanceRequest,
		Key:   []byte(userID),
		Value: data,
		Headers: map[string]string{
			kafka.HeaderEventID:   uuid.NewString(),
			kafka.HeaderEventType: string(events.TypeBalanceRequest),
			kafka.HeaderReplyTo:   s.replyTopic,
			kafka.HeaderTimestamp: time.Now().UTC().Format(time.RFC3339),
		},
	}

	if err := s.publisher.SendMessage(ctx, msg); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("Ошибка публикации запроса баланса")
		return
	}

	log.Info().Str("user_id", userID).Str("reply_to", s.replyTopic).Msg("Опубликован запрос баланса")
}

// GetTransaction возвращает транзакцию по ID.
func (s *transactionService) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	return s.repo.GetByID(ctx, id)
}
