// Package consumer реализует обработку интеграционных событий Wallet Service.
// Сервис слушает три топика: создание кошельков, новые транзакции и запросы
// баланса. Offset коммитится консьюмером только после успешной обработки.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"example.com/wallet-system/pkg/events"
	"example.com/wallet-system/pkg/kafka"
	"example.com/wallet-system/pkg/logger"
	"example.com/wallet-system/pkg/metrics"
	"example.com/wallet-system/services/wallet/internal/domain"
	"example.com/wallet-system/services/wallet/internal/service"
)

// Replier — интерфейс отправки ответов на запросы баланса.
// Позволяет замокать kafka.Producer в unit-тестах.
type Replier interface {
	SendMessage(ctx context.Context, msg *kafka.Message) error
}

// Handler обрабатывает события из Kafka для Wallet Service.
type Handler struct {
	walletService service.WalletService
	replier       Replier
}

// NewHandler создаёт новый обработчик событий.
func NewHandler(walletService service.WalletService, replier Replier) *Handler {
	return &Handler{
		walletService: walletService,
		replier:       replier,
	}
}

// HandleWalletCreate обрабатывает событие WALLET_CREATE.
func (h *Handler) HandleWalletCreate(ctx context.Context, msg *kafka.Message) error {
	log := logger.Ctx(ctx)

	payload, err := events.Decode(events.TypeWalletCreate, msg.Value)
	if err != nil {
		log.Error().
			Err(err).
			Str("value", string(msg.Value)).
			Msg("Ошибка декодирования WALLET_CREATE")
		metrics.RecordConsumed("wallet", string(events.TypeWalletCreate), "error")
		// Битое сообщение после повторов уйдёт в DLQ
		return fmt.Errorf("некорректный payload WALLET_CREATE: %w", err)
	}
	event := payload.(events.WalletCreate)

	if err := h.walletService.CreateWallet(ctx, event); err != nil {
		metrics.RecordConsumed("wallet", string(events.TypeWalletCreate), "error")
		return err
	}

	metrics.RecordConsumed("wallet", string(events.TypeWalletCreate), "success")
	return nil
}

// HandleTransactionCreated обрабатывает событие TRANSACTION_CREATED.
func (h *Handler) HandleTransactionCreated(ctx context.Context, msg *kafka.Message) error {
	log := logger.Ctx(ctx)

	payload, err := events.Decode(events.TypeTransactionCreated, msg.Value)
	if err != nil {
		log.Error().
			Err(err).
			Str("value", string(msg.Value)).
			Msg("Ошибка декодирования TRANSACTION_CREATED")
		metrics.RecordConsumed("wallet", string(events.TypeTransactionCreated), "error")
		return fmt.Errorf("некорректный payload TRANSACTION_CREATED: %w", err)
	}
	event := payload.(events.TransactionCreated)

	// event_id из headers — ключ дедупликации
	if err := h.walletService.ApplyTransaction(ctx, msg.EventID(), event); err != nil {
		metrics.RecordConsumed("wallet", string(events.TypeTransactionCreated), "error")
		return err
	}

	metrics.RecordConsumed("wallet", string(events.TypeTransactionCreated), "success")
	return nil
}

// HandleBalanceRequest обрабатывает запрос баланса и отвечает в топик
// из reply_to (header или поле payload).
func (h *Handler) HandleBalanceRequest(ctx context.Context, msg *kafka.Message) error {
	log := logger.Ctx(ctx)

	payload, err := events.Decode(events.TypeBalanceRequest, msg.Value)
	if err != nil {
		log.Error().
			Err(err).
			Str("value", string(msg.Value)).
			Msg("Ошибка декодирования BALANCE_REQUEST")
		metrics.RecordConsumed("wallet", string(events.TypeBalanceRequest), "error")
		return fmt.Errorf("некорректный payload BALANCE_REQUEST: %w", err)
	}
	event := payload.(events.BalanceRequest)

	replyTo := msg.ReplyTo()
	if replyTo == "" {
		replyTo = event.ReplyTo
	}
	if replyTo == "" {
		log.Warn().Str("user_id", event.UserID).Msg("В запросе баланса не указан reply_to, ответ не отправлен")
		metrics.RecordConsumed("wallet", string(events.TypeBalanceRequest), "error")
		// Некуда отвечать — ретраи бессмысленны
		return nil
	}

	response := events.BalanceResponse{UserID: event.UserID}

	wallet, err := h.walletService.GetBalance(ctx, event.UserID)
	switch {
	case err == nil:
		response.USDAmount = wallet.USDBalance
		response.BTCAmount = wallet.BTCBalance
	case errors.Is(err, domain.ErrWalletNotFound):
		// Кошелька нет — отвечаем нулевым балансом, кэш запрашивающего
		// сойдётся после создания кошелька через wallet.update
		log.Warn().Str("user_id", event.UserID).Msg("Кошелёк не найден, отвечаем нулевым снимком")
	default:
		// Сбой чтения — не отвечаем: нулевой снимок затёр бы корректный
		// кэш запрашивающего. Сообщение уйдёт на повтор.
		metrics.RecordConsumed("wallet", string(events.TypeBalanceRequest), "error")
		return fmt.Errorf("ошибка чтения баланса: %w", err)
	}

	if err := h.sendReply(ctx, replyTo, response); err != nil {
		metrics.RecordConsumed("wallet", string(events.TypeBalanceRequest), "error")
		return fmt.Errorf("ошибка отправки ответа на запрос баланса: %w", err)
	}

	log.Info().
		Str("user_id", event.UserID).
		Str("reply_to", replyTo).
		Float64("usd_amount", response.USDAmount).
		Float64("btc_amount", response.BTCAmount).
		Msg("Отправлен ответ на запрос баланса")

	metrics.RecordConsumed("wallet", string(events.TypeBalanceRequest), "success")
	return nil
}

// sendReply отправляет BalanceResponse в reply-топик запрашивающего.
func (h *Handler) sendReply(ctx context.Context, replyTo string, response events.BalanceResponse) error {
	data, err := events.Marshal(response)
	if err != nil {
		return err
	}

	return h.replier.SendMessage(ctx, &kafka.Message{
		Topic: replyTo,
		Key:   []byte(response.UserID),
		Value: data,
		Headers: map[string]string{
			kafka.HeaderEventID:   uuid.NewString(),
			kafka.HeaderEventType: string(events.TypeBalanceResponse),
			kafka.HeaderTimestamp: time.Now().UTC().Format(time.RFC3339),
		},
	})
}
