package cache

import (
	"context"
	"fmt"

	"example.com/wallet-system/pkg/events"
	"example.com/wallet-system/pkg/kafka"
	"example.com/wallet-system/pkg/logger"
	"example.com/wallet-system/pkg/metrics"
	"example.com/wallet-system/services/transaction/internal/domain"
)

// Listener наполняет кэш балансов из двух источников:
// ответов wallet-сервиса на запросы баланса (reply-топик этого инстанса)
// и широковещательных событий wallet.update. Оба обработчика просто
// перезаписывают снимок — последний выигрывает.
type Listener struct {
	cache *BalanceCache
}

// NewListener создаёт новый слушатель обновлений баланса.
func NewListener(cache *BalanceCache) *Listener {
	return &Listener{cache: cache}
}

// HandleBalanceResponse обрабатывает ответ на запрос баланса.
func (l *Listener) HandleBalanceResponse(ctx context.Context, msg *kafka.Message) error {
	log := logger.Ctx(ctx)

	payload, err := events.Decode(events.TypeBalanceResponse, msg.Value)
	if err != nil {
		log.Error().
			Err(err).
			Str("value", string(msg.Value)).
			Msg("Ошибка декодирования BALANCE_RESPONSE")
		metrics.RecordConsumed("transaction", string(events.TypeBalanceResponse), "error")
		return fmt.Errorf("некорректный payload BALANCE_RESPONSE: %w", err)
	}
	event := payload.(events.BalanceResponse)

	if err := l.store(ctx, event.UserID, event.USDAmount, event.BTCAmount); err != nil {
		metrics.RecordConsumed("transaction", string(events.TypeBalanceResponse), "error")
		return err
	}

	log.Info().
		Str("user_id", event.UserID).
		Float64("usd_amount", event.USDAmount).
		Float64("btc_amount", event.BTCAmount).
		Msg("Снимок баланса обновлён из ответа wallet-сервиса")

	metrics.RecordConsumed("transaction", string(events.TypeBalanceResponse), "success")
	return nil
}

// HandleBalanceUpdated обрабатывает производное событие wallet.update.
func (l *Listener) HandleBalanceUpdated(ctx context.Context, msg *kafka.Message) error {
	log := logger.Ctx(ctx)

	payload, err := events.Decode(events.TypeBalanceUpdated, msg.Value)
	if err != nil {
		log.Error().
			Err(err).
			Str("value", string(msg.Value)).
			Msg("Ошибка декодирования BALANCE_UPDATED")
		metrics.RecordConsumed("transaction", string(events.TypeBalanceUpdated), "error")
		return fmt.Errorf("некорректный payload BALANCE_UPDATED: %w", err)
	}
	event := payload.(events.BalanceUpdated)

	if err := l.store(ctx, event.UserID, event.USDAmount, event.BTCAmount); err != nil {
		metrics.RecordConsumed("transaction", string(events.TypeBalanceUpdated), "error")
		return err
	}

	log.Debug().
		Str("user_id", event.UserID).
		Float64("usd_amount", event.USDAmount).
		Msg("Снимок баланса обновлён из wallet.update")

	metrics.RecordConsumed("transaction", string(events.TypeBalanceUpdated), "success")
	return nil
}

// store перезаписывает снимок баланса в кэше.
func (l *Listener) store(ctx context.Context, userID string, usd, btc float64) error {
	if userID == "" {
		// Нечего кэшировать, ретраи бессмысленны
		return nil
	}

	return l.cache.Set(ctx, &domain.Balance{
		UserID:    userID,
		USDAmount: usd,
		BTCAmount: btc,
	})
}
