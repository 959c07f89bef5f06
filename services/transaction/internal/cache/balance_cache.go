// Package cache реализует кэш балансов поверх Redis (cache-aside).
//
// Чтение баланса идёт из кэша; при промахе публикуется асинхронный
// запрос к wallet-сервису, а вызывающему возвращается нулевой снимок.
// Кэш наполняется слушателем ответов и событий wallet.update —
// повторное чтение возвращает уже сошедшееся значение.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"example.com/wallet-system/services/transaction/internal/domain"
)

// BalanceCache — Redis кэш снимков балансов.
type BalanceCache struct {
	rdb      *redis.Client
	prefix   string
	ttl      time.Duration // 0 = без истечения
	debounce time.Duration
}

// Config содержит настройки кэша балансов.
type Config struct {
	Prefix          string
	TTL             time.Duration
	RequestDebounce time.Duration
}

// NewBalanceCache создаёт новый кэш балансов.
func NewBalanceCache(rdb *redis.Client, cfg Config) *BalanceCache {
	return &BalanceCache{
		rdb:      rdb,
		prefix:   cfg.Prefix,
		ttl:      cfg.TTL,
		debounce: cfg.RequestDebounce,
	}
}

// key возвращает ключ снимка баланса в Redis.
func (c *BalanceCache) key(userID string) string {
	return c.prefix + userID
}

// requestKey возвращает ключ маркера запроса баланса (debounce).
func (c *BalanceCache) requestKey(userID string) string {
	return c.prefix + "req:" + userID
}

// Get возвращает снимок баланса из кэша.
// Второй результат false — промах (ключа нет).
func (c *BalanceCache) Get(ctx context.Context, userID string) (*domain.Balance, bool, error) {
	data, err := c.rdb.Get(ctx, c.key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("ошибка чтения из кэша: %w", err)
	}

	var balance domain.Balance
	if err := json.Unmarshal(data, &balance); err != nil {
		// Битое значение равносильно промаху, перезапишется слушателем
		return nil, false, nil
	}

	return &balance, true, nil
}

// Set сохраняет снимок баланса в кэш, перезаписывая устаревший.
func (c *BalanceCache) Set(ctx context.Context, balance *domain.Balance) error {
	data, err := json.Marshal(balance)
	if err != nil {
		return fmt.Errorf("ошибка сериализации снимка баланса: %w", err)
	}

	if err := c.rdb.Set(ctx, c.key(balance.UserID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("ошибка записи в кэш: %w", err)
	}
	return nil
}

// TryMarkRequested помечает, что запрос баланса по пользователю уже в полёте.
// Возвращает true, если маркер поставлен этим вызовом — только тогда
// нужно публиковать запрос; повторные промахи в окне debounce гасятся.
func (c *BalanceCache) TryMarkRequested(ctx context.Context, userID string) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, c.requestKey(userID), 1, c.debounce).Result()
	if err != nil {
		return false, fmt.Errorf("ошибка установки маркера запроса: %w", err)
	}
	return ok, nil
}

// Invalidate удаляет снимок баланса из кэша.
func (c *BalanceCache) Invalidate(ctx context.Context, userID string) error {
	return c.rdb.Del(ctx, c.key(userID)).Err()
}
