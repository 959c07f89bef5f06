// Package domain содержит доменные сущности Wallet Service.
package domain

import "time"

// Wallet — кошелёк пользователя, авторитетный источник баланса.
// Балансы меняются только применением событий TRANSACTION_CREATED;
// каждое применение порождает производное событие BALANCE_UPDATED.
type Wallet struct {
	ID         string
	UserID     string
	USDBalance float64
	BTCBalance float64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Apply применяет дельты транзакции к балансу.
// Отрицательные дельты допустимы (покупка BTC уменьшает USD).
func (w *Wallet) Apply(usdDelta, btcDelta float64) {
	w.USDBalance += usdDelta
	w.BTCBalance += btcDelta
}
