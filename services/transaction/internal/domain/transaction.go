// Package domain содержит доменные сущности Transaction Service.
package domain

import "time"

// Transaction — зафиксированная операция обмена USD/BTC.
// Суммы — дельты, применяемые wallet-сервисом к балансу пользователя.
type Transaction struct {
	ID        string
	UserID    string
	USDAmount float64
	BTCAmount float64
	CreatedAt time.Time
}

// Validate проверяет корректность транзакции.
func (t *Transaction) Validate() error {
	if t.UserID == "" {
		return ErrEmptyUserID
	}
	if t.USDAmount == 0 && t.BTCAmount == 0 {
		return ErrEmptyAmounts
	}
	return nil
}

// Balance — локальный снимок баланса пользователя (реплика кэша).
// Авторитетное значение живёт в wallet-сервисе; снимок может отставать
// и сходится через события wallet.update и ответы на запросы баланса.
type Balance struct {
	UserID    string  `json:"userId"`
	USDAmount float64 `json:"usdAmount"`
	BTCAmount float64 `json:"btcAmount"`
}
