// Package events описывает интеграционные события системы:
// routing keys (топики), типы событий и структуры payload.
// Payload несёт минимальный набор полей для воспроизведения эффекта
// на стороне консьюмера.
package events

import (
	"encoding/json"
	"time"
)

// Routing keys событий. Имя топика = routing key домена.
const (
	// RoutingKeyWalletCreate — создание кошелька для нового пользователя.
	RoutingKeyWalletCreate = "wallet.create.routing.key"

	// RoutingKeyWalletUpdate — производное событие об изменении баланса,
	// публикуется wallet-сервисом после применения транзакции.
	RoutingKeyWalletUpdate = "wallet.update.routing.key"

	// RoutingKeyTransactionCreate — зафиксирована новая транзакция.
	RoutingKeyTransactionCreate = "transaction.create.routing.key"

	// RoutingKeyBalanceRequest — запрос актуального баланса (cache miss),
	// ответ приходит в топик из header reply_to.
	RoutingKeyBalanceRequest = "balance.request.routing.key"
)

// Type — логическое имя события.
type Type string

const (
	TypeWalletCreate       Type = "WALLET_CREATE"
	TypeTransactionCreated Type = "TRANSACTION_CREATED"
	TypeBalanceUpdated     Type = "BALANCE_UPDATED"
	TypeBalanceRequest     Type = "BALANCE_REQUEST"
	TypeBalanceResponse    Type = "BALANCE_RESPONSE"
)

// RoutingKey возвращает routing key (топик) для типа события.
// Для BALANCE_RESPONSE routing key определяется полем replyTo запроса.
func (t Type) RoutingKey() string {
	switch t {
	case TypeWalletCreate:
		return RoutingKeyWalletCreate
	case TypeTransactionCreated:
		return RoutingKeyTransactionCreate
	case TypeBalanceUpdated:
		return RoutingKeyWalletUpdate
	case TypeBalanceRequest:
		return RoutingKeyBalanceRequest
	default:
		return ""
	}
}

// WalletCreate — событие создания кошелька при регистрации пользователя.
type WalletCreate struct {
	UserID         string  `json:"userId"`
	InitialBalance float64 `json:"initialBalance"`
}

// TransactionCreated — событие о новой транзакции.
// Суммы — дельты, применяемые к балансу кошелька.
type TransactionCreated struct {
	TransactionID string  `json:"transactionId"`
	UserID        string  `json:"userId"`
	USDAmount     float64 `json:"usdAmount"`
	BTCAmount     float64 `json:"btcAmount"`
}

// BalanceUpdated — производное событие wallet-сервиса: актуальный снимок
// баланса после применения транзакции. Консьюмеры обновляют свои реплики.
type BalanceUpdated struct {
	UserID    string    `json:"userId"`
	USDAmount float64   `json:"usdAmount"`
	BTCAmount float64   `json:"btcAmount"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BalanceRequest — асинхронный запрос баланса при cache miss.
// ReplyTo — топик, в который нужно отправить BalanceResponse.
type BalanceRequest struct {
	UserID  string `json:"userId"`
	ReplyTo string `json:"replyTo"`
}

// BalanceResponse — ответ wallet-сервиса с авторитетным балансом.
type BalanceResponse struct {
	UserID    string  `json:"userId"`
	USDAmount float64 `json:"usdAmount"`
	BTCAmount float64 `json:"btcAmount"`
}

// Marshal сериализует payload события в JSON.
func Marshal(payload any) ([]byte, error) {
	return json.Marshal(payload)
}
