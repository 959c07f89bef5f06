package events

import (
	"encoding/json"
	"fmt"
)

// ErrUnknownType возвращается при попытке декодировать событие
// незарегистрированного типа.
type ErrUnknownType struct {
	Type Type
}

func (e *ErrUnknownType) Error() string {
	return fmt.Sprintf("неизвестный тип события: %s", e.Type)
}

// decoder разбирает JSON payload в типизированную структуру события.
type decoder func(data []byte) (any, error)

// registry сопоставляет тип события с его декодером.
// Диспетчеризация по тегу типа вместо разрозненных type switch
// по всем консьюмерам.
var registry = map[Type]decoder{
	TypeWalletCreate:       decodeInto[WalletCreate],
	TypeTransactionCreated: decodeInto[TransactionCreated],
	TypeBalanceUpdated:     decodeInto[BalanceUpdated],
	TypeBalanceRequest:     decodeInto[BalanceRequest],
	TypeBalanceResponse:    decodeInto[BalanceResponse],
}

// decodeInto декодирует payload в значение типа T.
func decodeInto[T any](data []byte) (any, error) {
	var payload T
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// Decode разбирает payload события по его типу.
// Возвращает типизированную структуру (WalletCreate, BalanceUpdated и т.д.).
func Decode(eventType Type, data []byte) (any, error) {
	decode, ok := registry[eventType]
	if !ok {
		return nil, &ErrUnknownType{Type: eventType}
	}

	payload, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("ошибка декодирования %s: %w", eventType, err)
	}
	return payload, nil
}

// Known сообщает, зарегистрирован ли тип события.
func Known(eventType Type) bool {
	_, ok := registry[eventType]
	return ok
}
