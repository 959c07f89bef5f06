package domain

import "errors"

// Доменные ошибки Transaction Service.
var (
	// ErrTransactionNotFound — транзакция не найдена.
	ErrTransactionNotFound = errors.New("транзакция не найдена")

	// ErrEmptyUserID — не указан пользователь транзакции.
	ErrEmptyUserID = errors.New("не указан идентификатор пользователя")

	// ErrEmptyAmounts — обе суммы транзакции нулевые.
	ErrEmptyAmounts = errors.New("транзакция без сумм не имеет смысла")
)
