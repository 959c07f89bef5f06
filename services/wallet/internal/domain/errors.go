package domain

import "errors"

// Доменные ошибки Wallet Service.
var (
	// ErrWalletNotFound — кошелёк пользователя не найден.
	ErrWalletNotFound = errors.New("кошелёк не найден")

	// ErrEmptyUserID — в событии не указан пользователь.
	ErrEmptyUserID = errors.New("не указан идентификатор пользователя")

	// ErrEmptyEventID — в сообщении нет event_id, дедупликация невозможна.
	ErrEmptyEventID = errors.New("в сообщении отсутствует event_id")
)
