// Package domain содержит доменные сущности и бизнес-правила User Service.
package domain

import (
	"regexp"
	"strings"
	"time"
)

// emailRegex — упрощённая проверка формата email.
var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// User представляет пользователя системы.
// При регистрации пользователю заводится кошелёк: событие WALLET_CREATE
// фиксируется в outbox той же транзакцией, что и строка пользователя.
type User struct {
	ID        string
	Name      string
	Email     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate проверяет корректность данных пользователя.
func (u *User) Validate() error {
	if strings.TrimSpace(u.Name) == "" {
		return ErrEmptyName
	}

	if len(u.Name) > 100 {
		return ErrNameTooLong
	}

	if !emailRegex.MatchString(u.Email) {
		return ErrInvalidEmail
	}

	return nil
}
