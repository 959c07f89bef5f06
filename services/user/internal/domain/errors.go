package domain

import "errors"

// Доменные ошибки User Service.
// Сервисный слой оборачивает их через fmt.Errorf("...: %w", err),
// вызывающие проверяют через errors.Is.
var (
	// ErrUserNotFound — пользователь не найден.
	ErrUserNotFound = errors.New("пользователь не найден")

	// ErrEmailExists — пользователь с таким email уже зарегистрирован.
	ErrEmailExists = errors.New("email уже используется")

	// ErrEmptyName — не указано имя пользователя.
	ErrEmptyName = errors.New("имя пользователя не может быть пустым")

	// ErrNameTooLong — имя превышает допустимую длину.
	ErrNameTooLong = errors.New("имя пользователя слишком длинное")

	// ErrInvalidEmail — email имеет некорректный формат.
	ErrInvalidEmail = errors.New("некорректный формат email")

	// ErrInvalidInitialBalance — начальный баланс не может быть отрицательным.
	ErrInvalidInitialBalance = errors.New("начальный баланс не может быть отрицательным")
)
