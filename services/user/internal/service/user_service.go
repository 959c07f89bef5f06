// Package service содержит бизнес-логику User Service.
package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"example.com/wallet-system/pkg/logger"
	"example.com/wallet-system/services/user/internal/domain"
	"example.com/wallet-system/services/user/internal/repository"
)

// UserService определяет интерфейс бизнес-логики пользователей.
type UserService interface {
	// Register регистрирует нового пользователя и инициирует создание
	// кошелька через outbox (событие WALLET_CREATE).
	Register(ctx context.Context, email, name string, initialBalance float64) (userID string, err error)

	// GetUser возвращает пользователя по ID.
	GetUser(ctx context.Context, userID string) (*domain.User, error)
}

// userService — реализация UserService.
type userService struct {
	repo repository.UserRepository
}

// NewUserService создаёт новый сервис пользователей.
func NewUserService(repo repository.UserRepository) UserService {
	return &userService{repo: repo}
}

// Register регистрирует нового пользователя.
func (s *userService) Register(ctx context.Context, email, name string, initialBalance float64) (string, error) {
	log := logger.FromContext(ctx)

	if initialBalance < 0 {
		return "", domain.ErrInvalidInitialBalance
	}

	user := &domain.User{
		ID:    uuid.New().String(),
		Email: email,
		Name:  name,
	}

	// Валидация email и name
	if err := user.Validate(); err != nil {
		log.Warn().Str("email", email).Err(err).Msg("Ошибка валидации данных пользователя")
		return "", err
	}

	// Проверяем, не занят ли email
	exists, err := s.repo.ExistsByEmail(ctx, email)
	if err != nil {
		log.Error().Err(err).Str("email", email).Msg("Ошибка проверки существования email")
		return "", fmt.Errorf("ошибка проверки email: %w", err)
	}
	if exists {
		log.Warn().Str("email", email).Msg("Попытка регистрации с занятым email")
		return "", domain.ErrEmailExists
	}

	// Пользователь и событие создания кошелька — одна транзакция.
	// Relay опубликует WALLET_CREATE после commit.
	if err := s.repo.CreateWithWallet(ctx, user, initialBalance); err != nil {
		log.Error().Err(err).Str("email", email).Msg("Ошибка создания пользователя")
		return "", fmt.Errorf("ошибка создания пользователя: %w", err)
	}

	log.Info().
		Str("user_id", user.ID).
		Float64("initial_balance", initialBalance).
		Msg("Пользователь зарегистрирован, создание кошелька запланировано")

	return user.ID, nil
}

// GetUser возвращает пользователя по ID.
func (s *userService) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return user, nil
}
