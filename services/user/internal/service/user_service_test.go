package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/wallet-system/services/user/internal/domain"
)

// mockUserRepository — мок UserRepository.
type mockUserRepository struct {
	mock.Mock
}

func (m *mockUserRepository) CreateWithWallet(ctx context.Context, user *domain.User, initialBalance float64) error {
	args := m.Called(ctx, user, initialBalance)
	return args.Error(0)
}

func (m *mockUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	args := m.Called(ctx, email)
	return args.Bool(0), args.Error(1)
}

func TestUserService_Register(t *testing.T) {
	repo := new(mockUserRepository)
	svc := NewUserService(repo)

	repo.On("ExistsByEmail", mock.Anything, "ivan@example.com").Return(false, nil)
	repo.On("CreateWithWallet", mock.Anything, mock.MatchedBy(func(u *domain.User) bool {
		return u.Email == "ivan@example.com" && u.Name == "Иван" && len(u.ID) == 36
	}), 1000.00).Return(nil)

	userID, err := svc.Register(context.Background(), "ivan@example.com", "Иван", 1000.00)

	require.NoError(t, err)
	assert.Len(t, userID, 36)
	repo.AssertExpectations(t)
}

func TestUserService_Register_EmailExists(t *testing.T) {
	repo := new(mockUserRepository)
	svc := NewUserService(repo)

	repo.On("ExistsByEmail", mock.Anything, "ivan@example.com").Return(true, nil)

	_, err := svc.Register(context.Background(), "ivan@example.com", "Иван", 0)

	assert.ErrorIs(t, err, domain.ErrEmailExists)
	repo.AssertNotCalled(t, "CreateWithWallet")
}

func TestUserService_Register_ValidationError(t *testing.T) {
	repo := new(mockUserRepository)
	svc := NewUserService(repo)

	_, err := svc.Register(context.Background(), "not-an-email", "Иван", 0)

	assert.ErrorIs(t, err, domain.ErrInvalidEmail)
	repo.AssertNotCalled(t, "ExistsByEmail")
}

func TestUserService_Register_NegativeInitialBalance(t *testing.T) {
	repo := new(mockUserRepository)
	svc := NewUserService(repo)

	_, err := svc.Register(context.Background(), "ivan@example.com", "Иван", -10)

	assert.ErrorIs(t, err, domain.ErrInvalidInitialBalance)
}

func TestUserService_Register_RepositoryError(t *testing.T) {
	repo := new(mockUserRepository)
	svc := NewUserService(repo)

	repo.On("ExistsByEmail", mock.Anything, "ivan@example.com").Return(false, nil)
	repo.On("CreateWithWallet", mock.Anything, mock.Anything, 0.0).
		Return(errors.New("сбой базы данных"))

	_, err := svc.Register(context.Background(), "ivan@example.com", "Иван", 0)

	assert.Error(t, err)
}

func TestUserService_GetUser(t *testing.T) {
	repo := new(mockUserRepository)
	svc := NewUserService(repo)

	repo.On("GetByID", mock.Anything, "user-1").Return(&domain.User{ID: "user-1", Name: "Иван"}, nil)

	user, err := svc.GetUser(context.Background(), "user-1")

	require.NoError(t, err)
	assert.Equal(t, "Иван", user.Name)
}

func TestUserService_GetUser_NotFound(t *testing.T) {
	repo := new(mockUserRepository)
	svc := NewUserService(repo)

	repo.On("GetByID", mock.Anything, "ghost").Return(nil, domain.ErrUserNotFound)

	_, err := svc.GetUser(context.Background(), "ghost")

	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}
