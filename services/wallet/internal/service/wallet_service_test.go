package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"example.com/wallet-system/pkg/dedup"
	"example.com/wallet-system/pkg/events"
	"example.com/wallet-system/services/wallet/internal/domain"
)

// mockWalletRepository — мок WalletRepository.
type mockWalletRepository struct {
	mock.Mock
}

func (m *mockWalletRepository) CreateIfAbsent(ctx context.Context, wallet *domain.Wallet) (bool, error) {
	args := m.Called(ctx, wallet)
	return args.Bool(0), args.Error(1)
}

func (m *mockWalletRepository) GetByUserID(ctx context.Context, userID string) (*domain.Wallet, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Wallet), args.Error(1)
}

func (m *mockWalletRepository) ApplyTransaction(ctx context.Context, eventID string, event events.TransactionCreated) (*domain.Wallet, error) {
	args := m.Called(ctx, eventID, event)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Wallet), args.Error(1)
}

// mockDedupRepository — мок dedup.Repository.
type mockDedupRepository struct {
	mock.Mock
}

func (m *mockDedupRepository) AlreadyProcessed(ctx context.Context, eventID string) (bool, error) {
	args := m.Called(ctx, eventID)
	return args.Bool(0), args.Error(1)
}

func (m *mockDedupRepository) MarkProcessed(tx *gorm.DB, eventID, eventType string) error {
	args := m.Called(tx, eventID, eventType)
	return args.Error(0)
}

func TestWalletService_CreateWallet(t *testing.T) {
	repo := new(mockWalletRepository)
	dedupRepo := new(mockDedupRepository)
	svc := NewWalletService(repo, dedupRepo)

	repo.On("CreateIfAbsent", mock.Anything, mock.MatchedBy(func(w *domain.Wallet) bool {
		return w.UserID == "7" && w.USDBalance == 1000.00 && len(w.ID) == 36
	})).Return(true, nil)

	err := svc.CreateWallet(context.Background(), events.WalletCreate{
		UserID:         "7",
		InitialBalance: 1000.00,
	})

	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestWalletService_CreateWallet_AlreadyExists(t *testing.T) {
	repo := new(mockWalletRepository)
	svc := NewWalletService(repo, new(mockDedupRepository))

	// Повторная доставка — no-op без ошибки
	repo.On("CreateIfAbsent", mock.Anything, mock.Anything).Return(false, nil)

	err := svc.CreateWallet(context.Background(), events.WalletCreate{UserID: "7"})

	assert.NoError(t, err)
}

func TestWalletService_CreateWallet_EmptyUserID(t *testing.T) {
	repo := new(mockWalletRepository)
	svc := NewWalletService(repo, new(mockDedupRepository))

	err := svc.CreateWallet(context.Background(), events.WalletCreate{})

	assert.ErrorIs(t, err, domain.ErrEmptyUserID)
	repo.AssertNotCalled(t, "CreateIfAbsent")
}

func TestWalletService_ApplyTransaction(t *testing.T) {
	repo := new(mockWalletRepository)
	dedupRepo := new(mockDedupRepository)
	svc := NewWalletService(repo, dedupRepo)

	event := events.TransactionCreated{
		TransactionID: "tx-1",
		UserID:        "42",
		USDAmount:     -500.00,
		BTCAmount:     0.51,
	}

	dedupRepo.On("AlreadyProcessed", mock.Anything, "event-1").Return(false, nil)
	repo.On("ApplyTransaction", mock.Anything, "event-1", event).
		Return(&domain.Wallet{UserID: "42", USDBalance: 9500.00, BTCBalance: 0.51}, nil)

	err := svc.ApplyTransaction(context.Background(), "event-1", event)

	require.NoError(t, err)
	repo.AssertExpectations(t)
	dedupRepo.AssertExpectations(t)
}

func TestWalletService_ApplyTransaction_KnownDuplicate(t *testing.T) {
	repo := new(mockWalletRepository)
	dedupRepo := new(mockDedupRepository)
	svc := NewWalletService(repo, dedupRepo)

	// Известный дубль гасится до открытия транзакции
	dedupRepo.On("AlreadyProcessed", mock.Anything, "event-1").Return(true, nil)

	err := svc.ApplyTransaction(context.Background(), "event-1", events.TransactionCreated{UserID: "42"})

	require.NoError(t, err)
	repo.AssertNotCalled(t, "ApplyTransaction")
}

func TestWalletService_ApplyTransaction_ConcurrentDuplicate(t *testing.T) {
	repo := new(mockWalletRepository)
	dedupRepo := new(mockDedupRepository)
	svc := NewWalletService(repo, dedupRepo)

	// Гонка: проверка прошла, но конкурентная доставка успела первой
	dedupRepo.On("AlreadyProcessed", mock.Anything, "event-1").Return(false, nil)
	repo.On("ApplyTransaction", mock.Anything, "event-1", mock.Anything).
		Return(nil, dedup.ErrDuplicateEvent)

	err := svc.ApplyTransaction(context.Background(), "event-1", events.TransactionCreated{UserID: "42"})

	assert.NoError(t, err)
}

func TestWalletService_ApplyTransaction_EmptyEventID(t *testing.T) {
	repo := new(mockWalletRepository)
	svc := NewWalletService(repo, new(mockDedupRepository))

	err := svc.ApplyTransaction(context.Background(), "", events.TransactionCreated{UserID: "42"})

	assert.ErrorIs(t, err, domain.ErrEmptyEventID)
}

func TestWalletService_ApplyTransaction_RepositoryError(t *testing.T) {
	repo := new(mockWalletRepository)
	dedupRepo := new(mockDedupRepository)
	svc := NewWalletService(repo, dedupRepo)

	dedupRepo.On("AlreadyProcessed", mock.Anything, "event-1").Return(false, nil)
	repo.On("ApplyTransaction", mock.Anything, "event-1", mock.Anything).
		Return(nil, errors.New("сбой базы данных"))

	err := svc.ApplyTransaction(context.Background(), "event-1", events.TransactionCreated{UserID: "42"})

	assert.Error(t, err)
}

func TestWalletService_GetBalance(t *testing.T) {
	repo := new(mockWalletRepository)
	svc := NewWalletService(repo, new(mockDedupRepository))

	repo.On("GetByUserID", mock.Anything, "42").
		Return(&domain.Wallet{UserID: "42", USDBalance: 9500.00, BTCBalance: 0.51}, nil)

	wallet, err := svc.GetBalance(context.Background(), "42")

	require.NoError(t, err)
	assert.Equal(t, 9500.00, wallet.USDBalance)
}
