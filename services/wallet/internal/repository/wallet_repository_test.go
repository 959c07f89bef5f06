package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"example.com/wallet-system/pkg/dedup"
	"example.com/wallet-system/pkg/events"
	"example.com/wallet-system/pkg/outbox"
	"example.com/wallet-system/services/wallet/internal/domain"
)

// setupMockDB создаёт мок базы данных с GORM.
func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err, "Ошибка создания sqlmock")

	dialector := mysql.New(mysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err, "Ошибка инициализации GORM")

	return gormDB, mock, func() { _ = db.Close() }
}

func newTestRepository(db *gorm.DB) WalletRepository {
	dedupRepo := dedup.NewRepository(db, "wallet-service")
	writer := outbox.NewWriter(outbox.NewRepository(db, 5*time.Minute))
	return NewWalletRepository(db, dedupRepo, writer)
}

func walletColumns() []string {
	return []string{"id", "user_id", "usd_balance", "btc_balance", "created_at", "updated_at"}
}

func TestWalletRepository_CreateIfAbsent(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := newTestRepository(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `wallets`")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	created, err := repo.CreateIfAbsent(context.Background(), &domain.Wallet{
		ID:         "wallet-1",
		UserID:     "7",
		USDBalance: 1000.00,
	})

	require.NoError(t, err)
	assert.True(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletRepository_CreateIfAbsent_AlreadyExists(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := newTestRepository(gormDB)

	// Повторная доставка WALLET_CREATE — дубликат user_id не ошибка
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `wallets`")).
		WillReturnError(errors.New("Error 1062: Duplicate entry '7' for key 'uniq_wallet_user'"))
	mock.ExpectRollback()

	created, err := repo.CreateIfAbsent(context.Background(), &domain.Wallet{
		ID:     "wallet-2",
		UserID: "7",
	})

	require.NoError(t, err)
	assert.False(t, created)
}

func TestWalletRepository_GetByUserID(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := newTestRepository(gormDB)

	now := time.Now()
	mock.ExpectQuery("SELECT .* FROM `wallets`").
		WithArgs("7", 1).
		WillReturnRows(sqlmock.NewRows(walletColumns()).
			AddRow("wallet-1", "7", 9500.00, 0.51, now, now))

	wallet, err := repo.GetByUserID(context.Background(), "7")

	require.NoError(t, err)
	assert.Equal(t, 9500.00, wallet.USDBalance)
	assert.Equal(t, 0.51, wallet.BTCBalance)
}

func TestWalletRepository_GetByUserID_NotFound(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := newTestRepository(gormDB)

	mock.ExpectQuery("SELECT .* FROM `wallets`").
		WithArgs("ghost", 1).
		WillReturnRows(sqlmock.NewRows(walletColumns()))

	_, err := repo.GetByUserID(context.Background(), "ghost")

	assert.ErrorIs(t, err, domain.ErrWalletNotFound)
}

func TestWalletRepository_ApplyTransaction(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := newTestRepository(gormDB)

	now := time.Now()

	// Одна транзакция БД: дедупликация, баланс под блокировкой,
	// производное событие в outbox
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `processed_events`")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT .* FROM `wallets` .*FOR UPDATE").
		WithArgs("42", 1).
		WillReturnRows(sqlmock.NewRows(walletColumns()).
			AddRow("wallet-1", "42", 10000.00, 0, now, now))
	mock.ExpectExec("UPDATE `wallets` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT COALESCE\\(MAX\\(sequence_number\\), 0\\) FROM outbox").
		WithArgs("Wallet", "42").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(int64(0)))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `outbox`")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	wallet, err := repo.ApplyTransaction(context.Background(), "event-1", events.TransactionCreated{
		TransactionID: "tx-1",
		UserID:        "42",
		USDAmount:     -500.00,
		BTCAmount:     0.51,
	})

	require.NoError(t, err)
	assert.Equal(t, 9500.00, wallet.USDBalance)
	assert.Equal(t, 0.51, wallet.BTCBalance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletRepository_ApplyTransaction_Duplicate(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := newTestRepository(gormDB)

	// Конкурентная доставка уже вставила event_id — баланс не трогаем
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `processed_events`")).
		WillReturnError(errors.New("Error 1062: Duplicate entry"))
	mock.ExpectRollback()

	_, err := repo.ApplyTransaction(context.Background(), "event-1", events.TransactionCreated{
		UserID:    "42",
		USDAmount: -500.00,
	})

	assert.ErrorIs(t, err, dedup.ErrDuplicateEvent)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletRepository_ApplyTransaction_WalletNotFound(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := newTestRepository(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `processed_events`")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT .* FROM `wallets` .*FOR UPDATE").
		WithArgs("ghost", 1).
		WillReturnRows(sqlmock.NewRows(walletColumns()))
	mock.ExpectRollback()

	_, err := repo.ApplyTransaction(context.Background(), "event-1", events.TransactionCreated{
		UserID: "ghost",
	})

	// Откат снимает и пометку дедупликации — повторная доставка
	// обработается после создания кошелька
	assert.ErrorIs(t, err, domain.ErrWalletNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
