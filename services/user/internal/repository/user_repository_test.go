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

	"example.com/wallet-system/pkg/outbox"
	"example.com/wallet-system/services/user/internal/domain"
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

func newTestRepository(db *gorm.DB) UserRepository {
	writer := outbox.NewWriter(outbox.NewRepository(db, 5*time.Minute))
	return NewUserRepository(db, writer)
}

func TestUserRepository_CreateWithWallet(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := newTestRepository(gormDB)

	user := &domain.User{
		ID:    "user-1",
		Name:  "Иван",
		Email: "ivan@example.com",
	}

	// Пользователь и запись outbox — одна транзакция
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `users`")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT COALESCE\\(MAX\\(sequence_number\\), 0\\) FROM outbox").
		WithArgs("User", "user-1").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(int64(0)))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `outbox`")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.CreateWithWallet(context.Background(), user, 1000.00)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_CreateWithWallet_OutboxErrorRollsBack(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := newTestRepository(gormDB)

	user := &domain.User{
		ID:    "user-1",
		Name:  "Иван",
		Email: "ivan@example.com",
	}

	// Ошибка вставки в outbox откатывает и пользователя —
	// не бывает регистрации без запланированного кошелька.
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `users`")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT COALESCE\\(MAX\\(sequence_number\\), 0\\) FROM outbox").
		WithArgs("User", "user-1").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(int64(0)))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `outbox`")).
		WillReturnError(errors.New("сбой базы данных"))
	mock.ExpectRollback()

	err := repo.CreateWithWallet(context.Background(), user, 1000.00)

	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_CreateWithWallet_DuplicateEmail(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := newTestRepository(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `users`")).
		WillReturnError(errors.New("Error 1062: Duplicate entry 'ivan@example.com' for key 'email'"))
	mock.ExpectRollback()

	err := repo.CreateWithWallet(context.Background(), &domain.User{
		ID:    "user-1",
		Name:  "Иван",
		Email: "ivan@example.com",
	}, 0)

	assert.ErrorIs(t, err, domain.ErrEmailExists)
}

func TestUserRepository_GetByID(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := newTestRepository(gormDB)

	now := time.Now()
	mock.ExpectQuery("SELECT .* FROM `users`").
		WithArgs("user-1", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email", "created_at", "updated_at"}).
			AddRow("user-1", "Иван", "ivan@example.com", now, now))

	user, err := repo.GetByID(context.Background(), "user-1")

	require.NoError(t, err)
	assert.Equal(t, "user-1", user.ID)
	assert.Equal(t, "ivan@example.com", user.Email)
}

func TestUserRepository_GetByID_NotFound(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := newTestRepository(gormDB)

	mock.ExpectQuery("SELECT .* FROM `users`").
		WithArgs("ghost", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email", "created_at", "updated_at"}))

	_, err := repo.GetByID(context.Background(), "ghost")

	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestUserRepository_ExistsByEmail(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := newTestRepository(gormDB)

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `users`").
		WithArgs("ivan@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	exists, err := repo.ExistsByEmail(context.Background(), "ivan@example.com")

	require.NoError(t, err)
	assert.True(t, exists)
}
