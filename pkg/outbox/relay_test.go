package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"example.com/wallet-system/pkg/events"
	"example.com/wallet-system/pkg/kafka"
)

// =============================================================================
// Моки для тестов Relay
// =============================================================================

// mockRepository — мок Repository.
type mockRepository struct {
	mock.Mock
}

func (m *mockRepository) CreateInTx(tx *gorm.DB, entry *Entry) error {
	args := m.Called(tx, entry)
	return args.Error(0)
}

func (m *mockRepository) NextSequenceNumber(tx *gorm.DB, aggregateType, aggregateID string) (int64, error) {
	args := m.Called(tx, aggregateType, aggregateID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockRepository) ClaimPending(ctx context.Context, limit int) ([]*Entry, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Entry), args.Error(1)
}

func (m *mockRepository) MarkProcessed(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockRepository) Release(ctx context.Context, id string, cause error) error {
	args := m.Called(ctx, id, cause)
	return args.Error(0)
}

func (m *mockRepository) ReleaseSkipped(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockRepository) MarkFailed(ctx context.Context, id string, cause error) error {
	args := m.Called(ctx, id, cause)
	return args.Error(0)
}

func (m *mockRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

// mockPublisher — мок Publisher.
type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) SendMessage(ctx context.Context, msg *kafka.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *mockPublisher) SendToDLQ(ctx context.Context, msg *kafka.Message, processingError error) error {
	args := m.Called(ctx, msg, processingError)
	return args.Error(0)
}

// pendingEntry возвращает корректную pending-запись для тестов.
func pendingEntry(id, aggregateID string, seq int64) *Entry {
	return &Entry{
		ID:             id,
		AggregateType:  "User",
		AggregateID:    aggregateID,
		EventType:      events.TypeWalletCreate,
		Topic:          events.RoutingKeyWalletCreate,
		MessageKey:     aggregateID,
		Payload:        []byte(`{"userId":"` + aggregateID + `","initialBalance":1000.00}`),
		SequenceNumber: seq,
		EventID:        "event-" + id,
		Status:         StatusProcessing,
	}
}

// =============================================================================
// Тесты Relay
// =============================================================================

func TestRelay_ProcessOutbox_Success(t *testing.T) {
	ctx := context.Background()
	repo := new(mockRepository)
	producer := new(mockPublisher)

	relay := NewRelay(repo, producer, DefaultRelayConfig(), "test")

	entry := pendingEntry("outbox-1", "7", 1)
	repo.On("ClaimPending", ctx, mock.AnythingOfType("int")).Return([]*Entry{entry}, nil)
	producer.On("SendMessage", mock.Anything, mock.MatchedBy(func(msg *kafka.Message) bool {
		return msg.Topic == events.RoutingKeyWalletCreate &&
			msg.Headers[kafka.HeaderEventID] == "event-outbox-1"
	})).Return(nil)
	repo.On("MarkProcessed", mock.Anything, "outbox-1").Return(nil)

	relay.processOutbox(ctx)

	repo.AssertExpectations(t)
	producer.AssertExpectations(t)
}

func TestRelay_ProcessOutbox_SendErrorReleases(t *testing.T) {
	ctx := context.Background()
	repo := new(mockRepository)
	producer := new(mockPublisher)

	relay := NewRelay(repo, producer, DefaultRelayConfig(), "test")

	entry := pendingEntry("outbox-1", "7", 1)
	sendErr := errors.New("kafka unavailable")

	repo.On("ClaimPending", ctx, mock.AnythingOfType("int")).Return([]*Entry{entry}, nil)
	producer.On("SendMessage", mock.Anything, mock.AnythingOfType("*kafka.Message")).Return(sendErr)
	repo.On("Release", mock.Anything, "outbox-1", sendErr).Return(nil)

	relay.processOutbox(ctx)

	repo.AssertExpectations(t)
	// Запись не должна помечаться processed или failed
	repo.AssertNotCalled(t, "MarkProcessed")
	repo.AssertNotCalled(t, "MarkFailed")
}

func TestRelay_ProcessOutbox_DeadLetterAfterMaxRetries(t *testing.T) {
	ctx := context.Background()
	repo := new(mockRepository)
	producer := new(mockPublisher)

	cfg := DefaultRelayConfig()
	cfg.MaxRetries = 3
	relay := NewRelay(repo, producer, cfg, "test")

	entry := pendingEntry("outbox-dead", "7", 1)
	entry.RetryCount = 2 // Следующая неудача — третья, лимит исчерпан

	sendErr := errors.New("kafka unavailable")
	repo.On("ClaimPending", ctx, mock.AnythingOfType("int")).Return([]*Entry{entry}, nil)
	producer.On("SendMessage", mock.Anything, mock.AnythingOfType("*kafka.Message")).Return(sendErr)
	repo.On("MarkFailed", mock.Anything, "outbox-dead", sendErr).Return(nil)
	producer.On("SendToDLQ", mock.Anything, mock.AnythingOfType("*kafka.Message"), sendErr).Return(nil)

	relay.processOutbox(ctx)

	repo.AssertExpectations(t)
	producer.AssertExpectations(t)
	repo.AssertNotCalled(t, "Release")
}

func TestRelay_ProcessOutbox_PoisonPayloadIsolated(t *testing.T) {
	ctx := context.Background()
	repo := new(mockRepository)
	producer := new(mockPublisher)

	relay := NewRelay(repo, producer, DefaultRelayConfig(), "test")

	// Ядовитая запись одного агрегата и корректная — другого.
	poison := pendingEntry("outbox-poison", "7", 1)
	poison.Payload = []byte(`{broken json`)
	healthy := pendingEntry("outbox-ok", "8", 1)

	repo.On("ClaimPending", ctx, mock.AnythingOfType("int")).Return([]*Entry{poison, healthy}, nil)
	repo.On("Release", mock.Anything, "outbox-poison", mock.Anything).Return(nil)
	producer.On("SendMessage", mock.Anything, mock.MatchedBy(func(msg *kafka.Message) bool {
		return string(msg.Key) == "8"
	})).Return(nil)
	repo.On("MarkProcessed", mock.Anything, "outbox-ok").Return(nil)

	relay.processOutbox(ctx)

	// Корректная запись дошла до processed, несмотря на ядовитую
	repo.AssertCalled(t, "MarkProcessed", mock.Anything, "outbox-ok")
	repo.AssertExpectations(t)
	producer.AssertExpectations(t)
}

func TestRelay_ProcessOutbox_GroupHaltsOnFailure(t *testing.T) {
	ctx := context.Background()
	repo := new(mockRepository)
	producer := new(mockPublisher)

	relay := NewRelay(repo, producer, DefaultRelayConfig(), "test")

	// Два события одного агрегата: первое падает, второе не должно уйти
	// раньше первого.
	first := pendingEntry("outbox-1", "7", 1)
	second := pendingEntry("outbox-2", "7", 2)

	sendErr := errors.New("kafka unavailable")
	repo.On("ClaimPending", ctx, mock.AnythingOfType("int")).Return([]*Entry{second, first}, nil)
	producer.On("SendMessage", mock.Anything, mock.MatchedBy(func(msg *kafka.Message) bool {
		return msg.Headers[kafka.HeaderEventID] == "event-outbox-1"
	})).Return(sendErr).Once()
	repo.On("Release", mock.Anything, "outbox-1", sendErr).Return(nil)
	repo.On("ReleaseSkipped", mock.Anything, "outbox-2").Return(nil)

	relay.processOutbox(ctx)

	repo.AssertExpectations(t)
	producer.AssertNumberOfCalls(t, "SendMessage", 1)
	repo.AssertNotCalled(t, "MarkProcessed")
	// Хвост не отправлялся — его бюджет повторов не тратится
	repo.AssertNotCalled(t, "Release", mock.Anything, "outbox-2", mock.Anything)
}

func TestRelay_ProcessOutbox_HaltedTailKeepsRetryBudget(t *testing.T) {
	ctx := context.Background()
	repo := new(mockRepository)
	producer := new(mockPublisher)

	cfg := DefaultRelayConfig()
	cfg.MaxRetries = 5
	relay := NewRelay(repo, producer, cfg, "test")

	// Голова группы падает, хвост уже на грани лимита повторов
	// из-за прошлых циклов. Хвост не отправлялся — он не должен
	// уйти в failed/DLQ, только вернуться в pending без счётчика.
	head := pendingEntry("outbox-head", "7", 1)
	tail := pendingEntry("outbox-tail", "7", 2)
	tail.RetryCount = 4

	sendErr := errors.New("kafka unavailable")
	repo.On("ClaimPending", ctx, mock.AnythingOfType("int")).Return([]*Entry{head, tail}, nil)
	producer.On("SendMessage", mock.Anything, mock.MatchedBy(func(msg *kafka.Message) bool {
		return msg.Headers[kafka.HeaderEventID] == "event-outbox-head"
	})).Return(sendErr).Once()
	repo.On("Release", mock.Anything, "outbox-head", sendErr).Return(nil)
	repo.On("ReleaseSkipped", mock.Anything, "outbox-tail").Return(nil)

	relay.processOutbox(ctx)

	repo.AssertExpectations(t)
	repo.AssertNotCalled(t, "MarkFailed", mock.Anything, "outbox-tail", mock.Anything)
	producer.AssertNotCalled(t, "SendToDLQ")
}

func TestRelay_ProcessOutbox_Empty(t *testing.T) {
	ctx := context.Background()
	repo := new(mockRepository)
	producer := new(mockPublisher)

	relay := NewRelay(repo, producer, DefaultRelayConfig(), "test")

	repo.On("ClaimPending", ctx, mock.AnythingOfType("int")).Return([]*Entry{}, nil)

	relay.processOutbox(ctx)

	repo.AssertExpectations(t)
	producer.AssertNotCalled(t, "SendMessage")
}

func TestRelay_ProcessOutbox_SingleFlight(t *testing.T) {
	ctx := context.Background()
	repo := new(mockRepository)
	producer := new(mockPublisher)

	relay := NewRelay(repo, producer, DefaultRelayConfig(), "test")

	// Имитируем выполняющийся цикл — тик должен быть пропущен.
	relay.inFlight.Store(true)

	relay.processOutbox(ctx)

	repo.AssertNotCalled(t, "ClaimPending")
}

func TestRelay_Run_ContextCancel(t *testing.T) {
	repo := new(mockRepository)
	producer := new(mockPublisher)

	cfg := DefaultRelayConfig()
	cfg.PollInterval = 50 * time.Millisecond
	relay := NewRelay(repo, producer, cfg, "test")

	ctx, cancel := context.WithCancel(context.Background())

	repo.On("ClaimPending", mock.Anything, cfg.BatchSize).Return([]*Entry{}, nil)

	done := make(chan struct{})
	go func() {
		relay.Run(ctx)
		close(done)
	}()

	time.Sleep(120 * time.Millisecond)
	cancel()

	select {
	case <-done:
		// OK — relay остановился
	case <-time.After(time.Second):
		t.Fatal("Relay не остановился после отмены context")
	}
}

func TestGroupByAggregate(t *testing.T) {
	entries := []*Entry{
		pendingEntry("a2", "7", 2),
		pendingEntry("b1", "8", 1),
		pendingEntry("a1", "7", 1),
	}

	groups := groupByAggregate(entries)

	require.Len(t, groups, 2)
	// Внутри группы порядок по sequence_number
	assert.Equal(t, "a1", groups[0][0].ID)
	assert.Equal(t, "a2", groups[0][1].ID)
	assert.Equal(t, "b1", groups[1][0].ID)
}

func TestDefaultRelayConfig(t *testing.T) {
	cfg := DefaultRelayConfig()

	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 7*24*time.Hour, cfg.Retention)
}
