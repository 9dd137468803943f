package reservation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"mealshare/internal/config"
	"mealshare/internal/ledger"
	"mealshare/internal/logger"
	"mealshare/internal/models"
	"mealshare/internal/reservation/db"
)

type MockDB struct{ mock.Mock }

func (m *MockDB) Get(ctx context.Context, eventID, userID string) (*models.Reservation, error) {
	args := m.Called(ctx, eventID, userID)
	if r := args.Get(0); r != nil {
		return r.(*models.Reservation), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDB) Create(ctx context.Context, reservation *models.Reservation) error {
	return m.Called(ctx, reservation).Error(0)
}

func (m *MockDB) Delete(ctx context.Context, eventID, userID string) (bool, error) {
	args := m.Called(ctx, eventID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockDB) ListByUser(ctx context.Context, userID string) ([]models.Reservation, error) {
	args := m.Called(ctx, userID)
	if r := args.Get(0); r != nil {
		return r.([]models.Reservation), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockEvents struct{ mock.Mock }

func (m *MockEvents) GetEvent(ctx context.Context, eventID string) (*models.Event, error) {
	args := m.Called(ctx, eventID)
	if e := args.Get(0); e != nil {
		return e.(*models.Event), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockLedger struct{ mock.Mock }

func (m *MockLedger) Admit(ctx context.Context, eventID string) error {
	return m.Called(ctx, eventID).Error(0)
}

func (m *MockLedger) Release(ctx context.Context, eventID string) error {
	return m.Called(ctx, eventID).Error(0)
}

func (m *MockLedger) SpotsLeft(ctx context.Context, eventID string) (int, error) {
	args := m.Called(ctx, eventID)
	return args.Int(0), args.Error(1)
}

type MockPublisher struct{ mock.Mock }

func (m *MockPublisher) Publish(topic string, key string, value []byte) error {
	return m.Called(topic, key, value).Error(0)
}

// openLock always grants the lock; scenario tests exercise the protocol,
// not contention.
type openLock struct{}

func (openLock) Acquire(ctx context.Context, eventID, token string) (bool, error) { return true, nil }
func (openLock) Release(ctx context.Context, eventID, token string) error         { return nil }

func testTopics() config.TopicConfig {
	return config.TopicConfig{
		ReservationConfirmed: "test.reserved",
		ReservationCancelled: "test.cancelled",
		EventDeleted:         "test.deleted",
	}
}

func testEvent() *models.Event {
	return &models.Event{
		ID:       "ev-1",
		OwnerID:  "owner-1",
		Title:    "Leftover pizza",
		Capacity: 5,
	}
}

func newTestService(dbLayer DBLayer, events EventStore, capLedger CapacityLedger, pub Publisher) *Service {
	return NewService(dbLayer, events, capLedger, openLock{}, pub, testTopics(), logger.NewNop())
}

func TestReserveHappyPath(t *testing.T) {
	mockDB := new(MockDB)
	mockEvents := new(MockEvents)
	mockLedger := new(MockLedger)
	mockPub := new(MockPublisher)

	mockEvents.On("GetEvent", mock.Anything, "ev-1").Return(testEvent(), nil)
	mockDB.On("Get", mock.Anything, "ev-1", "user-1").Return(nil, nil)
	mockLedger.On("Admit", mock.Anything, "ev-1").Return(nil)
	mockDB.On("Create", mock.Anything, mock.AnythingOfType("*models.Reservation")).Return(nil)
	mockLedger.On("SpotsLeft", mock.Anything, "ev-1").Return(4, nil)
	mockPub.On("Publish", "test.reserved", "ev-1", mock.Anything).Return(nil)

	svc := newTestService(mockDB, mockEvents, mockLedger, mockPub)
	spotsLeft, err := svc.Reserve(context.Background(), "ev-1", "user-1")

	require.NoError(t, err)
	assert.Equal(t, 4, spotsLeft)
	mockDB.AssertExpectations(t)
	mockLedger.AssertExpectations(t)
	mockPub.AssertExpectations(t)
}

func TestReserveSecondAttemptIsConflict(t *testing.T) {
	mockDB := new(MockDB)
	mockEvents := new(MockEvents)
	mockLedger := new(MockLedger)

	mockEvents.On("GetEvent", mock.Anything, "ev-1").Return(testEvent(), nil)
	mockDB.On("Get", mock.Anything, "ev-1", "user-1").
		Return(&models.Reservation{ID: "res-1", EventID: "ev-1", UserID: "user-1"}, nil)

	svc := newTestService(mockDB, mockEvents, mockLedger, new(MockPublisher))
	_, err := svc.Reserve(context.Background(), "ev-1", "user-1")

	assert.ErrorIs(t, err, ErrAlreadyReserved)
	mockLedger.AssertNotCalled(t, "Admit", mock.Anything, mock.Anything)
}

func TestReserveFullEvent(t *testing.T) {
	mockDB := new(MockDB)
	mockEvents := new(MockEvents)
	mockLedger := new(MockLedger)

	mockEvents.On("GetEvent", mock.Anything, "ev-1").Return(testEvent(), nil)
	mockDB.On("Get", mock.Anything, "ev-1", "user-1").Return(nil, nil)
	mockLedger.On("Admit", mock.Anything, "ev-1").Return(ledger.ErrFull)

	svc := newTestService(mockDB, mockEvents, mockLedger, new(MockPublisher))
	_, err := svc.Reserve(context.Background(), "ev-1", "user-1")

	assert.ErrorIs(t, err, ledger.ErrFull)
	mockDB.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestReserveUnknownEvent(t *testing.T) {
	mockEvents := new(MockEvents)
	mockEvents.On("GetEvent", mock.Anything, "nope").Return(nil, nil)

	svc := newTestService(new(MockDB), mockEvents, new(MockLedger), new(MockPublisher))
	_, err := svc.Reserve(context.Background(), "nope", "user-1")

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReserveRollsBackAdmitWhenInsertFails(t *testing.T) {
	mockDB := new(MockDB)
	mockEvents := new(MockEvents)
	mockLedger := new(MockLedger)
	mockPub := new(MockPublisher)

	mockEvents.On("GetEvent", mock.Anything, "ev-1").Return(testEvent(), nil)
	mockDB.On("Get", mock.Anything, "ev-1", "user-1").Return(nil, nil)
	mockLedger.On("Admit", mock.Anything, "ev-1").Return(nil)
	mockDB.On("Create", mock.Anything, mock.Anything).Return(errors.New("connection reset"))
	mockLedger.On("Release", mock.Anything, "ev-1").Return(nil)

	svc := newTestService(mockDB, mockEvents, mockLedger, mockPub)
	_, err := svc.Reserve(context.Background(), "ev-1", "user-1")

	require.Error(t, err)
	mockLedger.AssertCalled(t, "Release", mock.Anything, "ev-1")
	mockPub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestReserveMapsConstraintConflictToAlreadyReserved(t *testing.T) {
	mockDB := new(MockDB)
	mockEvents := new(MockEvents)
	mockLedger := new(MockLedger)

	mockEvents.On("GetEvent", mock.Anything, "ev-1").Return(testEvent(), nil)
	mockDB.On("Get", mock.Anything, "ev-1", "user-1").Return(nil, nil)
	mockLedger.On("Admit", mock.Anything, "ev-1").Return(nil)
	mockDB.On("Create", mock.Anything, mock.Anything).Return(db.ErrDuplicate)
	mockLedger.On("Release", mock.Anything, "ev-1").Return(nil)

	svc := newTestService(mockDB, mockEvents, mockLedger, new(MockPublisher))
	_, err := svc.Reserve(context.Background(), "ev-1", "user-1")

	assert.ErrorIs(t, err, ErrAlreadyReserved)
	mockLedger.AssertCalled(t, "Release", mock.Anything, "ev-1")
}

func TestCancelHappyPath(t *testing.T) {
	mockDB := new(MockDB)
	mockEvents := new(MockEvents)
	mockLedger := new(MockLedger)
	mockPub := new(MockPublisher)

	existing := &models.Reservation{ID: "res-1", EventID: "ev-1", UserID: "user-1"}
	mockEvents.On("GetEvent", mock.Anything, "ev-1").Return(testEvent(), nil)
	mockDB.On("Get", mock.Anything, "ev-1", "user-1").Return(existing, nil)
	mockDB.On("Delete", mock.Anything, "ev-1", "user-1").Return(true, nil)
	mockLedger.On("Release", mock.Anything, "ev-1").Return(nil)
	mockLedger.On("SpotsLeft", mock.Anything, "ev-1").Return(5, nil)
	mockPub.On("Publish", "test.cancelled", "ev-1", mock.Anything).Return(nil)

	svc := newTestService(mockDB, mockEvents, mockLedger, mockPub)
	spotsLeft, err := svc.Cancel(context.Background(), "ev-1", "user-1")

	require.NoError(t, err)
	assert.Equal(t, 5, spotsLeft)
	mockPub.AssertExpectations(t)
}

func TestCancelWithoutReservation(t *testing.T) {
	mockDB := new(MockDB)
	mockEvents := new(MockEvents)

	mockEvents.On("GetEvent", mock.Anything, "ev-1").Return(testEvent(), nil)
	mockDB.On("Get", mock.Anything, "ev-1", "user-1").Return(nil, nil)

	svc := newTestService(mockDB, mockEvents, new(MockLedger), new(MockPublisher))
	_, err := svc.Cancel(context.Background(), "ev-1", "user-1")

	assert.ErrorIs(t, err, ErrNotReserved)
}

func TestCancelRestoresRecordWhenReleaseFails(t *testing.T) {
	mockDB := new(MockDB)
	mockEvents := new(MockEvents)
	mockLedger := new(MockLedger)
	mockPub := new(MockPublisher)

	existing := &models.Reservation{ID: "res-1", EventID: "ev-1", UserID: "user-1"}
	mockEvents.On("GetEvent", mock.Anything, "ev-1").Return(testEvent(), nil)
	mockDB.On("Get", mock.Anything, "ev-1", "user-1").Return(existing, nil)
	mockDB.On("Delete", mock.Anything, "ev-1", "user-1").Return(true, nil)
	mockLedger.On("Release", mock.Anything, "ev-1").Return(errors.New("connection reset"))
	mockDB.On("Create", mock.Anything, existing).Return(nil)

	svc := newTestService(mockDB, mockEvents, mockLedger, mockPub)
	_, err := svc.Cancel(context.Background(), "ev-1", "user-1")

	require.Error(t, err)
	mockDB.AssertCalled(t, "Create", mock.Anything, existing)
	mockPub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

// --- concurrency property ---

// memStore, memLedger, and memLock are mutex-guarded fakes mirroring the
// semantics of the real store, ledger, and Redis lock.

type memStore struct {
	mu  sync.Mutex
	res map[string]*models.Reservation
}

func newMemStore() *memStore { return &memStore{res: make(map[string]*models.Reservation)} }

func (m *memStore) key(eventID, userID string) string { return eventID + "|" + userID }

func (m *memStore) Get(_ context.Context, eventID, userID string) (*models.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.res[m.key(eventID, userID)]; ok {
		copied := *r
		return &copied, nil
	}
	return nil, nil
}

func (m *memStore) Create(_ context.Context, r *models.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.key(r.EventID, r.UserID)
	if _, ok := m.res[k]; ok {
		return db.ErrDuplicate
	}
	m.res[k] = r
	return nil
}

func (m *memStore) Delete(_ context.Context, eventID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.key(eventID, userID)
	if _, ok := m.res[k]; !ok {
		return false, nil
	}
	delete(m.res, k)
	return true, nil
}

func (m *memStore) ListByUser(_ context.Context, userID string) ([]models.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Reservation
	for _, r := range m.res {
		if r.UserID == userID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.res)
}

type memLedger struct {
	mu       sync.Mutex
	capacity int
	reserved int
}

func (m *memLedger) Admit(_ context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reserved >= m.capacity {
		return ledger.ErrFull
	}
	m.reserved++
	return nil
}

func (m *memLedger) Release(_ context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reserved <= 0 {
		return ledger.ErrConsistency
	}
	m.reserved--
	return nil
}

func (m *memLedger) SpotsLeft(_ context.Context, eventID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.capacity - m.reserved, nil
}

func (m *memLedger) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reserved
}

type memLock struct {
	mu     sync.Mutex
	holder map[string]string
}

func newMemLock() *memLock { return &memLock{holder: make(map[string]string)} }

func (m *memLock) Acquire(_ context.Context, eventID, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.holder[eventID]; held {
		return false, nil
	}
	m.holder[eventID] = token
	return true, nil
}

func (m *memLock) Release(_ context.Context, eventID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.holder[eventID] == token {
		delete(m.holder, eventID)
	}
	return nil
}

type memEvents struct{ event *models.Event }

func (m *memEvents) GetEvent(_ context.Context, eventID string) (*models.Event, error) {
	if eventID == m.event.ID {
		return m.event, nil
	}
	return nil, nil
}

func TestConcurrentReserveNeverOversells(t *testing.T) {
	const capacity = 5
	const attempts = 20

	store := newMemStore()
	capLedger := &memLedger{capacity: capacity}
	events := &memEvents{event: &models.Event{ID: "ev-1", Title: "Soup night", Capacity: capacity}}

	svc := NewService(store, events, capLedger, newMemLock(), kafkaDiscard{}, testTopics(), logger.NewNop())

	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_, err := svc.Reserve(ctx, "ev-1", fmt.Sprintf("user-%d", n))
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	succeeded, rejected := 0, 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ledger.ErrFull):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, capacity, succeeded)
	assert.Equal(t, attempts-capacity, rejected)
	assert.Equal(t, capacity, capLedger.count())
	assert.Equal(t, capacity, store.count())
}

func TestConcurrentDuplicateUserGetsOneSpot(t *testing.T) {
	store := newMemStore()
	capLedger := &memLedger{capacity: 10}
	events := &memEvents{event: &models.Event{ID: "ev-1", Title: "Bagels", Capacity: 10}}

	svc := NewService(store, events, capLedger, newMemLock(), kafkaDiscard{}, testTopics(), logger.NewNop())

	var wg sync.WaitGroup
	results := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Reserve(context.Background(), "ev-1", "same-user")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded, conflicted := 0, 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrAlreadyReserved):
			conflicted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 7, conflicted)
	assert.Equal(t, 1, capLedger.count())
	assert.Equal(t, 1, store.count())
}

func TestCapacityOneHandoff(t *testing.T) {
	store := newMemStore()
	capLedger := &memLedger{capacity: 1}
	events := &memEvents{event: &models.Event{ID: "ev-1", Title: "Last slice", Capacity: 1}}

	svc := NewService(store, events, capLedger, newMemLock(), kafkaDiscard{}, testTopics(), logger.NewNop())
	ctx := context.Background()

	spotsLeft, err := svc.Reserve(ctx, "ev-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, spotsLeft)

	_, err = svc.Reserve(ctx, "ev-1", "bob")
	assert.ErrorIs(t, err, ledger.ErrFull)

	spotsLeft, err = svc.Cancel(ctx, "ev-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, spotsLeft)

	spotsLeft, err = svc.Reserve(ctx, "ev-1", "bob")
	require.NoError(t, err)
	assert.Equal(t, 0, spotsLeft)
}

type kafkaDiscard struct{}

func (kafkaDiscard) Publish(topic string, key string, value []byte) error { return nil }
