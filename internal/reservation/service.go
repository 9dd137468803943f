// Package reservation implements the admit/cancel protocol for a single
// (event, user) pair: duplicate detection, capacity admission through the
// ledger, and rollback when the two halves of the transaction get out of
// step.
package reservation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mealshare/internal/config"
	"mealshare/internal/ledger"
	"mealshare/internal/logger"
	"mealshare/internal/models"
	"mealshare/internal/reservation/db"
)

var (
	ErrAlreadyReserved = errors.New("already reserved for this event")
	ErrNotReserved     = errors.New("no reservation for this event")
	ErrNotFound        = errors.New("event not found")
)

// DBLayer is the reservation record store.
type DBLayer interface {
	Get(ctx context.Context, eventID, userID string) (*models.Reservation, error)
	Create(ctx context.Context, reservation *models.Reservation) error
	Delete(ctx context.Context, eventID, userID string) (bool, error)
	ListByUser(ctx context.Context, userID string) ([]models.Reservation, error)
}

// EventStore supplies event existence checks and the descriptive fields
// carried into published messages.
type EventStore interface {
	GetEvent(ctx context.Context, eventID string) (*models.Event, error)
}

// CapacityLedger is the authority over reserved_count.
type CapacityLedger interface {
	Admit(ctx context.Context, eventID string) error
	Release(ctx context.Context, eventID string) error
	SpotsLeft(ctx context.Context, eventID string) (int, error)
}

// EventLock serializes reservation attempts per event.
type EventLock interface {
	Acquire(ctx context.Context, eventID, token string) (bool, error)
	Release(ctx context.Context, eventID, token string) error
}

type Publisher interface {
	Publish(topic string, key string, value []byte) error
}

type Service struct {
	DB     DBLayer
	Events EventStore
	Ledger CapacityLedger
	Lock   EventLock
	Kafka  Publisher
	Topics config.TopicConfig
	Log    *logger.Logger
}

func NewService(dbLayer DBLayer, events EventStore, capLedger CapacityLedger, lock EventLock,
	kafka Publisher, topics config.TopicConfig, log *logger.Logger) *Service {
	return &Service{
		DB:     dbLayer,
		Events: events,
		Ledger: capLedger,
		Lock:   lock,
		Kafka:  kafka,
		Topics: topics,
		Log:    log,
	}
}

const (
	lockAttempts = 20
	lockBackoff  = 25 * time.Millisecond
)

// Reserve admits userID to eventID and returns the updated spots-left
// figure. The duplicate check, the ledger admit, and the record insert run
// under the per-event lock; a failed insert rolls the admit back so the
// ledger never stays incremented without a matching record. The Kafka
// publish happens only after the lock is dropped.
func (s *Service) Reserve(ctx context.Context, eventID, userID string) (int, error) {
	event, err := s.Events.GetEvent(ctx, eventID)
	if err != nil {
		return 0, fmt.Errorf("look up event %s: %w", eventID, err)
	}
	if event == nil {
		return 0, ErrNotFound
	}

	token, err := s.acquireLock(ctx, eventID)
	if err != nil {
		return 0, err
	}
	locked := true
	defer func() {
		if locked {
			s.unlock(ctx, eventID, token)
		}
	}()

	existing, err := s.DB.Get(ctx, eventID, userID)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		return 0, ErrAlreadyReserved
	}

	if err := s.Ledger.Admit(ctx, eventID); err != nil {
		switch {
		case errors.Is(err, ledger.ErrNotFound):
			return 0, ErrNotFound
		case errors.Is(err, ledger.ErrFull):
			s.Log.LogReservation("REJECT", eventID, userID, "event full")
			return 0, err
		default:
			return 0, err
		}
	}

	reservation := &models.Reservation{
		ID:        uuid.NewString(),
		EventID:   eventID,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.DB.Create(ctx, reservation); err != nil {
		// Admission and record creation are one logical transaction:
		// undo the admit before reporting the failure.
		if relErr := s.Ledger.Release(ctx, eventID); relErr != nil && !errors.Is(relErr, ledger.ErrConsistency) {
			s.Log.Alert("RESERVATION", fmt.Sprintf("rollback release failed for event %s: %v", eventID, relErr))
		}
		if errors.Is(err, db.ErrDuplicate) {
			return 0, ErrAlreadyReserved
		}
		return 0, fmt.Errorf("persist reservation: %w", err)
	}

	spotsLeft, err := s.Ledger.SpotsLeft(ctx, eventID)
	if err != nil {
		s.Log.Error("RESERVATION", fmt.Sprintf("spots-left read failed for event %s: %v", eventID, err))
		spotsLeft = 0
	}

	s.unlock(ctx, eventID, token)
	locked = false

	s.Log.LogReservation("CONFIRM", eventID, userID, fmt.Sprintf("spots left %d", spotsLeft))
	s.publish(s.Topics.ReservationConfirmed, models.ReservationMessage{
		ReservationID: reservation.ID,
		EventID:       eventID,
		UserID:        userID,
		EventTitle:    event.Title,
		SpotsLeft:     spotsLeft,
		OccurredAt:    reservation.CreatedAt,
	})

	return spotsLeft, nil
}

// Cancel reverses a reservation. Deleting the record and releasing the
// ledger form one logical transaction in reverse: if the release fails
// outright the record is restored so the two never diverge.
func (s *Service) Cancel(ctx context.Context, eventID, userID string) (int, error) {
	event, err := s.Events.GetEvent(ctx, eventID)
	if err != nil {
		return 0, fmt.Errorf("look up event %s: %w", eventID, err)
	}
	if event == nil {
		return 0, ErrNotFound
	}

	token, err := s.acquireLock(ctx, eventID)
	if err != nil {
		return 0, err
	}
	locked := true
	defer func() {
		if locked {
			s.unlock(ctx, eventID, token)
		}
	}()

	existing, err := s.DB.Get(ctx, eventID, userID)
	if err != nil {
		return 0, err
	}
	if existing == nil {
		return 0, ErrNotReserved
	}

	deleted, err := s.DB.Delete(ctx, eventID, userID)
	if err != nil {
		return 0, fmt.Errorf("delete reservation: %w", err)
	}
	if !deleted {
		return 0, ErrNotReserved
	}

	if err := s.Ledger.Release(ctx, eventID); err != nil {
		if errors.Is(err, ledger.ErrConsistency) {
			// Already alerted by the ledger; the record is gone and the
			// counter was already at its floor, so proceed.
		} else {
			if createErr := s.DB.Create(ctx, existing); createErr != nil {
				s.Log.Alert("RESERVATION", fmt.Sprintf(
					"release failed and record restore failed for event %s user %s: %v / %v",
					eventID, userID, err, createErr))
			}
			return 0, fmt.Errorf("release spot: %w", err)
		}
	}

	spotsLeft, err := s.Ledger.SpotsLeft(ctx, eventID)
	if err != nil {
		s.Log.Error("RESERVATION", fmt.Sprintf("spots-left read failed for event %s: %v", eventID, err))
		spotsLeft = 0
	}

	s.unlock(ctx, eventID, token)
	locked = false

	s.Log.LogReservation("CANCEL", eventID, userID, fmt.Sprintf("spots left %d", spotsLeft))
	s.publish(s.Topics.ReservationCancelled, models.ReservationMessage{
		EventID:    eventID,
		UserID:     userID,
		EventTitle: event.Title,
		SpotsLeft:  spotsLeft,
		OccurredAt: time.Now().UTC(),
	})

	return spotsLeft, nil
}

// GetForUser returns the active reservation for (eventID, userID), or
// ErrNotReserved.
func (s *Service) GetForUser(ctx context.Context, eventID, userID string) (*models.Reservation, error) {
	reservation, err := s.DB.Get(ctx, eventID, userID)
	if err != nil {
		return nil, err
	}
	if reservation == nil {
		return nil, ErrNotReserved
	}
	return reservation, nil
}

// ListForUser returns the user's reservations joined with their events.
// Events deleted since the reservation was cascaded away never appear
// here, but a lookup miss is tolerated rather than failing the listing.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]models.ReservationWithEvent, error) {
	reservations, err := s.DB.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	result := make([]models.ReservationWithEvent, 0, len(reservations))
	for _, reservation := range reservations {
		event, err := s.Events.GetEvent(ctx, reservation.EventID)
		if err != nil {
			s.Log.Error("RESERVATION", fmt.Sprintf("event lookup failed for %s: %v", reservation.EventID, err))
		}
		result = append(result, models.ReservationWithEvent{Reservation: reservation, Event: event})
	}
	return result, nil
}

func (s *Service) acquireLock(ctx context.Context, eventID string) (string, error) {
	token := uuid.NewString()
	for attempt := 0; attempt < lockAttempts; attempt++ {
		ok, err := s.Lock.Acquire(ctx, eventID, token)
		if err != nil {
			return "", fmt.Errorf("event lock: %w", err)
		}
		if ok {
			return token, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(lockBackoff):
		}
	}
	return "", fmt.Errorf("event %s lock contended, giving up", eventID)
}

func (s *Service) unlock(ctx context.Context, eventID, token string) {
	if err := s.Lock.Release(ctx, eventID, token); err != nil {
		s.Log.Error("RESERVATION", fmt.Sprintf("lock release failed for event %s: %v", eventID, err))
	}
}

func (s *Service) publish(topic string, message interface{}) {
	if s.Kafka == nil {
		return
	}
	value, err := json.Marshal(message)
	if err != nil {
		s.Log.Error("KAFKA", fmt.Sprintf("marshal message for %s: %v", topic, err))
		return
	}
	key := ""
	switch m := message.(type) {
	case models.ReservationMessage:
		key = m.EventID
	case models.EventDeletedMessage:
		key = m.EventID
	}
	if err := s.Kafka.Publish(topic, key, value); err != nil {
		s.Log.Error("KAFKA", fmt.Sprintf("publish to %s: %v", topic, err))
	}
}
