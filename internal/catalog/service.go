// Package catalog owns event lifecycle: creation, owner-gated edits, and
// cascading deletion. It validates payloads at the boundary so the rest of
// the engine only ever sees well-formed events.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"mealshare/internal/config"
	"mealshare/internal/logger"
	"mealshare/internal/models"
	"mealshare/internal/schedule"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("event not found")
	ErrForbidden    = errors.New("not the event owner")
)

type EventDB interface {
	CreateEvent(ctx context.Context, event *models.Event) error
	GetEvent(ctx context.Context, eventID string) (*models.Event, error)
	UpdateEvent(ctx context.Context, event *models.Event) error
	ListEvents(ctx context.Context) ([]models.Event, error)
	ListByOwner(ctx context.Context, ownerID string) ([]models.Event, error)
	DeleteEventCascade(ctx context.Context, eventID string) ([]models.Reservation, error)
}

type Publisher interface {
	Publish(topic string, key string, value []byte) error
}

type Service struct {
	DB     EventDB
	Kafka  Publisher
	Topics config.TopicConfig
	Log    *logger.Logger
}

func NewService(eventDB EventDB, kafka Publisher, topics config.TopicConfig, log *logger.Logger) *Service {
	return &Service{DB: eventDB, Kafka: kafka, Topics: topics, Log: log}
}

// Create validates the payload and stores a new event with an empty ledger.
func (s *Service) Create(ctx context.Context, ownerID string, input models.EventInput) (*models.Event, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	event := &models.Event{
		ID:            uuid.NewString(),
		OwnerID:       ownerID,
		Title:         strings.TrimSpace(input.Title),
		Description:   input.Description,
		LocationCode:  input.LocationCode,
		FoodItems:     input.FoodItems,
		DietaryTags:   emptyIfNil(input.DietaryTags),
		ImageURLs:     emptyIfNil(input.ImageURLs),
		PickupNotes:   input.PickupNotes,
		Capacity:      input.Capacity,
		ReservedCount: 0,
		EventDate:     input.EventDate,
		TimeDesc:      input.TimeDesc,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.DB.CreateEvent(ctx, event); err != nil {
		return nil, err
	}
	s.Log.Info("CATALOG", fmt.Sprintf("event %s created by %s (capacity %d)", event.ID, ownerID, event.Capacity))
	return event, nil
}

// Update applies the supplied fields after an ownership check. Capacity
// may grow but may not drop below the spots already claimed, and
// reserved_count is not editable here at all.
func (s *Service) Update(ctx context.Context, eventID, ownerID string, update models.EventUpdate) (*models.Event, error) {
	event, err := s.DB.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, ErrNotFound
	}
	if event.OwnerID != ownerID {
		return nil, ErrForbidden
	}

	if update.Title != nil {
		if strings.TrimSpace(*update.Title) == "" {
			return nil, fmt.Errorf("%w: title cannot be empty", ErrInvalidInput)
		}
		event.Title = strings.TrimSpace(*update.Title)
	}
	if update.Description != nil {
		event.Description = *update.Description
	}
	if update.LocationCode != nil {
		event.LocationCode = *update.LocationCode
	}
	if update.FoodItems != nil {
		if len(*update.FoodItems) == 0 {
			return nil, fmt.Errorf("%w: at least one food item is required", ErrInvalidInput)
		}
		event.FoodItems = *update.FoodItems
	}
	if update.DietaryTags != nil {
		event.DietaryTags = *update.DietaryTags
	}
	if update.ImageURLs != nil {
		event.ImageURLs = *update.ImageURLs
	}
	if update.PickupNotes != nil {
		event.PickupNotes = *update.PickupNotes
	}
	if update.Capacity != nil {
		if *update.Capacity <= 0 {
			return nil, fmt.Errorf("%w: capacity must be a positive integer", ErrInvalidInput)
		}
		if *update.Capacity < event.ReservedCount {
			return nil, fmt.Errorf("%w: capacity %d is below the %d spots already reserved",
				ErrInvalidInput, *update.Capacity, event.ReservedCount)
		}
		event.Capacity = *update.Capacity
	}
	if update.EventDate != nil {
		event.EventDate = *update.EventDate
	}
	if update.TimeDesc != nil {
		event.TimeDesc = *update.TimeDesc
	}
	if update.EventDate != nil || update.TimeDesc != nil {
		if _, err := schedule.Resolve(event.EventDate, event.TimeDesc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}

	event.UpdatedAt = time.Now().UTC()
	if err := s.DB.UpdateEvent(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

// Delete removes the event and cascades its reservations. The result says
// whether anyone was holding a spot, so the notification collaborator can
// reach the affected users; the delete itself is never gated on that.
func (s *Service) Delete(ctx context.Context, eventID, ownerID string) (*models.DeleteResult, error) {
	event, err := s.DB.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, ErrNotFound
	}
	if event.OwnerID != ownerID {
		return nil, ErrForbidden
	}

	released, err := s.DB.DeleteEventCascade(ctx, eventID)
	if err != nil {
		return nil, err
	}

	result := &models.DeleteResult{HadReservations: len(released) > 0}
	for _, reservation := range released {
		result.ReleasedUserIDs = append(result.ReleasedUserIDs, reservation.UserID)
	}

	if result.HadReservations {
		s.Log.Warn("CATALOG", fmt.Sprintf("event %s deleted with %d outstanding reservations", eventID, len(released)))
		s.publishDeleted(event, result.ReleasedUserIDs)
	} else {
		s.Log.Info("CATALOG", fmt.Sprintf("event %s deleted", eventID))
	}
	return result, nil
}

func (s *Service) Get(ctx context.Context, eventID string) (*models.Event, error) {
	event, err := s.DB.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, ErrNotFound
	}
	return event, nil
}

// List returns the current catalog snapshot for the read side. No locks:
// the search engine filters a momentarily consistent copy.
func (s *Service) List(ctx context.Context) ([]models.Event, error) {
	return s.DB.ListEvents(ctx)
}

func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]models.Event, error) {
	return s.DB.ListByOwner(ctx, ownerID)
}

func (s *Service) publishDeleted(event *models.Event, userIDs []string) {
	if s.Kafka == nil {
		return
	}
	value, err := json.Marshal(models.EventDeletedMessage{
		EventID:         event.ID,
		EventTitle:      event.Title,
		ReleasedUserIDs: userIDs,
		OccurredAt:      time.Now().UTC(),
	})
	if err != nil {
		s.Log.Error("KAFKA", fmt.Sprintf("marshal event-deleted message: %v", err))
		return
	}
	if err := s.Kafka.Publish(s.Topics.EventDeleted, event.ID, value); err != nil {
		s.Log.Error("KAFKA", fmt.Sprintf("publish event-deleted: %v", err))
	}
}

func validateInput(input models.EventInput) error {
	if strings.TrimSpace(input.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if input.Capacity <= 0 {
		return fmt.Errorf("%w: capacity must be a positive integer", ErrInvalidInput)
	}
	if len(input.FoodItems) == 0 {
		return fmt.Errorf("%w: at least one food item is required", ErrInvalidInput)
	}
	if strings.TrimSpace(input.EventDate) == "" || strings.TrimSpace(input.TimeDesc) == "" {
		return fmt.Errorf("%w: event date and time are required", ErrInvalidInput)
	}
	if _, err := schedule.Resolve(input.EventDate, input.TimeDesc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

func emptyIfNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
