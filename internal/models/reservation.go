package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Reservation is one user's claim on one event. The (event_id, user_id)
// pair is unique: the schema carries a UNIQUE constraint so a racing
// duplicate insert surfaces as a conflict instead of a second row.
type Reservation struct {
	bun.BaseModel `bun:"table:reservations,alias:r"`

	ID        string    `bun:"id,pk" json:"id"`
	EventID   string    `bun:"event_id,notnull" json:"event_id"`
	UserID    string    `bun:"user_id,notnull" json:"user_id"`
	CreatedAt time.Time `bun:"created_at,notnull" json:"created_at"`
}

// ReservationWithEvent pairs a reservation with its event for the
// "my reservations" listing.
type ReservationWithEvent struct {
	Reservation Reservation `json:"reservation"`
	Event       *Event      `json:"event,omitempty"`
}

// ReservationMessage is the payload published to Kafka after a reservation
// transaction commits; the notification service consumes it.
type ReservationMessage struct {
	ReservationID string    `json:"reservation_id,omitempty"`
	EventID       string    `json:"event_id"`
	UserID        string    `json:"user_id"`
	EventTitle    string    `json:"event_title,omitempty"`
	SpotsLeft     int       `json:"spots_left"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// EventDeletedMessage tells the notifier which users lost a reservation
// when an organizer deleted an event.
type EventDeletedMessage struct {
	EventID         string    `json:"event_id"`
	EventTitle      string    `json:"event_title"`
	ReleasedUserIDs []string  `json:"released_user_ids"`
	OccurredAt      time.Time `json:"occurred_at"`
}
