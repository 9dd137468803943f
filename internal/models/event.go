package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Event is one food-sharing occasion posted by an organizer.
// ReservedCount is owned exclusively by the capacity ledger; the catalog
// never writes it directly.
type Event struct {
	bun.BaseModel `bun:"table:events,alias:e"`

	ID            string    `bun:"id,pk" json:"id"`
	OwnerID       string    `bun:"owner_id,notnull" json:"owner_id"`
	Title         string    `bun:"title,notnull" json:"title"`
	Description   string    `bun:"description" json:"description,omitempty"`
	LocationCode  string    `bun:"location_code" json:"location_code"`
	FoodItems     []string  `bun:"food_items" json:"food_items"`
	DietaryTags   []string  `bun:"dietary_tags" json:"dietary_tags"`
	ImageURLs     []string  `bun:"image_urls" json:"image_urls,omitempty"`
	PickupNotes   string    `bun:"pickup_notes" json:"pickup_notes,omitempty"`
	Capacity      int       `bun:"capacity,notnull" json:"capacity"`
	ReservedCount int       `bun:"reserved_count,notnull" json:"reserved_count"`
	EventDate     string    `bun:"event_date,notnull" json:"event_date"`
	TimeDesc      string    `bun:"time_desc,notnull" json:"time_desc"`
	CreatedAt     time.Time `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt     time.Time `bun:"updated_at,notnull" json:"updated_at"`
}

// SpotsLeft is the read-side view of remaining capacity. A momentarily
// stale value is acceptable on listings; write decisions always go through
// the ledger.
func (e *Event) SpotsLeft() int {
	left := e.Capacity - e.ReservedCount
	if left < 0 {
		return 0
	}
	return left
}

// EventInput carries the caller-supplied fields for event creation.
type EventInput struct {
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	LocationCode string   `json:"location_code"`
	FoodItems    []string `json:"food_items"`
	DietaryTags  []string `json:"dietary_tags"`
	ImageURLs    []string `json:"image_urls"`
	PickupNotes  string   `json:"pickup_notes"`
	Capacity     int      `json:"capacity"`
	EventDate    string   `json:"event_date"`
	TimeDesc     string   `json:"time_desc"`
}

// EventUpdate uses pointer fields so handlers can distinguish "not sent"
// from "set to zero value". ReservedCount is deliberately absent.
type EventUpdate struct {
	Title        *string   `json:"title"`
	Description  *string   `json:"description"`
	LocationCode *string   `json:"location_code"`
	FoodItems    *[]string `json:"food_items"`
	DietaryTags  *[]string `json:"dietary_tags"`
	ImageURLs    *[]string `json:"image_urls"`
	PickupNotes  *string   `json:"pickup_notes"`
	Capacity     *int      `json:"capacity"`
	EventDate    *string   `json:"event_date"`
	TimeDesc     *string   `json:"time_desc"`
}

// DeleteResult reports what a cascading event deletion removed, so the
// external notification collaborator can inform affected users.
type DeleteResult struct {
	HadReservations bool     `json:"had_reservations"`
	ReleasedUserIDs []string `json:"released_user_ids,omitempty"`
}
