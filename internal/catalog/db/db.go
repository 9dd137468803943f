package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"mealshare/internal/models"
)

type DB struct {
	Bun *bun.DB
}

func (d *DB) CreateEvent(ctx context.Context, event *models.Event) error {
	_, err := d.Bun.NewInsert().Model(event).Exec(ctx)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// GetEvent returns the event or nil when it does not exist.
func (d *DB) GetEvent(ctx context.Context, eventID string) (*models.Event, error) {
	var event models.Event
	err := d.Bun.NewSelect().
		Model(&event).
		Where("id = ?", eventID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return &event, nil
}

// UpdateEvent writes the editable columns. reserved_count is deliberately
// not in the list: only the ledger touches it.
func (d *DB) UpdateEvent(ctx context.Context, event *models.Event) error {
	_, err := d.Bun.NewUpdate().
		Model(event).
		Column("title", "description", "location_code", "food_items", "dietary_tags",
			"image_urls", "pickup_notes", "capacity", "event_date", "time_desc", "updated_at").
		Where("id = ?", event.ID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	return nil
}

func (d *DB) ListEvents(ctx context.Context) ([]models.Event, error) {
	var events []models.Event
	err := d.Bun.NewSelect().
		Model(&events).
		Order("event_date ASC", "created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

func (d *DB) ListByOwner(ctx context.Context, ownerID string) ([]models.Event, error) {
	var events []models.Event
	err := d.Bun.NewSelect().
		Model(&events).
		Where("owner_id = ?", ownerID).
		Order("event_date ASC", "created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list events by owner: %w", err)
	}
	return events, nil
}

// DeleteEventCascade removes the event and every reservation referencing
// it inside one transaction, and returns the reservations that were
// released so the caller can tell the affected users.
func (d *DB) DeleteEventCascade(ctx context.Context, eventID string) ([]models.Reservation, error) {
	var released []models.Reservation

	err := d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if err := tx.NewSelect().
			Model(&released).
			Where("event_id = ?", eventID).
			Scan(ctx); err != nil {
			return fmt.Errorf("collect reservations: %w", err)
		}

		if _, err := tx.NewDelete().
			Model((*models.Reservation)(nil)).
			Where("event_id = ?", eventID).
			Exec(ctx); err != nil {
			return fmt.Errorf("delete reservations: %w", err)
		}

		if _, err := tx.NewDelete().
			Model((*models.Event)(nil)).
			Where("id = ?", eventID).
			Exec(ctx); err != nil {
			return fmt.Errorf("delete event: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return released, nil
}
