package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/uptrace/bun"

	"mealshare/internal/models"
)

// ErrDuplicate is returned when the UNIQUE (event_id, user_id) constraint
// rejects an insert. The coordinator maps it to its AlreadyReserved error;
// the constraint is the backstop that turns a duplicate race into a
// well-defined conflict.
var ErrDuplicate = errors.New("reservation already exists")

type DB struct {
	Bun *bun.DB
}

// Get returns the reservation for (eventID, userID), or nil when none exists.
func (d *DB) Get(ctx context.Context, eventID, userID string) (*models.Reservation, error) {
	var reservation models.Reservation
	err := d.Bun.NewSelect().
		Model(&reservation).
		Where("event_id = ?", eventID).
		Where("user_id = ?", userID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get reservation: %w", err)
	}
	return &reservation, nil
}

func (d *DB) Create(ctx context.Context, reservation *models.Reservation) error {
	_, err := d.Bun.NewInsert().Model(reservation).Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert reservation: %w", err)
	}
	return nil
}

// Delete removes the reservation for (eventID, userID) and reports whether
// a row actually existed.
func (d *DB) Delete(ctx context.Context, eventID, userID string) (bool, error) {
	res, err := d.Bun.NewDelete().
		Model((*models.Reservation)(nil)).
		Where("event_id = ?", eventID).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("delete reservation: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete reservation: %w", err)
	}
	return rows > 0, nil
}

func (d *DB) ListByUser(ctx context.Context, userID string) ([]models.Reservation, error) {
	var reservations []models.Reservation
	err := d.Bun.NewSelect().
		Model(&reservations).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	return reservations, nil
}

func (d *DB) CountByEvent(ctx context.Context, eventID string) (int, error) {
	count, err := d.Bun.NewSelect().
		Model((*models.Reservation)(nil)).
		Where("event_id = ?", eventID).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count reservations: %w", err)
	}
	return count, nil
}

// isUniqueViolation matches both lib/pq ("duplicate key value violates
// unique constraint") and the SQLite shim used in tests ("UNIQUE
// constraint failed").
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint")
}
