// Package ledger is the single authority for an event's
// {capacity, reserved_count} pair. All occupancy changes happen here as
// one-statement conditional updates, so the check and the increment are
// atomic with respect to every concurrent caller for the same event.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"mealshare/internal/logger"
	"mealshare/internal/models"
)

var (
	ErrNotFound = errors.New("event not found")
	ErrFull     = errors.New("event is full")
	// ErrConsistency signals a bookkeeping bug: a release was asked for
	// when reserved_count was already zero. The value is clamped, the
	// violation is alerted, and the caller decides whether to proceed.
	ErrConsistency = errors.New("reserved count consistency violation")
)

type Ledger struct {
	Bun *bun.DB
	Log *logger.Logger
}

func New(bunDB *bun.DB, log *logger.Logger) *Ledger {
	return &Ledger{Bun: bunDB, Log: log}
}

// Admit claims one serving: a single UPDATE guarded by
// reserved_count < capacity. Zero rows affected means either the event is
// gone or it is full; a follow-up existence check tells the two apart.
// Capacity can never be exceeded, no matter how calls interleave.
func (l *Ledger) Admit(ctx context.Context, eventID string) error {
	res, err := l.Bun.NewUpdate().
		Model((*models.Event)(nil)).
		Set("reserved_count = reserved_count + 1").
		Where("id = ?", eventID).
		Where("reserved_count < capacity").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("admit event %s: %w", eventID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("admit event %s: %w", eventID, err)
	}
	if rows > 0 {
		return nil
	}

	exists, err := l.eventExists(ctx, eventID)
	if err != nil {
		return fmt.Errorf("admit event %s: %w", eventID, err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrFull
}

// Release returns one serving, floored at zero. Decrementing an already
// empty counter means an admission and its reservation record got out of
// step somewhere; that is alerted, not silently swallowed.
func (l *Ledger) Release(ctx context.Context, eventID string) error {
	res, err := l.Bun.NewUpdate().
		Model((*models.Event)(nil)).
		Set("reserved_count = reserved_count - 1").
		Where("id = ?", eventID).
		Where("reserved_count > 0").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("release event %s: %w", eventID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("release event %s: %w", eventID, err)
	}
	if rows > 0 {
		return nil
	}

	exists, err := l.eventExists(ctx, eventID)
	if err != nil {
		return fmt.Errorf("release event %s: %w", eventID, err)
	}
	if !exists {
		return ErrNotFound
	}

	if l.Log != nil {
		l.Log.Alert("LEDGER", fmt.Sprintf("release on event %s with reserved_count already 0", eventID))
	}
	return ErrConsistency
}

// SpotsLeft is a pure read; a momentarily stale value is fine here.
func (l *Ledger) SpotsLeft(ctx context.Context, eventID string) (int, error) {
	var event models.Event
	err := l.Bun.NewSelect().
		Model(&event).
		Column("capacity", "reserved_count").
		Where("id = ?", eventID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return 0, ErrNotFound
	}
	return event.SpotsLeft(), nil
}

func (l *Ledger) IsFull(ctx context.Context, eventID string) (bool, error) {
	left, err := l.SpotsLeft(ctx, eventID)
	if err != nil {
		return false, err
	}
	return left == 0, nil
}

func (l *Ledger) eventExists(ctx context.Context, eventID string) (bool, error) {
	count, err := l.Bun.NewSelect().
		Model((*models.Event)(nil)).
		Where("id = ?", eventID).
		Count(ctx)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
