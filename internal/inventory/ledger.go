// Package inventory owns the per (train, class, date) seat counter.
//
// Every mutation is a single conditional UPDATE, so two callers racing for the
// last seat are serialized by the database row and never both succeed. The
// ledger does not retry; callers decide.
package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"ms-railway/internal/models"
)

var (
	ErrInsufficientSeats    = errors.New("insufficient seats")
	ErrConsistencyViolation = errors.New("release would exceed capacity")
	ErrUnknownClass         = errors.New("no capacity defined for train class")
	ErrInvalidCount         = errors.New("seat count must be positive")
)

type Ledger struct {
	db  bun.IDB
	now func() time.Time
}

func NewLedger(db bun.IDB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// Reserve takes count seats from key or fails with ErrInsufficientSeats.
func (l *Ledger) Reserve(ctx context.Context, key models.LedgerKey, count int) error {
	if count <= 0 {
		return ErrInvalidCount
	}

	ok, err := l.decrement(ctx, key, count)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	// Zero rows means either too few seats or no row yet.
	created, err := l.materialize(ctx, key)
	if err != nil {
		return err
	}
	if !created {
		return ErrInsufficientSeats
	}

	ok, err = l.decrement(ctx, key, count)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInsufficientSeats
	}
	return nil
}

// Release returns count seats to key. Returning more than was taken fails with
// ErrConsistencyViolation and leaves the row untouched.
func (l *Ledger) Release(ctx context.Context, key models.LedgerKey, count int) error {
	if count <= 0 {
		return ErrInvalidCount
	}

	res, err := l.db.NewUpdate().
		Model((*models.SeatAvailability)(nil)).
		Set("available_seats = available_seats + ?", count).
		Set("updated_at = ?", l.now().UTC()).
		Where("train_no = ?", key.TrainNo).
		Where("class_id = ?", key.ClassID).
		Where("travel_date = ?", key.TravelDate).
		Where("available_seats + ? <= total_seats", count).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("release %d on %s: %w", count, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("release %d on %s: %w", count, key, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d seats on %s", ErrConsistencyViolation, count, key)
	}
	return nil
}

// Available reads the counter, materializing it on first touch.
func (l *Ledger) Available(ctx context.Context, key models.LedgerKey) (int, error) {
	row, err := l.row(ctx, key)
	if err == nil {
		return row.AvailableSeats, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("read availability %s: %w", key, err)
	}

	if _, err := l.materialize(ctx, key); err != nil {
		return 0, err
	}
	row, err = l.row(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("read availability %s: %w", key, err)
	}
	return row.AvailableSeats, nil
}

// Snapshot returns the raw ledger row, or nil if it has not been materialized.
func (l *Ledger) Snapshot(ctx context.Context, key models.LedgerKey) (*models.SeatAvailability, error) {
	row, err := l.row(ctx, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return row, err
}

func (l *Ledger) decrement(ctx context.Context, key models.LedgerKey, count int) (bool, error) {
	res, err := l.db.NewUpdate().
		Model((*models.SeatAvailability)(nil)).
		Set("available_seats = available_seats - ?", count).
		Set("updated_at = ?", l.now().UTC()).
		Where("train_no = ?", key.TrainNo).
		Where("class_id = ?", key.ClassID).
		Where("travel_date = ?", key.TravelDate).
		Where("available_seats >= ?", count).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("reserve %d on %s: %w", count, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reserve %d on %s: %w", count, key, err)
	}
	return n == 1, nil
}

// materialize inserts the row if it is absent. It reports whether the row was
// missing before the call; false means a failed decrement was a genuine shortage.
func (l *Ledger) materialize(ctx context.Context, key models.LedgerKey) (bool, error) {
	exists, err := l.db.NewSelect().
		Model((*models.SeatAvailability)(nil)).
		Where("train_no = ?", key.TrainNo).
		Where("class_id = ?", key.ClassID).
		Where("travel_date = ?", key.TravelDate).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("check ledger row %s: %w", key, err)
	}
	if exists {
		return false, nil
	}

	var class models.ScheduleClass
	err = l.db.NewSelect().
		Model(&class).
		Where("train_no = ?", key.TrainNo).
		Where("class_id = ?", key.ClassID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, fmt.Errorf("%w: %s/%s", ErrUnknownClass, key.TrainNo, key.ClassID)
		}
		return false, fmt.Errorf("load capacity %s: %w", key, err)
	}

	capacity := class.Capacity()
	row := &models.SeatAvailability{
		TrainNo:        key.TrainNo,
		ClassID:        key.ClassID,
		TravelDate:     key.TravelDate,
		TotalSeats:     capacity,
		AvailableSeats: capacity,
		UpdatedAt:      l.now().UTC(),
	}
	// Concurrent first touches race here; Ignore keeps whichever insert won.
	if _, err := l.db.NewInsert().Model(row).Ignore().Exec(ctx); err != nil {
		return false, fmt.Errorf("materialize %s: %w", key, err)
	}
	return true, nil
}

func (l *Ledger) row(ctx context.Context, key models.LedgerKey) (*models.SeatAvailability, error) {
	var row models.SeatAvailability
	err := l.db.NewSelect().
		Model(&row).
		Where("train_no = ?", key.TrainNo).
		Where("class_id = ?", key.ClassID).
		Where("travel_date = ?", key.TravelDate).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &row, nil
}
