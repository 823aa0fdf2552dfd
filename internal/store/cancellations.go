package store

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"ms-railway/internal/models"
)

// CancelTicket moves a booked ticket to cancelled, frees its berths and stores
// the cancellation record. The status change is conditional on the ticket still
// being booked, so only one of several concurrent cancels can succeed.
func (d *DB) CancelTicket(ctx context.Context, c *models.Cancellation) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*models.Ticket)(nil)).
			Set("status = ?", models.TicketCancelled).
			Set("cancelled_at = ?", c.CreatedAt).
			Where("pnr = ?", c.PNR).
			Where("status = ?", models.TicketBooked).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("update ticket status: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrAlreadyCancelled
		}

		_, err = tx.NewUpdate().
			Model((*models.Berth)(nil)).
			Set("status = ?", models.BerthAvailable).
			Set("pnr = NULL").
			Where("pnr = ?", c.PNR).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("free berths: %w", err)
		}

		if _, err := tx.NewInsert().Model(c).Exec(ctx); err != nil {
			if isUniqueViolation(err) {
				return ErrAlreadyCancelled
			}
			return fmt.Errorf("insert cancellation: %w", err)
		}
		return nil
	})
}

// GetCancellation returns nil when the ticket was never cancelled.
func (d *DB) GetCancellation(ctx context.Context, pnr string) (*models.Cancellation, error) {
	var c models.Cancellation
	err := d.Bun.NewSelect().
		Model(&c).
		Where("pnr = ?", pnr).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}
