package store

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"ms-railway/internal/models"
)

// CreateTicket writes the ticket and all of its passengers in one transaction.
func (d *DB) CreateTicket(ctx context.Context, ticket *models.Ticket, passengers []*models.Passenger) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(ticket).Exec(ctx); err != nil {
			return fmt.Errorf("insert ticket: %w", err)
		}
		if len(passengers) == 0 {
			return nil
		}
		if _, err := tx.NewInsert().Model(&passengers).Exec(ctx); err != nil {
			return fmt.Errorf("insert passengers: %w", err)
		}
		return nil
	})
}

// GetTicket loads a ticket with its passengers.
func (d *DB) GetTicket(ctx context.Context, pnr string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Where("pnr = ?", pnr).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if notFound(err) {
			return nil, ErrTicketNotFound
		}
		return nil, err
	}

	passengers, err := d.Passengers(ctx, pnr)
	if err != nil {
		return nil, err
	}
	ticket.Passengers = passengers
	return &ticket, nil
}

func (d *DB) Passengers(ctx context.Context, pnr string) ([]*models.Passenger, error) {
	var passengers []*models.Passenger
	err := d.Bun.NewSelect().
		Model(&passengers).
		Where("pnr = ?", pnr).
		OrderExpr("passenger_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return passengers, nil
}

func (d *DB) CountPassengers(ctx context.Context, pnr string) (int, error) {
	return d.Bun.NewSelect().
		Model((*models.Passenger)(nil)).
		Where("pnr = ?", pnr).
		Count(ctx)
}

// TicketsByUser returns the newest tickets first.
func (d *DB) TicketsByUser(ctx context.Context, userID string) ([]*models.Ticket, error) {
	var tickets []*models.Ticket
	err := d.Bun.NewSelect().
		Model(&tickets).
		Where("user_id = ?", userID).
		OrderExpr("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return tickets, nil
}

// ActiveSeats sums passenger counts of booked tickets for a ledger key.
func (d *DB) ActiveSeats(ctx context.Context, key models.LedgerKey) (int, error) {
	var total int
	err := d.Bun.NewSelect().
		Model((*models.Ticket)(nil)).
		ColumnExpr("COALESCE(SUM(passenger_count), 0)").
		Where("train_no = ?", key.TrainNo).
		Where("class_id = ?", key.ClassID).
		Where("travel_date = ?", key.TravelDate).
		Where("status = ?", models.TicketBooked).
		Scan(ctx, &total)
	return total, err
}
