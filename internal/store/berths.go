package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/uptrace/bun"

	"ms-railway/internal/models"
)

// AssignBerths gives each passenger of pnr a free berth for the key, honouring
// berth preference where the label allows it. Passengers left without a berth
// are not an error. Nothing is claimed once the ticket is no longer booked.
func (d *DB) AssignBerths(ctx context.Context, pnr string, key models.LedgerKey, passengers []*models.Passenger) (int, error) {
	assigned := 0
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		// Touching the ticket row holds it until commit, so a cancel either
		// sees our berths or has already moved the ticket out of booked.
		res, err := tx.NewUpdate().
			Model((*models.Ticket)(nil)).
			Set("status = status").
			Where("pnr = ?", pnr).
			Where("status = ?", models.TicketBooked).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("lock ticket %s: %w", pnr, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}

		var free []models.Berth
		err = tx.NewSelect().
			Model(&free).
			Where("train_no = ?", key.TrainNo).
			Where("class_id = ?", key.ClassID).
			Where("travel_date = ?", key.TravelDate).
			Where("status = ?", models.BerthAvailable).
			OrderExpr("label ASC").
			Scan(ctx)
		if err != nil {
			return fmt.Errorf("load free berths: %w", err)
		}

		taken := make([]bool, len(free))
		for _, p := range passengers {
			for _, idx := range candidates(free, taken, p.BerthPreference) {
				berth := free[idx]
				taken[idx] = true

				res, err := tx.NewUpdate().
					Model((*models.Berth)(nil)).
					Set("status = ?", models.BerthBooked).
					Set("pnr = ?", pnr).
					Where("berth_id = ?", berth.BerthID).
					Where("status = ?", models.BerthAvailable).
					Exec(ctx)
				if err != nil {
					return fmt.Errorf("claim berth %s: %w", berth.BerthID, err)
				}
				if n, _ := res.RowsAffected(); n == 0 {
					continue
				}

				_, err = tx.NewUpdate().
					Model((*models.Passenger)(nil)).
					Set("berth_id = ?", berth.BerthID).
					Set("berth_label = ?", berth.Label).
					Where("passenger_id = ?", p.PassengerID).
					Exec(ctx)
				if err != nil {
					return fmt.Errorf("attach berth to passenger: %w", err)
				}
				p.BerthID = berth.BerthID
				p.BerthLabel = berth.Label
				assigned++
				break
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return assigned, nil
}

// candidates lists untaken berth indexes, preferred ones first.
func candidates(free []models.Berth, taken []bool, preference string) []int {
	var preferred, rest []int
	suffix := "-" + strings.ToUpper(strings.TrimSpace(preference))
	for i, b := range free {
		if taken[i] {
			continue
		}
		if preference != "" && strings.HasSuffix(strings.ToUpper(b.Label), suffix) {
			preferred = append(preferred, i)
		} else {
			rest = append(rest, i)
		}
	}
	return append(preferred, rest...)
}

// CreateBerths seeds a berth pool.
func (d *DB) CreateBerths(ctx context.Context, berths []*models.Berth) error {
	if len(berths) == 0 {
		return nil
	}
	_, err := d.Bun.NewInsert().Model(&berths).Exec(ctx)
	return err
}
