// Package store persists tickets, passengers, berths, payments, cancellations and
// reconciliation flags through bun. Seat counters live in the inventory package.
package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/lib/pq"
	"github.com/uptrace/bun"

	"ms-railway/internal/models"
)

var (
	ErrTicketNotFound   = errors.New("ticket not found")
	ErrAlreadyCancelled = errors.New("ticket already cancelled")
	ErrAlreadyPaid      = errors.New("ticket already has a successful payment")
)

type DB struct {
	Bun bun.IDB
}

func New(db bun.IDB) *DB {
	return &DB{Bun: db}
}

// Tables in creation order.
var Tables = []interface{}{
	(*models.Station)(nil),
	(*models.Train)(nil),
	(*models.RouteStation)(nil),
	(*models.Schedule)(nil),
	(*models.ScheduleClass)(nil),
	(*models.SeatAvailability)(nil),
	(*models.Berth)(nil),
	(*models.Ticket)(nil),
	(*models.Passenger)(nil),
	(*models.Payment)(nil),
	(*models.Cancellation)(nil),
	(*models.LedgerReconciliation)(nil),
}

// CreateSchema creates every table and index from the bun models. PostgreSQL
// deployments normally use the SQL migrations instead; this serves SQLite and seeding.
func CreateSchema(ctx context.Context, db bun.IDB) error {
	for _, model := range Tables {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}

	indexes := []*bun.CreateIndexQuery{
		db.NewCreateIndex().Model((*models.Ticket)(nil)).Index("idx_tickets_user").Column("user_id").IfNotExists(),
		db.NewCreateIndex().Model((*models.Passenger)(nil)).Index("idx_passengers_pnr").Column("pnr").IfNotExists(),
		db.NewCreateIndex().Model((*models.Payment)(nil)).Index("idx_payments_user").Column("user_id").IfNotExists(),
		db.NewCreateIndex().Model((*models.Berth)(nil)).Index("idx_berths_key").Column("train_no", "class_id", "travel_date", "status").IfNotExists(),
		db.NewCreateIndex().Model((*models.Payment)(nil)).Unique().Index("uq_payments_success").Column("pnr").Where("status = 'success'").IfNotExists(),
	}
	for _, q := range indexes {
		if _, err := q.Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// DropSchema drops all tables in reverse order.
func DropSchema(ctx context.Context, db bun.IDB) error {
	for i := len(Tables) - 1; i >= 0; i-- {
		if _, err := db.NewDropTable().Model(Tables[i]).IfExists().Cascade().Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func notFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
