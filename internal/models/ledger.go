package models

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// DateLayout is the storage format of travel dates.
const DateLayout = "2006-01-02"

// LedgerKey identifies one seat inventory counter.
type LedgerKey struct {
	TrainNo    string `json:"train_no"`
	ClassID    string `json:"class_id"`
	TravelDate string `json:"travel_date"`
}

func (k LedgerKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.TrainNo, k.ClassID, k.TravelDate)
}

type SeatAvailability struct {
	bun.BaseModel `bun:"table:seat_availability"`

	TrainNo        string    `bun:"train_no,pk"`
	ClassID        string    `bun:"class_id,pk"`
	TravelDate     string    `bun:"travel_date,pk"`
	TotalSeats     int       `bun:"total_seats,notnull"`
	AvailableSeats int       `bun:"available_seats,notnull"`
	UpdatedAt      time.Time `bun:"updated_at,notnull"`
}

func (s *SeatAvailability) Key() LedgerKey {
	return LedgerKey{TrainNo: s.TrainNo, ClassID: s.ClassID, TravelDate: s.TravelDate}
}

type BerthStatus string

const (
	BerthAvailable BerthStatus = "available"
	BerthBooked    BerthStatus = "booked"
)

// Berth is an optional physical seat inside a class for one travel date.
type Berth struct {
	bun.BaseModel `bun:"table:berths"`

	BerthID    string      `bun:"berth_id,pk"`
	TrainNo    string      `bun:"train_no,notnull"`
	ClassID    string      `bun:"class_id,notnull"`
	TravelDate string      `bun:"travel_date,notnull"`
	Label      string      `bun:"label,notnull"`
	Status     BerthStatus `bun:"status,notnull"`
	PNR        string      `bun:"pnr,nullzero"`
}

// LedgerReconciliation flags seats that could not be released after retries.
type LedgerReconciliation struct {
	bun.BaseModel `bun:"table:ledger_reconciliations"`

	ID         string    `bun:"id,pk" json:"id"`
	TrainNo    string    `bun:"train_no,notnull" json:"train_no"`
	ClassID    string    `bun:"class_id,notnull" json:"class_id"`
	TravelDate string    `bun:"travel_date,notnull" json:"travel_date"`
	Seats      int       `bun:"seats,notnull" json:"seats"`
	PNR        string    `bun:"pnr" json:"pnr"`
	Operation  string    `bun:"operation,notnull" json:"operation"`
	Reason     string    `bun:"reason" json:"reason"`
	Resolved   bool      `bun:"resolved,notnull" json:"resolved"`
	ResolvedBy string    `bun:"resolved_by,nullzero" json:"resolved_by,omitempty"`
	ResolvedAt time.Time `bun:"resolved_at,nullzero" json:"resolved_at,omitempty"`
	CreatedAt  time.Time `bun:"created_at,notnull" json:"created_at"`
}
