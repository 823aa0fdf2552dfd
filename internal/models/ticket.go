package models

import (
	"time"

	"github.com/uptrace/bun"
)

type TicketStatus string

const (
	TicketBooked    TicketStatus = "booked"
	TicketCancelled TicketStatus = "cancelled"
)

type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	PNR                string       `bun:"pnr,pk" json:"pnr"`
	TrainNo            string       `bun:"train_no,notnull" json:"train_no"`
	ClassID            string       `bun:"class_id,notnull" json:"class_id"`
	UserID             string       `bun:"user_id,notnull" json:"user_id"`
	SourceStation      string       `bun:"source_station,notnull" json:"source_station"`
	DestinationStation string       `bun:"destination_station,notnull" json:"destination_station"`
	TravelDate         string       `bun:"travel_date,notnull" json:"travel_date"`
	PassengerCount     int          `bun:"passenger_count,notnull" json:"passenger_count"`
	TotalFare          float64      `bun:"total_fare,notnull" json:"total_fare"`
	Status             TicketStatus `bun:"status,notnull" json:"status"`
	CreatedAt          time.Time    `bun:"created_at,notnull" json:"created_at"`
	CancelledAt        time.Time    `bun:"cancelled_at,nullzero" json:"cancelled_at,omitempty"`

	Passengers []*Passenger `bun:"-" json:"passengers,omitempty"`
}

func (t *Ticket) Key() LedgerKey {
	return LedgerKey{TrainNo: t.TrainNo, ClassID: t.ClassID, TravelDate: t.TravelDate}
}

type Passenger struct {
	bun.BaseModel `bun:"table:passengers"`

	PassengerID     string `bun:"passenger_id,pk" json:"passenger_id"`
	PNR             string `bun:"pnr,notnull" json:"pnr"`
	Name            string `bun:"passenger_name,notnull" json:"name"`
	Age             int    `bun:"age,notnull" json:"age"`
	Gender          string `bun:"gender,notnull" json:"gender"`
	BerthPreference string `bun:"berth_pref" json:"berth_preference,omitempty"`
	BerthID         string `bun:"berth_id,nullzero" json:"berth_id,omitempty"`
	BerthLabel      string `bun:"berth_label,nullzero" json:"berth_label,omitempty"`
}

type Cancellation struct {
	bun.BaseModel `bun:"table:cancellations"`

	CancellationID string    `bun:"cancellation_id,pk" json:"cancellation_id"`
	PNR            string    `bun:"pnr,notnull,unique" json:"pnr"`
	Reason         string    `bun:"reason,notnull" json:"reason"`
	RefundAmount   float64   `bun:"refund_amount,notnull" json:"refund_amount"`
	CancelledBy    string    `bun:"cancelled_by" json:"cancelled_by"`
	CreatedAt      time.Time `bun:"created_at,notnull" json:"created_at"`
}
