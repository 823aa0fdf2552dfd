package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTicketBooked    = "ticket.booked"
	EventTicketCancelled = "ticket.cancelled"
	EventPaymentRecorded = "payment.recorded"
)

// ReservationEvent is published to Kafka after a ticket or payment state change.
type ReservationEvent struct {
	EventID        uuid.UUID     `json:"event_id"`
	Type           string        `json:"type"`
	PNR            string        `json:"pnr"`
	UserID         string        `json:"user_id"`
	TrainNo        string        `json:"train_no,omitempty"`
	ClassID        string        `json:"class_id,omitempty"`
	TravelDate     string        `json:"travel_date,omitempty"`
	Seats          int           `json:"seats,omitempty"`
	Amount         float64       `json:"amount,omitempty"`
	PaymentStatus  PaymentStatus `json:"payment_status,omitempty"`
	CancellationID string        `json:"cancellation_id,omitempty"`
	OccurredAt     time.Time     `json:"occurred_at"`
}

func NewReservationEvent(eventType, pnr, userID string) ReservationEvent {
	return ReservationEvent{
		EventID:    uuid.New(),
		Type:       eventType,
		PNR:        pnr,
		UserID:     userID,
		OccurredAt: time.Now().UTC(),
	}
}

// PaymentResultMessage arrives from the payment collaborator on the results topic.
type PaymentResultMessage struct {
	PNR       string        `json:"pnr"`
	UserID    string        `json:"user_id"`
	Amount    float64       `json:"amount"`
	Mode      string        `json:"mode"`
	Status    PaymentStatus `json:"status"`
	Reference string        `json:"reference"`
}
