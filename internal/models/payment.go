package models

import (
	"time"

	"github.com/uptrace/bun"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentSuccess PaymentStatus = "success"
	PaymentFailed  PaymentStatus = "failed"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentSuccess, PaymentFailed:
		return true
	}
	return false
}

var PaymentModes = []string{"card", "upi", "netbanking", "wallet", "cash"}

type Payment struct {
	bun.BaseModel `bun:"table:payments"`

	PaymentID string        `bun:"payment_id,pk" json:"payment_id"`
	PNR       string        `bun:"pnr,notnull" json:"pnr"`
	UserID    string        `bun:"user_id,notnull" json:"user_id"`
	Amount    float64       `bun:"amount,notnull" json:"amount"`
	Mode      string        `bun:"mode,notnull" json:"mode"`
	Status    PaymentStatus `bun:"status,notnull" json:"status"`
	Reference string        `bun:"reference" json:"reference,omitempty"`
	CreatedAt time.Time     `bun:"created_at,notnull" json:"created_at"`
}
