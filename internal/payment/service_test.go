package payment_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-railway/internal/kafka"
	"ms-railway/internal/models"
	"ms-railway/internal/payment"
	"ms-railway/internal/store"
	"ms-railway/internal/testutil"
)

type capturePublisher struct {
	topics []string
	events []models.ReservationEvent
}

func (c *capturePublisher) Publish(_ context.Context, topic, _ string, value interface{}) error {
	c.topics = append(c.topics, topic)
	c.events = append(c.events, value.(models.ReservationEvent))
	return nil
}

func setup(t *testing.T) (*payment.Service, *store.DB, *capturePublisher) {
	db := testutil.NewDB(t)
	testutil.Seed(t, db, testutil.Network{Capacity2A: 5}, "2024-05-01")
	st := store.New(db)

	ticket := &models.Ticket{
		PNR:                "PNR1",
		TrainNo:            "T001",
		ClassID:            "2A",
		UserID:             "user-1",
		SourceStation:      "NDLS",
		DestinationStation: "BPL",
		TravelDate:         "2024-05-01",
		PassengerCount:     1,
		TotalFare:          1575,
		Status:             models.TicketBooked,
		CreatedAt:          time.Now().UTC(),
	}
	passengers := []*models.Passenger{{PassengerID: "PSG1", PNR: "PNR1", Name: "Asha", Age: 31, Gender: "F"}}
	require.NoError(t, st.CreateTicket(context.Background(), ticket, passengers))

	pub := &capturePublisher{}
	return payment.NewService(st, nil, pub, "railway.payment.recorded", nil), st, pub
}

func TestRecord(t *testing.T) {
	svc, _, pub := setup(t)

	p, err := svc.Record(context.Background(), models.RecordPaymentRequest{
		PNR: "PNR1", UserID: "user-1", Amount: 1575, Mode: "UPI",
	})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentSuccess, p.Status)
	assert.Equal(t, "upi", p.Mode)
	assert.Contains(t, p.PaymentID, "PAY")

	require.Len(t, pub.events, 1)
	assert.Equal(t, "railway.payment.recorded", pub.topics[0])
	assert.Equal(t, models.EventPaymentRecorded, pub.events[0].Type)
	assert.Equal(t, models.PaymentSuccess, pub.events[0].PaymentStatus)
}

func TestRecord_SecondSuccessRejected(t *testing.T) {
	svc, st, _ := setup(t)
	ctx := context.Background()
	req := models.RecordPaymentRequest{PNR: "PNR1", UserID: "user-1", Amount: 1575, Mode: "card"}

	_, err := svc.Record(ctx, req)
	require.NoError(t, err)

	_, err = svc.Record(ctx, req)
	assert.ErrorIs(t, err, payment.ErrAlreadyPaid)

	// Failed attempts are history, not a second payment.
	req.Status = models.PaymentFailed
	_, err = svc.Record(ctx, req)
	require.NoError(t, err)

	all, err := st.PaymentsByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestRecord_Validation(t *testing.T) {
	svc, _, pub := setup(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  models.RecordPaymentRequest
		want error
	}{
		{"zero amount", models.RecordPaymentRequest{PNR: "PNR1", UserID: "user-1", Mode: "upi"}, payment.ErrInvalidPayment},
		{"unknown mode", models.RecordPaymentRequest{PNR: "PNR1", UserID: "user-1", Amount: 10, Mode: "cheque"}, payment.ErrInvalidPayment},
		{"unknown status", models.RecordPaymentRequest{PNR: "PNR1", UserID: "user-1", Amount: 10, Mode: "upi", Status: "refunded"}, payment.ErrInvalidPayment},
		{"unknown ticket", models.RecordPaymentRequest{PNR: "PNR9", UserID: "user-1", Amount: 10, Mode: "upi"}, payment.ErrTicketNotFound},
		{"other user", models.RecordPaymentRequest{PNR: "PNR1", UserID: "user-2", Amount: 10, Mode: "upi"}, payment.ErrNotOwner},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Record(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Empty(t, pub.events)
}

func TestRecord_AdminAttributesToOwner(t *testing.T) {
	svc, _, _ := setup(t)

	p, err := svc.Record(context.Background(), models.RecordPaymentRequest{
		PNR: "PNR1", UserID: "ops", Role: models.RoleAdmin, Amount: 1575, Mode: "cash",
	})
	require.NoError(t, err)
	assert.Equal(t, "user-1", p.UserID)
}

func TestHandleResult_FromTopic(t *testing.T) {
	svc, st, _ := setup(t)
	ctx := context.Background()
	handler := kafka.JSONHandler(svc.HandleResult)

	body, err := json.Marshal(models.PaymentResultMessage{
		PNR: "PNR1", Amount: 1575, Mode: "netbanking", Status: models.PaymentSuccess, Reference: "gw-77",
	})
	require.NoError(t, err)
	msg := kafkago.Message{Topic: "railway.payment.results", Value: body}

	require.NoError(t, handler(ctx, msg))
	// Redelivery is absorbed.
	require.NoError(t, handler(ctx, msg))

	paid, err := st.SuccessfulPayment(ctx, "PNR1")
	require.NoError(t, err)
	require.NotNil(t, paid)
	assert.Equal(t, "gw-77", paid.Reference)

	assert.Error(t, handler(ctx, kafkago.Message{Value: []byte("{")}))
}
