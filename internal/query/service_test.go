package query_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"ms-railway/internal/catalog"
	"ms-railway/internal/inventory"
	"ms-railway/internal/inventory/cache"
	"ms-railway/internal/models"
	"ms-railway/internal/query"
	"ms-railway/internal/store"
	"ms-railway/internal/testutil"
)

// 2024-05-01 is a Wednesday.
const travelDate = "2024-05-01"

var (
	key2A   = models.LedgerKey{TrainNo: "T001", ClassID: "2A", TravelDate: travelDate}
	fastTry = inventory.RetryPolicy{Attempts: 2, Initial: time.Millisecond}
)

type env struct {
	db     *bun.DB
	store  *store.DB
	ledger *inventory.Ledger
	svc    *query.Service
}

func setup(t *testing.T, c query.AvailabilityCache) *env {
	db := testutil.NewDB(t)
	testutil.Seed(t, db, testutil.Network{Capacity2A: 5}, travelDate)

	e := &env{db: db, store: store.New(db), ledger: inventory.NewLedger(db)}
	e.svc = query.NewService(query.Deps{
		Catalog: catalog.New(db),
		Ledger:  e.ledger,
		Store:   e.store,
		Cache:   c,
	}, fastTry)
	return e
}

func newRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func TestSearch(t *testing.T) {
	e := setup(t, nil)
	ctx := context.Background()

	options, err := e.svc.Search(ctx, "ndls", "BPL", travelDate)
	require.NoError(t, err)
	require.Len(t, options, 1)

	opt := options[0]
	assert.Equal(t, "T001", opt.TrainNo)
	assert.Equal(t, "16:30", opt.DepartureTime)
	assert.Equal(t, "23:40", opt.ArrivalTime)
	assert.Equal(t, 0, opt.ArrivalDay)
	assert.Equal(t, 700.0, opt.DistanceKm)

	require.Len(t, opt.Classes, 2)
	assert.Equal(t, "2A", opt.Classes[0].ClassID)
	assert.Equal(t, 5, opt.Classes[0].AvailableSeats)
	assert.Equal(t, 1575.0, opt.Classes[0].FarePerSeat)
	assert.Equal(t, "3A", opt.Classes[1].ClassID)
	assert.Equal(t, 20, opt.Classes[1].AvailableSeats)
	assert.Equal(t, 1181.25, opt.Classes[1].FarePerSeat)
}

func TestSearch_OvernightArrival(t *testing.T) {
	e := setup(t, nil)

	options, err := e.svc.Search(context.Background(), "AGC", "MMCT", travelDate)
	require.NoError(t, err)
	require.Len(t, options, 1)
	assert.Equal(t, "19:10", options[0].DepartureTime)
	assert.Equal(t, 0, options[0].DepartureDay)
	assert.Equal(t, "08:35", options[0].ArrivalTime)
	assert.Equal(t, 1, options[0].ArrivalDay)
	assert.Equal(t, travelDate, options[0].TravelDate)
}

func TestSearch_DirectionAndRunningDays(t *testing.T) {
	e := setup(t, nil)
	ctx := context.Background()

	options, err := e.svc.Search(ctx, "BPL", "NDLS", travelDate)
	require.NoError(t, err)
	require.Len(t, options, 1)
	assert.Equal(t, "T002", options[0].TrainNo)

	// Thursday: T002 does not run and T001 goes the other way.
	options, err = e.svc.Search(ctx, "BPL", "NDLS", "2024-05-02")
	require.NoError(t, err)
	assert.Empty(t, options)

	_, err = e.svc.Search(ctx, "BPL", "NDLS", "tomorrow")
	assert.ErrorIs(t, err, query.ErrInvalidDate)
}

func TestAvailability(t *testing.T) {
	e := setup(t, nil)
	ctx := context.Background()

	got, err := e.svc.Availability(ctx, "T001", "2A", travelDate)
	require.NoError(t, err)
	assert.Equal(t, 5, got.AvailableSeats)

	require.NoError(t, e.ledger.Reserve(ctx, key2A, 2))
	got, err = e.svc.Availability(ctx, "T001", "2A", travelDate)
	require.NoError(t, err)
	assert.Equal(t, 3, got.AvailableSeats)

	_, err = e.svc.Availability(ctx, "T001", "1A", travelDate)
	assert.ErrorIs(t, err, query.ErrNotFound)
}

func TestAvailability_Cached(t *testing.T) {
	client, _ := newRedis(t)
	c := cache.New(client, time.Minute)
	e := setup(t, c)
	ctx := context.Background()

	got, err := e.svc.Availability(ctx, "T001", "2A", travelDate)
	require.NoError(t, err)
	assert.Equal(t, 5, got.AvailableSeats)

	// A write that skips invalidation is not seen until the entry goes.
	require.NoError(t, e.ledger.Reserve(ctx, key2A, 1))
	got, err = e.svc.Availability(ctx, "T001", "2A", travelDate)
	require.NoError(t, err)
	assert.Equal(t, 5, got.AvailableSeats)

	require.NoError(t, c.Invalidate(ctx, key2A))
	got, err = e.svc.Availability(ctx, "T001", "2A", travelDate)
	require.NoError(t, err)
	assert.Equal(t, 4, got.AvailableSeats)
}

func TestAvailability_CacheDownFallsBackToLedger(t *testing.T) {
	client, mr := newRedis(t)
	e := setup(t, cache.New(client, time.Minute))
	mr.Close()

	got, err := e.svc.Availability(context.Background(), "T001", "2A", travelDate)
	require.NoError(t, err)
	assert.Equal(t, 5, got.AvailableSeats)
}

func TestTicket_DetailsAndOwnership(t *testing.T) {
	e := setup(t, nil)
	ctx := context.Background()

	ticket := &models.Ticket{
		PNR: "PNR1", TrainNo: "T001", ClassID: "2A", UserID: "user-1",
		SourceStation: "NDLS", DestinationStation: "BPL", TravelDate: travelDate,
		PassengerCount: 1, TotalFare: 1575, Status: models.TicketBooked, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, e.store.CreateTicket(ctx, ticket, []*models.Passenger{
		{PassengerID: "PSG1", PNR: "PNR1", Name: "Ravi", Age: 52, Gender: "M"},
	}))
	require.NoError(t, e.store.CreatePayment(ctx, &models.Payment{
		PaymentID: "PAY1", PNR: "PNR1", UserID: "user-1", Amount: 1575, Mode: "card",
		Status: models.PaymentSuccess, CreatedAt: time.Now().UTC(),
	}))

	details, err := e.svc.Ticket(ctx, "PNR1", "user-1", models.RolePassenger)
	require.NoError(t, err)
	assert.Len(t, details.Ticket.Passengers, 1)
	require.NotNil(t, details.Payment)
	assert.Equal(t, "PAY1", details.Payment.PaymentID)
	assert.Nil(t, details.Cancellation)

	_, err = e.svc.Ticket(ctx, "PNR1", "user-2", models.RolePassenger)
	assert.ErrorIs(t, err, query.ErrNotOwner)

	_, err = e.svc.Ticket(ctx, "PNR1", "ops", models.RoleAdmin)
	assert.NoError(t, err)

	_, err = e.svc.Ticket(ctx, "PNR404", "user-1", models.RolePassenger)
	assert.ErrorIs(t, err, query.ErrNotFound)

	tickets, err := e.svc.TicketsForUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, tickets, 1)

	payments, err := e.svc.PaymentsForUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, payments, 1)
}
