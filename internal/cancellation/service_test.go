package cancellation_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"ms-railway/internal/booking"
	"ms-railway/internal/cancellation"
	"ms-railway/internal/catalog"
	"ms-railway/internal/inventory"
	"ms-railway/internal/logger"
	"ms-railway/internal/models"
	"ms-railway/internal/store"
	"ms-railway/internal/testutil"
)

const travelDate = "2024-05-01"

var (
	key2A   = models.LedgerKey{TrainNo: "T001", ClassID: "2A", TravelDate: travelDate}
	clock   = func() time.Time { return time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC) }
	fastTry = inventory.RetryPolicy{Attempts: 3, Initial: time.Millisecond}
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.ReservationEvent
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, _ string, value interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ev, ok := value.(models.ReservationEvent); ok {
		p.events = append(p.events, ev)
	}
	return nil
}

type env struct {
	db      *bun.DB
	store   *store.DB
	ledger  *inventory.Ledger
	booking *booking.Manager
	cancel  *cancellation.Manager
	pub     *recordingPublisher
	logs    *bytes.Buffer
}

func setup(t *testing.T, capacity int, berths ...string) *env {
	db := testutil.NewDB(t)
	testutil.Seed(t, db, testutil.Network{Capacity2A: capacity, Berths2A: berths}, travelDate)

	e := &env{
		db:     db,
		store:  store.New(db),
		ledger: inventory.NewLedger(db),
		pub:    &recordingPublisher{},
		logs:   &bytes.Buffer{},
	}
	e.booking = booking.NewManager(booking.Deps{
		Catalog: catalog.New(db),
		Ledger:  e.ledger,
		Store:   e.store,
		Log:     logger.NewNop(),
	}, booking.Options{Retry: fastTry, Now: clock})
	e.cancel = e.newManager(e.ledger)
	return e
}

func (e *env) newManager(l inventory.Releaser) *cancellation.Manager {
	return cancellation.NewManager(cancellation.Deps{
		Store:     e.store,
		Schedule:  catalog.New(e.db),
		Ledger:    l,
		Publisher: e.pub,
		Log:       logger.NewWithWriter(e.logs),
	}, cancellation.Options{Retry: fastTry, Topic: "railway.ticket.cancelled", Now: clock})
}

func (e *env) book(t *testing.T, user string, n int) *models.Ticket {
	t.Helper()
	ps := make([]models.PassengerInfo, n)
	for i := range ps {
		ps[i] = models.PassengerInfo{Name: "Passenger", Age: 40, Gender: "M"}
	}
	ticket, err := e.booking.Book(context.Background(), models.BookingRequest{
		UserID:      user,
		TrainNo:     "T001",
		ClassID:     "2A",
		TravelDate:  travelDate,
		Source:      "NDLS",
		Destination: "BPL",
		Passengers:  ps,
	})
	require.NoError(t, err)
	return ticket
}

func (e *env) pay(t *testing.T, ticket *models.Ticket) {
	t.Helper()
	require.NoError(t, e.store.CreatePayment(context.Background(), &models.Payment{
		PaymentID: "PAY-" + ticket.PNR,
		PNR:       ticket.PNR,
		UserID:    ticket.UserID,
		Amount:    ticket.TotalFare,
		Mode:      "upi",
		Status:    models.PaymentSuccess,
		CreatedAt: clock(),
	}))
}

func TestCancel_RestoresSeats(t *testing.T) {
	e := setup(t, 5)
	ctx := context.Background()

	ticket := e.book(t, "user-1", 3)
	require.Equal(t, 2, testutil.Available(t, e.db, key2A))

	c, err := e.cancel.Cancel(ctx, models.CancelRequest{PNR: ticket.PNR, UserID: "user-1", Reason: "plans changed"})
	require.NoError(t, err)

	assert.Equal(t, 5, testutil.Available(t, e.db, key2A))
	assert.Equal(t, ticket.PNR, c.PNR)
	assert.Equal(t, "plans changed", c.Reason)
	assert.Equal(t, 0.0, c.RefundAmount)

	stored, err := e.store.GetTicket(ctx, ticket.PNR)
	require.NoError(t, err)
	assert.Equal(t, models.TicketCancelled, stored.Status)
	assert.False(t, stored.CancelledAt.IsZero())

	saved, err := e.store.GetCancellation(ctx, ticket.PNR)
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, c.CancellationID, saved.CancellationID)

	require.Len(t, e.pub.events, 1)
	assert.Equal(t, models.EventTicketCancelled, e.pub.events[0].Type)
	assert.Equal(t, 3, e.pub.events[0].Seats)
}

func TestCancel_RefundsPaidTicket(t *testing.T) {
	e := setup(t, 5)

	ticket := e.book(t, "user-1", 3)
	e.pay(t, ticket)

	c, err := e.cancel.Cancel(context.Background(), models.CancelRequest{PNR: ticket.PNR, UserID: "user-1"})
	require.NoError(t, err)

	// A month before departure: 90% of 4725.
	assert.Equal(t, 4252.5, c.RefundAmount)
	assert.Equal(t, "No reason", c.Reason)
}

func TestCancel_Twice(t *testing.T) {
	e := setup(t, 5)
	ctx := context.Background()

	ticket := e.book(t, "user-1", 3)
	req := models.CancelRequest{PNR: ticket.PNR, UserID: "user-1"}

	_, err := e.cancel.Cancel(ctx, req)
	require.NoError(t, err)

	_, err = e.cancel.Cancel(ctx, req)
	assert.ErrorIs(t, err, cancellation.ErrAlreadyCancelled)
	assert.Equal(t, 5, testutil.Available(t, e.db, key2A))
}

func TestCancel_ConcurrentReleasesOnce(t *testing.T) {
	e := setup(t, 5)
	ctx := context.Background()

	ticket := e.book(t, "user-1", 2)
	other := e.book(t, "user-2", 1)
	require.Equal(t, 2, testutil.Available(t, e.db, key2A))

	const callers = 6
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.cancel.Cancel(ctx, models.CancelRequest{PNR: ticket.PNR, UserID: "user-1"})
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, cancellation.ErrAlreadyCancelled)
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 4, testutil.Available(t, e.db, key2A))

	stored, err := e.store.GetTicket(ctx, other.PNR)
	require.NoError(t, err)
	assert.Equal(t, models.TicketBooked, stored.Status)
}

func TestCancel_Ownership(t *testing.T) {
	e := setup(t, 5)
	ctx := context.Background()
	ticket := e.book(t, "user-1", 1)

	_, err := e.cancel.Cancel(ctx, models.CancelRequest{PNR: ticket.PNR, UserID: "user-2", Role: models.RolePassenger})
	assert.ErrorIs(t, err, cancellation.ErrNotOwner)
	assert.Equal(t, 4, testutil.Available(t, e.db, key2A))

	c, err := e.cancel.Cancel(ctx, models.CancelRequest{PNR: ticket.PNR, UserID: "ops", Role: models.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, "ops", c.CancelledBy)
	assert.Equal(t, 5, testutil.Available(t, e.db, key2A))
}

func TestCancel_NotFound(t *testing.T) {
	e := setup(t, 5)

	_, err := e.cancel.Cancel(context.Background(), models.CancelRequest{PNR: "PNRMISSING", UserID: "user-1"})
	assert.ErrorIs(t, err, cancellation.ErrNotFound)
}

func TestCancel_FreesBerths(t *testing.T) {
	e := setup(t, 5, "A1-01-LB", "A1-02-UB")
	ctx := context.Background()

	ticket := e.book(t, "user-1", 2)
	_, err := e.cancel.Cancel(ctx, models.CancelRequest{PNR: ticket.PNR, UserID: "user-1"})
	require.NoError(t, err)

	booked, err := e.db.NewSelect().
		Model((*models.Berth)(nil)).
		Where("status = ?", models.BerthBooked).
		Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, booked)
}

type mockReleaser struct {
	mock.Mock
}

func (m *mockReleaser) Release(ctx context.Context, key models.LedgerKey, count int) error {
	return m.Called(key, count).Error(0)
}

func TestCancel_ReleaseExhaustedIsFlagged(t *testing.T) {
	e := setup(t, 5)
	ctx := context.Background()
	ticket := e.book(t, "user-1", 2)

	releaser := new(mockReleaser)
	releaser.On("Release", key2A, 2).Return(errors.New("connection reset"))

	c, err := e.newManager(releaser).Cancel(ctx, models.CancelRequest{PNR: ticket.PNR, UserID: "user-1"})
	assert.ErrorIs(t, err, cancellation.ErrStorageFailure)
	require.NotNil(t, c)
	releaser.AssertNumberOfCalls(t, "Release", 3)

	stored, err := e.store.GetTicket(ctx, ticket.PNR)
	require.NoError(t, err)
	assert.Equal(t, models.TicketCancelled, stored.Status)

	open, err := e.store.OpenReconciliations(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "cancellation_release", open[0].Operation)
	assert.Equal(t, ticket.PNR, open[0].PNR)
	assert.Contains(t, e.logs.String(), "operator reconciliation")
	assert.Empty(t, e.pub.events)
}

func TestCancel_ConsistencyViolationIsNotRetried(t *testing.T) {
	e := setup(t, 5)
	ctx := context.Background()
	ticket := e.book(t, "user-1", 2)

	// Someone already put the seats back.
	_, err := e.db.NewUpdate().
		Model((*models.SeatAvailability)(nil)).
		Set("available_seats = total_seats").
		Where("train_no = ?", key2A.TrainNo).
		Where("class_id = ?", key2A.ClassID).
		Where("travel_date = ?", key2A.TravelDate).
		Exec(ctx)
	require.NoError(t, err)

	_, err = e.cancel.Cancel(ctx, models.CancelRequest{PNR: ticket.PNR, UserID: "user-1"})
	assert.ErrorIs(t, err, inventory.ErrConsistencyViolation)
	assert.Equal(t, 5, testutil.Available(t, e.db, key2A))

	open, err := e.store.OpenReconciliations(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 1)
}
