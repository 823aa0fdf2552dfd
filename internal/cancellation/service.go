// Package cancellation reverses a booking: the ticket is marked cancelled, its
// seats go back to the ledger and a cancellation record carries the refund.
package cancellation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ms-railway/internal/catalog"
	"ms-railway/internal/idgen"
	"ms-railway/internal/inventory"
	"ms-railway/internal/kafka"
	"ms-railway/internal/logger"
	"ms-railway/internal/models"
	"ms-railway/internal/refund"
	"ms-railway/internal/store"
)

var (
	ErrNotFound         = errors.New("ticket not found")
	ErrAlreadyCancelled = errors.New("ticket already cancelled")
	ErrNotOwner         = errors.New("ticket belongs to another user")
	ErrStorageFailure   = errors.New("storage failure")
)

const defaultReason = "No reason"

type TicketStore interface {
	GetTicket(ctx context.Context, pnr string) (*models.Ticket, error)
	CountPassengers(ctx context.Context, pnr string) (int, error)
	SuccessfulPayment(ctx context.Context, pnr string) (*models.Payment, error)
	CancelTicket(ctx context.Context, c *models.Cancellation) error
	FlagReconciliation(ctx context.Context, r *models.LedgerReconciliation) error
}

type Schedule interface {
	Train(ctx context.Context, trainNo string) (*models.Train, error)
	Departure(ctx context.Context, train *models.Train, station, date string, loc *time.Location) (time.Time, error)
}

type AvailabilityCache interface {
	Invalidate(ctx context.Context, key models.LedgerKey) error
}

type Deps struct {
	Store     TicketStore
	Schedule  Schedule
	Ledger    inventory.Releaser
	IDs       idgen.Generator
	Refund    refund.Policy
	Cache     AvailabilityCache
	Publisher kafka.Publisher
	Log       *logger.Logger
}

type Options struct {
	Retry    inventory.RetryPolicy
	Topic    string
	Location *time.Location
	Now      func() time.Time
}

type Manager struct {
	store     TicketStore
	schedule  Schedule
	ledger    inventory.Releaser
	ids       idgen.Generator
	refund    refund.Policy
	cache     AvailabilityCache
	publisher kafka.Publisher
	log       *logger.Logger

	retry inventory.RetryPolicy
	topic string
	loc   *time.Location
	now   func() time.Time
}

func NewManager(d Deps, opts Options) *Manager {
	m := &Manager{
		store:     d.Store,
		schedule:  d.Schedule,
		ledger:    d.Ledger,
		ids:       d.IDs,
		refund:    d.Refund,
		cache:     d.Cache,
		publisher: d.Publisher,
		log:       d.Log,
		retry:     opts.Retry,
		topic:     opts.Topic,
		loc:       opts.Location,
		now:       opts.Now,
	}
	if m.ids == nil {
		m.ids = idgen.New()
	}
	if m.refund == nil {
		m.refund = refund.Default()
	}
	if m.log == nil {
		m.log = logger.NewNop()
	}
	if m.retry.Attempts == 0 {
		m.retry = inventory.DefaultRetry
	}
	if m.loc == nil {
		m.loc = time.UTC
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Cancel cancels req.PNR on behalf of req.UserID. Admins may cancel any ticket.
//
// The status change and the cancellation record commit together. The seat
// release follows with bounded retries; if it still fails the ticket stays
// cancelled, the seats are flagged for reconciliation and ErrStorageFailure is
// returned alongside the record.
func (m *Manager) Cancel(ctx context.Context, req models.CancelRequest) (*models.Cancellation, error) {
	ticket, err := m.store.GetTicket(ctx, req.PNR)
	if err != nil {
		if errors.Is(err, store.ErrTicketNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: load ticket %s: %v", ErrStorageFailure, req.PNR, err)
	}
	if ticket.UserID != req.UserID && req.Role != models.RoleAdmin {
		m.log.LogSecurity("CANCEL_DENIED", fmt.Sprintf("user %s tried to cancel %s", req.UserID, req.PNR))
		return nil, ErrNotOwner
	}
	if ticket.Status == models.TicketCancelled {
		return nil, ErrAlreadyCancelled
	}

	seats, err := m.store.CountPassengers(ctx, ticket.PNR)
	if err != nil {
		return nil, fmt.Errorf("%w: count passengers: %v", ErrStorageFailure, err)
	}
	if seats == 0 {
		m.log.Warn("CANCELLATION", fmt.Sprintf("%s has no passenger rows, using ticket count %d", ticket.PNR, ticket.PassengerCount))
		seats = ticket.PassengerCount
	}

	paid, err := m.store.SuccessfulPayment(ctx, ticket.PNR)
	if err != nil {
		return nil, fmt.Errorf("%w: load payment: %v", ErrStorageFailure, err)
	}

	now := m.now()
	amount := m.refund(ticket, paid, m.departure(ctx, ticket), now)

	id, err := m.ids.Next(idgen.KindCancellation)
	if err != nil {
		return nil, fmt.Errorf("%w: allocate cancellation id: %v", ErrStorageFailure, err)
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = defaultReason
	}
	record := &models.Cancellation{
		CancellationID: id,
		PNR:            ticket.PNR,
		Reason:         reason,
		RefundAmount:   amount,
		CancelledBy:    req.UserID,
		CreatedAt:      now.UTC(),
	}

	if err := m.store.CancelTicket(ctx, record); err != nil {
		if errors.Is(err, store.ErrAlreadyCancelled) {
			return nil, ErrAlreadyCancelled
		}
		return nil, fmt.Errorf("%w: cancel %s: %v", ErrStorageFailure, ticket.PNR, err)
	}
	m.log.LogCancellation("CANCELLED", ticket.PNR, fmt.Sprintf("refund %.2f, reason %q", amount, reason))

	key := ticket.Key()
	if err := m.release(ctx, key, seats, ticket.PNR); err != nil {
		return record, err
	}

	m.invalidate(ctx, key)
	m.publish(ctx, ticket, record, seats)
	return record, nil
}

// release runs after the cancellation committed, so it must not be abandoned
// when the caller goes away.
func (m *Manager) release(ctx context.Context, key models.LedgerKey, seats int, pnr string) error {
	ctx = context.WithoutCancel(ctx)
	err := inventory.ReleaseWithRetry(ctx, m.ledger, key, seats, m.retry, func(err error, wait time.Duration) {
		m.log.Warn("LEDGER", fmt.Sprintf("Release for %s on %s failed, retrying in %s: %v", pnr, key, wait, err))
	})
	if err == nil {
		m.log.LogLedger("RELEASED", key.String(), fmt.Sprintf("%d seats from %s", seats, pnr))
		return nil
	}

	if errors.Is(err, inventory.ErrConsistencyViolation) {
		m.log.Error("LEDGER", fmt.Sprintf("Consistency violation releasing %d seats for %s on %s: %v", seats, pnr, key, err))
		m.flag(ctx, key, seats, pnr, err)
		return err
	}

	m.log.Error("LEDGER", fmt.Sprintf("Release for %s on %s gave up: %v", pnr, key, err))
	m.flag(ctx, key, seats, pnr, err)
	return fmt.Errorf("%w: release seats for %s: %v", ErrStorageFailure, pnr, err)
}

func (m *Manager) flag(ctx context.Context, key models.LedgerKey, seats int, pnr string, cause error) {
	id, err := m.ids.Next(idgen.KindReconciliation)
	if err == nil {
		err = m.store.FlagReconciliation(ctx, &models.LedgerReconciliation{
			ID:         id,
			TrainNo:    key.TrainNo,
			ClassID:    key.ClassID,
			TravelDate: key.TravelDate,
			Seats:      seats,
			PNR:        pnr,
			Operation:  "cancellation_release",
			Reason:     cause.Error(),
			CreatedAt:  m.now().UTC(),
		})
	}
	if err != nil {
		m.log.Error("LEDGER", fmt.Sprintf("Cannot flag %s for reconciliation: %v", key, err))
		return
	}
	m.log.Error("LEDGER", fmt.Sprintf("Flagged %d seats on %s for operator reconciliation (%s)", seats, key, id))
}

// departure falls back to midnight of the travel date when the schedule cannot
// be read; the refund policy then errs on the side of the smaller refund.
func (m *Manager) departure(ctx context.Context, ticket *models.Ticket) time.Time {
	fallback, _ := time.ParseInLocation(models.DateLayout, ticket.TravelDate, m.loc)
	if m.schedule == nil {
		return fallback
	}
	train, err := m.schedule.Train(ctx, ticket.TrainNo)
	if err != nil {
		m.log.Warn("CANCELLATION", fmt.Sprintf("No train %s for refund timing: %v", ticket.TrainNo, err))
		return fallback
	}
	at, err := m.schedule.Departure(ctx, train, ticket.SourceStation, ticket.TravelDate, m.loc)
	if err != nil {
		m.log.Warn("CANCELLATION", fmt.Sprintf("No departure time for %s: %v", ticket.PNR, err))
		return fallback
	}
	return at
}

func (m *Manager) invalidate(ctx context.Context, key models.LedgerKey) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Invalidate(ctx, key); err != nil {
		m.log.Warn("CANCELLATION", fmt.Sprintf("Availability cache not invalidated for %s: %v", key, err))
	}
}

func (m *Manager) publish(ctx context.Context, ticket *models.Ticket, c *models.Cancellation, seats int) {
	if m.publisher == nil || m.topic == "" {
		return
	}
	event := models.NewReservationEvent(models.EventTicketCancelled, ticket.PNR, ticket.UserID)
	event.TrainNo = ticket.TrainNo
	event.ClassID = ticket.ClassID
	event.TravelDate = ticket.TravelDate
	event.Seats = seats
	event.Amount = c.RefundAmount
	event.CancellationID = c.CancellationID
	if err := m.publisher.Publish(ctx, m.topic, ticket.PNR, event); err != nil {
		m.log.Warn("CANCELLATION", fmt.Sprintf("Kafka publish error (ticket cancelled) for %s: %v", ticket.PNR, err))
	}
}

var _ Schedule = (*catalog.Catalog)(nil)
