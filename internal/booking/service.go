// Package booking turns a booking request into a ticket: validate, reserve seats
// on the ledger, price, persist, and undo the reservation if persisting fails.
package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-railway/internal/catalog"
	"ms-railway/internal/fare"
	"ms-railway/internal/idgen"
	"ms-railway/internal/inventory"
	"ms-railway/internal/kafka"
	"ms-railway/internal/logger"
	"ms-railway/internal/models"
)

type Catalog interface {
	Train(ctx context.Context, trainNo string) (*models.Train, error)
	Class(ctx context.Context, trainNo, classID string) (*models.ScheduleClass, error)
	Schedule(ctx context.Context, trainNo string) (*models.Schedule, error)
	Leg(ctx context.Context, routeID, source, destination string) (*catalog.Leg, error)
}

type Ledger interface {
	Reserve(ctx context.Context, key models.LedgerKey, count int) error
	Release(ctx context.Context, key models.LedgerKey, count int) error
}

type TicketStore interface {
	CreateTicket(ctx context.Context, ticket *models.Ticket, passengers []*models.Passenger) error
	AssignBerths(ctx context.Context, pnr string, key models.LedgerKey, passengers []*models.Passenger) (int, error)
	FlagReconciliation(ctx context.Context, r *models.LedgerReconciliation) error
}

type AvailabilityCache interface {
	Invalidate(ctx context.Context, key models.LedgerKey) error
}

// Deps are the collaborators of the manager. Cache and Publisher may be nil.
type Deps struct {
	Catalog   Catalog
	Ledger    Ledger
	Store     TicketStore
	IDs       idgen.Generator
	Fare      fare.Func
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
	catalog   Catalog
	ledger    Ledger
	store     TicketStore
	ids       idgen.Generator
	fare      fare.Func
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
		catalog:   d.Catalog,
		ledger:    d.Ledger,
		store:     d.Store,
		ids:       d.IDs,
		fare:      d.Fare,
		cache:     d.Cache,
		publisher: d.Publisher,
		log:       d.Log,
		retry:     opts.Retry,
		topic:     opts.Topic,
		loc:       opts.Location,
		now:       opts.Now,
	}
	if m.fare == nil {
		m.fare = fare.Default()
	}
	if m.ids == nil {
		m.ids = idgen.New()
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

// Book reserves seats and issues a ticket. On any error after the reservation
// the seats are handed back before returning.
func (m *Manager) Book(ctx context.Context, req models.BookingRequest) (*models.Ticket, error) {
	req.Passengers = append([]models.PassengerInfo(nil), req.Passengers...)

	p, err := m.validate(ctx, &req)
	if err != nil {
		m.log.Warn("BOOKING", fmt.Sprintf("Rejected request from %s for %s/%s: %v", req.UserID, req.TrainNo, req.ClassID, err))
		return nil, err
	}

	seats := len(req.Passengers)
	if err := m.ledger.Reserve(ctx, p.key, seats); err != nil {
		switch {
		case errors.Is(err, inventory.ErrInsufficientSeats):
			m.log.LogBooking("NO_SEATS", p.key.String(), fmt.Sprintf("%d requested", seats))
			return nil, newError(ReasonNoSeats, fmt.Sprintf("fewer than %d seats left", seats), err)
		case errors.Is(err, inventory.ErrUnknownClass):
			return nil, newError(ReasonInvalidSchedule, "class has no capacity", err)
		default:
			m.log.Error("BOOKING", fmt.Sprintf("Reserve failed on %s: %v", p.key, err))
			return nil, newError(ReasonStorageFailure, "could not reserve seats", err)
		}
	}
	m.log.LogLedger("RESERVED", p.key.String(), fmt.Sprintf("%d seats", seats))

	ticket, err := m.issue(ctx, req, p)
	if err != nil {
		m.compensate(ctx, p.key, seats, ticket, err)
		return nil, newError(ReasonStorageFailure, "could not record ticket", err)
	}

	m.assignBerths(ctx, p.key, ticket)
	m.invalidate(ctx, p.key)
	m.publish(ctx, ticket)

	m.log.LogBooking("CREATED", ticket.PNR, fmt.Sprintf("%d passengers on %s, fare %.2f", seats, p.key, ticket.TotalFare))
	return ticket, nil
}

// issue prices the journey and writes the ticket with its passengers. The
// returned ticket is non-nil whenever a PNR was allocated, even on error.
func (m *Manager) issue(ctx context.Context, req models.BookingRequest, p *plan) (*models.Ticket, error) {
	total := fare.Total(m.fare, p.train.BaseFareMultiplier, p.class.Multiplier, p.leg.Segment, len(req.Passengers))

	pnr, err := m.ids.Next(idgen.KindPNR)
	if err != nil {
		return nil, fmt.Errorf("allocate pnr: %w", err)
	}

	ticket := &models.Ticket{
		PNR:                pnr,
		TrainNo:            p.key.TrainNo,
		ClassID:            p.key.ClassID,
		UserID:             req.UserID,
		SourceStation:      req.Source,
		DestinationStation: req.Destination,
		TravelDate:         p.key.TravelDate,
		PassengerCount:     len(req.Passengers),
		TotalFare:          total,
		Status:             models.TicketBooked,
		CreatedAt:          m.now().UTC(),
	}

	passengers := make([]*models.Passenger, 0, len(req.Passengers))
	for _, info := range req.Passengers {
		id, err := m.ids.Next(idgen.KindPassenger)
		if err != nil {
			return ticket, fmt.Errorf("allocate passenger id: %w", err)
		}
		passengers = append(passengers, &models.Passenger{
			PassengerID:     id,
			PNR:             pnr,
			Name:            info.Name,
			Age:             info.Age,
			Gender:          info.Gender,
			BerthPreference: info.BerthPreference,
		})
	}

	if err := m.store.CreateTicket(ctx, ticket, passengers); err != nil {
		return ticket, fmt.Errorf("persist ticket %s: %w", pnr, err)
	}
	ticket.Passengers = passengers
	return ticket, nil
}

// compensate gives back the seats of a booking that failed after Reserve. It
// outlives the request context so a client disconnect cannot strand seats.
func (m *Manager) compensate(ctx context.Context, key models.LedgerKey, seats int, ticket *models.Ticket, cause error) {
	ctx = context.WithoutCancel(ctx)
	pnr := ""
	if ticket != nil {
		pnr = ticket.PNR
	}
	m.log.Warn("BOOKING", fmt.Sprintf("Persist failed for %s (%v); releasing %d seats on %s", pnr, cause, seats, key))

	err := inventory.ReleaseWithRetry(ctx, m.ledger, key, seats, m.retry, func(err error, wait time.Duration) {
		m.log.Warn("LEDGER", fmt.Sprintf("Compensating release on %s failed, retrying in %s: %v", key, wait, err))
	})
	if err == nil {
		m.log.LogLedger("COMPENSATED", key.String(), fmt.Sprintf("%d seats", seats))
		return
	}

	m.log.Error("LEDGER", fmt.Sprintf("Compensating release on %s gave up: %v", key, err))
	m.flag(ctx, key, seats, pnr, "booking_compensation", err)
}

func (m *Manager) flag(ctx context.Context, key models.LedgerKey, seats int, pnr, op string, cause error) {
	id, err := m.ids.Next(idgen.KindReconciliation)
	if err != nil {
		m.log.Error("LEDGER", fmt.Sprintf("Cannot flag %s for reconciliation: %v", key, err))
		return
	}
	r := &models.LedgerReconciliation{
		ID:         id,
		TrainNo:    key.TrainNo,
		ClassID:    key.ClassID,
		TravelDate: key.TravelDate,
		Seats:      seats,
		PNR:        pnr,
		Operation:  op,
		Reason:     cause.Error(),
		CreatedAt:  m.now().UTC(),
	}
	if err := m.store.FlagReconciliation(ctx, r); err != nil {
		m.log.Error("LEDGER", fmt.Sprintf("Cannot flag %s for reconciliation: %v", key, err))
		return
	}
	m.log.Error("LEDGER", fmt.Sprintf("Flagged %d seats on %s for operator reconciliation (%s)", seats, key, id))
}

func (m *Manager) assignBerths(ctx context.Context, key models.LedgerKey, ticket *models.Ticket) {
	n, err := m.store.AssignBerths(ctx, ticket.PNR, key, ticket.Passengers)
	if err != nil {
		m.log.Warn("BOOKING", fmt.Sprintf("Berth assignment skipped for %s: %v", ticket.PNR, err))
		return
	}
	if n < len(ticket.Passengers) {
		m.log.Debug("BOOKING", fmt.Sprintf("%s: %d of %d passengers have a berth", ticket.PNR, n, len(ticket.Passengers)))
	}
}

func (m *Manager) invalidate(ctx context.Context, key models.LedgerKey) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Invalidate(ctx, key); err != nil {
		m.log.Warn("BOOKING", fmt.Sprintf("Availability cache not invalidated for %s: %v", key, err))
	}
}

func (m *Manager) publish(ctx context.Context, ticket *models.Ticket) {
	if m.publisher == nil || m.topic == "" {
		return
	}
	event := models.NewReservationEvent(models.EventTicketBooked, ticket.PNR, ticket.UserID)
	event.TrainNo = ticket.TrainNo
	event.ClassID = ticket.ClassID
	event.TravelDate = ticket.TravelDate
	event.Seats = ticket.PassengerCount
	event.Amount = ticket.TotalFare
	if err := m.publisher.Publish(ctx, m.topic, ticket.PNR, event); err != nil {
		m.log.Warn("BOOKING", fmt.Sprintf("Kafka publish error (ticket booked) for %s: %v", ticket.PNR, err))
	}
}
